package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sketchsync/pkg/models"
)

// ItemStatusChangedHandler mirrors a single review item whose approval
// status changed. The payload's new_status wins over the item's own
// approval state, which can lag behind the webhook.
type ItemStatusChangedHandler struct {
	review ReviewAPI
	engine *Engine
}

// NewItemStatusChangedHandler creates the handler.
func NewItemStatusChangedHandler(review ReviewAPI, engine *Engine) *ItemStatusChangedHandler {
	return &ItemStatusChangedHandler{review: review, engine: engine}
}

// Topic returns the event topic this handler consumes.
func (h *ItemStatusChangedHandler) Topic() string {
	return models.TopicItemApprovalStatusChange
}

// Process fetches the changed item and syncs it with the payload status.
func (h *ItemStatusChangedHandler) Process(ctx context.Context, payload json.RawMessage) error {
	var event models.ItemStatusChangedPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("failed to parse item_approval_status_changed payload: %w", err)
	}

	reviewID := event.Review.ID.String()
	itemID := event.ItemID.String()

	log.Info().
		Str("item", itemID).
		Str("status", event.NewStatus).
		Msg("Processing review item approval change")

	review, err := h.review.GetReviewByID(ctx, reviewID)
	if err != nil {
		return fmt.Errorf("failed to fetch review %s: %w", reviewID, err)
	}
	reviewLink := NormalizeReviewLink(review.ReviewURL)

	item, err := h.review.GetReviewItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("failed to fetch review item %s: %w", itemID, err)
	}

	items := []models.ReviewMediaItem{*item}
	return h.engine.SyncItems(ctx, event.Project.Name, reviewID, reviewLink, items, event.NewStatus)
}
