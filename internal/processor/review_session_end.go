package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sketchsync/pkg/models"
)

// ReviewSessionEndHandler mirrors a whole review into ftrack when the
// session closes: every media item in the review is resolved and synced,
// and each item's status comes from its own approval state.
type ReviewSessionEndHandler struct {
	review ReviewAPI
	engine *Engine
}

// NewReviewSessionEndHandler creates the handler.
func NewReviewSessionEndHandler(review ReviewAPI, engine *Engine) *ReviewSessionEndHandler {
	return &ReviewSessionEndHandler{review: review, engine: engine}
}

// Topic returns the event topic this handler consumes.
func (h *ReviewSessionEndHandler) Topic() string {
	return models.TopicReviewSessionEnd
}

// Process fetches the review's media items and syncs all of them.
func (h *ReviewSessionEndHandler) Process(ctx context.Context, payload json.RawMessage) error {
	var event models.ReviewSessionEndPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("failed to parse review_session_end payload: %w", err)
	}

	reviewID := event.Review.ID.String()
	reviewLink := NormalizeReviewLink(event.Review.Link)

	log.Info().Str("review", reviewID).Msg("Processing closed review session")

	items, err := h.review.GetMediaByReviewID(ctx, reviewID)
	if err != nil {
		return fmt.Errorf("failed to fetch media for review %s: %w", reviewID, err)
	}

	return h.engine.SyncItems(ctx, event.Project.Name, reviewID, reviewLink, items, "")
}
