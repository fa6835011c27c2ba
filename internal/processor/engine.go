package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sketchsync/internal/ftrack"
	"github.com/sketchsync/pkg/models"
)

// Engine mirrors the notes and approval status of a batch of review media
// items into ftrack. Handlers collect the items for their event shape and
// hand them here; the engine owns identity resolution, extraction, status
// mapping, dedup and the per-entity write.
type Engine struct {
	tracking TrackingAPI

	resolver  *Resolver
	extractor *Extractor
	statuses  *StatusMapper
	writer    *Writer

	notesToTask bool
}

// NewEngine wires the sync pipeline over the three remote APIs.
func NewEngine(
	review ReviewAPI,
	pipeline PipelineAPI,
	tracking TrackingAPI,
	mapping []models.StatusMappingEntry,
	notesToTask bool,
) *Engine {
	return &Engine{
		tracking:    tracking,
		resolver:    NewResolver(pipeline, tracking),
		extractor:   NewExtractor(review),
		statuses:    NewStatusMapper(tracking, mapping),
		writer:      NewWriter(tracking, review),
		notesToTask: notesToTask,
	}
}

// StatusMapper exposes the engine's status mapper. Tests use it to drop
// the cached vocabulary between cases.
func (e *Engine) StatusMapper() *StatusMapper {
	return e.statuses
}

// SyncItems resolves each item to its ftrack entity and mirrors its notes
// and status. statusOverride, when non-empty, replaces the item's own
// approval status; approval-change events carry the new status in the
// payload while the item record may lag behind.
//
// Items that cannot be resolved are skipped with a log entry. An item that
// resolves but fails to write marks the whole batch failed, after the
// remaining items have been attempted.
func (e *Engine) SyncItems(
	ctx context.Context,
	projectName, reviewID, reviewLink string,
	items []models.ReviewMediaItem,
	statusOverride string,
) error {
	project, err := e.tracking.GetProjectByName(ctx, projectName)
	if err != nil {
		return fmt.Errorf("failed to look up project %q: %w", projectName, err)
	}

	byVersion := e.resolver.VersionIDsForItems(items)
	resolved, err := e.resolver.Resolve(ctx, projectName, byVersion, e.notesToTask)
	if err != nil {
		return err
	}

	var failures []error
	for _, item := range resolved {
		itemID := item.Item.ID.String()
		log.Info().Str("item", itemID).Msg("Processing review item")

		if err := e.syncItem(ctx, project, reviewID, reviewLink, item, statusOverride); err != nil {
			log.Error().Str("item", itemID).Err(err).Msg("Review item sync failed")
			failures = append(failures, fmt.Errorf("item %s: %w", itemID, err))
		}
	}
	return errors.Join(failures...)
}

func (e *Engine) syncItem(
	ctx context.Context,
	project *ftrack.Project,
	reviewID, reviewLink string,
	item ResolvedItem,
	statusOverride string,
) error {
	itemLink := ItemLink(reviewLink, item.Item.ID.String())

	notes, err := e.extractor.Extract(ctx, item.Item, reviewID, itemLink)
	if err != nil {
		return err
	}

	statusName := statusOverride
	if statusName == "" {
		statusName = item.Item.ApprovalStatus
	}
	statusID, err := e.statuses.MapStatus(ctx, statusName, project)
	if err != nil {
		return err
	}

	target, existing := e.noteTarget(item)
	newNotes := FilterNew(notes, existing)

	if statusID == "" && len(newNotes) == 0 {
		log.Info().Str("item", item.Item.Name).Msg("Nothing new to mirror for review item")
		return nil
	}

	return e.writer.Write(ctx, WriteRequest{
		VersionID:  item.Entity.ID,
		NoteTarget: target,
		Notes:      newNotes,
		StatusID:   statusID,
	})
}

// noteTarget picks where notes land. Task targeting needs a linked parent
// task; versions without one fall back to the version itself.
func (e *Engine) noteTarget(item ResolvedItem) (WriteTarget, []ftrack.Note) {
	if e.notesToTask {
		if item.Entity.Task != nil {
			return WriteTarget{Type: entityTypeTask, ID: item.Entity.Task.ID}, item.Entity.Task.Notes
		}
		log.Warn().
			Str("item", item.Item.Name).
			Msg("Version has no linked task, posting notes on the version")
	}
	return WriteTarget{Type: entityTypeAssetVersion, ID: item.Entity.ID}, item.Entity.Notes
}
