package processor

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/sketchsync/internal/ftrack"
	"github.com/sketchsync/pkg/models"
)

// Resolver recovers, for each review media item, the ftrack entity it maps
// to: item metadata carries the AYON version id, the AYON version carries
// the ftrack id, and the ftrack entities are then bulk-fetched. Every
// missing link in that chain is a soft failure: the item is logged and
// dropped, the batch continues.
type Resolver struct {
	pipeline PipelineAPI
	tracking TrackingAPI
}

// NewResolver creates a resolver over the pipeline and tracking APIs.
func NewResolver(pipeline PipelineAPI, tracking TrackingAPI) *Resolver {
	return &Resolver{pipeline: pipeline, tracking: tracking}
}

// ResolvedItem is a review item with its tracking-side identity resolved.
type ResolvedItem struct {
	Item     models.ReviewMediaItem
	Ref      models.TrackingEntityRef
	Entity   *ftrack.AssetVersion
}

// VersionIDsForItems parses item metadata and returns the AYON version id
// of every item that has one. Items with missing or empty metadata are
// skipped with a log entry.
func (r *Resolver) VersionIDsForItems(items []models.ReviewMediaItem) map[string]models.ReviewMediaItem {
	byVersion := make(map[string]models.ReviewMediaItem, len(items))
	for _, item := range items {
		if item.Metadata == "" {
			log.Warn().Str("item", item.Name).Msg("Media is missing metadata")
			continue
		}

		var meta models.ItemMetadata
		if err := json.Unmarshal([]byte(item.Metadata), &meta); err != nil {
			log.Warn().Str("item", item.Name).Err(err).Msg("Media has unparseable metadata")
			continue
		}
		if meta.AyonVersionID == "" {
			log.Error().Str("item", item.Name).Msg("Media is missing the AYON version id")
			continue
		}

		byVersion[meta.AyonVersionID] = item
	}
	return byVersion
}

// Resolve looks up the AYON versions for the given items and bulk-fetches
// the linked ftrack asset versions, with parent tasks when withTasks is
// set. Only fully resolved items are returned.
func (r *Resolver) Resolve(ctx context.Context, projectName string, items map[string]models.ReviewMediaItem, withTasks bool) ([]ResolvedItem, error) {
	if len(items) == 0 {
		return nil, nil
	}

	versionIDs := make([]string, 0, len(items))
	for versionID := range items {
		versionIDs = append(versionIDs, versionID)
	}

	versions, err := r.pipeline.GetVersionsByIDs(ctx, projectName, versionIDs)
	if err != nil {
		return nil, err
	}

	ftrackIDs := make([]string, 0, len(versions))
	itemsByFtrackID := make(map[string]models.ReviewMediaItem, len(versions))
	for _, versionID := range versionIDs {
		item := items[versionID]
		version := versions[versionID]
		if version == nil {
			log.Error().
				Str("item", item.Name).
				Str("version_id", versionID).
				Msg("AYON version not found")
			continue
		}
		if version.Attrib.FtrackID == "" {
			log.Error().
				Str("item", item.Name).
				Str("version_id", versionID).
				Msg("AYON version is missing the ftrack id")
			continue
		}
		ftrackIDs = append(ftrackIDs, version.Attrib.FtrackID)
		itemsByFtrackID[version.Attrib.FtrackID] = item
	}

	if len(ftrackIDs) == 0 {
		return nil, nil
	}

	entities, err := r.tracking.GetAssetVersionsByIDs(ctx, ftrackIDs, withTasks)
	if err != nil {
		return nil, err
	}

	resolved := make([]ResolvedItem, 0, len(ftrackIDs))
	for _, ftrackID := range ftrackIDs {
		item := itemsByFtrackID[ftrackID]
		entity := entities[ftrackID]
		if entity == nil {
			log.Error().
				Str("item", item.Name).
				Str("ftrack_id", ftrackID).
				Msg("Unable to find ftrack asset version")
			continue
		}

		resolved = append(resolved, ResolvedItem{
			Item:   item,
			Ref:    models.TrackingEntityRef{VersionID: entity.ID, TaskID: entity.TaskID},
			Entity: entity,
		})
	}

	return resolved, nil
}
