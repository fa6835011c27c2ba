package processor

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sketchsync/internal/ftrack"
	"github.com/sketchsync/pkg/models"
)

// StatusMapper translates review approval status names into ftrack status
// ids. The per-project ftrack vocabulary is fetched once and cached for the
// process lifetime; status vocabularies only change through rare schema
// edits, for which a restart is acceptable. Not safe for concurrent use,
// same as the session it wraps.
type StatusMapper struct {
	tracking TrackingAPI
	mapping  []models.StatusMappingEntry

	// lowercased ftrack status name -> status id, keyed per project schema
	vocab map[string]map[string]string
}

// NewStatusMapper creates a status mapper over the configured mapping
// table.
func NewStatusMapper(tracking TrackingAPI, mapping []models.StatusMappingEntry) *StatusMapper {
	return &StatusMapper{
		tracking: tracking,
		mapping:  mapping,
		vocab:    make(map[string]map[string]string),
	}
}

// MapStatus resolves a review status name to an ftrack status id within the
// given project. It returns "" when the status has no configured mapping or
// the mapped name is absent from the project's vocabulary; both cases are
// warnings, not errors, and leave the entity status untouched.
func (m *StatusMapper) MapStatus(ctx context.Context, statusName string, project *ftrack.Project) (string, error) {
	normalized := normalizeStatusName(statusName)

	var ftrackStatusName string
	for _, entry := range m.mapping {
		if normalizeStatusName(entry.Name) == normalized {
			ftrackStatusName = strings.ToLower(entry.FtrackStatus)
			break
		}
	}

	if ftrackStatusName == "" {
		log.Warn().Str("status", statusName).Msg("Review status has no configured mapping")
		return "", nil
	}

	vocab, err := m.projectVocabulary(ctx, project)
	if err != nil {
		return "", err
	}

	statusID := vocab[ftrackStatusName]
	if statusID == "" {
		log.Warn().
			Str("status", statusName).
			Str("ftrack_status", ftrackStatusName).
			Msg("Mapped status not found in ftrack vocabulary")
	}
	return statusID, nil
}

// Invalidate drops the cached vocabularies. Only tests need this; the
// running service relies on a restart to pick up schema changes.
func (m *StatusMapper) Invalidate() {
	m.vocab = make(map[string]map[string]string)
}

func (m *StatusMapper) projectVocabulary(ctx context.Context, project *ftrack.Project) (map[string]string, error) {
	if vocab, ok := m.vocab[project.ProjectSchemaID]; ok {
		return vocab, nil
	}

	statuses, err := m.tracking.GetAssetVersionStatuses(ctx, project.ProjectSchemaID)
	if err != nil {
		return nil, err
	}

	vocab := make(map[string]string, len(statuses))
	for _, status := range statuses {
		vocab[strings.ToLower(status.Name)] = status.ID
	}
	m.vocab[project.ProjectSchemaID] = vocab
	return vocab, nil
}

func normalizeStatusName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "_"))
}
