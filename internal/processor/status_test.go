package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sketchsync/internal/ftrack"
	"github.com/sketchsync/pkg/models"
)

func testMapping() []models.StatusMappingEntry {
	return []models.StatusMappingEntry{
		{Name: "Approved", FtrackStatus: "Approved"},
		{Name: "On Hold", FtrackStatus: "On Hold"},
		{Name: "revision needed", FtrackStatus: "Change requested"},
	}
}

func TestMapStatus_NormalizesNames(t *testing.T) {
	tracking := newFakeTracking()
	tracking.statuses = []ftrack.Status{
		{ID: "st-approved", Name: "Approved"},
		{ID: "st-hold", Name: "On Hold"},
		{ID: "st-changes", Name: "Change requested"},
	}
	mapper := NewStatusMapper(tracking, testMapping())

	// webhook statuses arrive lowercased with underscores
	id, err := mapper.MapStatus(context.Background(), "on_hold", tracking.project)
	require.NoError(t, err)
	assert.Equal(t, "st-hold", id)

	id, err = mapper.MapStatus(context.Background(), "revision_needed", tracking.project)
	require.NoError(t, err)
	assert.Equal(t, "st-changes", id)
}

func TestMapStatus_UnmappedStatusIsEmpty(t *testing.T) {
	tracking := newFakeTracking()
	tracking.statuses = []ftrack.Status{{ID: "st-approved", Name: "Approved"}}
	mapper := NewStatusMapper(tracking, testMapping())

	id, err := mapper.MapStatus(context.Background(), "in_progress", tracking.project)
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Zero(t, tracking.statusFetches, "unmapped status should not hit the vocabulary")
}

func TestMapStatus_MappedStatusMissingFromVocabulary(t *testing.T) {
	tracking := newFakeTracking()
	tracking.statuses = []ftrack.Status{{ID: "st-other", Name: "Something Else"}}
	mapper := NewStatusMapper(tracking, testMapping())

	id, err := mapper.MapStatus(context.Background(), "approved", tracking.project)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestMapStatus_VocabularyIsCachedPerProcess(t *testing.T) {
	tracking := newFakeTracking()
	tracking.statuses = []ftrack.Status{{ID: "st-approved", Name: "Approved"}}
	mapper := NewStatusMapper(tracking, testMapping())

	for i := 0; i < 3; i++ {
		_, err := mapper.MapStatus(context.Background(), "approved", tracking.project)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, tracking.statusFetches)

	mapper.Invalidate()
	_, err := mapper.MapStatus(context.Background(), "approved", tracking.project)
	require.NoError(t, err)
	assert.Equal(t, 2, tracking.statusFetches)
}
