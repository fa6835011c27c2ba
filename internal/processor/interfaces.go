package processor

import (
	"context"

	"github.com/sketchsync/internal/ftrack"
	"github.com/sketchsync/internal/syncsketch"
	"github.com/sketchsync/pkg/models"
)

// EventQueue is the subset of the AYON events API the polling loop uses.
type EventQueue interface {
	EnrollNextEvent(ctx context.Context, sourceTopic, targetTopic, description string) (*models.ReviewEvent, error)
	GetEvent(ctx context.Context, eventID string) (*models.ReviewEvent, error)
	UpdateEventStatus(ctx context.Context, eventID, status string) error
}

// ReviewAPI is the subset of the SyncSketch client the sync engine uses.
type ReviewAPI interface {
	GetReviewByID(ctx context.Context, reviewID string) (*syncsketch.Review, error)
	GetReviewItem(ctx context.Context, itemID string) (*models.ReviewMediaItem, error)
	GetMediaByReviewID(ctx context.Context, reviewID string) ([]models.ReviewMediaItem, error)
	GetAnnotations(ctx context.Context, itemID, reviewID string) ([]models.Annotation, error)
	GetFlattenedAnnotations(ctx context.Context, itemID, reviewID string, withTracingPaper, asBase64 bool) ([]models.SketchFrame, error)
	DownloadImage(ctx context.Context, imageURL string) ([]byte, error)
}

// PipelineAPI is the subset of the AYON client resolving version records.
type PipelineAPI interface {
	GetVersionsByIDs(ctx context.Context, projectName string, versionIDs []string) (map[string]*models.PipelineVersion, error)
}

// TrackingAPI is the subset of the ftrack session the sync engine uses.
// Staged writes accumulate on the implementation and are flushed by Commit;
// see the ftrack package for the batching contract.
type TrackingAPI interface {
	GetProjectByName(ctx context.Context, fullName string) (*ftrack.Project, error)
	GetAssetVersionStatuses(ctx context.Context, projectSchemaID string) ([]ftrack.Status, error)
	GetUserByUsername(ctx context.Context, username string) (*ftrack.User, error)
	GetAssetVersionsByIDs(ctx context.Context, ids []string, withTasks bool) (map[string]*ftrack.AssetVersion, error)
	StageNote(parentType, parentID, authorID, content string, frameNumber *int) string
	StageStatus(entityType, entityID, statusID string)
	StageNoteComponent(componentID, noteID string)
	Commit(ctx context.Context) error
	Rollback()
	UploadComponent(ctx context.Context, name, fileType string, data []byte) (string, error)
	APIUser() string
}
