package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/sketchsync/pkg/models"
)

const (
	entityTypeAssetVersion = "AssetVersion"
	entityTypeTask         = "Task"
)

// WriteTarget is the ftrack entity a batch of notes lands on.
type WriteTarget struct {
	Type string // "AssetVersion" or "Task"
	ID   string
}

// WriteRequest carries everything the writer persists for one review item.
// The status, when set, always lands on the asset version; notes land on
// NoteTarget, which is either the same version or its parent task.
type WriteRequest struct {
	VersionID  string
	NoteTarget WriteTarget
	Notes      []models.NoteRecord
	StatusID   string
}

// Writer applies a resolved status and a batch of new notes to one ftrack
// entity. All creates and the status update are staged on the session and
// flushed with a single commit per entity.
//
// The commit is not atomic with the dedup read that produced the notes: a
// crash between staging and commit leaves the entity unchanged, but a crash
// after a sketch component upload leaves an orphaned component. Errors after
// staging roll the batch back, and redelivery re-runs the dedup from source,
// so the failure mode is a missed note until the retry, never a duplicate.
type Writer struct {
	tracking TrackingAPI
	review   ReviewAPI
}

// NewWriter creates a writer over the tracking and review APIs.
func NewWriter(tracking TrackingAPI, review ReviewAPI) *Writer {
	return &Writer{tracking: tracking, review: review}
}

// Write stages the status update and notes for one entity and commits them
// in one call. Author usernames without an ftrack counterpart fall back to
// the service account. Sketch images are downloaded, spooled to a temp
// file, uploaded as thumbnail components and linked to their notes.
func (w *Writer) Write(ctx context.Context, req WriteRequest) error {
	if req.StatusID != "" {
		w.tracking.StageStatus(entityTypeAssetVersion, req.VersionID, req.StatusID)
	}

	for _, note := range req.Notes {
		authorID, err := w.resolveAuthor(ctx, note.Username)
		if err != nil {
			w.tracking.Rollback()
			return err
		}

		noteID := w.tracking.StageNote(req.NoteTarget.Type, req.NoteTarget.ID, authorID, note.Text, note.Frame)

		if note.Sketch == nil {
			continue
		}
		componentID, err := w.uploadSketch(ctx, note)
		if err != nil {
			w.tracking.Rollback()
			return err
		}
		w.tracking.StageNoteComponent(componentID, noteID)
	}

	if err := w.tracking.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit notes for %s %s: %w", req.NoteTarget.Type, req.NoteTarget.ID, err)
	}
	return nil
}

func (w *Writer) resolveAuthor(ctx context.Context, username string) (string, error) {
	user, err := w.tracking.GetUserByUsername(ctx, username)
	if err == nil {
		return user.ID, nil
	}

	// Review author has no ftrack account, post as the service account
	log.Debug().Str("username", username).Msg("No ftrack user for review author, using service account")
	user, err = w.tracking.GetUserByUsername(ctx, w.tracking.APIUser())
	if err != nil {
		return "", fmt.Errorf("failed to resolve service account %q: %w", w.tracking.APIUser(), err)
	}
	return user.ID, nil
}

func (w *Writer) uploadSketch(ctx context.Context, note models.NoteRecord) (string, error) {
	data, err := w.review.DownloadImage(ctx, note.Sketch.URL)
	if err != nil {
		return "", fmt.Errorf("failed to download sketch: %w", err)
	}

	imageName := "sketch"
	if note.Frame != nil {
		imageName = fmt.Sprintf("sketch_%04d", *note.Frame)
	}

	tmpFile, err := os.CreateTemp("", imageName+"_*.jpg")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	componentID, err := w.tracking.UploadComponent(ctx, imageName, filepath.Ext(tmpPath), data)
	if err != nil {
		return "", fmt.Errorf("failed to upload sketch component: %w", err)
	}
	return componentID, nil
}
