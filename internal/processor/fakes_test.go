package processor

import (
	"context"
	"fmt"

	"github.com/sketchsync/internal/ftrack"
	"github.com/sketchsync/internal/syncsketch"
	"github.com/sketchsync/pkg/models"
)

type fakeReview struct {
	reviews     map[string]*syncsketch.Review
	items       map[string]*models.ReviewMediaItem
	media       map[string][]models.ReviewMediaItem
	annotations map[string][]models.Annotation
	sketches    map[string][]models.SketchFrame
	images      map[string][]byte
	downloads   []string
}

func (f *fakeReview) GetReviewByID(_ context.Context, reviewID string) (*syncsketch.Review, error) {
	review, ok := f.reviews[reviewID]
	if !ok {
		return nil, fmt.Errorf("review %s not found", reviewID)
	}
	return review, nil
}

func (f *fakeReview) GetReviewItem(_ context.Context, itemID string) (*models.ReviewMediaItem, error) {
	item, ok := f.items[itemID]
	if !ok {
		return nil, fmt.Errorf("item %s not found", itemID)
	}
	return item, nil
}

func (f *fakeReview) GetMediaByReviewID(_ context.Context, reviewID string) ([]models.ReviewMediaItem, error) {
	return f.media[reviewID], nil
}

func (f *fakeReview) GetAnnotations(_ context.Context, itemID, _ string) ([]models.Annotation, error) {
	return f.annotations[itemID], nil
}

func (f *fakeReview) GetFlattenedAnnotations(_ context.Context, itemID, _ string, _, _ bool) ([]models.SketchFrame, error) {
	return f.sketches[itemID], nil
}

func (f *fakeReview) DownloadImage(_ context.Context, imageURL string) ([]byte, error) {
	f.downloads = append(f.downloads, imageURL)
	data, ok := f.images[imageURL]
	if !ok {
		return nil, fmt.Errorf("no image at %s", imageURL)
	}
	return data, nil
}

type fakePipeline struct {
	versions map[string]*models.PipelineVersion
}

func (f *fakePipeline) GetVersionsByIDs(_ context.Context, _ string, versionIDs []string) (map[string]*models.PipelineVersion, error) {
	found := make(map[string]*models.PipelineVersion, len(versionIDs))
	for _, id := range versionIDs {
		if version, ok := f.versions[id]; ok {
			found[id] = version
		}
	}
	return found, nil
}

type stagedNote struct {
	parentType string
	parentID   string
	authorID   string
	content    string
	frame      *int
}

type fakeTracking struct {
	project  *ftrack.Project
	statuses []ftrack.Status
	users    map[string]*ftrack.User
	versions map[string]*ftrack.AssetVersion
	apiUser  string

	statusFetches    int
	stagedNotes      []stagedNote
	stagedStatuses   map[string]string
	stagedComponents [][2]string // componentID, noteID
	uploads          []string
	uploadData       [][]byte
	commits          int
	commitErr        error
	rollbacks        int
}

func newFakeTracking() *fakeTracking {
	return &fakeTracking{
		project:        &ftrack.Project{ID: "proj-1", FullName: "TestProject", ProjectSchemaID: "schema-1"},
		users:          make(map[string]*ftrack.User),
		versions:       make(map[string]*ftrack.AssetVersion),
		apiUser:        "api-bot",
		stagedStatuses: make(map[string]string),
	}
}

func (f *fakeTracking) GetProjectByName(_ context.Context, fullName string) (*ftrack.Project, error) {
	if f.project == nil || f.project.FullName != fullName {
		return nil, fmt.Errorf("project %q not found", fullName)
	}
	return f.project, nil
}

func (f *fakeTracking) GetAssetVersionStatuses(_ context.Context, _ string) ([]ftrack.Status, error) {
	f.statusFetches++
	return f.statuses, nil
}

func (f *fakeTracking) GetUserByUsername(_ context.Context, username string) (*ftrack.User, error) {
	user, ok := f.users[username]
	if !ok {
		return nil, fmt.Errorf("user %q not found", username)
	}
	return user, nil
}

func (f *fakeTracking) GetAssetVersionsByIDs(_ context.Context, ids []string, _ bool) (map[string]*ftrack.AssetVersion, error) {
	found := make(map[string]*ftrack.AssetVersion, len(ids))
	for _, id := range ids {
		if version, ok := f.versions[id]; ok {
			found[id] = version
		}
	}
	return found, nil
}

func (f *fakeTracking) StageNote(parentType, parentID, authorID, content string, frameNumber *int) string {
	f.stagedNotes = append(f.stagedNotes, stagedNote{
		parentType: parentType,
		parentID:   parentID,
		authorID:   authorID,
		content:    content,
		frame:      frameNumber,
	})
	return fmt.Sprintf("note-%d", len(f.stagedNotes))
}

func (f *fakeTracking) StageStatus(entityType, entityID, statusID string) {
	f.stagedStatuses[entityType+"/"+entityID] = statusID
}

func (f *fakeTracking) StageNoteComponent(componentID, noteID string) {
	f.stagedComponents = append(f.stagedComponents, [2]string{componentID, noteID})
}

func (f *fakeTracking) Commit(_ context.Context) error {
	f.commits++
	return f.commitErr
}

func (f *fakeTracking) Rollback() {
	f.rollbacks++
	f.stagedNotes = nil
	f.stagedStatuses = make(map[string]string)
	f.stagedComponents = nil
}

func (f *fakeTracking) UploadComponent(_ context.Context, name, fileType string, data []byte) (string, error) {
	f.uploads = append(f.uploads, name+fileType)
	f.uploadData = append(f.uploadData, data)
	return fmt.Sprintf("component-%d", len(f.uploads)), nil
}

func (f *fakeTracking) APIUser() string {
	return f.apiUser
}

type fakeQueue struct {
	pending     []*models.ReviewEvent
	sources     map[string]*models.ReviewEvent
	enrolled    []string
	statuses    map[string]string
	updateErrs  []error
	updateCalls int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		sources:  make(map[string]*models.ReviewEvent),
		statuses: make(map[string]string),
	}
}

func (f *fakeQueue) EnrollNextEvent(_ context.Context, sourceTopic, _, _ string) (*models.ReviewEvent, error) {
	f.enrolled = append(f.enrolled, sourceTopic)
	for i, event := range f.pending {
		if event.Topic == sourceTopic {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			return event, nil
		}
	}
	return nil, nil
}

func (f *fakeQueue) GetEvent(_ context.Context, eventID string) (*models.ReviewEvent, error) {
	event, ok := f.sources[eventID]
	if !ok {
		return nil, fmt.Errorf("event %s not found", eventID)
	}
	return event, nil
}

func (f *fakeQueue) UpdateEventStatus(_ context.Context, eventID, status string) error {
	f.updateCalls++
	if len(f.updateErrs) > 0 {
		err := f.updateErrs[0]
		f.updateErrs = f.updateErrs[1:]
		if err != nil {
			return err
		}
	}
	f.statuses[eventID] = status
	return nil
}
