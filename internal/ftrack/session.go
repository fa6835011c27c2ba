// Package ftrack implements the subset of the ftrack server API the note
// sync needs. All writes go through the server's batched operations
// endpoint: creates and updates are staged on the session and flushed with a
// single Commit call, which is what bounds the round trips per entity.
package ftrack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Session is a connection to an ftrack server. It is not safe for
// concurrent use: staged operations are accumulated on the session and
// flushed by Commit, so concurrent writers would interleave their batches.
type Session struct {
	serverURL string
	apiUser   string
	apiKey    string
	client    *http.Client

	pending []operation

	serverLocationID string
}

// NewSession creates a new ftrack session.
func NewSession(serverURL, apiKey, apiUser string) *Session {
	for len(serverURL) > 0 && serverURL[len(serverURL)-1] == '/' {
		serverURL = serverURL[:len(serverURL)-1]
	}

	return &Session{
		serverURL: serverURL,
		apiUser:   apiUser,
		apiKey:    apiKey,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

// APIUser returns the username the session authenticates as. It doubles as
// the service account notes fall back to when a review author has no ftrack
// counterpart.
func (s *Session) APIUser() string {
	return s.apiUser
}

type operation struct {
	Action     string                 `json:"action"`
	Expression string                 `json:"expression,omitempty"`
	EntityType string                 `json:"entity_type,omitempty"`
	EntityKey  []string               `json:"entity_key,omitempty"`
	EntityData map[string]interface{} `json:"entity_data,omitempty"`

	// get_upload_metadata fields
	FileName    string `json:"file_name,omitempty"`
	FileSize    int    `json:"file_size,omitempty"`
	ComponentID string `json:"component_id,omitempty"`
}

type opResult struct {
	Data json.RawMessage `json:"data"`

	// upload metadata
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type serverError struct {
	Exception string `json:"exception"`
	Content   string `json:"content"`
}

// Entity types returned by queries.

// Project is an ftrack project.
type Project struct {
	ID              string `json:"id"`
	FullName        string `json:"full_name"`
	ProjectSchemaID string `json:"project_schema_id"`
}

// Status is one entry of a status vocabulary.
type Status struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User is an ftrack user.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Note is a note attached to an entity, with the fields the deduplicator
// compares on.
type Note struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	FrameNumber *int   `json:"frame_number"`
	Author      struct {
		Username string `json:"username"`
	} `json:"author"`
}

// AssetVersion is a version entity with its notes preloaded. Task is set
// when the session was asked to resolve parent tasks.
type AssetVersion struct {
	ID       string `json:"id"`
	TaskID   string `json:"task_id"`
	StatusID string `json:"status_id"`
	Notes    []Note `json:"notes"`
	Task     *Task  `json:"-"`
}

// Task is a task entity with its notes preloaded.
type Task struct {
	ID       string `json:"id"`
	StatusID string `json:"status_id"`
	Notes    []Note `json:"notes"`
}

// Probe verifies the server accepts the session's credentials.
func (s *Session) Probe(ctx context.Context) error {
	_, err := s.queryOne(ctx, fmt.Sprintf(
		"select id, username from User where username is %q", s.apiUser))
	if err != nil {
		return fmt.Errorf("ftrack auth probe failed: %w", err)
	}
	return nil
}

// GetProjectByName fetches a project by its full name.
func (s *Session) GetProjectByName(ctx context.Context, fullName string) (*Project, error) {
	data, err := s.queryOne(ctx, fmt.Sprintf(
		"select id, full_name, project_schema_id from Project where full_name is %q", fullName))
	if err != nil {
		return nil, err
	}

	var project Project
	if err := json.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("failed to decode project: %w", err)
	}
	return &project, nil
}

// GetAssetVersionStatuses fetches the AssetVersion status vocabulary of a
// project schema.
func (s *Session) GetAssetVersionStatuses(ctx context.Context, projectSchemaID string) ([]Status, error) {
	data, err := s.queryOne(ctx, fmt.Sprintf(
		"select asset_version_workflow_schema_id from ProjectSchema where id is %q",
		projectSchemaID))
	if err != nil {
		return nil, err
	}

	var schema struct {
		WorkflowSchemaID string `json:"asset_version_workflow_schema_id"`
	}
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to decode project schema: %w", err)
	}

	data, err = s.queryOne(ctx, fmt.Sprintf(
		"select statuses.id, statuses.name from WorkflowSchema where id is %q",
		schema.WorkflowSchemaID))
	if err != nil {
		return nil, err
	}

	var workflow struct {
		Statuses []Status `json:"statuses"`
	}
	if err := json.Unmarshal(data, &workflow); err != nil {
		return nil, fmt.Errorf("failed to decode workflow schema: %w", err)
	}
	return workflow.Statuses, nil
}

// GetUserByUsername fetches a user by username. A missing user returns an
// error so callers can fall back to the service account.
func (s *Session) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	data, err := s.queryOne(ctx, fmt.Sprintf(
		"select id, username from User where username is %q", username))
	if err != nil {
		return nil, err
	}

	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return &user, nil
}

// GetAssetVersionsByIDs bulk-fetches asset versions with their notes. When
// withTasks is set the parent tasks (and their notes) are fetched in a
// second bulk query and attached.
func (s *Session) GetAssetVersionsByIDs(ctx context.Context, ids []string, withTasks bool) (map[string]*AssetVersion, error) {
	if len(ids) == 0 {
		return map[string]*AssetVersion{}, nil
	}

	expression := fmt.Sprintf(
		"select id, task_id, status_id, notes.content, notes.frame_number, "+
			"notes.author.username from AssetVersion where id in (%s)",
		joinIDs(ids))

	rows, err := s.queryAll(ctx, expression)
	if err != nil {
		return nil, err
	}

	versions := make(map[string]*AssetVersion, len(rows))
	taskIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		var version AssetVersion
		if err := json.Unmarshal(row, &version); err != nil {
			return nil, fmt.Errorf("failed to decode asset version: %w", err)
		}
		versions[version.ID] = &version
		if version.TaskID != "" {
			taskIDs = append(taskIDs, version.TaskID)
		}
	}

	if !withTasks || len(taskIDs) == 0 {
		return versions, nil
	}

	expression = fmt.Sprintf(
		"select id, status_id, notes.content, notes.frame_number, "+
			"notes.author.username from Task where id in (%s)",
		joinIDs(taskIDs))

	rows, err = s.queryAll(ctx, expression)
	if err != nil {
		return nil, err
	}

	tasks := make(map[string]*Task, len(rows))
	for _, row := range rows {
		var task Task
		if err := json.Unmarshal(row, &task); err != nil {
			return nil, fmt.Errorf("failed to decode task: %w", err)
		}
		tasks[task.ID] = &task
	}

	for _, version := range versions {
		version.Task = tasks[version.TaskID]
	}

	return versions, nil
}

// StageNote stages the creation of a note on the given parent entity and
// returns the client-generated note id. Nothing is sent until Commit.
func (s *Session) StageNote(parentType, parentID, authorID, content string, frameNumber *int) string {
	noteID := uuid.NewString()
	entityData := map[string]interface{}{
		"id":          noteID,
		"content":     content,
		"author_id":   authorID,
		"parent_id":   parentID,
		"parent_type": parentType,
	}
	if frameNumber != nil {
		entityData["frame_number"] = *frameNumber
	}

	s.pending = append(s.pending, operation{
		Action:     "create",
		EntityType: "Note",
		EntityData: entityData,
	})
	return noteID
}

// StageStatus stages a status update on an entity.
func (s *Session) StageStatus(entityType, entityID, statusID string) {
	s.pending = append(s.pending, operation{
		Action:     "update",
		EntityType: entityType,
		EntityKey:  []string{entityID},
		EntityData: map[string]interface{}{"status_id": statusID},
	})
}

// StageNoteComponent stages the association linking an uploaded component to
// a note.
func (s *Session) StageNoteComponent(componentID, noteID string) {
	s.pending = append(s.pending, operation{
		Action:     "create",
		EntityType: "NoteComponent",
		EntityData: map[string]interface{}{
			"component_id": componentID,
			"note_id":      noteID,
		},
	})
}

// PendingCount reports how many staged operations Commit would send.
func (s *Session) PendingCount() int {
	return len(s.pending)
}

// Rollback discards all staged operations without sending them. Callers
// that fail partway through staging an entity must roll back, or the
// leftover operations would ride along with the next entity's commit and
// resurface as duplicates when the event is redelivered.
func (s *Session) Rollback() {
	s.pending = nil
}

// Commit flushes all staged operations in one server call. The staged batch
// is cleared whether or not the call succeeds: a failed batch cannot be
// meaningfully retried because the server may have applied part of it, and
// redelivery rebuilds the writes from source anyway.
func (s *Session) Commit(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}

	ops := s.pending
	s.pending = nil

	if _, err := s.call(ctx, ops); err != nil {
		return fmt.Errorf("commit of %d operations failed: %w", len(ops), err)
	}
	return nil
}

// UploadComponent uploads image bytes as a FileComponent available in the
// server location and returns the component id. The component records are
// created immediately, outside any staged batch, because the upload target
// URL is issued against an existing component id.
func (s *Session) UploadComponent(ctx context.Context, name, fileType string, data []byte) (string, error) {
	locationID, err := s.getServerLocationID(ctx)
	if err != nil {
		return "", err
	}

	componentID := uuid.NewString()
	results, err := s.call(ctx, []operation{
		{
			Action:     "create",
			EntityType: "FileComponent",
			EntityData: map[string]interface{}{
				"id":        componentID,
				"name":      name,
				"file_type": fileType,
				"size":      len(data),
			},
		},
		{
			Action:      "get_upload_metadata",
			FileName:    name + fileType,
			FileSize:    len(data),
			ComponentID: componentID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create component: %w", err)
	}
	if len(results) < 2 || results[1].URL == "" {
		return "", fmt.Errorf("server returned no upload target for component %s", componentID)
	}

	if err := s.putFile(ctx, results[1].URL, results[1].Headers, data); err != nil {
		return "", fmt.Errorf("failed to upload component data: %w", err)
	}

	// Register availability in the server location
	_, err = s.call(ctx, []operation{{
		Action:     "create",
		EntityType: "ComponentLocation",
		EntityData: map[string]interface{}{
			"id":           uuid.NewString(),
			"component_id": componentID,
			"location_id":  locationID,
		},
	}})
	if err != nil {
		return "", fmt.Errorf("failed to register component location: %w", err)
	}

	return componentID, nil
}

func (s *Session) getServerLocationID(ctx context.Context) (string, error) {
	if s.serverLocationID != "" {
		return s.serverLocationID, nil
	}

	data, err := s.queryOne(ctx, `select id from Location where name is "ftrack.server"`)
	if err != nil {
		return "", fmt.Errorf("failed to resolve server location: %w", err)
	}

	var location struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &location); err != nil {
		return "", fmt.Errorf("failed to decode location: %w", err)
	}

	s.serverLocationID = location.ID
	return location.ID, nil
}

func (s *Session) queryAll(ctx context.Context, expression string) ([]json.RawMessage, error) {
	results, err := s.call(ctx, []operation{{Action: "query", Expression: expression}})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(results[0].Data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode query result: %w", err)
	}
	return rows, nil
}

func (s *Session) queryOne(ctx context.Context, expression string) (json.RawMessage, error) {
	rows, err := s.queryAll(ctx, expression)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no result for query %q", expression)
	}
	return rows[0], nil
}

func (s *Session) call(ctx context.Context, ops []operation) ([]opResult, error) {
	payload, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal operations: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+"/api", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ftrack-User", s.apiUser)
	req.Header.Set("Ftrack-Api-Key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ftrack API error (status %d): %s", resp.StatusCode, string(body))
	}

	// The server reports failures inside a 200 response
	var srvErr serverError
	if err := json.Unmarshal(body, &srvErr); err == nil && srvErr.Exception != "" {
		return nil, fmt.Errorf("ftrack server error %s: %s", srvErr.Exception, srvErr.Content)
	}

	var results []opResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return results, nil
}

func (s *Session) putFile(ctx context.Context, uploadURL string, headers map[string]string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func joinIDs(ids []string) string {
	quoted := make([]string, 0, len(ids))
	for _, id := range ids {
		quoted = append(quoted, fmt.Sprintf("%q", id))
	}
	return strings.Join(quoted, ", ")
}
