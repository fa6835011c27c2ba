// Package ayon talks to the AYON server: the events queue the processor
// enrolls on, and the pipeline database holding version records.
package ayon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sketchsync/pkg/models"
)

// Client is a minimal AYON REST client. AYON has no official Go SDK so the
// few endpoints the processor needs are called directly.
type Client struct {
	baseURL string
	apiKey  string
	sender  string
	client  *http.Client
}

// NewClient creates a new AYON client. sender identifies this processor
// instance in enroll requests so the events server can attribute jobs.
func NewClient(baseURL, apiKey, sender string) *Client {
	// Make sure baseURL doesn't end with a slash
	for len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		sender:  sender,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type enrollRequest struct {
	SourceTopic string `json:"sourceTopic"`
	TargetTopic string `json:"targetTopic"`
	Sender      string `json:"sender"`
	Description string `json:"description,omitempty"`
	Sequential  bool   `json:"sequential"`
}

// EnrollNextEvent claims the next unprocessed event of the given source
// topic. It returns nil when no event is pending. The claimed job carries
// the id of the source event in DependsOn; the webhook payload lives on the
// source event, not the job.
func (c *Client) EnrollNextEvent(ctx context.Context, sourceTopic, targetTopic, description string) (*models.ReviewEvent, error) {
	body := enrollRequest{
		SourceTopic: sourceTopic,
		TargetTopic: targetTopic,
		Sender:      c.sender,
		Description: description,
		Sequential:  true,
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/enroll", body)
	if err != nil {
		return nil, fmt.Errorf("failed to enroll for %s: %w", sourceTopic, err)
	}
	defer resp.Body.Close()

	// No pending event of this topic
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp)
	}

	var event models.ReviewEvent
	if err := json.NewDecoder(resp.Body).Decode(&event); err != nil {
		return nil, fmt.Errorf("failed to decode enroll response: %w", err)
	}
	if event.ID == "" {
		return nil, nil
	}
	event.Topic = sourceTopic

	return &event, nil
}

// GetEvent fetches a single event by id, including its payload.
func (c *Client) GetEvent(ctx context.Context, eventID string) (*models.ReviewEvent, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/events/"+url.PathEscape(eventID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get event %s: %w", eventID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp)
	}

	var event models.ReviewEvent
	if err := json.NewDecoder(resp.Body).Decode(&event); err != nil {
		return nil, fmt.Errorf("failed to decode event response: %w", err)
	}

	return &event, nil
}

// UpdateEventStatus reports a terminal status ("finished" or "failed") for a
// claimed event back to the queue.
func (c *Client) UpdateEventStatus(ctx context.Context, eventID, status string) error {
	body := map[string]string{"status": status}

	resp, err := c.do(ctx, http.MethodPatch, "/api/events/"+url.PathEscape(eventID), body)
	if err != nil {
		return fmt.Errorf("failed to update event %s: %w", eventID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return c.apiError(resp)
	}

	return nil
}

// GetVersionByID looks up a pipeline version within a project. A missing
// version is not an error: it returns nil so callers can soft-skip the item.
func (c *Client) GetVersionByID(ctx context.Context, projectName, versionID string) (*models.PipelineVersion, error) {
	path := fmt.Sprintf("/api/projects/%s/versions/%s",
		url.PathEscape(projectName), url.PathEscape(versionID))

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get version %s: %w", versionID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp)
	}

	var version models.PipelineVersion
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		return nil, fmt.Errorf("failed to decode version response: %w", err)
	}

	return &version, nil
}

// GetVersionsByIDs looks up several pipeline versions at once. Versions that
// do not exist are simply absent from the result.
func (c *Client) GetVersionsByIDs(ctx context.Context, projectName string, versionIDs []string) (map[string]*models.PipelineVersion, error) {
	versions := make(map[string]*models.PipelineVersion, len(versionIDs))
	for _, versionID := range versionIDs {
		version, err := c.GetVersionByID(ctx, projectName, versionID)
		if err != nil {
			return nil, err
		}
		if version != nil {
			versions[version.ID] = version
		}
	}
	return versions, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("X-Api-Key", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	return resp, nil
}

func (c *Client) apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("AYON API error (status %d): %s", resp.StatusCode, string(body))
}
