// Package syncsketch is a client for the SyncSketch REST API, covering the
// endpoints the note sync needs: reviews, media items, annotations and
// flattened sketch downloads.
package syncsketch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/sketchsync/pkg/models"
)

const apiVersion = "v1"

// Client is an authenticated SyncSketch API client. Requests are rate
// limited client-side: a review session ending fans out into one annotation
// and one sketch request per media item, which can otherwise trip the
// service's API limits.
type Client struct {
	host     string
	username string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewClient creates a new SyncSketch client authenticated with the given
// username and API key.
func NewClient(host, username, apiKey string) *Client {
	for len(host) > 0 && host[len(host)-1] == '/' {
		host = host[:len(host)-1]
	}

	return &Client{
		host:     host,
		username: username,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
	}
}

// Review is a SyncSketch review container.
type Review struct {
	ID        json.Number `json:"id"`
	Name      string      `json:"name"`
	ReviewURL string      `json:"reviewURL"`
}

type itemList struct {
	Objects []models.ReviewMediaItem `json:"objects"`
}

type annotationList struct {
	Objects []models.Annotation `json:"objects"`
}

type flattenedSketches struct {
	Data []models.SketchFrame `json:"data"`
}

// IsConnected probes the API with the configured credentials.
func (c *Client) IsConnected(ctx context.Context) error {
	resp, err := c.get(ctx, fmt.Sprintf("/api/%s/person/connected/", apiVersion), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.apiError(resp)
	}
	return nil
}

// GetReviewByID fetches a single review.
func (c *Client) GetReviewByID(ctx context.Context, reviewID string) (*Review, error) {
	path := fmt.Sprintf("/api/%s/review/%s/", apiVersion, url.PathEscape(reviewID))
	resp, err := c.get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp)
	}

	var review Review
	if err := json.NewDecoder(resp.Body).Decode(&review); err != nil {
		return nil, fmt.Errorf("failed to decode review response: %w", err)
	}
	return &review, nil
}

// GetReviewItem fetches a single media item.
func (c *Client) GetReviewItem(ctx context.Context, itemID string) (*models.ReviewMediaItem, error) {
	path := fmt.Sprintf("/api/%s/item/%s/", apiVersion, url.PathEscape(itemID))
	resp, err := c.get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp)
	}

	var item models.ReviewMediaItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, fmt.Errorf("failed to decode item response: %w", err)
	}
	return &item, nil
}

// GetMediaByReviewID lists the active media items of a review.
func (c *Client) GetMediaByReviewID(ctx context.Context, reviewID string) ([]models.ReviewMediaItem, error) {
	params := url.Values{
		"reviews__id": {reviewID},
		"active":      {"1"},
	}
	resp, err := c.get(ctx, fmt.Sprintf("/api/%s/item/", apiVersion), params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp)
	}

	var list itemList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode item list response: %w", err)
	}
	return list.Objects, nil
}

// GetAnnotations lists the active annotations of a media item within a
// review.
func (c *Client) GetAnnotations(ctx context.Context, itemID, reviewID string) ([]models.Annotation, error) {
	params := url.Values{
		"item__id":            {itemID},
		"revision__review_id": {reviewID},
		"active":              {"1"},
	}
	resp, err := c.get(ctx, fmt.Sprintf("/api/%s/frame/", apiVersion), params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp)
	}

	var list annotationList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode annotation response: %w", err)
	}
	return list.Objects, nil
}

// GetFlattenedAnnotations renders the sketch overlays of an item into
// per-frame composites. withTracingPaper merges the drawing layers,
// asBase64 inlines the image data in the response.
func (c *Client) GetFlattenedAnnotations(ctx context.Context, itemID, reviewID string, withTracingPaper, asBase64 bool) ([]models.SketchFrame, error) {
	params := url.Values{
		"include_data": {"1"},
		"tracingpaper": {boolParam(withTracingPaper)},
		"base64":       {boolParam(asBase64)},
		"async":        {"0"},
	}

	path := fmt.Sprintf("/api/v2/downloads/flattenedSketches/%s/%s/",
		url.PathEscape(reviewID), url.PathEscape(itemID))

	resp, err := c.do(ctx, http.MethodPost, path, params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp)
	}

	var sketches flattenedSketches
	if err := json.NewDecoder(resp.Body).Decode(&sketches); err != nil {
		return nil, fmt.Errorf("failed to decode flattened sketches response: %w", err)
	}
	return sketches.Data, nil
}

// DownloadImage fetches raw image bytes from a sketch URL. The URL comes
// from a flattened sketch descriptor and is already signed, so no auth
// parameters are attached.
func (c *Client) DownloadImage(ctx context.Context, imageURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image download failed with status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, params)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if params == nil {
		params = url.Values{}
	}
	// Auth travels as query parameters; header auth is not reliable on all
	// deployments of the service.
	params.Set("username", c.username)
	params.Set("api_key", c.apiKey)

	requestURL := c.host + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, method, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("SyncSketch API error (status %d): %s", resp.StatusCode, string(body))
}

func boolParam(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
