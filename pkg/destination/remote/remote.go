// Package remote is the destination backend for a hosted image-management
// service speaking the Supervisely public API (v3). It has no notion of a
// custom data version, so concurrent summary updates are last-write-wins.
package remote

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"pexelsync/pkg/destination"
	errs "pexelsync/pkg/errors"
	"pexelsync/pkg/logger"
	"pexelsync/pkg/models"
	"pexelsync/pkg/retry"
)

const listPageSize = 500

// Client implements destination.Backend over HTTP
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	retry      *retry.Config
	logger     logger.Logger
}

var _ destination.Backend = (*Client)(nil)

// Option configures a Client
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithRetry(cfg *retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the API rooted at baseURL, for example
// https://app.supervisely.com/public/api/v3
func New(baseURL, token string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("remote destination needs a server address")
	}
	if token == "" {
		return nil, fmt.Errorf("remote destination needs an API token")
	}

	c := &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		retry:      retry.DefaultConfig(),
		logger:     logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type projectInfo struct {
	ID          int64                  `json:"id"`
	Name        string                 `json:"name"`
	WorkspaceID int64                  `json:"workspaceId"`
	CustomData  map[string]interface{} `json:"customData"`
}

type datasetInfo struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	ProjectID   int64  `json:"projectId"`
	ImagesCount int    `json:"imagesCount"`
}

type imageInfo struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type imageList struct {
	Total      int         `json:"total"`
	PagesCount int         `json:"pagesCount"`
	Entities   []imageInfo `json:"entities"`
}

type bulkImage struct {
	Title string            `json:"title"`
	Link  string            `json:"link,omitempty"`
	Hash  string            `json:"hash,omitempty"`
	Meta  map[string]string `json:"meta,omitempty"`
}

func (c *Client) CreateProject(ctx context.Context, workspaceID int64, name string) (*destination.Project, error) {
	var out projectInfo
	err := c.create(ctx, "projects.add", map[string]interface{}{
		"workspaceId":          workspaceID,
		"name":                 name,
		"type":                 "images",
		"changeNameIfConflict": true,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return out.project(), nil
}

func (c *Client) GetProject(ctx context.Context, id int64) (*destination.Project, error) {
	var out projectInfo
	if err := c.get(ctx, "projects.info", url.Values{"id": {strconv.FormatInt(id, 10)}}, &out); err != nil {
		return nil, fmt.Errorf("project %d: %w", id, err)
	}
	return out.project(), nil
}

func (p projectInfo) project() *destination.Project {
	custom := p.CustomData
	if custom == nil {
		custom = map[string]interface{}{}
	}
	return &destination.Project{ID: p.ID, WorkspaceID: p.WorkspaceID, Name: p.Name, CustomData: custom}
}

func (c *Client) CreateDataset(ctx context.Context, projectID int64, name string) (*destination.Dataset, error) {
	var out datasetInfo
	err := c.create(ctx, "datasets.add", map[string]interface{}{
		"projectId":            projectID,
		"name":                 name,
		"changeNameIfConflict": true,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to create dataset: %w", err)
	}
	return &destination.Dataset{ID: out.ID, ProjectID: out.ProjectID, Name: out.Name}, nil
}

func (c *Client) GetDataset(ctx context.Context, id int64) (*destination.Dataset, error) {
	var out datasetInfo
	if err := c.get(ctx, "datasets.info", url.Values{"id": {strconv.FormatInt(id, 10)}}, &out); err != nil {
		return nil, fmt.Errorf("dataset %d: %w", id, err)
	}
	return &destination.Dataset{ID: out.ID, ProjectID: out.ProjectID, Name: out.Name, ImagesCount: out.ImagesCount}, nil
}

// ListImageNames pages through images.list
func (c *Client) ListImageNames(ctx context.Context, datasetID int64) ([]string, error) {
	var names []string
	for page := 1; ; page++ {
		var out imageList
		err := c.post(ctx, "images.list", map[string]interface{}{
			"datasetId": datasetID,
			"page":      page,
			"per_page":  listPageSize,
		}, &out)
		if err != nil {
			return nil, fmt.Errorf("failed to list images of dataset %d: %w", datasetID, err)
		}
		for _, img := range out.Entities {
			names = append(names, img.Name)
		}
		if page >= out.PagesCount || len(out.Entities) == 0 {
			return names, nil
		}
	}
}

func (c *Client) UploadLinks(ctx context.Context, datasetID int64, records []models.ImageRecord) (int, error) {
	images := make([]bulkImage, len(records))
	for i, r := range records {
		images[i] = bulkImage{Title: r.Name, Link: r.Link, Meta: r.Meta}
	}
	return c.bulkAdd(ctx, datasetID, images)
}

// UploadPaths sends the files in one multipart request keyed by content
// hash, then registers them by hash
func (c *Client) UploadPaths(ctx context.Context, datasetID int64, records []models.ImageRecord) (int, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	images := make([]bulkImage, len(records))

	for i, r := range records {
		data, err := os.ReadFile(r.LocalPath)
		if err != nil {
			return 0, fmt.Errorf("failed to read %s: %w", r.LocalPath, err)
		}
		sum := sha256.Sum256(data)
		hash := base64.StdEncoding.EncodeToString(sum[:])

		part, err := mw.CreateFormFile(hash, filepath.Base(r.LocalPath))
		if err != nil {
			return 0, err
		}
		if _, err := part.Write(data); err != nil {
			return 0, err
		}
		images[i] = bulkImage{Title: r.Name, Hash: hash, Meta: r.Meta}
	}
	if err := mw.Close(); err != nil {
		return 0, err
	}

	payload := body.Bytes()
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, c.endpoint("images.bulk.upload"), mw.FormDataContentType(), bytes.NewReader(payload), nil)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upload files: %w", err)
	}

	return c.bulkAdd(ctx, datasetID, images)
}

func (c *Client) bulkAdd(ctx context.Context, datasetID int64, images []bulkImage) (int, error) {
	var out []imageInfo
	err := c.create(ctx, "images.bulk.add", map[string]interface{}{
		"datasetId": datasetID,
		"images":    images,
	}, &out)
	if err != nil {
		return 0, fmt.Errorf("failed to add images to dataset %d: %w", datasetID, err)
	}
	return len(out), nil
}

// UpdateCustomData ignores expectedVersion; the service keeps no version
func (c *Client) UpdateCustomData(ctx context.Context, projectID int64, data map[string]interface{}, expectedVersion int64) (int64, error) {
	var out projectInfo
	err := c.post(ctx, "projects.editInfo", map[string]interface{}{
		"id":         projectID,
		"customData": data,
	}, &out)
	if err != nil {
		return 0, fmt.Errorf("failed to update custom data of project %d: %w", projectID, err)
	}
	return expectedVersion + 1, nil
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) endpoint(method string) string {
	return c.baseURL + "/" + method
}

func (c *Client) get(ctx context.Context, method string, q url.Values, target interface{}) error {
	u := c.endpoint(method) + "?" + q.Encode()
	return retry.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, u, "", nil, target)
	})
}

func (c *Client) post(ctx context.Context, method string, payload interface{}, target interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}
	return retry.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, c.endpoint(method), "application/json", bytes.NewReader(raw), target)
	})
}

// create posts a request that adds something on the service. It is
// retried only when the service cannot have acted on it.
func (c *Client) create(ctx context.Context, method string, payload interface{}, target interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	cfg := retry.DefaultConfig()
	if c.retry != nil {
		copied := *c.retry
		cfg = &copied
	}
	cfg.RetryIf = notDelivered

	return retry.Do(ctx, cfg, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, c.endpoint(method), "application/json", bytes.NewReader(raw), target)
	})
}

// notDelivered reports whether err proves the request was never processed:
// the connection was never made, or the service refused it outright
func notDelivered(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	switch errs.CodeOf(err) {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	}
	return false
}

func (c *Client) do(ctx context.Context, method, u, contentType string, body io.Reader, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return errs.New(errs.ErrorTypeValidation, 0, "failed to create request: %v", err)
	}
	req.Header.Set("x-api-key", c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", errs.New(errs.ErrorTypeNetwork, 0, "request to %s failed", req.URL.Path), err)
	}
	defer resp.Body.Close()
	logger.LogRequest(c.logger, method, req.URL.Path, resp.StatusCode, float64(time.Since(start).Microseconds())/1000)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.New(errs.ErrorTypeNetwork, resp.StatusCode, "failed to read response body: %v", err)
	}

	if apiErr := errs.FromStatus(resp.StatusCode, errorDetail(respBody)); apiErr != nil {
		c.logger.WarnWithFields("Destination API did not answer correctly", map[string]interface{}{
			"status": resp.StatusCode,
			"path":   req.URL.Path,
			"detail": apiErr.Message,
		})
		if apiErr.Type == errs.ErrorTypeNotFound {
			return fmt.Errorf("%w: %w", destination.ErrNotFound, apiErr)
		}
		return apiErr
	}

	if target == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, target); err != nil {
		return errs.New(errs.ErrorTypeParsing, resp.StatusCode, "failed to parse JSON: %v", err)
	}
	return nil
}

// errorDetail extracts the service's error text, if any
func errorDetail(body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Details struct {
			Message string `json:"message"`
		} `json:"details"`
	}
	if json.Unmarshal(body, &e) != nil {
		return ""
	}
	if e.Details.Message != "" {
		return e.Details.Message
	}
	return e.Error
}
