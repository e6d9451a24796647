package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/reelforge/reelforge/pkg/config"
	"github.com/reelforge/reelforge/pkg/logging"
	"github.com/reelforge/reelforge/pkg/models"
)

// Response paths are tried in order so both flat job APIs and
// long-running-operation envelopes are understood.
var (
	operationIDPaths = []string{"name", "id", "operation_id", "operationId"}
	statusPaths      = []string{"status", "state", "metadata.state"}
	progressPaths    = []string{"progress", "metadata.progressPercent", "metadata.progress"}
	videoURLPaths    = []string{
		"video_url",
		"videoUrl",
		"response.generatedVideos.0.video.uri",
		"response.generateVideoResponse.generatedSamples.0.video.uri",
		"response.videos.0.uri",
	}
	thumbnailURLPaths = []string{
		"thumbnail_url",
		"thumbnailUrl",
		"response.generatedVideos.0.thumbnail.uri",
		"response.generateVideoResponse.generatedSamples.0.thumbnail.uri",
	}
	errorPaths = []string{"error.message", "error", "failure_reason", "failureReason"}
)

// HTTPClient is a REST Provider and Fetcher.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	model      string
	pricing    Pricing
	httpClient *http.Client
	logger     *zap.Logger
}

// ClientOption configures the HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *HTTPClient) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(client *HTTPClient) {
		client.httpClient.Timeout = timeout
	}
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(client *HTTPClient) {
		client.logger = logging.OrNop(l)
	}
}

// NewHTTPClient creates a provider client from configuration.
func NewHTTPClient(cfg config.ProviderConfig, opts ...ClientOption) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &HTTPClient{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		pricing:    NewPricing(cfg.Pricing),
		httpClient: &http.Client{Timeout: timeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EstimateCost prices a generation without calling the provider.
func (c *HTTPClient) EstimateCost(params models.GenerationParams) float64 {
	return c.pricing.Estimate(params)
}

// Submit starts a generation and returns its operation handle.
func (c *HTTPClient) Submit(ctx context.Context, req SubmitRequest) (*Operation, error) {
	body, err := buildSubmitBody(req, c.model)
	if err != nil {
		return nil, fmt.Errorf("build submit body: %w", err)
	}

	res, err := c.do(ctx, http.MethodPost, c.baseURL+"/operations", body)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	if err := checkStatus(res); err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	id := firstString(res.body, operationIDPaths)
	if id == "" {
		return nil, fmt.Errorf("submit: response has no operation id")
	}
	c.logger.Info("generation submitted", zap.String("operation_id", id))
	return &Operation{ID: id}, nil
}

// Poll fetches the current state of an operation.
func (c *HTTPClient) Poll(ctx context.Context, operationID string) (*OperationStatus, error) {
	res, err := c.do(ctx, http.MethodGet, c.operationURL(operationID), nil)
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", operationID, err)
	}
	if err := checkStatus(res); err != nil {
		return nil, fmt.Errorf("poll %s: %w", operationID, err)
	}
	return ParseOperation(res.body), nil
}

// Cancel asks the provider to stop an operation. A 409 means the operation
// can no longer be cancelled and is reported as false.
func (c *HTTPClient) Cancel(ctx context.Context, operationID string) (bool, error) {
	res, err := c.do(ctx, http.MethodPost, c.operationURL(operationID)+":cancel", nil)
	if err != nil {
		return false, fmt.Errorf("cancel %s: %w", operationID, err)
	}
	if res.statusCode == http.StatusConflict {
		return false, nil
	}
	if err := checkStatus(res); err != nil {
		return false, fmt.Errorf("cancel %s: %w", operationID, err)
	}
	if v := gjson.GetBytes(res.body, "cancelled"); v.Exists() {
		return v.Bool(), nil
	}
	return true, nil
}

// Fetch downloads an asset with the provider credentials attached.
func (c *HTTPClient) Fetch(ctx context.Context, url string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create fetch request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w: %w", url, ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return nil, "", fmt.Errorf("fetch %s: %w: status %d", url, ErrUnavailable, resp.StatusCode)
		}
		return nil, "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// ParseOperation maps a provider operation document to an OperationStatus.
func ParseOperation(body []byte) *OperationStatus {
	st := &OperationStatus{
		VideoURL:     firstString(body, videoURLPaths),
		ThumbnailURL: firstString(body, thumbnailURLPaths),
		Error:        firstString(body, errorPaths),
	}

	if raw := firstString(body, statusPaths); raw != "" {
		st.Status = MapStatus(raw)
	} else if done := gjson.GetBytes(body, "done"); done.Exists() {
		switch {
		case !done.Bool():
			st.Status = models.JobProcessing
		case st.Error != "":
			st.Status = models.JobFailed
		default:
			st.Status = models.JobCompleted
		}
	} else {
		st.Status = models.JobPending
	}

	for _, p := range progressPaths {
		if v := gjson.GetBytes(body, p); v.Exists() {
			st.Progress = clampProgress(int(v.Int()))
			break
		}
	}
	if st.Status == models.JobCompleted {
		st.Progress = 100
	}
	if st.Status != models.JobFailed {
		st.Error = ""
	}
	return st
}

func buildSubmitBody(req SubmitRequest, defaultModel string) ([]byte, error) {
	model := req.Params.Model
	if model == "" {
		model = defaultModel
	}
	body := []byte(`{}`)
	var err error
	set := func(path string, value any) {
		if err != nil {
			return
		}
		body, err = sjson.SetBytes(body, path, value)
	}
	set("prompt", req.Prompt)
	if model != "" {
		set("model", model)
	}
	if req.Params.DurationSeconds > 0 {
		set("parameters.durationSeconds", req.Params.DurationSeconds)
	}
	if req.Params.Resolution != "" {
		set("parameters.resolution", req.Params.Resolution)
	}
	if req.Params.AspectRatio != "" {
		set("parameters.aspectRatio", req.Params.AspectRatio)
	}
	return body, err
}

// response holds the result of a single provider request.
type response struct {
	statusCode int
	body       []byte
}

func (c *HTTPClient) do(ctx context.Context, method, url string, body []byte) (*response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
	}
	return &response{statusCode: resp.StatusCode, body: respBody}, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *HTTPClient) operationURL(operationID string) string {
	id := strings.TrimPrefix(operationID, "/")
	if !strings.HasPrefix(id, "operations/") {
		id = "operations/" + id
	}
	return c.baseURL + "/" + id
}

func checkStatus(res *response) error {
	if res.statusCode >= 200 && res.statusCode < 300 {
		return nil
	}
	msg := gjson.GetBytes(res.body, "error.message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(res.body))
	}
	if res.statusCode >= 500 {
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, res.statusCode, msg)
	}
	return fmt.Errorf("status %d: %s", res.statusCode, msg)
}

func firstString(body []byte, paths []string) string {
	for _, p := range paths {
		v := gjson.GetBytes(body, p)
		if v.Exists() && v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
