// Package remote is the HTTP client for the job service that performs script
// analysis, rendering and batch processing.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/shortstudio/studio-agent/internal/logging"
	"github.com/shortstudio/studio-agent/internal/monitor"
)

const (
	maxResponseBytes = 8 << 20
	maxErrorBody     = 4096

	defaultRatePerSec = 5
	defaultBurst      = 5
)

type Option func(*HTTPClient)

// WithRateLimit caps outbound requests per second across all endpoints.
func WithRateLimit(perSec float64, burst int) Option {
	return func(c *HTTPClient) {
		if perSec <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// HTTPClient talks JSON to the job service.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

func NewHTTPClient(baseURL string, timeout time.Duration, logger *slog.Logger, opts ...Option) *HTTPClient {
	if logger == nil {
		logger = logging.Discard()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRatePerSec), defaultBurst),
		logger:  logging.WithComponent(logger, "remote"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

func (c *HTTPClient) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResponse, error) {
	var out AnalyzeResponse
	if err := c.doJSON(ctx, "analyze", http.MethodPost, "/analyze", req, &out); err != nil {
		return nil, err
	}
	c.logger.Info("analysis received",
		"job_id", out.JobID,
		"status", out.Status,
		"keywords", out.Storyboard.Len(),
		"segments", len(out.Timing()),
	)
	return &out, nil
}

// ExportStatus polls the progress endpoint. jobID is sent as a query
// parameter so services that track several jobs can answer for the right one.
func (c *HTTPClient) ExportStatus(ctx context.Context, jobID string) (monitor.Status, error) {
	path := "/export-status"
	if jobID != "" {
		path += "?" + url.Values{"job_id": {jobID}}.Encode()
	}

	var out monitor.Status
	if err := c.doJSON(ctx, "export status", http.MethodGet, path, nil, &out); err != nil {
		return monitor.Status{}, err
	}
	return out, nil
}

func (c *HTTPClient) Export(ctx context.Context, req ExportRequest) (*ExportResponse, error) {
	var out ExportResponse
	if err := c.doJSON(ctx, "export", http.MethodPost, "/export", req, &out); err != nil {
		return nil, err
	}
	c.logger.Info("export submitted",
		"job_id", req.JobID,
		"selections", len(req.Selections),
		"output_path", logging.SanitizePath(req.OutputPath),
	)
	return &out, nil
}

// Batch uploads a CSV of scripts as the multipart field "file".
func (c *HTTPClient) Batch(ctx context.Context, filename string, csv io.Reader) (*BatchResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, csv); err != nil {
		return nil, fmt.Errorf("copy batch file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/batch", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out BatchResponse
	if err := c.do(req, "batch", &out); err != nil {
		return nil, err
	}
	c.logger.Info("batch submitted", "file", filename, "rows", out.Rows)
	return &out, nil
}

// AssetURL resolves a served media path against the service and appends a
// t=<unix-ms> query so players fetch the fresh file.
func (c *HTTPClient) AssetURL(path string, bust time.Time) string {
	raw := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		raw = c.baseURL + "/" + strings.TrimLeft(path, "/")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if !bust.IsZero() {
		q := u.Query()
		q.Set("t", strconv.FormatInt(bust.UnixMilli(), 10))
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *HTTPClient) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, op, out)
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	return req, nil
}

func (c *HTTPClient) do(req *http.Request, op string, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return fmt.Errorf("%s: rate limit: %w", op, err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: http request failed: %w", op, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("remote request",
		"op", op,
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"request_id", req.Header.Get("X-Request-Id"),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &RemoteError{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}
