// Package mirror implements MetaStoreMirror (C3): an asynchronous,
// best-effort replicator of the local MetaStore to a remote HTTP-backed SQL
// service. Remote outages never block the pipeline — internal/store remains
// authoritative for every pipeline decision regardless of mirror state.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/sfdcai/media-pipeline/internal/media"
)

// Client is an authenticated HTTP client for the remote mirror service,
// grounded on the teacher's internal/graph.Client shape (context-aware
// requests, structured logging per attempt) but built on
// hashicorp/go-retryablehttp for the retry loop itself rather than a
// hand-rolled backoff, since this boundary has no OAuth2 bearer token to
// refresh — just a static X-Api-Key header (spec §6 "remote DB HTTPS +
// credentials").
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *retryablehttp.Client
	logger     *slog.Logger
}

// NewClient builds a Client against baseURL, authenticating every request
// with apiKey.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 5
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 30 * time.Second
	rc.Logger = slogRetryAdapter{logger}

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: rc,
		logger:     logger,
	}
}

// PushFile upserts a single MediaFile row on the remote side.
func (c *Client) PushFile(ctx context.Context, f *media.File) error {
	return c.postJSON(ctx, "/api/v1/files", f)
}

// PushBatch upserts a single Batch row on the remote side.
func (c *Client) PushBatch(ctx context.Context, b *media.Batch) error {
	return c.postJSON(ctx, "/api/v1/batches", b)
}

// PushLog appends a single LogEntry row on the remote side.
func (c *Client) PushLog(ctx context.Context, l *media.LogEntry) error {
	return c.postJSON(ctx, "/api/v1/logs", l)
}

// remoteCounts is the shape the remote service reports for reconcile()'s
// "compare counts" step (spec §4.3).
type remoteCounts struct {
	Files   int `json:"files"`
	Batches int `json:"batches"`
}

// Counts queries the remote row counts.
func (c *Client) Counts(ctx context.Context) (files, batches int, err error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/counts", nil)
	if err != nil {
		return 0, 0, fmt.Errorf("mirror: building counts request: %w", err)
	}

	c.authenticate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: counts: %w", media.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return 0, 0, fmt.Errorf("%w: counts: status %d", media.ErrRemoteUnavailable, resp.StatusCode)
	}

	var rc remoteCounts
	if err := json.NewDecoder(resp.Body).Decode(&rc); err != nil {
		return 0, 0, fmt.Errorf("%w: counts: decoding response: %w", media.ErrRemoteUnavailable, err)
	}

	return rc.Files, rc.Batches, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mirror: encoding payload for %s: %w", path, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mirror: building request for %s: %w", path, err)
	}

	req.Header.Set("Content-Type", "application/json")
	c.authenticate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", media.ErrRemoteUnavailable, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		errBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: %s: status %d: %s", media.ErrRemoteUnavailable, path, resp.StatusCode, errBody)
	}

	return nil
}

func (c *Client) authenticate(req *retryablehttp.Request) {
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("User-Agent", "media-pipeline/0.1")
}

// slogRetryAdapter satisfies retryablehttp.LeveledLogger by forwarding to a
// *slog.Logger, matching the teacher's convention of threading one injected
// logger through every collaborator rather than letting a dependency set up
// its own.
type slogRetryAdapter struct{ logger *slog.Logger }

func (a slogRetryAdapter) Error(msg string, kv ...interface{}) { a.logger.Error(msg, kv...) }
func (a slogRetryAdapter) Info(msg string, kv ...interface{})  { a.logger.Info(msg, kv...) }
func (a slogRetryAdapter) Debug(msg string, kv ...interface{}) { a.logger.Debug(msg, kv...) }
func (a slogRetryAdapter) Warn(msg string, kv ...interface{})  { a.logger.Warn(msg, kv...) }
