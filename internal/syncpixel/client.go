// Package syncpixel implements SyncPixel (C10): hands staged files to an
// external LAN file-sync daemon (the paired device's bridge) and polls its
// REST status endpoint until the watched folder reports idle with nothing
// pending (spec §4.10).
package syncpixel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/sfdcai/media-pipeline/internal/media"
)

// FolderStatus is the daemon's `GET /rest/db/status?folder=<id>` response
// shape (spec §6: "at least state, needFiles, needBytes").
type FolderStatus struct {
	State     string `json:"state"`
	NeedFiles int    `json:"needFiles"`
	NeedBytes int64  `json:"needBytes"`
}

// Idle reports whether the folder has nothing left to sync (spec §4.10
// step 3: "state reports idle and need_files = 0 and need_bytes = 0").
func (s FolderStatus) Idle() bool {
	return s.State == "idle" && s.NeedFiles == 0 && s.NeedBytes == 0
}

// Client is an authenticated HTTP client for the file-sync daemon's REST
// API, grounded on internal/mirror.Client's shape (hashicorp/go-retryablehttp
// for the retry loop, a static API-key header rather than an OAuth2 bearer
// token).
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *retryablehttp.Client
}

// NewClient builds a Client against baseURL (the daemon's REST root, e.g.
// "http://127.0.0.1:8384"), authenticating every request with apiKey via
// the header spec §6 requires: "X-API-Key: <SYNCTHING_API_KEY>".
func NewClient(baseURL, apiKey string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: rc,
	}
}

// FolderStatus queries the daemon's folder-status endpoint. A non-2xx
// response or transport failure is classified as ErrSyncTimeout's sibling
// cause, since the calling poll loop treats either as "this poll failed,
// try again next tick" rather than aborting immediately.
func (c *Client) FolderStatus(ctx context.Context, folderID string) (FolderStatus, error) {
	endpoint := c.baseURL + "/rest/db/status?folder=" + url.QueryEscape(folderID)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return FolderStatus{}, fmt.Errorf("syncpixel: building status request: %w", err)
	}

	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return FolderStatus{}, fmt.Errorf("%w: folder status: %w", media.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return FolderStatus{}, fmt.Errorf("%w: folder status: %d", media.ErrRemoteUnavailable, resp.StatusCode)
	}

	var status FolderStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return FolderStatus{}, fmt.Errorf("%w: decoding folder status: %w", media.ErrRemoteUnavailable, err)
	}

	return status, nil
}
