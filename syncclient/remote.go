// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/KingAli2wq/socialsync/syncserver"
)

// Remote error sentinels
var (
	ErrRemoteDisabled = errors.New("remote_disabled")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not_found")
)

// Per-call timeouts, weighted by call cost. Media transfers use
// Config.MediaTimeout instead.
const (
	pingTimeout     = 2 * time.Second
	resourceTimeout = 5 * time.Second
	pollTimeout     = 4 * time.Second
)

// Remote is a thin typed wrapper over the sync server's HTTP API. Every call
// carries both auth headers (Authorization: Bearer and the legacy
// X-SOCIAL-TOKEN) and a short per-call timeout. Callers are expected to treat
// any returned error as soft: the store falls back to local state.
type Remote struct {
	baseURL      string
	token        string
	httpc        *http.Client
	mediaTimeout time.Duration
	logger       *slog.Logger
}

// NewRemote returns a client for the server at baseURL, or nil when baseURL
// is empty (remote mode disabled).
func NewRemote(cfg *Config, logger *slog.Logger) *Remote {
	if cfg == nil || cfg.BaseURL == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	mediaTimeout := cfg.MediaTimeout
	if mediaTimeout <= 0 {
		mediaTimeout = DefaultMediaTimeout
	}
	return &Remote{
		baseURL:      cfg.BaseURL,
		token:        cfg.Token,
		httpc:        &http.Client{},
		mediaTimeout: mediaTimeout,
		logger:       logger,
	}
}

func (c *Remote) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("X-SOCIAL-TOKEN", c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// doJSON performs a request and decodes the JSON envelope into out, mapping
// HTTP status codes to sentinel errors.
func (c *Remote) doJSON(ctx context.Context, method, path string, timeout time.Duration, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s %s", ErrUnauthorized, method, path)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("unexpected status %d for %s %s", resp.StatusCode, method, path)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Ping probes server liveness.
func (c *Remote) Ping(ctx context.Context) error {
	var resp syncserver.PingResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/ping", pingTimeout, nil, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("server not ok: %s", resp.Message)
	}
	return nil
}

// GetResource fetches the current payload and version for r. A null data
// field counts as a failure so the caller falls back to local state.
func (c *Remote) GetResource(ctx context.Context, r syncserver.Resource) (json.RawMessage, int64, error) {
	var resp struct {
		OK      bool            `json:"ok"`
		Data    json.RawMessage `json:"data"`
		Version int64           `json:"version"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/"+string(r), resourceTimeout, nil, &resp); err != nil {
		return nil, 0, err
	}
	if !resp.OK || len(resp.Data) == 0 || string(resp.Data) == "null" {
		return nil, 0, fmt.Errorf("no data for resource %s", r)
	}
	return resp.Data, resp.Version, nil
}

// PutResource uploads a full replacement payload, trying PUT first and
// falling back to POST for servers that only accept the latter.
func (c *Remote) PutResource(ctx context.Context, r syncserver.Resource, payload json.RawMessage) error {
	err := c.putResourceOnce(ctx, http.MethodPut, r, payload)
	if err == nil || errors.Is(err, ErrUnauthorized) {
		return err
	}
	c.logger.Debug("PUT failed, retrying as POST", "resource", r, "error", err)
	return c.putResourceOnce(ctx, http.MethodPost, r, payload)
}

func (c *Remote) putResourceOnce(ctx context.Context, method string, r syncserver.Resource, payload json.RawMessage) error {
	ctx, cancel := context.WithTimeout(ctx, resourceTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, method, "/api/"+string(r), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s /api/%s", ErrUnauthorized, method, r)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d for %s /api/%s", resp.StatusCode, method, r)
	}
	return nil
}

// CheckUpdates asks which resources changed since this client last
// acknowledged them.
func (c *Remote) CheckUpdates(ctx context.Context, clientID string) (map[syncserver.Resource]int64, error) {
	var resp syncserver.CheckUpdatesResponse
	req := syncserver.CheckUpdatesRequest{ClientID: clientID}
	if err := c.doJSON(ctx, http.MethodPost, "/api/check-updates", pollTimeout, req, &resp); err != nil {
		return nil, err
	}
	updates := make(map[syncserver.Resource]int64, len(resp.Updates))
	for name, at := range resp.Updates {
		r, err := syncserver.ParseResource(name)
		if err != nil {
			c.logger.Warn("server reported unknown resource", "resource", name)
			continue
		}
		updates[r] = at
	}
	return updates, nil
}

// MarkSynced acknowledges that this client has absorbed the named resources.
func (c *Remote) MarkSynced(ctx context.Context, clientID string, resources []syncserver.Resource) error {
	names := make([]string, len(resources))
	for i, r := range resources {
		names[i] = string(r)
	}
	req := syncserver.MarkSyncedRequest{ClientID: clientID, Resources: names}
	return c.doJSON(ctx, http.MethodPost, "/api/mark-synced", pollTimeout, req, nil)
}

// UploadMedia sends one blob over the base64 JSON endpoint.
func (c *Remote) UploadMedia(ctx context.Context, relPath string, data []byte) error {
	req := syncserver.MediaUploadRequest{
		Path:    relPath,
		Content: base64.StdEncoding.EncodeToString(data),
	}
	return c.doJSON(ctx, http.MethodPost, "/api/media/upload", c.mediaTimeout, req, nil)
}

// DownloadMedia fetches one blob over the base64 JSON endpoint.
func (c *Remote) DownloadMedia(ctx context.Context, relPath string) ([]byte, error) {
	var resp syncserver.MediaDownloadResponse
	req := syncserver.MediaDownloadRequest{Path: relPath}
	if err := c.doJSON(ctx, http.MethodPost, "/api/media/download", c.mediaTimeout, req, &resp); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode media content: %w", err)
	}
	return data, nil
}

// UploadMediaStream sends a blob as a raw request body, avoiding the base64
// detour for large transfers.
func (c *Remote) UploadMediaStream(ctx context.Context, relPath string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, c.mediaTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPut, "/api/media/stream?path="+url.QueryEscape(relPath), r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: stream upload", ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d for stream upload", resp.StatusCode)
	}
	return nil
}

// DownloadMediaStream returns a reader over the raw blob. The caller owns
// closing the reader; the request context must outlive the read.
func (c *Remote) DownloadMediaStream(ctx context.Context, relPath string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/media/stream?path="+url.QueryEscape(relPath), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: stream download", ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, relPath)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d for stream download", resp.StatusCode)
	}
	return resp.Body, nil
}
