// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncserver

// REST/JSON models for HTTP API requests and responses. Every response
// carries an "ok" flag; error responses carry a short machine-readable code
// in "error" and an optional human-readable "message".

// PingResponse answers the unauthenticated health probe.
type PingResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// ResourceResponse wraps a resource payload for GET /api/<resource>.
type ResourceResponse struct {
	OK      bool  `json:"ok"`
	Data    any   `json:"data"`
	Version int64 `json:"version"` // current updatedAt, unix millis; 0 before first write
}

// SaveResponse answers PUT/POST /api/<resource>.
type SaveResponse struct {
	OK       bool  `json:"ok"`
	Version  int64 `json:"version"`            // updatedAt assigned to this write
	Conflict bool  `json:"conflict,omitempty"` // base_version was supplied and stale; write applied anyway
}

// CheckUpdatesRequest identifies the polling client.
type CheckUpdatesRequest struct {
	ClientID string `json:"client_id"`
}

// CheckUpdatesResponse lists resources changed since the client's last
// acknowledgement, with their current updatedAt values.
type CheckUpdatesResponse struct {
	OK        bool             `json:"ok"`
	Updates   map[string]int64 `json:"updates"`
	Timestamp int64            `json:"timestamp"` // server time of this answer, unix millis
}

// MarkSyncedRequest acknowledges resources the client has absorbed.
type MarkSyncedRequest struct {
	ClientID  string   `json:"client_id"`
	Resources []string `json:"resources"`
}

// OKResponse is the minimal success envelope.
type OKResponse struct {
	OK bool `json:"ok"`
}

// MediaUploadRequest carries one blob, base64-encoded, addressed relative to
// the media root.
type MediaUploadRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"` // base64
}

// MediaDownloadRequest names the blob to fetch.
type MediaDownloadRequest struct {
	Path string `json:"path"`
}

// MediaDownloadResponse returns one blob, base64-encoded.
type MediaDownloadResponse struct {
	OK      bool   `json:"ok"`
	Content string `json:"content"` // base64
}

// ErrorResponse is the error envelope for all endpoints.
type ErrorResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
