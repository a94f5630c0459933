// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPSyncHandlers exposes the sync service and media store over the REST
// API. Every /api/* route except /api/ping is guarded by the shared-token
// check; an empty configured token disables the check (open deployment).
type HTTPSyncHandlers struct {
	service *SyncService
	media   *MediaStore
	token   string
	logger  *slog.Logger
}

// NewHTTPSyncHandlers creates a new instance of sync handlers.
func NewHTTPSyncHandlers(service *SyncService, media *MediaStore, token string, logger *slog.Logger) *HTTPSyncHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSyncHandlers{
		service: service,
		media:   media,
		token:   token,
		logger:  logger,
	}
}

// Mux returns a ServeMux with all API routes registered.
func (h *HTTPSyncHandlers) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/ping", h.HandlePing)
	mux.HandleFunc("POST /api/check-updates", h.requireAuth(h.HandleCheckUpdates))
	mux.HandleFunc("POST /api/mark-synced", h.requireAuth(h.HandleMarkSynced))
	mux.HandleFunc("POST /api/media/upload", h.requireAuth(h.HandleMediaUpload))
	mux.HandleFunc("POST /api/media/download", h.requireAuth(h.HandleMediaDownload))
	mux.HandleFunc("PUT /api/media/stream", h.requireAuth(h.HandleMediaStreamUpload))
	mux.HandleFunc("GET /api/media/stream", h.requireAuth(h.HandleMediaStreamDownload))
	mux.HandleFunc("GET /api/{resource}", h.requireAuth(h.HandleGetResource))
	mux.HandleFunc("PUT /api/{resource}", h.requireAuth(h.HandleSaveResource))
	mux.HandleFunc("POST /api/{resource}", h.requireAuth(h.HandleSaveResource))
	return mux
}

// requireAuth accepts either "Authorization: Bearer <token>" or the legacy
// X-SOCIAL-TOKEN header. With no token configured the check is disabled.
func (h *HTTPSyncHandlers) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			supplied := r.Header.Get("X-SOCIAL-TOKEN")
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				supplied = strings.TrimPrefix(auth, "Bearer ")
			}
			if supplied != h.token {
				h.writeError(w, http.StatusUnauthorized, "authentication_failed", "Missing or invalid token")
				return
			}
		}
		next(w, r)
	}
}

// HandlePing answers the unauthenticated health probe.
func (h *HTTPSyncHandlers) HandlePing(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, PingResponse{OK: true, Message: "server running"})
}

// HandleGetResource serves GET /api/<resource>.
func (h *HTTPSyncHandlers) HandleGetResource(w http.ResponseWriter, r *http.Request) {
	resource, err := ParseResource(r.PathValue("resource"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "unknown_resource", err.Error())
		return
	}

	payload, version, err := h.service.GetResource(resource)
	if err != nil {
		h.logger.Error("failed to load resource", "resource", resource, "error", err)
		h.writeError(w, http.StatusInternalServerError, "load_failed", "Failed to load resource")
		return
	}
	h.writeJSON(w, http.StatusOK, ResourceResponse{OK: true, Data: json.RawMessage(payload), Version: version})
}

// HandleSaveResource serves PUT/POST /api/<resource>. The request body is the
// whole replacement payload. An optional base_version query parameter enables
// lost-update detection; a stale value is reported, not rejected.
func (h *HTTPSyncHandlers) HandleSaveResource(w http.ResponseWriter, r *http.Request) {
	resource, err := ParseResource(r.PathValue("resource"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "unknown_resource", err.Error())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxMediaBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to read request body")
		return
	}

	var baseVersion *int64
	if raw := r.URL.Query().Get("base_version"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "base_version must be an integer")
			return
		}
		baseVersion = &v
	}

	version, conflict, err := h.service.PutResource(resource, body, baseVersion)
	if errors.Is(err, ErrBadPayload) {
		h.writeError(w, http.StatusBadRequest, "bad_payload", err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to save resource", "resource", resource, "error", err)
		h.writeError(w, http.StatusInternalServerError, "save_failed", "Failed to save resource")
		return
	}
	h.writeJSON(w, http.StatusOK, SaveResponse{OK: true, Version: version, Conflict: conflict})
}

// HandleCheckUpdates serves POST /api/check-updates.
func (h *HTTPSyncHandlers) HandleCheckUpdates(w http.ResponseWriter, r *http.Request) {
	var req CheckUpdatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse check-updates request")
		return
	}

	updates, err := h.service.CheckUpdates(req.ClientID)
	if errors.Is(err, ErrBadPayload) {
		h.writeError(w, http.StatusBadRequest, "bad_payload", err.Error())
		return
	}
	if err != nil {
		h.logger.Error("check-updates failed", "client_id", req.ClientID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "check_failed", "Failed to check updates")
		return
	}

	out := make(map[string]int64, len(updates))
	for res, at := range updates {
		out[string(res)] = at
	}
	h.writeJSON(w, http.StatusOK, CheckUpdatesResponse{
		OK:        true,
		Updates:   out,
		Timestamp: time.Now().UnixMilli(),
	})
}

// HandleMarkSynced serves POST /api/mark-synced. Unknown resource names in
// the list are rejected before any acknowledgement is recorded.
func (h *HTTPSyncHandlers) HandleMarkSynced(w http.ResponseWriter, r *http.Request) {
	var req MarkSyncedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse mark-synced request")
		return
	}

	resources := make([]Resource, 0, len(req.Resources))
	for _, name := range req.Resources {
		resource, err := ParseResource(name)
		if err != nil {
			h.writeError(w, http.StatusNotFound, "unknown_resource", err.Error())
			return
		}
		resources = append(resources, resource)
	}

	if err := h.service.MarkSynced(req.ClientID, resources); err != nil {
		if errors.Is(err, ErrBadPayload) {
			h.writeError(w, http.StatusBadRequest, "bad_payload", err.Error())
			return
		}
		h.logger.Error("mark-synced failed", "client_id", req.ClientID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "mark_failed", "Failed to mark synced")
		return
	}
	h.writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// HandleMediaUpload serves POST /api/media/upload (base64 transport).
func (h *HTTPSyncHandlers) HandleMediaUpload(w http.ResponseWriter, r *http.Request) {
	var req MediaUploadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxMediaBytes*4/3+4096)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse media upload request")
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "content must be base64")
		return
	}

	if err := h.media.Save(req.Path, data); err != nil {
		if errors.Is(err, ErrPathEscapesRoot) {
			h.writeError(w, http.StatusBadRequest, "path_escapes_root", err.Error())
			return
		}
		h.logger.Error("media upload failed", "path", req.Path, "error", err)
		h.writeError(w, http.StatusInternalServerError, "upload_failed", "Failed to store media")
		return
	}
	h.writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// HandleMediaDownload serves POST /api/media/download (base64 transport).
func (h *HTTPSyncHandlers) HandleMediaDownload(w http.ResponseWriter, r *http.Request) {
	var req MediaDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse media download request")
		return
	}

	data, err := h.media.Load(req.Path)
	if err != nil {
		h.writeMediaError(w, req.Path, err)
		return
	}
	h.writeJSON(w, http.StatusOK, MediaDownloadResponse{OK: true, Content: base64.StdEncoding.EncodeToString(data)})
}

// HandleMediaStreamUpload serves PUT /api/media/stream?path=<rel>. The raw
// request body is the blob; no base64 detour for large transfers.
func (h *HTTPSyncHandlers) HandleMediaStreamUpload(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if _, err := h.media.SaveStream(path, http.MaxBytesReader(w, r.Body, MaxMediaBytes)); err != nil {
		if errors.Is(err, ErrPathEscapesRoot) {
			h.writeError(w, http.StatusBadRequest, "path_escapes_root", err.Error())
			return
		}
		h.logger.Error("media stream upload failed", "path", path, "error", err)
		h.writeError(w, http.StatusInternalServerError, "upload_failed", "Failed to store media")
		return
	}
	h.writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// HandleMediaStreamDownload serves GET /api/media/stream?path=<rel>.
func (h *HTTPSyncHandlers) HandleMediaStreamDownload(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	rc, size, err := h.media.Open(path)
	if err != nil {
		h.writeMediaError(w, path, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Error("media stream download aborted", "path", path, "error", err)
	}
}

func (h *HTTPSyncHandlers) writeMediaError(w http.ResponseWriter, path string, err error) {
	switch {
	case errors.Is(err, ErrPathEscapesRoot):
		h.writeError(w, http.StatusBadRequest, "path_escapes_root", err.Error())
	case errors.Is(err, ErrMediaNotFound):
		h.writeError(w, http.StatusNotFound, "media_not_found", err.Error())
	default:
		h.logger.Error("media access failed", "path", path, "error", err)
		h.writeError(w, http.StatusInternalServerError, "media_failed", "Failed to access media")
	}
}

func (h *HTTPSyncHandlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *HTTPSyncHandlers) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := ErrorResponse{OK: false, Error: code, Message: message}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
