// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncclient

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KingAli2wq/socialsync/syncserver"
)

const testToken = "test-token"

// testBackend is an in-process sync server with per-route counters, so tests
// can assert how many network writes actually happened.
type testBackend struct {
	ts      *httptest.Server
	service *syncserver.SyncService

	resourcePuts atomic.Int64 // PUT/POST /api/<resource>
	checkCalls   atomic.Int64 // POST /api/check-updates
}

func newTestBackend(t *testing.T, token string) *testBackend {
	t.Helper()
	svc, err := syncserver.NewSyncService(syncserver.NewMemStorage(), nil, nil)
	require.NoError(t, err)
	media, err := syncserver.NewMediaStore(t.TempDir())
	require.NoError(t, err)

	b := &testBackend{service: svc}
	mux := syncserver.NewHTTPSyncHandlers(svc, media, token, nil).Mux()
	b.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/check-updates":
			b.checkCalls.Add(1)
		case (r.Method == http.MethodPut || r.Method == http.MethodPost) &&
			len(r.URL.Path) > len("/api/") && !isControlPath(r.URL.Path):
			b.resourcePuts.Add(1)
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(b.ts.Close)
	return b
}

func isControlPath(path string) bool {
	switch path {
	case "/api/ping", "/api/check-updates", "/api/mark-synced",
		"/api/media/upload", "/api/media/download", "/api/media/stream":
		return true
	}
	return false
}

func (b *testBackend) clientConfig(t *testing.T, token string) *Config {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	cfg.BaseURL = b.ts.URL
	cfg.Token = token
	return cfg
}
