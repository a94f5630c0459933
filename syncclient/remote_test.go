// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KingAli2wq/socialsync/syncserver"
)

func remoteFor(t *testing.T, baseURL, token string) *Remote {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	cfg.BaseURL = baseURL
	cfg.Token = token
	r := NewRemote(cfg, nil)
	require.NotNil(t, r)
	return r
}

func TestNewRemoteDisabledWithoutBaseURL(t *testing.T) {
	assert.Nil(t, NewRemote(DefaultConfig(t.TempDir()), nil))
	assert.Nil(t, NewRemote(nil, nil))
}

func TestRemoteSendsBothAuthHeaders(t *testing.T) {
	var gotAuth, gotLegacy string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotLegacy = r.Header.Get("X-SOCIAL-TOKEN")
		json.NewEncoder(w).Encode(syncserver.PingResponse{OK: true, Message: "server running"})
	}))
	defer ts.Close()

	remote := remoteFor(t, ts.URL, "tok-123")
	require.NoError(t, remote.Ping(context.Background()))
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "tok-123", gotLegacy)
}

func TestPingAgainstRealServer(t *testing.T) {
	backend := newTestBackend(t, testToken)
	remote := remoteFor(t, backend.ts.URL, testToken)
	require.NoError(t, remote.Ping(context.Background()))
}

func TestGetResourceRejectsNullData(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"data":null,"version":0}`))
	}))
	defer ts.Close()

	remote := remoteFor(t, ts.URL, "")
	_, _, err := remote.GetResource(context.Background(), syncserver.ResourcePosts)
	require.Error(t, err)
}

func TestPutResourceFallsBackToPost(t *testing.T) {
	var puts, posts int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			puts++
			w.WriteHeader(http.StatusMethodNotAllowed)
		case http.MethodPost:
			posts++
			w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer ts.Close()

	remote := remoteFor(t, ts.URL, "")
	err := remote.PutResource(context.Background(), syncserver.ResourcePosts, json.RawMessage(`[]`))
	require.NoError(t, err)
	assert.Equal(t, 1, puts)
	assert.Equal(t, 1, posts)
}

func TestUnauthorizedMapsToSentinel(t *testing.T) {
	backend := newTestBackend(t, testToken)
	remote := remoteFor(t, backend.ts.URL, "wrong-token")

	_, _, err := remote.GetResource(context.Background(), syncserver.ResourcePosts)
	require.ErrorIs(t, err, ErrUnauthorized)

	err = remote.PutResource(context.Background(), syncserver.ResourcePosts, json.RawMessage(`[]`))
	require.ErrorIs(t, err, ErrUnauthorized, "a 401 on PUT must not be retried as POST")
}

func TestCheckUpdatesAndMarkSynced(t *testing.T) {
	backend := newTestBackend(t, testToken)
	_, _, err := backend.service.PutResource(syncserver.ResourceVideos, json.RawMessage(`["v1"]`), nil)
	require.NoError(t, err)

	remote := remoteFor(t, backend.ts.URL, testToken)
	ctx := context.Background()

	updates, err := remote.CheckUpdates(ctx, "client-x")
	require.NoError(t, err)
	require.Contains(t, updates, syncserver.ResourceVideos)
	assert.Positive(t, updates[syncserver.ResourceVideos])

	require.NoError(t, remote.MarkSynced(ctx, "client-x", []syncserver.Resource{syncserver.ResourceVideos}))

	updates, err = remote.CheckUpdates(ctx, "client-x")
	require.NoError(t, err)
	assert.NotContains(t, updates, syncserver.ResourceVideos)
}

func TestMediaRoundTripOverRemote(t *testing.T) {
	backend := newTestBackend(t, testToken)
	remote := remoteFor(t, backend.ts.URL, testToken)
	ctx := context.Background()

	blob := []byte{1, 2, 3, 4, 5}
	require.NoError(t, remote.UploadMedia(ctx, "pics/a.png", blob))

	got, err := remote.DownloadMedia(ctx, "pics/a.png")
	require.NoError(t, err)
	assert.Equal(t, blob, got)

	_, err = remote.DownloadMedia(ctx, "pics/missing.png")
	require.ErrorIs(t, err, ErrNotFound)
}
