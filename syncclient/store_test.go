// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncclient

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KingAli2wq/socialsync/internal/jsonfile"
	"github.com/KingAli2wq/socialsync/syncserver"
)

func TestOfflineFirstSaveThenLoad(t *testing.T) {
	// SOCIAL_SERVER_URL unset: remote is nil, everything is local files.
	store, err := NewStore(t.TempDir(), nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, syncserver.ResourcePosts, json.RawMessage(`[{"id":"1"}]`)))

	got := store.Load(ctx, syncserver.ResourcePosts)
	assert.JSONEq(t, `[{"id":"1"}]`, string(got))
	assert.Nil(t, store.LastRemoteError(syncserver.ResourcePosts))
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil, nil)
	require.NoError(t, err)

	assert.JSONEq(t, `[]`, string(store.Load(context.Background(), syncserver.ResourcePosts)))
	assert.JSONEq(t, `{}`, string(store.Load(context.Background(), syncserver.ResourceUsers)))
}

func TestLoadNeverFailsOnCorruptFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(store.LocalPath(syncserver.ResourcePosts), []byte("{garbage"), 0o644))
	assert.JSONEq(t, `[]`, string(store.Load(context.Background(), syncserver.ResourcePosts)))
}

func TestSaveRejectsInvalidJSON(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil, nil)
	require.NoError(t, err)

	err = store.Save(context.Background(), syncserver.ResourcePosts, json.RawMessage("{nope"))
	require.ErrorIs(t, err, syncserver.ErrBadPayload)
}

func TestRoundTripPreservesStructure(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	payloads := []string{
		`[]`,
		`{}`,
		`[{"id":"1","nested":{"a":[1,2,3],"b":null}}]`,
		`{"ключ":"значение","emoji":"🎉"}`,
	}
	for _, p := range payloads {
		require.NoError(t, store.Save(ctx, syncserver.ResourceGroupChats, json.RawMessage(p)))
		assert.JSONEq(t, p, string(store.Load(ctx, syncserver.ResourceGroupChats)), "payload %s", p)
	}
}

func TestLoadPrefersRemote(t *testing.T) {
	backend := newTestBackend(t, testToken)
	_, _, err := backend.service.PutResource(syncserver.ResourcePosts, json.RawMessage(`[{"id":"remote"}]`), nil)
	require.NoError(t, err)

	cfg := backend.clientConfig(t, testToken)
	store, err := NewStore(cfg.DataDir, NewRemote(cfg, nil), nil)
	require.NoError(t, err)

	// Local file holds something else; the remote copy wins.
	require.NoError(t, store.SaveLocal(syncserver.ResourcePosts, json.RawMessage(`[{"id":"local"}]`)))
	got := store.Load(context.Background(), syncserver.ResourcePosts)
	assert.JSONEq(t, `[{"id":"remote"}]`, string(got))
}

func TestLoadFallsBackToLocalWhenRemoteDown(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.BaseURL = "http://127.0.0.1:1" // connection refused
	store, err := NewStore(cfg.DataDir, NewRemote(cfg, nil), nil)
	require.NoError(t, err)

	require.NoError(t, store.SaveLocal(syncserver.ResourcePosts, json.RawMessage(`[{"id":"local"}]`)))
	got := store.Load(context.Background(), syncserver.ResourcePosts)
	assert.JSONEq(t, `[{"id":"local"}]`, string(got))
	assert.Error(t, store.LastRemoteError(syncserver.ResourcePosts))
}

func TestSaveIsWriteThrough(t *testing.T) {
	backend := newTestBackend(t, testToken)
	cfg := backend.clientConfig(t, testToken)
	store, err := NewStore(cfg.DataDir, NewRemote(cfg, nil), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, syncserver.ResourcePosts, json.RawMessage(`[{"id":"1"}]`)))

	// Both the server and the local file have the payload.
	remotePayload, _, err := backend.service.GetResource(syncserver.ResourcePosts)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"1"}]`, string(remotePayload))

	var local json.RawMessage
	require.NoError(t, jsonfile.Read(store.LocalPath(syncserver.ResourcePosts), &local))
	assert.JSONEq(t, `[{"id":"1"}]`, string(local))
}

func TestSaveWritesLocallyEvenWhenRemoteFails(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.BaseURL = "http://127.0.0.1:1"
	store, err := NewStore(cfg.DataDir, NewRemote(cfg, nil), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, syncserver.ResourcePosts, json.RawMessage(`[{"id":"1"}]`)),
		"remote failure must not fail the save")

	assert.Error(t, store.LastRemoteError(syncserver.ResourcePosts))

	var local json.RawMessage
	require.NoError(t, jsonfile.Read(store.LocalPath(syncserver.ResourcePosts), &local))
	assert.JSONEq(t, `[{"id":"1"}]`, string(local))
}

func TestResourceForFile(t *testing.T) {
	r, ok := ResourceForFile("posts.json")
	require.True(t, ok)
	assert.Equal(t, syncserver.ResourcePosts, r)

	_, ok = ResourceForFile("client_id")
	assert.False(t, ok)
}
