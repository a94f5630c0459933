// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncclient

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KingAli2wq/socialsync/internal/jsonfile"
	"github.com/KingAli2wq/socialsync/syncserver"
)

func TestWatcherPicksUpExternalEdit(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil, nil)
	require.NoError(t, err)
	sched, err := NewScheduler(store, nil, "client-test", DefaultConfig(dir), nil)
	require.NoError(t, err)

	w, err := NewWatcher(store, sched, nil)
	require.NoError(t, err)
	defer w.Close()

	// Prime the cache; without the watcher a later Load would return this
	// stale copy.
	assert.JSONEq(t, `[]`, string(sched.Load(context.Background(), syncserver.ResourcePosts)))

	// An external tool rewrites posts.json directly.
	require.NoError(t, jsonfile.Write(store.LocalPath(syncserver.ResourcePosts),
		json.RawMessage(`[{"id":"external"}]`)))

	require.Eventually(t, func() bool {
		payload := sched.Load(context.Background(), syncserver.ResourcePosts)
		return string(payload) != "[]" && json.Valid(payload)
	}, 3*time.Second, 20*time.Millisecond)

	assert.JSONEq(t, `[{"id":"external"}]`, string(sched.Load(context.Background(), syncserver.ResourcePosts)))
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil, nil)
	require.NoError(t, err)
	sched, err := NewScheduler(store, nil, "client-test", DefaultConfig(dir), nil)
	require.NoError(t, err)

	w, err := NewWatcher(store, sched, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, jsonfile.Write(store.LocalPath(syncserver.ResourcePosts), json.RawMessage(`["seed"]`)))

	// Give the watcher a moment, then confirm only posts was picked up and
	// nothing panicked on the unrelated file.
	require.NoError(t, jsonfile.WriteBytesAtomic(dir+"/notes.txt", []byte("not a resource")))
	time.Sleep(150 * time.Millisecond)

	assert.JSONEq(t, `["seed"]`, string(sched.Load(context.Background(), syncserver.ResourcePosts)))
}
