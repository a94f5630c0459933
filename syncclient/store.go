// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/KingAli2wq/socialsync/internal/jsonfile"
	"github.com/KingAli2wq/socialsync/syncserver"
)

// Store is the dual-mode resource store. With a remote configured, loads
// prefer the server and saves are write-through (remote attempt plus an
// unconditional local write). Without one it is a plain JSON-file store.
//
// Load never fails: any remote or file problem degrades to the resource's
// type-appropriate default.
type Store struct {
	dataDir string
	remote  *Remote // nil in local-only mode
	logger  *slog.Logger

	mu         sync.Mutex
	lastErr    map[syncserver.Resource]error
	ownWriteAt map[syncserver.Resource]time.Time
}

// NewStore creates dataDir if needed. remote may be nil for local-only mode.
func NewStore(dataDir string, remote *Remote, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dataDir:    dataDir,
		remote:     remote,
		logger:     logger,
		lastErr:    make(map[syncserver.Resource]error),
		ownWriteAt: make(map[syncserver.Resource]time.Time),
	}, nil
}

// LocalPath returns the on-disk location of a resource's JSON file.
func (s *Store) LocalPath(r syncserver.Resource) string {
	return filepath.Join(s.dataDir, r.FileName())
}

// RemoteEnabled reports whether a sync server is configured.
func (s *Store) RemoteEnabled() bool {
	return s.remote != nil
}

// Load returns the current payload for r. Remote first when configured, then
// the local file, then the type default. Failures are recorded in the
// per-resource error side-channel, never returned.
func (s *Store) Load(ctx context.Context, r syncserver.Resource) json.RawMessage {
	if s.remote != nil {
		payload, _, err := s.remote.GetResource(ctx, r)
		if err == nil {
			s.setLastErr(r, nil)
			return payload
		}
		s.setLastErr(r, err)
		s.logger.Debug("remote load failed, falling back to local", "resource", r, "error", err)
	}
	return s.LoadLocal(r)
}

// LoadLocal reads r from the local file only, degrading to the default on
// any problem.
func (s *Store) LoadLocal(r syncserver.Resource) json.RawMessage {
	var payload json.RawMessage
	err := jsonfile.Read(s.LocalPath(r), &payload)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("unreadable local resource file", "resource", r, "error", err)
		}
		return syncserver.DefaultPayload(r)
	}
	if len(payload) == 0 || string(payload) == "null" {
		return syncserver.DefaultPayload(r)
	}
	return payload
}

// Save persists payload write-through: the remote mirror is attempted when
// configured, and the local file is always written regardless of the remote
// outcome, so the local copy is never stale relative to local edits. The
// returned error reflects only the local write; remote failures land in the
// error side-channel.
func (s *Store) Save(ctx context.Context, r syncserver.Resource, payload json.RawMessage) error {
	if !json.Valid(payload) {
		return fmt.Errorf("%w: invalid JSON for %s", syncserver.ErrBadPayload, r)
	}

	if s.remote != nil {
		if err := s.remote.PutResource(ctx, r, payload); err != nil {
			s.setLastErr(r, err)
			s.logger.Debug("remote save failed, local copy still written", "resource", r, "error", err)
		} else {
			s.setLastErr(r, nil)
		}
	}
	return s.SaveLocal(r, payload)
}

// SaveLocal writes only the local file. Used by the scheduler, which owns
// the remote push timing itself.
func (s *Store) SaveLocal(r syncserver.Resource, payload json.RawMessage) error {
	if !json.Valid(payload) {
		return fmt.Errorf("%w: invalid JSON for %s", syncserver.ErrBadPayload, r)
	}
	if err := jsonfile.Write(s.LocalPath(r), payload); err != nil {
		return fmt.Errorf("failed to write %s: %w", r, err)
	}
	s.mu.Lock()
	s.ownWriteAt[r] = time.Now()
	s.mu.Unlock()
	return nil
}

// LastRemoteError exposes the most recent remote failure for r, nil after a
// subsequent success. This is the UI's sync-health side-channel.
func (s *Store) LastRemoteError(r syncserver.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr[r]
}

func (s *Store) setLastErr(r syncserver.Resource, err error) {
	s.mu.Lock()
	s.lastErr[r] = err
	s.mu.Unlock()
}

// WrittenBySelfWithin reports whether this process wrote r's file within d.
// The file watcher uses it to ignore events caused by the store's own saves.
func (s *Store) WrittenBySelfWithin(r syncserver.Resource, d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.ownWriteAt[r]
	return ok && time.Since(at) <= d
}

// ResourceForFile maps a file name in the data dir back to its resource,
// for the watcher.
func ResourceForFile(name string) (syncserver.Resource, bool) {
	for _, r := range syncserver.Resources {
		if name == r.FileName() {
			return r, true
		}
	}
	return "", false
}
