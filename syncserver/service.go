// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package syncserver implements the server half of the resource sync
// protocol: per-resource change tracking with per-client last-seen
// watermarks, pluggable payload storage, the HTTP API, and the media blob
// store.
package syncserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ServiceConfig holds configuration for the sync service
type ServiceConfig struct {
	// ClientTTL bounds how long per-client sync state survives without
	// contact. Zero means DefaultClientTTL.
	ClientTTL time.Duration

	// Now overrides the clock, for tests. Nil means time.Now.
	Now func() time.Time
}

// DefaultClientTTL is how long a client's last-seen state is retained after
// its most recent check-updates or mark-synced call.
const DefaultClientTTL = 24 * time.Hour

// clientState tracks what one client has acknowledged per resource.
type clientState struct {
	lastSeen    map[Resource]int64
	lastContact time.Time
}

// SyncService tracks per-resource modification times and per-client last-seen
// watermarks, and owns the server-side resource payloads via an injected
// Storage. All shared state is guarded by a single coarse mutex; payloads are
// small and writes infrequent.
type SyncService struct {
	storage Storage
	logger  *slog.Logger
	config  *ServiceConfig

	mu        sync.Mutex
	updatedAt map[Resource]int64 // unix millis, strictly monotonic per resource
	clients   map[string]*clientState
}

// NewSyncService creates a sync service over the given storage. A nil config
// or logger falls back to defaults.
func NewSyncService(storage Storage, config *ServiceConfig, logger *slog.Logger) (*SyncService, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if config == nil {
		config = &ServiceConfig{}
	}
	if config.ClientTTL <= 0 {
		config.ClientTTL = DefaultClientTTL
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncService{
		storage:   storage,
		logger:    logger,
		config:    config,
		updatedAt: make(map[Resource]int64),
		clients:   make(map[string]*clientState),
	}, nil
}

// GetResource returns the current payload and version for r, seeding the
// type-appropriate default on first read. Reads never advance the version.
func (s *SyncService) GetResource(r Resource) (json.RawMessage, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := s.storage.Load(r)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load %s: %w", r, err)
	}
	if payload == nil {
		payload = DefaultPayload(r)
	}
	return payload, s.updatedAt[r], nil
}

// PutResource validates and persists a full replacement payload for r, then
// records the write. baseVersion, when non-nil, is compared against the
// current version: a mismatch still applies the write (last write wins) but
// is reported back as conflict=true so callers can detect lost updates.
func (s *SyncService) PutResource(r Resource, payload json.RawMessage, baseVersion *int64) (int64, bool, error) {
	if err := validatePayload(payload); err != nil {
		return 0, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conflict := baseVersion != nil && *baseVersion != s.updatedAt[r]

	if err := s.storage.Save(r, payload); err != nil {
		return 0, false, fmt.Errorf("failed to save %s: %w", r, err)
	}

	version := s.recordWriteLocked(r)
	s.logger.Debug("resource written", "resource", r, "version", version, "conflict", conflict)
	return version, conflict, nil
}

// recordWriteLocked advances updatedAt for r. The wall clock is clamped so
// the sequence stays strictly increasing even when writes land within the
// same millisecond. Caller holds s.mu.
func (s *SyncService) recordWriteLocked(r Resource) int64 {
	now := s.config.Now().UnixMilli()
	if prev := s.updatedAt[r]; now <= prev {
		now = prev + 1
	}
	s.updatedAt[r] = now
	return now
}

// CheckUpdates reports every resource whose updatedAt is newer than what
// clientID last acknowledged, keyed to the current updatedAt. A missing
// last-seen entry counts as never-synced. lastSeen is not mutated; clients
// acknowledge explicitly via MarkSynced.
func (s *SyncService) CheckUpdates(clientID string) (map[Resource]int64, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: client_id required", ErrBadPayload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.touchClientLocked(clientID)
	updates := make(map[Resource]int64)
	for r, at := range s.updatedAt {
		seen, ok := state.lastSeen[r]
		if !ok || at > seen {
			updates[r] = at
		}
	}
	return updates, nil
}

// MarkSynced records that clientID has absorbed the current state of the
// named resources. The acknowledged value is the server-observed updatedAt
// at call time, never a client-supplied timestamp.
func (s *SyncService) MarkSynced(clientID string, resources []Resource) error {
	if clientID == "" {
		return fmt.Errorf("%w: client_id required", ErrBadPayload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.touchClientLocked(clientID)
	for _, r := range resources {
		state.lastSeen[r] = s.updatedAt[r]
	}
	return nil
}

// touchClientLocked lazily creates the per-client state, refreshes its
// last-contact time, and evicts clients idle past ClientTTL. Caller holds
// s.mu.
func (s *SyncService) touchClientLocked(clientID string) *clientState {
	now := s.config.Now()

	for id, st := range s.clients {
		if id != clientID && now.Sub(st.lastContact) > s.config.ClientTTL {
			delete(s.clients, id)
			s.logger.Debug("evicted idle client state", "client_id", id)
		}
	}

	state, ok := s.clients[clientID]
	if !ok {
		state = &clientState{lastSeen: make(map[Resource]int64)}
		s.clients[clientID] = state
	}
	state.lastContact = now
	return state
}

// ClientCount reports how many clients currently have tracked state.
func (s *SyncService) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
