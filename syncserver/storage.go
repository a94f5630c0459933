// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncserver

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/KingAli2wq/socialsync/internal/jsonfile"
)

// Storage persists resource payloads on the server side. Implementations do
// not need to be safe for concurrent use; SyncService serializes access.
type Storage interface {
	// Load returns the stored payload for r, or (nil, nil) if r has never
	// been written.
	Load(r Resource) (json.RawMessage, error)
	// Save persists the payload for r, replacing any previous value.
	Save(r Resource, payload json.RawMessage) error
}

// FileStorage keeps one pretty-printed JSON file per resource in baseDir.
type FileStorage struct {
	baseDir string
}

// NewFileStorage creates baseDir if needed and returns a file-backed Storage.
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}
	return &FileStorage{baseDir: baseDir}, nil
}

func (s *FileStorage) path(r Resource) string {
	return filepath.Join(s.baseDir, r.FileName())
}

func (s *FileStorage) Load(r Resource) (json.RawMessage, error) {
	var payload json.RawMessage
	err := jsonfile.Read(s.path(r), &payload)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (s *FileStorage) Save(r Resource, payload json.RawMessage) error {
	return jsonfile.Write(s.path(r), payload)
}

// MemStorage is an in-memory Storage for tests and ephemeral deployments.
type MemStorage struct {
	mu   sync.Mutex
	data map[Resource]json.RawMessage
}

func NewMemStorage() *MemStorage {
	return &MemStorage{data: make(map[Resource]json.RawMessage)}
}

func (s *MemStorage) Load(r Resource) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.data[r]
	if !ok {
		return nil, nil
	}
	return payload, nil
}

func (s *MemStorage) Save(r Resource, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(json.RawMessage, len(payload))
	copy(cp, payload)
	s.data[r] = cp
	return nil
}
