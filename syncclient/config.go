// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package syncclient implements the client half of the resource sync
// protocol: a dual-mode resource store (local JSON files, optionally
// mirrored through the sync server), a scheduler that debounces outbound
// pushes and polls for inbound changes, and media blob transfer.
package syncclient

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds configuration for the sync client.
type Config struct {
	BaseURL string // empty disables remote mode entirely
	Token   string
	DataDir string // resource JSON files, client_id, media/ subtree

	RealtimePoll      time.Duration // fast check-updates period
	BackupPoll        time.Duration // slow failsafe poll period
	BackupStartDelay  time.Duration // delay before the backup loop starts
	PushDebounce      time.Duration // quiet period before a push fires
	LightRefreshDelay time.Duration // one-shot poll delay after a push
	MediaTimeout      time.Duration // per-call media transfer timeout
}

// Default intervals. RealtimePoll and BackupPoll can be overridden via
// REALTIME_POLL_MS and BACKUP_POLL_SECONDS.
const (
	DefaultRealtimePoll      = 800 * time.Millisecond
	DefaultBackupPoll        = 300 * time.Second
	DefaultBackupStartDelay  = 60 * time.Second
	DefaultPushDebounce      = 75 * time.Millisecond
	DefaultLightRefreshDelay = 200 * time.Millisecond
	DefaultMediaTimeout      = 10 * time.Second
)

// DefaultConfig returns a local-only configuration rooted at dataDir.
func DefaultConfig(dataDir string) *Config {
	return &Config{
		DataDir:           dataDir,
		RealtimePoll:      DefaultRealtimePoll,
		BackupPoll:        DefaultBackupPoll,
		BackupStartDelay:  DefaultBackupStartDelay,
		PushDebounce:      DefaultPushDebounce,
		LightRefreshDelay: DefaultLightRefreshDelay,
		MediaTimeout:      DefaultMediaTimeout,
	}
}

// ConfigFromEnv builds a configuration from the process environment:
// SOCIAL_SERVER_URL (enables remote mode), SOCIAL_SERVER_TOKEN,
// REALTIME_POLL_MS and BACKUP_POLL_SECONDS.
func ConfigFromEnv(dataDir string) *Config {
	cfg := DefaultConfig(dataDir)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("SOCIAL_SERVER_URL")), "/")
	cfg.Token = strings.TrimSpace(os.Getenv("SOCIAL_SERVER_TOKEN"))

	if raw := os.Getenv("REALTIME_POLL_MS"); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			cfg.RealtimePoll = time.Duration(ms) * time.Millisecond
		}
	}
	if raw := os.Getenv("BACKUP_POLL_SECONDS"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			cfg.BackupPoll = time.Duration(secs) * time.Second
		}
	}
	return cfg
}

// normalize fills zero durations with defaults so a partially constructed
// Config behaves sensibly.
func (c *Config) normalize() {
	if c.RealtimePoll <= 0 {
		c.RealtimePoll = DefaultRealtimePoll
	}
	if c.BackupPoll <= 0 {
		c.BackupPoll = DefaultBackupPoll
	}
	if c.BackupStartDelay < 0 {
		c.BackupStartDelay = DefaultBackupStartDelay
	}
	if c.PushDebounce <= 0 {
		c.PushDebounce = DefaultPushDebounce
	}
	if c.LightRefreshDelay <= 0 {
		c.LightRefreshDelay = DefaultLightRefreshDelay
	}
	if c.MediaTimeout <= 0 {
		c.MediaTimeout = DefaultMediaTimeout
	}
}

// EnsureClientID loads the persisted client id from dataDir, generating and
// storing a fresh UUID on first run so the id survives restarts.
func EnsureClientID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, "client_id")
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read client id: %w", err)
	}

	id := uuid.New().String()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("failed to persist client id: %w", err)
	}
	return id, nil
}
