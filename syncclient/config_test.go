// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncclient

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("SOCIAL_SERVER_URL", "")
	t.Setenv("SOCIAL_SERVER_TOKEN", "")
	t.Setenv("REALTIME_POLL_MS", "")
	t.Setenv("BACKUP_POLL_SECONDS", "")

	cfg := ConfigFromEnv(t.TempDir())
	assert.Empty(t, cfg.BaseURL)
	assert.Equal(t, DefaultRealtimePoll, cfg.RealtimePoll)
	assert.Equal(t, DefaultBackupPoll, cfg.BackupPoll)
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("SOCIAL_SERVER_URL", "https://sync.example.com/")
	t.Setenv("SOCIAL_SERVER_TOKEN", " tok ")
	t.Setenv("REALTIME_POLL_MS", "250")
	t.Setenv("BACKUP_POLL_SECONDS", "120")

	cfg := ConfigFromEnv(t.TempDir())
	assert.Equal(t, "https://sync.example.com", cfg.BaseURL, "trailing slash trimmed")
	assert.Equal(t, "tok", cfg.Token)
	assert.Equal(t, 250*time.Millisecond, cfg.RealtimePoll)
	assert.Equal(t, 120*time.Second, cfg.BackupPoll)
}

func TestConfigFromEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("SOCIAL_SERVER_URL", "")
	t.Setenv("REALTIME_POLL_MS", "soon")
	t.Setenv("BACKUP_POLL_SECONDS", "-5")

	cfg := ConfigFromEnv(t.TempDir())
	assert.Equal(t, DefaultRealtimePoll, cfg.RealtimePoll)
	assert.Equal(t, DefaultBackupPoll, cfg.BackupPoll)
}

func TestEnsureClientIDStableAcrossCalls(t *testing.T) {
	dir := t.TempDir()

	first, err := EnsureClientID(dir)
	require.NoError(t, err)
	_, err = uuid.Parse(first)
	require.NoError(t, err, "client id must be a UUID")

	second, err := EnsureClientID(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEnsureClientIDDistinctPerDir(t *testing.T) {
	a, err := EnsureClientID(t.TempDir())
	require.NoError(t, err)
	b, err := EnsureClientID(t.TempDir())
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
