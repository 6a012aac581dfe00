package config

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SYNC_INTERVAL_MINUTES", "")
	t.Setenv("DATABASE_DRIVER", "")
	t.Setenv("LEASE_TTL", "")

	cfg := Load()
	assert.Equal(t, 15*time.Minute, cfg.SyncInterval)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, 10*time.Minute, cfg.LeaseTTL)
	assert.True(t, cfg.DedupPrecheck)
	assert.NotEmpty(t, cfg.WorkerID)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SYNC_INTERVAL_MINUTES", "5")
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("FETCH_MAX_PAGES", "3")
	t.Setenv("DEDUP_PRECHECK", "false")
	t.Setenv("LEASE_TTL", "90s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()
	assert.Equal(t, 5*time.Minute, cfg.SyncInterval)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, 3, cfg.FetchMaxPages)
	assert.False(t, cfg.DedupPrecheck)
	assert.Equal(t, 90*time.Second, cfg.LeaseTTL)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("SYNC_INTERVAL_MINUTES", "soon")
	t.Setenv("FETCH_PAGE_SIZE", "-4")

	cfg := Load()
	assert.Equal(t, 15*time.Minute, cfg.SyncInterval)
	assert.Equal(t, 50, cfg.FetchPageSize)
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("sync complete", "connection_id", "c1")

	require.Contains(t, stderr.String(), "sync complete")
	require.Contains(t, file.String(), `"connection_id":"c1"`)
	assert.NotContains(t, file.String(), "hidden")
}
