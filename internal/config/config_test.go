package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	for _, k := range []string{
		"PLANNING_CENTER_REDIRECT_URI",
		"PLANNING_CENTER_API_BASE_URL",
		"PLANNING_CENTER_SCOPES",
		"REQUEST_TIMEOUT",
		"SYNC_INTERVAL",
		"HOST",
		"PORT",
		"LOG_LEVEL",
		"OTEL_SERVICE_NAME",
	} {
		t.Setenv(k, "")
	}
	cfg := New()

	assert.Equal(t, DefaultRedirectURI, cfg.GetRedirectURI())
	assert.Equal(t, DefaultAPIBaseURL, cfg.GetAPIBaseURL())
	assert.Equal(t, []string{"people", "services"}, cfg.GetScopes())
	assert.Equal(t, 30*time.Second, cfg.GetRequestTimeout())
	assert.Equal(t, "15", cfg.GetSyncInterval())
	assert.Equal(t, "localhost:8080", cfg.GetAddr())
	assert.Equal(t, slog.LevelInfo, cfg.GetLogLevel())
	assert.Equal(t, DefaultServiceName, cfg.GetServiceName())
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PLANNING_CENTER_APP_ID", "app-id")
	t.Setenv("PLANNING_CENTER_SECRET", "secret")
	t.Setenv("PLANNING_CENTER_API_BASE_URL", "http://127.0.0.1:9999/")
	t.Setenv("PLANNING_CENTER_SCOPES", "people  services calendar")
	t.Setenv("REQUEST_TIMEOUT", "5s")
	t.Setenv("SYNC_INTERVAL", "30")
	t.Setenv("LOG_LEVEL", "WARNING")
	cfg := New()

	assert.Equal(t, "app-id", cfg.GetClientID())
	assert.Equal(t, "secret", cfg.GetClientSecret())
	assert.Equal(t, "http://127.0.0.1:9999", cfg.GetAPIBaseURL())
	assert.Equal(t, []string{"people", "services", "calendar"}, cfg.GetScopes())
	assert.Equal(t, 5*time.Second, cfg.GetRequestTimeout())
	assert.Equal(t, "30", cfg.GetSyncInterval())
	assert.Equal(t, slog.LevelWarn, cfg.GetLogLevel())
}

func TestConfigInvalidValuesFallBack(t *testing.T) {
	t.Setenv("REQUEST_TIMEOUT", "soon")
	t.Setenv("SYNC_INTERVAL", "-3")
	cfg := New()

	assert.Equal(t, 30*time.Second, cfg.GetRequestTimeout())
	assert.Equal(t, DefaultSyncInterval, cfg.GetSyncInterval())
}

func TestGetDsn(t *testing.T) {
	t.Run("explicit DSN", func(t *testing.T) {
		t.Setenv("DSN", "postgres://app@db:5432/pc?sslmode=disable")
		u, err := New().GetDsn()
		require.NoError(t, err)
		assert.Equal(t, "db:5432", u.Host)
	})

	t.Run("assembled from PG env", func(t *testing.T) {
		t.Setenv("DSN", "")
		t.Setenv("PGUSER", "pc")
		t.Setenv("PGDATABASE", "analytics")
		t.Setenv("PGHOST", "pg.internal")
		t.Setenv("PGPORT", "6543")
		u, err := New().GetDsn()
		require.NoError(t, err)
		assert.Equal(t, "postgres://pc@pg.internal:6543/analytics?sslmode=disable", u.String())
	})

	t.Run("invalid DSN", func(t *testing.T) {
		t.Setenv("DSN", "no-scheme")
		_, err := New().GetDsn()
		assert.Error(t, err)
	})
}

func TestLogLevelFollowsConfigFile(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	path := filepath.Join(t.TempDir(), "pcanalytics.yaml")
	require.NoError(t, os.WriteFile(path, []byte("LOG_LEVEL: warn\n"), 0o600))

	cfg := New()
	require.NoError(t, cfg.SetConfigFile(path))

	var level atomic.Int64
	cfg.OnLogLevelChange(func(l slog.Level) { level.Store(int64(l)) })
	assert.Equal(t, slog.LevelWarn, slog.Level(level.Load()))

	cfg.Watch()
	require.NoError(t, os.WriteFile(path, []byte("LOG_LEVEL: error\n"), 0o600))
	assert.Eventually(t, func() bool {
		return slog.Level(level.Load()) == slog.LevelError
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSetConfigFileMissing(t *testing.T) {
	cfg := New()
	assert.Error(t, cfg.SetConfigFile(filepath.Join(t.TempDir(), "missing.yaml")))
	cfg = New()
	cfg.Watch()
}
