package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XavierBriggs/fortuna/services/results-service/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 30*time.Minute, cfg.Scraper.Interval)
	assert.Equal(t, 120*time.Second, cfg.Scraper.FetchTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Scraper.BackoffBase)
	assert.Equal(t, 30*time.Minute, cfg.Scraper.BackoffMax)
	assert.True(t, cfg.Scraper.SkipLive)
	assert.True(t, cfg.Scraper.Autostart)
	assert.Equal(t, config.BackendMemory, cfg.Store.Backend)
	assert.Equal(t, 7*24*time.Hour, cfg.Store.Retention)
	assert.Equal(t, 24, cfg.DefaultQueryHours)
	assert.False(t, cfg.NeedsRedis())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("SCRAPE_INTERVAL_SECONDS", "60")
	t.Setenv("RETENTION_WINDOW_SECONDS", "3600")
	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("SOURCE_SKIP_LIVE", "false")
	t.Setenv("CORS_ORIGINS", "http://a.example, http://b.example")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, time.Minute, cfg.Scraper.Interval)
	assert.Equal(t, time.Hour, cfg.Store.Retention)
	assert.Equal(t, config.BackendRedis, cfg.Store.Backend)
	assert.False(t, cfg.Scraper.SkipLive)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.NeedsRedis())
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scrape_interval_seconds: 900\nlog_level: debug\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Scraper.Interval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, path, cfg.ConfigFile)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"zero interval", "SCRAPE_INTERVAL_SECONDS", "0"},
		{"negative retention", "RETENTION_WINDOW_SECONDS", "-5"},
		{"zero timeout", "FETCH_TIMEOUT_SECONDS", "0"},
		{"unknown backend", "STORE_BACKEND", "etcd"},
		{"max below base", "BACKOFF_MAX_SECONDS", "60"},
		{"zero query hours", "DEFAULT_QUERY_HOURS", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := config.Load("")
			assert.Error(t, err)
		})
	}
}
