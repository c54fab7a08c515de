package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.Server.Timeout)
	assert.Equal(t, "./data", cfg.Storage.Path)
	assert.Equal(t, "zstd", cfg.Storage.Codec)
	assert.True(t, cfg.Storage.EnableWAL)
	assert.Equal(t, 10*time.Minute, cfg.Storage.BlockCacheTTL)
	assert.Equal(t, "UTC", cfg.Query.Timezone)
	assert.Equal(t, "info", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvironmentVariables(t *testing.T) {
	t.Setenv("HISTORIAN_SERVER_LISTEN_ADDR", ":7070")
	t.Setenv("HISTORIAN_STORAGE_PATH", "/tmp/historian")
	t.Setenv("HISTORIAN_STORAGE_CODEC", "lz4")
	t.Setenv("HISTORIAN_STORAGE_BLOCK_CACHE_TTL", "90s")
	t.Setenv("HISTORIAN_QUERY_TIMEZONE", "Europe/Berlin")
	t.Setenv("HISTORIAN_LOGGING_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err, "an explicit config file must exist")
	assert.Nil(t, cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.ListenAddr)
	assert.Equal(t, "/tmp/historian", cfg.Storage.Path)
	assert.Equal(t, "lz4", cfg.Storage.Codec)
	assert.Equal(t, 90*time.Second, cfg.Storage.BlockCacheTTL)
	assert.Equal(t, "Europe/Berlin", cfg.Query.Timezone)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())

	sc := cfg.ToStorageConfig()
	assert.Equal(t, "/tmp/historian", sc.Path)
	assert.Equal(t, "lz4", sc.Codec)
	assert.Equal(t, 90*time.Second, sc.BlockCacheTTL)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "historian.yaml")
	data := []byte(`
server:
  listen_addr: ":8088"
storage:
  retention_days: 90
  compression_level: 1
query:
  default_limit: 5000
logging:
  format: console
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8088", cfg.Server.ListenAddr)
	assert.Equal(t, 90, cfg.Storage.RetentionDays)
	assert.Equal(t, 1, cfg.Storage.CompressionLevel)
	assert.Equal(t, 5000, cfg.Query.DefaultLimit)
	assert.Equal(t, "console", cfg.Logging.Format)
	// untouched keys keep their defaults
	assert.Equal(t, "zstd", cfg.Storage.Codec)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		description string
		mutate      func(*Config)
	}{
		{"empty listen address", func(c *Config) { c.Server.ListenAddr = "" }},
		{"empty path", func(c *Config) { c.Storage.Path = "" }},
		{"negative retention", func(c *Config) { c.Storage.RetentionDays = -1 }},
		{"compression level", func(c *Config) { c.Storage.CompressionLevel = 5 }},
		{"codec", func(c *Config) { c.Storage.Codec = "gzip" }},
		{"timezone", func(c *Config) { c.Query.Timezone = "Mars/Olympus" }},
		{"negative limit", func(c *Config) { c.Query.DefaultLimit = -1 }},
		{"max series", func(c *Config) { c.Query.MaxSeries = 0 }},
		{"log level", func(c *Config) { c.Logging.Level = "chatty" }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := DefaultConfig()
	cfg.Storage.Path = ""
	cfg.Storage.InMemory = true
	assert.NoError(t, cfg.Validate(), "in-memory storage needs no path")
}
