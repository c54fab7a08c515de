package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/vjranagit/historian/pkg/storage"
)

// EnvPrefix prefixes every environment override, e.g. HISTORIAN_STORAGE_PATH
const EnvPrefix = "HISTORIAN"

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Query   QueryConfig   `mapstructure:"query"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Path             string        `mapstructure:"path"`
	RetentionDays    int           `mapstructure:"retention_days"` // 0 keeps data forever
	CompressionLevel int           `mapstructure:"compression_level"`
	Codec            string        `mapstructure:"codec"`
	EnableWAL        bool          `mapstructure:"enable_wal"`
	SyncWrites       bool          `mapstructure:"sync_writes"`
	BlockCacheSize   int           `mapstructure:"block_cache_size"` // 0 disables the cache
	BlockCacheTTL    time.Duration `mapstructure:"block_cache_ttl"`
	InMemory         bool          `mapstructure:"in_memory"`
}

// QueryConfig holds defaults applied to incoming queries
type QueryConfig struct {
	Timezone     string `mapstructure:"timezone"`
	DefaultLimit int    `mapstructure:"default_limit"` // 0 = unlimited
	MaxSeries    int    `mapstructure:"max_series"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or console
	File       string `mapstructure:"file"`   // empty logs to stderr
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":9090")
	v.SetDefault("server.timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("storage.path", "./data")
	v.SetDefault("storage.retention_days", 0)
	v.SetDefault("storage.compression_level", 3)
	v.SetDefault("storage.codec", "zstd")
	v.SetDefault("storage.enable_wal", true)
	v.SetDefault("storage.sync_writes", false)
	v.SetDefault("storage.block_cache_size", 1024)
	v.SetDefault("storage.block_cache_ttl", 10*time.Minute)
	v.SetDefault("storage.in_memory", false)

	v.SetDefault("query.timezone", "UTC")
	v.SetDefault("query.default_limit", 0)
	v.SetDefault("query.max_series", 100)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// defaults always decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads configuration from the optional YAML file, then applies
// HISTORIAN_ environment overrides on top of the defaults
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("historian")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/historian/")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// ToStorageConfig converts to storage.Config
func (c *Config) ToStorageConfig() *storage.Config {
	return &storage.Config{
		Path:             c.Storage.Path,
		RetentionDays:    c.Storage.RetentionDays,
		CompressionLevel: c.Storage.CompressionLevel,
		Codec:            c.Storage.Codec,
		EnableWAL:        c.Storage.EnableWAL,
		SyncWrites:       c.Storage.SyncWrites,
		BlockCacheSize:   c.Storage.BlockCacheSize,
		BlockCacheTTL:    c.Storage.BlockCacheTTL,
		InMemory:         c.Storage.InMemory,
	}
}

// Location resolves the default query timezone
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Query.Timezone)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}

	if c.Storage.Path == "" && !c.Storage.InMemory {
		return fmt.Errorf("storage path is required")
	}

	if c.Storage.RetentionDays < 0 {
		return fmt.Errorf("retention days must not be negative")
	}

	if c.Storage.CompressionLevel < 1 || c.Storage.CompressionLevel > 4 {
		return fmt.Errorf("compression level must be between 1 and 4")
	}

	if _, err := storage.ParseCodec(c.Storage.Codec); err != nil {
		return fmt.Errorf("storage codec: %w", err)
	}

	if _, err := c.Location(); err != nil {
		return fmt.Errorf("query timezone: %w", err)
	}

	if c.Query.DefaultLimit < 0 {
		return fmt.Errorf("query default limit must not be negative")
	}

	if c.Query.MaxSeries < 1 {
		return fmt.Errorf("query max series must be at least 1")
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging level: %w", err)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be json or console")
	}

	return nil
}
