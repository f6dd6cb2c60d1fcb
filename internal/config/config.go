package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr        string
	CORSOrigins []string
}

// ScraperConfig holds the scrape scheduler and source settings
type ScraperConfig struct {
	Interval     time.Duration
	FetchTimeout time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	SourceURL    string
	SkipLive     bool
	Autostart    bool
}

// StoreConfig holds event store configuration
type StoreConfig struct {
	Backend   string
	Shards    int
	Retention time.Duration
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	URL string

	// Publish enables the results.updates.<sport> stream sink
	Publish bool
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string
	Format string
}

// Config holds all application configuration
type Config struct {
	Server            ServerConfig
	Scraper           ScraperConfig
	Store             StoreConfig
	Redis             RedisConfig
	ArchiveDSN        string
	Log               LogConfig
	DefaultQueryHours int

	// ConfigFile is the file actually read, if any
	ConfigFile string
}

// Keys double as env names (upper-cased) and YAML keys
const (
	keyServerAddr        = "server_addr"
	keyCORSOrigins       = "cors_origins"
	keyScrapeInterval    = "scrape_interval_seconds"
	keyRetentionWindow   = "retention_window_seconds"
	keyFetchTimeout      = "fetch_timeout_seconds"
	keyBackoffBase       = "backoff_base_seconds"
	keyBackoffMax        = "backoff_max_seconds"
	keySourceURL         = "source_base_url"
	keySkipLive          = "source_skip_live"
	keyStoreBackend      = "store_backend"
	keyStoreShards       = "store_shards"
	keyRedisURL          = "redis_url"
	keyPublishStream     = "publish_stream"
	keyArchiveDSN        = "archive_dsn"
	keyLogLevel          = "log_level"
	keyLogFormat         = "log_format"
	keyAutostart         = "autostart"
	keyDefaultQueryHours = "default_query_hours"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault(keyServerAddr, ":8080")
	v.SetDefault(keyCORSOrigins, "*")
	v.SetDefault(keyScrapeInterval, 1800)
	v.SetDefault(keyRetentionWindow, 7*24*3600)
	v.SetDefault(keyFetchTimeout, 120)
	v.SetDefault(keyBackoffBase, 600)
	v.SetDefault(keyBackoffMax, 1800)
	v.SetDefault(keySourceURL, "https://www.marathonbet.com")
	v.SetDefault(keySkipLive, true)
	v.SetDefault(keyStoreBackend, BackendMemory)
	v.SetDefault(keyStoreShards, 32)
	v.SetDefault(keyRedisURL, "redis://localhost:6380/0")
	v.SetDefault(keyPublishStream, false)
	v.SetDefault(keyArchiveDSN, "")
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyLogFormat, "json")
	v.SetDefault(keyAutostart, true)
	v.SetDefault(keyDefaultQueryHours, 24)
}

// Load reads configuration from, in order of precedence:
// environment variables, .env files, the optional YAML file, defaults
func Load(configFile string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:        v.GetString(keyServerAddr),
			CORSOrigins: splitList(v.GetString(keyCORSOrigins)),
		},
		Scraper: ScraperConfig{
			Interval:     seconds(v.GetInt(keyScrapeInterval)),
			FetchTimeout: seconds(v.GetInt(keyFetchTimeout)),
			BackoffBase:  seconds(v.GetInt(keyBackoffBase)),
			BackoffMax:   seconds(v.GetInt(keyBackoffMax)),
			SourceURL:    strings.TrimRight(v.GetString(keySourceURL), "/"),
			SkipLive:     v.GetBool(keySkipLive),
			Autostart:    v.GetBool(keyAutostart),
		},
		Store: StoreConfig{
			Backend:   strings.ToLower(strings.TrimSpace(v.GetString(keyStoreBackend))),
			Shards:    v.GetInt(keyStoreShards),
			Retention: seconds(v.GetInt(keyRetentionWindow)),
		},
		Redis: RedisConfig{
			URL:     v.GetString(keyRedisURL),
			Publish: v.GetBool(keyPublishStream),
		},
		ArchiveDSN: v.GetString(keyArchiveDSN),
		Log: LogConfig{
			Level:  v.GetString(keyLogLevel),
			Format: v.GetString(keyLogFormat),
		},
		DefaultQueryHours: v.GetInt(keyDefaultQueryHours),
		ConfigFile:        v.ConfigFileUsed(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	var errs []error

	durations := []struct {
		key   string
		value time.Duration
	}{
		{keyScrapeInterval, c.Scraper.Interval},
		{keyFetchTimeout, c.Scraper.FetchTimeout},
		{keyBackoffBase, c.Scraper.BackoffBase},
		{keyBackoffMax, c.Scraper.BackoffMax},
		{keyRetentionWindow, c.Store.Retention},
	}
	for _, d := range durations {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.key))
		}
	}

	if c.Scraper.BackoffMax < c.Scraper.BackoffBase {
		errs = append(errs, fmt.Errorf("%s must not be below %s", keyBackoffMax, keyBackoffBase))
	}
	if c.DefaultQueryHours <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", keyDefaultQueryHours))
	}

	switch c.Store.Backend {
	case BackendMemory:
		if c.Store.Shards <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", keyStoreShards))
		}
	case BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("%s must be %q or %q, got %q", keyStoreBackend, BackendMemory, BackendRedis, c.Store.Backend))
	}

	if (c.Store.Backend == BackendRedis || c.Redis.Publish) && c.Redis.URL == "" {
		errs = append(errs, fmt.Errorf("%s is required for the redis backend or stream publishing", keyRedisURL))
	}
	if c.Scraper.SourceURL == "" {
		errs = append(errs, fmt.Errorf("%s is required", keySourceURL))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// NeedsRedis reports whether any component requires a Redis connection
func (c *Config) NeedsRedis() bool {
	return c.Store.Backend == BackendRedis || c.Redis.Publish
}

// loadEnvFiles loads .env then .env.local; missing files are ignored
func loadEnvFiles() {
	for _, envFile := range []string{".env", ".env.local"} {
		_ = godotenv.Load(envFile)
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
