package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// FileEnv names the optional YAML file layered under the environment.
const FileEnv = "TIERLIST_CONFIG"

// Config captures all runtime configuration. Keys match the lowercased
// environment variable names, so PORT and `port:` in YAML set the same field.
type Config struct {
	Port            string        `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"server_read_timeout"`
	WriteTimeout    time.Duration `koanf:"server_write_timeout"`
	IdleTimeout     time.Duration `koanf:"server_idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"server_shutdown_timeout"`
	LogLevel        string        `koanf:"log_level"`

	DBURL             string        `koanf:"db_url"`
	DBMaxConns        int           `koanf:"db_max_conns"`
	DBMinConns        int           `koanf:"db_min_conns"`
	DBMaxConnIdle     time.Duration `koanf:"db_max_conn_idle"`
	DBMaxConnLifetime time.Duration `koanf:"db_max_conn_lifetime"`
	DBConnTimeout     time.Duration `koanf:"db_conn_timeout"`
	DBStatementCache  int           `koanf:"db_statement_cache_capacity"`
	DBMigrate         bool          `koanf:"db_migrate"`

	CatalogURL        string        `koanf:"catalog_url"`
	CatalogAPIKey     string        `koanf:"catalog_api_key"`
	CatalogTimeout    time.Duration `koanf:"catalog_timeout"`
	CatalogRatePerSec float64       `koanf:"catalog_rate_per_sec"`
	CatalogBurst      int           `koanf:"catalog_burst"`

	RedisURL       string        `koanf:"redis_url"`
	RatingCacheTTL time.Duration `koanf:"rating_cache_ttl"`

	SinkWorkers        int           `koanf:"sink_workers"`
	SinkQueueSize      int           `koanf:"sink_queue_size"`
	SinkJobTimeout     time.Duration `koanf:"sink_job_timeout"`
	SinkEnqueueTimeout time.Duration `koanf:"sink_enqueue_timeout"`

	SessionTTL time.Duration `koanf:"session_ttl"`
}

// Defaults returns the configuration used when nothing overrides a key.
func Defaults() Config {
	return Config{
		Port:               "8080",
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        60 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		LogLevel:           "info",
		DBMaxConns:         20,
		DBMinConns:         2,
		DBMaxConnIdle:      5 * time.Minute,
		DBMaxConnLifetime:  time.Hour,
		DBConnTimeout:      10 * time.Second,
		DBStatementCache:   256,
		DBMigrate:          true,
		CatalogTimeout:     5 * time.Second,
		CatalogRatePerSec:  10,
		CatalogBurst:       5,
		RatingCacheTTL:     5 * time.Minute,
		SinkWorkers:        4,
		SinkQueueSize:      1024,
		SinkJobTimeout:     5 * time.Second,
		SinkEnqueueTimeout: 250 * time.Millisecond,
		SessionTTL:         15 * time.Minute,
	}
}

// Load layers defaults, the YAML file named by TIERLIST_CONFIG (if set) and
// environment variables, in increasing precedence, then validates the result.
func Load() (Config, error) {
	k := koanf.New(".")

	if path := os.Getenv(FileEnv); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	// Empty variables count as unset.
	envProvider := env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		if value == "" {
			return "", nil
		}
		return strings.ToLower(key), value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	cfg := Defaults()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first offending key.
func (c Config) Validate() error {
	switch {
	case c.DBURL == "":
		return invalid("DB_URL is required")
	case c.CatalogURL == "":
		return invalid("CATALOG_URL is required")
	case c.ReadTimeout <= 0:
		return invalid("SERVER_READ_TIMEOUT must be positive")
	case c.WriteTimeout <= 0:
		return invalid("SERVER_WRITE_TIMEOUT must be positive")
	case c.IdleTimeout <= 0:
		return invalid("SERVER_IDLE_TIMEOUT must be positive")
	case c.ShutdownTimeout <= 0:
		return invalid("SERVER_SHUTDOWN_TIMEOUT must be positive")
	case c.CatalogTimeout <= 0:
		return invalid("CATALOG_TIMEOUT must be positive")
	case c.CatalogRatePerSec <= 0:
		return invalid("CATALOG_RATE_PER_SEC must be positive")
	case c.CatalogBurst < 1:
		return invalid("CATALOG_BURST must be at least 1")
	case c.DBMaxConns <= 0:
		return invalid("DB_MAX_CONNS must be positive")
	case c.DBMinConns < 0:
		return invalid("DB_MIN_CONNS must be non-negative")
	case c.DBMinConns > c.DBMaxConns:
		return invalid("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	case c.DBStatementCache < 0:
		return invalid("DB_STATEMENT_CACHE_CAPACITY must be non-negative")
	case c.RatingCacheTTL <= 0:
		return invalid("RATING_CACHE_TTL must be positive")
	case c.SinkWorkers < 1:
		return invalid("SINK_WORKERS must be at least 1")
	case c.SinkQueueSize < 1:
		return invalid("SINK_QUEUE_SIZE must be at least 1")
	case c.SinkJobTimeout <= 0:
		return invalid("SINK_JOB_TIMEOUT must be positive")
	case c.SinkEnqueueTimeout <= 0:
		return invalid("SINK_ENQUEUE_TIMEOUT must be positive")
	case c.SessionTTL <= 0:
		return invalid("SESSION_TTL must be positive")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Level returns the configured slog level.
func (c Config) Level() slog.Level {
	level, _ := ParseLevel(c.LogLevel)
	return level
}

// ParseLevel maps debug/info/warn/error onto slog levels.
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, invalid(fmt.Sprintf("LOG_LEVEL %q is not one of debug, info, warn, error", raw))
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}
