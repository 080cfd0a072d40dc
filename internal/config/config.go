// Package config loads the process configuration from the environment,
// layering a local .env file under real environment variables.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the fully resolved, validated process configuration.
type Config struct {
	Port int

	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MasterKey []byte

	ExecutorConcurrency   int
	ReconcilerConcurrency int
	ReconcileInterval     time.Duration

	LogLevel  string
	LogPretty bool

	ErrorSinkDSN string

	ArchiveBucket          string
	ArchivePrefix          string
	ArchiveRegion          string
	ArchiveEndpoint        string
	ArchiveAccessKeyID     string
	ArchiveSecretAccessKey string
	ArchiveInterval        time.Duration

	DevMode bool
}

// Load reads .env (if present, never required) then the real environment,
// and returns a validated Config. A non-nil error here is always fatal: the
// caller should exit 1 without attempting to serve traffic.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnvAsInt("PORT", 8080),
		DatabaseDSN:           getEnv("DATABASE_DSN", "file:signalbridge.db?_pragma=busy_timeout(5000)"),
		RedisAddr:             getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:         getEnv("REDIS_PASSWORD", ""),
		RedisDB:               getEnvAsInt("REDIS_DB", 0),
		ExecutorConcurrency:   getEnvAsInt("EXECUTOR_CONCURRENCY", 5),
		ReconcilerConcurrency: getEnvAsInt("RECONCILER_CONCURRENCY", 3),
		ReconcileInterval:     getEnvAsDuration("RECONCILE_INTERVAL", 30*time.Second),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogPretty:             getEnvAsBool("LOG_PRETTY", false),
		ErrorSinkDSN:          getEnv("ERROR_SINK_DSN", ""),
		ArchiveBucket:          getEnv("ARCHIVE_BUCKET", ""),
		ArchivePrefix:          getEnv("ARCHIVE_PREFIX", "signalbridge/archive"),
		ArchiveRegion:          getEnv("ARCHIVE_REGION", "auto"),
		ArchiveEndpoint:        getEnv("ARCHIVE_ENDPOINT", ""),
		ArchiveAccessKeyID:     getEnv("ARCHIVE_ACCESS_KEY_ID", ""),
		ArchiveSecretAccessKey: getEnv("ARCHIVE_SECRET_ACCESS_KEY", ""),
		ArchiveInterval:        getEnvAsDuration("ARCHIVE_INTERVAL", 24*time.Hour),
		DevMode:                getEnvAsBool("DEV_MODE", false),
	}

	rawKey := getEnv("MASTER_KEY", "")
	if rawKey == "" {
		return nil, fmt.Errorf("config: MASTER_KEY is required")
	}
	key, err := base64.StdEncoding.DecodeString(rawKey)
	if err != nil {
		return nil, fmt.Errorf("config: MASTER_KEY is not valid base64: %w", err)
	}
	cfg.MasterKey = key

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast on configuration that would leave the process in an
// unrecoverable state once it starts accepting traffic.
func (c *Config) Validate() error {
	if len(c.MasterKey) != 32 {
		return fmt.Errorf("config: MASTER_KEY must decode to exactly 32 bytes, got %d", len(c.MasterKey))
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("config: DATABASE_DSN must not be empty")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("config: REDIS_ADDR must not be empty")
	}
	if c.ExecutorConcurrency < 1 || c.ReconcilerConcurrency < 1 {
		return fmt.Errorf("config: worker concurrency overrides must be >= 1")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
