package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv      string
	OpsPort     string
	DatabaseURL string
	RedisURL    string

	StackingMaxCandidates int
	AllocationTimeout     time.Duration
	ReservationGrace      time.Duration
	ReconcileInterval     time.Duration
	ReconcileBatchSize    int

	PromoCacheTTL    time.Duration
	LockTTL          time.Duration
	LockRetryBackoff time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:      valueOrDefault(k.String("APP_ENV"), "development"),
		OpsPort:     valueOrDefault(k.String("OPS_PORT"), "9090"),
		DatabaseURL: k.String("DATABASE_URL"),
		RedisURL:    k.String("REDIS_URL"),

		StackingMaxCandidates: parseInt(k.String("PROMO_STACKING_MAX_CANDIDATES"), 12),
		AllocationTimeout:     parseDuration(k.String("FLASH_ALLOCATION_TIMEOUT"), "2s"),
		ReservationGrace:      parseDuration(k.String("RESERVATION_GRACE_PERIOD"), "15m"),
		ReconcileInterval:     parseDuration(k.String("RECONCILE_INTERVAL"), "1m"),
		ReconcileBatchSize:    parseInt(k.String("RECONCILE_BATCH_SIZE"), 100),

		PromoCacheTTL:    parseDuration(k.String("PROMO_CACHE_TTL"), "30s"),
		LockTTL:          parseDuration(k.String("LOCK_TTL"), "1m"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.StackingMaxCandidates < 1 {
		return nil, errors.New("PROMO_STACKING_MAX_CANDIDATES must be positive")
	}

	return cfg, nil
}

// OpsAddr returns the address the operational HTTP server should bind to.
func (c *Config) OpsAddr() string {
	port := strings.TrimSpace(c.OpsPort)
	if port == "" {
		port = "9090"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	base := strings.TrimSpace(value)
	if base == "" {
		return fallback
	}
	n, err := strconv.Atoi(base)
	if err != nil {
		return fallback
	}
	return n
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
