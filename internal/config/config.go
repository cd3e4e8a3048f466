// Package config loads daemon settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/celerix-dev/celerix-userman/internal/vault"
)

// Backend names accepted in CELERIX_BACKEND.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	DataDir    string
	Port       string
	HTTPPort   string
	DisableTLS bool

	Backend     string
	SQLitePath  string
	DatabaseURL string

	JWT JWTConfig

	// MasterKey encrypts memory-backend snapshots when set.
	MasterKey []byte

	// MasterPassphrase derives MasterKey with scrypt when no key is given.
	MasterPassphrase string

	LogLevel slog.Level
}

type JWTConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// Load reads the environment, after loading .env from the working directory
// when one exists. Variables already set win over the file.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		DataDir:     getEnv("CELERIX_DATA_DIR", "./data"),
		Port:        getEnv("CELERIX_PORT", "7001"),
		HTTPPort:    getEnv("CELERIX_HTTP_PORT", "7002"),
		DisableTLS:  getEnv("CELERIX_DISABLE_TLS", "false") == "true",
		Backend:     strings.ToLower(getEnv("CELERIX_BACKEND", BackendMemory)),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		JWT: JWTConfig{
			Secret: getEnv("CELERIX_JWT_SECRET", ""),
			Issuer: getEnv("CELERIX_JWT_ISSUER", "celerix-userman"),
		},
	}
	cfg.SQLitePath = getEnv("CELERIX_SQLITE_PATH", filepath.Join(cfg.DataDir, "ledger.db"))

	var errs []error

	ttl, err := getEnvInt("CELERIX_JWT_TTL_MINUTES", 60)
	if err != nil {
		errs = append(errs, err)
	} else if ttl <= 0 {
		errs = append(errs, fmt.Errorf("CELERIX_JWT_TTL_MINUTES must be positive, got %d", ttl))
	}
	cfg.JWT.TTL = time.Duration(ttl) * time.Minute

	switch cfg.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CELERIX_BACKEND %q", cfg.Backend))
	}

	if raw := getEnv("CELERIX_MASTER_KEY", ""); raw != "" {
		key, err := vault.ParseKey(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("CELERIX_MASTER_KEY: %w", err))
		}
		cfg.MasterKey = key
	}

	cfg.MasterPassphrase = getEnv("CELERIX_MASTER_PASSPHRASE", "")
	if cfg.MasterKey != nil && cfg.MasterPassphrase != "" {
		errs = append(errs, errors.New("set only one of CELERIX_MASTER_KEY and CELERIX_MASTER_PASSPHRASE"))
	}

	level, err := ParseLevel(getEnv("CELERIX_LOG_LEVEL", "info"))
	if err != nil {
		errs = append(errs, err)
	}
	cfg.LogLevel = level

	return cfg, errors.Join(errs...)
}

// ValidateServe checks the settings only the daemon needs.
func (c Config) ValidateServe() error {
	if c.JWT.Secret == "" {
		return errors.New("CELERIX_JWT_SECRET is required")
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// NewLogger returns a text logger at level writing to w.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		return defaultValue, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return value, nil
}
