package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allVars = []string{
	"CELERIX_DATA_DIR", "CELERIX_PORT", "CELERIX_HTTP_PORT", "CELERIX_DISABLE_TLS",
	"CELERIX_BACKEND", "CELERIX_SQLITE_PATH", "DATABASE_URL", "CELERIX_JWT_SECRET",
	"CELERIX_JWT_ISSUER", "CELERIX_JWT_TTL_MINUTES", "CELERIX_MASTER_KEY", "CELERIX_MASTER_PASSPHRASE", "CELERIX_LOG_LEVEL",
}

// clearEnv unsets every variable Load reads; t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CELERIX_JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "7001", cfg.Port)
	assert.Equal(t, "7002", cfg.HTTPPort)
	assert.False(t, cfg.DisableTLS)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, filepath.Join("./data", "ledger.db"), cfg.SQLitePath)
	assert.Equal(t, "celerix-userman", cfg.JWT.Issuer)
	assert.Equal(t, time.Hour, cfg.JWT.TTL)
	assert.Nil(t, cfg.MasterKey)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CELERIX_JWT_SECRET", "s3cret")
	t.Setenv("CELERIX_DATA_DIR", "/var/lib/celerix")
	t.Setenv("CELERIX_BACKEND", "SQLite")
	t.Setenv("CELERIX_DISABLE_TLS", "true")
	t.Setenv("CELERIX_JWT_TTL_MINUTES", "5")
	t.Setenv("CELERIX_MASTER_KEY", strings.Repeat("ab", 32))
	t.Setenv("CELERIX_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, "/var/lib/celerix/ledger.db", cfg.SQLitePath)
	assert.True(t, cfg.DisableTLS)
	assert.Equal(t, 5*time.Minute, cfg.JWT.TTL)
	assert.Len(t, cfg.MasterKey, 32)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("CELERIX_BACKEND", "postgres")
	t.Setenv("CELERIX_JWT_TTL_MINUTES", "soon")
	t.Setenv("CELERIX_MASTER_KEY", "abcd")
	t.Setenv("CELERIX_LOG_LEVEL", "loud")

	_, err := Load()
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{
		"DATABASE_URL is required",
		"CELERIX_JWT_TTL_MINUTES must be an integer",
		"CELERIX_MASTER_KEY",
		"unknown log level",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidateServe(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.EqualError(t, cfg.ValidateServe(), "CELERIX_JWT_SECRET is required")

	cfg.JWT.Secret = "s3cret"
	assert.NoError(t, cfg.ValidateServe())
}

func TestLoadRejectsKeyAndPassphrase(t *testing.T) {
	clearEnv(t)
	t.Setenv("CELERIX_MASTER_KEY", strings.Repeat("ab", 32))
	t.Setenv("CELERIX_MASTER_PASSPHRASE", "pw")

	_, err := Load()
	assert.ErrorContains(t, err, "set only one of")
}

func TestLoadUnknownBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("CELERIX_JWT_SECRET", "s3cret")
	t.Setenv("CELERIX_BACKEND", "cassandra")

	_, err := Load()
	assert.ErrorContains(t, err, `unknown CELERIX_BACKEND "cassandra"`)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
