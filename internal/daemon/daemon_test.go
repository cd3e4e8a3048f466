package daemon

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/celerix-userman/internal/auth"
	"github.com/celerix-dev/celerix-userman/internal/config"
	"github.com/celerix-dev/celerix-userman/internal/contract"
	"github.com/celerix-dev/celerix-userman/internal/engine/sqlite"
	"github.com/celerix-dev/celerix-userman/pkg/schema"
	"github.com/celerix-dev/celerix-userman/pkg/sdk"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		DataDir:    t.TempDir(),
		Port:       "0",
		HTTPPort:   "0",
		DisableTLS: true,
		Backend:    config.BackendMemory,
		JWT:        config.JWTConfig{Secret: "daemon-secret", Issuer: "test", TTL: time.Hour},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDaemonServesAndFlushes(t *testing.T) {
	t.Setenv("CELERIX_DISABLE_TLS", "true")
	cfg := testConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := New(ctx, cfg, quietLogger())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	var addr net.Addr
	require.Eventually(t, func() bool {
		addr = d.TCPAddr()
		return addr != nil
	}, 2*time.Second, 20*time.Millisecond)

	tok, err := auth.NewTokenManager("daemon-secret", "test", time.Hour).Generate("mychannel", nil)
	require.NoError(t, err)

	client, err := sdk.Connect(addr.String(), tok)
	require.NoError(t, err)
	_, err = client.InitLedger("mychannel")
	require.NoError(t, err)
	require.NoError(t, client.Close())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}

	_, err = os.Stat(filepath.Join(cfg.DataDir, "mychannel.json"))
	assert.NoError(t, err, "snapshot written before exit")
}

func TestDaemonDrainsOpenConnections(t *testing.T) {
	t.Setenv("CELERIX_DISABLE_TLS", "true")
	cfg := testConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := New(ctx, cfg, quietLogger())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	var addr net.Addr
	require.Eventually(t, func() bool {
		addr = d.TCPAddr()
		return addr != nil
	}, 2*time.Second, 20*time.Millisecond)

	tok, err := auth.NewTokenManager("daemon-secret", "test", time.Hour).Generate("mychannel", nil)
	require.NoError(t, err)

	client, err := sdk.Connect(addr.String(), tok)
	require.NoError(t, err)
	defer client.Close()
	_, err = client.InitLedger("mychannel")
	require.NoError(t, err)

	// The client stays connected across shutdown.
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop with a client connected")
	}

	late := schema.NewUser("late", "Late", "11", "Dev", "after shutdown")
	_, err = client.AddNewUser("mychannel", late)
	require.Error(t, err, "writes after shutdown must not be acknowledged")

	reopened, err := sdk.NewEmbedded(cfg.DataDir, "mychannel")
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.GetUser("mychannel", contract.SeedUser.UserID)
	assert.NoError(t, err)
	_, err = reopened.GetUser("mychannel", "late")
	assert.True(t, schema.IsCode(err, schema.CodeUserNotFound), "got %v", err)
}

func TestNewRequiresSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.JWT.Secret = ""

	_, err := New(context.Background(), cfg, quietLogger())
	assert.EqualError(t, err, "CELERIX_JWT_SECRET is required")
}

func TestOpenBackendUnknown(t *testing.T) {
	_, err := OpenBackend(context.Background(), testConfig(t), "tape", quietLogger())
	assert.ErrorContains(t, err, `unknown backend "tape"`)
}

func TestMigrateCommand(t *testing.T) {
	dataDir := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	t.Setenv("CELERIX_DATA_DIR", dataDir)
	t.Setenv("CELERIX_SQLITE_PATH", dbPath)
	t.Setenv("CELERIX_BACKEND", "memory")
	t.Setenv("CELERIX_MASTER_KEY", "")
	t.Setenv("CELERIX_JWT_TTL_MINUTES", "60")
	t.Setenv("CELERIX_LOG_LEVEL", "error")

	svc, err := sdk.NewEmbedded(dataDir, "mychannel")
	require.NoError(t, err)
	_, err = svc.InitLedger("mychannel")
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"migrate", "--from", "memory", "--to", "sqlite"})
	require.NoError(t, cmd.Execute())
	// The seed record plus its audit entry.
	assert.Equal(t, "migrated 2 entries from memory to sqlite\n", out.String())

	store, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()

	value, ok, err := store.Get("mychannel", contract.SeedUser.UserID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, value, `"name":"Alice"`)
}

func TestMigrateRejectsSameBackend(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"migrate", "--from", "sqlite", "--to", "sqlite"})
	assert.ErrorContains(t, cmd.Execute(), "must differ")
}

func TestOpenBackendWithPassphrase(t *testing.T) {
	cfg := testConfig(t)
	cfg.MasterPassphrase = "correct horse"

	b, err := OpenBackend(context.Background(), cfg, config.BackendMemory, quietLogger())
	require.NoError(t, err)
	defer b.Close()

	_, err = os.Stat(filepath.Join(cfg.DataDir, "vault.salt"))
	assert.NoError(t, err)
}
