package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/celerix-dev/celerix-userman/internal/config"
	"github.com/celerix-dev/celerix-userman/internal/engine"
	"github.com/celerix-dev/celerix-userman/internal/engine/postgres"
	"github.com/celerix-dev/celerix-userman/internal/engine/sqlite"
	"github.com/celerix-dev/celerix-userman/internal/vault"
)

// OpenBackend opens the storage backend named kind using the paths in cfg.
func OpenBackend(ctx context.Context, cfg config.Config, kind string, logger *slog.Logger) (engine.Backend, error) {
	switch kind {
	case config.BackendMemory:
		key := cfg.MasterKey
		if key == nil && cfg.MasterPassphrase != "" {
			var err error
			if key, err = vault.PassphraseKey(cfg.DataDir, cfg.MasterPassphrase); err != nil {
				return nil, err
			}
		}
		persister, err := engine.NewPersistence(cfg.DataDir, key)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize persistence: %w", err)
		}
		initialData, err := persister.LoadAll()
		if err != nil {
			return nil, fmt.Errorf("failed to load snapshots: %w", err)
		}
		logger.Info("memory backend ready", "dir", cfg.DataDir, "channels", len(initialData), "encrypted", key != nil)
		return engine.NewMemStore(initialData, persister), nil

	case config.BackendSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite backend ready", "path", cfg.SQLitePath)
		return store, nil

	case config.BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
		// The store keeps its context for later queries, which must outlive
		// the shutdown signal.
		store, err := postgres.NewStore(context.WithoutCancel(ctx), cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("postgres backend ready")
		return store, nil
	}
	return nil, fmt.Errorf("unknown backend %q", kind)
}
