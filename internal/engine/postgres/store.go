// Package postgres provides an engine.Backend on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/celerix-dev/celerix-userman/internal/engine"
	"github.com/celerix-dev/celerix-userman/pkg/ledger"
)

// Ensure Store satisfies engine.Backend at compile time.
var _ engine.Backend = (*Store)(nil)

// Store keeps ledger state in a single Postgres table.
type Store struct {
	pool *pgxpool.Pool
	ctx  context.Context
}

// NewStore connects and creates the table if needed. ctx bounds every query
// the store issues afterwards.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := &Store{pool: pool, ctx: ctx}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	// COLLATE "C" keeps range scans in byte order.
	const stmt = `CREATE TABLE IF NOT EXISTS ledger_state (
		channel TEXT COLLATE "C" NOT NULL,
		key     TEXT COLLATE "C" NOT NULL,
		value   TEXT NOT NULL,
		PRIMARY KEY (channel, key)
	);`
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *Store) Get(channel, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(s.ctx, `SELECT value FROM ledger_state WHERE channel = $1 AND key = $2`, channel, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s/%s: %w", channel, key, err)
	}
	return value, true, nil
}

func (s *Store) Apply(channel string, writes []engine.Write) error {
	if len(writes) == 0 {
		return nil
	}

	return pgx.BeginFunc(s.ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, w := range writes {
			if w.Delete {
				batch.Queue(`DELETE FROM ledger_state WHERE channel = $1 AND key = $2`, channel, w.Key)
			} else {
				batch.Queue(`INSERT INTO ledger_state (channel, key, value) VALUES ($1, $2, $3)
					ON CONFLICT (channel, key) DO UPDATE SET value = EXCLUDED.value`, channel, w.Key, w.Value)
			}
		}
		if err := tx.SendBatch(s.ctx, batch).Close(); err != nil {
			return fmt.Errorf("write %s: %w", channel, err)
		}
		return nil
	})
}

func (s *Store) Range(channel, start, end string) ([]ledger.KV, error) {
	query := `SELECT key, value FROM ledger_state WHERE channel = $1`
	args := []any{channel}
	if start != "" {
		args = append(args, start)
		query += fmt.Sprintf(` AND key >= $%d`, len(args))
	}
	if end != "" {
		args = append(args, end)
		query += fmt.Sprintf(` AND key < $%d`, len(args))
	}
	query += ` ORDER BY key`

	rows, err := s.pool.Query(s.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", channel, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.KV, error) {
		var kv ledger.KV
		err := row.Scan(&kv.Key, &kv.Value)
		return kv, err
	})
}

func (s *Store) Channels() ([]string, error) {
	rows, err := s.pool.Query(s.ctx, `SELECT DISTINCT channel FROM ledger_state ORDER BY channel`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
