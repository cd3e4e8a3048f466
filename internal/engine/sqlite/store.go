// Package sqlite provides a durable engine.Backend on a single SQLite file.
package sqlite

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/celerix-dev/celerix-userman/internal/engine"
	"github.com/celerix-dev/celerix-userman/pkg/ledger"
)

//go:embed schema.sql
var schemaSQL string

// Ensure Store satisfies engine.Backend at compile time.
var _ engine.Backend = (*Store)(nil)

// Store keeps ledger state in SQLite with WAL mode.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path.
// Use ":memory:" for a throwaway store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Get(channel, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM ledger_state WHERE channel = ? AND key = ?`, channel, key).Scan(&value)
	if err == sql.ErrNoRows {
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

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, w := range writes {
		if w.Delete {
			_, err = tx.Exec(`DELETE FROM ledger_state WHERE channel = ? AND key = ?`, channel, w.Key)
		} else {
			_, err = tx.Exec(`
				INSERT INTO ledger_state (channel, key, value) VALUES (?, ?, ?)
				ON CONFLICT (channel, key) DO UPDATE SET value = excluded.value`,
				channel, w.Key, w.Value)
		}
		if err != nil {
			return fmt.Errorf("write %s/%s: %w", channel, w.Key, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Range(channel, start, end string) ([]ledger.KV, error) {
	query := `SELECT key, value FROM ledger_state WHERE channel = ?`
	args := []any{channel}
	if start != "" {
		query += ` AND key >= ?`
		args = append(args, start)
	}
	if end != "" {
		query += ` AND key < ?`
		args = append(args, end)
	}
	query += ` ORDER BY key`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", channel, err)
	}
	defer rows.Close()

	var out []ledger.KV
	for rows.Next() {
		var kv ledger.KV
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, err
		}
		out = append(out, kv)
	}
	return out, rows.Err()
}

func (s *Store) Channels() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT channel FROM ledger_state ORDER BY channel`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ch string
		if err := rows.Scan(&ch); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}
