// Package sqlite persists board orders on the local machine for the CLI
// client, so a restart replays the last manual order.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/gosuda/collaboard/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS board_orders (
	key        TEXT PRIMARY KEY,
	orders     TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
)`

// OrderBackend stores order maps as JSON text. It satisfies order.Backend.
type OrderBackend struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. ":memory:" opens a
// private in-memory database.
func Open(ctx context.Context, path string) (*OrderBackend, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite.Open: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite.Open: %w", err)
	}
	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite.Open: %s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite.Open: migrate: %w", err)
	}

	return &OrderBackend{db: db}, nil
}

func (b *OrderBackend) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("sqlite.OrderBackend.Close: %w", err)
	}
	return nil
}

func (b *OrderBackend) Load(ctx context.Context, key string) (domain.OrderMap, error) {
	var raw string
	err := b.db.QueryRowContext(ctx, `SELECT orders FROM board_orders WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.OrderMap{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite.OrderBackend.Load: %w", err)
	}

	m := domain.OrderMap{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("sqlite.OrderBackend.Load: decode %s: %w", key, err)
	}
	return m, nil
}

func (b *OrderBackend) Save(ctx context.Context, key string, m domain.OrderMap) error {
	if m == nil {
		m = domain.OrderMap{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("sqlite.OrderBackend.Save: encode: %w", err)
	}

	_, err = b.db.ExecContext(ctx,
		`INSERT INTO board_orders (key, orders) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET orders = excluded.orders,
		 updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`,
		key, string(raw),
	)
	if err != nil {
		return fmt.Errorf("sqlite.OrderBackend.Save: %w", err)
	}
	return nil
}
