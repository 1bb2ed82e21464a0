// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package editsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// OpenDB opens the local SQLite database. A single connection keeps
// ":memory:" databases coherent and serializes writers.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}
	return db, nil
}

func initializeDatabase(db *sql.DB) error {
	// WAL is not available for in-memory databases; sqlite reports "memory" and moves on.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS _edit_kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`); err != nil {
		return fmt.Errorf("failed to create kv table: %w", err)
	}
	return nil
}

type kvEntry struct {
	Key   string
	Value []byte
}

// kvStore is the durable key/value layer shared by drafts and the pending queue.
// Every write is a single statement or a single transaction.
type kvStore struct {
	db *sql.DB
}

type kvQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func kvGet(ctx context.Context, q kvQuerier, key string) ([]byte, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM _edit_kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return []byte(value), true, nil
}

func kvPut(ctx context.Context, q kvQuerier, key string, value []byte) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO _edit_kv (key, value, updated_at)
		VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value))
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

func kvDelete(ctx context.Context, q kvQuerier, key string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM _edit_kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (s *kvStore) get(ctx context.Context, key string) ([]byte, bool, error) {
	return kvGet(ctx, s.db, key)
}

func (s *kvStore) put(ctx context.Context, key string, value []byte) error {
	return kvPut(ctx, s.db, key, value)
}

func (s *kvStore) delete(ctx context.Context, key string) error {
	return kvDelete(ctx, s.db, key)
}

// scanPrefix returns every entry whose key starts with prefix, ordered by key.
func (s *kvStore) scanPrefix(ctx context.Context, prefix string) ([]kvEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM _edit_kv WHERE substr(key, 1, ?) = ? ORDER BY key`,
		len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to scan keys with prefix %s: %w", prefix, err)
	}
	defer rows.Close()

	var out []kvEntry
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan kv row: %w", err)
		}
		out = append(out, kvEntry{Key: key, Value: []byte(value)})
	}
	return out, rows.Err()
}

// update runs a read-modify-write on key inside one transaction. fn receives
// the current value (nil if absent) and returns the new value; a nil result
// deletes the key.
func (s *kvStore) update(ctx context.Context, key string, fn func(old []byte) ([]byte, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	old, _, err := kvGet(ctx, tx, key)
	if err != nil {
		return err
	}
	next, err := fn(old)
	if err != nil {
		return err
	}
	if next == nil {
		err = kvDelete(ctx, tx, key)
	} else {
		err = kvPut(ctx, tx, key, next)
	}
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", key, err)
	}
	return nil
}
