package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "loopin/pkg/logx"
)

const defaultBusyTimeout = 5 * time.Second

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS loopin_kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
) WITHOUT ROWID;`

const (
	sqlGet    = `SELECT value FROM loopin_kv WHERE key = ?`
	sqlPut    = `INSERT INTO loopin_kv(key, value, updated_at) VALUES(?, ?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	sqlDelete = `DELETE FROM loopin_kv WHERE key = ?`
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	get, put, del *sql.Stmt
}

// sqliteDSN carries the pragmas in the DSN so every pooled connection gets
// them, not just the first.
func sqliteDSN(path string, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return path + "?" + q.Encode()
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite driver needs a path")
	}
	if filepath.Ext(path) == "" {
		path += ".db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}

	db, err := sql.Open("sqlite", sqliteDSN(path, busy))
	if err != nil {
		return nil, err
	}
	// one writer; the session persists from a single goroutine anyway
	db.SetMaxOpenConns(1)

	s := &sqliteStore{db: db, log: log}
	if err := s.prepare(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite storage opened", logx.String("path", path), logx.Duration("busy_timeout", busy))
	return s, nil
}

func (s *sqliteStore) prepare(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("sqlite schema: %w", err)
	}
	for _, p := range []struct {
		dst  **sql.Stmt
		text string
	}{{&s.get, sqlGet}, {&s.put, sqlPut}, {&s.del, sqlDelete}} {
		stmt, err := s.db.PrepareContext(ctx, p.text)
		if err != nil {
			return fmt.Errorf("sqlite prepare: %w", err)
		}
		*p.dst = stmt
	}
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	switch err := s.get.QueryRowContext(ctx, key).Scan(&v); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return v, true, nil
}

func (s *sqliteStore) Put(ctx context.Context, key string, value []byte) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.put.ExecContext(ctx, key, value, time.Now().UnixMilli())
	return err
}

func (s *sqliteStore) Delete(ctx context.Context, key string) error {
	_, err := s.del.ExecContext(ctx, key)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	for _, stmt := range []*sql.Stmt{s.get, s.put, s.del} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return s.db.Close()
}
