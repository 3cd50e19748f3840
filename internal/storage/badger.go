package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"

	logx "loopin/pkg/logx"
)

type badgerStore struct {
	db *badger.DB
}

// badgerLogger adapts logx to badger.Logger. Badger is chatty at info level,
// so info is demoted to debug.
type badgerLogger struct{ log logx.Logger }

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Printf(logx.LevelError, format, args...)
}
func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Printf(logx.LevelWarn, format, args...)
}
func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Printf(logx.LevelDebug, format, args...)
}
func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Printf(logx.LevelTrace, format, args...)
}

func openBadger(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("badger path is required")
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("create badger directory %s: %w", path, err)
	}
	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{log: log})
	return newBadger(opts)
}

// newBadgerInMemory is used by tests.
func newBadgerInMemory() (Store, error) {
	return newBadger(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func newBadger(opts badger.Options) (Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &badgerStore{db: db}, nil
}

func (s *badgerStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (s *badgerStore) Put(_ context.Context, key string, value []byte) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (s *badgerStore) Delete(_ context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (s *badgerStore) Close() error { return s.db.Close() }
