package storage

import (
	"fmt"
	"strings"

	logx "loopin/pkg/logx"
)

type opener func(cfg Config, log logx.Logger) (Store, error)

// drivers maps every accepted driver name, aliases included, to its opener.
var drivers = map[string]opener{
	"file":    openFile,
	"badger":  openBadger,
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
	"memory":  openMemory,
	"mem":     openMemory,
}

func openMemory(Config, logx.Logger) (Store, error) { return NewMemory(), nil }

// Open returns the store for cfg.Driver, or ErrDisabled when the driver is
// empty or "none".
func Open(cfg Config, log logx.Logger) (Store, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if name == "" || name == "none" {
		return nil, ErrDisabled
	}
	open, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s, err := open(cfg, log.With(logx.String("storage", name)))
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", name, err)
	}
	return s, nil
}
