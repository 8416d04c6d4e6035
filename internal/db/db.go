// Package db opens SQLite databases through sqlx.
package db

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/savesync/internal/utils"
)

const MemoryPath = ":memory:"

const defaultPragma = `
PRAGMA journal_mode=WAL;
PRAGMA busy_timeout=5000;
PRAGMA foreign_keys=ON;
PRAGMA temp_store=MEMORY;
`

type options struct {
	path         string
	pragmas      string
	maxOpenConns int
}

type Option func(*options)

// WithPath sets the database file. MemoryPath opens an in-memory database.
func WithPath(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// WithPragmas replaces the default pragmas.
func WithPragmas(pragmas string) Option {
	return func(o *options) {
		o.pragmas = pragmas
	}
}

func WithMaxOpenConns(n int) Option {
	return func(o *options) {
		o.maxOpenConns = n
	}
}

// NewSqliteDB connects to SQLite with the driver selected at build time.
func NewSqliteDB(opts ...Option) (*sqlx.DB, error) {
	cfg := &options{
		path:    MemoryPath,
		pragmas: defaultPragma,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	dsn := MemoryPath
	if cfg.path != MemoryPath {
		if err := utils.EnsureParent(cfg.path); err != nil {
			return nil, fmt.Errorf("ensure parent directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", cfg.path)
	}

	slog.Debug("db open", "driver", driverID, "path", cfg.path)
	conn, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// an in-memory database only lives as long as its single connection
	if cfg.path == MemoryPath {
		conn.SetMaxOpenConns(1)
	} else if cfg.maxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.maxOpenConns)
	}

	if cfg.pragmas != "" {
		if _, err := conn.Exec(cfg.pragmas); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set pragmas: %w", err)
		}
	}

	return conn, nil
}
