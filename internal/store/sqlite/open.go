package sqlite

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

type config struct {
	busyTimeout int
	synchronous string
	foreignKeys bool
	mkdirAll    bool
	maxOpen     int
}

func defaults() config {
	return config{
		busyTimeout: 10_000,
		synchronous: "NORMAL",
		foreignKeys: true,
		mkdirAll:    true,
	}
}

// Option customises Open behaviour.
type Option func(*config)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithSynchronous sets PRAGMA synchronous. Default: "NORMAL".
func WithSynchronous(mode string) Option { return func(c *config) { c.synchronous = mode } }

// WithoutForeignKeys disables PRAGMA foreign_keys.
func WithoutForeignKeys() Option { return func(c *config) { c.foreignKeys = false } }

// WithoutMkdirAll skips creating the parent directory of the database path.
func WithoutMkdirAll() Option { return func(c *config) { c.mkdirAll = false } }

// WithMaxOpenConns caps the connection pool. In-memory databases use 1.
func WithMaxOpenConns(n int) Option { return func(c *config) { c.maxOpen = n } }

// openDB opens an SQLite database with WAL, busy_timeout and foreign-key pragmas.
// Pragmas go in the DSN so every pooled connection gets them.
func openDB(path string, cfg config) (*sql.DB, error) {
	memory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if cfg.mkdirAll && !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir: %w", err)
		}
	}

	fk := 0
	if cfg.foreignKeys {
		fk = 1
	}
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.busyTimeout))
	params.Add("_pragma", fmt.Sprintf("foreign_keys(%d)", fk))
	params.Add("_pragma", fmt.Sprintf("synchronous(%s)", cfg.synchronous))
	if !memory {
		params.Add("_pragma", "journal_mode(WAL)")
	}
	params.Set("_txlock", "immediate")

	dsn := "file:" + path + "?" + params.Encode()
	if memory && path == ":memory:" {
		dsn = ":memory:?" + params.Encode()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	switch {
	case memory:
		// Each connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	case cfg.maxOpen > 0:
		db.SetMaxOpenConns(cfg.maxOpen)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return db, nil
}
