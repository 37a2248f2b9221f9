// Package store implements the durable message store: the backlog/dead
// transaction queues and the flip/flop user allowance cache, backed by
// an embedded single-file SQLite database. Every public method acquires
// a store-wide mutex, mirroring the single dbMutex_ in the original
// fuelflux firmware and the busy-timeout/transactional-commit pattern
// the specification requires.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	sqlite3migrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/maxirmx/fuelflux-sub000/internal/logging"
	"github.com/maxirmx/fuelflux-sub000/internal/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the durable message store: backlog, dead, and the user
// allowance cache.
type Store struct {
	mu  sync.Mutex
	db  *sqlx.DB
	log *logging.Logger

	populationInProgress bool
}

// Open opens (creating if necessary) the SQLite database at path,
// applies schema migrations, and returns a ready Store.
func Open(path string, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.NewFromEnv("store")
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite: single writer, matches the firmware's single-mutex design.

	if err := migrateUp(db.DB, path); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate %s: %w", path, err)
	}

	return &Store{db: db, log: log}, nil
}

func migrateUp(db *sql.DB, path string) error {
	driver, err := sqlite3migrate.WithInstance(db, &sqlite3migrate.Config{})
	if err != nil {
		return err
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, path, driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Ping verifies the database is reachable, used by the diagnostics
// readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.PingContext(ctx)
}

// CacheSize returns the number of entries in the currently active user
// allowance cache table.
func (s *Store) CacheSize(ctx context.Context) int {
	s.mu.Lock()
	active, _, err := s.activeTable(ctx)
	s.mu.Unlock()
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("read active cache table failed")
		return 0
	}
	return s.countTable(ctx, active)
}

// activeTable returns "user_cache_a" or "user_cache_b" per the meta row,
// and the name of the other (standby) table. Caller must hold s.mu.
func (s *Store) activeTable(ctx context.Context) (active, standby string, err error) {
	var value string
	err = s.db.GetContext(ctx, &value, `SELECT value FROM user_cache_meta WHERE key = 'active_table'`)
	if err != nil {
		return "", "", err
	}
	if value == "B" {
		return "user_cache_b", "user_cache_a", nil
	}
	return "user_cache_a", "user_cache_b", nil
}
