package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CacheEntry is a cached allowance record for one user.
type CacheEntry struct {
	UID       string
	Allowance float64
	RoleID    int
}

// CacheGet looks up uid in the currently active cache table. ok is
// false if the user is not cached.
func (s *Store) CacheGet(ctx context.Context, uid string) (entry CacheEntry, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, _, err := s.activeTable(ctx)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("read active cache table failed")
		return CacheEntry{}, false
	}

	var row struct {
		UID       string  `db:"uid"`
		Allowance float64 `db:"allowance"`
		RoleID    int     `db:"role_id"`
	}
	query := fmt.Sprintf("SELECT uid, allowance, role_id FROM %s WHERE uid = ?", active)
	err = s.db.GetContext(ctx, &row, query, uid)
	if err == sql.ErrNoRows {
		return CacheEntry{}, false
	}
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("cache lookup failed")
		return CacheEntry{}, false
	}
	return CacheEntry{UID: row.UID, Allowance: row.Allowance, RoleID: row.RoleID}, true
}

// CacheUpdate writes (or overwrites) uid's allowance in the active
// cache table. This always targets the currently active table, even
// mid-population; CommitPopulation then makes the standby table, filled
// only from staging, active, so an update made during a population is
// not carried over.
func (s *Store) CacheUpdate(ctx context.Context, uid string, allowance float64, roleID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, _, err := s.activeTable(ctx)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("read active cache table failed")
		return false
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (uid, allowance, role_id) VALUES (?, ?, ?)
		 ON CONFLICT(uid) DO UPDATE SET allowance = excluded.allowance, role_id = excluded.role_id`, active)
	_, err = s.db.ExecContext(ctx, query, uid, allowance, roleID)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("cache update failed")
		return false
	}
	return true
}

// BeginPopulation clears the staging table and marks a population
// cycle in progress. Returns false if a population is already running.
func (s *Store) BeginPopulation(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.populationInProgress {
		return false
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_cache_staging`); err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("clear staging table failed")
		return false
	}
	s.populationInProgress = true
	return true
}

// AddPopulationEntry stages one fetched user record. Must be called
// between BeginPopulation and CommitPopulation/AbortPopulation.
func (s *Store) AddPopulationEntry(ctx context.Context, uid string, allowance float64, roleID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.populationInProgress {
		return false
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_cache_staging (uid, allowance, role_id) VALUES (?, ?, ?)
		 ON CONFLICT(uid) DO UPDATE SET allowance = excluded.allowance, role_id = excluded.role_id`,
		uid, allowance, roleID)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("stage population entry failed")
		return false
	}
	return true
}

// CommitPopulation atomically replaces the standby cache table with
// the staged entries and flips the active pointer, so readers never
// observe a partially populated cache. This is the spec's required
// behavior (b): copy staging into standby, clear staging, then swap.
func (s *Store) CommitPopulation(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.populationInProgress {
		return false
	}

	_, standby, err := s.activeTable(ctx)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("read active cache table failed")
		return false
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("begin population commit tx failed")
		return false
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", standby)); err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("clear standby table failed")
		return false
	}
	copyQuery := fmt.Sprintf(
		"INSERT INTO %s (uid, allowance, role_id) SELECT uid, allowance, role_id FROM user_cache_staging", standby)
	if _, err := tx.ExecContext(ctx, copyQuery); err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("copy staging into standby failed")
		return false
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_cache_staging`); err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("clear staging table failed")
		return false
	}

	newActiveValue := "B"
	if standby == "user_cache_a" {
		newActiveValue = "A"
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE user_cache_meta SET value = ? WHERE key = 'active_table'`, newActiveValue); err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("flip active table pointer failed")
		return false
	}

	if err := tx.Commit(); err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("commit population tx failed")
		return false
	}

	s.populationInProgress = false
	return true
}

// AbortPopulation discards staged entries without touching the active
// cache, used when a population fetch fails partway through.
func (s *Store) AbortPopulation(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.populationInProgress {
		return
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_cache_staging`); err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("clear staging table on abort failed")
	}
	s.populationInProgress = false
}
