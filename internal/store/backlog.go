package store

import (
	"context"
	"database/sql"

	"github.com/maxirmx/fuelflux-sub000/internal/types"
)

// BacklogItem is a durable row pending resend to the backend.
type BacklogItem struct {
	RowID  int64
	UID    string
	Method types.MessageMethod
	Data   string
}

// AddBacklog appends a transaction to the retry queue. uid must be
// non-empty; a storage failure returns false, never an error, per the
// specification's boolean-result contract for this operation.
func (s *Store) AddBacklog(ctx context.Context, uid string, method types.MessageMethod, payload string) bool {
	if uid == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO backlog (uid, method, data, checksum) VALUES (?, ?, ?, ?)`,
		uid, method.String(), payload, checksum(uid, method.String(), payload))
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("add backlog failed")
		return false
	}
	return true
}

// AddDead appends a transaction directly to the terminal dead queue.
func (s *Store) AddDead(ctx context.Context, uid string, method types.MessageMethod, payload string) bool {
	if uid == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead (uid, method, data, checksum) VALUES (?, ?, ?, ?)`,
		uid, method.String(), payload, checksum(uid, method.String(), payload))
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("add dead message failed")
		return false
	}
	return true
}

// GetNextBacklog returns the oldest backlog row by insertion order, or
// ok=false if the queue is empty or the row is unreadable/corrupt.
func (s *Store) GetNextBacklog(ctx context.Context) (item BacklogItem, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var row struct {
		RowID    int64  `db:"rowid"`
		UID      string `db:"uid"`
		Method   string `db:"method"`
		Data     string `db:"data"`
		Checksum string `db:"checksum"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT rowid, uid, method, data, checksum FROM backlog ORDER BY rowid ASC LIMIT 1`)
	if err == sql.ErrNoRows {
		return BacklogItem{}, false
	}
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("read next backlog row failed")
		return BacklogItem{}, false
	}

	method, known := types.MessageMethodFromString(row.Method)
	if !known {
		s.log.LogSecurityEvent(ctx, "backlog_row_bad_method", map[string]interface{}{"rowid": row.RowID})
		return BacklogItem{}, false
	}
	if checksum(row.UID, row.Method, row.Data) != row.Checksum {
		s.log.LogSecurityEvent(ctx, "backlog_row_checksum_mismatch", map[string]interface{}{"rowid": row.RowID})
		return BacklogItem{}, false
	}

	return BacklogItem{RowID: row.RowID, UID: row.UID, Method: method, Data: row.Data}, true
}

// RemoveBacklog deletes the backlog row with the given rowid.
func (s *Store) RemoveBacklog(ctx context.Context, rowID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM backlog WHERE rowid = ?`, rowID)
	return err == nil
}

// BacklogCount returns the number of rows in the backlog queue.
func (s *Store) BacklogCount(ctx context.Context) int {
	return s.countTable(ctx, "backlog")
}

// DeadCount returns the number of rows in the dead queue.
func (s *Store) DeadCount(ctx context.Context) int {
	return s.countTable(ctx, "dead")
}

func (s *Store) countTable(ctx context.Context, table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	// table is one of two fixed internal constants, never user input.
	query := "SELECT COUNT(*) FROM " + table
	if err := s.db.GetContext(ctx, &count, query); err != nil {
		return 0
	}
	return count
}
