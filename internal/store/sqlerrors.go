package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// ErrRetriesExceeded is returned when a transaction is retried more than
// the max allowed value without a success.
var ErrRetriesExceeded = errors.New("store: tx retries exceeded")

// ErrUniqueConstraintViolation wraps a sqlite unique/primary-key
// constraint violation with the offending column, when it could be
// parsed out of the driver error string.
type ErrUniqueConstraintViolation struct {
	Column string
}

func (e *ErrUniqueConstraintViolation) Error() string {
	if e.Column == "" {
		return "unique constraint violation"
	}
	return fmt.Sprintf("unique constraint violation on column %q", e.Column)
}

// MapSQLError attempts to interpret err as a database-agnostic error,
// recognising sqlite-specific constraint and busy/locked errors so callers
// can branch on them without importing the sqlite3 driver themselves.
func MapSQLError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return parseSqliteError(sqliteErr)
	}
	return err
}

func parseSqliteError(sqliteErr sqlite3.Error) error {
	switch sqliteErr.Code {
	case sqlite3.ErrConstraint:
		if sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {

			column := ""
			if idx := strings.Index(sqliteErr.Error(), ":"); idx != -1 {
				column = strings.TrimSpace(sqliteErr.Error()[idx+1:])
			}
			return &ErrUniqueConstraintViolation{Column: column}
		}
		return sqliteErr

	default:
		return sqliteErr
	}
}

// IsSerializationOrDeadlockError reports whether err indicates a
// transaction should be retried, i.e. a SQLITE_BUSY or SQLITE_LOCKED
// condition from contention between the single writer and concurrent
// readers.
func IsSerializationOrDeadlockError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}
