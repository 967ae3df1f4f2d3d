package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a select matches no rows.
	ErrNotFound = errors.New("storage: record not found")

	// ErrDuplicateKey is returned on unique constraint violations.
	ErrDuplicateKey = errors.New("storage: duplicate key")

	// ErrNotNullViolation is returned when a NOT NULL column is given no value.
	ErrNotNullViolation = errors.New("storage: not null violation")

	// ErrValueTooLong is returned when a value doesn't fit its column.
	ErrValueTooLong = errors.New("storage: value too long")

	// ErrConnectionFailed is returned when the driver cannot reach the server.
	ErrConnectionFailed = errors.New("storage: connection failed")

	// ErrTimeout is returned when a statement is cancelled or exceeds its deadline.
	ErrTimeout = errors.New("storage: timeout")
)

// Error is returned for every failure that came from the database.
// Error() is the driver's message unchanged; Kind is one of the Err* sentinels (or nil when unclassified).
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return e.Kind != nil && e.Kind == target }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}

	// already wrapped; do not double-wrap
	var se *Error
	if errors.As(err, &se) {
		return err
	}

	return &Error{Op: op, Kind: classify(err), Err: err}
}

func classify(err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrTimeout
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifySQLState(string(pqErr.Code))
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return ErrConnectionFailed
	}

	return classifyMessage(err.Error())
}

// PostgreSQL SQLSTATE codes: https://www.postgresql.org/docs/current/errcodes-appendix.html
func classifySQLState(code string) error {
	switch code {
	case "23505": // unique_violation
		return ErrDuplicateKey
	case "23502": // not_null_violation
		return ErrNotNullViolation
	case "22001": // string_data_right_truncation
		return ErrValueTooLong
	case "57014": // query_canceled
		return ErrTimeout
	case "08000", "08001", "08003", "08004", "08006", "08007", "08P01":
		return ErrConnectionFailed
	}
	return nil
}

// classifyMessage covers drivers that don't export typed errors (sqlite) and dial failures
func classifyMessage(s string) error {
	switch {
	case strings.Contains(s, "UNIQUE constraint failed"):
		return ErrDuplicateKey
	case strings.Contains(s, "NOT NULL constraint failed"):
		return ErrNotNullViolation
	case strings.Contains(s, "connection refused"), strings.Contains(s, "sql: database is closed"):
		return ErrConnectionFailed
	}
	return nil
}
