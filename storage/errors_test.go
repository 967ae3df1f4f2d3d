package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, ErrNotFound},
		{"deadline", context.DeadlineExceeded, ErrTimeout},
		{"wrapped cancel", fmt.Errorf("query: %w", context.Canceled), ErrTimeout},
		{"pq unique", &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}, ErrDuplicateKey},
		{"pq not null", &pq.Error{Code: "23502"}, ErrNotNullViolation},
		{"pq too long", &pq.Error{Code: "22001", Message: "value too long for type character varying(20)"}, ErrValueTooLong},
		{"pgx unique", &pgconn.PgError{Code: "23505"}, ErrDuplicateKey},
		{"pgx admin shutdown", &pgconn.PgError{Code: "08006"}, ErrConnectionFailed},
		{"sqlite unique", errors.New("UNIQUE constraint failed: lead.email"), ErrDuplicateKey},
		{"sqlite not null", errors.New("NOT NULL constraint failed: lead.phone"), ErrNotNullViolation},
		{"dial", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), ErrConnectionFailed},
		{"unknown", errors.New("syntax error"), nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classify(tc.err); got != tc.want {
				t.Errorf("classify(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestWrapErr_KeepsMessage(t *testing.T) {
	cause := &pq.Error{Code: "22001", Message: "value too long for type character varying(20)"}

	err := wrapErr("insert", cause)
	if err.Error() != cause.Error() {
		t.Errorf("Error() = %q, want driver message %q", err.Error(), cause.Error())
	}
	if !errors.Is(err, ErrValueTooLong) {
		t.Errorf("expected ErrValueTooLong kind")
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		t.Errorf("driver error not reachable through Unwrap")
	}

	// wrapping twice keeps the first op
	again := wrapErr("commit", err)
	var se *Error
	if !errors.As(again, &se) || se.Op != "insert" {
		t.Errorf("double wrap changed op: %+v", se)
	}

	if wrapErr("noop", nil) != nil {
		t.Errorf("wrapErr(nil) must be nil")
	}
}

func TestError_UnclassifiedIsNotSentinel(t *testing.T) {
	err := wrapErr("select", errors.New("no such table: lead"))
	for _, sentinel := range []error{ErrNotFound, ErrDuplicateKey, ErrTimeout, ErrConnectionFailed} {
		if errors.Is(err, sentinel) {
			t.Errorf("unclassified error matched %v", sentinel)
		}
	}
}
