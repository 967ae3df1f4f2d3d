package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// column sizes follow the contact form's original model
const (
	leadTablePostgres = `CREATE TABLE IF NOT EXISTS lead (
	id    SERIAL PRIMARY KEY,
	name  VARCHAR(100) NOT NULL,
	email VARCHAR(120) NOT NULL,
	phone VARCHAR(20)  NOT NULL
)`

	leadTableSQLite = `CREATE TABLE IF NOT EXISTS lead (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	name  VARCHAR(100) NOT NULL,
	email VARCHAR(120) NOT NULL,
	phone VARCHAR(20)  NOT NULL
)`
)

// EnsureSchema creates the lead table if it doesn't exist. It is not a migration tool: an existing table is left alone.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	var ddl string
	switch db.DriverName() {
	case "postgres", "pgx":
		ddl = leadTablePostgres
	case "sqlite3":
		ddl = leadTableSQLite
	default:
		return fmt.Errorf("store: no schema for driver %q", db.DriverName())
	}

	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("store: create lead table: %w", err)
	}
	return nil
}
