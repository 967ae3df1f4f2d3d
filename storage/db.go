package storage

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// QueryInterface is satisfied by both *sqlx.DB and *sqlx.Tx
type QueryInterface interface {
	sqlx.ExtContext
}

type db struct {
	writeConnection *sqlx.DB
	readConnection  *sqlx.DB
}

func newDB(conf *Config) *db {
	return &db{
		writeConnection: conf.WriteOnlyDbConn,
		readConnection:  conf.ReadOnlyDbConn,
	}
}

// query runs a named query with obj as its parameters. The caller must close the rows.
func (db *db) query(ctx context.Context, query string, obj interface{}, conn QueryInterface) (*sqlx.Rows, error) {
	rows, err := sqlx.NamedQueryContext(ctx, conn, query, obj)
	if err != nil {
		return nil, wrapErr("query", err)
	}
	return rows, nil
}

func (db *db) writeConn() *sqlx.DB {
	return db.writeConnection
}

func (db *db) readConn() *sqlx.DB {
	return db.readConnection
}
