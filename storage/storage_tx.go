package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

type Tx struct {
	s  *storage
	tx *sqlx.Tx

	actions []txAction
}

type txAction struct {
	action actionTypes
	obj    interface{}
}

type TxInterface interface {
	TXInsert(ctx context.Context, obj interface{}) error

	// TXEnd commits the transaction and then updates the cache for everything inserted in it
	TXEnd(ctx context.Context) error

	// TXRollback aborts the transaction; nothing is written to the db or the cache
	TXRollback(ctx context.Context) error

	// TxSelect is for fetching one row where obj will be the result. Selects in a tx never read or fill the cache.
	TxSelect(ctx context.Context, obj interface{}, queryName string) error

	// TxSelectAll is for fetching all rows where dest will be the results
	TxSelectAll(ctx context.Context, obj interface{}, dest interface{}, queryName string) error
}

func (s *storage) TXBegin(ctx context.Context) (TxInterface, error) {
	tx, err := s.db.writeConn().BeginTxx(ctx, nil)
	if err != nil {
		return nil, wrapErr("begin", err)
	}

	return &Tx{
		s:       s,
		tx:      tx,
		actions: []txAction{},
	}, nil
}

func (t *Tx) TXInsert(ctx context.Context, obj interface{}) error {
	err := t.s.insert(ctx, obj, t.tx)
	if err != nil {
		return err
	}

	t.actions = append(t.actions, txAction{
		action: actionInsert,
		obj:    snapshot(obj),
	})

	return nil
}

func (t *Tx) TxSelect(ctx context.Context, obj interface{}, queryName string) error {
	return t.s.selectOne(ctx, obj, queryName, t.tx, false)
}

func (t *Tx) TxSelectAll(ctx context.Context, obj interface{}, dest interface{}, queryName string) error {
	return t.s.selectAll(ctx, obj, dest, queryName, t.tx, false)
}

func (t *Tx) TXRollback(ctx context.Context) error {
	t.actions = nil

	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return wrapErr("rollback", err)
	}
	return nil
}

func (t *Tx) TXEnd(ctx context.Context) error {
	err := t.tx.Commit()
	if err != nil {
		_ = t.tx.Rollback()
		t.actions = nil
		return wrapErr("commit", err)
	}

	// the rows are committed; a cache failure here must not be reported as a failed write
	for _, action := range t.actions {
		err = t.s.actionNonSelect(ctx, action.obj, action.action)
		if err != nil {
			t.s.log.WithError(err).Warn("storage: cache update after commit failed")
		}
	}
	t.actions = nil

	return nil
}
