package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
)

// selectOne fills obj from the query's first row. cached is false inside a transaction: a tx may see its own
// uncommitted rows or an old snapshot, neither of which may reach the cache.
func (s *storage) selectOne(ctx context.Context, obj interface{}, queryName string, conn QueryInterface, cached bool) error {
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Ptr {
		return fmt.Errorf("storage: obj not pointer; is %T", obj)
	}

	q, ok := s.queries[queryName]
	if !ok {
		return fmt.Errorf("storage: query %s not found; have you configured storage properly?", queryName)
	}

	// get the cache key name
	keyName, err := q.getKeyName(s, obj)
	if err != nil {
		return err
	}

	cacheKey, useCache := "", false
	if cached {
		cacheKey, useCache = s.readCacheKey(ctx, q, keyName)
	}

	if useCache {
		// the obj should be of the value that the cache is expecting so we can then just unmarshal into that
		err = s.cache.get(ctx, cacheKey, obj)
		if err == nil {
			s.d("found %s in cache", cacheKey)
			return nil
		}

		// redis.Nil means the value wasn't in the cache; anything else is logged and we fall back to the db
		if !errors.Is(err, redis.Nil) {
			s.log.WithError(err).WithField("key", cacheKey).Warn("storage: cache get failed; reading from db")
		}
	}

	s.d("selecting %s from db", keyName)
	rows, err := s.db.query(ctx, q.Query, obj, conn)
	if err != nil {
		return err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return wrapErr("select", err)
		}
		return &Error{Op: "select", Kind: ErrNotFound, Err: sql.ErrNoRows}
	}

	if err := rows.StructScan(obj); err != nil {
		return wrapErr("select", err)
	}

	if useCache {
		s.cacheActionSelect(ctx, q, cacheKey, obj)
	}
	return nil
}

func (s *storage) selectAll(ctx context.Context, obj interface{}, dest interface{}, queryName string, conn QueryInterface, cached bool) error {
	v := reflect.ValueOf(dest)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("storage: dest must be a pointer to a slice; is %T", dest)
	}

	q, ok := s.queries[queryName]
	if !ok {
		return fmt.Errorf("storage: query %s not found; have you configured storage properly?", queryName)
	}

	keyName, err := q.getKeyName(s, obj)
	if err != nil {
		return err
	}

	cacheKey, useCache := "", false
	if cached {
		cacheKey, useCache = s.readCacheKey(ctx, q, keyName)
	}

	if useCache {
		err = s.cache.get(ctx, cacheKey, dest)
		if err == nil {
			s.d("found list %s in cache", cacheKey)
			return nil
		}

		if !errors.Is(err, redis.Nil) {
			s.log.WithError(err).WithField("key", cacheKey).Warn("storage: cache get failed; reading from db")
		}
	}

	// a failed unmarshal can leave dest half filled; always start from an empty (non-nil) slice
	v.Elem().Set(reflect.MakeSlice(v.Elem().Type(), 0, 0))

	s.d("selecting list %s from db", keyName)
	rows, err := s.db.query(ctx, q.Query, obj, conn)
	if err != nil {
		return err
	}
	defer rows.Close()

	if err := sqlx.StructScan(rows, dest); err != nil {
		return wrapErr("select", err)
	}

	if useCache {
		s.cacheActionSelect(ctx, q, cacheKey, dest)
	}
	return nil
}

// readCacheKey returns the key a select reads from and writes to, or false when the cache can't be used.
// A query whose InsertAction is CacheDel is stored under the current generation of its key. Inserts bump the
// generation, so a result read from the db before an insert committed is written to a key nobody reads anymore.
func (s *storage) readCacheKey(ctx context.Context, q *Query, keyName string) (string, bool) {
	if s.cache == nil || q.SelectAction != CacheSet {
		return "", false
	}

	if !q.generational() {
		return keyName, true
	}

	gen, err := s.cache.generation(ctx, keyName)
	if err != nil {
		s.log.WithError(err).WithField("key", keyName).Warn("storage: cache generation read failed; reading from db")
		return "", false
	}
	return generationKey(keyName, gen), true
}

// insert runs the table's insert query and fills obj with the row returned by `RETURNING *`
func (s *storage) insert(ctx context.Context, obj interface{}, conn QueryInterface) error {
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("storage: obj must be a pointer to a struct; is %T", obj)
	}

	table, err := s.tableFor(obj)
	if err != nil {
		return err
	}

	if table.InsertQuery == "" {
		return fmt.Errorf("storage: table %s has no InsertQuery", table.tableName)
	}

	rows, err := s.db.query(ctx, table.InsertQuery, obj, conn)
	if err != nil {
		return err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		if n == 0 {
			if err := rows.StructScan(obj); err != nil {
				return wrapErr("insert", err)
			}
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return wrapErr("insert", err)
	}

	if n != 1 {
		return fmt.Errorf("storage: insert did not return a single row; returned: %d", n)
	}

	return nil
}

// snapshot copies the struct obj points at so later changes by the caller don't leak into pending cache actions
func snapshot(obj interface{}) interface{} {
	v := reflect.Indirect(reflect.ValueOf(obj))
	c := reflect.New(v.Type())
	c.Elem().Set(v)
	return c.Interface()
}
