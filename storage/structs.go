package storage

import (
	"fmt"
	"reflect"
)

type actionTypes int32

const (
	actionSelect actionTypes = iota
	actionInsert
	actionDelete
)

// Define the cache actions you can take
type CacheAction int32

const (
	CacheDefault  CacheAction = iota
	CacheNoAction             // do nothing
	CacheDel
	CacheSet
)

// Query is a named select against a table and the cache behaviour attached to it.
type Query struct {
	Name string // should be a const in the package calling this storage package

	/*
		CacheKey is appended to `service:{service}|{table}|` to build the redis key.
		Use `column=%v` segments for dynamic values, separated by pipes, e.g. `id=%v` or `user_id=%v|status=%v`.
		A key without placeholders (e.g. `all`) is a single shared key for the query.
	*/
	CacheKey string

	Query string // named sql query e.g. `select * from lead where id=:id`

	CacheTTL int // time to live in seconds; 0 = storage's DefaultTTL

	InsertAction CacheAction // action to take on this query's key when a row is inserted into the table
	SelectAction CacheAction // action to take on this query's key after it was read from the db (most likely CacheSet)

	cacheKeyFields []string
	fullCacheKey   string
	tableName      string
}

// getKeyName takes the query's abstract key, e.g. `service:lead_intake|lead|id=%v`, and returns the key name e.g. `service:lead_intake|lead|id=12`
func (q *Query) getKeyName(s *storage, obj interface{}) (string, error) {
	v := reflect.Indirect(reflect.ValueOf(obj))
	if v.Kind() != reflect.Struct {
		return "", fmt.Errorf("storage: cannot build cache key for %T", obj)
	}

	args := make([]interface{}, 0, len(q.cacheKeyFields))
	for _, field := range q.cacheKeyFields {
		f := s.mapper.FieldByName(v, field)
		if !f.IsValid() {
			return "", fmt.Errorf("storage: field %s not found on %T for key %s", field, obj, q.CacheKey)
		}
		args = append(args, f.Interface())
	}

	return fmt.Sprintf(q.fullCacheKey, args...), nil
}

// hasCacheAction reports whether the query touches the cache at all
func (q *Query) hasCacheAction() bool {
	return q.InsertAction != CacheNoAction || q.SelectAction != CacheNoAction
}

// Table describes a db table, the struct that represents a row, and the queries run against it.
type Table struct {
	Struct           interface{} // DB struct a row is scanned into
	Name             string      // table name; defaults to the lowercased struct name
	PrimaryQueryName string      // the Query.Name that fetches based off the primary key e.g. LeadGetByID
	PrimaryKeyField  string      // column of the primary key e.g. id or lead_id
	InsertQuery      string      // named insert query; must end with `RETURNING *`
	Queries          []*Query

	tableName  string
	structName string
	columns    map[string]bool
}

// generational queries are invalidated by inserts; their cached values live under a generation of the key
func (q *Query) generational() bool {
	return q.InsertAction == CacheDel
}
