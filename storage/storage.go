// Package storage is a small table/query layer over sqlx with a redis read-through cache.
// Tables and their queries are registered once; callers then insert and select structs by query name.
package storage

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/reflectx"
	"github.com/sirupsen/logrus"
)

// Storage defines our API for this package
type Storage interface {
	// TXBegin starts a transaction on the write connection
	TXBegin(ctx context.Context) (TxInterface, error)

	// Insert inserts obj in its own transaction and fills obj with the returned row
	Insert(ctx context.Context, obj interface{}) error

	// Select fills out the obj for its response
	Select(ctx context.Context, obj interface{}, queryName string) error

	/*
		SelectAll fills out dest (a pointer to a slice) as the response; obj holds the query's parameters.
		Taking dest instead of returning []interface{} keeps callers from having to type-cast the results.
	*/
	SelectAll(ctx context.Context, obj interface{}, dest interface{}, queryName string) error

	DeleteKeys(ctx context.Context, objs ...interface{}) error // Deletes the object's keys from the cache

	// Clear deletes every cache key owned by this service, such as after a manual data fix
	Clear(ctx context.Context) error
}

// storage is the private implements the API
type storage struct {
	db          *db
	cache       *cache
	serviceName string
	defaultTTL  int
	mapper      *reflectx.Mapper
	log         logrus.FieldLogger
	debug       *logger

	queries       map[string]*Query
	queryToTable  map[string]*Table
	structToTable map[string]*Table
}

type Config struct {
	ReadOnlyDbConn  *sqlx.DB
	WriteOnlyDbConn *sqlx.DB
	Redis           *redis.Client
	Tables          []*Table

	ServiceName string // namespace for the cache keys e.g. lead_intake
	DefaultTTL  int    // seconds; used when a Query has no CacheTTL

	DoNotUseCache   bool // ignore Redis even when a client is set
	Debugger        bool // logs every step at debug level
	ValidateQueries bool // EXPLAIN every query against the read conn in New

	Logger logrus.FieldLogger // defaults to logrus.StandardLogger()
}

const defaultTTL = 3600 * 24 * 7 // 7 days

// New returns storage which implements the interface
func New(conf *Config) (Storage, error) {
	if conf == nil {
		return nil, errors.New("storage: config must not be nil")
	}
	if conf.ReadOnlyDbConn == nil || conf.WriteOnlyDbConn == nil {
		return nil, errors.New("storage: ReadOnlyDbConn and WriteOnlyDbConn must be set")
	}

	// use the json tag instead of the DB tag
	mapper := reflectx.NewMapperFunc("json", strings.ToLower)
	conf.ReadOnlyDbConn.Mapper = mapper
	conf.WriteOnlyDbConn.Mapper = mapper

	log := conf.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	ttl := conf.DefaultTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	s := &storage{
		db:            newDB(conf),
		serviceName:   conf.ServiceName,
		defaultTTL:    ttl,
		mapper:        mapper,
		log:           log,
		debug:         &logger{entry: log.WithField("service", conf.ServiceName), debuggerEnabled: conf.Debugger},
		queries:       make(map[string]*Query),
		queryToTable:  make(map[string]*Table),
		structToTable: make(map[string]*Table),
	}

	if conf.Redis != nil && !conf.DoNotUseCache {
		s.cache = newCache(conf.Redis)
	}

	for _, t := range conf.Tables {
		if err := s.addTable(t); err != nil {
			return nil, err
		}
	}

	if err := s.validate(); err != nil {
		return nil, err
	}

	if conf.ValidateQueries {
		if err := s.validateQueries(context.Background()); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *storage) addTable(t *Table) error {
	if t == nil {
		return errors.New("storage: table must not be nil")
	}

	err := t.validate(s.mapper)
	if err != nil {
		return err
	}

	if _, ok := s.structToTable[t.structName]; ok {
		return fmt.Errorf("storage: struct %s registered twice", t.structName)
	}
	s.structToTable[t.structName] = t

	for _, q := range t.Queries {
		if _, ok := s.queries[q.Name]; ok {
			return fmt.Errorf("storage: query %s registered twice", q.Name)
		}

		err = q.validate(t)
		if err != nil {
			return err
		}

		q.parseTTL(s.defaultTTL)
		q.parseFullCacheKey(s.serviceName, t.tableName)

		s.queries[q.Name] = q
		s.queryToTable[q.Name] = t
	}

	return nil
}

func (s *storage) Insert(ctx context.Context, obj interface{}) error {
	tx, err := s.TXBegin(ctx)
	if err != nil {
		return err
	}

	err = tx.TXInsert(ctx, obj)
	if err != nil {
		if rbErr := tx.TXRollback(ctx); rbErr != nil {
			s.log.WithError(rbErr).Error("storage: rollback after failed insert")
		}
		return err
	}

	return tx.TXEnd(ctx)
}

func (s *storage) Select(ctx context.Context, obj interface{}, queryName string) error {
	return s.selectOne(ctx, obj, queryName, s.db.readConn(), true)
}

func (s *storage) SelectAll(ctx context.Context, obj interface{}, dest interface{}, queryName string) error {
	return s.selectAll(ctx, obj, dest, queryName, s.db.readConn(), true)
}

func (s *storage) DeleteKeys(ctx context.Context, objs ...interface{}) error {
	if s.cache == nil {
		return nil
	}

	for _, obj := range objs {
		err := s.actionNonSelect(ctx, obj, actionDelete)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *storage) Clear(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.clear(ctx, fmt.Sprintf("service:%s|*", s.serviceName))
}

// tableFor returns the table registered for obj's struct
func (s *storage) tableFor(obj interface{}) (*Table, error) {
	structName := getStructName(obj)
	if structName == "" {
		return nil, errors.New("storage: struct name cannot be blank")
	}

	table, ok := s.structToTable[structName]
	if !ok {
		return nil, errors.New("storage: no table found for " + structName)
	}
	return table, nil
}

func getStructName(myvar interface{}) string {
	t := reflect.TypeOf(myvar)
	if t == nil {
		return ""
	}
	if t.Kind() == reflect.Ptr {
		return t.Elem().Name()
	}
	return t.Name()
}
