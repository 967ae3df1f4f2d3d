// Package store owns the lead table: its schema, its queries and cache keys, and the operations the API runs on it.
package store

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	storage "github.com/osr-alliance/backend-lead-intake/storage"
)

type Store interface {
	CreateLead(ctx context.Context, in NewLead) (*Lead, error)
	GetLeadByID(ctx context.Context, id int64) (*Lead, error)
	ListLeads(ctx context.Context) ([]Lead, error)
	ClearCache(ctx context.Context) error
}

type store struct {
	store storage.Storage
}

type Config struct {
	ReadConn  *sqlx.DB
	WriteConn *sqlx.DB
	Redis     *redis.Client // optional; nil disables the cache

	ServiceName     string
	DefaultTTL      int // seconds; defaults to DefaultTTL
	Debugger        bool
	ValidateQueries bool
	Logger          logrus.FieldLogger
}

func New(conf *Config) (Store, error) {
	ttl := conf.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	tables := []*storage.Table{
		newLeadTable(),
	}

	// instantiate the storage
	c := &storage.Config{
		ReadOnlyDbConn:  conf.ReadConn,
		WriteOnlyDbConn: conf.WriteConn,
		Redis:           conf.Redis,
		Tables:          tables,
		ServiceName:     conf.ServiceName,
		DefaultTTL:      ttl,
		Debugger:        conf.Debugger,
		ValidateQueries: conf.ValidateQueries,
		Logger:          conf.Logger,
	}

	s, err := storage.New(c)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	return &store{
		store: s,
	}, nil
}
