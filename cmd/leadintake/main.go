package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/osr-alliance/backend-lead-intake/api"
	"github.com/osr-alliance/backend-lead-intake/config"
	"github.com/osr-alliance/backend-lead-intake/logging"
	"github.com/osr-alliance/backend-lead-intake/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.WithError(err).Fatal("build logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("lead intake stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	db, err := createDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.AutoCreateSchema {
		if err := store.EnsureSchema(ctx, db); err != nil {
			return err
		}
	}

	rdb, err := createRedis(ctx, cfg, log)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	s, err := store.New(&store.Config{
		ReadConn:        db,
		WriteConn:       db,
		Redis:           rdb,
		ServiceName:     cfg.ServiceName,
		DefaultTTL:      cfg.CacheTTLSeconds,
		Debugger:        cfg.StorageDebug,
		ValidateQueries: true,
		Logger:          log,
	})
	if err != nil {
		return err
	}

	if rdb != nil && cfg.CacheClearOnStart {
		if err := s.ClearCache(ctx); err != nil {
			log.WithError(err).Warn("clear cache on start")
		}
	}

	srv := &http.Server{
		Handler: api.NewHandler(&api.Config{
			Store:          s,
			Logger:         log,
			AllowedOrigins: cfg.AllowedOrigins(),
		}),
		Addr: cfg.HTTPAddr,
		// Good practice: enforce timeouts for servers you create!
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("lead intake listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func createDB(ctx context.Context, cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime())

	return db, nil
}

// createRedis returns nil when no REDIS_URL is configured; the service then reads straight from the db
func createRedis(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*redis.Client, error) {
	if !cfg.CacheEnabled() {
		log.Info("REDIS_URL not set; cache disabled")
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	return rdb, nil
}
