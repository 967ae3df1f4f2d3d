// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// DatabaseURL is the Postgres connection string. Required.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// DatabaseDriver is the database/sql driver: postgres (lib/pq) or pgx.
	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"`
	DBMaxOpenConns int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns int    `mapstructure:"DB_MAX_IDLE_CONNS"`
	// DBConnMaxLifetime is a duration string (e.g. "5m").
	DBConnMaxLifetime string `mapstructure:"DB_CONN_MAX_LIFETIME"`
	// AutoCreateSchema creates the lead table at start-up when it is missing.
	AutoCreateSchema bool `mapstructure:"AUTO_CREATE_SCHEMA"`

	// HTTPAddr is the address the HTTP server listens on (e.g. :5050).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// CORSAllowedOrigins is a comma-separated list of origins; "*" allows any.
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	// RedisURL enables the read cache when set (e.g. redis://localhost:6379/0).
	RedisURL string `mapstructure:"REDIS_URL"`
	// CacheTTLSeconds is how long a cached lead lives.
	CacheTTLSeconds int `mapstructure:"CACHE_TTL_SECONDS"`
	// CacheClearOnStart drops this service's cache keys at start-up.
	CacheClearOnStart bool `mapstructure:"CACHE_CLEAR_ON_START"`
	// ServiceName namespaces the cache keys.
	ServiceName string `mapstructure:"SERVICE_NAME"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
	// StorageDebug logs every storage step at debug level.
	StorageDebug bool `mapstructure:"STORAGE_DEBUG"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DATABASE_DRIVER", "postgres")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "5m")
	v.SetDefault("AUTO_CREATE_SCHEMA", true)
	v.SetDefault("HTTP_ADDR", ":5050")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("CACHE_TTL_SECONDS", 3600*24*7)
	v.SetDefault("CACHE_CLEAR_ON_START", false)
	v.SetDefault("SERVICE_NAME", "lead_intake")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("STORAGE_DEBUG", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, errors.New("config: DATABASE_URL is not set. PostgreSQL is required")
	}
	cfg.DatabaseURL = NormalizeDatabaseURL(cfg.DatabaseURL)

	switch cfg.DatabaseDriver {
	case "postgres", "pgx":
	default:
		return nil, errors.New("config: DATABASE_DRIVER must be postgres or pgx")
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.DBMaxOpenConns < 0 || cfg.DBMaxIdleConns < 0 {
		return nil, errors.New("config: DB_MAX_OPEN_CONNS and DB_MAX_IDLE_CONNS must not be negative")
	}
	if cfg.CacheTTLSeconds <= 0 {
		return nil, errors.New("config: CACHE_TTL_SECONDS must be positive")
	}
	if strings.ContainsAny(cfg.ServiceName, "%|") || cfg.ServiceName == "" {
		return nil, errors.New("config: SERVICE_NAME must be set and must not contain % or |")
	}

	return &cfg, nil
}

// NormalizeDatabaseURL rewrites the legacy postgres:// scheme (as issued by Heroku and others) to postgresql://.
func NormalizeDatabaseURL(url string) string {
	url = strings.TrimSpace(url)
	if strings.HasPrefix(url, "postgres://") {
		return "postgresql://" + strings.TrimPrefix(url, "postgres://")
	}
	return url
}

// ConnMaxLifetime parses DBConnMaxLifetime as a time.Duration. Returns 5m if unset or invalid.
func (c *Config) ConnMaxLifetime() time.Duration {
	d, err := time.ParseDuration(c.DBConnMaxLifetime)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// AllowedOrigins returns the CORS origins from the comma-separated config.
func (c *Config) AllowedOrigins() []string {
	if c == nil || c.CORSAllowedOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSAllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// CacheEnabled reports whether a Redis URL was configured.
func (c *Config) CacheEnabled() bool {
	return c != nil && strings.TrimSpace(c.RedisURL) != ""
}
