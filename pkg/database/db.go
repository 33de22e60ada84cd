package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/reliability/retry"
	_ "github.com/lib/pq"
)

// Config holds the PostgreSQL settings of the principal store
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN renders the config as a postgres:// URL. Credentials are escaped.
func (c *Config) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// ConnectionPool owns the *sql.DB shared by the PostgreSQL repositories
type ConnectionPool struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewConnectionPool opens the pool and pings it, retrying with backoff
// before giving up so the auth service can start alongside its database.
func NewConnectionPool(ctx context.Context, config *Config, logger *slog.Logger) (*ConnectionPool, error) {
	if config == nil {
		config = DefaultConfig()
	}
	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pool := Wrap(db, config, logger)
	if _, err := retry.Do(ctx, retry.DefaultConfig(), pool.logger, "postgres connect", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, pool.Health(ctx)
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pool.logger.Info("postgres connected",
		slog.String("host", config.Host),
		slog.String("database", config.Database),
	)
	return pool, nil
}

// Wrap applies the pool limits to an already opened handle
func Wrap(db *sql.DB, config *Config, logger *slog.Logger) *ConnectionPool {
	if logger == nil {
		logger = slog.Default()
	}
	if config == nil {
		config = DefaultConfig()
	}
	db.SetMaxOpenConns(orDefault(config.MaxOpenConns, 25))
	db.SetMaxIdleConns(orDefault(config.MaxIdleConns, 5))
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	return &ConnectionPool{db: db, logger: logger}
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// GetDB returns the underlying handle
func (cp *ConnectionPool) GetDB() *sql.DB {
	return cp.db
}

// Close closes the pool
func (cp *ConnectionPool) Close() error {
	if cp.db != nil {
		return cp.db.Close()
	}
	return nil
}

// Health pings the database with a short deadline; it backs the /ready probe
func (cp *ConnectionPool) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return cp.db.PingContext(ctx)
}

// DefaultConfig returns the local development settings
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		User:            "expensetracker",
		Password:        "dev",
		Database:        "expensetracker",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}
