package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Config holds database connection settings.
type Config struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Postgres owns the shared PostgreSQL connection pool.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection pool with the given settings.
func NewPostgres(cfg Config) (*Postgres, error) {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &Postgres{db: db}, nil
}

// DB exposes the pool to the store implementations.
func (p *Postgres) DB() *sql.DB {
	return p.db
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Ping verifies the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// CreateTables creates the schema. The partial unique index on nodes backs
// the single-primary invariant at the storage layer.
func (p *Postgres) CreateTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			provider VARCHAR(64) PRIMARY KEY,
			region VARCHAR(64) NOT NULL DEFAULT '',
			priority INT NOT NULL DEFAULT 100,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			is_primary BOOLEAN NOT NULL DEFAULT FALSE,
			endpoint TEXT NOT NULL,
			latency_ms DOUBLE PRECISION,
			consecutive_failures INT NOT NULL DEFAULT 0,
			last_checked_at TIMESTAMPTZ,
			outbound_address TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS nodes_single_primary
			ON nodes (is_primary) WHERE is_primary`,
		`CREATE TABLE IF NOT EXISTS failover_events (
			id UUID PRIMARY KEY,
			from_provider VARCHAR(64) NOT NULL DEFAULT '',
			to_provider VARCHAR(64) NOT NULL DEFAULT '',
			reason VARCHAR(32) NOT NULL,
			is_automatic BOOLEAN NOT NULL,
			result VARCHAR(16) NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			triggered_at TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS failover_events_triggered_at
			ON failover_events (triggered_at DESC)`,
		`CREATE TABLE IF NOT EXISTS health_samples (
			id BIGSERIAL PRIMARY KEY,
			provider VARCHAR(64) NOT NULL,
			taken_at TIMESTAMPTZ NOT NULL,
			latency_ms DOUBLE PRECISION,
			outcome VARCHAR(16) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS health_samples_provider_taken_at
			ON health_samples (provider, taken_at DESC)`,
		`CREATE TABLE IF NOT EXISTS health_sample_archives (
			id BIGSERIAL PRIMARY KEY,
			from_time TIMESTAMPTZ NOT NULL,
			to_time TIMESTAMPTZ NOT NULL,
			sample_count INT NOT NULL,
			payload BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, query := range queries {
		if _, err := p.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	return nil
}
