package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 16
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the buckets and dynamic_redirects tables if needed.
// Hash columns hold either the salted or the legacy encoding; the reader
// tells them apart by shape.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS buckets (
	code TEXT PRIMARY KEY,
	owner_token_hash TEXT NOT NULL,
	password_hash TEXT,
	is_reusable BOOLEAN NOT NULL DEFAULT FALSE,
	delete_on_download BOOLEAN NOT NULL DEFAULT FALSE,
	is_empty BOOLEAN NOT NULL DEFAULT TRUE,
	content_type TEXT,
	content TEXT,
	content_metadata JSONB,
	storage_path TEXT,
	download_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	last_accessed_at TIMESTAMPTZ NOT NULL,
	filled_at TIMESTAMPTZ,
	last_emptied_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_buckets_single_drop_created ON buckets(created_at) WHERE NOT is_reusable;
CREATE INDEX IF NOT EXISTS idx_buckets_reusable_filled ON buckets(filled_at) WHERE is_reusable AND NOT is_empty;

CREATE TABLE IF NOT EXISTS dynamic_redirects (
	code TEXT PRIMARY KEY,
	owner_token_hash TEXT NOT NULL,
	password_hash TEXT,
	destination_url TEXT NOT NULL,
	routing_mode TEXT NOT NULL DEFAULT 'simple',
	routing_config JSONB,
	max_scans INTEGER CHECK (max_scans IS NULL OR max_scans > 0),
	scan_count INTEGER NOT NULL DEFAULT 0,
	expires_at TIMESTAMPTZ,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	last_accessed_at TIMESTAMPTZ NOT NULL
);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
