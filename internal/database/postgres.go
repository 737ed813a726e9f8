package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// PoolConfig holds tunable parameters for the PostgreSQL connection pool.
type PoolConfig struct {
	MaxConns int
	MinConns int
}

// Connect creates the PostgreSQL connection pool and registers the
// pgvector types on every connection.
func Connect(ctx context.Context, dsn string, opts ...PoolConfig) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if len(opts) > 0 && opts[0].MaxConns > 0 {
		config.MaxConns = int32(opts[0].MaxConns)
	} else {
		config.MaxConns = 10
	}
	if len(opts) > 0 && opts[0].MinConns > 0 {
		config.MinConns = int32(opts[0].MinConns)
	} else {
		config.MinConns = 2
	}

	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return pool, nil
}

var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,

	`CREATE TABLE IF NOT EXISTS source_documents (
		id UUID PRIMARY KEY,
		display_name TEXT NOT NULL,
		link TEXT NOT NULL DEFAULT '',
		total_pages INT NOT NULL DEFAULT 0,
		ingested_pages INT NOT NULL DEFAULT 0,
		content_hash TEXT NOT NULL UNIQUE,
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS content_fragments (
		id UUID PRIMARY KEY,
		document_id UUID NOT NULL REFERENCES source_documents(id) ON DELETE CASCADE,
		page_number INT NOT NULL,
		content_kind TEXT NOT NULL,
		content TEXT NOT NULL,
		reconstructed TEXT,
		detection JSONB NOT NULL DEFAULT '{}',
		embedding vector(768),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_fragments_document_page
		ON content_fragments (document_id, page_number)`,

	`CREATE TABLE IF NOT EXISTS news_items (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		release_date DATE NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		link TEXT NOT NULL DEFAULT '',
		tags JSONB NOT NULL DEFAULT '[]',
		embedding vector(768),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_news_release_date
		ON news_items (release_date DESC)`,

	`CREATE TABLE IF NOT EXISTS feedback_scores (
		id BIGSERIAL PRIMARY KEY,
		entity_kind TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		positive INT NOT NULL DEFAULT 0,
		negative INT NOT NULL DEFAULT 0,
		score DOUBLE PRECISION NOT NULL DEFAULT 0.5,
		UNIQUE (entity_kind, entity_id)
	)`,

	`CREATE TABLE IF NOT EXISTS batch_jobs (
		id BIGSERIAL PRIMARY KEY,
		job_name TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'IDLE',
		total_items INT NOT NULL DEFAULT 0,
		processed_items INT NOT NULL DEFAULT 0,
		message TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		last_heartbeat TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS api_credentials (
		id BIGSERIAL PRIMARY KEY,
		alias TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		quota_exceeded BOOLEAN NOT NULL DEFAULT FALSE,
		quota_exceeded_at TIMESTAMPTZ,
		total_requests BIGINT NOT NULL DEFAULT 0,
		failed_requests BIGINT NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_used TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate applies the schema. Statements are idempotent so this runs
// unconditionally at startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
