// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/extendspider-console/internal/store"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool used by the repository.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// ConfigRepository implements store.ConfigRepository using Postgres.
type ConfigRepository struct {
	pool pool
}

const schema = `
CREATE TABLE IF NOT EXISTS plugin_configs (
	plugin     TEXT PRIMARY KEY,
	document   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS plugin_activity (
	id     UUID PRIMARY KEY,
	plugin TEXT NOT NULL,
	kind   TEXT NOT NULL,
	title  TEXT NOT NULL,
	at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS plugin_activity_plugin_at ON plugin_activity (plugin, at DESC);
`

// NewConfigRepository connects a pool using cfg.
func NewConfigRepository(ctx context.Context, cfg Config) (*ConfigRepository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ConfigRepository{pool: p}, nil
}

// NewConfigRepositoryWithPool constructs a repository from an existing pool
// (primarily for testing).
func NewConfigRepositoryWithPool(p pool) (*ConfigRepository, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ConfigRepository{pool: p}, nil
}

// EnsureSchema creates the tables when they do not exist.
func (r *ConfigRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Ping verifies connectivity.
func (r *ConfigRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (r *ConfigRepository) Close() {
	r.pool.Close()
}

// LoadDocument returns the stored document or store.ErrNotFound.
func (r *ConfigRepository) LoadDocument(ctx context.Context, plugin string) ([]byte, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT document FROM plugin_configs WHERE plugin = $1`, plugin).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("plugin %s: %w", plugin, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	return doc, nil
}

// SaveDocument upserts the plugin document.
func (r *ConfigRepository) SaveDocument(ctx context.Context, plugin string, document []byte, at time.Time) error {
	query := `
		INSERT INTO plugin_configs (plugin, document, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (plugin) DO UPDATE
		SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at;
	`
	if _, err := r.pool.Exec(ctx, query, plugin, document, at); err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

// AppendActivity inserts an activity row.
func (r *ConfigRepository) AppendActivity(ctx context.Context, entry store.ActivityEntry) error {
	query := `
		INSERT INTO plugin_activity (id, plugin, kind, title, at)
		VALUES ($1, $2, $3, $4, $5);
	`
	if _, err := r.pool.Exec(ctx, query, entry.ID, entry.Plugin, entry.Kind, entry.Title, entry.At); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// ListActivity returns up to limit entries, newest first.
func (r *ConfigRepository) ListActivity(ctx context.Context, plugin string, limit int) ([]store.ActivityEntry, error) {
	if limit <= 0 {
		limit = store.DefaultActivityLimit
	}
	query := `
		SELECT id, kind, title, at FROM plugin_activity
		WHERE plugin = $1
		ORDER BY at DESC, id DESC
		LIMIT $2;
	`
	rows, err := r.pool.Query(ctx, query, plugin, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	entries := make([]store.ActivityEntry, 0, limit)
	for rows.Next() {
		entry := store.ActivityEntry{Plugin: plugin}
		if err := rows.Scan(&entry.ID, &entry.Kind, &entry.Title, &entry.At); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return entries, nil
}
