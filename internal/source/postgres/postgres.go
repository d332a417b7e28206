// Package postgres reads URL rows from, and writes job records to, a
// PostgreSQL database through a pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/url-ingest/internal/ingest"
	"github.com/JakeFAU/url-ingest/internal/source"
)

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// Store is a source.Conn over a pgx pool.
type Store struct {
	pool pool
}

var _ source.Conn = (*Store)(nil)

// Opener returns a source.Opener that applies cfg to every pool it creates.
func Opener(cfg PoolConfig) source.Opener {
	return func(ctx context.Context, dsn string) (source.Conn, error) {
		return Open(ctx, dsn, cfg)
	}
}

// Open parses dsn, creates a pool and pings it. DSN parse failures are not
// retryable.
func Open(ctx context.Context, dsn string, cfg PoolConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("parse postgres dsn: %w", err))
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
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool wraps an existing pool (primarily for testing).
func NewWithPool(p pool) *Store {
	return &Store{pool: p}
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ListTables returns base tables in the current schema.
func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return names, nil
}

// ListColumns returns the columns of table in ordinal order.
func (s *Store) ListColumns(ctx context.Context, table string) ([]string, error) {
	if err := source.ValidateIdent(table); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
SELECT column_name
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	cols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %q not found", table)
	}
	return cols, nil
}

// FetchRowsAfter returns up to query.Limit rows with key > query.After in key
// order. Values of any column type are read as text; NULL becomes "".
func (s *Store) FetchRowsAfter(ctx context.Context, query ingest.RowQuery) ([]ingest.Row, error) {
	if err := source.ValidateIdents(query.Table, query.KeyColumn, query.ValueColumn); err != nil {
		return nil, err
	}
	key := quote(query.KeyColumn)
	stmt := fmt.Sprintf(`SELECT %s::bigint, %s::text FROM %s WHERE %s > $1 ORDER BY %s ASC LIMIT $2`,
		key, quote(query.ValueColumn), quote(query.Table), key, key)
	rows, err := s.pool.Query(ctx, stmt, query.After, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("fetch rows from %s: %w", query.Table, err)
	}
	defer rows.Close()

	var out []ingest.Row
	for rows.Next() {
		var (
			id    int64
			value pgtype.Text
		)
		if err := rows.Scan(&id, &value); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, ingest.Row{Key: id, Value: value.String})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// EnsureTable creates the output table if it does not exist.
func (s *Store) EnsureTable(ctx context.Context, table string) error {
	if err := source.ValidateIdent(table); err != nil {
		return err
	}
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	job_id BIGINT NOT NULL,
	url TEXT NOT NULL,
	status TEXT NOT NULL,
	result JSONB,
	error TEXT,
	created_at TIMESTAMPTZ NOT NULL
)`, quote(table))
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// AppendRecord inserts one row for job.
func (s *Store) AppendRecord(ctx context.Context, table string, job ingest.Job) error {
	if err := source.ValidateIdent(table); err != nil {
		return err
	}
	rec, err := source.NewRecord(job)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (job_id, url, status, result, error, created_at) VALUES ($1, $2, $3, $4, $5, $6)`, quote(table))
	if _, err := s.pool.Exec(ctx, stmt,
		rec.JobID, rec.URL, rec.Status, rec.Result, rec.Error, rec.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

func quote(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}
