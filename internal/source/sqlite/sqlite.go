// Package sqlite reads URL rows from, and writes job records to, an embedded
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/url-ingest/internal/ingest"
	"github.com/JakeFAU/url-ingest/internal/source"
)

const driverName = "sqlite"

// Store is a source.Conn over database/sql.
type Store struct {
	db *sql.DB
}

var _ source.Conn = (*Store)(nil)

// Open connects to the database file at dsn. A plain path gets a busy timeout
// so concurrent workers wait for the write lock instead of failing.
func Open(ctx context.Context, dsn string) (source.Conn, error) {
	db, err := sql.Open(driverName, withBusyTimeout(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func withBusyTimeout(dsn string) string {
	if strings.Contains(dsn, "_pragma=busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)"
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ListTables returns user tables in name order.
func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return collectNames(rows)
}

// ListColumns returns the columns of table in declaration order.
func (s *Store) ListColumns(ctx context.Context, table string) ([]string, error) {
	if err := source.ValidateIdent(table); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	cols, err := collectNames(rows)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %q not found", table)
	}
	return cols, nil
}

// FetchRowsAfter returns up to query.Limit rows with key > query.After in key
// order. NULL values come back as empty strings.
func (s *Store) FetchRowsAfter(ctx context.Context, query ingest.RowQuery) ([]ingest.Row, error) {
	if err := source.ValidateIdents(query.Table, query.KeyColumn, query.ValueColumn); err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf(`SELECT %s, %s FROM %s WHERE %s > ? ORDER BY %s ASC LIMIT ?`,
		quote(query.KeyColumn), quote(query.ValueColumn), quote(query.Table),
		quote(query.KeyColumn), quote(query.KeyColumn))
	rows, err := s.db.QueryContext(ctx, stmt, query.After, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("fetch rows from %s: %w", query.Table, err)
	}
	defer rows.Close()

	var out []ingest.Row
	for rows.Next() {
		var (
			key   int64
			value sql.NullString
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, ingest.Row{Key: key, Value: value.String})
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
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id INTEGER NOT NULL,
	url TEXT NOT NULL,
	status TEXT NOT NULL,
	result TEXT,
	error TEXT,
	created_at TEXT NOT NULL
)`, quote(table))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
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
	var result any
	if rec.Result != nil {
		result = string(rec.Result)
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (job_id, url, status, result, error, created_at) VALUES (?, ?, ?, ?, ?, ?)`, quote(table))
	if _, err := s.db.ExecContext(ctx, stmt,
		rec.JobID, rec.URL, rec.Status, result, rec.Error, rec.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

func quote(ident string) string {
	return `"` + ident + `"`
}

func collectNames(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate names: %w", err)
	}
	return names, nil
}
