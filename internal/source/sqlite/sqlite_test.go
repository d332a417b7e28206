package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/url-ingest/internal/ingest"
	"github.com/JakeFAU/url-ingest/internal/source"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	conn, err := Open(context.Background(), filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	store, ok := conn.(*Store)
	require.True(t, ok)
	return store
}

func seed(t *testing.T, s *Store, stmts ...string) {
	t.Helper()
	for _, stmt := range stmts {
		_, err := s.db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
}

func TestListTablesAndColumns(t *testing.T) {
	t.Parallel()

	s := openTemp(t)
	seed(t, s,
		`CREATE TABLE urls (id INTEGER PRIMARY KEY, url TEXT, note TEXT)`,
		`CREATE TABLE archive (id INTEGER PRIMARY KEY AUTOINCREMENT, link TEXT)`,
	)
	ctx := context.Background()

	tables, err := s.ListTables(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"archive", "urls"}, tables)

	cols, err := s.ListColumns(ctx, "urls")
	require.NoError(t, err)
	require.Equal(t, []string{"id", "url", "note"}, cols)

	_, err = s.ListColumns(ctx, "missing")
	require.Error(t, err)
	_, err = s.ListColumns(ctx, "urls; DROP TABLE urls")
	require.ErrorIs(t, err, source.ErrInvalidIdentifier)
}

func TestFetchRowsAfterAdvancesPastGaps(t *testing.T) {
	t.Parallel()

	s := openTemp(t)
	seed(t, s,
		`CREATE TABLE urls (id INTEGER PRIMARY KEY, url TEXT)`,
		`INSERT INTO urls (id, url) VALUES (10, 'https://old.test'), (11, 'https://a.test'), (13, NULL), (15, 'https://c.test')`,
	)
	query := ingest.RowQuery{Table: "urls", KeyColumn: "id", ValueColumn: "url", After: 10, Limit: 100}

	rows, err := s.FetchRowsAfter(context.Background(), query)
	require.NoError(t, err)
	require.Equal(t, []ingest.Row{
		{Key: 11, Value: "https://a.test"},
		{Key: 13, Value: ""},
		{Key: 15, Value: "https://c.test"},
	}, rows)

	query.Limit = 1
	rows, err = s.FetchRowsAfter(context.Background(), query)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(11), rows[0].Key)

	query.After, query.Limit = 15, 100
	rows, err = s.FetchRowsAfter(context.Background(), query)
	require.NoError(t, err)
	require.Empty(t, rows)

	query.ValueColumn = "url)--"
	_, err = s.FetchRowsAfter(context.Background(), query)
	require.ErrorIs(t, err, source.ErrInvalidIdentifier)
}

func TestEnsureTableAndAppendRecord(t *testing.T) {
	t.Parallel()

	s := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureTable(ctx, "scrape_output"))
	require.NoError(t, s.EnsureTable(ctx, "scrape_output"))

	code := 200
	job := ingest.Job{
		ID:        3,
		URL:       "https://example.com",
		Status:    ingest.JobStatusCompleted,
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Result: &ingest.Result{
			Markdown: "# Example",
			Metadata: ingest.Metadata{Title: "Example", StatusCode: &code},
		},
	}
	require.NoError(t, s.AppendRecord(ctx, "scrape_output", job))

	var (
		jobID     int64
		status    string
		result    string
		errText   string
		createdAt string
	)
	require.NoError(t, s.db.QueryRow(
		`SELECT job_id, status, result, error, created_at FROM scrape_output`,
	).Scan(&jobID, &status, &result, &errText, &createdAt))
	require.Equal(t, int64(3), jobID)
	require.Equal(t, "completed", status)
	require.Contains(t, result, `"markdown":"# Example"`)
	require.Empty(t, errText)
	require.Equal(t, "2024-01-02T03:04:05.000Z", createdAt)

	require.ErrorIs(t, s.EnsureTable(ctx, "bad name"), source.ErrInvalidIdentifier)
	require.ErrorIs(t, s.AppendRecord(ctx, "bad name", job), source.ErrInvalidIdentifier)
}

func TestOpenInMemory(t *testing.T) {
	t.Parallel()

	conn, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.EnsureTable(context.Background(), "out"))
	tables, err := conn.ListTables(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"out"}, tables)
}

func TestWithBusyTimeout(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a.db?_pragma=busy_timeout(5000)", withBusyTimeout("a.db"))
	require.Equal(t, "file:a.db?mode=ro&_pragma=busy_timeout(5000)", withBusyTimeout("file:a.db?mode=ro"))
	require.Equal(t, "a.db?_pragma=busy_timeout(10)", withBusyTimeout("a.db?_pragma=busy_timeout(10)"))
}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestListTablesQueryError(t *testing.T) {
	t.Parallel()

	s, mock := newMock(t)
	mock.ExpectQuery("SELECT name FROM sqlite_master").WillReturnError(errors.New("disk I/O error"))

	_, err := s.ListTables(context.Background())
	require.ErrorContains(t, err, "disk I/O error")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchRowsAfterIterationError(t *testing.T) {
	t.Parallel()

	s, mock := newMock(t)
	rows := sqlmock.NewRows([]string{"id", "url"}).
		AddRow(int64(1), "https://a.test").
		RowError(0, sql.ErrConnDone)
	mock.ExpectQuery(`SELECT "id", "url" FROM "urls" WHERE "id" > \? ORDER BY "id" ASC LIMIT \?`).
		WithArgs(int64(0), 10).
		WillReturnRows(rows)

	_, err := s.FetchRowsAfter(context.Background(), ingest.RowQuery{
		Table: "urls", KeyColumn: "id", ValueColumn: "url", Limit: 10,
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendRecordExecError(t *testing.T) {
	t.Parallel()

	s, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO "out"`).WillReturnError(errors.New("database is locked"))

	err := s.AppendRecord(context.Background(), "out", ingest.Job{ID: 1, URL: "u", Status: ingest.JobStatusFailed})
	require.ErrorContains(t, err, "database is locked")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureTableExecError(t *testing.T) {
	t.Parallel()

	s, mock := newMock(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "out"`).WillReturnError(errors.New("read-only database"))

	require.ErrorContains(t, s.EnsureTable(context.Background(), "out"), "read-only database")
}
