//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/url-ingest/internal/ingest"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	pool, err := dockertest.NewPool("")
	require.NoError(t, err)
	require.NoError(t, pool.Client.Ping())

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16-alpine",
		Env: []string{
			"POSTGRES_USER=ingest",
			"POSTGRES_PASSWORD=secret",
			"POSTGRES_DB=ingest",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Purge(resource) })
	_ = resource.Expire(120)

	dsn := fmt.Sprintf("postgres://ingest:secret@%s/ingest?sslmode=disable", resource.GetHostPort("5432/tcp"))
	pool.MaxWait = 60 * time.Second
	require.NoError(t, pool.Retry(func() error {
		conn, err := pgx.Connect(context.Background(), dsn)
		if err != nil {
			return err
		}
		defer conn.Close(context.Background())
		return conn.Ping(context.Background())
	}))
	return dsn
}

func TestStoreAgainstPostgres(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	store, err := Open(ctx, dsn, PoolConfig{MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.pool.Exec(ctx, `CREATE TABLE urls (id BIGINT PRIMARY KEY, link TEXT)`)
	require.NoError(t, err)
	_, err = store.pool.Exec(ctx, `INSERT INTO urls VALUES (1, 'https://a.test'), (3, NULL), (5, 'https://c.test')`)
	require.NoError(t, err)

	tables, err := store.ListTables(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"urls"}, tables)

	cols, err := store.ListColumns(ctx, "urls")
	require.NoError(t, err)
	require.Equal(t, []string{"id", "link"}, cols)

	rows, err := store.FetchRowsAfter(ctx, ingest.RowQuery{Table: "urls", KeyColumn: "id", ValueColumn: "link", After: 0, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, []ingest.Row{{Key: 1, Value: "https://a.test"}, {Key: 3}, {Key: 5, Value: "https://c.test"}}, rows)

	require.NoError(t, store.EnsureTable(ctx, "scrape_output"))
	require.NoError(t, store.EnsureTable(ctx, "scrape_output"))
	code := 200
	require.NoError(t, store.AppendRecord(ctx, "scrape_output", ingest.Job{
		ID: 1, URL: "https://a.test", Status: ingest.JobStatusCompleted, CreatedAt: time.Now(),
		Result: &ingest.Result{Markdown: "hi", Metadata: ingest.Metadata{StatusCode: &code}},
	}))

	rows2, err := store.pool.Query(ctx, `SELECT result->>'markdown' FROM scrape_output`)
	require.NoError(t, err)
	markdown, err := pgx.CollectOneRow(rows2, pgx.RowTo[string])
	require.NoError(t, err)
	require.Equal(t, "hi", markdown)
}
