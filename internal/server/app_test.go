package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/url-ingest/internal/config"
	"github.com/JakeFAU/url-ingest/internal/ingest"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/article", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Article</title></head>` +
			`<body><h1>Headline</h1><p>Body text.</p></body></html>`))
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig() config.Config {
	return config.Config{
		Server:  config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 5},
		Workers: config.WorkersConfig{Concurrency: 2, QueueDepth: 16, EnqueueTimeoutSeconds: 1},
		HTTP:    config.HTTPConfig{TimeoutSeconds: 5, UserAgent: "ingest-test"},
		Archive: config.ArchiveConfig{Backend: config.ArchiveMemory, Prefix: "docs"},
		Polling: config.PollingConfig{BatchSize: 10, IntervalSeconds: 60},
		Sources: config.SourcesConfig{ConnectTimeoutSeconds: 5},
		Sink:    config.SinkConfig{TimeoutSeconds: 5},
		Progress: config.ProgressConfig{
			MaxBatchEvents: 8,
			MaxBatchWaitMs: 10,
		},
	}
}

func buildTestApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	app, err := build(context.Background(), cfg, zap.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)
	return app
}

func TestRunBatch(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	app := buildTestApp(t, testConfig())
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	jobs, err := app.RunBatch(ctx, []string{site.URL + "/article", "", site.URL + "/gone"})
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	require.Equal(t, ingest.JobStatusCompleted, jobs[0].Status)
	require.NotNil(t, jobs[0].Result)
	require.Contains(t, jobs[0].Result.Markdown, "Headline")
	require.Equal(t, "Article", jobs[0].Result.Metadata.Title)

	require.Equal(t, ingest.JobStatusFailed, jobs[1].Status)
	require.NotNil(t, jobs[1].Result.Metadata.StatusCode)
	require.Equal(t, http.StatusNotFound, *jobs[1].Result.Metadata.StatusCode)
}

func TestRunBatchContextCanceled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Workers.Concurrency = 1
	app := buildTestApp(t, cfg)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	slow := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	}))
	t.Cleanup(slow.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	jobs, err := app.RunBatch(ctx, []string{slow.URL})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, jobs, 1)
}

func TestSourceIngestEndToEnd(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	dbPath := filepath.Join(t.TempDir(), "urls.db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE seeds (id INTEGER PRIMARY KEY, link TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO seeds (id, link) VALUES (1, ?), (2, ''), (4, ?)`,
		site.URL+"/article", site.URL+"/gone")
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Preconfigured = []config.SourceEntry{{
		Type:        "sqlite",
		DSN:         dbPath,
		Table:       "seeds",
		Column:      "link",
		OutputTable: "results",
	}}
	app := buildTestApp(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, app.startSources(ctx))

	workCtx, stopWork := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		app.dispatch.Run(workCtx)
	}()
	t.Cleanup(func() {
		stopWork()
		<-done
		_ = app.Close(context.Background())
	})

	n, err := app.pollers.Import(ctx, ingest.SourceSQLite)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	statuses := app.pollers.Sources()
	require.Len(t, statuses, 1)
	require.Equal(t, int64(4), statuses[0].Config.LastSeenID)

	require.Eventually(t, func() bool {
		var count int
		if err := db.QueryRow(`SELECT COUNT(*) FROM results`).Scan(&count); err != nil {
			return false
		}
		return count == 2
	}, 5*time.Second, 20*time.Millisecond)

	rows, err := db.Query(`SELECT url, status FROM results ORDER BY job_id`)
	require.NoError(t, err)
	defer rows.Close()
	var got []string
	for rows.Next() {
		var url, status string
		require.NoError(t, rows.Scan(&url, &status))
		got = append(got, fmt.Sprintf("%s=%s", strings.TrimPrefix(url, site.URL), status))
	}
	require.NoError(t, rows.Err())
	require.Equal(t, []string{"/article=completed", "/gone=failed"}, got)
}

func TestHandlerServesHealth(t *testing.T) {
	t.Parallel()

	app := buildTestApp(t, testConfig())
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStartSourcesRejectsUnreachable(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Sources.ConnectTimeoutSeconds = 1
	cfg.Preconfigured = []config.SourceEntry{{
		Type:   "postgres",
		DSN:    "not a dsn ::",
		Table:  "seeds",
		Column: "link",
	}}
	app := buildTestApp(t, cfg)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	err := app.startSources(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "preconfigured source postgres")
}
