package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/url-ingest/internal/ingest"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("X-Echo", r.Header.Get("X-Trace"))
		_, _ = w.Write([]byte("<html><head><title>OK</title></head><body>hi</body></html>"))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ok", http.StatusFound)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchOK(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	f := New(Config{UserAgent: "ingest-test", Timeout: time.Second})

	resp, err := f.Fetch(context.Background(), ingest.FetchRequest{
		URL:     srv.URL + "/ok",
		Headers: http.Header{"X-Trace": {"abc"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "<title>OK</title>")
	require.Equal(t, "abc", resp.Headers.Get("X-Echo"))
	require.False(t, resp.UsedHeadless)

	again, err := f.Fetch(context.Background(), ingest.FetchRequest{URL: srv.URL + "/ok"})
	require.NoError(t, err, "revisiting a URL must be allowed")
	require.Equal(t, http.StatusOK, again.StatusCode)
}

func TestFetchNon2xxIsAResponse(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	resp, err := New(Config{}).Fetch(context.Background(), ingest.FetchRequest{URL: srv.URL + "/missing"})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFetchFollowsRedirects(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	resp, err := New(Config{}).Fetch(context.Background(), ingest.FetchRequest{URL: srv.URL + "/moved"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "hi")
}

func TestFetchConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(Config{Timeout: time.Second}).Fetch(context.Background(), ingest.FetchRequest{URL: url})
	require.Error(t, err)
}

func TestFetchHonorsContext(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(Config{Timeout: 5 * time.Second}).Fetch(ctx, ingest.FetchRequest{URL: srv.URL + "/slow"})
	require.Error(t, err)
}
