package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/url-ingest/internal/ingest"
)

func TestNewValidatesAndDefaults(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxParallel: -1})
	require.Error(t, err)

	f, err := New(Config{})
	require.NoError(t, err)
	t.Cleanup(f.Close)
	assert.Equal(t, 1, f.cfg.MaxParallel)
	assert.Equal(t, defaultNavigationTimeout, f.cfg.NavigationTimeout)
	assert.Equal(t, defaultSettleDelay, f.cfg.SettleDelay)

	f2, err := New(Config{SettleDelay: -time.Second, NavigationTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(f2.Close)
	assert.Zero(t, f2.cfg.SettleDelay)
	assert.Equal(t, time.Second, f2.cfg.NavigationTimeout)
}

func TestFetchAfterClose(t *testing.T) {
	t.Parallel()

	f, err := New(Config{})
	require.NoError(t, err)
	f.Close()
	f.Close()

	_, err = f.Fetch(context.Background(), ingest.FetchRequest{URL: "https://example.com"})
	require.ErrorIs(t, err, ErrClosed)
}

func TestFetchWaitsForSlot(t *testing.T) {
	t.Parallel()

	f, err := New(Config{MaxParallel: 1})
	require.NoError(t, err)
	t.Cleanup(f.Close)
	require.True(t, f.slots.TryAcquire(1))
	defer f.slots.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.Fetch(ctx, ingest.FetchRequest{URL: "https://example.com"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDocumentResponseObserve(t *testing.T) {
	t.Parallel()

	doc := &documentResponse{}
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://example.com/app.js"},
	})
	doc.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  203,
			URL:     "https://example.com/rendered",
			Headers: network.Headers{"X-Request-ID": "abc", "Vary": []any{"Accept", "Cookie"}},
		},
	})

	status, headers, url := doc.result("https://example.com", "https://example.com/location")
	assert.Equal(t, 203, status)
	assert.Equal(t, "https://example.com/rendered", url)
	assert.Equal(t, "abc", headers.Get("X-Request-ID"))
	assert.Equal(t, []string{"Accept", "Cookie"}, headers.Values("Vary"))
}

func TestDocumentResponseFallbacks(t *testing.T) {
	t.Parallel()

	status, headers, url := (&documentResponse{}).result("https://req", "https://final")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "https://final", url)
	assert.NotNil(t, headers)

	_, _, url = (&documentResponse{}).result("https://req", "")
	assert.Equal(t, "https://req", url)
}

func TestNetworkHeaders(t *testing.T) {
	t.Parallel()

	out := networkHeaders(http.Header{"X-One": {"a"}, "X-Many": {"a", "b"}, "X-None": {}})
	assert.Equal(t, "a", out["X-One"])
	assert.Equal(t, []string{"a", "b"}, out["X-Many"])
	assert.NotContains(t, out, "X-None")
}
