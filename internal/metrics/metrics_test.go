package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	if ingestJobsTotal == nil || ingestQueueDepth == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestQueueAndWorkerGauges(t *testing.T) {
	SetQueueDepth(7)
	if val := testutil.ToFloat64(ingestQueueDepth); val != 7 {
		t.Errorf("expected queue depth 7, got %f", val)
	}

	before := testutil.ToFloat64(ingestActiveWorkers)
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if val := testutil.ToFloat64(ingestActiveWorkers); val != before+1 {
		t.Errorf("expected active workers %f, got %f", before+1, val)
	}
}

func TestCounters(t *testing.T) {
	ObserveJob("completed")
	if val := testutil.ToFloat64(ingestJobsTotal.WithLabelValues("completed")); val < 1 {
		t.Errorf("expected completed jobs >= 1, got %f", val)
	}

	ObserveSinkWrite("sqlite", nil)
	ObserveSinkWrite("sqlite", errors.New("locked"))
	if val := testutil.ToFloat64(ingestSinkWritesTotal.WithLabelValues("sqlite", "error")); val != 1 {
		t.Errorf("expected one sink error, got %f", val)
	}

	ObservePoll("postgres", 3, nil)
	ObservePoll("postgres", 0, errors.New("conn reset"))
	if val := testutil.ToFloat64(ingestPollRowsTotal.WithLabelValues("postgres")); val != 3 {
		t.Errorf("expected 3 polled rows, got %f", val)
	}
	if val := testutil.ToFloat64(ingestPollErrorsTotal.WithLabelValues("postgres")); val != 1 {
		t.Errorf("expected 1 poll error, got %f", val)
	}

	ObserveFetch("https://docs.example.com/a", 150*time.Millisecond, 42)
	if val := testutil.ToFloat64(ingestFetchBytesTotal.WithLabelValues("docs.example.com")); val != 42 {
		t.Errorf("expected 42 bytes, got %f", val)
	}
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
