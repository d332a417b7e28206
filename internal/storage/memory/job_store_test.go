package memory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/url-ingest/internal/ingest"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	store := NewJobStore(fixedClock{t: now})

	job := store.Create("https://example.com", nil)
	require.Equal(t, ingest.JobID(1), job.ID)
	require.Equal(t, ingest.JobStatusQueued, job.Status)
	require.Equal(t, now, job.CreatedAt)

	running, err := store.Transition(job.ID, ingest.JobStatusRunning, nil)
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)

	code := 200
	res := &ingest.Result{Markdown: "# hi", Metadata: ingest.Metadata{StatusCode: &code}}
	done, err := store.Transition(job.ID, ingest.JobStatusCompleted, res)
	require.NoError(t, err)
	require.NotNil(t, done.FinishedAt)
	require.Equal(t, "# hi", done.Result.Markdown)

	res.Markdown = "mutated"
	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "# hi", got.Result.Markdown)
}

func TestJobStoreRejectsBackwardTransitions(t *testing.T) {
	t.Parallel()

	store := NewJobStore(nil)
	job := store.Create("https://example.com", nil)

	_, err := store.Transition(job.ID, ingest.JobStatusCompleted, nil)
	require.ErrorIs(t, err, ingest.ErrInvalidTransition)

	_, err = store.Transition(job.ID, ingest.JobStatusRunning, nil)
	require.NoError(t, err)
	_, err = store.Transition(job.ID, ingest.JobStatusQueued, nil)
	require.ErrorIs(t, err, ingest.ErrInvalidTransition)
	_, err = store.Transition(job.ID, ingest.JobStatusFailed, &ingest.Result{Error: "x"})
	require.NoError(t, err)
	_, err = store.Transition(job.ID, ingest.JobStatusRunning, nil)
	require.ErrorIs(t, err, ingest.ErrInvalidTransition)
}

func TestJobStoreAbandonQueued(t *testing.T) {
	t.Parallel()

	store := NewJobStore(nil)
	job := store.Create("https://example.com", nil)
	failed, err := store.Transition(job.ID, ingest.JobStatusFailed, &ingest.Result{Error: "queue closed"})
	require.NoError(t, err)
	require.Nil(t, failed.StartedAt)
	require.NotNil(t, failed.FinishedAt)
}

func TestJobStoreGetMissing(t *testing.T) {
	t.Parallel()

	store := NewJobStore(nil)
	_, err := store.Get(42)
	require.ErrorIs(t, err, ingest.ErrJobNotFound)
	_, err = store.Transition(42, ingest.JobStatusRunning, nil)
	require.ErrorIs(t, err, ingest.ErrJobNotFound)
}

func TestJobStoreConcurrentCreateAssignsDistinctIDs(t *testing.T) {
	t.Parallel()

	const k = 200
	store := NewJobStore(nil)
	ids := make(chan ingest.JobID, k)
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job := store.Create(fmt.Sprintf("https://example.com/%d", i), nil)
			ids <- job.ID
			_ = store.List()
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[ingest.JobID]struct{}, k)
	for id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %d", id)
		seen[id] = struct{}{}
	}
	require.Len(t, seen, k)

	jobs := store.List()
	require.Len(t, jobs, k)
	for i, job := range jobs {
		require.Equal(t, ingest.JobID(i+1), job.ID)
	}
}

func TestJobStoreListReturnsCopy(t *testing.T) {
	t.Parallel()

	store := NewJobStore(nil)
	store.Create("https://example.com", &ingest.SourceRef{Type: ingest.SourceSQLite, OutputTable: "out"})
	jobs := store.List()
	jobs[0].URL = "modified"
	got, err := store.Get(1)
	require.NoError(t, err)
	require.Equal(t, "https://example.com", got.URL)
	require.Equal(t, "out", got.Source.OutputTable)
}
