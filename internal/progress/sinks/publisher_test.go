package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/url-ingest/internal/ingest"
	"github.com/JakeFAU/url-ingest/internal/progress"
	"github.com/JakeFAU/url-ingest/internal/publisher/memory"
)

func TestPublisherSinkPublishesTerminalEvents(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink, err := NewPublisherSink(pub, "jobs", zap.NewNop())
	require.NoError(t, err)

	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	batch := []progress.Event{
		{JobID: 1, TS: ts, Stage: progress.StageJobStart, URL: "https://a.example"},
		{
			JobID: 1, TS: ts, Stage: progress.StageJobDone, URL: "https://a.example",
			StatusCode: 200, Bytes: 12, Dur: 1500 * time.Millisecond, ArchiveURI: "memory://documents/1/x.md",
		},
		{
			JobID: 2, TS: ts, Stage: progress.StageJobError, URL: "https://b.example",
			Source: ingest.SourcePostgres, Note: "connection refused",
		},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "jobs", msgs[0].Topic)

	done := msgs[0].Payload.(Notification)
	require.Equal(t, ingest.JobStatusCompleted, done.Status)
	require.Equal(t, int64(1500), done.DurationMs)
	require.Equal(t, "memory://documents/1/x.md", done.ArchiveURI)
	require.Equal(t, "2025-03-01T12:00:00Z", done.FinishedAt)

	failed := msgs[1].Payload.(Notification)
	require.Equal(t, ingest.JobStatusFailed, failed.Status)
	require.Equal(t, ingest.SourcePostgres, failed.Source)
	require.Equal(t, "connection refused", failed.Error)
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(context.Context, string, any) (string, error) {
	p.calls++
	return "", errors.New("unavailable")
}

func TestPublisherSinkJoinsErrors(t *testing.T) {
	t.Parallel()

	pub := &failingPublisher{}
	sink, err := NewPublisherSink(pub, "jobs", nil)
	require.NoError(t, err)

	err = sink.Consume(context.Background(), []progress.Event{
		{JobID: 1, TS: time.Now(), Stage: progress.StageJobDone},
		{JobID: 2, TS: time.Now(), Stage: progress.StageJobError},
	})
	require.ErrorContains(t, err, "publish job 1")
	require.ErrorContains(t, err, "publish job 2")
	require.Equal(t, 2, pub.calls)

	_, err = NewPublisherSink(nil, "jobs", nil)
	require.Error(t, err)
}

func TestLogSinkConsume(t *testing.T) {
	t.Parallel()

	sink := NewLogSink(nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: 1, TS: time.Now(), Stage: progress.StageJobError, Note: "boom"},
		{JobID: 1, TS: time.Now(), Stage: progress.StageSinkError, Source: ingest.SourceSQLite},
	}))
	require.NoError(t, sink.Close(context.Background()))
}
