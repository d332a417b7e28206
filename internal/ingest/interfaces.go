package ingest

import (
	"context"
	"time"
)

// JobStore is the authoritative record of all jobs.
type JobStore interface {
	Create(url string, source *SourceRef) Job
	Get(id JobID) (Job, error)
	List() []Job
	Transition(id JobID, status JobStatus, result *Result) (Job, error)
}

// Queue provides enqueue/dequeue semantics for jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
	Len() int
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// FetchTransformer turns a URL into a normalized document. It never fails:
// problems are reported inside the returned Result.
type FetchTransformer interface {
	FetchTransform(ctx context.Context, url string) Result
}

// SourceAdapter reads URLs out of a relational source.
type SourceAdapter interface {
	ListTables(ctx context.Context) ([]string, error)
	ListColumns(ctx context.Context, table string) ([]string, error)
	FetchRowsAfter(ctx context.Context, query RowQuery) ([]Row, error)
}

// OutputSink persists terminal job records back to a source.
type OutputSink interface {
	EnsureTable(ctx context.Context, table string) error
	AppendRecord(ctx context.Context, table string, job Job) error
}

// SinkResolver looks up the output sink for a source type.
type SinkResolver interface {
	Sink(sourceType SourceType) (OutputSink, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces opaque unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
