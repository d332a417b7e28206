// Package source manages connections to the relational stores that feed URLs
// into the dispatcher and receive finished job records.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/JakeFAU/url-ingest/internal/ingest"
)

// ErrInvalidIdentifier is returned for table or column names that cannot be
// safely interpolated into SQL.
var ErrInvalidIdentifier = errors.New("invalid sql identifier")

var validIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdent rejects anything but plain identifiers.
func ValidateIdent(name string) error {
	if !validIdent.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

// ValidateIdents validates several identifiers in order.
func ValidateIdents(names ...string) error {
	for _, name := range names {
		if err := ValidateIdent(name); err != nil {
			return err
		}
	}
	return nil
}

// Conn is one open connection to a backing store: it is both the row source
// and the output sink for that store.
type Conn interface {
	ingest.SourceAdapter
	ingest.OutputSink
	Close() error
}

// Opener connects to a store identified by dsn.
type Opener func(ctx context.Context, dsn string) (Conn, error)

// Record is the row written to an output table for one finished job.
type Record struct {
	JobID     int64
	URL       string
	Status    string
	Result    []byte
	Error     string
	CreatedAt time.Time
}

// NewRecord flattens a job for persistence. Result is nil when the job has none.
func NewRecord(job ingest.Job) (Record, error) {
	rec := Record{
		JobID:     int64(job.ID),
		URL:       job.URL,
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt.UTC(),
	}
	if job.Result != nil {
		payload, err := json.Marshal(job.Result)
		if err != nil {
			return Record{}, fmt.Errorf("marshal result: %w", err)
		}
		rec.Result = payload
		rec.Error = job.Result.Error
	}
	return rec, nil
}

// WriteRecord resolves the sink for job's source and appends its terminal
// record, creating the output table first if needed. The write runs on a
// context detached from ctx's cancellation and bounded by timeout, so jobs
// finished during shutdown still land.
func WriteRecord(ctx context.Context, sinks ingest.SinkResolver, job ingest.Job, timeout time.Duration) error {
	if job.Source == nil {
		return nil
	}
	sink, err := sinks.Sink(job.Source.Type)
	if err != nil {
		return err
	}
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := sink.EnsureTable(sinkCtx, job.Source.OutputTable); err != nil {
		return err
	}
	return sink.AppendRecord(sinkCtx, job.Source.OutputTable, job)
}
