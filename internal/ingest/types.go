// Package ingest defines the core types shared across the ingestion subsystems.
package ingest

import (
	"net/http"
	"strings"
	"time"
)

// JobID identifies a job. IDs start at 1 and are never reused within a process.
type JobID int64

// JobStatus represents the lifecycle state of an ingestion job.
type JobStatus string

// Job status values recorded in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// SourceType names a relational source kind.
type SourceType string

// Supported source types.
const (
	SourceSQLite   SourceType = "sqlite"
	SourcePostgres SourceType = "postgres"
)

// ParseSourceType validates a user supplied source type.
func ParseSourceType(raw string) (SourceType, error) {
	switch t := SourceType(strings.ToLower(strings.TrimSpace(raw))); t {
	case SourceSQLite, SourcePostgres:
		return t, nil
	default:
		return "", ErrUnknownSourceType
	}
}

// SourceRef records where a job came from and where its output goes.
type SourceRef struct {
	Type        SourceType `json:"type"`
	OutputTable string     `json:"output_table"`
}

// Job is the unit of work: one URL plus its lifecycle state.
type Job struct {
	ID         JobID      `json:"id"`
	URL        string     `json:"url"`
	Status     JobStatus  `json:"status"`
	Result     *Result    `json:"result,omitempty"`
	Source     *SourceRef `json:"source,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Metadata describes the fetched page.
type Metadata struct {
	Title      string `json:"title"`
	Viewport   string `json:"viewport"`
	SourceURL  string `json:"sourceURL"`
	URL        string `json:"url"`
	StatusCode *int   `json:"statusCode"`
	ScrapeID   string `json:"scrapeId"`
}

// Result is the output of the fetch-transform step. Once attached to a job it is never mutated.
type Result struct {
	Markdown string   `json:"markdown"`
	Metadata Metadata `json:"metadata"`
	Error    string   `json:"error,omitempty"`
}

// Succeeded reports whether the page was fetched with HTTP 200.
func (r Result) Succeeded() bool {
	return r.Metadata.StatusCode != nil && *r.Metadata.StatusCode == http.StatusOK
}

// ErrorResult builds the result recorded when a fetch never produced a response.
func ErrorResult(url string, err error) Result {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Result{
		Metadata: Metadata{SourceURL: url},
		Error:    msg,
	}
}

// StatusFor derives the terminal status for a result.
func StatusFor(r Result) JobStatus {
	if r.Succeeded() {
		return JobStatusCompleted
	}
	return JobStatusFailed
}

// SourceConfig is the full configuration of one relational source.
type SourceConfig struct {
	Type         SourceType    `json:"type"`
	DSN          string        `json:"-"`
	Table        string        `json:"table"`
	Column       string        `json:"column"`
	KeyColumn    string        `json:"key_column"`
	OutputTable  string        `json:"output_table"`
	BatchSize    int           `json:"batch_size"`
	PollInterval time.Duration `json:"poll_interval"`
	LastSeenID   int64         `json:"last_seen_id"`
}

// Ref returns the SourceRef stamped onto jobs dispatched from this source.
func (c SourceConfig) Ref() *SourceRef {
	return &SourceRef{Type: c.Type, OutputTable: c.OutputTable}
}

// Row is one (key, value) pair read from a source table.
type Row struct {
	Key   int64
	Value string
}

// RowQuery selects rows whose key is greater than After, in ascending key order.
type RowQuery struct {
	Table       string
	KeyColumn   string
	ValueColumn string
	After       int64
	Limit       int
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID  JobID
	URL    string
	Source *SourceRef
}
