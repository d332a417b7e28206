package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/url-ingest/internal/ingest"
	"github.com/JakeFAU/url-ingest/internal/progress"
)

// Notification is the payload published for every finished job.
type Notification struct {
	JobID      ingest.JobID      `json:"job_id"`
	URL        string            `json:"url"`
	Status     ingest.JobStatus  `json:"status"`
	StatusCode int               `json:"status_code,omitempty"`
	Source     ingest.SourceType `json:"source,omitempty"`
	ArchiveURI string            `json:"archive_uri,omitempty"`
	Error      string            `json:"error,omitempty"`
	Bytes      int64             `json:"bytes"`
	DurationMs int64             `json:"duration_ms"`
	FinishedAt string            `json:"finished_at"`
}

// PublisherSink forwards terminal job events to a Publisher topic.
type PublisherSink struct {
	publisher ingest.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublisherSink builds a sink publishing to topic.
func NewPublisherSink(publisher ingest.Publisher, topic string, logger *zap.Logger) (*PublisherSink, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{publisher: publisher, topic: topic, logger: logger}, nil
}

// Consume publishes one notification per terminal event. Failures are
// joined so one bad message does not stop the rest of the batch.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		if !evt.Terminal() {
			continue
		}
		msg := notificationFor(evt)
		id, err := s.publisher.Publish(ctx, s.topic, msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish job %d: %w", evt.JobID, err))
			continue
		}
		s.logger.Debug("job notification published",
			zap.Int64("job_id", int64(evt.JobID)),
			zap.String("message_id", id),
		)
	}
	return errors.Join(errs...)
}

// Close implements progress.Sink.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}

func notificationFor(evt progress.Event) Notification {
	status := ingest.JobStatusCompleted
	if evt.Stage == progress.StageJobError {
		status = ingest.JobStatusFailed
	}
	return Notification{
		JobID:      evt.JobID,
		URL:        evt.URL,
		Status:     status,
		StatusCode: evt.StatusCode,
		Source:     evt.Source,
		ArchiveURI: evt.ArchiveURI,
		Error:      evt.Note,
		Bytes:      evt.Bytes,
		DurationMs: evt.Dur.Milliseconds(),
		FinishedAt: evt.TS.UTC().Format(time.RFC3339),
	}
}
