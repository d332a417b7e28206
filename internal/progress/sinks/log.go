package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/url-ingest/internal/progress"
)

// LogSink writes one structured log line per event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Int64("job_id", int64(evt.JobID)),
			zap.String("stage", string(evt.Stage)),
			zap.String("url", evt.URL),
		}
		if evt.Source != "" {
			fields = append(fields, zap.String("source", string(evt.Source)))
		}
		if evt.Terminal() {
			fields = append(fields,
				zap.Int("status_code", evt.StatusCode),
				zap.Int64("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur),
			)
		}
		if evt.ArchiveURI != "" {
			fields = append(fields, zap.String("archive_uri", evt.ArchiveURI))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageJobError || evt.Stage == progress.StageSinkError {
			s.logger.Warn("progress event", fields...)
			continue
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
