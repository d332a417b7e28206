// Package worker implements the job execution loop.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/url-ingest/internal/ingest"
	"github.com/JakeFAU/url-ingest/internal/metrics"
	"github.com/JakeFAU/url-ingest/internal/progress"
	"github.com/JakeFAU/url-ingest/internal/source"
)

const defaultSinkTimeout = 10 * time.Second

// Archiver stores completed documents.
type Archiver interface {
	Store(ctx context.Context, id ingest.JobID, markdown string) (string, error)
}

// Config controls Worker behavior.
type Config struct {
	// SinkTimeout bounds EnsureTable+AppendRecord for one job.
	SinkTimeout time.Duration
}

// Worker consumes queue items and runs each job to a terminal state.
type Worker struct {
	queue    ingest.Queue
	store    ingest.JobStore
	fetcher  ingest.FetchTransformer
	sinks    ingest.SinkResolver
	archiver Archiver
	clock    ingest.Clock
	progress progress.Emitter
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker. sinks, archiver and emitter are optional.
func New(
	queue ingest.Queue,
	store ingest.JobStore,
	fetcher ingest.FetchTransformer,
	sinks ingest.SinkResolver,
	archiver Archiver,
	clock ingest.Clock,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		store:    store,
		fetcher:  fetcher,
		sinks:    sinks,
		archiver: archiver,
		clock:    clock,
		progress: emitter,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Debug("worker stopping", zap.Error(err))
			return
		}
		metrics.SetQueueDepth(w.queue.Len())
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item ingest.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(zap.Int64("job_id", int64(item.JobID)), zap.String("url", item.URL))
	if _, err := w.store.Transition(item.JobID, ingest.JobStatusRunning, nil); err != nil {
		logger.Error("mark job running failed", zap.Error(err))
		return
	}
	started := w.clock.Now()
	w.emit(progress.Event{JobID: item.JobID, TS: started, Stage: progress.StageJobStart, URL: item.URL})
	logger.Debug("job started")

	result := w.fetchTransform(ctx, item.URL)
	elapsed := w.clock.Now().Sub(started)
	metrics.ObserveFetch(item.URL, elapsed, len(result.Markdown))

	status := ingest.StatusFor(result)
	var archiveURI string
	if status == ingest.JobStatusCompleted {
		archiveURI = w.archive(ctx, item.JobID, result, logger)
	}

	job, err := w.store.Transition(item.JobID, status, &result)
	if err != nil {
		logger.Error("record job result failed", zap.Error(err))
		return
	}
	metrics.ObserveJob(string(status))
	w.emitTerminal(job, elapsed, archiveURI)
	if status == ingest.JobStatusCompleted {
		logger.Info("job completed", zap.Duration("dur", elapsed))
	} else {
		logger.Warn("job failed", zap.String("error", result.Error), zap.Duration("dur", elapsed))
	}

	if job.Source != nil {
		w.persist(ctx, job, logger)
	}
}

// fetchTransform shields the worker from panics inside the fetch pipeline.
func (w *Worker) fetchTransform(ctx context.Context, url string) (res ingest.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = ingest.ErrorResult(url, fmt.Errorf("fetch panicked: %v", r))
		}
	}()
	return w.fetcher.FetchTransform(ctx, url)
}

func (w *Worker) archive(ctx context.Context, id ingest.JobID, result ingest.Result, logger *zap.Logger) string {
	if w.archiver == nil || result.Markdown == "" {
		return ""
	}
	uri, err := w.archiver.Store(ctx, id, result.Markdown)
	if err != nil {
		logger.Warn("archive document failed", zap.Error(err))
		return ""
	}
	return uri
}

// persist writes the terminal record to the job's output sink exactly once.
// It runs on a context detached from shutdown so draining jobs still land.
func (w *Worker) persist(ctx context.Context, job ingest.Job, logger *zap.Logger) {
	if w.sinks == nil {
		return
	}
	sourceType := job.Source.Type
	logger = logger.With(zap.String("source", string(sourceType)), zap.String("output_table", job.Source.OutputTable))

	err := source.WriteRecord(ctx, w.sinks, job, w.cfg.SinkTimeout)
	metrics.ObserveSinkWrite(string(sourceType), err)
	if err != nil {
		logger.Error("output sink write failed", zap.Error(err))
		w.emit(progress.Event{
			JobID:  job.ID,
			TS:     w.clock.Now(),
			Stage:  progress.StageSinkError,
			URL:    job.URL,
			Source: sourceType,
			Note:   err.Error(),
		})
		return
	}
	logger.Debug("output record written")
}

func (w *Worker) emitTerminal(job ingest.Job, elapsed time.Duration, archiveURI string) {
	evt := progress.Event{
		JobID:      job.ID,
		TS:         w.clock.Now(),
		Stage:      progress.StageJobDone,
		URL:        job.URL,
		Dur:        elapsed,
		ArchiveURI: archiveURI,
	}
	if job.Source != nil {
		evt.Source = job.Source.Type
	}
	if job.Status == ingest.JobStatusFailed {
		evt.Stage = progress.StageJobError
	}
	if res := job.Result; res != nil {
		if res.Metadata.StatusCode != nil {
			evt.StatusCode = *res.Metadata.StatusCode
		}
		evt.Bytes = int64(len(res.Markdown))
		evt.Note = res.Error
	}
	w.emit(evt)
}

func (w *Worker) emit(evt progress.Event) {
	if w.progress == nil {
		return
	}
	if evt.Dur < 0 {
		evt.Dur = 0
	}
	w.progress.Emit(evt)
}
