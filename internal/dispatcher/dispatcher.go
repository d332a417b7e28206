// Package dispatcher turns URL submissions into jobs and runs the worker pool
// that executes them.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/url-ingest/internal/ingest"
	"github.com/JakeFAU/url-ingest/internal/metrics"
	"github.com/JakeFAU/url-ingest/internal/source"
)

const (
	defaultEnqueueTimeout = 30 * time.Second
	defaultSinkTimeout    = 10 * time.Second
)

// Runner is one worker loop.
type Runner interface {
	Run(ctx context.Context)
}

// closer is implemented by queues that can be stopped and emptied on shutdown.
type closer interface {
	Close()
	Drain() []ingest.QueueItem
}

// Config controls submission behavior.
type Config struct {
	// EnqueueTimeout bounds how long Submit waits for room in a full queue.
	EnqueueTimeout time.Duration
	// Sinks receives the record of a sourced job that fails before any
	// worker picks it up. Nil disables those writes.
	Sinks ingest.SinkResolver
	// SinkTimeout bounds the write for one abandoned job.
	SinkTimeout time.Duration
}

// Dispatcher creates jobs and fans queue work out to a fixed pool of workers.
type Dispatcher struct {
	store   ingest.JobStore
	queue   ingest.Queue
	workers []Runner
	cfg     Config
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(store ingest.JobStore, queue ingest.Queue, workers []Runner, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = defaultEnqueueTimeout
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		store:   store,
		queue:   queue,
		workers: workers,
		cfg:     cfg,
		logger:  logger,
	}
}

// Submit records a queued job for url and hands it to the pool. It returns
// as soon as the job is enqueued. A job that cannot be enqueued is marked
// failed and returned together with the error.
func (d *Dispatcher) Submit(ctx context.Context, url string, ref *ingest.SourceRef) (ingest.Job, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return ingest.Job{}, ingest.ErrEmptyURL
	}
	job := d.store.Create(url, ref)

	enqueueCtx, cancel := context.WithTimeout(ctx, d.cfg.EnqueueTimeout)
	defer cancel()
	err := d.queue.Enqueue(enqueueCtx, ingest.QueueItem{JobID: job.ID, URL: url, Source: job.Source})
	metrics.SetQueueDepth(d.queue.Len())
	if err != nil {
		err = fmt.Errorf("queue enqueue: %w", err)
		if failed, ok := d.abandon(job.ID, url, err); ok {
			job = failed
		}
		return job, err
	}
	d.logger.Debug("job queued", zap.Int64("job_id", int64(job.ID)), zap.String("url", url))
	return job, nil
}

// SubmitAll submits every URL in order. Empty entries are skipped; other
// failures are joined and the remaining URLs are still submitted.
func (d *Dispatcher) SubmitAll(ctx context.Context, urls []string, ref *ingest.SourceRef) ([]ingest.Job, error) {
	jobs := make([]ingest.Job, 0, len(urls))
	var errs []error
	for _, url := range urls {
		job, err := d.Submit(ctx, url, ref)
		if errors.Is(err, ingest.ErrEmptyURL) {
			continue
		}
		if job.ID != 0 {
			jobs = append(jobs, job)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("submit %s: %w", url, err))
		}
	}
	return jobs, errors.Join(errs...)
}

// Backlog reports how many jobs are waiting for a worker.
func (d *Dispatcher) Backlog() int {
	return d.queue.Len()
}

// Run starts all workers and blocks until the context finishes. Workers
// finish their current job; anything still queued is then marked failed.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()

	q, ok := d.queue.(closer)
	if !ok {
		return
	}
	q.Close()
	leftover := q.Drain()
	for _, item := range leftover {
		d.abandon(item.JobID, item.URL, errors.New("shutdown before job started"))
	}
	metrics.SetQueueDepth(0)
	if len(leftover) > 0 {
		d.logger.Warn("abandoned queued jobs at shutdown", zap.Int("count", len(leftover)))
	}
}

func (d *Dispatcher) abandon(id ingest.JobID, url string, cause error) (ingest.Job, bool) {
	res := ingest.ErrorResult(url, cause)
	job, err := d.store.Transition(id, ingest.JobStatusFailed, &res)
	if err != nil {
		d.logger.Error("mark job failed", zap.Int64("job_id", int64(id)), zap.Error(err))
		return ingest.Job{}, false
	}
	metrics.ObserveJob(string(ingest.JobStatusFailed))
	d.logger.Warn("job abandoned", zap.Int64("job_id", int64(id)), zap.String("url", url), zap.Error(cause))
	d.persist(job)
	return job, true
}

// persist writes the record of an abandoned sourced job. Workers never see
// these jobs, so this is the only write they get.
func (d *Dispatcher) persist(job ingest.Job) {
	if job.Source == nil || d.cfg.Sinks == nil {
		return
	}
	err := source.WriteRecord(context.Background(), d.cfg.Sinks, job, d.cfg.SinkTimeout)
	metrics.ObserveSinkWrite(string(job.Source.Type), err)
	if err != nil {
		d.logger.Error("output sink write failed",
			zap.Int64("job_id", int64(job.ID)),
			zap.String("source", string(job.Source.Type)),
			zap.Error(err))
	}
}
