package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/url-ingest/internal/ingest"
)

const batchPollInterval = 100 * time.Millisecond

// RunBatch submits urls, waits for every job to reach a terminal state and
// returns the jobs in submission order. The HTTP server is not started.
// When ctx ends first, jobs still pending are returned as they stand along
// with the context error.
func (a *App) RunBatch(ctx context.Context, urls []string) ([]ingest.Job, error) {
	workCtx, cancelWork := context.WithCancel(context.Background())
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.dispatch.Run(workCtx)
	}()
	defer func() {
		cancelWork()
		<-dispatchDone
	}()

	submitted, submitErr := a.dispatch.SubmitAll(ctx, urls, nil)
	if submitErr != nil {
		a.logger.Warn("some urls could not be queued", zap.Error(submitErr))
	}
	a.logger.Info("batch submitted", zap.Int("jobs", len(submitted)))

	ticker := time.NewTicker(batchPollInterval)
	defer ticker.Stop()
	for {
		jobs, done, err := a.snapshot(submitted)
		if err != nil {
			return nil, err
		}
		if done {
			return jobs, submitErr
		}
		select {
		case <-ctx.Done():
			return jobs, errors.Join(submitErr, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (a *App) snapshot(submitted []ingest.Job) ([]ingest.Job, bool, error) {
	jobs := make([]ingest.Job, 0, len(submitted))
	done := true
	for _, s := range submitted {
		job, err := a.jobs.Get(s.ID)
		if err != nil {
			return nil, false, fmt.Errorf("job %d: %w", s.ID, err)
		}
		if !job.Status.Terminal() {
			done = false
		}
		jobs = append(jobs, job)
	}
	return jobs, done, nil
}
