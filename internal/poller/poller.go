// Package poller feeds rows from relational sources into the dispatcher on a
// timer, tracking a per-source high-water mark.
package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/url-ingest/internal/ingest"
	"github.com/JakeFAU/url-ingest/internal/metrics"
)

// Submitter creates and enqueues a job.
type Submitter interface {
	Submit(ctx context.Context, url string, source *ingest.SourceRef) (ingest.Job, error)
}

// AdapterResolver returns the current adapter for a source type. It is
// consulted on every tick so reconnects take effect without restarting.
type AdapterResolver interface {
	Adapter(sourceType ingest.SourceType) (ingest.SourceAdapter, error)
}

// Poller owns one source configuration and its cursor.
type Poller struct {
	cfg      ingest.SourceConfig
	adapters AdapterResolver
	submit   Submitter
	logger   *zap.Logger

	tickMu   sync.Mutex
	lastSeen atomic.Int64
}

// NewPoller builds a poller starting from cfg.LastSeenID.
func NewPoller(cfg ingest.SourceConfig, adapters AdapterResolver, submit Submitter, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Poller{
		cfg:      cfg,
		adapters: adapters,
		submit:   submit,
		logger:   logger.With(zap.String("source", string(cfg.Type)), zap.String("table", cfg.Table)),
	}
	p.lastSeen.Store(cfg.LastSeenID)
	return p
}

// LastSeenID returns the cursor.
func (p *Poller) LastSeenID() int64 {
	return p.lastSeen.Load()
}

// Config returns the configuration with the live cursor.
func (p *Poller) Config() ingest.SourceConfig {
	cfg := p.cfg
	cfg.LastSeenID = p.LastSeenID()
	return cfg
}

// Tick fetches one batch after the cursor, advances the cursor to the largest
// key fetched, then dispatches a job per non-empty value. The cursor moves
// even if dispatch fails, so a row is offered at most once.
func (p *Poller) Tick(ctx context.Context) (int, error) {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	source := string(p.cfg.Type)
	adapter, err := p.adapters.Adapter(p.cfg.Type)
	if err != nil {
		metrics.ObservePoll(source, 0, err)
		return 0, err
	}
	after := p.lastSeen.Load()
	rows, err := adapter.FetchRowsAfter(ctx, ingest.RowQuery{
		Table:       p.cfg.Table,
		KeyColumn:   p.cfg.KeyColumn,
		ValueColumn: p.cfg.Column,
		After:       after,
		Limit:       p.cfg.BatchSize,
	})
	if err != nil {
		metrics.ObservePoll(source, 0, err)
		return 0, fmt.Errorf("fetch rows after %d: %w", after, err)
	}
	metrics.ObservePoll(source, len(rows), nil)
	if len(rows) == 0 {
		return 0, nil
	}

	high := after
	for _, row := range rows {
		high = max(high, row.Key)
	}
	p.lastSeen.Store(high)

	ref := p.cfg.Ref()
	dispatched := 0
	var errs []error
	for _, row := range rows {
		url := strings.TrimSpace(row.Value)
		if url == "" {
			p.logger.Debug("skipping empty value", zap.Int64("key", row.Key))
			continue
		}
		if _, err := p.submit.Submit(ctx, url, ref); err != nil {
			errs = append(errs, fmt.Errorf("row %d: %w", row.Key, err))
			continue
		}
		dispatched++
	}
	p.logger.Debug("poll tick",
		zap.Int("rows", len(rows)),
		zap.Int("dispatched", dispatched),
		zap.Int64("last_seen_id", high))
	return dispatched, errors.Join(errs...)
}

// Run ticks immediately and then every PollInterval until ctx ends. Tick
// errors are logged and the loop continues.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := p.Tick(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("poll tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
