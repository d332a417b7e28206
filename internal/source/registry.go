package source

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/url-ingest/internal/ingest"
)

// RegistryConfig bounds connection attempts.
type RegistryConfig struct {
	// ConnectTimeout caps the total time spent retrying one Connect call.
	ConnectTimeout time.Duration
	// InitialBackoff is the first retry delay.
	InitialBackoff time.Duration
}

// Registry holds at most one live connection per source type.
type Registry struct {
	openers map[ingest.SourceType]Opener
	cfg     RegistryConfig
	logger  *zap.Logger

	mu    sync.RWMutex
	conns map[ingest.SourceType]Conn
}

var _ ingest.SinkResolver = (*Registry)(nil)

// NewRegistry builds a Registry that can open the given source types.
func NewRegistry(openers map[ingest.SourceType]Opener, cfg RegistryConfig, logger *zap.Logger) *Registry {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 250 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		openers: openers,
		cfg:     cfg,
		logger:  logger.Named("sources"),
		conns:   make(map[ingest.SourceType]Conn),
	}
}

// Connect opens (or reopens) the source and returns its table list. Any
// previous connection for the same type is closed once the new one is live.
func (r *Registry) Connect(ctx context.Context, sourceType ingest.SourceType, dsn string) ([]string, error) {
	open, ok := r.openers[sourceType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ingest.ErrUnknownSourceType, sourceType)
	}
	if dsn == "" {
		return nil, fmt.Errorf("connect %s: dsn is required", sourceType)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	defer cancel()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.InitialBackoff
	policy.MaxElapsedTime = r.cfg.ConnectTimeout

	var (
		conn    Conn
		tables  []string
		attempt int
		lastErr error
	)
	operation := func() error {
		attempt++
		c, err := open(ctx, dsn)
		if err != nil {
			lastErr = err
			return err
		}
		t, err := c.ListTables(ctx)
		if err != nil {
			_ = c.Close()
			lastErr = err
			return err
		}
		conn, tables = c, t
		return nil
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("source connect failed; retrying",
			zap.String("source", string(sourceType)),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		if lastErr != nil && ctx.Err() != nil {
			err = errors.Join(lastErr, err)
		}
		return nil, fmt.Errorf("connect %s: %w", sourceType, err)
	}

	r.mu.Lock()
	previous := r.conns[sourceType]
	r.conns[sourceType] = conn
	r.mu.Unlock()
	if previous != nil {
		if err := previous.Close(); err != nil {
			r.logger.Warn("close replaced connection", zap.String("source", string(sourceType)), zap.Error(err))
		}
	}
	r.logger.Info("source connected", zap.String("source", string(sourceType)), zap.Int("tables", len(tables)))
	return tables, nil
}

// Conn returns the live connection for sourceType.
func (r *Registry) Conn(sourceType ingest.SourceType) (Conn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[sourceType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ingest.ErrSourceNotConnected, sourceType)
	}
	return conn, nil
}

// Adapter returns the row source for sourceType.
func (r *Registry) Adapter(sourceType ingest.SourceType) (ingest.SourceAdapter, error) {
	return r.Conn(sourceType)
}

// Sink returns the output sink for sourceType.
func (r *Registry) Sink(sourceType ingest.SourceType) (ingest.OutputSink, error) {
	return r.Conn(sourceType)
}

// Connected lists the source types with a live connection, sorted.
func (r *Registry) Connected() []ingest.SourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ingest.SourceType, 0, len(r.conns))
	for t := range r.conns {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Close closes every connection.
func (r *Registry) Close() error {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[ingest.SourceType]Conn)
	r.mu.Unlock()

	var errs []error
	for t, conn := range conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", t, err))
		}
	}
	return errors.Join(errs...)
}
