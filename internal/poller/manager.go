package poller

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/url-ingest/internal/ingest"
	"github.com/JakeFAU/url-ingest/internal/source"
)

// Defaults used when a selection omits or garbles a value.
const (
	DefaultBatchSize    = 100
	DefaultPollInterval = 5 * time.Second
	DefaultKeyColumn    = "id"
	DefaultOutputTable  = "scrape_output"
)

// ErrNotPolling is returned by Stop for a source that is not being polled.
var ErrNotPolling = errors.New("source is not being polled")

// Defaults overrides the package defaults.
type Defaults struct {
	BatchSize    int
	PollInterval time.Duration
}

// Status is a snapshot of one configured source.
type Status struct {
	Config  ingest.SourceConfig `json:"config"`
	Polling bool                `json:"polling"`
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager holds at most one poller per source type.
type Manager struct {
	adapters AdapterResolver
	submit   Submitter
	defaults Defaults
	logger   *zap.Logger

	mu      sync.Mutex
	pollers map[ingest.SourceType]*Poller
	running map[ingest.SourceType]*run
}

// NewManager returns an empty Manager.
func NewManager(adapters AdapterResolver, submit Submitter, defaults Defaults, logger *zap.Logger) *Manager {
	if defaults.BatchSize <= 0 {
		defaults.BatchSize = DefaultBatchSize
	}
	if defaults.PollInterval <= 0 {
		defaults.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		adapters: adapters,
		submit:   submit,
		defaults: defaults,
		logger:   logger.Named("poller"),
		pollers:  make(map[ingest.SourceType]*Poller),
		running:  make(map[ingest.SourceType]*run),
	}
}

// ParseBatchSize turns user input into a batch size, falling back to the
// default for anything malformed or non-positive.
func ParseBatchSize(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return DefaultBatchSize
	}
	return n
}

// ParsePollInterval reads a whole number of seconds, falling back to the
// default for anything malformed or non-positive.
func ParsePollInterval(raw string) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return DefaultPollInterval
	}
	return time.Duration(n) * time.Second
}

// Configure installs the selection for cfg.Type. When the table and key column
// are unchanged the cursor never moves backwards: cfg.LastSeenID can only
// advance it. A source that is currently polling must be stopped first.
func (m *Manager) Configure(cfg ingest.SourceConfig) (ingest.SourceConfig, error) {
	if _, err := ingest.ParseSourceType(string(cfg.Type)); err != nil {
		return ingest.SourceConfig{}, fmt.Errorf("%w: %q", err, cfg.Type)
	}
	if cfg.KeyColumn == "" {
		cfg.KeyColumn = DefaultKeyColumn
	}
	if cfg.OutputTable == "" {
		cfg.OutputTable = DefaultOutputTable
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = m.defaults.BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = m.defaults.PollInterval
	}
	if cfg.LastSeenID < 0 {
		cfg.LastSeenID = 0
	}
	if err := source.ValidateIdents(cfg.Table, cfg.Column, cfg.KeyColumn, cfg.OutputTable); err != nil {
		return ingest.SourceConfig{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.running[cfg.Type]; busy {
		return ingest.SourceConfig{}, fmt.Errorf("%w: stop polling %s before changing its selection", ingest.ErrAlreadyPolling, cfg.Type)
	}
	if prev, ok := m.pollers[cfg.Type]; ok &&
		prev.cfg.Table == cfg.Table && prev.cfg.KeyColumn == cfg.KeyColumn {
		cfg.LastSeenID = max(cfg.LastSeenID, prev.LastSeenID())
	}
	m.pollers[cfg.Type] = NewPoller(cfg, m.adapters, m.submit, m.logger)
	m.logger.Info("source configured",
		zap.String("source", string(cfg.Type)),
		zap.String("table", cfg.Table),
		zap.String("column", cfg.Column),
		zap.String("output_table", cfg.OutputTable),
		zap.Int64("last_seen_id", cfg.LastSeenID))
	return cfg, nil
}

// Import runs a single tick for sourceType.
func (m *Manager) Import(ctx context.Context, sourceType ingest.SourceType) (int, error) {
	p, err := m.poller(sourceType)
	if err != nil {
		return 0, err
	}
	return p.Tick(ctx)
}

// Start begins polling sourceType in the background. The source must be
// configured and connected.
func (m *Manager) Start(sourceType ingest.SourceType) error {
	if _, err := m.adapters.Adapter(sourceType); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pollers[sourceType]
	if !ok {
		return fmt.Errorf("%w: %s", ingest.ErrSourceNotConfigured, sourceType)
	}
	if _, busy := m.running[sourceType]; busy {
		return fmt.Errorf("%w: %s", ingest.ErrAlreadyPolling, sourceType)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel, done: make(chan struct{})}
	m.running[sourceType] = r
	go func() {
		defer close(r.done)
		p.Run(ctx)
	}()
	m.logger.Info("polling started", zap.String("source", string(sourceType)), zap.Duration("interval", p.cfg.PollInterval))
	return nil
}

// Stop cancels polling for sourceType and waits for the loop to exit.
func (m *Manager) Stop(sourceType ingest.SourceType) error {
	m.mu.Lock()
	r, ok := m.running[sourceType]
	delete(m.running, sourceType)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotPolling, sourceType)
	}
	r.cancel()
	<-r.done
	m.logger.Info("polling stopped", zap.String("source", string(sourceType)))
	return nil
}

// StopAll stops every running poller.
func (m *Manager) StopAll() {
	m.mu.Lock()
	runs := m.running
	m.running = make(map[ingest.SourceType]*run)
	m.mu.Unlock()
	for _, r := range runs {
		r.cancel()
	}
	for _, r := range runs {
		<-r.done
	}
}

// Sources snapshots every configured source, ordered by type.
func (m *Manager) Sources() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.pollers))
	for t, p := range m.pollers {
		_, polling := m.running[t]
		out = append(out, Status{Config: p.Config(), Polling: polling})
	}
	slices.SortFunc(out, func(a, b Status) int {
		return strings.Compare(string(a.Config.Type), string(b.Config.Type))
	})
	return out
}

func (m *Manager) poller(sourceType ingest.SourceType) (*Poller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pollers[sourceType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ingest.ErrSourceNotConfigured, sourceType)
	}
	return p, nil
}
