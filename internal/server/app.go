// Package server wires the ingestion service together and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/url-ingest/internal/api"
	"github.com/JakeFAU/url-ingest/internal/archive"
	"github.com/JakeFAU/url-ingest/internal/clock/system"
	"github.com/JakeFAU/url-ingest/internal/config"
	"github.com/JakeFAU/url-ingest/internal/dispatcher"
	"github.com/JakeFAU/url-ingest/internal/document"
	collyfetcher "github.com/JakeFAU/url-ingest/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/url-ingest/internal/fetcher/headless"
	"github.com/JakeFAU/url-ingest/internal/headless/detector"
	"github.com/JakeFAU/url-ingest/internal/id/uuid"
	"github.com/JakeFAU/url-ingest/internal/ingest"
	"github.com/JakeFAU/url-ingest/internal/logging"
	"github.com/JakeFAU/url-ingest/internal/metrics"
	"github.com/JakeFAU/url-ingest/internal/poller"
	"github.com/JakeFAU/url-ingest/internal/progress"
	progresssinks "github.com/JakeFAU/url-ingest/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/url-ingest/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/url-ingest/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/url-ingest/internal/queue/memory"
	"github.com/JakeFAU/url-ingest/internal/scrape"
	"github.com/JakeFAU/url-ingest/internal/source"
	pgsource "github.com/JakeFAU/url-ingest/internal/source/postgres"
	sqlitesource "github.com/JakeFAU/url-ingest/internal/source/sqlite"
	gcsstorage "github.com/JakeFAU/url-ingest/internal/storage/gcs"
	localstorage "github.com/JakeFAU/url-ingest/internal/storage/local"
	memoryStorage "github.com/JakeFAU/url-ingest/internal/storage/memory"
	s3storage "github.com/JakeFAU/url-ingest/internal/storage/s3"
	"github.com/JakeFAU/url-ingest/internal/worker"
)

const closeTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg             config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	dispatch        *dispatcher.Dispatcher
	jobs            *memoryStorage.JobStore
	queue           *queueMemory.Queue
	registry        *source.Registry
	pollers         *poller.Manager
	progressHub     *progress.Hub
	headless        *headlessfetcher.Fetcher
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return build(ctx, cfg, logger, prometheus.DefaultRegisterer)
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	metrics.Init()
	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.Int("workers", cfg.Workers.Concurrency),
		zap.Int("queue_depth", cfg.Workers.QueueDepth),
		zap.String("archive_backend", cfg.Archive.Backend),
	)

	app.jobs = memoryStorage.NewJobStore(system.New())
	app.queue = queueMemory.NewQueue(cfg.Workers.QueueDepth)

	archiver, err := setupArchive(ctx, app)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	if err = setupProgress(app, publisher, reg); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	scraper, err := setupScraper(app)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	app.registry = source.NewRegistry(map[ingest.SourceType]source.Opener{
		ingest.SourceSQLite: sqlitesource.Open,
		ingest.SourcePostgres: pgsource.Opener(pgsource.PoolConfig{
			MaxConns: cfg.Sources.PostgresMaxConns,
		}),
	}, source.RegistryConfig{
		ConnectTimeout: time.Duration(cfg.Sources.ConnectTimeoutSeconds) * time.Second,
	}, logger)

	var archiveSink worker.Archiver
	if archiver != nil {
		archiveSink = archiver
	}
	var emitter progress.Emitter
	if app.progressHub != nil {
		emitter = app.progressHub
	}
	runners := make([]dispatcher.Runner, 0, cfg.Workers.Concurrency)
	for i := range cfg.Workers.Concurrency {
		runners = append(runners, worker.New(
			app.queue,
			app.jobs,
			scraper,
			app.registry,
			archiveSink,
			system.New(),
			emitter,
			worker.Config{SinkTimeout: cfg.SinkTimeout()},
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	app.dispatch = dispatcher.New(app.jobs, app.queue, runners, dispatcher.Config{
		EnqueueTimeout: time.Duration(cfg.Workers.EnqueueTimeoutSeconds) * time.Second,
		Sinks:          app.registry,
		SinkTimeout:    cfg.SinkTimeout(),
	}, logger.Named("dispatcher"))

	app.pollers = poller.NewManager(app.registry, app.dispatch, poller.Defaults{
		BatchSize:    cfg.Polling.BatchSize,
		PollInterval: cfg.PollInterval(),
	}, logger)

	app.apiServer = api.NewServer(app.dispatch, app.jobs, app.registry, app.pollers, api.Options{
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		MaxUploadBytes: int64(cfg.Server.MaxUploadBytes),
		Logger:         logger,
	})
	return app, nil
}

// Handler exposes the HTTP API, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run connects preconfigured sources, serves the API and blocks until the
// context is canceled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Workers.Concurrency))
		a.dispatch.Run(workCtx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.startSources(gctx)
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		a.pollers.StopAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
	runErr := g.Wait()

	cancelWork()
	<-dispatchDone

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return errors.Join(runErr, a.Close(closeCtx))
}

// startSources connects, configures and optionally starts every
// preconfigured source.
func (a *App) startSources(ctx context.Context) error {
	for _, entry := range a.cfg.Preconfigured {
		cfg, err := entry.SourceConfig()
		if err != nil {
			return err
		}
		tables, err := a.registry.Connect(ctx, cfg.Type, entry.DSN)
		if err != nil {
			return fmt.Errorf("preconfigured source %s: %w", cfg.Type, err)
		}
		applied, err := a.pollers.Configure(cfg)
		if err != nil {
			return fmt.Errorf("preconfigured source %s: %w", cfg.Type, err)
		}
		a.logger.Info("preconfigured source ready",
			zap.String("source", string(applied.Type)),
			zap.Int("tables", len(tables)),
			zap.Bool("autostart", entry.Autostart))
		if entry.Autostart {
			if err := a.pollers.Start(applied.Type); err != nil {
				return fmt.Errorf("preconfigured source %s: %w", cfg.Type, err)
			}
		}
	}
	return nil
}

// Close releases infrastructure. The dispatcher must already be stopped.
func (a *App) Close(ctx context.Context) error {
	if a.pollers != nil {
		a.pollers.StopAll()
	}
	errs := a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure(ctx context.Context) []error {
	var errs []error
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			a.logger.Warn("source registry close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errs
}

func setupArchive(ctx context.Context, app *App) (*archive.Archiver, error) {
	var (
		blobStore ingest.BlobStore
		err       error
	)
	switch app.cfg.Archive.Backend {
	case config.ArchiveNone:
		app.logger.Info("document archive disabled")
		return nil, nil
	case config.ArchiveGCS:
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err = gcsstorage.New(app.storage, app.cfg.Archive.GCS)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("using GCS archive", zap.String("bucket", app.cfg.Archive.GCS.Bucket))
	case config.ArchiveS3:
		blobStore, err = s3storage.New(app.cfg.Archive.S3)
		if err != nil {
			return nil, fmt.Errorf("s3 blob store init failed: %w", err)
		}
		app.logger.Info("using S3 archive",
			zap.String("endpoint", app.cfg.Archive.S3.Endpoint),
			zap.String("bucket", app.cfg.Archive.S3.Bucket))
	case config.ArchiveLocal:
		blobStore, err = localstorage.New(app.cfg.Archive.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("using local archive", zap.String("path", app.cfg.Archive.Local.BaseDir))
	default:
		app.logger.Info("using in-memory archive")
		blobStore = memoryStorage.NewBlobStore()
	}
	return archive.New(blobStore, app.cfg.Archive.Prefix)
}

func setupPublisher(ctx context.Context, app *App) (ingest.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.NewBounded(1024), nil
	}
	var err error
	app.pubsubPublisher, app.pubsubClient, err = gcppublisher.Dial(ctx, app.cfg.PubSub.ProjectID, app.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub init failed: %w", err)
	}
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.pubsubPublisher, nil
}

func setupProgress(app *App, publisher ingest.Publisher, reg prometheus.Registerer) error {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return err
	}
	pubSink, err := progresssinks.NewPublisherSink(publisher, app.cfg.PubSub.TopicName, app.logger.Named("progress_publisher"))
	if err != nil {
		return err
	}
	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(app.cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(app.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg,
		progresssinks.NewLogSink(app.logger.Named("progress_log")),
		promSink,
		pubSink,
	)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return nil
}

func setupScraper(app *App) (*scrape.Scraper, error) {
	cfg := app.cfg
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
		MaxBodySize:   cfg.HTTP.MaxBodyBytes,
	})
	app.logger.Info("using colly probe fetcher", zap.String("user_agent", cfg.HTTP.UserAgent))

	opts := scrape.Options{Logger: app.logger.Named("scrape")}
	if cfg.Headless.Enabled {
		headless, err := headlessfetcher.New(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			ExecPath:          cfg.Headless.ExecPath,
		})
		if err != nil {
			app.logger.Warn("headless fetcher init failed, continuing without it", zap.Error(err))
		} else {
			app.headless = headless
			opts.Headless = headless
			opts.Detector = detector.NewHeuristic(cfg.Headless.MinVisibleText)
			app.logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		}
	}
	return scrape.New(probe, document.NewConverter(), uuid.New(), opts)
}
