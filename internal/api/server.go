package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/url-ingest/internal/importer"
	"github.com/JakeFAU/url-ingest/internal/ingest"
	"github.com/JakeFAU/url-ingest/internal/metrics"
	"github.com/JakeFAU/url-ingest/internal/poller"
	"github.com/JakeFAU/url-ingest/internal/source"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultMaxUpload      = 10 << 20
)

// Dispatcher accepts URLs for execution.
type Dispatcher interface {
	Submit(ctx context.Context, url string, source *ingest.SourceRef) (ingest.Job, error)
	SubmitAll(ctx context.Context, urls []string, source *ingest.SourceRef) ([]ingest.Job, error)
	Backlog() int
}

// JobReader is the read side of the job store.
type JobReader interface {
	Get(id ingest.JobID) (ingest.Job, error)
	List() []ingest.Job
}

// Sources manages source connections.
type Sources interface {
	Connect(ctx context.Context, sourceType ingest.SourceType, dsn string) ([]string, error)
	Adapter(sourceType ingest.SourceType) (ingest.SourceAdapter, error)
	Connected() []ingest.SourceType
}

// Pollers manages per-source selections and polling loops.
type Pollers interface {
	Configure(cfg ingest.SourceConfig) (ingest.SourceConfig, error)
	Import(ctx context.Context, sourceType ingest.SourceType) (int, error)
	Start(sourceType ingest.SourceType) error
	Stop(sourceType ingest.SourceType) error
	Sources() []poller.Status
}

// Options carries optional server settings.
type Options struct {
	RequestTimeout time.Duration
	MaxUploadBytes int64
	// Ready reports whether the service can take traffic. Nil means always ready.
	Ready  func() error
	Logger *zap.Logger
}

// Server wires HTTP handlers to the dispatcher, job store and sources.
type Server struct {
	router     chi.Router
	dispatcher Dispatcher
	jobs       JobReader
	sources    Sources
	pollers    Pollers
	opts       Options
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(dispatcher Dispatcher, jobs JobReader, sources Sources, pollers Pollers, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		dispatcher: dispatcher,
		jobs:       jobs,
		sources:    sources,
		pollers:    pollers,
		opts:       opts,
		logger:     logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/", s.listJobs)
			r.Post("/import", s.importJobs)
			r.Get("/{job_id}", s.getJob)
		})
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.listSources)
			r.Route("/{type}", func(r chi.Router) {
				r.Post("/connect", s.connectSource)
				r.Get("/tables", s.listTables)
				r.Get("/tables/{table}/columns", s.listColumns)
				r.Put("/selection", s.selectSource)
				r.Post("/import", s.importSource)
				r.Post("/poll/start", s.startPolling)
				r.Post("/poll/stop", s.stopPolling)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "backlog": s.dispatcher.Backlog()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrEmptyURL),
		errors.Is(err, ingest.ErrUnknownSourceType),
		errors.Is(err, source.ErrInvalidIdentifier),
		errors.Is(err, importer.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrSourceNotConnected),
		errors.Is(err, ingest.ErrSourceNotConfigured),
		errors.Is(err, ingest.ErrAlreadyPolling),
		errors.Is(err, poller.ErrNotPolling):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
