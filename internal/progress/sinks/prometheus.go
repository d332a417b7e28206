package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/url-ingest/internal/ingest"
	"github.com/JakeFAU/url-ingest/internal/progress"
)

// PrometheusSink derives job lifecycle metrics from progress events.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec
	sinkErrors    *prometheus.CounterVec

	mu      sync.Mutex
	running map[ingest.JobID]struct{}
}

// NewPrometheusSink registers the collectors against reg (default registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_progress_jobs_started_total",
			Help: "Jobs picked up by a worker.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_progress_jobs_finished_total",
			Help: "Jobs that reached a terminal state, partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_progress_jobs_running",
			Help: "Jobs started but not yet finished.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_progress_job_runtime_seconds",
			Help:    "Wall time per finished job.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"result"}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_progress_sink_errors_total",
			Help: "Output sink failures reported by workers.",
		}, []string{"source"}),
		running: make(map[ingest.JobID]struct{}),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.sinkErrors,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageJobStart:
			s.jobsStarted.Inc()
			if s.track(evt.JobID, true) {
				s.jobsRunning.Inc()
			}
		case progress.StageJobDone:
			s.finish(evt, "completed")
		case progress.StageJobError:
			s.finish(evt, "failed")
		case progress.StageSinkError:
			s.sinkErrors.WithLabelValues(string(evt.Source)).Inc()
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.jobsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.track(evt.JobID, false) {
		s.jobsRunning.Dec()
	}
}

// track records a start (add) or finish (!add) and reports whether the
// running set changed.
func (s *PrometheusSink) track(id ingest.JobID, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	if add {
		if ok {
			return false
		}
		s.running[id] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.running, id)
	return true
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
