// Package engine wires the pipeline stages (ingest, aggregation,
// detection, deduplication, persistence) into the single orchestrator
// cmd/pulsecore constructs and runs, and exposes the lifecycle and
// introspection surface the admin HTTP layer reports on.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"pulsecore/internal/bucket"
	"pulsecore/internal/domain"
	"pulsecore/internal/downtime"
	"pulsecore/internal/eventbus"
	"pulsecore/internal/ingest"
)

// Detector is the narrow slice of internal/detector the engine depends
// on.
type Detector interface {
	Evaluate(m domain.Metric, now time.Time) *domain.CandidateAlert
}

// Sink is the narrow slice of internal/sink the engine depends on.
type Sink interface {
	Emit(ctx context.Context, candidate domain.CandidateAlert) (domain.PersistedAlert, bool, error)
}

// MetricStore is the narrow slice of internal/repository the engine
// depends on to durably persist every finalized metric, independent of
// whatever candidate alert the detector does or doesn't raise from it.
type MetricStore interface {
	InsertMetricsBatch(ctx context.Context, metrics []domain.Metric) error
}

// Stats is a snapshot of engine throughput counters, the generalized
// analogue of a point-in-time alert-stats report.
type Stats struct {
	MetricsFinalized int64
	AlertsEmitted    int64
	AlertsRejected   int64
	EventsDropped    int64
	ServicesTracked  int
}

// Engine owns the ingest dispatcher and downtime watcher lifecycles and
// drives every finalized metric through detection and the sink.
type Engine struct {
	dispatcher *ingest.Dispatcher
	watcher    *downtime.Watcher
	bucketSt   *bucket.Store
	detector   Detector
	sink       Sink
	repo       MetricStore
	bus        *eventbus.Bus
	log        log.Logger

	metricsFinalized atomic.Int64
	alertsEmitted    atomic.Int64
	alertsRejected   atomic.Int64

	mu      sync.Mutex
	stopped bool
}

// Config bundles the constructor arguments for New.
type Config struct {
	BucketStore *bucket.Store
	Dispatcher  *ingest.Dispatcher
	Watcher     *downtime.Watcher
	Detector    Detector
	Sink        Sink
	Repo        MetricStore
	Bus         *eventbus.Bus
	Logger      log.Logger
}

// New builds an Engine from its already-constructed stages; wiring them
// together (onMetrics callbacks, emit callbacks) is the caller's job at
// construction time since each stage is independently testable.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Engine{
		dispatcher: cfg.Dispatcher,
		watcher:    cfg.Watcher,
		bucketSt:   cfg.BucketStore,
		detector:   cfg.Detector,
		sink:       cfg.Sink,
		repo:       cfg.Repo,
		bus:        cfg.Bus,
		log:        logger,
	}
}

// HandleMetric is the callback wired into the ingest Dispatcher's
// MetricSink: it records activity for the downtime watcher, durably
// persists the finalized metric, publishes it to any live-stream
// subscribers, runs detection, and emits any resulting candidate
// through the sink.
func (e *Engine) HandleMetric(ctx context.Context, m domain.Metric) {
	e.metricsFinalized.Add(1)
	e.watcher.MarkActivity(m.Service, m.WindowEnd)

	if err := e.repo.InsertMetricsBatch(ctx, []domain.Metric{m}); err != nil {
		level.Error(e.log).Log("msg", "failed to persist metric", "service", m.Service, "metric_kind", m.Kind, "err", err)
	}
	e.bus.PublishMetric(m)

	candidate := e.detector.Evaluate(m, time.Now())
	if candidate == nil {
		return
	}

	_, accepted, err := e.sink.Emit(ctx, *candidate)
	if err != nil {
		level.Error(e.log).Log("msg", "failed to emit candidate alert", "service", candidate.Service, "alert_type", candidate.AlertType, "err", err)
		return
	}
	if accepted {
		e.alertsEmitted.Add(1)
	} else {
		e.alertsRejected.Add(1)
	}
}

// HandleDowntimeAlert is the callback wired into the downtime Watcher's
// Emit: it runs the service_down candidate through the same sink path a
// detector-produced candidate takes.
func (e *Engine) HandleDowntimeAlert(ctx context.Context, candidate domain.CandidateAlert) {
	_, accepted, err := e.sink.Emit(ctx, candidate)
	if err != nil {
		level.Error(e.log).Log("msg", "failed to emit downtime alert", "service", candidate.Service, "err", err)
		return
	}
	if accepted {
		e.alertsEmitted.Add(1)
	} else {
		e.alertsRejected.Add(1)
	}
}

// Start begins the downtime watcher's sweep loop. The ingest dispatcher
// is already running (it starts its workers in ingest.New); Start only
// owns the background sweep, keeping always-on request handling
// separate from a started/stopped monitor loop.
func (e *Engine) Start(ctx context.Context) {
	e.watcher.Start(ctx)
	level.Info(e.log).Log("msg", "engine started")
}

// Stop drains the ingest dispatcher and stops the downtime watcher.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true

	e.dispatcher.Close()
	e.watcher.Stop()
	level.Info(e.log).Log("msg", "engine stopped")
}

// Stats returns a point-in-time snapshot of engine counters, the
// generalized analogue of GetAlertStats.
func (e *Engine) Stats() Stats {
	return Stats{
		MetricsFinalized: e.metricsFinalized.Load(),
		AlertsEmitted:    e.alertsEmitted.Load(),
		AlertsRejected:   e.alertsRejected.Load(),
		EventsDropped:    e.dispatcher.Dropped(),
		ServicesTracked:  len(e.bucketSt.Services()),
	}
}
