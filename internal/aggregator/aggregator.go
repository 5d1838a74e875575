// Package aggregator consumes log and span events, drives the bucket
// store, and returns the Metrics finalized by any bucket close those
// events cause.
package aggregator

import (
	"fmt"
	"sync/atomic"

	"github.com/go-kit/log"

	"pulsecore/internal/bucket"
	"pulsecore/internal/domain"
)

// Aggregator maps inbound events onto bucket observations.
type Aggregator struct {
	store *bucket.Store
	log   log.Logger

	malformed atomic.Int64
}

// New creates an Aggregator over store. A nil logger falls back to a
// no-op logger.
func New(store *bucket.Store, logger log.Logger) *Aggregator {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Aggregator{store: store, log: logger}
}

// MalformedCount returns the number of events dropped at the aggregator
// boundary for failing validation.
func (a *Aggregator) MalformedCount() int64 { return a.malformed.Load() }

// ErrMalformedEvent is wrapped with the specific reason and returned by
// ObserveLog/ObserveSpan for events that must be dropped without
// poisoning the bucket: missing service, unknown level, negative
// duration.
var ErrMalformedEvent = fmt.Errorf("malformed event")

func (a *Aggregator) reject(reason string) error {
	a.malformed.Add(1)
	a.log.Log("level", "warn", "msg", "dropping malformed event", "reason", reason)
	return fmt.Errorf("%w: %s", ErrMalformedEvent, reason)
}

// ObserveLog applies a LogEvent to the bucket store: it always
// increments log_count, and additionally increments error_count when
// level is error or fatal.
func (a *Aggregator) ObserveLog(ev domain.LogEvent) ([]domain.Metric, error) {
	if ev.Service == "" {
		return nil, a.reject("missing service")
	}
	if len(ev.Service) > domain.MaxServiceLen {
		return nil, a.reject("service key too long")
	}
	switch ev.Level {
	case domain.LevelDebug, domain.LevelInfo, domain.LevelWarn, domain.LevelError, domain.LevelFatal:
	default:
		return nil, a.reject("unknown log level")
	}

	var closed []domain.Metric
	closed = append(closed, a.store.Observe(ev.Service, bucket.KindLog, 1, ev.Timestamp)...)
	if ev.Level == domain.LevelError || ev.Level == domain.LevelFatal {
		closed = append(closed, a.store.Observe(ev.Service, bucket.KindError, 1, ev.Timestamp)...)
	}
	return closed, nil
}

// ObserveSpan applies a SpanEndEvent to the bucket store: adds to the
// latency reservoir, increments request_count, and increments
// error_count when status is error.
func (a *Aggregator) ObserveSpan(ev domain.SpanEndEvent) ([]domain.Metric, error) {
	if ev.Service == "" {
		return nil, a.reject("missing service")
	}
	if len(ev.Service) > domain.MaxServiceLen {
		return nil, a.reject("service key too long")
	}
	if ev.DurationMs < 0 {
		return nil, a.reject("negative duration")
	}
	switch ev.Status {
	case domain.SpanOK, domain.SpanError, domain.SpanUnset:
	default:
		return nil, a.reject("unknown span status")
	}

	var closed []domain.Metric
	closed = append(closed, a.store.Observe(ev.Service, bucket.KindLatency, ev.DurationMs, ev.EndTime)...)
	closed = append(closed, a.store.Observe(ev.Service, bucket.KindRequest, 1, ev.EndTime)...)
	if ev.Status == domain.SpanError {
		closed = append(closed, a.store.Observe(ev.Service, bucket.KindError, 1, ev.EndTime)...)
	}
	return closed, nil
}
