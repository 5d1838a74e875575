// Package bucket implements fixed-interval aggregation windows, shared
// by the metric aggregator and the anomaly detector, keyed by service.
package bucket

import (
	"sync"
	"time"

	"pulsecore/internal/domain"
	"pulsecore/internal/reservoir"
)

// Kind is the raw observation channel the aggregator feeds into a
// bucket. It is distinct from domain.MetricKind: a single closed bucket
// fans out into several finalized Metric records, one per
// domain.MetricKind, from these four raw counters.
type Kind int

const (
	KindError Kind = iota
	KindLog
	KindRequest
	KindLatency
)

// Bucket is the mutable, in-flight aggregation window for one service.
// It becomes immutable the instant it closes.
type Bucket struct {
	WindowStart time.Time
	WindowEnd   time.Time
	ErrorCount  int64
	LogCount    int64
	RequestCount int64
	Reservoir   *reservoir.Reservoir
}

func newBucket(windowStart, windowEnd time.Time, capacity int) *Bucket {
	return &Bucket{
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Reservoir:   reservoir.New(capacity),
	}
}

// finalize turns a closed bucket into its five derived Metric records.
// An empty, synthesized bucket produces all-zero metrics, which is how
// silence decays the baseline.
func (b *Bucket) finalize(service string, bucketMs int64) []domain.Metric {
	seconds := float64(bucketMs) / 1000.0
	throughput := 0.0
	if seconds > 0 {
		throughput = float64(b.RequestCount) / seconds
	}
	return []domain.Metric{
		{Service: service, Kind: domain.MetricErrorCount, Value: float64(b.ErrorCount), WindowStart: b.WindowStart, WindowEnd: b.WindowEnd},
		{Service: service, Kind: domain.MetricLogCount, Value: float64(b.LogCount), WindowStart: b.WindowStart, WindowEnd: b.WindowEnd},
		{Service: service, Kind: domain.MetricRequestCount, Value: float64(b.RequestCount), WindowStart: b.WindowStart, WindowEnd: b.WindowEnd},
		{Service: service, Kind: domain.MetricThroughput, Value: throughput, WindowStart: b.WindowStart, WindowEnd: b.WindowEnd},
		{Service: service, Kind: domain.MetricLatencyP95, Value: b.Reservoir.P95(), WindowStart: b.WindowStart, WindowEnd: b.WindowEnd},
	}
}

// serviceState is the per-service mutation unit: one mutex, one open
// bucket. Distinct services never contend on the same lock, so one
// service's aggregation can never stall another's.
type serviceState struct {
	mu   sync.Mutex
	open *Bucket
}

// Store holds the open bucket for every service. It is safe for
// concurrent use across services; within one service, mutation is
// serialized by that service's own lock.
type Store struct {
	bucketMs     int64
	reservoirCap int
	statesMu     sync.RWMutex
	states       map[string]*serviceState
}

// New creates a Store with the given bucket width. reservoirCap is the
// latency reservoir capacity per bucket; 0 selects reservoir.DefaultCapacity.
func New(bucketMs int64, reservoirCap int) *Store {
	return &Store{
		bucketMs:     bucketMs,
		reservoirCap: reservoirCap,
		states:       make(map[string]*serviceState),
	}
}

func (s *Store) stateFor(service string) *serviceState {
	s.statesMu.RLock()
	st, ok := s.states[service]
	s.statesMu.RUnlock()
	if ok {
		return st
	}

	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	if st, ok := s.states[service]; ok {
		return st
	}
	st = &serviceState{}
	s.states[service] = st
	return st
}

func (s *Store) windowStart(now time.Time) time.Time {
	ms := now.UnixMilli()
	ws := (ms / s.bucketMs) * s.bucketMs
	return time.UnixMilli(ws)
}

// Observe records one raw observation for (service, kind) at time now.
// It returns the Metrics finalized by any bucket(s) this call caused to
// close — the current bucket plus any synthesized empty buckets for a
// silence gap — in increasing WindowStart order, ready for the detector
// to process one at a time.
func (s *Store) Observe(service string, kind Kind, value float64, now time.Time) []domain.Metric {
	st := s.stateFor(service)
	st.mu.Lock()
	defer st.mu.Unlock()

	ws := s.windowStart(now)
	var closed []domain.Metric

	if st.open == nil {
		st.open = newBucket(ws, ws.Add(time.Duration(s.bucketMs)*time.Millisecond), s.reservoirCap)
	} else if st.open.WindowStart.Before(ws) {
		closed = append(closed, st.open.finalize(service, s.bucketMs)...)

		cursor := st.open.WindowStart.Add(time.Duration(s.bucketMs) * time.Millisecond)
		for cursor.Before(ws) {
			empty := newBucket(cursor, cursor.Add(time.Duration(s.bucketMs)*time.Millisecond), 1)
			closed = append(closed, empty.finalize(service, s.bucketMs)...)
			cursor = cursor.Add(time.Duration(s.bucketMs) * time.Millisecond)
		}

		st.open = newBucket(ws, ws.Add(time.Duration(s.bucketMs)*time.Millisecond), s.reservoirCap)
	}

	switch kind {
	case KindError:
		st.open.ErrorCount += int64(value)
	case KindLog:
		st.open.LogCount += int64(value)
	case KindRequest:
		st.open.RequestCount += int64(value)
	case KindLatency:
		st.open.Reservoir.Add(value)
	}

	return closed
}

// Flush forces the open bucket for service to close as of now, even if
// now has not yet crossed into the next window. Used at shutdown so the
// last partial bucket isn't silently dropped.
func (s *Store) Flush(service string, now time.Time) []domain.Metric {
	st := s.stateFor(service)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.open == nil {
		return nil
	}
	metrics := st.open.finalize(service, s.bucketMs)
	st.open = nil
	_ = now
	return metrics
}

// Services returns the set of services the store currently tracks
// state for, used by the downtime watcher's sweep.
func (s *Store) Services() []string {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	out := make([]string, 0, len(s.states))
	for svc := range s.states {
		out = append(out, svc)
	}
	return out
}
