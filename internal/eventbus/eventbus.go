// Package eventbus is a typed, in-process publish/subscribe bus
// replacing the generic "emit a named event with an interface{}
// payload" pattern: one channel type per event kind, so a subscriber
// can never receive a payload it has to type-assert. Publication never
// blocks the publisher — a subscriber whose buffer is full misses the
// event and the drop is counted, rather than the aggregator or detector
// stalling on a slow consumer.
package eventbus

import (
	"sync"
	"sync/atomic"

	"pulsecore/internal/domain"
)

// Bus fans out finalized metrics and persisted alerts to any number of
// subscribers. The zero value is not usable; construct with New.
type Bus struct {
	mu         sync.RWMutex
	metricSubs map[int]chan domain.Metric
	alertSubs  map[int]chan domain.PersistedAlert
	nextID     int

	metricsDropped atomic.Int64
	alertsDropped  atomic.Int64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		metricSubs: make(map[int]chan domain.Metric),
		alertSubs:  make(map[int]chan domain.PersistedAlert),
	}
}

// SubscribeMetrics registers a new metric subscriber with the given
// channel buffer depth and returns the receive-only channel plus an
// unsubscribe function. The caller must call unsubscribe exactly once
// when done, or the channel leaks.
func (b *Bus) SubscribeMetrics(buffer int) (<-chan domain.Metric, func()) {
	ch := make(chan domain.Metric, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.metricSubs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.metricSubs[id]; ok {
			delete(b.metricSubs, id)
			close(sub)
		}
	}
}

// SubscribeAlerts registers a new alert subscriber the same way
// SubscribeMetrics does.
func (b *Bus) SubscribeAlerts(buffer int) (<-chan domain.PersistedAlert, func()) {
	ch := make(chan domain.PersistedAlert, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.alertSubs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.alertSubs[id]; ok {
			delete(b.alertSubs, id)
			close(sub)
		}
	}
}

// PublishMetric fans m out to every metric subscriber, dropping it for
// any subscriber whose buffer is currently full.
func (b *Bus) PublishMetric(m domain.Metric) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.metricSubs {
		select {
		case ch <- m:
		default:
			b.metricsDropped.Add(1)
		}
	}
}

// PublishAlert fans a out to every alert subscriber the same way.
func (b *Bus) PublishAlert(a domain.PersistedAlert) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.alertSubs {
		select {
		case ch <- a:
		default:
			b.alertsDropped.Add(1)
		}
	}
}

// DroppedCounts returns the cumulative number of metric and alert
// publications dropped due to a full subscriber buffer, for
// introspection.
func (b *Bus) DroppedCounts() (metrics, alerts int64) {
	return b.metricsDropped.Load(), b.alertsDropped.Load()
}
