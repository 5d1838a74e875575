// Package downtime periodically sweeps per-service last-activity
// timestamps and emits service_down candidate alerts for services that
// have gone quiet for serviceDowntimeMinutes.
package downtime

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log"

	"pulsecore/internal/domain"
)

// Emit is called with a service_down candidate alert whenever a sweep
// finds a newly stale service.
type Emit func(domain.CandidateAlert)

// Watcher tracks last-observed-activity per service and emits
// service_down alerts on a ticker-driven sweep, the same Start/Stop/
// loop-over-ticker shape used across this codebase's background
// workers. A stale service is only re-armed by fresh activity, never by
// an alert being resolved elsewhere — a service that stays down keeps
// producing exactly one emission per downtime episode, not one per
// sweep tick.
type Watcher struct {
	threshold     time.Duration
	sweepInterval time.Duration
	emit          Emit
	log           log.Logger

	mu           sync.Mutex
	lastActivity map[string]time.Time
	armed        map[string]bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Watcher. threshold is serviceDowntimeMinutes as a
// Duration; sweepInterval controls how often the watcher checks for
// staleness (independent of threshold — a short interval just lowers
// detection latency, it doesn't change the threshold itself).
func New(threshold, sweepInterval time.Duration, emit Emit, logger log.Logger) *Watcher {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Watcher{
		threshold:     threshold,
		sweepInterval: sweepInterval,
		emit:          emit,
		log:           logger,
		lastActivity:  make(map[string]time.Time),
		armed:         make(map[string]bool),
	}
}

// MarkActivity records that service produced an observation at at. This
// both updates the staleness clock and re-arms the service so a future
// stale sweep can emit again.
func (w *Watcher) MarkActivity(service string, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if existing, ok := w.lastActivity[service]; !ok || at.After(existing) {
		w.lastActivity[service] = at
	}
	w.armed[service] = true
}

// Start begins the sweep loop; it returns immediately and runs until
// ctx is canceled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.stopCh = make(chan struct{})
	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop signals the sweep loop to exit and waits for it to finish. It is
// a no-op if Start was never called.
func (w *Watcher) Stop() {
	if w.stopCh == nil {
		return
	}
	close(w.stopCh)
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(time.Now())
		}
	}
}

func (w *Watcher) sweep(now time.Time) {
	w.mu.Lock()
	var toEmit []string
	for service, last := range w.lastActivity {
		if !w.armed[service] {
			continue
		}
		if now.Sub(last) >= w.threshold {
			toEmit = append(toEmit, service)
			w.armed[service] = false
		}
	}
	w.mu.Unlock()

	for _, service := range toEmit {
		w.log.Log("level", "warn", "msg", "service downtime detected", "service", service)
		w.emit(domain.CandidateAlert{
			Service:           service,
			AlertType:         domain.AlertServiceDown,
			Severity:          domain.SeverityHigh,
			Message:           "no observations for at least " + w.threshold.String(),
			BucketWindowStart: now,
		})
	}
}

// Services returns the set of services the watcher currently tracks
// activity for, used by diagnostics/introspection.
func (w *Watcher) Services() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.lastActivity))
	for svc := range w.lastActivity {
		out = append(out, svc)
	}
	return out
}
