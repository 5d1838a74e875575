// Package dedup decides whether a candidate alert is a true duplicate of
// one already in flight, across three independent layers: an in-process
// cache for the common single-replica case, a cross-replica advisory
// lock for the moment two replicas detect the same condition at once,
// and a windowed database query as the final backstop against clock
// skew and lock-timing races. A candidate only reaches storage if it
// clears all three.
package dedup

import (
	"context"
	"time"

	"pulsecore/internal/domain"
	"pulsecore/internal/repository"
)

// AdvisoryLocker is the narrow slice of Repository the L2 layer needs.
// Keeping it separate from DuplicateChecker (and from the full
// repository.Repository interface) means the detector and the
// deduplicator depend on disjoint capabilities of the same backing
// store, not on each other.
type AdvisoryLocker interface {
	AcquireAdvisoryLock(ctx context.Context, key int64) (repository.Lease, bool, error)
}

// DuplicateChecker is the narrow slice of Repository the L3 layer needs.
type DuplicateChecker interface {
	CountUnresolvedAlertsSince(ctx context.Context, service string, alertType domain.AlertType, window time.Duration) (int, error)
}

// Cache is the L1 layer: a local, short-TTL membership check keyed on
// service:alertType (the timestamp never enters the key, so rapid
// re-detections of the same condition collapse to a single winner).
type Cache interface {
	// SeenRecently reports whether key was already recorded within its
	// TTL, and records it if not (test-and-set in one call, so two
	// concurrent callers can't both observe "not seen").
	SeenRecently(key string) bool
	Close()
}

// Key builds the L1 cache key for a candidate alert. The L2 lock key is
// derived separately by repository.AdvisoryKey.
func Key(service string, alertType domain.AlertType) string {
	return service + ":" + string(alertType)
}

// Deduplicator runs a candidate through all three layers and reports
// whether it should proceed to storage.
type Deduplicator struct {
	l1     Cache
	locker AdvisoryLocker
	dup    DuplicateChecker
	window time.Duration
}

// New builds a Deduplicator. window is the L3 lookback window
// (typically config.DeduplicationWindow()).
func New(l1 Cache, locker AdvisoryLocker, dup DuplicateChecker, window time.Duration) *Deduplicator {
	return &Deduplicator{l1: l1, locker: locker, dup: dup, window: window}
}

// Allow runs the three-layer check for candidate. On true, the caller
// owns release()'s invocation (call it after the candidate has been
// durably persisted, or immediately if rejected before persist) to
// release the L2 lock; on false the lease is already released and
// release is a no-op.
func (d *Deduplicator) Allow(ctx context.Context, candidate domain.CandidateAlert) (allowed bool, release func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	key := Key(candidate.Service, candidate.AlertType)
	if d.l1.SeenRecently(key) {
		return false, noop, nil
	}

	lockKey := repository.AdvisoryKey(candidate.Service, candidate.AlertType)
	lease, acquired, err := d.locker.AcquireAdvisoryLock(ctx, lockKey)
	if err != nil {
		return false, noop, err
	}
	if !acquired {
		return false, noop, nil
	}

	count, err := d.dup.CountUnresolvedAlertsSince(ctx, candidate.Service, candidate.AlertType, d.window)
	if err != nil {
		lease.Release(ctx)
		return false, noop, err
	}
	if count > 0 {
		lease.Release(ctx)
		return false, noop, nil
	}

	return true, lease.Release, nil
}
