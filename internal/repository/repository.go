// Package repository defines the narrow durable-storage contract the
// core depends on, and the two concrete backends (Postgres, SQLite)
// that satisfy it.
package repository

import (
	"context"
	"errors"
	"time"

	"pulsecore/internal/domain"
)

// ErrNotAcquired names the "lock held elsewhere" outcome. The backends'
// AcquireAdvisoryLock does not return it: it reports that outcome as
// (nil, false, nil), which callers treat as "another replica is handling
// it" and silently reject the candidate.
var ErrNotAcquired = errors.New("advisory lock not acquired")

// Lease represents a held advisory lock (or its conditional-insert
// emulation on backends without native advisory locks). Release must be
// called exactly once, whether or not the lock was actually used to
// insert anything.
type Lease interface {
	Release(ctx context.Context) error
}

// Repository is the full storage capability set the engine depends on.
// Every method is safe for concurrent use.
type Repository interface {
	// InsertMetricsBatch is idempotent on (service, metricKind,
	// windowStart): inserting the same batch twice leaves state
	// unchanged.
	InsertMetricsBatch(ctx context.Context, metrics []domain.Metric) error

	// AcquireAdvisoryLock attempts a non-blocking, session-scoped lock on
	// key. It returns (nil, false, nil) — not an error — when the lock is
	// already held elsewhere.
	AcquireAdvisoryLock(ctx context.Context, key int64) (Lease, bool, error)

	// CountUnresolvedAlertsSince counts unresolved alerts for (service,
	// alertType) created within the last window, as measured by the
	// database's own clock.
	CountUnresolvedAlertsSince(ctx context.Context, service string, alertType domain.AlertType, window time.Duration) (int, error)

	// InsertAlert persists candidate and returns it with an assigned id
	// and database-populated createdAt.
	InsertAlert(ctx context.Context, candidate domain.CandidateAlert) (domain.PersistedAlert, error)

	// ResolveAlert marks the most recent unresolved alert for (service,
	// alertType) resolved. A no-op if none is unresolved.
	ResolveAlert(ctx context.Context, service string, alertType domain.AlertType) error

	// MarkServiceActivity records that service produced an observation at
	// at, for the downtime watcher's cross-replica view of activity.
	MarkServiceActivity(ctx context.Context, service string, at time.Time) error

	// ListStaleServices returns services whose last recorded activity is
	// at least threshold old, as of the database's clock.
	ListStaleServices(ctx context.Context, threshold time.Duration) ([]string, error)

	Close()
}

// AdvisoryKey derives the stable 64-bit advisory lock key for
// (service, alertType): the first 8 bytes of SHA-256("alert:service:alertType")
// interpreted as a signed big-endian integer.
func AdvisoryKey(service string, alertType domain.AlertType) int64 {
	return advisoryKey(service, alertType)
}
