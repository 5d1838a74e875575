// Package sink is the alert sink adapter: the only place a candidate
// alert becomes durable. It owns no alerting policy of its own — dedup
// decisions belong to internal/dedup, severity and cooldown to
// internal/detector — it only persists, publishes, and reports back so
// the detector's cooldown can start.
package sink

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"pulsecore/internal/domain"
	"pulsecore/internal/eventbus"
	"pulsecore/internal/repository"
)

// retryBaseDelay is the first backoff interval for a failed persist
// attempt; it doubles on each subsequent attempt.
const retryBaseDelay = 50 * time.Millisecond

// Deduplicator is the narrow slice of internal/dedup the sink depends
// on, so this package doesn't import the dedup package's internals.
type Deduplicator interface {
	Allow(ctx context.Context, candidate domain.CandidateAlert) (allowed bool, release func(context.Context) error, err error)
}

// CooldownMarker is the narrow slice of internal/detector the sink
// depends on, to close the loop from "persisted" back to "cooldown
// armed" without the sink importing the full Detector.
type CooldownMarker interface {
	MarkEmitted(service string, alertType domain.AlertType, at time.Time)
}

// Sink fans an accepted candidate alert out to durable storage and the
// event bus, and reports the persist outcome back to the detector.
type Sink struct {
	repo          repository.Repository
	dedup         Deduplicator
	cooldown      CooldownMarker
	bus           *eventbus.Bus
	retryAttempts int
	log           log.Logger

	alertsDropped atomic.Int64
}

// New builds a Sink. retryAttempts is the total number of persist
// attempts, the first one included, with exponential backoff between
// them before the candidate is dropped; values below 1 are treated as 1
// (a single attempt, no retry).
func New(repo repository.Repository, dedup Deduplicator, cooldown CooldownMarker, bus *eventbus.Bus, retryAttempts int, logger log.Logger) *Sink {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if retryAttempts < 1 {
		retryAttempts = 1
	}
	return &Sink{repo: repo, dedup: dedup, cooldown: cooldown, bus: bus, retryAttempts: retryAttempts, log: logger}
}

// AlertsDropped returns the number of candidates abandoned after
// exhausting every persist retry.
func (s *Sink) AlertsDropped() int64 {
	return s.alertsDropped.Load()
}

// Emit runs candidate through deduplication and, if accepted, persists
// it, publishes it on the event bus, and marks the detector's cooldown.
// It returns the persisted alert and whether it was accepted; a
// rejection from dedup is not an error.
func (s *Sink) Emit(ctx context.Context, candidate domain.CandidateAlert) (domain.PersistedAlert, bool, error) {
	allowed, release, err := s.dedup.Allow(ctx, candidate)
	if err != nil {
		level.Error(s.log).Log("msg", "dedup check failed", "service", candidate.Service, "alert_type", candidate.AlertType, "err", err)
		return domain.PersistedAlert{}, false, fmt.Errorf("dedup check: %w", err)
	}
	if !allowed {
		return domain.PersistedAlert{}, false, nil
	}

	var persisted domain.PersistedAlert
retry:
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		persisted, err = s.repo.InsertAlert(ctx, candidate)
		if err == nil {
			break
		}
		if attempt == s.retryAttempts-1 {
			break
		}
		level.Warn(s.log).Log("msg", "persisting alert failed, retrying", "service", candidate.Service, "alert_type", candidate.AlertType, "attempt", attempt+1, "err", err)
		delay := retryBaseDelay * time.Duration(1<<uint(attempt))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			err = ctx.Err()
			break retry
		}
	}
	if err != nil {
		release(ctx)
		s.alertsDropped.Add(1)
		level.Error(s.log).Log("msg", "persisting alert failed after retries, dropping", "service", candidate.Service, "alert_type", candidate.AlertType, "attempts", s.retryAttempts, "err", err)
		return domain.PersistedAlert{}, false, fmt.Errorf("inserting alert after %d attempts: %w", s.retryAttempts, err)
	}
	release(ctx)

	s.cooldown.MarkEmitted(candidate.Service, candidate.AlertType, persisted.CreatedAt)
	s.bus.PublishAlert(persisted)
	level.Info(s.log).Log("msg", "alert emitted", "service", candidate.Service, "alert_type", candidate.AlertType, "severity", candidate.Severity)

	return persisted, true, nil
}

// Resolve marks the most recent unresolved alert for (service,
// alertType) resolved and publishes the resolution as a PersistedAlert
// with Resolved set, so alert subscribers on the bus (such as streamgw)
// see recovery without polling.
func (s *Sink) Resolve(ctx context.Context, service string, alertType domain.AlertType) error {
	if err := s.repo.ResolveAlert(ctx, service, alertType); err != nil {
		return fmt.Errorf("resolving alert: %w", err)
	}
	now := time.Now()
	s.bus.PublishAlert(domain.PersistedAlert{
		Candidate:  domain.CandidateAlert{Service: service, AlertType: alertType},
		Resolved:   true,
		ResolvedAt: &now,
	})
	level.Info(s.log).Log("msg", "alert resolved", "service", service, "alert_type", alertType)
	return nil
}
