package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"pulsecore/internal/domain"
	"pulsecore/internal/eventbus"
	"pulsecore/internal/repository"
)

type fakeDedup struct {
	allowed  bool
	err      error
	released bool
}

func (f *fakeDedup) Allow(ctx context.Context, candidate domain.CandidateAlert) (bool, func(context.Context) error, error) {
	if f.err != nil {
		return false, func(context.Context) error { return nil }, f.err
	}
	return f.allowed, func(context.Context) error { f.released = true; return nil }, nil
}

type fakeCooldown struct {
	marked bool
}

func (f *fakeCooldown) MarkEmitted(service string, alertType domain.AlertType, at time.Time) {
	f.marked = true
}

type fakeRepo struct {
	repository.Repository
	insertErr      error
	failAttempts   int // InsertAlert returns insertErr for this many calls before succeeding
	insertAttempts int
	resolved       bool
}

func (f *fakeRepo) InsertAlert(ctx context.Context, candidate domain.CandidateAlert) (domain.PersistedAlert, error) {
	f.insertAttempts++
	if f.insertAttempts <= f.failAttempts {
		return domain.PersistedAlert{}, f.insertErr
	}
	return domain.PersistedAlert{ID: "alert-1", Candidate: candidate, CreatedAt: time.Now()}, nil
}

func (f *fakeRepo) ResolveAlert(ctx context.Context, service string, alertType domain.AlertType) error {
	f.resolved = true
	return nil
}

func TestEmitRejectedByDedupDoesNotPersist(t *testing.T) {
	repo := &fakeRepo{}
	cd := &fakeCooldown{}
	s := New(repo, &fakeDedup{allowed: false}, cd, eventbus.New(), 1, nil)

	_, accepted, err := s.Emit(context.Background(), domain.CandidateAlert{Service: "checkout", AlertType: domain.AlertErrorSpike})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if accepted {
		t.Error("expected rejection")
	}
	if cd.marked {
		t.Error("cooldown should not be marked when dedup rejects")
	}
}

func TestEmitAcceptedPersistsAndPublishes(t *testing.T) {
	repo := &fakeRepo{}
	cd := &fakeCooldown{}
	dedup := &fakeDedup{allowed: true}
	bus := eventbus.New()
	ch, unsub := bus.SubscribeAlerts(1)
	defer unsub()

	s := New(repo, dedup, cd, bus, 1, nil)
	persisted, accepted, err := s.Emit(context.Background(), domain.CandidateAlert{Service: "checkout", AlertType: domain.AlertErrorSpike})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !accepted {
		t.Fatal("expected acceptance")
	}
	if persisted.ID == "" {
		t.Error("expected a persisted ID")
	}
	if !cd.marked {
		t.Error("expected cooldown to be marked on successful persist")
	}
	if !dedup.released {
		t.Error("expected the dedup lease to be released")
	}

	select {
	case a := <-ch:
		if a.ID != persisted.ID {
			t.Errorf("published alert id = %q, want %q", a.ID, persisted.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected alert published to event bus")
	}
}

func TestEmitPersistFailureReleasesLeaseAndDoesNotMarkCooldown(t *testing.T) {
	repo := &fakeRepo{insertErr: errors.New("db down"), failAttempts: 1}
	cd := &fakeCooldown{}
	dedup := &fakeDedup{allowed: true}
	s := New(repo, dedup, cd, eventbus.New(), 1, nil)

	_, accepted, err := s.Emit(context.Background(), domain.CandidateAlert{Service: "checkout", AlertType: domain.AlertErrorSpike})
	if err == nil {
		t.Fatal("expected persist error to propagate")
	}
	if accepted {
		t.Error("expected rejection on persist failure")
	}
	if cd.marked {
		t.Error("cooldown must not be marked when persist fails, so a retry can reissue")
	}
	if !dedup.released {
		t.Error("expected the dedup lease to be released even on persist failure")
	}
	if s.AlertsDropped() != 1 {
		t.Errorf("AlertsDropped = %d, want 1", s.AlertsDropped())
	}
}

func TestEmitRetriesPersistAndSucceeds(t *testing.T) {
	repo := &fakeRepo{insertErr: errors.New("transient timeout"), failAttempts: 2}
	cd := &fakeCooldown{}
	dedup := &fakeDedup{allowed: true}
	s := New(repo, dedup, cd, eventbus.New(), 3, nil)

	persisted, accepted, err := s.Emit(context.Background(), domain.CandidateAlert{Service: "checkout", AlertType: domain.AlertErrorSpike})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !accepted {
		t.Fatal("expected acceptance after the persist eventually succeeds")
	}
	if persisted.ID == "" {
		t.Error("expected a persisted ID")
	}
	if repo.insertAttempts != 3 {
		t.Errorf("insert attempts = %d, want 3 (2 failures + 1 success)", repo.insertAttempts)
	}
	if !cd.marked {
		t.Error("expected cooldown to be marked once the retried persist succeeds")
	}
	if s.AlertsDropped() != 0 {
		t.Errorf("AlertsDropped = %d, want 0", s.AlertsDropped())
	}
}

func TestEmitDropsAndCountsAfterExhaustingRetries(t *testing.T) {
	repo := &fakeRepo{insertErr: errors.New("db down"), failAttempts: 100}
	cd := &fakeCooldown{}
	dedup := &fakeDedup{allowed: true}
	s := New(repo, dedup, cd, eventbus.New(), 3, nil)

	_, accepted, err := s.Emit(context.Background(), domain.CandidateAlert{Service: "checkout", AlertType: domain.AlertErrorSpike})
	if err == nil {
		t.Fatal("expected persist error to propagate after exhausting retries")
	}
	if accepted {
		t.Error("expected rejection after exhausting retries")
	}
	if repo.insertAttempts != 3 {
		t.Errorf("insert attempts = %d, want 3 (bounded by retryAttempts)", repo.insertAttempts)
	}
	if s.AlertsDropped() != 1 {
		t.Errorf("AlertsDropped = %d, want 1", s.AlertsDropped())
	}
	if cd.marked {
		t.Error("cooldown must not be marked when every retry fails")
	}
}

func TestResolvePublishesRecovery(t *testing.T) {
	repo := &fakeRepo{}
	bus := eventbus.New()
	ch, unsub := bus.SubscribeAlerts(1)
	defer unsub()

	s := New(repo, &fakeDedup{}, &fakeCooldown{}, bus, 1, nil)
	if err := s.Resolve(context.Background(), "checkout", domain.AlertErrorSpike); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !repo.resolved {
		t.Error("expected ResolveAlert to be called")
	}

	select {
	case a := <-ch:
		if !a.Resolved {
			t.Error("expected published alert to be marked resolved")
		}
	case <-time.After(time.Second):
		t.Fatal("expected resolution published to event bus")
	}
}
