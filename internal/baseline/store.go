package baseline

import "sync"

// RuleKind is the subset of domain.MetricKind the detector runs rules
// against.
type RuleKind string

const (
	RuleErrorCount RuleKind = "error_count"
	RuleLatencyP95 RuleKind = "latency_p95"
)

type key struct {
	service string
	rule    RuleKind
}

// Store holds one Model per (service, ruleKind), created lazily on
// first use, guarded the same sharded-by-key way internal/bucket guards
// its per-service state: a concurrent map of independent entries, no
// single global lock serializing unrelated keys.
type Store struct {
	cfg   Config
	mu    sync.RWMutex
	byKey map[key]*Model
}

// NewStore creates a Store whose Models all share cfg.
func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg, byKey: make(map[key]*Model)}
}

// For returns the Model for (service, rule), creating it if needed.
func (s *Store) For(service string, rule RuleKind) *Model {
	k := key{service, rule}

	s.mu.RLock()
	m, ok := s.byKey[k]
	s.mu.RUnlock()
	if ok {
		return m
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.byKey[k]; ok {
		return m
	}
	m = New(s.cfg)
	s.byKey[k] = m
	return m
}
