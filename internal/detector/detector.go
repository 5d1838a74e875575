// Package detector applies the z-score and rate-of-change rules to
// finalized Metrics, maps statistical magnitude to severity, and tracks
// per-(service, alertType) cooldown so only a successful downstream
// persist starts the suppression of further emissions.
package detector

import (
	"fmt"
	"sync"
	"time"

	"pulsecore/internal/baseline"
	"pulsecore/internal/domain"
)

// Rule A's epsilon floor constants. These are not part of the
// configuration surface; they're fixed, small constants that keep the
// z-score denominator from collapsing to zero on a flat baseline.
const (
	epsRel = 0.01
	epsAbs = 0.1
)

// Config is the subset of the global Config the detector needs.
type Config struct {
	ZThreshold          float64
	MinDataPoints       int
	RateChangeThreshold float64
	MinRateForRoc       float64
	Cooldown            time.Duration
	ErrorCountThreshold float64
	LatencyThresholdMs  float64
}

// Detector evaluates finalized Metrics against their baseline model and
// emits candidate alerts.
type Detector struct {
	cfg       Config
	baselines *baseline.Store

	mu          sync.Mutex
	lastEmitted map[string]time.Time // key: service + ":" + alertType
}

// New creates a Detector over baselines using cfg.
func New(cfg Config, baselines *baseline.Store) *Detector {
	return &Detector{
		cfg:         cfg,
		baselines:   baselines,
		lastEmitted: make(map[string]time.Time),
	}
}

func cooldownKey(service string, alertType domain.AlertType) string {
	return service + ":" + string(alertType)
}

func ruleKindFor(kind domain.MetricKind) (baseline.RuleKind, domain.AlertType, bool) {
	switch kind {
	case domain.MetricErrorCount:
		return baseline.RuleErrorCount, domain.AlertErrorSpike, true
	case domain.MetricLatencyP95:
		return baseline.RuleLatencyP95, domain.AlertHighLatency, true
	default:
		return "", "", false
	}
}

func severityRank(s domain.Severity) int {
	switch s {
	case domain.SeverityCritical:
		return 4
	case domain.SeverityHigh:
		return 3
	case domain.SeverityMedium:
		return 2
	case domain.SeverityLow:
		return 1
	default:
		return 0
	}
}

// Evaluate applies both detector rules to a single finalized Metric and
// returns a candidate alert if either rule fires and cooldown is not
// currently active for (service, alertType); nil otherwise. The
// baseline is always updated with this sample regardless of whether a
// candidate is produced — rule evaluation is a pure function of
// in-memory state and cannot fail, so it never poisons the baseline.
func (d *Detector) Evaluate(m domain.Metric, now time.Time) *domain.CandidateAlert {
	ruleKind, alertType, ok := ruleKindFor(m.Kind)
	if !ok {
		return nil
	}

	model := d.baselines.For(m.Service, ruleKind)
	mean := model.Mean()
	stdDev := model.StdDev()
	count := model.Count()
	recentMean := model.RecentMean()
	value := m.Value

	candidate := d.evaluateRuleA(m.Service, alertType, ruleKind, value, mean, stdDev, count, m.WindowStart)
	if b := d.evaluateRuleB(m.Service, alertType, value, recentMean, m.WindowStart); b != nil {
		if candidate == nil || severityRank(b.Severity) > severityRank(candidate.Severity) {
			candidate = b
		}
	}

	// Always fold this sample into the baseline, whether or not it fired
	// a rule and whether or not cooldown will suppress it.
	model.Push(value)

	if candidate == nil {
		return nil
	}

	key := cooldownKey(m.Service, alertType)
	d.mu.Lock()
	last, exists := d.lastEmitted[key]
	d.mu.Unlock()
	if exists && now.Sub(last) < d.cfg.Cooldown {
		return nil // Firing -> Cooling already in effect; suppress.
	}

	return candidate
}

// evaluateRuleA implements the z-score deviation rule, falling back to
// the static threshold rule for baselines that don't yet carry a
// meaningful signal: either too few samples (count < minDataPoints) or
// a baseline that is exactly zero-mean (mean == 0, an all-zero
// baseline) — in both cases stdDev-based z-scoring is unreliable and
// the static threshold decides instead. The mean==0 branch covers a
// baseline that has enough samples but has seen only silence, where
// any non-zero value would otherwise produce a huge z-score.
func (d *Detector) evaluateRuleA(service string, alertType domain.AlertType, ruleKind baseline.RuleKind, value, mean, stdDev float64, count int, windowStart time.Time) *domain.CandidateAlert {
	if count < d.cfg.MinDataPoints || mean == 0 {
		return d.evaluateStaticFallback(service, alertType, ruleKind, value, windowStart)
	}

	denom := stdDev
	floor := epsRel*mean + epsAbs
	if floor > denom {
		denom = floor
	}
	if denom <= 0 {
		return nil
	}

	z := (value - mean) / denom
	if z < d.cfg.ZThreshold || value <= mean {
		return nil
	}

	var severity domain.Severity
	switch {
	case z >= 6:
		severity = domain.SeverityCritical
	case z >= 4:
		severity = domain.SeverityHigh
	default:
		severity = domain.SeverityMedium
	}

	return &domain.CandidateAlert{
		Service:           service,
		AlertType:         alertType,
		Severity:          severity,
		Message:           fmt.Sprintf("z-score deviation: value=%.2f mean≈%.2f stdDev≈%.2f z=%.2f", value, mean, stdDev, z),
		BucketWindowStart: windowStart,
		Stats:             domain.Stats{Value: value, Mean: mean, StdDev: stdDev, ZScore: z, Count: count},
	}
}

// evaluateStaticFallback implements the static threshold fallback:
// errorCountThreshold / latencyThresholdMs decide when the baseline
// doesn't yet have a meaningful standard deviation to compare against.
// There's no statistical magnitude to grade here, so severity is fixed
// at medium, the least alarming non-informational severity.
func (d *Detector) evaluateStaticFallback(service string, alertType domain.AlertType, ruleKind baseline.RuleKind, value float64, windowStart time.Time) *domain.CandidateAlert {
	var threshold float64
	switch ruleKind {
	case baseline.RuleErrorCount:
		threshold = d.cfg.ErrorCountThreshold
	case baseline.RuleLatencyP95:
		threshold = d.cfg.LatencyThresholdMs
	}
	if value < threshold {
		return nil
	}
	return &domain.CandidateAlert{
		Service:           service,
		AlertType:         alertType,
		Severity:          domain.SeverityMedium,
		Message:           fmt.Sprintf("static threshold exceeded: value=%.2f threshold=%.2f (baseline not yet established)", value, threshold),
		BucketWindowStart: windowStart,
		Stats:             domain.Stats{Value: value},
	}
}

// evaluateRuleB implements the rate-of-change rule.
func (d *Detector) evaluateRuleB(service string, alertType domain.AlertType, value, recentMean float64, windowStart time.Time) *domain.CandidateAlert {
	if recentMean < d.cfg.MinRateForRoc {
		return nil
	}
	ratio := value / recentMean
	if ratio < 1+d.cfg.RateChangeThreshold {
		return nil
	}

	var severity domain.Severity
	switch {
	case ratio >= 3:
		severity = domain.SeverityCritical
	case ratio >= 2:
		severity = domain.SeverityHigh
	default:
		severity = domain.SeverityMedium
	}

	return &domain.CandidateAlert{
		Service:           service,
		AlertType:         alertType,
		Severity:          severity,
		Message:           fmt.Sprintf("rate of change: value=%.2f recentMean≈%.2f ratio=%.2f", value, recentMean, ratio),
		BucketWindowStart: windowStart,
		Stats:             domain.Stats{Value: value, RecentMean: recentMean, Ratio: ratio},
	}
}

// MarkEmitted records a successful persist for (service, alertType),
// starting the Cooling period. The in-memory cooldown is deliberately
// not set until a successful persist, so a later re-detection can
// reissue if this one failed to make it to storage.
func (d *Detector) MarkEmitted(service string, alertType domain.AlertType, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastEmitted[cooldownKey(service, alertType)] = at
}

// State is the detector-local suppression state for one (service,
// alertType): Quiet, Firing, Cooling, then back to Quiet. It's derived
// lazily from lastEmitted rather than tracked by a background timer;
// Firing itself is momentary and only observable as the Evaluate call
// that returns a non-nil candidate.
type State string

const (
	StateQuiet   State = "quiet"
	StateCooling State = "cooling"
)

// StateFor reports whether (service, alertType) is currently cooling
// down or quiet, as of now.
func (d *Detector) StateFor(service string, alertType domain.AlertType, now time.Time) State {
	d.mu.Lock()
	last, exists := d.lastEmitted[cooldownKey(service, alertType)]
	d.mu.Unlock()
	if exists && now.Sub(last) < d.cfg.Cooldown {
		return StateCooling
	}
	return StateQuiet
}
