package detector

import (
	"testing"
	"time"

	"pulsecore/internal/baseline"
	"pulsecore/internal/domain"
)

func testConfig() Config {
	return Config{
		ZThreshold:          3.0,
		MinDataPoints:       5,
		RateChangeThreshold: 0.5,
		MinRateForRoc:       0.1,
		Cooldown:            time.Minute,
		ErrorCountThreshold: 10,
		LatencyThresholdMs:  1000,
	}
}

func seedBaseline(d *Detector, service string, rule baseline.RuleKind, values ...float64) {
	m := d.baselines.For(service, rule)
	for _, v := range values {
		m.Push(v)
	}
}

func TestEvaluateUsesStaticFallbackBelowMinDataPoints(t *testing.T) {
	d := New(testConfig(), baseline.NewStore(baseline.Config{WindowBuckets: 60, RocWindow: 5}))
	// Only 2 samples, below MinDataPoints of 5. The tail mean of 0.05 stays
	// under MinRateForRoc, so the rate-of-change rule stays silent and the
	// fallback's own severity is what Evaluate returns.
	seedBaseline(d, "checkout", baseline.RuleErrorCount, 0.05, 0.05)

	c := d.Evaluate(domain.Metric{Service: "checkout", Kind: domain.MetricErrorCount, Value: 12}, time.Now())
	if c == nil {
		t.Fatal("expected static fallback to fire above errorCountThreshold")
	}
	if c.Severity != domain.SeverityMedium {
		t.Errorf("fallback severity = %v, want medium", c.Severity)
	}
}

func TestEvaluateUsesStaticFallbackOnZeroMeanBaseline(t *testing.T) {
	d := New(testConfig(), baseline.NewStore(baseline.Config{WindowBuckets: 60, RocWindow: 5}))
	zeros := make([]float64, 10)
	seedBaseline(d, "checkout", baseline.RuleErrorCount, zeros...) // count >= MinDataPoints, mean == 0

	c := d.Evaluate(domain.Metric{Service: "checkout", Kind: domain.MetricErrorCount, Value: 12}, time.Now())
	if c == nil {
		t.Fatal("expected fallback to fire: an all-zero baseline has no z-score signal")
	}
	if c.Severity != domain.SeverityMedium {
		t.Errorf("severity = %v, want medium (fallback is always medium)", c.Severity)
	}
}

func TestEvaluateZScoreFiresOnTightNonZeroBaseline(t *testing.T) {
	// Established baseline with a real nonzero mean and zero variance
	// (every sample identical) must still use the z-score rule, not the
	// fallback — this is what distinguishes it from an all-zero baseline.
	d := New(testConfig(), baseline.NewStore(baseline.Config{WindowBuckets: 60, RocWindow: 5}))
	baselineValues := make([]float64, 30)
	for i := range baselineValues {
		baselineValues[i] = 2
	}
	seedBaseline(d, "checkout", baseline.RuleErrorCount, baselineValues...)

	c := d.Evaluate(domain.Metric{Service: "checkout", Kind: domain.MetricErrorCount, Value: 50}, time.Now())
	if c == nil {
		t.Fatal("expected z-score rule to fire on a sharp deviation from a tight nonzero baseline")
	}
	if c.Severity != domain.SeverityCritical {
		t.Errorf("severity = %v, want critical", c.Severity)
	}
}

func TestEvaluateReturnsNilBelowThreshold(t *testing.T) {
	d := New(testConfig(), baseline.NewStore(baseline.Config{WindowBuckets: 60, RocWindow: 5}))
	baselineValues := make([]float64, 30)
	for i := range baselineValues {
		baselineValues[i] = 10
	}
	seedBaseline(d, "checkout", baseline.RuleErrorCount, baselineValues...)

	c := d.Evaluate(domain.Metric{Service: "checkout", Kind: domain.MetricErrorCount, Value: 10}, time.Now())
	if c != nil {
		t.Errorf("expected no alert for a value matching the baseline, got %+v", c)
	}
}

func TestEvaluatePicksHigherSeverityAcrossRules(t *testing.T) {
	// Rule B's ratio can grade higher than Rule A's z-score severity for
	// the same sample; Evaluate must keep whichever candidate ranks
	// higher, not whichever rule ran first.
	d := New(testConfig(), baseline.NewStore(baseline.Config{WindowBuckets: 60, RocWindow: 5}))
	baselineValues := make([]float64, 30)
	for i := range baselineValues {
		baselineValues[i] = 10
	}
	seedBaseline(d, "checkout", baseline.RuleErrorCount, baselineValues...)
	// Prime the short tail window with a low recent mean so the ratio to
	// the next value is large.
	tail := d.baselines.For("checkout", baseline.RuleErrorCount)
	for i := 0; i < 5; i++ {
		tail.Push(1)
	}

	// Baseline is now 35 samples, mean ≈ 8.71, stdDev ≈ 3.15, so 20 gives
	// z ≈ 3.58 (Rule A: medium); the tail mean is 1, so the ratio is 20
	// (Rule B: critical).
	c := d.Evaluate(domain.Metric{Service: "checkout", Kind: domain.MetricErrorCount, Value: 20}, time.Now())
	if c == nil {
		t.Fatal("expected rate-of-change rule to fire")
	}
	if c.Severity != domain.SeverityCritical {
		t.Errorf("severity = %v, want critical (Rule B outranks Rule A's medium)", c.Severity)
	}
}

func TestEvaluateSuppressesDuringCooldown(t *testing.T) {
	d := New(testConfig(), baseline.NewStore(baseline.Config{WindowBuckets: 60, RocWindow: 5}))
	baselineValues := make([]float64, 30)
	for i := range baselineValues {
		baselineValues[i] = 2
	}
	seedBaseline(d, "checkout", baseline.RuleErrorCount, baselineValues...)

	now := time.Now()
	first := d.Evaluate(domain.Metric{Service: "checkout", Kind: domain.MetricErrorCount, Value: 50}, now)
	if first == nil {
		t.Fatal("expected first evaluation to fire")
	}
	d.MarkEmitted("checkout", domain.AlertErrorSpike, now)

	second := d.Evaluate(domain.Metric{Service: "checkout", Kind: domain.MetricErrorCount, Value: 50}, now.Add(time.Second))
	if second != nil {
		t.Error("expected cooldown to suppress the second evaluation")
	}
}

func TestEvaluateWithoutMarkEmittedDoesNotSuppress(t *testing.T) {
	// A candidate that never reaches MarkEmitted (because persisting it
	// failed) must not start cooldown, so the next detection can retry.
	d := New(testConfig(), baseline.NewStore(baseline.Config{WindowBuckets: 60, RocWindow: 5}))
	baselineValues := make([]float64, 30)
	for i := range baselineValues {
		baselineValues[i] = 2
	}
	seedBaseline(d, "checkout", baseline.RuleErrorCount, baselineValues...)

	now := time.Now()
	first := d.Evaluate(domain.Metric{Service: "checkout", Kind: domain.MetricErrorCount, Value: 50}, now)
	if first == nil {
		t.Fatal("expected first evaluation to fire")
	}

	second := d.Evaluate(domain.Metric{Service: "checkout", Kind: domain.MetricErrorCount, Value: 50}, now.Add(time.Second))
	if second == nil {
		t.Error("expected re-detection without MarkEmitted to fire again")
	}
}

func TestEvaluateIgnoresUnmappedMetricKind(t *testing.T) {
	d := New(testConfig(), baseline.NewStore(baseline.Config{WindowBuckets: 60, RocWindow: 5}))
	c := d.Evaluate(domain.Metric{Service: "checkout", Kind: domain.MetricThroughput, Value: 1000}, time.Now())
	if c != nil {
		t.Error("throughput has no detector rule mapped, expected nil")
	}
}

func TestStateForReflectsCooldown(t *testing.T) {
	d := New(testConfig(), baseline.NewStore(baseline.Config{WindowBuckets: 60, RocWindow: 5}))
	now := time.Now()
	if got := d.StateFor("checkout", domain.AlertErrorSpike, now); got != StateQuiet {
		t.Errorf("state = %v, want quiet before any emission", got)
	}
	d.MarkEmitted("checkout", domain.AlertErrorSpike, now)
	if got := d.StateFor("checkout", domain.AlertErrorSpike, now); got != StateCooling {
		t.Errorf("state = %v, want cooling immediately after emission", got)
	}
	if got := d.StateFor("checkout", domain.AlertErrorSpike, now.Add(2*time.Minute)); got != StateQuiet {
		t.Errorf("state = %v, want quiet after cooldown elapses", got)
	}
}
