package repository

import (
	"testing"

	"pulsecore/internal/domain"
)

func TestAdvisoryKeyIsStableAndDistinguishesInputs(t *testing.T) {
	a := AdvisoryKey("checkout", domain.AlertErrorSpike)
	b := AdvisoryKey("checkout", domain.AlertErrorSpike)
	if a != b {
		t.Error("AdvisoryKey should be deterministic for identical inputs")
	}

	c := AdvisoryKey("checkout", domain.AlertHighLatency)
	if a == c {
		t.Error("different alert types should not collide")
	}

	d := AdvisoryKey("payments", domain.AlertErrorSpike)
	if a == d {
		t.Error("different services should not collide")
	}
}
