// Package reservoir implements fixed-capacity uniform reservoir
// sampling for latency percentile estimation.
package reservoir

import (
	"math"
	"math/rand"
	"sort"
)

// DefaultCapacity is the default reservoir size (1024 durations),
// giving O(capacity) memory and O(capacity log capacity) once per
// bucket close.
const DefaultCapacity = 1024

// Reservoir is a uniform sample of observed durations (in milliseconds)
// over one bucket's lifetime. It is not safe for concurrent use; callers
// serialize access per (service, metricKind) the same way the rest of
// the bucket store does.
type Reservoir struct {
	capacity int
	samples  []float64
	seen     int64
	rnd      *rand.Rand
}

// New creates a reservoir with the given capacity. A non-positive
// capacity falls back to DefaultCapacity.
func New(capacity int) *Reservoir {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Reservoir{
		capacity: capacity,
		samples:  make([]float64, 0, capacity),
		rnd:      rand.New(rand.NewSource(rand.Int63())),
	}
}

// Add records one observation using Algorithm R: the first `capacity`
// observations are kept outright; after that, observation i (0-indexed)
// replaces a uniformly random existing slot with probability
// capacity/(i+1), which yields a uniform sample over everything seen so
// far regardless of how many observations arrive.
func (r *Reservoir) Add(value float64) {
	r.seen++
	if len(r.samples) < r.capacity {
		r.samples = append(r.samples, value)
		return
	}
	j := r.rnd.Int63n(r.seen)
	if j < int64(r.capacity) {
		r.samples[j] = value
	}
}

// Len returns the number of samples currently held (not the number of
// observations seen).
func (r *Reservoir) Len() int { return len(r.samples) }

// Percentile returns the p-th percentile (0 < p <= 1) of the held
// samples, sorting the reservoir in place. Returns 0 for an empty
// reservoir.
func (r *Reservoir) Percentile(p float64) float64 {
	n := len(r.samples)
	if n == 0 {
		return 0
	}
	sort.Float64s(r.samples)
	idx := int(math.Ceil(p*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return r.samples[idx]
}

// P95 is Percentile(0.95), the only percentile the aggregator needs.
func (r *Reservoir) P95() float64 { return r.Percentile(0.95) }

// Reset empties the reservoir for reuse by the next bucket, avoiding a
// fresh allocation per bucket.
func (r *Reservoir) Reset() {
	r.samples = r.samples[:0]
	r.seen = 0
}
