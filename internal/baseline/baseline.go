// Package baseline implements streaming per-(service, rule) statistics:
// a circular buffer of recent rates with running sum/sumSquares/count
// maintained in O(1) per sample, an EMA, and a short tail buffer for
// rate-of-change.
package baseline

import (
	"math"
	"sort"
)

// Model is the statistics for one (service, ruleKind) pair. It is not
// safe for concurrent use, and Store only synchronizes looking up and
// creating Models, not using them: callers serialize access to one
// Model themselves.
type Model struct {
	capacity int
	buf      []float64
	head     int // index the next Push will write to
	count    int // number of valid entries, capped at capacity

	sum        float64
	sumSquares float64

	emaAlpha float64
	ema      float64
	emaInit  bool

	tailCapacity int
	tail         []float64
	tailHead     int
	tailCount    int

	robustMAD bool
	order     *orderStatistics
}

// Config bundles the knobs baseline needs from the global Config
// without importing the config package, keeping this package
// dependency-free and independently testable.
type Config struct {
	WindowBuckets int
	RocWindow     int
	EMAAlpha      float64
	RobustMAD     bool
}

// New creates a Model for one (service, ruleKind) pair.
func New(cfg Config) *Model {
	alpha := cfg.EMAAlpha
	if alpha <= 0 {
		alpha = 0.3
	}
	windowBuckets := cfg.WindowBuckets
	if windowBuckets <= 0 {
		windowBuckets = 60
	}
	rocWindow := cfg.RocWindow
	if rocWindow <= 0 {
		rocWindow = 5
	}

	m := &Model{
		capacity:     windowBuckets,
		buf:          make([]float64, windowBuckets),
		emaAlpha:     alpha,
		tailCapacity: rocWindow,
		tail:         make([]float64, rocWindow),
		robustMAD:    cfg.RobustMAD,
	}
	if cfg.RobustMAD {
		m.order = newOrderStatistics()
	}
	return m
}

// Count is the number of samples currently held in the main window
// (capped at capacity).
func (m *Model) Count() int { return m.count }

// Mean returns sum/count, or 0 with zero samples.
func (m *Model) Mean() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

// Variance returns max(0, sumSquares/count - mean^2); floating-point
// error can otherwise push this slightly negative for near-zero
// variance, so it's always clamped non-negative.
func (m *Model) Variance() float64 {
	if m.count == 0 {
		return 0
	}
	mean := m.Mean()
	v := m.sumSquares/float64(m.count) - mean*mean
	if v < 0 {
		return 0
	}
	return v
}

// StdDev is sqrt(Variance()), or the Median Absolute Deviation scaled to
// be comparable to a standard deviation when the robust variant is
// enabled (1.4826 * MAD, the standard consistency constant for normally
// distributed data).
func (m *Model) StdDev() float64 {
	if m.robustMAD && m.count > 0 {
		return 1.4826 * m.mad()
	}
	return math.Sqrt(m.Variance())
}

// EMA is the exponential moving average, updated as
// ema <- alpha*x + (1-alpha)*ema.
func (m *Model) EMA() float64 { return m.ema }

// RecentMean is the average of the tail ring buffer's CURRENT contents
// — i.e. it excludes the value about to be pushed. Call this before
// Push for the value under evaluation.
func (m *Model) RecentMean() float64 {
	if m.tailCount == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < m.tailCount; i++ {
		sum += m.tail[i]
	}
	return sum / float64(m.tailCount)
}

// Push folds value into the main window (evicting the oldest entry once
// full, folding its contribution out of sum/sumSquares) and into the
// tail ring buffer, and updates the EMA. Call this after the value has
// been evaluated against the prior baseline state.
func (m *Model) Push(value float64) {
	if m.count < m.capacity {
		m.buf[m.head] = value
		m.sum += value
		m.sumSquares += value * value
		m.count++
		if m.robustMAD {
			m.order.insert(value)
		}
	} else {
		evicted := m.buf[m.head]
		m.buf[m.head] = value
		m.sum += value - evicted
		m.sumSquares += value*value - evicted*evicted
		if m.robustMAD {
			m.order.remove(evicted)
			m.order.insert(value)
		}
	}
	m.head = (m.head + 1) % m.capacity

	if !m.emaInit {
		m.ema = value
		m.emaInit = true
	} else {
		m.ema = m.emaAlpha*value + (1-m.emaAlpha)*m.ema
	}

	if m.tailCount < m.tailCapacity {
		m.tail[m.tailHead] = value
		m.tailCount++
	} else {
		m.tail[m.tailHead] = value
	}
	m.tailHead = (m.tailHead + 1) % m.tailCapacity
}

// mad returns the median absolute deviation of the values currently
// held in the main window. The running median of raw values is
// maintained incrementally via an order statistics structure (see
// order_stats.go); the deviation median itself is recomputed from the
// buffer on each call, which is O(n log n) — fine for window sizes in
// the tens to low hundreds, and simpler than maintaining a second
// order-statistics structure that itself shifts every time the running
// median moves.
func (m *Model) mad() float64 {
	if m.count == 0 {
		return 0
	}
	median := m.order.median()
	devs := make([]float64, m.count)
	for i := 0; i < m.count; i++ {
		devs[i] = math.Abs(m.buf[i] - median)
	}
	sort.Float64s(devs)
	n := len(devs)
	if n%2 == 1 {
		return devs[n/2]
	}
	return (devs[n/2-1] + devs[n/2]) / 2
}

// Reset clears a Model back to its just-constructed state, used when
// an invariant-violation recovery path decides to drop and rebuild a
// corrupted baseline.
func (m *Model) Reset() {
	for i := range m.buf {
		m.buf[i] = 0
	}
	m.head, m.count = 0, 0
	m.sum, m.sumSquares = 0, 0
	m.ema, m.emaInit = 0, false
	for i := range m.tail {
		m.tail[i] = 0
	}
	m.tailHead, m.tailCount = 0, 0
	if m.robustMAD {
		m.order = newOrderStatistics()
	}
}

// CheckInvariant reports whether sum/sumSquares are still consistent
// with the buffer contents to within float64 tolerance. Intended for
// debug builds / tests, not the hot path.
func (m *Model) CheckInvariant() bool {
	var sum, sumSquares float64
	for i := 0; i < m.count; i++ {
		sum += m.buf[i]
		sumSquares += m.buf[i] * m.buf[i]
	}
	const tolerance = 1e-6
	return math.Abs(sum-m.sum) <= tolerance*math.Max(1, math.Abs(sum)) &&
		math.Abs(sumSquares-m.sumSquares) <= tolerance*math.Max(1, math.Abs(sumSquares))
}
