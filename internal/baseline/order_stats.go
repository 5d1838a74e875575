package baseline

import "sort"

// orderStatistics maintains a sorted multiset of float64 values so the
// running median can be queried in O(log n), supporting both insert and
// remove (the robust baseline variant needs eviction, which a classic
// two-heap running-median structure doesn't support without rebuilding).
// Insert/remove are O(n) due to slice shifting; for window sizes in the
// tens to low hundreds of buckets that cost is negligible and the
// simplicity is worth it over a balanced tree.
type orderStatistics struct {
	sorted []float64
}

func newOrderStatistics() *orderStatistics {
	return &orderStatistics{}
}

func (o *orderStatistics) insert(v float64) {
	i := sort.SearchFloat64s(o.sorted, v)
	o.sorted = append(o.sorted, 0)
	copy(o.sorted[i+1:], o.sorted[i:])
	o.sorted[i] = v
}

func (o *orderStatistics) remove(v float64) {
	i := sort.SearchFloat64s(o.sorted, v)
	if i >= len(o.sorted) || o.sorted[i] != v {
		return // not found; defensive no-op, should not happen in practice
	}
	o.sorted = append(o.sorted[:i], o.sorted[i+1:]...)
}

// median returns the O(log n)-queried median of the held values (the
// query is a direct index into the maintained sorted slice), or 0 when
// empty.
func (o *orderStatistics) median() float64 {
	n := len(o.sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return o.sorted[n/2]
	}
	return (o.sorted[n/2-1] + o.sorted[n/2]) / 2
}
