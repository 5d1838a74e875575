package ingest

import (
	"sync"
	"testing"
	"time"

	"pulsecore/internal/aggregator"
	"pulsecore/internal/bucket"
	"pulsecore/internal/domain"
)

func newTestDispatcher(t *testing.T, numShards, queueDepth int) (*Dispatcher, func() []domain.Metric) {
	t.Helper()
	store := bucket.New(int64(time.Minute/time.Millisecond), 0)
	agg := aggregator.New(store, nil)

	var mu sync.Mutex
	var metrics []domain.Metric
	d := New(agg, func(m domain.Metric) {
		mu.Lock()
		metrics = append(metrics, m)
		mu.Unlock()
	}, numShards, queueDepth, nil)

	return d, func() []domain.Metric {
		mu.Lock()
		defer mu.Unlock()
		out := make([]domain.Metric, len(metrics))
		copy(out, metrics)
		return out
	}
}

func TestSubmitLogIsProcessedByWorker(t *testing.T) {
	d, snapshot := newTestDispatcher(t, 4, 16)
	defer d.Close()

	ok := d.SubmitLog(domain.LogEvent{Service: "checkout", Level: domain.LevelError, Timestamp: time.Now()})
	if !ok {
		t.Fatal("expected submission to succeed")
	}

	// Force bucket close with a second observation far in the future.
	d.SubmitLog(domain.LogEvent{Service: "checkout", Level: domain.LevelInfo, Timestamp: time.Now().Add(2 * time.Minute)})

	deadline := time.Now().Add(time.Second)
	for len(snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if len(snapshot()) == 0 {
		t.Fatal("expected at least one finalized metric")
	}
}

func TestSubmitDropsWhenShardQueueFull(t *testing.T) {
	d, _ := newTestDispatcher(t, 1, 1)
	defer d.Close()

	// Flood faster than the single worker can drain; at least one
	// submission should be dropped once the queue (depth 1) backs up.
	dropped := false
	for i := 0; i < 1000; i++ {
		if !d.SubmitLog(domain.LogEvent{Service: "checkout", Level: domain.LevelInfo, Timestamp: time.Now()}) {
			dropped = true
			break
		}
	}
	if !dropped && d.Dropped() == 0 {
		t.Skip("worker drained faster than submissions arrived; not a determinism guarantee")
	}
}

func TestDifferentServicesShardIndependently(t *testing.T) {
	d, snapshot := newTestDispatcher(t, 8, 16)
	defer d.Close()

	for _, svc := range []string{"checkout", "auth", "search"} {
		d.SubmitLog(domain.LogEvent{Service: svc, Level: domain.LevelInfo, Timestamp: time.Now()})
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	_ = snapshot() // no panics / races across shards is the assertion here
}

func TestCloseDrainsPendingWork(t *testing.T) {
	d, snapshot := newTestDispatcher(t, 2, 16)

	d.SubmitLog(domain.LogEvent{Service: "checkout", Level: domain.LevelInfo, Timestamp: time.Now()})
	d.SubmitLog(domain.LogEvent{Service: "checkout", Level: domain.LevelInfo, Timestamp: time.Now().Add(2 * time.Minute)})
	d.Close()

	if len(snapshot()) == 0 {
		t.Error("expected Close to drain and process queued events before returning")
	}
}
