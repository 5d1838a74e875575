// Package ingest is the inbound admission boundary: it shards events by
// service (so each service's observations are processed strictly in
// arrival order, by exactly one goroutine, while unrelated services run
// concurrently) and applies a bounded per-shard queue so a burst from
// one service can't grow memory without limit — once a shard's queue is
// full, new events for that shard are dropped and counted rather than
// blocking the ingest call indefinitely.
package ingest

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"

	"pulsecore/internal/aggregator"
	"pulsecore/internal/domain"
)

// MetricSink receives every Metric a bucket close finalizes.
type MetricSink func(domain.Metric)

type event struct {
	log  *domain.LogEvent
	span *domain.SpanEndEvent
}

// Dispatcher shards inbound LogEvent/SpanEndEvent onto a fixed number
// of worker goroutines, each owning a disjoint subset of services.
type Dispatcher struct {
	agg       *aggregator.Aggregator
	onMetrics MetricSink
	log       log.Logger

	shards []chan event
	dropped atomic.Int64

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New creates a Dispatcher with numShards worker goroutines, each with
// a queue depth of maxQueueDepth, and starts them immediately.
func New(agg *aggregator.Aggregator, onMetrics MetricSink, numShards, maxQueueDepth int, logger log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if numShards <= 0 {
		numShards = 1
	}
	d := &Dispatcher{
		agg:       agg,
		onMetrics: onMetrics,
		log:       logger,
		shards:    make([]chan event, numShards),
		stopCh:    make(chan struct{}),
	}
	for i := range d.shards {
		d.shards[i] = make(chan event, maxQueueDepth)
		d.wg.Add(1)
		go d.worker(d.shards[i])
	}
	return d
}

func shardFor(service string, numShards int) int {
	h := fnv.New32a()
	h.Write([]byte(service))
	return int(h.Sum32()) % numShards
}

// SubmitLog enqueues a LogEvent onto its service's shard. It returns
// false if the shard's queue is full, in which case the event was
// dropped.
func (d *Dispatcher) SubmitLog(ev domain.LogEvent) bool {
	return d.submit(ev.Service, event{log: &ev})
}

// SubmitSpan enqueues a SpanEndEvent onto its service's shard the same
// way SubmitLog does.
func (d *Dispatcher) SubmitSpan(ev domain.SpanEndEvent) bool {
	return d.submit(ev.Service, event{span: &ev})
}

func (d *Dispatcher) submit(service string, e event) bool {
	shard := d.shards[shardFor(service, len(d.shards))]
	select {
	case shard <- e:
		return true
	default:
		d.dropped.Add(1)
		d.log.Log("level", "warn", "msg", "ingest queue full, dropping event", "service", service)
		return false
	}
}

func (d *Dispatcher) worker(shard chan event) {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			d.drain(shard)
			return
		case e := <-shard:
			d.process(e)
		}
	}
}

func (d *Dispatcher) drain(shard chan event) {
	for {
		select {
		case e := <-shard:
			d.process(e)
		default:
			return
		}
	}
}

func (d *Dispatcher) process(e event) {
	var (
		closed []domain.Metric
		err    error
	)
	switch {
	case e.log != nil:
		closed, err = d.agg.ObserveLog(*e.log)
	case e.span != nil:
		closed, err = d.agg.ObserveSpan(*e.span)
	}
	if err != nil {
		return // already logged and counted by the aggregator
	}
	for _, m := range closed {
		d.onMetrics(m)
	}
}

// Dropped returns the cumulative count of events dropped for admission
// control across all shards.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Close signals every worker to drain its queue and exit, and waits for
// them to finish.
func (d *Dispatcher) Close() {
	close(d.stopCh)
	d.wg.Wait()
}
