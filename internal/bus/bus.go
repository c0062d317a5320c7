// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package bus implements the event bus and its Sequencer: the single
// in-process broadcast hub every actor publishes to and subscribes from.
// It deduplicates by content hash, assigns causally-ordered HLC
// timestamps, and delivers events to subscribers in that order.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/enclave-network/ciphernode-core/internal/clock"
	"github.com/enclave-network/ciphernode-core/internal/logging"
	"github.com/enclave-network/ciphernode-core/internal/metrics"
	"github.com/enclave-network/ciphernode-core/pkg/event"
	"go.uber.org/zap"
)

// Subscriber receives sequenced, deduplicated events. Handlers must not
// block: the bus's single dispatch goroutine serializes every
// subscriber's delivery, so a slow handler stalls the whole node.
type Subscriber func(event.Event)

// Config sizes the Bus's Bloom filter and internal queue.
type Config struct {
	BloomCapacity     uint64
	BloomFalsePosRate float64
	QueueDepth        int
}

// DefaultConfig sizes a Bloom filter for at least 10^7 items at a 0.1%
// false positive rate.
func DefaultConfig() Config {
	return Config{BloomCapacity: 10_000_000, BloomFalsePosRate: 0.001, QueueDepth: 4096}
}

type publishJob struct {
	evt event.Event
}

// Bus is the single-process actor holding the Bloom-filter dedup set, the
// per-type subscriber registry, and the serial dispatch loop.
type Bus struct {
	log logging.Logger
	clk *clock.Clock

	publishMu sync.Mutex
	queue     chan publishJob

	subMu       sync.RWMutex
	subscribers map[event.Type][]Subscriber
	wildcard    []Subscriber

	seen *bloomFilter

	droppedDup  metrics.Counter
	published   metrics.Counter

	closeOnce sync.Once
	done      chan struct{}
}

// New constructs a Bus bound to clk and starts its dispatch loop. Call
// Close to stop the loop.
func New(clk *clock.Clock, log logging.Logger, cfg Config) *Bus {
	if log == nil {
		log = logging.NewNop()
	}
	b := &Bus{
		log:         logging.Named(log, "bus"),
		clk:         clk,
		queue:       make(chan publishJob, cfg.QueueDepth),
		subscribers: make(map[event.Type][]Subscriber),
		seen:        newBloomFilter(cfg.BloomCapacity, cfg.BloomFalsePosRate),
		droppedDup:  metrics.NewCounter(),
		published:   metrics.NewCounter(),
		done:        make(chan struct{}),
	}
	go b.dispatchLoop()
	return b
}

// Subscribe registers fn for every event of type t.
func (b *Bus) Subscribe(t event.Type, fn Subscriber) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.subscribers[t] = append(b.subscribers[t], fn)
}

// SubscribeAll registers fn as a wildcard subscriber, invoked for every
// event regardless of type (used by the History collector and the gossip
// outbox).
func (b *Bus) SubscribeAll(fn Subscriber) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.wildcard = append(b.wildcard, fn)
}

// Publish assigns a fresh HLC timestamp to data and enqueues it for
// sequenced delivery. The tick-then-enqueue sequence is atomic under
// publishMu, so concurrent publishers still observe dispatch order equal
// to HLC order — this mutex-protected critical section *is* the
// Sequencer.
func (b *Bus) Publish(ctx context.Context, data event.Data) (event.Event, error) {
	evt, err := event.NewEvent(data)
	if err != nil {
		return event.Event{}, fmt.Errorf("construct event: %w", err)
	}

	b.publishMu.Lock()
	evt.TS = b.clk.Tick()
	job := publishJob{evt: evt}
	select {
	case b.queue <- job:
	case <-ctx.Done():
		b.publishMu.Unlock()
		return event.Event{}, ctx.Err()
	}
	b.publishMu.Unlock()

	return evt, nil
}

// PublishFromRemote ingests an event already timestamped by its
// originating node: the local clock is merged past ts via hlc.Receive
// before the event is re-published locally, but the event keeps its own
// timestamp rather than receiving a fresh local one.
func (b *Bus) PublishFromRemote(ctx context.Context, data event.Data, ts clock.Timestamp) (event.Event, error) {
	evt, err := event.NewEvent(data)
	if err != nil {
		return event.Event{}, fmt.Errorf("construct remote event: %w", err)
	}
	evt.TS = ts

	b.publishMu.Lock()
	b.clk.Receive(ts)
	job := publishJob{evt: evt}
	select {
	case b.queue <- job:
	case <-ctx.Done():
		b.publishMu.Unlock()
		return event.Event{}, ctx.Err()
	}
	b.publishMu.Unlock()

	return evt, nil
}

func (b *Bus) dispatchLoop() {
	for {
		select {
		case job := <-b.queue:
			b.dispatch(job.evt)
		case <-b.done:
			return
		}
	}
}

func (b *Bus) dispatch(evt event.Event) {
	if b.seen.TestAndAdd(evt.ID[:]) {
		b.droppedDup.Inc()
		b.log.Debug("dropping duplicate event", zap.Stringer("id", evt.ID))
		return
	}
	b.published.Inc()

	b.subMu.RLock()
	subs := append([]Subscriber{}, b.subscribers[evt.Data.Type()]...)
	wild := append([]Subscriber{}, b.wildcard...)
	b.subMu.RUnlock()

	for _, fn := range wild {
		fn(evt)
	}
	for _, fn := range subs {
		fn(evt)
	}
}

// Close stops the dispatch loop. It does not drain the queue.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

// Stats exposes dedup counters for health/metrics endpoints.
func (b *Bus) Stats() (published, droppedDuplicates int64) {
	return b.published.Read(), b.droppedDup.Read()
}
