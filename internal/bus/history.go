// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bus

import (
	"context"
	"sync"

	"github.com/enclave-network/ciphernode-core/pkg/event"
)

// History is a wildcard "history collector" subscriber: it captures every
// event for test/inspection and supports a "take first N" future that
// fulfills once that many events have been observed, giving deterministic
// test drivers a way to await an exact event count instead of sleeping.
type History struct {
	mu       sync.Mutex
	events   []event.Event
	waiters  []historyWaiter
}

type historyWaiter struct {
	n  int
	ch chan []event.Event
}

// NewHistory returns an empty History collector.
func NewHistory() *History {
	return &History{}
}

// Observe is the subscriber function to register on the bus's wildcard
// subscription list.
func (h *History) Observe(evt event.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, evt)

	remaining := h.waiters[:0]
	for _, w := range h.waiters {
		if len(h.events) >= w.n {
			snapshot := make([]event.Event, w.n)
			copy(snapshot, h.events[:w.n])
			w.ch <- snapshot
			close(w.ch)
		} else {
			remaining = append(remaining, w)
		}
	}
	h.waiters = remaining
}

// All returns a snapshot of every event observed so far.
func (h *History) All() []event.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]event.Event, len(h.events))
	copy(out, h.events)
	return out
}

// TakeFirstN blocks (respecting ctx) until at least n events have been
// observed, then returns the first n in arrival order.
func (h *History) TakeFirstN(ctx context.Context, n int) ([]event.Event, error) {
	h.mu.Lock()
	if len(h.events) >= n {
		snapshot := make([]event.Event, n)
		copy(snapshot, h.events[:n])
		h.mu.Unlock()
		return snapshot, nil
	}
	ch := make(chan []event.Event, 1)
	h.waiters = append(h.waiters, historyWaiter{n: n, ch: ch})
	h.mu.Unlock()

	select {
	case evts := <-ch:
		return evts, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
