// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bus

import (
	"sync"

	"github.com/enclave-network/ciphernode-core/pkg/event"
)

// EventBuffer holds events addressed to a named target (a subscriber or,
// inside the router, a not-yet-populated E3Context entry) that arrived
// before the target existed. It drains in arrival order once the target
// registers.
type EventBuffer struct {
	mu      sync.Mutex
	pending map[string][]event.Event
}

// NewEventBuffer returns an empty EventBuffer.
func NewEventBuffer() *EventBuffer {
	return &EventBuffer{pending: make(map[string][]event.Event)}
}

// Hold appends evt to target's pending queue.
func (b *EventBuffer) Hold(target string, evt event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[target] = append(b.pending[target], evt)
}

// Drain removes and returns every event held for target, in arrival order.
func (b *EventBuffer) Drain(target string) []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	evts := b.pending[target]
	delete(b.pending, target)
	return evts
}
