// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package clock implements the Hybrid Logical Clock used to stamp every
// event published on the bus. A single Clock instance is owned by one
// node and threaded into the bus; it is the sole source of Timestamp
// values on that node.
package clock

import (
	"fmt"
	"sync"
	"time"
)

// Timestamp is a 128-bit HLC stamp: physical microseconds, a logical tie
// breaker, and the originating node id. Timestamps compare lexicographically
// on (Physical, Logical, NodeID), which is a total order that respects
// causality between any two events connected by a publish/receive chain.
type Timestamp struct {
	Physical uint64
	Logical  uint64
	NodeID   uint64
}

// Less reports whether t happens strictly before other under the
// lexicographic (Physical, Logical, NodeID) order.
func (t Timestamp) Less(other Timestamp) bool {
	if t.Physical != other.Physical {
		return t.Physical < other.Physical
	}
	if t.Logical != other.Logical {
		return t.Logical < other.Logical
	}
	return t.NodeID < other.NodeID
}

// Compare returns -1, 0, or 1 as t is less than, equal to, or greater than
// other, matching the sort.Interface / slices.SortFunc convention.
func (t Timestamp) Compare(other Timestamp) int {
	switch {
	case t.Less(other):
		return -1
	case other.Less(t):
		return 1
	default:
		return 0
	}
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%d@%d", t.Physical, t.Logical, t.NodeID)
}

// NowMicros is overridable in tests; it must be strictly monotonic-ish wall
// time in microseconds.
var NowMicros = func() uint64 {
	return uint64(time.Now().UnixMicro())
}

// Clock is a Hybrid Logical Clock. The zero value is not usable; use New.
type Clock struct {
	mu       sync.Mutex
	physical uint64
	logical  uint64
	nodeID   uint64
}

// New returns a Clock for the given node id, initialized to the current
// wall clock.
func New(nodeID uint64) *Clock {
	return &Clock{physical: NowMicros(), nodeID: nodeID}
}

// Tick is called on emit: it advances the clock and returns a fresh,
// strictly-monotonic Timestamp.
func (c *Clock) Tick() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := NowMicros()
	if now > c.physical {
		c.physical = now
		c.logical = 0
	} else {
		c.logical++
	}
	return Timestamp{Physical: c.physical, Logical: c.logical, NodeID: c.nodeID}
}

// Receive is called before ingesting a remote event: it merges the local
// clock with the incoming timestamp so that the local clock is advanced
// past it, without altering the event's own (already-assigned) timestamp.
func (c *Clock) Receive(remote Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := NowMicros()
	m := c.physical
	if remote.Physical > m {
		m = remote.Physical
	}
	if now > m {
		m = now
	}

	switch {
	case m == c.physical && m == remote.Physical:
		c.logical = max(c.logical, remote.Logical) + 1
	case m == c.physical:
		c.logical++
	case m == remote.Physical:
		c.logical = remote.Logical + 1
	default:
		c.logical = 0
	}
	c.physical = m
}

// Snapshot returns the clock's current timestamp without advancing it;
// used for diagnostics only.
func (c *Clock) Snapshot() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Timestamp{Physical: c.physical, Logical: c.logical, NodeID: c.nodeID}
}
