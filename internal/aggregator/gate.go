// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package aggregator implements the two per-E3 finite state machines:
// PublicKeyAggregator collects KeyshareCreated into an aggregate public
// key, ThresholdPlaintextAggregator collects DecryptionshareCreated into
// a plaintext. Both share the same Collecting -> Computing -> Complete
// shape and the same query-Sortition-before-accepting-a-share gate below.
package aggregator

import (
	"context"

	"github.com/enclave-network/ciphernode-core/internal/bus"
	"github.com/enclave-network/ciphernode-core/pkg/event"
)

// Publisher is the subset of bus.Bus an aggregator needs.
type Publisher interface {
	Publish(ctx context.Context, data event.Data) (event.Event, error)
}

// State is a step in the Collecting -> Computing -> Complete FSM common to
// both aggregators.
type State string

const (
	StateCollecting State = "collecting"
	StateComputing  State = "computing"
	StateComplete   State = "complete"
)

// membershipGate asks Sortition whether the sender is in the finalized
// committee before a share-bearing event is accepted. It is never
// accepted directly: it is held under the sending node's address until
// Sortition's E3CommitteeContainsResponse confirms or denies membership,
// the same EventBuffer-backed "hold until the answer is known" pattern
// the router uses for the same reason.
type membershipGate struct {
	bus     Publisher
	pending *bus.EventBuffer
}

func newMembershipGate(pub Publisher) *membershipGate {
	return &membershipGate{bus: pub, pending: bus.NewEventBuffer()}
}

// ask holds original under node and publishes the synchronous query.
func (g *membershipGate) ask(ctx context.Context, e3 event.E3ID, node string, original event.Data) {
	g.pending.Hold(node, event.Event{Data: original})
	_, _ = g.bus.Publish(ctx, event.E3CommitteeContainsRequest{E3: e3, Node: node, Original: original})
}

// resolve drains every event held for resp.Node and reports whether they
// are now cleared to be applied.
func (g *membershipGate) resolve(resp event.E3CommitteeContainsResponse) (held []event.Data, partyID uint64, isMember bool) {
	for _, evt := range g.pending.Drain(resp.Node) {
		held = append(held, evt.Data)
	}
	return held, resp.PartyID, resp.IsMember
}
