// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package aggregator

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/enclave-network/ciphernode-core/internal/logging"
	"github.com/enclave-network/ciphernode-core/internal/store"
	"github.com/enclave-network/ciphernode-core/internal/trbfv"
	"github.com/enclave-network/ciphernode-core/pkg/event"
	"go.uber.org/zap"
)

// pkState is PublicKeyAggregator's persisted snapshot.
type pkState struct {
	Status    State                      `json:"status"`
	Shares    map[uint64]event.ArcBytes  `json:"shares"`
	PublicKey event.ArcBytes             `json:"publicKey,omitempty"`
}

func newPkState() pkState {
	return pkState{Status: StateCollecting, Shares: map[uint64]event.ArcBytes{}}
}

// PublicKeyAggregator collects KeyshareCreated events addressed to one E3
// into an aggregate public key.
type PublicKeyAggregator struct {
	log       logging.Logger
	bus       Publisher
	e3        event.E3ID
	committee []string
	required  int
	state     *store.Persistable[pkState]
	gate      *membershipGate
}

// NewPublicKeyAggregator returns a PublicKeyAggregator for e3, transitioning
// Collecting -> Computing once required shares are collected.
func NewPublicKeyAggregator(bus Publisher, repo *store.Repository, e3 event.E3ID, committee []string, required int, log logging.Logger) *PublicKeyAggregator {
	if log == nil {
		log = logging.NewNop()
	}
	return &PublicKeyAggregator{
		log:       logging.Named(log, "pubkey-aggregator"),
		bus:       bus,
		e3:        e3,
		committee: committee,
		required:  required,
		state:     store.NewPersistable(repo, newPkState()),
		gate:      newMembershipGate(bus),
	}
}

// Status reports the aggregator's current FSM state.
func (a *PublicKeyAggregator) Status() State { return a.state.Value().Status }

// Handle is the bus.Subscriber entry point for this E3's public key
// aggregation.
func (a *PublicKeyAggregator) Handle(evt event.Event) {
	ctx := context.Background()

	switch d := evt.Data.(type) {
	case event.KeyshareCreated:
		if d.E3 != a.e3 {
			return
		}
		a.gate.ask(ctx, a.e3, d.Node, d)

	case event.E3CommitteeContainsResponse:
		if d.E3 != a.e3 {
			return
		}
		held, partyID, isMember := a.gate.resolve(d)
		for _, data := range held {
			ks, ok := data.(event.KeyshareCreated)
			if !ok {
				continue
			}
			if !isMember {
				a.log.Warn("dropping keyshare from non-committee node", zap.String("node", d.Node))
				continue
			}
			a.acceptShare(ctx, evt.ID, partyID, ks.PkShare)
		}

	case event.ComputeResponse:
		if d.E3 != a.e3 || d.Kind != event.ComputeAggregatePublicKey {
			return
		}
		a.onAggregateComputed(ctx, evt.ID, d)

	case event.ComputeRequestError:
		if d.E3 != a.e3 || d.Kind != event.ComputeAggregatePublicKey {
			return
		}
		a.log.Error("aggregate public key computation failed, staying in Computing", zap.String("reason", d.Reason))
	}
}

func (a *PublicKeyAggregator) acceptShare(ctx context.Context, causeID event.ID, partyID uint64, share event.ArcBytes) {
	next, err := a.state.TryMutate(store.EventContext{EventID: causeID}, func(old pkState) (pkState, error) {
		if old.Status != StateCollecting {
			return old, nil
		}
		if _, exists := old.Shares[partyID]; exists {
			return old, nil
		}
		old.Shares[partyID] = share
		return old, nil
	})
	if err != nil {
		a.log.Error("accept public key share", zap.Error(err))
		return
	}
	if next.Status != StateCollecting || len(next.Shares) < a.required {
		return
	}
	a.startComputing(ctx, causeID, next)
}

func (a *PublicKeyAggregator) startComputing(ctx context.Context, causeID event.ID, snapshot pkState) {
	_, err := a.state.TryMutate(store.EventContext{EventID: causeID}, func(old pkState) (pkState, error) {
		old.Status = StateComputing
		return old, nil
	})
	if err != nil {
		a.log.Error("transition to computing", zap.Error(err))
		return
	}

	partyIDs := make([]uint64, 0, len(snapshot.Shares))
	for id := range snapshot.Shares {
		partyIDs = append(partyIDs, id)
	}
	sort.Slice(partyIDs, func(i, j int) bool { return partyIDs[i] < partyIDs[j] })
	shares := make([]event.ArcBytes, 0, len(partyIDs))
	for _, id := range partyIDs {
		shares = append(shares, snapshot.Shares[id])
	}

	params, err := json.Marshal(struct {
		PkShares []event.ArcBytes `json:"pkShares"`
	}{PkShares: shares})
	if err != nil {
		a.log.Error("marshal aggregate public key params", zap.Error(err))
		return
	}

	if _, err := a.bus.Publish(ctx, event.ComputeRequest{
		E3:   a.e3,
		Kind: event.ComputeAggregatePublicKey,
		Params: params,
	}); err != nil {
		a.log.Error("publish aggregate public key compute request", zap.Error(err))
	}
}

func (a *PublicKeyAggregator) onAggregateComputed(ctx context.Context, causeID event.ID, resp event.ComputeResponse) {
	var out trbfv.AggregatePublicKeyResponse
	if err := json.Unmarshal(resp.Payload, &out); err != nil {
		a.log.Error("decode aggregate public key response", zap.Error(err))
		return
	}

	if _, err := a.state.TryMutate(store.EventContext{EventID: causeID}, func(old pkState) (pkState, error) {
		if old.Status != StateComputing {
			return old, nil
		}
		old.Status = StateComplete
		old.PublicKey = out.PublicKey
		return old, nil
	}); err != nil {
		a.log.Error("complete public key aggregation", zap.Error(err))
		return
	}

	if _, err := a.bus.Publish(ctx, event.PublicKeyAggregated{
		E3:        a.e3,
		PublicKey: out.PublicKey,
		Committee: a.committee,
	}); err != nil {
		a.log.Error("publish public key aggregated", zap.Error(err))
	}
}
