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

// plaintextState is ThresholdPlaintextAggregator's persisted snapshot.
type plaintextState struct {
	Status      State                     `json:"status"`
	Shares      map[uint64]event.ArcBytes `json:"shares"`
	Ciphertexts []event.ArcBytes          `json:"ciphertexts,omitempty"`
	Plaintext   event.ArcBytes            `json:"plaintext,omitempty"`
}

func newPlaintextState(ciphertexts []event.ArcBytes) plaintextState {
	return plaintextState{Status: StateCollecting, Shares: map[uint64]event.ArcBytes{}, Ciphertexts: ciphertexts}
}

// ThresholdPlaintextAggregator collects DecryptionshareCreated events
// addressed to one E3 into a plaintext, the mirror image of
// PublicKeyAggregator.
type ThresholdPlaintextAggregator struct {
	log      logging.Logger
	bus      Publisher
	e3       event.E3ID
	required int
	state    *store.Persistable[plaintextState]
	gate     *membershipGate
}

// NewThresholdPlaintextAggregator returns an aggregator for e3,
// transitioning Collecting -> Computing once required shares are
// collected. ciphertexts may be nil if the CiphertextOutputPublished event
// that carries them has not arrived yet — the router constructs it that
// way, since CommitteeFinalized precedes CiphertextOutputPublished in the
// event order; see onCiphertextOutputPublished.
func NewThresholdPlaintextAggregator(bus Publisher, repo *store.Repository, e3 event.E3ID, ciphertexts []event.ArcBytes, required int, log logging.Logger) *ThresholdPlaintextAggregator {
	if log == nil {
		log = logging.NewNop()
	}
	return &ThresholdPlaintextAggregator{
		log:      logging.Named(log, "plaintext-aggregator"),
		bus:      bus,
		e3:       e3,
		required: required,
		state:    store.NewPersistable(repo, newPlaintextState(ciphertexts)),
		gate:     newMembershipGate(bus),
	}
}

// Status reports the aggregator's current FSM state.
func (a *ThresholdPlaintextAggregator) Status() State { return a.state.Value().Status }

// Handle is the bus.Subscriber entry point for this E3's plaintext
// aggregation.
func (a *ThresholdPlaintextAggregator) Handle(evt event.Event) {
	ctx := context.Background()

	switch d := evt.Data.(type) {
	case event.CiphertextOutputPublished:
		if d.E3 != a.e3 {
			return
		}
		a.onCiphertextOutputPublished(ctx, evt.ID, d)

	case event.DecryptionshareCreated:
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
			ds, ok := data.(event.DecryptionshareCreated)
			if !ok {
				continue
			}
			if !isMember {
				a.log.Warn("dropping decryption share from non-committee node", zap.String("node", d.Node))
				continue
			}
			a.acceptShare(ctx, evt.ID, partyID, ds.Share)
		}

	case event.ComputeResponse:
		if d.E3 != a.e3 || d.Kind != event.ComputeCalculateThresholdDecrypt {
			return
		}
		a.onPlaintextComputed(ctx, evt.ID, d)

	case event.ComputeRequestError:
		if d.E3 != a.e3 || d.Kind != event.ComputeCalculateThresholdDecrypt {
			return
		}
		a.log.Error("threshold decryption failed, staying in Computing", zap.String("reason", d.Reason))
	}
}

func (a *ThresholdPlaintextAggregator) acceptShare(ctx context.Context, causeID event.ID, partyID uint64, share event.ArcBytes) {
	next, err := a.state.TryMutate(store.EventContext{EventID: causeID}, func(old plaintextState) (plaintextState, error) {
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
		a.log.Error("accept decryption share", zap.Error(err))
		return
	}
	a.maybeStartComputing(ctx, causeID, next)
}

// onCiphertextOutputPublished records the ciphertext payload this E3's
// threshold decryption needs. It arrives independently of and in no fixed
// order relative to the decryption shares themselves, so it can be the
// event that finally unblocks a computation that was already at threshold.
func (a *ThresholdPlaintextAggregator) onCiphertextOutputPublished(ctx context.Context, causeID event.ID, d event.CiphertextOutputPublished) {
	next, err := a.state.TryMutate(store.EventContext{EventID: causeID}, func(old plaintextState) (plaintextState, error) {
		if old.Ciphertexts != nil {
			return old, nil
		}
		old.Ciphertexts = d.CiphertextOutput
		return old, nil
	})
	if err != nil {
		a.log.Error("record ciphertext output", zap.Error(err))
		return
	}
	a.maybeStartComputing(ctx, causeID, next)
}

func (a *ThresholdPlaintextAggregator) maybeStartComputing(ctx context.Context, causeID event.ID, snapshot plaintextState) {
	if snapshot.Status != StateCollecting || len(snapshot.Shares) < a.required || snapshot.Ciphertexts == nil {
		return
	}
	a.startComputing(ctx, causeID, snapshot)
}

func (a *ThresholdPlaintextAggregator) startComputing(ctx context.Context, causeID event.ID, snapshot plaintextState) {
	_, err := a.state.TryMutate(store.EventContext{EventID: causeID}, func(old plaintextState) (plaintextState, error) {
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
		Ciphertexts []event.ArcBytes `json:"ciphertexts"`
		DSharePolys []event.ArcBytes `json:"dSharePolys"`
	}{Ciphertexts: snapshot.Ciphertexts, DSharePolys: shares})
	if err != nil {
		a.log.Error("marshal threshold decryption params", zap.Error(err))
		return
	}

	if _, err := a.bus.Publish(ctx, event.ComputeRequest{
		E3:     a.e3,
		Kind:   event.ComputeCalculateThresholdDecrypt,
		Params: params,
	}); err != nil {
		a.log.Error("publish threshold decryption compute request", zap.Error(err))
	}
}

func (a *ThresholdPlaintextAggregator) onPlaintextComputed(ctx context.Context, causeID event.ID, resp event.ComputeResponse) {
	var out trbfv.CalculateThresholdDecryptionResponse
	if err := json.Unmarshal(resp.Payload, &out); err != nil {
		a.log.Error("decode threshold decryption response", zap.Error(err))
		return
	}

	if _, err := a.state.TryMutate(store.EventContext{EventID: causeID}, func(old plaintextState) (plaintextState, error) {
		if old.Status != StateComputing {
			return old, nil
		}
		old.Status = StateComplete
		old.Plaintext = out.Plaintext
		return old, nil
	}); err != nil {
		a.log.Error("complete plaintext aggregation", zap.Error(err))
		return
	}

	if _, err := a.bus.Publish(ctx, event.PlaintextAggregated{
		E3:              a.e3,
		DecryptedOutput: out.Plaintext,
	}); err != nil {
		a.log.Error("publish plaintext aggregated", zap.Error(err))
	}
}
