// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package keyshare implements the per-E3-per-node Keyshare Actor: it
// reacts to this node's own CiphernodeSelected by generating its
// public-key share and secret-share, broadcasts them, waits for enough
// peer shares to assemble a decryption key, and then answers
// CiphertextOutputPublished with its own decryption share. It terminates
// on E3RequestComplete.
package keyshare

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/enclave-network/ciphernode-core/internal/crypt"
	"github.com/enclave-network/ciphernode-core/internal/logging"
	"github.com/enclave-network/ciphernode-core/internal/store"
	"github.com/enclave-network/ciphernode-core/internal/trbfv"
	"github.com/enclave-network/ciphernode-core/pkg/event"
	"go.uber.org/zap"
)

// Status is a step in the Keyshare Actor's lifecycle.
type Status string

const (
	StatusAwaitingSelection Status = "awaiting-selection"
	StatusGenerating        Status = "generating"
	StatusCollectingShares  Status = "collecting-shares"
	StatusReady             Status = "ready"
	StatusTerminated        Status = "terminated"
)

// keyState is Keyshare's persisted snapshot.
type keyState struct {
	Status      Status                          `json:"status"`
	PartyID     uint64                          `json:"partyId"`
	ThresholdN  uint32                          `json:"thresholdN"`
	ThresholdM  uint32                          `json:"thresholdM"`
	Params      event.ArcBytes                  `json:"params"`
	PkShare     event.ArcBytes                  `json:"pkShare,omitempty"`
	SkSSS       event.SensitiveBytes            `json:"skSss,omitempty"`
	EsiSSS      []event.SensitiveBytes          `json:"esiSss,omitempty"`
	SkSSSByParty  map[uint64]event.SensitiveBytes   `json:"skSssByParty"`
	EsiSSSByParty map[uint64][]event.SensitiveBytes `json:"esiSssByParty"`
	SkPolySum   event.SensitiveBytes            `json:"skPolySum,omitempty"`
	EsPolySum   event.SensitiveBytes            `json:"esPolySum,omitempty"`
}

func newKeyState() keyState {
	return keyState{
		Status:        StatusAwaitingSelection,
		SkSSSByParty:  map[uint64]event.SensitiveBytes{},
		EsiSSSByParty: map[uint64][]event.SensitiveBytes{},
	}
}

// Publisher is the subset of bus.Bus the keyshare actor needs.
type Publisher interface {
	Publish(ctx context.Context, data event.Data) (event.Event, error)
}

// Keyshare is the bus subscriber implementing one node's participation in
// one E3's threshold keygen and decryption.
type Keyshare struct {
	log     logging.Logger
	bus     Publisher
	e3      event.E3ID
	node    string
	state   *store.Persistable[keyState]
}

// New returns a Keyshare actor for e3, reacting only to events addressed
// to node. If sealKey is non-nil, every snapshot of this actor's secret
// shares is sealed under it before it touches repo, so secret key
// material is never persisted in the clear; a nil sealKey keeps the
// default plaintext JSON codec, for tests and for
// callers that derive and seal at a higher layer instead.
func New(bus Publisher, repo *store.Repository, e3 event.E3ID, node string, sealKey *crypt.Key, log logging.Logger) *Keyshare {
	if log == nil {
		log = logging.NewNop()
	}
	state := store.NewPersistable(repo, newKeyState())
	if sealKey != nil {
		state = state.WithCodec(crypt.NewSealedJSONCodec[keyState](*sealKey))
	}
	return &Keyshare{
		log:   logging.Named(log, "keyshare"),
		bus:   bus,
		e3:    e3,
		node:  node,
		state: state,
	}
}

// Status reports the actor's current lifecycle step.
func (k *Keyshare) Status() Status { return k.state.Value().Status }

// Handle is the bus.Subscriber entry point for this E3's keyshare
// participation.
func (k *Keyshare) Handle(evt event.Event) {
	if k.Status() == StatusTerminated {
		return
	}
	ctx := context.Background()
	mutCtx := store.EventContext{EventID: evt.ID}

	switch d := evt.Data.(type) {
	case event.CiphernodeSelected:
		if d.E3 != k.e3 || d.Node != k.node || d.PartyID == nil {
			return
		}
		k.onSelected(ctx, mutCtx, d)

	case event.ComputeResponse:
		if d.E3 != k.e3 {
			return
		}
		switch d.Kind {
		case event.ComputeGenPkShareAndSkSSS:
			k.onPkShareComputed(ctx, mutCtx, d)
		case event.ComputeGenEsiSSS:
			k.onEsiShareComputed(ctx, mutCtx, d)
		case event.ComputeCalculateDecryptionKey:
			k.onDecryptionKeyComputed(ctx, mutCtx, d)
		case event.ComputeCalculateDecryptionShare:
			k.onDecryptionShareComputed(ctx, mutCtx, d)
		}

	case event.ComputeRequestError:
		if d.E3 != k.e3 {
			return
		}
		k.log.Error("keyshare compute request failed", zap.String("kind", string(d.Kind)), zap.String("reason", d.Reason))

	case event.ThresholdShareCreated:
		if d.E3 != k.e3 {
			return
		}
		k.onPeerThresholdShare(ctx, mutCtx, d)

	case event.CiphertextOutputPublished:
		if d.E3 != k.e3 {
			return
		}
		k.onCiphertextPublished(ctx, d)

	case event.E3RequestComplete:
		if d.E3 != k.e3 {
			return
		}
		_, err := k.state.TryMutate(mutCtx, func(old keyState) (keyState, error) {
			old.Status = StatusTerminated
			return old, nil
		})
		if err != nil {
			k.log.Error("terminate keyshare actor", zap.Error(err))
		}
	}
}

// onSelected issues the two compute requests that produce this node's
// public-key share and secret-share-of-secret-share. The CRP every party
// derives gen_pk_share_and_sk_sss from is the chain-drawn seed itself: a
// deterministic, chain-agreed common reference any node can recompute
// without a prior round trip.
func (k *Keyshare) onSelected(ctx context.Context, mutCtx store.EventContext, sel event.CiphernodeSelected) {
	next, err := k.state.TryMutate(mutCtx, func(old keyState) (keyState, error) {
		if old.Status != StatusAwaitingSelection {
			return old, nil
		}
		old.Status = StatusGenerating
		old.PartyID = *sel.PartyID
		old.ThresholdN = sel.ThresholdN
		old.ThresholdM = sel.ThresholdM
		old.Params = sel.Params
		return old, nil
	})
	if err != nil {
		k.log.Error("record selection", zap.Error(err))
		return
	}
	if next.Status != StatusGenerating {
		return // already selected once; CiphernodeSelected is not expected twice for the same node
	}

	pkParams, err := json.Marshal(struct {
		CRP event.ArcBytes `json:"crp"`
	}{CRP: event.ArcBytes(sel.Seed[:])})
	if err != nil {
		k.log.Error("marshal gen_pk_share params", zap.Error(err))
		return
	}
	if _, err := k.bus.Publish(ctx, event.ComputeRequest{
		E3:     k.e3,
		Kind:   event.ComputeGenPkShareAndSkSSS,
		Params: pkParams,
	}); err != nil {
		k.log.Error("publish gen_pk_share compute request", zap.Error(err))
	}

	esiParams, err := json.Marshal(struct {
		ErrorSize uint64 `json:"errorSize"`
		EsiPerCt  uint32 `json:"esiPerCt"`
	}{ErrorSize: sel.ErrorSize, EsiPerCt: sel.EsiPerCt})
	if err != nil {
		k.log.Error("marshal gen_esi_sss params", zap.Error(err))
		return
	}
	if _, err := k.bus.Publish(ctx, event.ComputeRequest{
		E3:     k.e3,
		Kind:   event.ComputeGenEsiSSS,
		Params: esiParams,
	}); err != nil {
		k.log.Error("publish gen_esi_sss compute request", zap.Error(err))
	}
}

func (k *Keyshare) onPkShareComputed(ctx context.Context, mutCtx store.EventContext, resp event.ComputeResponse) {
	var out trbfv.GenPkShareAndSkSSSResponse
	if err := json.Unmarshal(resp.Payload, &out); err != nil {
		k.log.Error("decode gen_pk_share response", zap.Error(err))
		return
	}
	next, err := k.state.TryMutate(mutCtx, func(old keyState) (keyState, error) {
		old.PkShare = out.PkShare
		old.SkSSS = out.SkSSS
		return old, nil
	})
	if err != nil {
		k.log.Error("record pk share", zap.Error(err))
		return
	}

	if _, err := k.bus.Publish(ctx, event.KeyshareCreated{
		E3:      k.e3,
		Node:    k.node,
		PartyID: next.PartyID,
		PkShare: next.PkShare,
	}); err != nil {
		k.log.Error("publish keyshare created", zap.Error(err))
	}
	k.maybeBroadcastThresholdShare(ctx, mutCtx, next)
}

func (k *Keyshare) onEsiShareComputed(ctx context.Context, mutCtx store.EventContext, resp event.ComputeResponse) {
	var out trbfv.GenEsiSSSResponse
	if err := json.Unmarshal(resp.Payload, &out); err != nil {
		k.log.Error("decode gen_esi_sss response", zap.Error(err))
		return
	}
	next, err := k.state.TryMutate(mutCtx, func(old keyState) (keyState, error) {
		old.EsiSSS = out.EsiSSS
		return old, nil
	})
	if err != nil {
		k.log.Error("record esi share", zap.Error(err))
		return
	}
	k.maybeBroadcastThresholdShare(ctx, mutCtx, next)
}

// maybeBroadcastThresholdShare emits ThresholdShareCreated once both of
// this node's own compute responses (pk/sk share and esi share) have
// landed. PVW per-recipient re-encryption of the secret payload under
// each recipient's own PVW public key is not implemented here: no PVW
// library is available to this module (see DESIGN.md), so the
// SensitiveBytes payload travels sealed only by the transport's own
// encryption, same as every other SensitiveBytes value on the bus.
func (k *Keyshare) maybeBroadcastThresholdShare(ctx context.Context, mutCtx store.EventContext, snapshot keyState) {
	if snapshot.SkSSS == nil || snapshot.EsiSSS == nil {
		return
	}
	if _, err := k.bus.Publish(ctx, event.ThresholdShareCreated{
		E3:      k.e3,
		PartyID: snapshot.PartyID,
		SkSSS:   snapshot.SkSSS,
		EsiSSS:  snapshot.EsiSSS,
	}); err != nil {
		k.log.Error("publish threshold share created", zap.Error(err))
	}
}

func (k *Keyshare) onPeerThresholdShare(ctx context.Context, mutCtx store.EventContext, d event.ThresholdShareCreated) {
	next, err := k.state.TryMutate(mutCtx, func(old keyState) (keyState, error) {
		if old.Status != StatusGenerating && old.Status != StatusCollectingShares {
			return old, nil
		}
		if old.Status == StatusGenerating {
			old.Status = StatusCollectingShares
		}
		if _, exists := old.SkSSSByParty[d.PartyID]; exists {
			return old, nil
		}
		old.SkSSSByParty[d.PartyID] = d.SkSSS
		old.EsiSSSByParty[d.PartyID] = d.EsiSSS
		return old, nil
	})
	if err != nil {
		k.log.Error("record peer threshold share", zap.Error(err))
		return
	}
	if next.Status != StatusCollectingShares || uint32(len(next.SkSSSByParty)) < next.ThresholdM {
		return
	}
	k.startDecryptionKeyComputation(ctx, mutCtx, next)
}

func (k *Keyshare) startDecryptionKeyComputation(ctx context.Context, mutCtx store.EventContext, snapshot keyState) {
	partyIDs := make([]uint64, 0, len(snapshot.SkSSSByParty))
	for id := range snapshot.SkSSSByParty {
		partyIDs = append(partyIDs, id)
	}
	sort.Slice(partyIDs, func(i, j int) bool { return partyIDs[i] < partyIDs[j] })

	skCollected := make([]event.SensitiveBytes, 0, len(partyIDs))
	esiCollected := make([]event.SensitiveBytes, 0, len(partyIDs))
	for _, id := range partyIDs {
		skCollected = append(skCollected, snapshot.SkSSSByParty[id])
		esiCollected = append(esiCollected, snapshot.EsiSSSByParty[id]...)
	}

	params, err := json.Marshal(struct {
		SkSSSCollected  []event.SensitiveBytes `json:"skSssCollected"`
		EsiSSSCollected []event.SensitiveBytes `json:"esiSssCollected"`
	}{SkSSSCollected: skCollected, EsiSSSCollected: esiCollected})
	if err != nil {
		k.log.Error("marshal calculate_decryption_key params", zap.Error(err))
		return
	}
	if _, err := k.bus.Publish(ctx, event.ComputeRequest{
		E3:     k.e3,
		Kind:   event.ComputeCalculateDecryptionKey,
		Params: params,
	}); err != nil {
		k.log.Error("publish calculate_decryption_key request", zap.Error(err))
	}
}

func (k *Keyshare) onDecryptionKeyComputed(ctx context.Context, mutCtx store.EventContext, resp event.ComputeResponse) {
	var out trbfv.CalculateDecryptionKeyResponse
	if err := json.Unmarshal(resp.Payload, &out); err != nil {
		k.log.Error("decode calculate_decryption_key response", zap.Error(err))
		return
	}
	if _, err := k.state.TryMutate(mutCtx, func(old keyState) (keyState, error) {
		old.SkPolySum = out.SkPolySum
		old.EsPolySum = out.EsPolySum
		old.Status = StatusReady
		return old, nil
	}); err != nil {
		k.log.Error("record decryption key", zap.Error(err))
	}
}

func (k *Keyshare) onCiphertextPublished(ctx context.Context, d event.CiphertextOutputPublished) {
	snapshot := k.state.Value()
	if snapshot.Status != StatusReady {
		k.log.Warn("ciphertext published before decryption key was ready", zap.String("status", string(snapshot.Status)))
		return
	}
	params, err := json.Marshal(struct {
		SkPolySum   event.SensitiveBytes `json:"skPolySum"`
		EsPolySum   event.SensitiveBytes `json:"esPolySum"`
		Ciphertexts []event.ArcBytes     `json:"ciphertexts"`
	}{SkPolySum: snapshot.SkPolySum, EsPolySum: snapshot.EsPolySum, Ciphertexts: d.CiphertextOutput})
	if err != nil {
		k.log.Error("marshal calculate_decryption_share params", zap.Error(err))
		return
	}
	if _, err := k.bus.Publish(ctx, event.ComputeRequest{
		E3:     k.e3,
		Kind:   event.ComputeCalculateDecryptionShare,
		Params: params,
	}); err != nil {
		k.log.Error("publish calculate_decryption_share request", zap.Error(err))
	}
}

func (k *Keyshare) onDecryptionShareComputed(ctx context.Context, mutCtx store.EventContext, resp event.ComputeResponse) {
	var out trbfv.CalculateDecryptionShareResponse
	if err := json.Unmarshal(resp.Payload, &out); err != nil {
		k.log.Error("decode calculate_decryption_share response", zap.Error(err))
		return
	}
	snapshot := k.state.Value()
	if _, err := k.bus.Publish(ctx, event.DecryptionshareCreated{
		E3:      k.e3,
		Node:    k.node,
		PartyID: snapshot.PartyID,
		Share:   out.DSharePoly,
	}); err != nil {
		k.log.Error("publish decryptionshare created", zap.Error(err))
	}
}
