// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package keyshare

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/enclave-network/ciphernode-core/internal/crypt"
	"github.com/enclave-network/ciphernode-core/internal/store"
	"github.com/enclave-network/ciphernode-core/internal/trbfv"
	"github.com/enclave-network/ciphernode-core/pkg/event"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	mu        sync.Mutex
	published []event.Data
	ch        chan event.Data
}

func newFakeBus() *fakeBus {
	return &fakeBus{ch: make(chan event.Data, 64)}
}

func (f *fakeBus) Publish(_ context.Context, data event.Data) (event.Event, error) {
	f.mu.Lock()
	f.published = append(f.published, data)
	f.mu.Unlock()
	f.ch <- data
	return event.Event{Data: data}, nil
}

func (f *fakeBus) next(t *testing.T) event.Data {
	t.Helper()
	select {
	case d := <-f.ch:
		return d
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a published event")
		return nil
	}
}

func testRepo() *store.Repository {
	return store.NewRepository(newMemDatabase(), "keyshare")
}

func partyID(n uint64) *uint64 { return &n }

func TestOnSelectedIssuesGenPkShareAndGenEsiRequests(t *testing.T) {
	bus := newFakeBus()
	e3 := event.E3ID{ChainID: 1, ID: "e3-selected"}
	k := New(bus, testRepo(), e3, "node-a", nil, nil)

	k.Handle(event.Event{Data: event.CiphernodeSelected{
		E3: e3, Node: "node-a", PartyID: partyID(2),
		ThresholdN: 3, ThresholdM: 2, EsiPerCt: 3, ErrorSize: 7,
	}})

	pkReq := bus.next(t).(event.ComputeRequest)
	require.Equal(t, event.ComputeGenPkShareAndSkSSS, pkReq.Kind)

	esiReq := bus.next(t).(event.ComputeRequest)
	require.Equal(t, event.ComputeGenEsiSSS, esiReq.Kind)
	var esiParams struct {
		ErrorSize uint64 `json:"errorSize"`
		EsiPerCt  uint32 `json:"esiPerCt"`
	}
	require.NoError(t, json.Unmarshal(esiReq.Params, &esiParams))
	require.Equal(t, uint64(7), esiParams.ErrorSize)
	require.Equal(t, uint32(3), esiParams.EsiPerCt)

	require.Equal(t, StatusGenerating, k.Status())
}

func TestEmitsKeyshareCreatedAndThresholdShareOnceBothResponsesLand(t *testing.T) {
	bus := newFakeBus()
	e3 := event.E3ID{ChainID: 1, ID: "e3-emit"}
	k := New(bus, testRepo(), e3, "node-a", nil, nil)

	k.Handle(event.Event{Data: event.CiphernodeSelected{E3: e3, Node: "node-a", PartyID: partyID(0), ThresholdM: 2}})
	_ = bus.next(t) // gen_pk_share request
	_ = bus.next(t) // gen_esi_sss request

	pkPayload, err := json.Marshal(trbfv.GenPkShareAndSkSSSResponse{
		PkShare: event.ArcBytes("pk-a"),
		SkSSS:   event.SensitiveBytes("sk-a"),
	})
	require.NoError(t, err)
	k.Handle(event.Event{Data: event.ComputeResponse{E3: e3, Kind: event.ComputeGenPkShareAndSkSSS, Payload: pkPayload}})

	created := bus.next(t).(event.KeyshareCreated)
	require.Equal(t, event.ArcBytes("pk-a"), created.PkShare)
	require.Equal(t, uint64(0), created.PartyID)

	// Neither response alone triggers ThresholdShareCreated.
	select {
	case <-bus.ch:
		t.Fatal("threshold share must wait for both compute responses")
	case <-time.After(50 * time.Millisecond):
	}

	esiPayload, err := json.Marshal(trbfv.GenEsiSSSResponse{EsiSSS: []event.SensitiveBytes{event.SensitiveBytes("esi-a")}})
	require.NoError(t, err)
	k.Handle(event.Event{Data: event.ComputeResponse{E3: e3, Kind: event.ComputeGenEsiSSS, Payload: esiPayload}})

	shared := bus.next(t).(event.ThresholdShareCreated)
	require.Equal(t, uint64(0), shared.PartyID)
	require.Equal(t, event.SensitiveBytes("sk-a"), shared.SkSSS)
	require.Equal(t, StatusGenerating, k.Status())
}

func TestCollectsPeerSharesAndIssuesCalculateDecryptionKeyAtThreshold(t *testing.T) {
	bus := newFakeBus()
	e3 := event.E3ID{ChainID: 1, ID: "e3-collect"}
	k := New(bus, testRepo(), e3, "node-a", nil, nil)

	k.Handle(event.Event{Data: event.CiphernodeSelected{E3: e3, Node: "node-a", PartyID: partyID(0), ThresholdM: 2}})
	_ = bus.next(t)
	_ = bus.next(t)

	pkPayload, _ := json.Marshal(trbfv.GenPkShareAndSkSSSResponse{PkShare: event.ArcBytes("pk-a"), SkSSS: event.SensitiveBytes("sk-a")})
	k.Handle(event.Event{Data: event.ComputeResponse{E3: e3, Kind: event.ComputeGenPkShareAndSkSSS, Payload: pkPayload}})
	_ = bus.next(t) // KeyshareCreated

	esiPayload, _ := json.Marshal(trbfv.GenEsiSSSResponse{EsiSSS: []event.SensitiveBytes{event.SensitiveBytes("esi-a")}})
	k.Handle(event.Event{Data: event.ComputeResponse{E3: e3, Kind: event.ComputeGenEsiSSS, Payload: esiPayload}})
	_ = bus.next(t) // ThresholdShareCreated (own)

	require.Equal(t, StatusGenerating, k.Status())

	// own share replayed back over the bus, as it would be for every node
	k.Handle(event.Event{Data: event.ThresholdShareCreated{E3: e3, PartyID: 0, SkSSS: event.SensitiveBytes("sk-a"), EsiSSS: []event.SensitiveBytes{event.SensitiveBytes("esi-a")}}})
	select {
	case <-bus.ch:
		t.Fatal("must not reach threshold on only one distinct party")
	case <-time.After(50 * time.Millisecond):
	}

	k.Handle(event.Event{Data: event.ThresholdShareCreated{E3: e3, PartyID: 1, SkSSS: event.SensitiveBytes("sk-b"), EsiSSS: []event.SensitiveBytes{event.SensitiveBytes("esi-b")}}})

	req := bus.next(t).(event.ComputeRequest)
	require.Equal(t, event.ComputeCalculateDecryptionKey, req.Kind)
	var params struct {
		SkSSSCollected  []event.SensitiveBytes `json:"skSssCollected"`
		EsiSSSCollected []event.SensitiveBytes `json:"esiSssCollected"`
	}
	require.NoError(t, json.Unmarshal(req.Params, &params))
	require.Equal(t, []event.SensitiveBytes{event.SensitiveBytes("sk-a"), event.SensitiveBytes("sk-b")}, params.SkSSSCollected)
}

func TestIssuesDecryptionShareOnCiphertextPublished(t *testing.T) {
	bus := newFakeBus()
	e3 := event.E3ID{ChainID: 1, ID: "e3-decrypt"}
	k := New(bus, testRepo(), e3, "node-a", nil, nil)

	k.Handle(event.Event{Data: event.CiphernodeSelected{E3: e3, Node: "node-a", PartyID: partyID(3), ThresholdM: 1}})
	_ = bus.next(t)
	_ = bus.next(t)

	pkPayload, _ := json.Marshal(trbfv.GenPkShareAndSkSSSResponse{PkShare: event.ArcBytes("pk"), SkSSS: event.SensitiveBytes("sk")})
	k.Handle(event.Event{Data: event.ComputeResponse{E3: e3, Kind: event.ComputeGenPkShareAndSkSSS, Payload: pkPayload}})
	_ = bus.next(t)
	esiPayload, _ := json.Marshal(trbfv.GenEsiSSSResponse{EsiSSS: []event.SensitiveBytes{event.SensitiveBytes("esi")}})
	k.Handle(event.Event{Data: event.ComputeResponse{E3: e3, Kind: event.ComputeGenEsiSSS, Payload: esiPayload}})
	_ = bus.next(t)

	k.Handle(event.Event{Data: event.ThresholdShareCreated{E3: e3, PartyID: 3, SkSSS: event.SensitiveBytes("sk"), EsiSSS: []event.SensitiveBytes{event.SensitiveBytes("esi")}}})
	_ = bus.next(t) // CalculateDecryptionKey request

	keyPayload, _ := json.Marshal(trbfv.CalculateDecryptionKeyResponse{
		SkPolySum: event.SensitiveBytes("sk-sum"),
		EsPolySum: event.SensitiveBytes("es-sum"),
	})
	k.Handle(event.Event{Data: event.ComputeResponse{E3: e3, Kind: event.ComputeCalculateDecryptionKey, Payload: keyPayload}})
	require.Equal(t, StatusReady, k.Status())

	k.Handle(event.Event{Data: event.CiphertextOutputPublished{E3: e3, CiphertextOutput: []event.ArcBytes{event.ArcBytes("ct")}}})

	req := bus.next(t).(event.ComputeRequest)
	require.Equal(t, event.ComputeCalculateDecryptionShare, req.Kind)

	sharePayload, _ := json.Marshal(trbfv.CalculateDecryptionShareResponse{DSharePoly: event.ArcBytes("share")})
	k.Handle(event.Event{Data: event.ComputeResponse{E3: e3, Kind: event.ComputeCalculateDecryptionShare, Payload: sharePayload}})

	dShare := bus.next(t).(event.DecryptionshareCreated)
	require.Equal(t, uint64(3), dShare.PartyID)
	require.Equal(t, event.ArcBytes("share"), dShare.Share)
	require.Equal(t, "node-a", dShare.Node)
}

func TestTerminatesOnE3RequestCompleteAndIgnoresFurtherEvents(t *testing.T) {
	bus := newFakeBus()
	e3 := event.E3ID{ChainID: 1, ID: "e3-term"}
	k := New(bus, testRepo(), e3, "node-a", nil, nil)

	k.Handle(event.Event{Data: event.E3RequestComplete{E3: e3}})
	require.Equal(t, StatusTerminated, k.Status())

	k.Handle(event.Event{Data: event.CiphernodeSelected{E3: e3, Node: "node-a", PartyID: partyID(0), ThresholdM: 1}})
	select {
	case <-bus.ch:
		t.Fatal("a terminated keyshare actor must not react to further events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSealedSnapshotsSurviveRestoreUnderNodeLocalKey(t *testing.T) {
	repo := testRepo()
	key, err := crypt.DeriveKey([]byte("correct horse battery staple"), []byte("node-a"))
	require.NoError(t, err)

	bus := newFakeBus()
	e3 := event.E3ID{ChainID: 1, ID: "e3-sealed"}
	k := New(bus, repo, e3, "node-a", &key, nil)

	k.Handle(event.Event{Data: event.CiphernodeSelected{E3: e3, Node: "node-a", PartyID: partyID(1), ThresholdM: 1}})
	_ = bus.next(t)
	_ = bus.next(t)
	require.Equal(t, StatusGenerating, k.Status())

	restored := New(bus, repo, e3, "node-a", &key, nil)
	ok, err := restored.state.Restore()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), restored.state.Value().PartyID)
}

func TestIgnoresEventsForAnotherE3OrNode(t *testing.T) {
	bus := newFakeBus()
	e3 := event.E3ID{ChainID: 1, ID: "e3-scope"}
	k := New(bus, testRepo(), e3, "node-a", nil, nil)

	other := event.E3ID{ChainID: 1, ID: "different"}
	k.Handle(event.Event{Data: event.CiphernodeSelected{E3: other, Node: "node-a", PartyID: partyID(0)}})
	k.Handle(event.Event{Data: event.CiphernodeSelected{E3: e3, Node: "node-b", PartyID: partyID(0)}})

	select {
	case <-bus.ch:
		t.Fatal("must ignore selection events addressed to another E3 or another node")
	case <-time.After(50 * time.Millisecond):
	}
	require.Equal(t, StatusAwaitingSelection, k.Status())
}
