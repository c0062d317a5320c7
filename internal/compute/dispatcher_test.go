// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package compute

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/enclave-network/ciphernode-core/internal/taskpool"
	"github.com/enclave-network/ciphernode-core/internal/trbfv"
	"github.com/enclave-network/ciphernode-core/internal/zkproof"
	"github.com/enclave-network/ciphernode-core/pkg/event"
	"github.com/stretchr/testify/require"
)

type fakeProver struct {
	circuit string
	witness event.ArcBytes
	data    event.ArcBytes
}

func (f *fakeProver) Prove(_ context.Context, circuit string, witness, data event.ArcBytes) (zkproof.Proof, error) {
	f.circuit, f.witness, f.data = circuit, witness, data
	return zkproof.Proof{Circuit: circuit, Data: []byte("proof-data"), PublicSignals: []byte("signals")}, nil
}

type fakeBus struct {
	mu        sync.Mutex
	published []event.Data
	ch        chan event.Data
}

func newFakeBus() *fakeBus {
	return &fakeBus{ch: make(chan event.Data, 16)}
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

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeBus) {
	t.Helper()
	bus := newFakeBus()
	pool := taskpool.New(taskpool.Config{Workers: 2, QueueSize: 8, SoftTimeout: time.Second, HardTimeout: 2 * time.Second}, nil)
	t.Cleanup(pool.Wait)
	d := New(bus, pool, trbfv.NewReference(16), trbfv.NewSeededRng(1), nil)
	return d, bus
}

func TestHandlePublishesComputeResponseOnSuccess(t *testing.T) {
	d, bus := newTestDispatcher(t)

	params, err := json.Marshal(struct {
		CRP event.ArcBytes `json:"crp"`
	}{CRP: event.ArcBytes("crp-bytes")})
	require.NoError(t, err)

	req := event.ComputeRequest{
		E3:     event.E3ID{ChainID: 1, ID: "e3"},
		Kind:   event.ComputeGenPkShareAndSkSSS,
		Params: params,
	}
	d.Handle(event.Event{Data: req})

	resp, ok := bus.next(t).(event.ComputeResponse)
	require.True(t, ok)
	require.Equal(t, req.E3, resp.E3)
	require.Equal(t, event.ComputeGenPkShareAndSkSSS, resp.Kind)
	require.NotEmpty(t, resp.Payload)
}

func TestHandleDispatchesAggregatePublicKeyRequests(t *testing.T) {
	d, bus := newTestDispatcher(t)

	params, err := json.Marshal(struct {
		PkShares []event.ArcBytes `json:"pkShares"`
	}{PkShares: []event.ArcBytes{{1, 2}, {3, 4}}})
	require.NoError(t, err)

	req := event.ComputeRequest{
		E3:     event.E3ID{ChainID: 1, ID: "e3"},
		Kind:   event.ComputeAggregatePublicKey,
		Params: params,
	}
	d.Handle(event.Event{Data: req})

	resp, ok := bus.next(t).(event.ComputeResponse)
	require.True(t, ok)
	require.Equal(t, event.ComputeAggregatePublicKey, resp.Kind)
	require.NotEmpty(t, resp.Payload)
}

func TestHandlePublishesComputeRequestErrorOnUnknownKind(t *testing.T) {
	d, bus := newTestDispatcher(t)

	req := event.ComputeRequest{
		E3:   event.E3ID{ChainID: 1, ID: "e3"},
		Kind: event.ComputeKind("NotARealKind"),
	}
	d.Handle(event.Event{Data: req})

	errEvt, ok := bus.next(t).(event.ComputeRequestError)
	require.True(t, ok)
	require.Equal(t, req.Kind, errEvt.Kind)
	require.NotEmpty(t, errEvt.Reason)
}

func TestHandleRoutesComputeZKProveToConfiguredProver(t *testing.T) {
	d, bus := newTestDispatcher(t)
	prover := &fakeProver{}
	d.WithProver(prover)

	params, err := json.Marshal(struct {
		Circuit string         `json:"circuit"`
		Witness event.ArcBytes `json:"witness"`
		Data    event.ArcBytes `json:"data"`
	}{Circuit: "PkBfv", Witness: event.ArcBytes("witness-bytes"), Data: event.ArcBytes("data-bytes")})
	require.NoError(t, err)

	req := event.ComputeRequest{
		E3:     event.E3ID{ChainID: 1, ID: "e3"},
		Kind:   event.ComputeZKProve,
		Params: params,
	}
	d.Handle(event.Event{Data: req})

	resp, ok := bus.next(t).(event.ComputeResponse)
	require.True(t, ok)
	require.Equal(t, event.ComputeZKProve, resp.Kind)
	require.NotEmpty(t, resp.Payload)

	var proof zkproof.Proof
	require.NoError(t, json.Unmarshal(resp.Payload, &proof))
	require.Equal(t, "PkBfv", proof.Circuit)
	require.Equal(t, "PkBfv", prover.circuit)
	require.Equal(t, event.ArcBytes("witness-bytes"), prover.witness)
}

func TestHandleFailsComputeZKProveWithoutProver(t *testing.T) {
	d, bus := newTestDispatcher(t)

	req := event.ComputeRequest{
		E3:     event.E3ID{ChainID: 1, ID: "e3"},
		Kind:   event.ComputeZKProve,
		Params: event.ArcBytes(`{}`),
	}
	d.Handle(event.Event{Data: req})

	errEvt, ok := bus.next(t).(event.ComputeRequestError)
	require.True(t, ok)
	require.Equal(t, event.ComputeZKProve, errEvt.Kind)
	require.NotEmpty(t, errEvt.Reason)
}

func TestHandleIgnoresNonComputeRequestEvents(t *testing.T) {
	d, bus := newTestDispatcher(t)
	d.Handle(event.Event{Data: event.Shutdown{}})

	select {
	case <-bus.ch:
		t.Fatal("dispatcher should not publish anything for a non-ComputeRequest event")
	case <-time.After(50 * time.Millisecond):
	}
}
