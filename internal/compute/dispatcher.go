// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package compute implements the Compute Dispatcher: it subscribes to
// ComputeRequest, submits the matching trbfv.Kernel call to the task
// pool, and republishes ComputeResponse or ComputeRequestError. It never
// retries — recovery is the aggregator's concern.
package compute

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/enclave-network/ciphernode-core/internal/logging"
	"github.com/enclave-network/ciphernode-core/internal/metrics"
	"github.com/enclave-network/ciphernode-core/internal/taskpool"
	"github.com/enclave-network/ciphernode-core/internal/trbfv"
	"github.com/enclave-network/ciphernode-core/internal/zkproof"
	"github.com/enclave-network/ciphernode-core/pkg/event"
	"go.uber.org/zap"
)

// Publisher is the subset of bus.Bus the dispatcher needs; kept narrow so
// tests can supply a stub instead of a real Bus.
type Publisher interface {
	Publish(ctx context.Context, data event.Data) (event.Event, error)
}

// Dispatcher routes ComputeRequest events to trbfv.Kernel calls on a
// taskpool.Pool, then republishes their outcome.
type Dispatcher struct {
	log     logging.Logger
	bus     Publisher
	pool    *taskpool.Pool
	kernel  trbfv.Kernel
	rng     trbfv.Rng
	prover  zkproof.Prover
	latency metrics.Averager
}

// New returns a Dispatcher. Call Handle as the bus subscriber for
// event.TypeComputeRequest.
func New(bus Publisher, pool *taskpool.Pool, kernel trbfv.Kernel, rng trbfv.Rng, log logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.NewNop()
	}
	return &Dispatcher{
		log:     logging.Named(log, "compute"),
		bus:     bus,
		pool:    pool,
		kernel:  kernel,
		rng:     rng,
		latency: metrics.NewAverager(),
	}
}

// WithProver wires a zkproof.Prover into the dispatcher so ComputeZKProve
// requests route to it instead of failing with "no zkproof.Prover
// configured"; the
// prover is optional since not every deployment enables client-side proof
// generation — the ZK circuits themselves are out of scope here, only
// this seam to an opaque prover is in-core.
func (d *Dispatcher) WithProver(p zkproof.Prover) *Dispatcher {
	d.prover = p
	return d
}

// Latency reports the mean observed kernel duration, for a metrics sink.
func (d *Dispatcher) Latency() float64 { return d.latency.Read() }

// Handle is the bus.Subscriber entry point for ComputeRequest events.
func (d *Dispatcher) Handle(evt event.Event) {
	req, ok := evt.Data.(event.ComputeRequest)
	if !ok {
		return
	}
	ctx := context.Background()

	task, err := d.buildTask(req)
	if err != nil {
		d.fail(ctx, req, err)
		return
	}

	resultCh, err := d.pool.Submit(ctx, string(req.Kind), task)
	if err != nil {
		d.fail(ctx, req, err)
		return
	}

	go func() {
		res := <-resultCh
		if res.Err != nil {
			d.fail(ctx, req, res.Err)
			return
		}
		d.latency.Observe(float64(res.Duration.Nanoseconds()))

		if _, err := d.bus.Publish(ctx, event.ComputeResponse{
			E3:          req.E3,
			Correlation: req.Correlation,
			Kind:        req.Kind,
			Payload:     event.ArcBytes(res.Output),
			Duration:    res.Duration.Nanoseconds(),
		}); err != nil {
			d.log.Error("publish compute response", zap.Error(err))
		}
	}()
}

func (d *Dispatcher) fail(ctx context.Context, req event.ComputeRequest, err error) {
	d.log.Warn("compute request failed", zap.String("kind", string(req.Kind)), zap.Error(err))
	if _, pubErr := d.bus.Publish(ctx, event.ComputeRequestError{
		E3:          req.E3,
		Correlation: req.Correlation,
		Kind:        req.Kind,
		Reason:      err.Error(),
	}); pubErr != nil {
		d.log.Error("publish compute request error", zap.Error(pubErr))
	}
}

// buildTask closes over req's kind-specific arguments and the shared
// kernel, producing the taskpool.Task the request maps to.
func (d *Dispatcher) buildTask(req event.ComputeRequest) (taskpool.Task, error) {
	switch req.Kind {
	case event.ComputeGenPkShareAndSkSSS:
		var params struct {
			CRP event.ArcBytes `json:"crp"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
		return func(ctx context.Context) ([]byte, error) {
			resp, err := d.kernel.GenPkShareAndSkSSS(ctx, d.rng, trbfv.GenPkShareAndSkSSSRequest{
				Params: req.Params, CRP: params.CRP,
			})
			if err != nil {
				return nil, err
			}
			return json.Marshal(resp)
		}, nil

	case event.ComputeGenEsiSSS:
		var params struct {
			ErrorSize uint64 `json:"errorSize"`
			EsiPerCt  uint32 `json:"esiPerCt"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
		return func(ctx context.Context) ([]byte, error) {
			resp, err := d.kernel.GenEsiSSS(ctx, d.rng, trbfv.GenEsiSSSRequest{
				Params: req.Params, ErrorSize: params.ErrorSize, EsiPerCt: params.EsiPerCt,
			})
			if err != nil {
				return nil, err
			}
			return json.Marshal(resp)
		}, nil

	case event.ComputeAggregatePublicKey:
		var params struct {
			PkShares []event.ArcBytes `json:"pkShares"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
		return func(ctx context.Context) ([]byte, error) {
			resp, err := d.kernel.AggregatePublicKey(ctx, d.rng, trbfv.AggregatePublicKeyRequest{
				Params: req.Params, PkShares: params.PkShares,
			})
			if err != nil {
				return nil, err
			}
			return json.Marshal(resp)
		}, nil

	case event.ComputeCalculateDecryptionKey:
		var params struct {
			SkSSSCollected  []event.SensitiveBytes `json:"skSssCollected"`
			EsiSSSCollected []event.SensitiveBytes `json:"esiSssCollected"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
		return func(ctx context.Context) ([]byte, error) {
			resp, err := d.kernel.CalculateDecryptionKey(ctx, d.rng, trbfv.CalculateDecryptionKeyRequest{
				Params: req.Params, SkSSSCollected: params.SkSSSCollected, EsiSSSCollected: params.EsiSSSCollected,
			})
			if err != nil {
				return nil, err
			}
			return json.Marshal(resp)
		}, nil

	case event.ComputeCalculateDecryptionShare:
		var params struct {
			SkPolySum   event.SensitiveBytes `json:"skPolySum"`
			EsPolySum   event.SensitiveBytes `json:"esPolySum"`
			Ciphertexts []event.ArcBytes     `json:"ciphertexts"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
		return func(ctx context.Context) ([]byte, error) {
			resp, err := d.kernel.CalculateDecryptionShare(ctx, d.rng, trbfv.CalculateDecryptionShareRequest{
				Params: req.Params, SkPolySum: params.SkPolySum, EsPolySum: params.EsPolySum, Ciphertexts: params.Ciphertexts,
			})
			if err != nil {
				return nil, err
			}
			return json.Marshal(resp)
		}, nil

	case event.ComputeCalculateThresholdDecrypt:
		var params struct {
			Ciphertexts []event.ArcBytes `json:"ciphertexts"`
			DSharePolys []event.ArcBytes `json:"dSharePolys"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
		return func(ctx context.Context) ([]byte, error) {
			resp, err := d.kernel.CalculateThresholdDecryption(ctx, d.rng, trbfv.CalculateThresholdDecryptionRequest{
				Params: req.Params, Ciphertexts: params.Ciphertexts, DSharePolys: params.DSharePolys,
			})
			if err != nil {
				return nil, err
			}
			return json.Marshal(resp)
		}, nil

	case event.ComputeZKProve:
		if d.prover == nil {
			return nil, fmt.Errorf("compute: no zkproof.Prover configured")
		}
		var params struct {
			Circuit string          `json:"circuit"`
			Witness event.ArcBytes  `json:"witness"`
			Data    event.ArcBytes  `json:"data"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
		return func(ctx context.Context) ([]byte, error) {
			proof, err := d.prover.Prove(ctx, params.Circuit, params.Witness, params.Data)
			if err != nil {
				return nil, err
			}
			return json.Marshal(proof)
		}, nil

	default:
		return nil, fmt.Errorf("compute: unknown kernel kind %q", req.Kind)
	}
}
