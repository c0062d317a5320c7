// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package trbfv declares the threshold-BFV kernel functions as pure
// signatures over an opaque parameter/ciphertext representation. The
// lattice arithmetic behind each kernel is out of scope — this package is
// the seam a real implementation plugs into, and ships a deterministic
// reference Kernel good enough to drive the dispatcher, aggregator, and
// keyshare tests end-to-end without a real lattice library.
package trbfv

import (
	"context"

	"github.com/enclave-network/ciphernode-core/pkg/event"
)

// Rng is the shared seedable random source every kernel call takes
// in-band: one handle passed into every kernel's task-pool closure. The
// single implementation, NewSeededRng, wraps math/rand/v2 behind a mutex,
// so concurrently running kernels never mutate it at the same time.
type Rng interface {
	Uint64() uint64
	Read(p []byte) (int, error)
}

// GenPkShareAndSkSSSRequest/Response model gen_pk_share_and_sk_sss.
type GenPkShareAndSkSSSRequest struct {
	Params event.ArcBytes
	CRP    event.ArcBytes
}

type GenPkShareAndSkSSSResponse struct {
	PkShare event.ArcBytes
	SkSSS   event.SensitiveBytes
}

// GenEsiSSSRequest/Response model gen_esi_sss.
type GenEsiSSSRequest struct {
	Params    event.ArcBytes
	ErrorSize uint64
	EsiPerCt  uint32
}

type GenEsiSSSResponse struct {
	EsiSSS []event.SensitiveBytes
}

// CalculateDecryptionKeyRequest/Response model calculate_decryption_key.
type CalculateDecryptionKeyRequest struct {
	Params        event.ArcBytes
	SkSSSCollected []event.SensitiveBytes
	EsiSSSCollected []event.SensitiveBytes
}

type CalculateDecryptionKeyResponse struct {
	SkPolySum event.SensitiveBytes
	EsPolySum event.SensitiveBytes
}

// CalculateDecryptionShareRequest/Response model calculate_decryption_share.
type CalculateDecryptionShareRequest struct {
	Params      event.ArcBytes
	SkPolySum   event.SensitiveBytes
	EsPolySum   event.SensitiveBytes
	Ciphertexts []event.ArcBytes
}

type CalculateDecryptionShareResponse struct {
	DSharePoly event.ArcBytes
}

// CalculateThresholdDecryptionRequest/Response model
// calculate_threshold_decryption.
type CalculateThresholdDecryptionRequest struct {
	Params      event.ArcBytes
	Ciphertexts []event.ArcBytes
	DSharePolys []event.ArcBytes
}

type CalculateThresholdDecryptionResponse struct {
	Plaintext event.ArcBytes
}

// AggregatePublicKeyRequest/Response model the PublicKeyAggregator's
// final combination step: every committee member's pk_share folded into
// one aggregate public key.
type AggregatePublicKeyRequest struct {
	Params   event.ArcBytes
	PkShares []event.ArcBytes
}

type AggregatePublicKeyResponse struct {
	PublicKey event.ArcBytes
}

// Kernel is the pluggable seam: every threshold-BFV operation the
// dispatcher can request, as pure functions of their request and an RNG.
// A production build swaps this for a binding over a real lattice
// library; Reference below is a deterministic stand-in.
type Kernel interface {
	GenPkShareAndSkSSS(ctx context.Context, rng Rng, req GenPkShareAndSkSSSRequest) (GenPkShareAndSkSSSResponse, error)
	GenEsiSSS(ctx context.Context, rng Rng, req GenEsiSSSRequest) (GenEsiSSSResponse, error)
	AggregatePublicKey(ctx context.Context, rng Rng, req AggregatePublicKeyRequest) (AggregatePublicKeyResponse, error)
	CalculateDecryptionKey(ctx context.Context, rng Rng, req CalculateDecryptionKeyRequest) (CalculateDecryptionKeyResponse, error)
	CalculateDecryptionShare(ctx context.Context, rng Rng, req CalculateDecryptionShareRequest) (CalculateDecryptionShareResponse, error)
	CalculateThresholdDecryption(ctx context.Context, rng Rng, req CalculateThresholdDecryptionRequest) (CalculateThresholdDecryptionResponse, error)
}
