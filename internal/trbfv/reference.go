// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package trbfv

import (
	"context"
	"fmt"

	"github.com/enclave-network/ciphernode-core/pkg/event"
	"github.com/zeebo/blake3"
)

// Reference is a deterministic Kernel implementation good enough to drive
// the dispatcher, keyshare, and aggregator machinery end to end without a
// real lattice library wired in. It models key shares and decryption
// shares as byte-wise sums mod 256 — additively homomorphic enough to
// exercise "n parties combine their shares into one result", but it is
// not a cryptographic BFV implementation and must never be mistaken for
// one; production deployments provide their own Kernel.
type Reference struct {
	shareLen int
}

// NewReference returns a Reference kernel producing key/error shares of
// shareLen bytes each.
func NewReference(shareLen int) *Reference {
	if shareLen < 1 {
		shareLen = 32
	}
	return &Reference{shareLen: shareLen}
}

func randomBytes(rng Rng, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rng.Read(b); err != nil {
		return nil, fmt.Errorf("trbfv: read rng: %w", err)
	}
	return b, nil
}

// sumBytes adds a and b byte-wise mod 256, extending the shorter operand
// with zeros so callers never need to pre-align lengths.
func sumBytes(a, b []byte) []byte {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		var av, bv byte
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		out[i] = av + bv
	}
	return out
}

func (r *Reference) GenPkShareAndSkSSS(_ context.Context, rng Rng, req GenPkShareAndSkSSSRequest) (GenPkShareAndSkSSSResponse, error) {
	sk, err := randomBytes(rng, r.shareLen)
	if err != nil {
		return GenPkShareAndSkSSSResponse{}, err
	}
	h := blake3.New()
	_, _ = h.Write(req.Params)
	_, _ = h.Write(req.CRP)
	_, _ = h.Write(sk)
	pk := h.Sum(nil)
	return GenPkShareAndSkSSSResponse{
		PkShare: event.ArcBytes(pk),
		SkSSS:   event.SensitiveBytes(sk),
	}, nil
}

func (r *Reference) GenEsiSSS(_ context.Context, rng Rng, req GenEsiSSSRequest) (GenEsiSSSResponse, error) {
	n := int(req.EsiPerCt)
	if n < 1 {
		n = 1
	}
	out := make([]event.SensitiveBytes, n)
	for i := range out {
		b, err := randomBytes(rng, r.shareLen)
		if err != nil {
			return GenEsiSSSResponse{}, err
		}
		out[i] = event.SensitiveBytes(b)
	}
	return GenEsiSSSResponse{EsiSSS: out}, nil
}

func (r *Reference) AggregatePublicKey(_ context.Context, _ Rng, req AggregatePublicKeyRequest) (AggregatePublicKeyResponse, error) {
	var sum []byte
	for _, share := range req.PkShares {
		sum = sumBytes(sum, share)
	}
	return AggregatePublicKeyResponse{PublicKey: event.ArcBytes(sum)}, nil
}

func (r *Reference) CalculateDecryptionKey(_ context.Context, _ Rng, req CalculateDecryptionKeyRequest) (CalculateDecryptionKeyResponse, error) {
	var skSum, esSum []byte
	for _, s := range req.SkSSSCollected {
		skSum = sumBytes(skSum, s)
	}
	for _, s := range req.EsiSSSCollected {
		esSum = sumBytes(esSum, s)
	}
	return CalculateDecryptionKeyResponse{
		SkPolySum: event.SensitiveBytes(skSum),
		EsPolySum: event.SensitiveBytes(esSum),
	}, nil
}

func (r *Reference) CalculateDecryptionShare(_ context.Context, _ Rng, req CalculateDecryptionShareRequest) (CalculateDecryptionShareResponse, error) {
	share := append([]byte(nil), req.SkPolySum...)
	for _, ct := range req.Ciphertexts {
		share = sumBytes(share, ct)
	}
	return CalculateDecryptionShareResponse{DSharePoly: event.ArcBytes(share)}, nil
}

func (r *Reference) CalculateThresholdDecryption(_ context.Context, _ Rng, req CalculateThresholdDecryptionRequest) (CalculateThresholdDecryptionResponse, error) {
	var sum []byte
	for _, d := range req.DSharePolys {
		sum = sumBytes(sum, d)
	}
	for _, ct := range req.Ciphertexts {
		sum = sumBytes(sum, ct)
	}
	return CalculateThresholdDecryptionResponse{Plaintext: event.ArcBytes(sum)}, nil
}
