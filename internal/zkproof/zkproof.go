// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package zkproof treats proofs as opaque byte blobs produced by a
// pluggable Prover and checked by a pluggable Verifier; the core only
// ever moves Proof values around and asks whether one verifies.
// SignedProof wraps a ProofPayload in the node's ECDSA signature over its
// canonical digest so a proof that later fails verification is
// self-authenticating fault evidence.
package zkproof

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/enclave-network/ciphernode-core/pkg/event"
)

// ProofType identifies which circuit a proof was generated against.
// Aggregation proofs (5 and 7 in the original numbering) are excluded:
// those are published on-chain directly and verified by the contract at
// submission time, never routed through this façade.
type ProofType string

const (
	ProofT0PkBFV               ProofType = "T0PkBfv"
	ProofT1PkGeneration        ProofType = "T1PkGeneration"
	ProofT1SkShareComputation  ProofType = "T1SkShareComputation"
	ProofT1ESmShareComputation ProofType = "T1ESmShareComputation"
	ProofT1SkShareEncryption   ProofType = "T1SkShareEncryption"
	ProofT1ESmShareEncryption  ProofType = "T1ESmShareEncryption"
	ProofT2SkShareDecryption   ProofType = "T2SkShareDecryption"
	ProofT2ESmShareDecryption  ProofType = "T2ESmShareDecryption"
	ProofT5ShareDecryption     ProofType = "T5ShareDecryption"
)

// Proof is the opaque artifact a Prover produces and a Verifier checks.
type Proof struct {
	Circuit       string         `json:"circuit"`
	Data          event.ArcBytes `json:"data"`
	PublicSignals event.ArcBytes `json:"publicSignals"`
}

// Prover generates an opaque Proof attesting to data, given whatever
// witness material the caller supplies via params. The circuit's witness
// shape is out of scope; this seam only moves bytes.
type Prover interface {
	Prove(ctx context.Context, circuit string, params, data event.ArcBytes) (Proof, error)
}

// Verifier checks a Proof against its public signals, never inspecting
// the circuit's internal shape.
type Verifier interface {
	Verify(ctx context.Context, proof Proof) (bool, error)
}

// ProofPayload is the data a node signs before broadcasting one of its
// proofs.
type ProofPayload struct {
	E3        event.E3ID     `json:"e3Id"`
	ProofType ProofType      `json:"proofType"`
	PartyID   uint64         `json:"partyId"`
	Data      event.ArcBytes `json:"data"`
	Proof     Proof          `json:"proof"`
}

// Digest computes the canonical keccak256 digest of payload: fixed-size
// scalars followed by length-prefixed byte arrays, a layout an on-chain
// ecrecover could reconstruct the identical hash from.
func (p ProofPayload) Digest() [32]byte {
	var buf []byte
	var u64 [8]byte

	binary.BigEndian.PutUint64(u64[:], p.E3.ChainID)
	buf = append(buf, u64[:]...)

	id := []byte(p.E3.ID)
	buf = appendLenPrefixed(buf, id)

	buf = append(buf, proofTypeByte(p.ProofType))

	binary.BigEndian.PutUint64(u64[:], p.PartyID)
	buf = append(buf, u64[:]...)

	buf = appendLenPrefixed(buf, p.Data)
	buf = appendLenPrefixed(buf, p.Proof.Data)
	buf = appendLenPrefixed(buf, p.Proof.PublicSignals)

	return crypto.Keccak256Hash(buf)
}

func appendLenPrefixed(buf, v []byte) []byte {
	var lb [4]byte
	binary.BigEndian.PutUint32(lb[:], uint32(len(v)))
	buf = append(buf, lb[:]...)
	return append(buf, v...)
}

// proofTypeOrder fixes a stable byte encoding for ProofType, assigned by
// declaration order.
var proofTypeOrder = []ProofType{
	ProofT0PkBFV, ProofT1PkGeneration, ProofT1SkShareComputation,
	ProofT1ESmShareComputation, ProofT1SkShareEncryption,
	ProofT1ESmShareEncryption, ProofT2SkShareDecryption,
	ProofT2ESmShareDecryption, ProofT5ShareDecryption,
}

func proofTypeByte(t ProofType) byte {
	for i, pt := range proofTypeOrder {
		if pt == t {
			return byte(i)
		}
	}
	return 0xff
}

// SignedProof is the unit broadcast over gossip: a ProofPayload plus a
// 65-byte (r||s||v) ECDSA signature over its EIP-191-prefixed digest.
type SignedProof struct {
	Payload   ProofPayload   `json:"payload"`
	Signature event.ArcBytes `json:"signature"`
}

// Sign signs payload with privKey (secp256k1, 32 bytes), producing a
// SignedProof (S6's "sign a ProofPayload with a fixed private key").
func Sign(payload ProofPayload, privKey []byte) (SignedProof, error) {
	key, err := crypto.ToECDSA(privKey)
	if err != nil {
		return SignedProof{}, fmt.Errorf("zkproof: parse private key: %w", err)
	}
	digest := payload.Digest()
	prefixed := accounts.TextHash(digest[:])
	sig, err := crypto.Sign(prefixed, key)
	if err != nil {
		return SignedProof{}, fmt.Errorf("zkproof: sign: %w", err)
	}
	return SignedProof{Payload: payload, Signature: event.ArcBytes(sig)}, nil
}

// RecoverSigner recovers the Ethereum address that produced sp's
// signature over its payload's digest.
func (sp SignedProof) RecoverSigner() (common.Address, error) {
	if len(sp.Signature) != 65 {
		return common.Address{}, fmt.Errorf("zkproof: signature must be 65 bytes, got %d", len(sp.Signature))
	}
	digest := sp.Payload.Digest()
	prefixed := accounts.TextHash(digest[:])
	pub, err := crypto.SigToPub(prefixed, sp.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("zkproof: recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySigner reports whether sp's recovered signer equals expected
// (S6's verify_signer round-trip).
func (sp SignedProof) VerifySigner(expected common.Address) (bool, error) {
	recovered, err := sp.RecoverSigner()
	if err != nil {
		return false, err
	}
	return recovered == expected, nil
}
