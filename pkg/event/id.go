// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package event defines the wire-level data model shared by every
// ciphernode actor: E3 identifiers, the content-addressed Event envelope,
// and the variant payloads carried on the bus.
package event

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// E3ID globally identifies one E3 run.
type E3ID struct {
	ChainID uint64
	ID      string
}

func (e E3ID) String() string {
	return fmt.Sprintf("%d/%s", e.ChainID, e.ID)
}

// CorrelationID ties a ComputeResponse to the ComputeRequest that caused it.
type CorrelationID [16]byte

func (c CorrelationID) String() string {
	return hex.EncodeToString(c[:])
}

// NewCorrelationID derives a correlation id from an E3ID and a disambiguating
// label, so identical requests issued twice within the same E3 still collide
// deterministically (content addressing, not randomness).
func NewCorrelationID(e3 E3ID, label string, nonce uint64) CorrelationID {
	h := blake3.New()
	_, _ = h.Write([]byte(e3.String()))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(label))
	var nb [8]byte
	binary.BigEndian.PutUint64(nb[:], nonce)
	_, _ = h.Write(nb[:])
	sum := h.Sum(nil)
	var out CorrelationID
	copy(out[:], sum[:16])
	return out
}

// Seed is the 32-byte sampling seed drawn from chain.
type Seed [32]byte

// ArcBytes is the universal immutable wire-payload type. It is never
// mutated after construction; copies are taken by re-slicing, never by
// writing through the backing array.
type ArcBytes []byte

// SensitiveBytes is ArcBytes semantically marked secret. Anything of this
// type must be encrypted before it is written to a snapshot or the wire;
// see internal/crypt for the at-rest sealing helpers.
type SensitiveBytes []byte

// ID is a content hash: any two Events with equal Data have equal ID.
type ID [32]byte

func (id ID) String() string { return hex.EncodeToString(id[:]) }

// ComputeID hashes the canonical encoding of data into a content-addressed
// Event ID, hashing canonical byte encodings for equality rather than
// Go's non-deterministic struct layout.
func ComputeID(data []byte) ID {
	sum := blake3.Sum256(data)
	var out ID
	copy(out[:], sum[:])
	return out
}
