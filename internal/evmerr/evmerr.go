// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package evmerr decodes Solidity custom-error reverts the EVM write
// interface receives back from a failed send: a 4-byte selector plus
// ABI-encoded parameters. It is a lookup table generated from contract
// ABIs this core never vendors — the contracts are an external
// collaborator, not a dependency of the core. The table below is seeded
// with the error names a requestE3/activate/publish flow commonly
// reverts with; a deployment wires its actual contract's selectors in
// at startup via Register.
package evmerr

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// Entry names one Solidity custom error's signature.
type Entry struct {
	Name   string
	Params []string // ABI type strings, e.g. "uint256", "address"
}

// DecodedError is Decode's successful result.
type DecodedError struct {
	Name     string
	Selector [4]byte
	Params   []string
	Args     []interface{} // decoded parameter values, when Register supplied ABI types
}

func (d DecodedError) String() string {
	if len(d.Params) == 0 {
		return fmt.Sprintf("%s [0x%s]", d.Name, hex.EncodeToString(d.Selector[:]))
	}
	return fmt.Sprintf("%s(%v) [0x%s]", d.Name, d.Params, hex.EncodeToString(d.Selector[:]))
}

// Table is a selector -> Entry lookup, safe for concurrent reads once
// populated; writes (Register) are expected only at startup wiring.
type Table struct {
	mu      sync.RWMutex
	entries map[[4]byte]Entry
}

// NewTable returns a Table pre-populated with the selectors a
// requestE3, activate, publishCiphertextOutput, publishPlaintextOutput,
// or submitTicket call commonly reverts with.
func NewTable() *Table {
	t := &Table{entries: map[[4]byte]Entry{}}
	for sig, name := range defaultSignatures {
		t.Register(sig, name...)
	}
	return t
}

// defaultSignatures maps a canonical Solidity error signature string to
// its (name, param types...); the selector is derived from the signature
// by Register, the same computation a compiled ABI's errors table does.
var defaultSignatures = map[string][]string{
	"E3AlreadyActivated(uint256)":         {"E3AlreadyActivated", "uint256"},
	"E3NotActivated(uint256)":             {"E3NotActivated", "uint256"},
	"E3Expired(uint256)":                  {"E3Expired", "uint256"},
	"CommitteeAlreadyFinalized(uint256)":  {"CommitteeAlreadyFinalized", "uint256"},
	"CiphertextAlreadyPublished(uint256)":  {"CiphertextAlreadyPublished", "uint256"},
	"PlaintextAlreadyPublished(uint256)":  {"PlaintextAlreadyPublished", "uint256"},
	"InvalidProof(uint256,address)":       {"InvalidProof", "uint256", "address"},
	"InsufficientTickets(address)":        {"InsufficientTickets", "address"},
	"NotCommitteeMember(uint256,address)": {"NotCommitteeMember", "uint256", "address"},
}

// Register adds sig (a canonical Solidity error signature, e.g.
// "E3Expired(uint256)") to t, keyed by the first 4 bytes of
// keccak256(sig). info is (name, paramType...); when omitted the name and
// param types are parsed out of sig itself.
func (t *Table) Register(sig string, info ...string) {
	name, params := parseSignature(sig)
	if len(info) > 0 {
		name = info[0]
		if len(info) > 1 {
			params = info[1:]
		}
	}
	selector := selectorOf(sig)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[selector] = Entry{Name: name, Params: params}
}

// Decode looks up the 4-byte selector prefixing data and, if registered,
// returns its name/param types plus best-effort ABI-decoded argument
// values (argument decoding is skipped, not an error, when the
// registered param types don't parse as an ABI tuple).
func (t *Table) Decode(data []byte) (*DecodedError, bool) {
	if len(data) < 4 {
		return nil, false
	}
	var sel [4]byte
	copy(sel[:], data[:4])

	t.mu.RLock()
	entry, ok := t.entries[sel]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}

	dec := &DecodedError{Name: entry.Name, Selector: sel, Params: entry.Params}
	if args, err := decodeArgs(entry.Params, data[4:]); err == nil {
		dec.Args = args
	}
	return dec, true
}

func decodeArgs(paramTypes []string, packed []byte) ([]interface{}, error) {
	var args abi.Arguments
	for i, pt := range paramTypes {
		typ, err := abi.NewType(pt, "", nil)
		if err != nil {
			return nil, fmt.Errorf("evmerr: unsupported param type %q at index %d: %w", pt, i, err)
		}
		args = append(args, abi.Argument{Type: typ})
	}
	unpacked, err := args.Unpack(packed)
	if err != nil {
		return nil, fmt.Errorf("evmerr: unpack args: %w", err)
	}
	return unpacked, nil
}

func selectorOf(sig string) [4]byte {
	var out [4]byte
	copy(out[:], crypto.Keccak256([]byte(sig)))
	return out
}

// parseSignature splits "Name(type1,type2)" into ("Name", []string{type1,type2}).
func parseSignature(sig string) (string, []string) {
	open := strings.IndexByte(sig, '(')
	if open < 0 {
		return sig, nil
	}
	name := sig[:open]
	inner := sig[open+1 : len(sig)-1]
	if inner == "" {
		return name, nil
	}
	return name, strings.Split(inner, ",")
}
