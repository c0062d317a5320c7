// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package evmread

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/enclave-network/ciphernode-core/pkg/event"
)

// Each signature below is the canonical Solidity event signature the
// Enclave contract emits; its keccak256 hash is topic0, computed directly
// instead of via a generated binding (there is no Enclave contract ABI in
// this codebase to generate one from).
var (
	sigCiphernodeAdded   = crypto.Keccak256Hash([]byte("CiphernodeAdded(address,uint256,uint256)"))
	sigCiphernodeRemoved = crypto.Keccak256Hash([]byte("CiphernodeRemoved(address,uint256)"))
	sigE3Requested       = crypto.Keccak256Hash([]byte("E3Requested(uint256,uint32,uint32,bytes32,bytes,uint32,uint64)"))
	sigCiphertextOutput  = crypto.Keccak256Hash([]byte("CiphertextOutputPublished(uint256,bytes[])"))
	sigPlaintextOutput   = crypto.Keccak256Hash([]byte("PlaintextOutputPublished(uint256,bytes)"))
	sigTicketBalance     = crypto.Keccak256Hash([]byte("TicketBalanceUpdated(address,uint256)"))
	sigOperatorActive    = crypto.Keccak256Hash([]byte("OperatorActivationChanged(address,bool)"))
	sigConfigUpdated     = crypto.Keccak256Hash([]byte("ConfigurationUpdated(string,string,string)"))
)

// DefaultExtractors returns the topic0 -> Extractor table for every
// chain-originated event this reader recognizes. CommitteeFinalized is
// not decoded here: it is emitted locally by internal/sortition, not
// read off the chain.
func DefaultExtractors() map[common.Hash]Extractor {
	return map[common.Hash]Extractor{
		sigCiphernodeAdded:   extractCiphernodeAdded,
		sigCiphernodeRemoved: extractCiphernodeRemoved,
		sigE3Requested:       extractE3Requested,
		sigCiphertextOutput:  extractCiphertextOutputPublished,
		sigPlaintextOutput:   extractPlaintextOutputPublished,
		sigTicketBalance:     extractTicketBalanceUpdated,
		sigOperatorActive:    extractOperatorActivationChanged,
		sigConfigUpdated:     extractConfigurationUpdated,
	}
}

func mustArgs(types ...string) abi.Arguments {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(fmt.Sprintf("evmread: invalid abi type %q: %v", t, err))
		}
		args[i] = abi.Argument{Type: typ}
	}
	return args
}

// e3IDString renders an on-chain uint256 request id as the decimal string
// event.E3ID.ID carries; the chain id comes from the reader's config, not
// from the log.
func e3IDString(id *big.Int) string { return id.String() }

var (
	argsCiphernodeAdded   = mustArgs("address", "uint256", "uint256")
	argsCiphernodeRemoved = mustArgs("address", "uint256")
	argsE3Requested       = mustArgs("uint256", "uint32", "uint32", "bytes32", "bytes", "uint32", "uint64")
	argsCiphertextOutput  = mustArgs("uint256", "bytes[]")
	argsPlaintextOutput   = mustArgs("uint256", "bytes")
	argsTicketBalance     = mustArgs("address", "uint256")
	argsOperatorActive    = mustArgs("address", "bool")
	argsConfigUpdated     = mustArgs("string", "string", "string")
)

func extractCiphernodeAdded(l types.Log, chainID uint64) (event.Data, bool, error) {
	vals, err := argsCiphernodeAdded.Unpack(l.Data)
	if err != nil {
		return nil, false, fmt.Errorf("unpack CiphernodeAdded: %w", err)
	}
	return event.CiphernodeAdded{
		Address:  vals[0].(common.Address).Hex(),
		Index:    vals[1].(*big.Int).Uint64(),
		NumNodes: vals[2].(*big.Int).Uint64(),
		ChainID:  chainID,
	}, true, nil
}

func extractCiphernodeRemoved(l types.Log, chainID uint64) (event.Data, bool, error) {
	vals, err := argsCiphernodeRemoved.Unpack(l.Data)
	if err != nil {
		return nil, false, fmt.Errorf("unpack CiphernodeRemoved: %w", err)
	}
	return event.CiphernodeRemoved{
		Address: vals[0].(common.Address).Hex(),
		Index:   vals[1].(*big.Int).Uint64(),
		ChainID: chainID,
	}, true, nil
}

func extractE3Requested(l types.Log, chainID uint64) (event.Data, bool, error) {
	vals, err := argsE3Requested.Unpack(l.Data)
	if err != nil {
		return nil, false, fmt.Errorf("unpack E3Requested: %w", err)
	}
	id := vals[0].(*big.Int)
	var seed event.Seed
	copy(seed[:], vals[3].([32]byte)[:])
	return event.E3Requested{
		E3:         event.E3ID{ChainID: chainID, ID: e3IDString(id)},
		ThresholdM: vals[1].(uint32),
		ThresholdN: vals[2].(uint32),
		Seed:       seed,
		Params:     event.ArcBytes(vals[4].([]byte)),
		EsiPerCt:   vals[5].(uint32),
		ErrorSize:  vals[6].(uint64),
	}, true, nil
}

func extractCiphertextOutputPublished(l types.Log, chainID uint64) (event.Data, bool, error) {
	vals, err := argsCiphertextOutput.Unpack(l.Data)
	if err != nil {
		return nil, false, fmt.Errorf("unpack CiphertextOutputPublished: %w", err)
	}
	raw := vals[1].([][]byte)
	out := make([]event.ArcBytes, len(raw))
	for i, b := range raw {
		out[i] = event.ArcBytes(b)
	}
	return event.CiphertextOutputPublished{
		E3:               event.E3ID{ChainID: chainID, ID: e3IDString(vals[0].(*big.Int))},
		CiphertextOutput: out,
	}, true, nil
}

func extractPlaintextOutputPublished(l types.Log, chainID uint64) (event.Data, bool, error) {
	vals, err := argsPlaintextOutput.Unpack(l.Data)
	if err != nil {
		return nil, false, fmt.Errorf("unpack PlaintextOutputPublished: %w", err)
	}
	return event.PlaintextOutputPublished{
		E3:        event.E3ID{ChainID: chainID, ID: e3IDString(vals[0].(*big.Int))},
		Plaintext: event.ArcBytes(vals[1].([]byte)),
	}, true, nil
}

func extractTicketBalanceUpdated(l types.Log, chainID uint64) (event.Data, bool, error) {
	vals, err := argsTicketBalance.Unpack(l.Data)
	if err != nil {
		return nil, false, fmt.Errorf("unpack TicketBalanceUpdated: %w", err)
	}
	return event.TicketBalanceUpdated{
		Operator:   vals[0].(common.Address).Hex(),
		ChainID:    chainID,
		NewBalance: vals[1].(*big.Int).Uint64(),
	}, true, nil
}

func extractOperatorActivationChanged(l types.Log, _ uint64) (event.Data, bool, error) {
	vals, err := argsOperatorActive.Unpack(l.Data)
	if err != nil {
		return nil, false, fmt.Errorf("unpack OperatorActivationChanged: %w", err)
	}
	return event.OperatorActivationChanged{
		Operator: vals[0].(common.Address).Hex(),
		Active:   vals[1].(bool),
	}, true, nil
}

func extractConfigurationUpdated(l types.Log, chainID uint64) (event.Data, bool, error) {
	vals, err := argsConfigUpdated.Unpack(l.Data)
	if err != nil {
		return nil, false, fmt.Errorf("unpack ConfigurationUpdated: %w", err)
	}
	return event.ConfigurationUpdated{
		ChainID:   chainID,
		Parameter: vals[0].(string),
		Old:       vals[1].(string),
		New:       vals[2].(string),
	}, true, nil
}
