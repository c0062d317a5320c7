// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package evmwrite

import (
	"crypto/ecdsa"
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func cryptoPubkeyToAddress(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

// selector returns the 4-byte function selector for a canonical Solidity
// signature such as "requestE3(uint256,uint32,uint32,bytes32,bytes)",
// matching the same keccak256-prefix computation a compiled contract
// ABI's Methods[name].ID performs.
func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

func hexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	return hex.DecodeString(s)
}
