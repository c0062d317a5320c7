// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuilderProducesValidConfig(t *testing.T) {
	cfg, err := NewBuilder().
		WithChainRPC("http://rpc.example", "ws://rpc.example").
		WithContracts("0xabc").
		WithStartBlock(100).
		WithPassphrase("swordfish").
		Build()
	require.NoError(t, err)
	require.Equal(t, uint64(100), cfg.StartBlock)
}

func TestVerifyRejectsZeroStartBlockOnRemoteEndpoint(t *testing.T) {
	cfg := Default()
	cfg.ChainHTTPRPC = "http://rpc.example"
	cfg.ChainWSRPC = "ws://rpc.example"
	cfg.ContractAddresses = []string{"0xabc"}
	cfg.NodePassphrase = "x"

	err := cfg.Verify()
	require.ErrorIs(t, err, ErrInvalidStartBlock)
}

func TestVerifyAllowsZeroStartBlockOnLocalEndpoint(t *testing.T) {
	cfg := Default()
	cfg.ChainHTTPRPC = "http://127.0.0.1:8545"
	cfg.ChainWSRPC = "ws://127.0.0.1:8546"
	cfg.ContractAddresses = []string{"0xabc"}
	cfg.NodePassphrase = "x"

	require.NoError(t, cfg.Verify())
}

func TestVerifyRejectsInvertedTimeouts(t *testing.T) {
	cfg := Default()
	cfg.ChainHTTPRPC = "http://127.0.0.1:8545"
	cfg.ChainWSRPC = "ws://127.0.0.1:8546"
	cfg.ContractAddresses = []string{"0xabc"}
	cfg.NodePassphrase = "x"
	cfg.TaskSoftTimeout = cfg.TaskHardTimeout * 2

	require.ErrorIs(t, cfg.Verify(), ErrInvalidTimeoutOrder)
}
