// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package trbfv

import (
	"context"
	"testing"

	"github.com/enclave-network/ciphernode-core/pkg/event"
	"github.com/stretchr/testify/require"
)

func TestGenPkShareAndSkSSSIsDeterministicForAFixedSeed(t *testing.T) {
	k := NewReference(16)
	req := GenPkShareAndSkSSSRequest{Params: event.ArcBytes("params"), CRP: event.ArcBytes("crp")}

	r1, err := k.GenPkShareAndSkSSS(context.Background(), NewSeededRng(42), req)
	require.NoError(t, err)
	r2, err := k.GenPkShareAndSkSSS(context.Background(), NewSeededRng(42), req)
	require.NoError(t, err)

	require.Equal(t, r1.PkShare, r2.PkShare)
	require.Equal(t, r1.SkSSS, r2.SkSSS)
}

func TestAggregatePublicKeyCombinesEveryMembersShare(t *testing.T) {
	k := NewReference(4)
	req := AggregatePublicKeyRequest{
		PkShares: []event.ArcBytes{{1, 2, 3, 4}, {10, 20, 30, 40}, {1, 1, 1, 1}},
	}
	resp, err := k.AggregatePublicKey(context.Background(), nil, req)
	require.NoError(t, err)
	require.Equal(t, event.ArcBytes{12, 23, 34, 45}, resp.PublicKey)
}

func TestCalculateDecryptionKeySumsAllCollectedShares(t *testing.T) {
	k := NewReference(4)
	req := CalculateDecryptionKeyRequest{
		SkSSSCollected: []event.SensitiveBytes{
			{1, 2, 3, 4},
			{10, 20, 30, 40},
		},
		EsiSSSCollected: []event.SensitiveBytes{
			{5, 5, 5, 5},
		},
	}
	resp, err := k.CalculateDecryptionKey(context.Background(), nil, req)
	require.NoError(t, err)
	require.Equal(t, event.SensitiveBytes{11, 22, 33, 44}, resp.SkPolySum)
	require.Equal(t, event.SensitiveBytes{5, 5, 5, 5}, resp.EsPolySum)
}

// TestThresholdDecryptionCombinesEveryPartysShare exercises the shape of
// S1: n parties each contribute a decryption share, and the threshold
// decryption step must be a pure function of all of them together — drop
// any one share and the result changes.
func TestThresholdDecryptionCombinesEveryPartysShare(t *testing.T) {
	k := NewReference(4)
	ct := []event.ArcBytes{{1, 1, 1, 1}}

	full := []event.ArcBytes{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}
	withAll, err := k.CalculateThresholdDecryption(context.Background(), nil, CalculateThresholdDecryptionRequest{
		Ciphertexts: ct, DSharePolys: full,
	})
	require.NoError(t, err)

	dropped, err := k.CalculateThresholdDecryption(context.Background(), nil, CalculateThresholdDecryptionRequest{
		Ciphertexts: ct, DSharePolys: full[:2],
	})
	require.NoError(t, err)

	require.NotEqual(t, withAll.Plaintext, dropped.Plaintext)
}
