// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package finality

import (
	"testing"

	"github.com/snowfork/go-substrate-rpc-client/v4/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeJustification(t *testing.T, votes int) *GrandpaJustification {
	t.Helper()

	targetHash := types.NewH256([]byte{
		1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16,
		17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32,
	})

	precommits := make([]GrandpaSignedPrecommit, votes)
	for i := range precommits {
		var voter [32]byte
		voter[0] = byte(i + 1)
		precommits[i] = GrandpaSignedPrecommit{
			Precommit: GrandpaPrecommit{
				TargetHash:   targetHash,
				TargetNumber: 90,
			},
			ID: types.NewH256(voter[:]),
		}
	}

	encoded, err := types.EncodeToBytes(struct {
		Round  types.U64
		Commit struct {
			TargetHash   types.H256
			TargetNumber types.U32
			Precommits   []GrandpaSignedPrecommit
		}
		VotesAncestries []types.Header
	}{
		Round: 7,
		Commit: struct {
			TargetHash   types.H256
			TargetNumber types.U32
			Precommits   []GrandpaSignedPrecommit
		}{
			TargetHash:   targetHash,
			TargetNumber: 90,
			Precommits:   precommits,
		},
	})
	require.NoError(t, err)

	justification, err := DecodeGrandpaJustification(encoded)
	require.NoError(t, err)
	return justification
}

func TestDecodeGrandpaJustificationEnvelope(t *testing.T) {
	j := makeJustification(t, 3)

	assert.Equal(t, types.U64(7), j.Round)
	assert.Equal(t, uint64(90), j.Target().Number)
	assert.Len(t, j.Commit.Precommits, 3)
	assert.NotEmpty(t, j.Raw())
}

func TestSupermajorityThreshold(t *testing.T) {
	tests := []struct {
		setSize   int
		threshold int
	}{
		{1, 1},
		{3, 3},
		{4, 3},
		{7, 5},
		{10, 7},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.threshold, SupermajorityThreshold(tt.setSize), "set size %d", tt.setSize)
	}
}

func TestCheckSupermajorityExactThresholdAccepted(t *testing.T) {
	// 3 of 4 voters is exactly the supermajority threshold.
	j := makeJustification(t, 3)
	assert.NoError(t, CheckSupermajority(j, 4))
}

func TestCheckSupermajorityInsufficientVotesRejected(t *testing.T) {
	j := makeJustification(t, 2)
	err := CheckSupermajority(j, 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "precommits")
}

func TestCheckSupermajorityRejectsForeignVotes(t *testing.T) {
	j := makeJustification(t, 3)

	var other [32]byte
	other[0] = 0xff
	j.Commit.Precommits[1].Precommit.TargetHash = types.NewH256(other[:])

	err := CheckSupermajority(j, 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside the declared ancestry")
}
