// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package ethereum

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboundLaneABI(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(OutboundLaneABI))
	require.NoError(t, err)

	for _, name := range []string{
		"latestGeneratedNonce",
		"latestReceivedNonce",
		"rewardOf",
		"messageCommitment",
		"submitDeliveryConfirmation",
	} {
		_, ok := parsed.Methods[name]
		assert.True(t, ok, "method %s missing from lane ABI", name)
	}

	commitment := parsed.Methods["messageCommitment"]
	require.Len(t, commitment.Inputs, 2)
	assert.Equal(t, "bytes32", commitment.Inputs[0].Type.String())
	assert.Equal(t, "uint64", commitment.Inputs[1].Type.String())
	require.Len(t, commitment.Outputs, 1)
	assert.Equal(t, "bytes32", commitment.Outputs[0].Type.String())
}
