// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package ethereum_test

import (
	"math/big"
	"testing"

	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidebridge/relay/chain"
	"github.com/tidebridge/relay/chain/ethereum"
	"github.com/tidebridge/relay/crypto/secp256k1"
)

func TestParseEndorsementRoundTrip(t *testing.T) {
	kp, err := secp256k1.GenerateKeypair()
	require.NoError(t, err)

	var endorsed chain.Hash
	endorsed[0] = 0xaa
	endorsed[31] = 0x55

	signature, err := kp.Sign(endorsed[:])
	require.NoError(t, err)

	extra, err := ethereum.MakeEndorsementExtra(endorsed, signature)
	require.NoError(t, err)

	header := &gethTypes.Header{
		Number: big.NewInt(42),
		Extra:  extra,
	}

	parsed, err := ethereum.ParseEndorsement(header)
	require.NoError(t, err)
	require.NotNil(t, parsed)

	assert.Equal(t, endorsed, parsed.Endorsed)
	assert.Equal(t, signature, parsed.Signature)
	assert.Equal(t, kp.CommonAddress(), parsed.Author)
}

func TestParseEndorsementMissing(t *testing.T) {
	header := &gethTypes.Header{
		Number: big.NewInt(1),
		Extra:  []byte("vanity only"),
	}

	parsed, err := ethereum.ParseEndorsement(header)
	require.NoError(t, err)
	assert.Nil(t, parsed)
}

func TestMakeEndorsementExtraRejectsBadSignature(t *testing.T) {
	var endorsed chain.Hash
	_, err := ethereum.MakeEndorsementExtra(endorsed, []byte{0x01, 0x02})
	assert.Error(t, err)
}
