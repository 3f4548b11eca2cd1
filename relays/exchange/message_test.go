// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package exchange

import (
	"testing"

	gethCommon "github.com/ethereum/go-ethereum/common"
	etypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/snowfork/go-substrate-rpc-client/v4/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidebridge/relay/chain/ethereum"
)

func makeLockReceipts() etypes.Receipts {
	return etypes.Receipts{
		{
			Status:            etypes.ReceiptStatusSuccessful,
			CumulativeGasUsed: 21000,
			Logs: []*etypes.Log{
				{
					Address: gethCommon.HexToAddress("0x774667629726ec1FaBEbCEc0D9139bD1C8f72a23"),
					Topics: []gethCommon.Hash{
						lockedTopic,
						gethCommon.HexToHash("0x00000000000000000000000089b4ab1ef20763630df9743acf155865600daff2"),
					},
					Data: gethCommon.FromHex("0x00000000000000000000000000000000000000000000000000000000000003e8"),
				},
			},
		},
	}
}

func TestMakeLockMessage(t *testing.T) {
	receipts := makeLockReceipts()
	receiptsTrie, err := ethereum.MakeTrie(receipts)
	require.NoError(t, err)

	event := receipts[0].Logs[0]
	event.BlockHash = gethCommon.HexToHash("0x3454ce18fdbf8d2bbbe07e472e66a4df677ba04f053d052a34a450a598963d23")
	event.TxIndex = 0

	message, err := MakeLockMessage(event, receiptsTrie)
	require.NoError(t, err)

	assert.Equal(t, types.H160(event.Address), message.EventLog.Address)
	assert.Len(t, message.EventLog.Topics, 2)
	assert.Equal(t, types.NewH256(event.BlockHash.Bytes()), message.Proof.BlockHash)
	assert.NotEmpty(t, message.Proof.Data.Keys)
	assert.Equal(t, len(message.Proof.Data.Keys), len(message.Proof.Data.Values))

	encoded, err := types.EncodeToBytes(message)
	require.NoError(t, err)
	assert.NotEmpty(t, encoded)
}
