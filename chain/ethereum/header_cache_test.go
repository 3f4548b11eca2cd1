// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package ethereum_test

import (
	"context"
	"math/big"
	"testing"

	gethCommon "github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tidebridge/relay/chain/ethereum"
)

type TestBlockLoader struct {
	mock.Mock
}

func (tbl *TestBlockLoader) GetBlock(_ context.Context, hash gethCommon.Hash) (*gethTypes.Block, error) {
	args := tbl.Called(hash)
	return args.Get(0).(*gethTypes.Block), args.Error(1)
}

func (tbl *TestBlockLoader) GetAllReceipts(_ context.Context, block *gethTypes.Block) (gethTypes.Receipts, error) {
	args := tbl.Called(block)
	return args.Get(0).(gethTypes.Receipts), args.Error(1)
}

func emptyBlock(number int64) *gethTypes.Block {
	header := gethTypes.Header{
		Number:      big.NewInt(number),
		TxHash:      gethTypes.EmptyTxsHash,
		ReceiptHash: gethTypes.EmptyReceiptsHash,
	}
	return gethTypes.NewBlockWithHeader(&header)
}

func TestHeaderCacheFetchesAndCaches(t *testing.T) {
	block := emptyBlock(1)
	loader := &TestBlockLoader{}
	loader.On("GetBlock", block.Hash()).Return(block, nil).Once()
	loader.On("GetAllReceipts", block).Return(gethTypes.Receipts{}, nil).Once()

	cache, err := ethereum.NewHeaderCache(loader, 4)
	require.NoError(t, err)

	receiptTrie, err := cache.GetReceiptTrie(context.Background(), block.Hash())
	require.NoError(t, err)
	assert.Equal(t, block.ReceiptHash(), receiptTrie.Hash())

	// Second read is served from cache: the loader is never hit again.
	_, err = cache.GetReceiptTrie(context.Background(), block.Hash())
	require.NoError(t, err)
	loader.AssertExpectations(t)
}

func TestHeaderCacheRejectsNilLoader(t *testing.T) {
	_, err := ethereum.NewHeaderCache(nil, 4)
	assert.Error(t, err)
}

func TestMakeTrieMatchesDeriveSha(t *testing.T) {
	receipts := gethTypes.Receipts{
		&gethTypes.Receipt{Status: gethTypes.ReceiptStatusSuccessful, CumulativeGasUsed: 21000},
		&gethTypes.Receipt{Status: gethTypes.ReceiptStatusSuccessful, CumulativeGasUsed: 42000},
		&gethTypes.Receipt{Status: gethTypes.ReceiptStatusFailed, CumulativeGasUsed: 63000},
	}

	receiptTrie, err := ethereum.MakeTrie(receipts)
	require.NoError(t, err)

	expected := gethTypes.DeriveSha(receipts, trie.NewStackTrie(nil))
	assert.Equal(t, expected, receiptTrie.Hash())
}

func TestProveReceipt(t *testing.T) {
	receipts := gethTypes.Receipts{
		&gethTypes.Receipt{Status: gethTypes.ReceiptStatusSuccessful, CumulativeGasUsed: 21000},
		&gethTypes.Receipt{Status: gethTypes.ReceiptStatusSuccessful, CumulativeGasUsed: 42000},
	}

	receiptTrie, err := ethereum.MakeTrie(receipts)
	require.NoError(t, err)

	proof, err := ethereum.ProveReceipt(receiptTrie, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, proof.Keys)
	assert.NotEmpty(t, proof.Values)
}
