// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package ethereum

import (
	"bytes"
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/core/rawdb"
	etypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	etrie "github.com/ethereum/go-ethereum/trie"
	"golang.org/x/sync/errgroup"
)

const receiptFetchBatchSize int = 100

// GetAllReceipts fetches all receipts for the given block in batches of
// receiptFetchBatchSize.
func GetAllReceipts(ctx context.Context, conn *Connection, block *etypes.Block) (etypes.Receipts, error) {
	transactions := block.Body().Transactions
	numTransactions := len(transactions)
	receiptsByIndex := sync.Map{}

	for i := 0; i < numTransactions; i += receiptFetchBatchSize {
		eg, ctx := errgroup.WithContext(ctx)
		upper := i + receiptFetchBatchSize
		if upper >= numTransactions {
			upper = numTransactions
		}
		for j, tx := range transactions[i:upper] {
			index := i + j
			txHash := tx.Hash()
			eg.Go(func() error {
				receipt, err := conn.client.TransactionReceipt(ctx, txHash)
				if err != nil {
					return err
				}
				receiptsByIndex.Store(index, receipt)
				return nil
			})
		}
		err := eg.Wait()
		if err != nil {
			return nil, err
		}
	}

	// Place receipts in same order as corresponding transactions
	receipts := make([]*etypes.Receipt, numTransactions)
	receiptsByIndex.Range(func(index interface{}, receipt interface{}) bool {
		receipts[index.(int)] = receipt.(*etypes.Receipt)
		return true
	})
	return receipts, nil
}

// MakeTrie builds the Merkle Patricia trie over a block's receipts, keyed by
// RLP-encoded transaction index. Its root must match the block's receipt
// hash.
func MakeTrie(receipts etypes.Receipts) (*etrie.Trie, error) {
	tr := etrie.NewEmpty(etrie.NewDatabase(rawdb.NewMemoryDatabase(), nil))

	var valueBuf bytes.Buffer
	for i := 0; i < receipts.Len(); i++ {
		key, err := rlp.EncodeToBytes(uint64(i))
		if err != nil {
			return nil, err
		}
		valueBuf.Reset()
		receipts.EncodeIndex(i, &valueBuf)
		err = tr.Update(key, bytes.Clone(valueBuf.Bytes()))
		if err != nil {
			return nil, err
		}
	}

	return tr, nil
}

// ProofData is an ordered accumulator for trie proof nodes, collected through
// the ethdb.KeyValueWriter interface that Trie.Prove writes into.
type ProofData struct {
	Keys   [][]byte
	Values [][]byte
}

func NewProofData() *ProofData {
	return &ProofData{}
}

func (p *ProofData) Put(key []byte, value []byte) error {
	p.Keys = append(p.Keys, bytes.Clone(key))
	p.Values = append(p.Values, bytes.Clone(value))
	return nil
}

func (p *ProofData) Delete(_ []byte) error {
	return nil
}

// ProveReceipt generates a Merkle proof for the receipt at the given
// transaction index.
func ProveReceipt(receiptsTrie *etrie.Trie, txIndex uint64) (*ProofData, error) {
	receiptKey, err := rlp.EncodeToBytes(txIndex)
	if err != nil {
		return nil, err
	}

	proof := NewProofData()
	err = receiptsTrie.Prove(receiptKey, proof)
	if err != nil {
		return nil, err
	}

	return proof, nil
}
