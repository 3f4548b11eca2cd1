// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package ethereum

import (
	"context"
	"fmt"

	gethCommon "github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	gethTrie "github.com/ethereum/go-ethereum/trie"
	lru "github.com/hashicorp/golang-lru/v2"
)

type BlockLoader interface {
	GetBlock(ctx context.Context, hash gethCommon.Hash) (*gethTypes.Block, error)
	GetAllReceipts(ctx context.Context, block *gethTypes.Block) (gethTypes.Receipts, error)
}

type DefaultBlockLoader struct {
	Conn *Connection
}

func (d *DefaultBlockLoader) GetBlock(ctx context.Context, hash gethCommon.Hash) (*gethTypes.Block, error) {
	return d.Conn.client.BlockByHash(ctx, hash)
}

func (d *DefaultBlockLoader) GetAllReceipts(ctx context.Context, block *gethTypes.Block) (gethTypes.Receipts, error) {
	return GetAllReceipts(ctx, d.Conn, block)
}

type cachedBlock struct {
	block       *gethTypes.Block
	receiptTrie *gethTrie.Trie
}

// HeaderCache fetches and caches the blocks and receipt tries needed to
// construct proofs as the relay moves along the chain.
type HeaderCache struct {
	blockLoader BlockLoader
	blocks      *lru.Cache[gethCommon.Hash, *cachedBlock]
}

func NewHeaderCache(blockLoader BlockLoader, capacity int) (*HeaderCache, error) {
	if blockLoader == nil {
		return nil, fmt.Errorf("BlockLoader param is nil")
	}

	blocks, err := lru.New[gethCommon.Hash, *cachedBlock](capacity)
	if err != nil {
		return nil, err
	}

	return &HeaderCache{
		blockLoader: blockLoader,
		blocks:      blocks,
	}, nil
}

// GetReceiptTrie returns a Merkle Patricia trie constructed from the receipts
// of the block specified by `hash`. If the trie isn't cached, it will block
// for multiple seconds to fetch receipts and construct the trie.
func (s *HeaderCache) GetReceiptTrie(ctx context.Context, hash gethCommon.Hash) (*gethTrie.Trie, error) {
	cached, exists := s.blocks.Get(hash)
	if exists {
		return cached.receiptTrie, nil
	}

	block, err := s.blockLoader.GetBlock(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("get block: %w", err)
	}

	receipts, err := s.blockLoader.GetAllReceipts(ctx, block)
	if err != nil {
		return nil, fmt.Errorf("get all receipts: %w", err)
	}

	receiptTrie, err := MakeTrie(receipts)
	if err != nil {
		return nil, fmt.Errorf("make trie: %w", err)
	}

	if receiptTrie.Hash() != block.ReceiptHash() {
		return nil, fmt.Errorf("receipt trie does not match block receipt hash")
	}

	s.blocks.Add(hash, &cachedBlock{block: block, receiptTrie: receiptTrie})
	return receiptTrie, nil
}

// GetBlock returns the block for the given hash, preferring the cache.
func (s *HeaderCache) GetBlock(ctx context.Context, hash gethCommon.Hash) (*gethTypes.Block, error) {
	cached, exists := s.blocks.Get(hash)
	if exists {
		return cached.block, nil
	}

	block, err := s.blockLoader.GetBlock(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("get block: %w", err)
	}
	return block, nil
}
