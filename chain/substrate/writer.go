// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package substrate

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/snowfork/go-substrate-rpc-client/v4/rpc/author"
	"github.com/snowfork/go-substrate-rpc-client/v4/types"
	"golang.org/x/sync/errgroup"
)

// Writer signs and submits extrinsics to the bridge pallets. It owns the
// account nonce; all submissions for one signing key must go through a single
// Writer.
type Writer struct {
	conn                 *Connection
	nonce                uint32
	pool                 *ExtrinsicPool
	genesisHash          types.Hash
	maxWatchedExtrinsics int64
	mu                   sync.Mutex
}

func NewWriter(conn *Connection, maxWatchedExtrinsics int64) *Writer {
	return &Writer{
		conn:                 conn,
		maxWatchedExtrinsics: maxWatchedExtrinsics,
	}
}

func (wr *Writer) Start(ctx context.Context, eg *errgroup.Group) error {
	nonce, err := wr.queryAccountNonce()
	if err != nil {
		return err
	}

	wr.nonce = nonce

	genesisHash, err := wr.conn.API().RPC.Chain.GetBlockHash(0)
	if err != nil {
		return err
	}
	wr.genesisHash = genesisHash

	wr.pool = NewExtrinsicPool(eg, wr.conn, wr.maxWatchedExtrinsics)

	return nil
}

// WriteAndRateLimit submits an extrinsic through the bounded pool and returns
// once it is accepted by the node, not once it is finalized.
func (wr *Writer) WriteAndRateLimit(ctx context.Context, extrinsicName string, payload ...interface{}) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	extI, err := wr.prepExtrinsic(ctx, extrinsicName, payload...)
	if err != nil {
		return err
	}

	callback := func(h types.Hash) error { return nil }

	err = wr.pool.WaitForSubmitAndWatch(ctx, extI, callback)
	if err != nil {
		return err
	}

	wr.nonce = wr.nonce + 1

	return nil
}

// WriteAndWatch submits an extrinsic and blocks until it is finalized or
// removed from the transaction pool.
func (wr *Writer) WriteAndWatch(ctx context.Context, extrinsicName string, payload ...interface{}) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	sub, err := wr.write(ctx, extrinsicName, payload...)
	if err != nil {
		return err
	}

	wr.nonce = wr.nonce + 1

	defer sub.Unsubscribe()

	for {
		select {
		case status := <-sub.Chan():
			if status.IsDropped || status.IsInvalid || status.IsUsurped || status.IsFinalityTimeout {
				return fmt.Errorf("extrinsic %s was dropped, invalid, usurped or finality timed out", extrinsicName)
			}
			if status.IsFinalized {
				log.WithFields(log.Fields{
					"extrinsic": extrinsicName, "block": status.AsFinalized}).Debug("extrinsic finalized")
				return nil
			}
		case err = <-sub.Err():
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (wr *Writer) write(ctx context.Context, extrinsicName string, payload ...interface{}) (*author.ExtrinsicStatusSubscription, error) {
	extI, err := wr.prepExtrinsic(ctx, extrinsicName, payload...)
	if err != nil {
		return nil, err
	}

	sub, err := wr.conn.API().RPC.Author.SubmitAndWatchExtrinsic(*extI)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (wr *Writer) queryAccountNonce() (uint32, error) {
	key, err := types.CreateStorageKey(wr.conn.Metadata(), "System", "Account", wr.conn.Keypair().PublicKey, nil)
	if err != nil {
		return 0, err
	}

	var accountInfo types.AccountInfo
	ok, err := wr.conn.API().RPC.State.GetStorageLatest(key, &accountInfo)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("no account info found for %s", wr.conn.Keypair().URI)
	}

	return uint32(accountInfo.Nonce), nil
}

func (wr *Writer) prepExtrinsic(_ context.Context, extrinsicName string, payload ...interface{}) (*types.Extrinsic, error) {
	meta, err := wr.conn.API().RPC.State.GetMetadataLatest()
	if err != nil {
		return nil, err
	}

	c, err := types.NewCall(meta, extrinsicName, payload...)
	if err != nil {
		return nil, err
	}

	latestHash, err := wr.conn.API().RPC.Chain.GetFinalizedHead()
	if err != nil {
		return nil, err
	}

	latestBlock, err := wr.conn.API().RPC.Chain.GetBlock(latestHash)
	if err != nil {
		return nil, err
	}

	ext := types.NewExtrinsic(c)
	era := NewMortalEra(uint64(latestBlock.Block.Header.Number))

	genesisHash, err := wr.conn.API().RPC.Chain.GetBlockHash(0)
	if err != nil {
		return nil, err
	}

	rv, err := wr.conn.API().RPC.State.GetRuntimeVersionLatest()
	if err != nil {
		return nil, err
	}

	o := types.SignatureOptions{
		BlockHash:          latestHash,
		Era:                era,
		GenesisHash:        genesisHash,
		Nonce:              types.NewUCompactFromUInt(uint64(wr.nonce)),
		SpecVersion:        rv.SpecVersion,
		Tip:                types.NewUCompactFromUInt(0),
		TransactionVersion: rv.TransactionVersion,
	}

	extI := ext

	err = extI.Sign(*wr.conn.Keypair(), o)
	if err != nil {
		return nil, err
	}

	return &extI, nil
}

// GetStorage reads a pallet storage value at the latest block. Returns false
// when the key has no value.
func (wr *Writer) GetStorage(pallet, storage string, arg []byte, into interface{}) (bool, error) {
	key, err := types.CreateStorageKey(wr.conn.Metadata(), pallet, storage, arg, nil)
	if err != nil {
		return false, fmt.Errorf("create storage key for %s.%s: %w", pallet, storage, err)
	}

	ok, err := wr.conn.API().RPC.State.GetStorageLatest(key, into)
	if err != nil {
		return false, fmt.Errorf("get storage %s.%s: %w", pallet, storage, err)
	}
	return ok, nil
}

// GetStorageAt reads a pallet storage value at a specific block.
func (wr *Writer) GetStorageAt(pallet, storage string, arg []byte, blockHash types.Hash, into interface{}) (bool, error) {
	key, err := types.CreateStorageKey(wr.conn.Metadata(), pallet, storage, arg, nil)
	if err != nil {
		return false, fmt.Errorf("create storage key for %s.%s: %w", pallet, storage, err)
	}

	ok, err := wr.conn.API().RPC.State.GetStorage(key, into, blockHash)
	if err != nil {
		return false, fmt.Errorf("get storage %s.%s at %s: %w", pallet, storage, blockHash.Hex(), err)
	}
	return ok, nil
}

// HasKey reports whether a pallet storage key holds a value at the latest
// block, without decoding it.
func (wr *Writer) HasKey(pallet, storage string, arg []byte) (bool, error) {
	key, err := types.CreateStorageKey(wr.conn.Metadata(), pallet, storage, arg, nil)
	if err != nil {
		return false, fmt.Errorf("create storage key for %s.%s: %w", pallet, storage, err)
	}

	raw, err := wr.conn.API().RPC.State.GetStorageRawLatest(key)
	if err != nil {
		return false, fmt.Errorf("get storage %s.%s: %w", pallet, storage, err)
	}
	return raw != nil && len(*raw) > 0, nil
}

// GetNumber reads a numeric pallet storage value at the latest block.
func (wr *Writer) GetNumber(pallet, storage string, arg []byte) (uint64, error) {
	var number types.U64
	_, err := wr.GetStorage(pallet, storage, arg, &number)
	if err != nil {
		return 0, err
	}
	return uint64(number), nil
}
