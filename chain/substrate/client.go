// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package substrate

import (
	"context"
	"fmt"

	"github.com/snowfork/go-substrate-rpc-client/v4/types"

	"github.com/tidebridge/relay/chain"
	"github.com/tidebridge/relay/finality"
)

// GrandpaEngineID marks GRANDPA justifications in a block's justification
// list.
const GrandpaEngineID = "FRNK"

// Client provides the chain reads the relays need on top of a Connection.
type Client struct {
	conn *Connection
}

var _ chain.Client = (*Client)(nil)

func NewClient(conn *Connection) *Client {
	return &Client{conn: conn}
}

func (cl *Client) Connection() *Connection {
	return cl.conn
}

func makeHeaderID(header *types.Header, hash types.Hash) chain.HeaderID {
	var h chain.Hash
	copy(h[:], hash[:])
	return chain.HeaderID{Number: uint64(header.Number), Hash: h}
}

func makeHeader(header *types.Header, hash types.Hash) *chain.Header {
	var parent chain.Hash
	copy(parent[:], header.ParentHash[:])
	number := uint64(header.Number)
	var parentNumber uint64
	if number > 0 {
		parentNumber = number - 1
	}
	return &chain.Header{
		ID:       makeHeaderID(header, hash),
		ParentID: chain.HeaderID{Number: parentNumber, Hash: parent},
		Payload:  header,
	}
}

func (cl *Client) BestHeader(_ context.Context) (chain.HeaderID, error) {
	block, err := cl.conn.API().RPC.Chain.GetBlockLatest()
	if err != nil {
		return chain.HeaderID{}, chain.Transient(fmt.Errorf("fetch best block: %w", err))
	}
	hash, err := cl.conn.API().RPC.Chain.GetBlockHash(uint64(block.Block.Header.Number))
	if err != nil {
		return chain.HeaderID{}, chain.Transient(fmt.Errorf("fetch best block hash: %w", err))
	}
	return makeHeaderID(&block.Block.Header, hash), nil
}

func (cl *Client) FinalizedHeader(_ context.Context) (chain.HeaderID, error) {
	header, hash, err := cl.conn.GetFinalizedHeader()
	if err != nil {
		return chain.HeaderID{}, chain.Transient(fmt.Errorf("fetch finalized header: %w", err))
	}
	return makeHeaderID(header, hash), nil
}

func (cl *Client) Header(_ context.Context, id chain.HeaderID) (*chain.Header, error) {
	hash := types.Hash(id.Hash)
	header, err := cl.conn.API().RPC.Chain.GetHeader(hash)
	if err != nil {
		return nil, chain.Transient(fmt.Errorf("fetch header %s: %w", id, err))
	}
	if header == nil {
		return nil, chain.ErrNotFound
	}
	return makeHeader(header, hash), nil
}

// JustificationAt extracts the GRANDPA justification attached to the given
// block, or NotFound when the block carries none. Most blocks do not:
// justifications are emitted on finality boundaries only.
func (cl *Client) JustificationAt(_ context.Context, id chain.HeaderID) (*finality.GrandpaJustification, error) {
	block, err := cl.conn.API().RPC.Chain.GetBlock(types.Hash(id.Hash))
	if err != nil {
		return nil, chain.Transient(fmt.Errorf("fetch block %s: %w", id, err))
	}

	for j := range block.Justifications {
		if block.Justifications[j].EngineID() != GrandpaEngineID {
			continue
		}
		justification, err := finality.DecodeGrandpaJustification(block.Justifications[j].Payload())
		if err != nil {
			return nil, chain.Permanent(fmt.Errorf("decode justification at %s: %w", id, err))
		}
		return justification, nil
	}

	return nil, chain.ErrNotFound
}

// FindBestJustified walks down from the finalized head looking for the most
// recent block carrying a GRANDPA justification, bounded by maxLookback.
func (cl *Client) FindBestJustified(ctx context.Context, maxLookback uint64) (chain.HeaderID, *finality.GrandpaJustification, error) {
	finalized, err := cl.FinalizedHeader(ctx)
	if err != nil {
		return chain.HeaderID{}, nil, err
	}

	id := finalized
	for walked := uint64(0); walked <= maxLookback; walked++ {
		justification, err := cl.JustificationAt(ctx, id)
		if err == nil {
			return id, justification, nil
		}
		if !chain.IsNotFound(err) {
			return chain.HeaderID{}, nil, err
		}
		if id.Number == 0 {
			break
		}

		header, err := cl.Header(ctx, id)
		if err != nil {
			return chain.HeaderID{}, nil, err
		}
		id = header.ParentID
	}

	return chain.HeaderID{}, nil, chain.ErrNotFound
}

// FinalityProof returns the GRANDPA justification attached to the given
// block, or NotFound when the block carries none.
func (cl *Client) FinalityProof(ctx context.Context, id chain.HeaderID) (chain.FinalityProof, error) {
	justification, err := cl.JustificationAt(ctx, id)
	if err != nil {
		return nil, err
	}
	return justification, nil
}

// SubmitTx submits a pre-signed extrinsic without watching its status. The
// Writer is the managed path; this exists for fire-and-forget submission.
func (cl *Client) SubmitTx(_ context.Context, tx interface{}) (chain.Hash, error) {
	ext, ok := tx.(*types.Extrinsic)
	if !ok {
		return chain.Hash{}, chain.Fatal(fmt.Errorf("unexpected transaction payload %T", tx))
	}

	hash, err := cl.conn.API().RPC.Author.SubmitExtrinsic(*ext)
	if err != nil {
		return chain.Hash{}, chain.Transient(fmt.Errorf("submit extrinsic: %w", err))
	}

	var out chain.Hash
	copy(out[:], hash[:])
	return out, nil
}

// SubscribeNewHeads streams ids of new best headers over the node's native
// subscription.
func (cl *Client) SubscribeNewHeads(ctx context.Context) (<-chan chain.HeadEvent, error) {
	sub, err := cl.conn.API().RPC.Chain.SubscribeNewHeads()
	if err != nil {
		return nil, chain.Transient(fmt.Errorf("subscribe new heads: %w", err))
	}

	out := make(chan chain.HeadEvent)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case header, ok := <-sub.Chan():
				if !ok {
					return
				}
				hash, err := cl.conn.API().RPC.Chain.GetBlockHash(uint64(header.Number))
				event := chain.HeadEvent{}
				if err != nil {
					event.Err = chain.Transient(fmt.Errorf("fetch head hash: %w", err))
				} else {
					event.ID = makeHeaderID(&header, hash)
				}

				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			case err := <-sub.Err():
				select {
				case out <- chain.HeadEvent{Err: chain.Transient(err)}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	return out, nil
}

type readProof struct {
	At    string   `json:"at"`
	Proof []string `json:"proof"`
}

// StorageProof generates a storage read proof for the given keys at a block.
func (cl *Client) StorageProof(_ context.Context, at chain.Hash, keys [][]byte) (*chain.StorageProof, error) {
	keysHex := make([]string, len(keys))
	for i, key := range keys {
		keysHex[i] = types.HexEncodeToString(key)
	}

	var proof readProof
	err := cl.conn.API().Client.Call(&proof, "state_getReadProof", keysHex, types.Hash(at).Hex())
	if err != nil {
		return nil, chain.Transient(fmt.Errorf("fetch read proof: %w", err))
	}

	nodes := make([][]byte, len(proof.Proof))
	for i, node := range proof.Proof {
		decoded, err := types.HexDecodeString(node)
		if err != nil {
			return nil, chain.Permanent(fmt.Errorf("decode proof node: %w", err))
		}
		nodes[i] = decoded
	}

	return &chain.StorageProof{
		At:    at,
		Keys:  keys,
		Nodes: nodes,
	}, nil
}
