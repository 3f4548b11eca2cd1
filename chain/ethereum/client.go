// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

// Package ethereum talks to a proof-of-authority Ethereum chain: header and
// receipt reads, endorsement extraction for finality proofs, and lane
// contract calls.
package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	goEthereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"

	"github.com/tidebridge/relay/chain"
	"github.com/tidebridge/relay/finality"
)

// Client reads chain state through a Connection. Finality on PoA chains is
// probabilistic until enough authorities build on a header, so the finalized
// view trails the best head by a configured depth.
type Client struct {
	conn *Connection
	// Blocks below best minus this depth are treated as final.
	descendantsUntilFinal uint64
	pollInterval          time.Duration
	// Authority set snapshot used when building finality proofs. Empty when
	// the client is only used for reads.
	authorities finality.StaticAuthorities
}

var _ chain.Client = (*Client)(nil)

func NewClient(conn *Connection, descendantsUntilFinal uint64, pollInterval time.Duration, authorities finality.StaticAuthorities) *Client {
	return &Client{
		conn:                  conn,
		descendantsUntilFinal: descendantsUntilFinal,
		pollInterval:          pollInterval,
		authorities:           authorities,
	}
}

func (cl *Client) Connection() *Connection {
	return cl.conn
}

func makeHeaderID(header *gethTypes.Header) chain.HeaderID {
	var hash chain.Hash
	copy(hash[:], header.Hash().Bytes())
	return chain.HeaderID{Number: header.Number.Uint64(), Hash: hash}
}

func makeHeader(header *gethTypes.Header) *chain.Header {
	var parent chain.Hash
	copy(parent[:], header.ParentHash.Bytes())
	number := header.Number.Uint64()
	var parentNumber uint64
	if number > 0 {
		parentNumber = number - 1
	}
	return &chain.Header{
		ID:       makeHeaderID(header),
		ParentID: chain.HeaderID{Number: parentNumber, Hash: parent},
		Payload:  header,
	}
}

func (cl *Client) BestHeader(ctx context.Context) (chain.HeaderID, error) {
	header, err := cl.conn.Client().HeaderByNumber(ctx, nil)
	if err != nil {
		return chain.HeaderID{}, chain.Transient(fmt.Errorf("fetch best header: %w", err))
	}
	return makeHeaderID(header), nil
}

func (cl *Client) FinalizedHeader(ctx context.Context) (chain.HeaderID, error) {
	best, err := cl.conn.Client().HeaderByNumber(ctx, nil)
	if err != nil {
		return chain.HeaderID{}, chain.Transient(fmt.Errorf("fetch best header: %w", err))
	}

	number := best.Number.Uint64()
	if number < cl.descendantsUntilFinal {
		return makeHeaderID(best), nil
	}

	finalized, err := cl.conn.Client().HeaderByNumber(ctx, new(big.Int).SetUint64(number-cl.descendantsUntilFinal))
	if err != nil {
		return chain.HeaderID{}, chain.Transient(fmt.Errorf("fetch finalized header: %w", err))
	}
	return makeHeaderID(finalized), nil
}

func (cl *Client) Header(ctx context.Context, id chain.HeaderID) (*chain.Header, error) {
	header, err := cl.conn.Client().HeaderByHash(ctx, common.Hash(id.Hash))
	if err != nil {
		if errors.Is(err, goEthereum.NotFound) {
			return nil, chain.ErrNotFound
		}
		return nil, chain.Transient(fmt.Errorf("fetch header %s: %w", id, err))
	}
	return makeHeader(header), nil
}

// Endorsement reads the canonical header at the given height and unpacks its
// embedded finality endorsement. Only endorsements of the requested target
// carry a signature; anything else contributes its descent position alone.
func (cl *Client) Endorsement(ctx context.Context, number uint64, target chain.HeaderID) (*finality.Endorsement, error) {
	header, err := cl.conn.Client().HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		if errors.Is(err, goEthereum.NotFound) {
			return nil, chain.ErrNotFound
		}
		return nil, chain.Transient(fmt.Errorf("fetch header at %d: %w", number, err))
	}
	if header == nil {
		return nil, chain.ErrNotFound
	}

	parsed := makeHeader(header)
	endorsement := &finality.Endorsement{
		ID:       parsed.ID,
		ParentID: parsed.ParentID,
	}

	embedded, err := ParseEndorsement(header)
	if err != nil {
		return nil, chain.Permanent(fmt.Errorf("parse endorsement at %d: %w", number, err))
	}
	if embedded != nil && embedded.Endorsed == target.Hash {
		endorsement.Author = embedded.Author
		endorsement.Signature = embedded.Signature
	}

	return endorsement, nil
}

// FinalityProof builds the ordered-signature proof for a finalized header by
// collecting endorsements from its canonical descendants. NotFound while too
// few descendants have endorsed it.
func (cl *Client) FinalityProof(ctx context.Context, id chain.HeaderID) (chain.FinalityProof, error) {
	if len(cl.authorities) == 0 {
		return nil, chain.Permanent(fmt.Errorf("no authority set configured"))
	}
	return finality.BuildPoAProof(ctx, cl, id, cl.authorities)
}

// Length of an account-qualified storage key: 20-byte contract address plus
// the 32-byte slot.
const storageKeyLen = common.AddressLength + common.HashLength

// StorageProof generates a Merkle-Patricia proof for contract storage slots.
// Each key is an address-qualified slot; all keys must name the same
// contract.
func (cl *Client) StorageProof(ctx context.Context, at chain.Hash, keys [][]byte) (*chain.StorageProof, error) {
	header, err := cl.conn.Client().HeaderByHash(ctx, common.Hash(at))
	if err != nil {
		if errors.Is(err, goEthereum.NotFound) {
			return nil, chain.ErrNotFound
		}
		return nil, chain.Transient(fmt.Errorf("fetch header %s: %w", at.Hex(), err))
	}

	var account common.Address
	slots := make([]string, len(keys))
	for i, key := range keys {
		if len(key) != storageKeyLen {
			return nil, chain.Permanent(fmt.Errorf("storage key must be %d bytes, got %d", storageKeyLen, len(key)))
		}
		addr := common.BytesToAddress(key[:common.AddressLength])
		if i == 0 {
			account = addr
		} else if addr != account {
			return nil, chain.Permanent(fmt.Errorf("storage keys span multiple contracts"))
		}
		slots[i] = common.BytesToHash(key[common.AddressLength:]).Hex()
	}

	result, err := gethclient.New(cl.conn.Client().Client()).GetProof(ctx, account, slots, header.Number)
	if err != nil {
		return nil, chain.Transient(fmt.Errorf("fetch storage proof: %w", err))
	}

	proof := &chain.StorageProof{At: at, Keys: keys}
	for _, node := range result.AccountProof {
		proof.Nodes = append(proof.Nodes, common.FromHex(node))
	}
	for _, slot := range result.StorageProof {
		proof.Values = append(proof.Values, slot.Value.Bytes())
		for _, node := range slot.Proof {
			proof.Nodes = append(proof.Nodes, common.FromHex(node))
		}
	}
	return proof, nil
}

// SubmitTx broadcasts a pre-signed transaction without watching its
// inclusion. Connection.WatchTransaction is the managed path.
func (cl *Client) SubmitTx(ctx context.Context, tx interface{}) (chain.Hash, error) {
	signed, ok := tx.(*gethTypes.Transaction)
	if !ok {
		return chain.Hash{}, chain.Fatal(fmt.Errorf("unexpected transaction payload %T", tx))
	}

	if err := cl.conn.Client().SendTransaction(ctx, signed); err != nil {
		return chain.Hash{}, chain.Transient(fmt.Errorf("send transaction: %w", err))
	}

	var hash chain.Hash
	copy(hash[:], signed.Hash().Bytes())
	return hash, nil
}

// SubscribeNewHeads polls for new best headers. Polling rather than a
// websocket subscription keeps the client usable over plain HTTP endpoints.
func (cl *Client) SubscribeNewHeads(ctx context.Context) (<-chan chain.HeadEvent, error) {
	out := make(chan chain.HeadEvent)

	go func() {
		defer close(out)
		ticker := time.NewTicker(cl.pollInterval)
		defer ticker.Stop()

		var last chain.HeaderID
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			head, err := cl.BestHeader(ctx)
			if err != nil {
				select {
				case out <- chain.HeadEvent{Err: err}:
				case <-ctx.Done():
					return
				}
				continue
			}
			if head == last {
				continue
			}
			last = head

			select {
			case out <- chain.HeadEvent{ID: head}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
