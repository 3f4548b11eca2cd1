// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Hash is a 32-byte block hash. Both supported chain families use 32-byte
// hashes, so the relay engine can share one identifier type.
type Hash [32]byte

func (h Hash) Hex() string {
	return hexutil.Encode(h[:])
}

// HeaderID identifies a header by height and hash. IDs are totally ordered by
// number; the hash disambiguates forks at equal height.
type HeaderID struct {
	Number uint64
	Hash   Hash
}

func (id HeaderID) String() string {
	return fmt.Sprintf("#%d (%s)", id.Number, id.Hash.Hex())
}

// Header is a chain header observed from a client. Payload holds the
// chain-specific representation and is only interpreted by the chain package
// that produced it.
type Header struct {
	ID       HeaderID
	ParentID HeaderID
	Payload  interface{}
}

// FinalityProof is evidence that a header is irreversible under the source
// chain's consensus rule. Concrete variants live in the finality package.
type FinalityProof interface {
	// Kind names the consensus rule the proof belongs to, e.g. "poa" or
	// "grandpa".
	Kind() string
	// Target is the header the proof finalizes.
	Target() HeaderID
}

// StorageProof carries a read proof for a set of storage keys at a block.
type StorageProof struct {
	At     Hash
	Keys   [][]byte
	Values [][]byte
	// Nodes are the raw proof nodes in the format the verifying chain
	// expects. The on-chain module owns the schema.
	Nodes [][]byte
}

// HeadEvent is one item of a new-heads subscription. A non-nil Err terminates
// the stream; the subscription may be restarted by calling SubscribeNewHeads
// again.
type HeadEvent struct {
	ID  HeaderID
	Err error
}

// Client is the minimal read/submit surface the relay needs from a chain.
// Implementations exist for Ethereum-PoA style RPC and Substrate style RPC.
// All operations are network I/O only and never mutate relay state.
type Client interface {
	// BestHeader returns the id of the chain's current best (not necessarily
	// final) header.
	BestHeader(ctx context.Context) (HeaderID, error)

	// FinalizedHeader returns the id of the best header that is final under
	// the chain's consensus rule.
	FinalizedHeader(ctx context.Context) (HeaderID, error)

	// Header fetches a header by id. Returns a NotFound error if the chain
	// does not know the hash.
	Header(ctx context.Context, id HeaderID) (*Header, error)

	// FinalityProof fetches or constructs the finality proof for the given
	// header. Returns a NotFound error while no proof is available yet.
	FinalityProof(ctx context.Context, id HeaderID) (FinalityProof, error)

	// StorageProof generates a read proof for the given keys at a block.
	StorageProof(ctx context.Context, at Hash, keys [][]byte) (*StorageProof, error)

	// SubmitTx submits a signed, chain-specific transaction and returns its
	// hash. The transaction payload is owned by the concrete implementation.
	SubmitTx(ctx context.Context, tx interface{}) (Hash, error)

	// SubscribeNewHeads streams ids of new best headers. The stream is lazy
	// and unbounded; it ends when ctx is cancelled or an error is emitted.
	SubscribeNewHeads(ctx context.Context) (<-chan HeadEvent, error)
}
