// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

// Package messages delivers ordered, proven application messages across a
// lane: a unidirectional channel between a fixed source and target chain.
// Two races run per lane. The delivery race proves undelivered outbound
// messages to the target; the confirmation race proves the target's inbound
// state back to the source so relayer rewards settle.
package messages

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/tidebridge/relay/chain"
)

// LaneID identifies one message lane.
type LaneID [32]byte

func (l LaneID) Hex() string {
	return hexutil.Encode(l[:])
}

// OutboundLaneState is the source chain's view of a lane.
// LatestReceivedNonce never exceeds LatestGeneratedNonce.
type OutboundLaneState struct {
	// Highest nonce of a message queued on the lane.
	LatestGeneratedNonce uint64
	// Highest nonce the source knows the target confirmed receiving.
	LatestReceivedNonce uint64
}

// InboundLaneState is the target chain's view of a lane. Nonces form a
// contiguous range: a message at nonce N is never accepted before N-1.
type InboundLaneState struct {
	// Highest nonce delivered to the target.
	LatestReceivedNonce uint64
	// Highest nonce whose delivery has been confirmed back to the source.
	LatestConfirmedNonce uint64
}

// NonceRange is an inclusive range of message nonces.
type NonceRange struct {
	Begin uint64
	End   uint64
}

func (r NonceRange) Len() uint64 {
	if r.End < r.Begin {
		return 0
	}
	return r.End - r.Begin + 1
}

// Source is the lane surface on the chain messages originate from.
type Source interface {
	// FinalizedHeader returns the best finalized source header, used as the
	// read anchor for outbound state.
	FinalizedHeader(ctx context.Context) (chain.HeaderID, error)
	// OutboundState reads the lane's outbound state at the given block.
	OutboundState(ctx context.Context, at chain.HeaderID) (OutboundLaneState, error)
	// ProveMessages generates a proof of the messages in the range, anchored
	// at the given source header.
	ProveMessages(ctx context.Context, at chain.HeaderID, r NonceRange) ([]byte, error)
	// SubmitConfirmation submits a proof of the target's inbound lane state,
	// crediting the relayer's reward on inclusion.
	SubmitConfirmation(ctx context.Context, proof []byte) error
	// RelayerReward reads the reward accrued to this relayer's account.
	RelayerReward(ctx context.Context) (*big.Int, error)
}

// Target is the lane surface on the chain messages are delivered to.
type Target interface {
	// InboundState reads the lane's inbound state at the target's best
	// block.
	InboundState(ctx context.Context) (InboundLaneState, error)
	// BestAnchoredHeader returns the highest source header the target chain
	// has accepted. Message proofs must be anchored at or below it.
	BestAnchoredHeader(ctx context.Context) (chain.HeaderID, error)
	// ProveInboundState generates a proof of the inbound lane state for the
	// confirmation race.
	ProveInboundState(ctx context.Context) ([]byte, error)
	// SubmitDelivery submits a batch of messages with their proof.
	SubmitDelivery(ctx context.Context, anchor chain.HeaderID, r NonceRange, proof []byte) error
}
