// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package substrate

import (
	"context"
	"fmt"

	"github.com/snowfork/go-substrate-rpc-client/v4/types"

	"github.com/tidebridge/relay/chain"
	"github.com/tidebridge/relay/chain/substrate"
	"github.com/tidebridge/relay/finality"
	"github.com/tidebridge/relay/relays/messages"
)

type storageProofSCALE struct {
	At    types.H256
	Proof []types.Bytes
}

type inboundLaneDataSCALE struct {
	LatestReceivedNonce  types.U64
	LatestConfirmedNonce types.U64
}

// Target adapts the sink Substrate chain, hosting the GRANDPA verification
// and message-lane pallets, to the relay engines.
type Target struct {
	client           *substrate.Client
	writer           *substrate.Writer
	laneID           messages.LaneID
	unbrokenAncestry bool
}

func NewTarget(client *substrate.Client, writer *substrate.Writer, laneID messages.LaneID, unbrokenAncestry bool) *Target {
	return &Target{
		client:           client,
		writer:           writer,
		laneID:           laneID,
		unbrokenAncestry: unbrokenAncestry,
	}
}

func (t *Target) RequiresUnbrokenAncestry() bool {
	return t.unbrokenAncestry
}

// Frontier reads the highest source header the GRANDPA pallet has accepted.
func (t *Target) Frontier(_ context.Context) (chain.HeaderID, error) {
	var best struct {
		Number types.U64
		Hash   types.H256
	}
	ok, err := t.writer.GetStorage("BridgeGrandpa", "BestFinalized", nil, &best)
	if err != nil {
		return chain.HeaderID{}, chain.Transient(err)
	}
	if !ok {
		return chain.HeaderID{}, chain.Fatal(fmt.Errorf("grandpa pallet has no best finalized header; is the bridge initialized?"))
	}

	var hash chain.Hash
	copy(hash[:], best.Hash[:])
	return chain.HeaderID{Number: uint64(best.Number), Hash: hash}, nil
}

func (t *Target) IsKnown(_ context.Context, id chain.HeaderID) (bool, error) {
	known, err := t.writer.HasKey("BridgeGrandpa", "ImportedHeaders", id.Hash[:])
	if err != nil {
		return false, chain.Transient(err)
	}
	return known, nil
}

// SubmitHeader submits one source header with its justification to the
// GRANDPA pallet. Ancestry fill-in headers carry an empty justification.
func (t *Target) SubmitHeader(ctx context.Context, header *chain.Header, proof chain.FinalityProof) error {
	known, err := t.IsKnown(ctx, header.ID)
	if err != nil {
		return err
	}
	if known {
		return chain.AlreadySatisfied(fmt.Errorf("header %s already imported", header.ID))
	}

	subHeader, ok := header.Payload.(*types.Header)
	if !ok {
		return chain.Fatal(fmt.Errorf("header %s carries no substrate payload", header.ID))
	}

	var justification types.Bytes
	if proof != nil {
		grandpaProof, ok := proof.(*finality.GrandpaJustification)
		if !ok {
			return chain.Fatal(fmt.Errorf("unexpected finality proof kind %q", proof.Kind()))
		}
		justification = types.NewBytes(grandpaProof.Raw())
	}

	err = t.writer.WriteAndRateLimit(ctx, "BridgeGrandpa.submit_finality_proof", subHeader, justification)
	if err != nil {
		return chain.Transient(fmt.Errorf("submit header %s: %w", header.ID, err))
	}
	return nil
}

// InboundState reads the message pallet's view of the lane.
func (t *Target) InboundState(_ context.Context) (messages.InboundLaneState, error) {
	var data inboundLaneDataSCALE
	ok, err := t.writer.GetStorage("BridgeMessages", "InboundLanes", t.laneID[:], &data)
	if err != nil {
		return messages.InboundLaneState{}, chain.Transient(err)
	}
	if !ok {
		return messages.InboundLaneState{}, nil
	}
	return messages.InboundLaneState{
		LatestReceivedNonce:  uint64(data.LatestReceivedNonce),
		LatestConfirmedNonce: uint64(data.LatestConfirmedNonce),
	}, nil
}

func (t *Target) BestAnchoredHeader(ctx context.Context) (chain.HeaderID, error) {
	return t.Frontier(ctx)
}

// ProveInboundState generates a storage proof of the inbound lane entry at
// the sink's finalized head, for the confirmation race.
func (t *Target) ProveInboundState(ctx context.Context) ([]byte, error) {
	key, err := types.CreateStorageKey(t.client.Connection().Metadata(), "BridgeMessages", "InboundLanes", t.laneID[:], nil)
	if err != nil {
		return nil, fmt.Errorf("create inbound lane storage key: %w", err)
	}

	finalized, err := t.client.FinalizedHeader(ctx)
	if err != nil {
		return nil, err
	}

	proof, err := t.client.StorageProof(ctx, finalized.Hash, [][]byte{key})
	if err != nil {
		return nil, err
	}

	scaleProof := storageProofSCALE{
		At:    types.NewH256(proof.At[:]),
		Proof: make([]types.Bytes, len(proof.Nodes)),
	}
	for i, node := range proof.Nodes {
		scaleProof.Proof[i] = types.NewBytes(node)
	}

	encoded, err := types.EncodeToBytes(scaleProof)
	if err != nil {
		return nil, fmt.Errorf("encode storage proof: %w", err)
	}
	return encoded, nil
}

// SubmitDelivery submits a batch of messages with their storage proof to the
// lane pallet.
func (t *Target) SubmitDelivery(ctx context.Context, anchor chain.HeaderID, r messages.NonceRange, proof []byte) error {
	state, err := t.InboundState(ctx)
	if err != nil {
		return err
	}
	if state.LatestReceivedNonce >= r.End {
		return chain.AlreadySatisfied(fmt.Errorf("messages up to %d already delivered", r.End))
	}

	err = t.writer.WriteAndRateLimit(ctx, "BridgeMessages.submit_message_delivery",
		types.NewH256(t.laneID[:]),
		types.NewH256(anchor.Hash[:]),
		types.NewU64(r.Begin),
		types.NewU64(r.End),
		types.NewBytes(proof),
	)
	if err != nil {
		return chain.Transient(fmt.Errorf("submit delivery %d..%d: %w", r.Begin, r.End, err))
	}
	return nil
}
