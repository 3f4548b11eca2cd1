// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

// Package substrate wires the relay engines to a pair of Substrate chains
// bridged through GRANDPA finality.
package substrate

import (
	"context"
	"fmt"
	"math/big"

	"github.com/snowfork/go-substrate-rpc-client/v4/types"

	"github.com/tidebridge/relay/chain"
	"github.com/tidebridge/relay/chain/substrate"
	"github.com/tidebridge/relay/finality"
	"github.com/tidebridge/relay/relays/messages"
)

const defaultJustificationLookback = 512

type outboundLaneDataSCALE struct {
	LatestGeneratedNonce types.U64
	LatestReceivedNonce  types.U64
}

type messageKeySCALE struct {
	LaneID types.H256
	Nonce  types.U64
}

// Source adapts the source Substrate chain to the header and message relay
// engines. Confirmations are extrinsics back into this chain, so the source
// carries a writer of its own.
type Source struct {
	client                *substrate.Client
	writer                *substrate.Writer
	laneID                messages.LaneID
	voterSetSize          int
	justificationLookback uint64
}

func NewSource(client *substrate.Client, writer *substrate.Writer, laneID messages.LaneID, voterSetSize int, justificationLookback uint64) *Source {
	if justificationLookback == 0 {
		justificationLookback = defaultJustificationLookback
	}
	return &Source{
		client:                client,
		writer:                writer,
		laneID:                laneID,
		voterSetSize:          voterSetSize,
		justificationLookback: justificationLookback,
	}
}

func (s *Source) BestHeader(ctx context.Context) (chain.HeaderID, error) {
	return s.client.BestHeader(ctx)
}

// FinalizedHeader returns the most recent header that carries a GRANDPA
// justification. Headers between justification boundaries are finalized but
// not provable on their own, so the relay anchors on justified ones.
func (s *Source) FinalizedHeader(ctx context.Context) (chain.HeaderID, error) {
	id, _, err := s.client.FindBestJustified(ctx, s.justificationLookback)
	if err != nil {
		if chain.IsNotFound(err) {
			return chain.HeaderID{}, chain.Transient(fmt.Errorf("no justification within %d blocks of the finalized head", s.justificationLookback))
		}
		return chain.HeaderID{}, err
	}
	return id, nil
}

func (s *Source) Header(ctx context.Context, id chain.HeaderID) (*chain.Header, error) {
	return s.client.Header(ctx, id)
}

// FinalityProof fetches the justification attached to the given block. The
// envelope is prechecked for a plausible supermajority and otherwise
// forwarded opaquely; full vote validation is the target pallet's job.
func (s *Source) FinalityProof(ctx context.Context, id chain.HeaderID) (chain.FinalityProof, error) {
	justification, err := s.client.JustificationAt(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := finality.CheckSupermajority(justification, s.voterSetSize); err != nil {
		return nil, err
	}
	return justification, nil
}

// OutboundState reads the outbound lane pallet's view at the given block.
func (s *Source) OutboundState(_ context.Context, at chain.HeaderID) (messages.OutboundLaneState, error) {
	var data outboundLaneDataSCALE
	ok, err := s.writer.GetStorageAt("BridgeMessages", "OutboundLanes", s.laneID[:], types.Hash(at.Hash), &data)
	if err != nil {
		return messages.OutboundLaneState{}, chain.Transient(err)
	}
	if !ok {
		return messages.OutboundLaneState{}, nil
	}
	return messages.OutboundLaneState{
		LatestGeneratedNonce: uint64(data.LatestGeneratedNonce),
		LatestReceivedNonce:  uint64(data.LatestReceivedNonce),
	}, nil
}

// ProveMessages generates one storage proof covering the message entries for
// the nonce range, anchored at the given source header.
func (s *Source) ProveMessages(ctx context.Context, at chain.HeaderID, r messages.NonceRange) ([]byte, error) {
	meta := s.client.Connection().Metadata()

	keys := make([][]byte, 0, r.Len())
	for nonce := r.Begin; nonce <= r.End; nonce++ {
		arg, err := types.EncodeToBytes(messageKeySCALE{
			LaneID: types.NewH256(s.laneID[:]),
			Nonce:  types.NewU64(nonce),
		})
		if err != nil {
			return nil, fmt.Errorf("encode message key for nonce %d: %w", nonce, err)
		}
		key, err := types.CreateStorageKey(meta, "BridgeMessages", "OutboundMessages", arg, nil)
		if err != nil {
			return nil, fmt.Errorf("create message storage key for nonce %d: %w", nonce, err)
		}
		keys = append(keys, key)
	}

	proof, err := s.client.StorageProof(ctx, at.Hash, keys)
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
		return nil, fmt.Errorf("encode message proof: %w", err)
	}
	return encoded, nil
}

// SubmitConfirmation submits the target's inbound lane state proof back to
// the source lane pallet.
func (s *Source) SubmitConfirmation(ctx context.Context, proof []byte) error {
	err := s.writer.WriteAndRateLimit(ctx, "BridgeMessages.submit_delivery_confirmation",
		types.NewH256(s.laneID[:]),
		types.NewBytes(proof),
	)
	if err != nil {
		return chain.Transient(fmt.Errorf("submit delivery confirmation: %w", err))
	}
	return nil
}

// RelayerReward reads this relayer's accrued reward from the relayers
// pallet.
func (s *Source) RelayerReward(_ context.Context) (*big.Int, error) {
	var reward types.U128
	ok, err := s.writer.GetStorage("BridgeRelayers", "RelayerRewards", s.client.Connection().Keypair().PublicKey, &reward)
	if err != nil {
		return nil, chain.Transient(err)
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return reward.Int, nil
}
