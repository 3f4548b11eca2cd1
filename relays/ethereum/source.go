// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

// Package ethereum wires the relay engines to a proof-of-authority Ethereum
// source chain and a Substrate target chain.
package ethereum

import (
	"context"
	"fmt"
	"math/big"

	goEthereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/tidebridge/relay/chain"
	"github.com/tidebridge/relay/chain/ethereum"
	"github.com/tidebridge/relay/finality"
	"github.com/tidebridge/relay/relays/messages"
)

// Lane contracts emit one MessageAccepted(bytes32 indexed laneID, uint64
// nonce) event per queued message.
var messageAcceptedTopic = crypto.Keccak256Hash([]byte("MessageAccepted(bytes32,uint64)"))

// Blocks scanned backwards from the anchor when locating message events.
const messageScanLookback = 10000

// MessageProof ties one message event to the receipt proof that places it in
// a relayed header.
type MessageProof struct {
	BlockHash   common.Hash
	TxIndex     uint64
	Nonce       uint64
	ProofKeys   [][]byte
	ProofValues [][]byte
}

// MessageBundle is the RLP-encoded payload of one delivery transaction.
type MessageBundle struct {
	Messages []MessageProof
}

// Source adapts the Ethereum chain client to the header and message relay
// engines.
type Source struct {
	client      *ethereum.Client
	conn        *ethereum.Connection
	headerCache *ethereum.HeaderCache
	lane        *ethereum.OutboundLane
	laneID      messages.LaneID
	authorities finality.StaticAuthorities
	// Confirmation depth for transactions submitted to the source chain.
	descendantsUntilFinal uint64
}

func NewSource(
	client *ethereum.Client,
	headerCache *ethereum.HeaderCache,
	lane *ethereum.OutboundLane,
	laneID messages.LaneID,
	authorities finality.StaticAuthorities,
	descendantsUntilFinal uint64,
) *Source {
	return &Source{
		client:                client,
		conn:                  client.Connection(),
		headerCache:           headerCache,
		lane:                  lane,
		laneID:                laneID,
		authorities:           authorities,
		descendantsUntilFinal: descendantsUntilFinal,
	}
}

func (s *Source) BestHeader(ctx context.Context) (chain.HeaderID, error) {
	return s.client.BestHeader(ctx)
}

func (s *Source) FinalizedHeader(ctx context.Context) (chain.HeaderID, error) {
	return s.client.FinalizedHeader(ctx)
}

func (s *Source) Header(ctx context.Context, id chain.HeaderID) (*chain.Header, error) {
	return s.client.Header(ctx, id)
}

// FinalityProof builds the ordered-signature proof for a finalized header by
// collecting endorsements from its canonical descendants. NotFound while too
// few descendants have endorsed it.
func (s *Source) FinalityProof(ctx context.Context, id chain.HeaderID) (chain.FinalityProof, error) {
	proof, err := s.client.FinalityProof(ctx, id)
	if err != nil {
		return nil, err
	}
	poaProof, ok := proof.(*finality.PoAProof)
	if !ok {
		return nil, chain.Fatal(fmt.Errorf("unexpected finality proof kind %q", proof.Kind()))
	}
	if err := finality.VerifyPoA(poaProof, s.authorities); err != nil {
		return nil, fmt.Errorf("verify built proof: %w", err)
	}
	return proof, nil
}

// OutboundState reads the lane contract's view at the given source block.
func (s *Source) OutboundState(ctx context.Context, at chain.HeaderID) (messages.OutboundLaneState, error) {
	opts := &bind.CallOpts{
		BlockNumber: new(big.Int).SetUint64(at.Number),
		Context:     ctx,
	}

	generated, err := s.lane.LatestGeneratedNonce(opts, s.laneID)
	if err != nil {
		return messages.OutboundLaneState{}, chain.Transient(fmt.Errorf("read latest generated nonce: %w", err))
	}
	received, err := s.lane.LatestReceivedNonce(opts, s.laneID)
	if err != nil {
		return messages.OutboundLaneState{}, chain.Transient(fmt.Errorf("read latest received nonce: %w", err))
	}

	return messages.OutboundLaneState{
		LatestGeneratedNonce: generated,
		LatestReceivedNonce:  received,
	}, nil
}

// ProveMessages locates the MessageAccepted events for the nonce range and
// bundles a receipt proof per message, all anchored at or below the given
// header.
func (s *Source) ProveMessages(ctx context.Context, at chain.HeaderID, r messages.NonceRange) ([]byte, error) {
	var fromBlock uint64
	if at.Number > messageScanLookback {
		fromBlock = at.Number - messageScanLookback
	}

	query := goEthereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(at.Number),
		Addresses: []common.Address{s.lane.Address()},
		Topics:    [][]common.Hash{{messageAcceptedTopic}, {common.Hash(s.laneID)}},
	}

	logs, err := s.conn.Client().FilterLogs(ctx, query)
	if err != nil {
		return nil, chain.Transient(fmt.Errorf("filter lane events: %w", err))
	}

	byNonce := make(map[uint64]*MessageProof, r.Len())
	for i := range logs {
		event := &logs[i]
		nonce := new(big.Int).SetBytes(event.Data).Uint64()
		if nonce < r.Begin || nonce > r.End {
			continue
		}

		receiptTrie, err := s.headerCache.GetReceiptTrie(ctx, event.BlockHash)
		if err != nil {
			return nil, chain.Transient(fmt.Errorf("receipt trie for %s: %w", event.BlockHash.Hex(), err))
		}
		proof, err := ethereum.ProveReceipt(receiptTrie, uint64(event.TxIndex))
		if err != nil {
			return nil, fmt.Errorf("prove receipt %d in %s: %w", event.TxIndex, event.BlockHash.Hex(), err)
		}

		byNonce[nonce] = &MessageProof{
			BlockHash:   event.BlockHash,
			TxIndex:     uint64(event.TxIndex),
			Nonce:       nonce,
			ProofKeys:   proof.Keys,
			ProofValues: proof.Values,
		}
	}

	bundle := MessageBundle{Messages: make([]MessageProof, 0, r.Len())}
	for nonce := r.Begin; nonce <= r.End; nonce++ {
		proof, ok := byNonce[nonce]
		if !ok {
			return nil, s.missingMessageError(ctx, at, nonce)
		}
		bundle.Messages = append(bundle.Messages, *proof)
	}

	encoded, err := rlp.EncodeToBytes(&bundle)
	if err != nil {
		return nil, fmt.Errorf("encode message bundle: %w", err)
	}
	return encoded, nil
}

// missingMessageError separates a message that fell behind the scan window
// from one the lane never generated. The lane stores a commitment per queued
// nonce: a non-zero commitment means the event exists further back than the
// lookback reaches, an empty one means no amount of rescanning will find it.
func (s *Source) missingMessageError(ctx context.Context, at chain.HeaderID, nonce uint64) error {
	opts := &bind.CallOpts{
		BlockNumber: new(big.Int).SetUint64(at.Number),
		Context:     ctx,
	}
	commitment, err := s.lane.MessageCommitment(opts, s.laneID, nonce)
	if err != nil {
		return chain.Transient(fmt.Errorf("read commitment for message nonce %d: %w", nonce, err))
	}
	if commitment == ([32]byte{}) {
		return chain.Permanent(fmt.Errorf("lane never generated message nonce %d", nonce))
	}
	return chain.Transient(fmt.Errorf("message nonce %d predates the %d-block scan window", nonce, messageScanLookback))
}

// SubmitConfirmation submits the target's inbound lane state proof to the
// outbound lane contract, crediting the relayer's reward on inclusion.
func (s *Source) SubmitConfirmation(ctx context.Context, proof []byte) error {
	opts := s.conn.MakeTxOpts(ctx)
	tx, err := s.lane.SubmitDeliveryConfirmation(opts, s.laneID, proof)
	if err != nil {
		return chain.Transient(fmt.Errorf("submit delivery confirmation: %w", err))
	}

	// WatchTransaction classifies for us: polling hiccups stay transient, an
	// on-chain revert comes back permanent.
	_, err = s.conn.WatchTransaction(ctx, tx, s.descendantsUntilFinal)
	if err != nil {
		return fmt.Errorf("watch confirmation transaction %s: %w", tx.Hash().Hex(), err)
	}
	return nil
}

// RelayerReward reads this relayer's accrued reward from the lane contract's
// ledger.
func (s *Source) RelayerReward(ctx context.Context) (*big.Int, error) {
	reward, err := s.lane.RewardOf(&bind.CallOpts{Context: ctx}, s.laneID, s.conn.Keypair().CommonAddress())
	if err != nil {
		return nil, chain.Transient(fmt.Errorf("read relayer reward: %w", err))
	}
	return reward, nil
}
