// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package messages

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidebridge/relay/chain"
)

type mockSource struct {
	finalized     chain.HeaderID
	outbound      OutboundLaneState
	confirmations [][]byte
	reward        *big.Int
}

func (s *mockSource) FinalizedHeader(_ context.Context) (chain.HeaderID, error) {
	return s.finalized, nil
}

func (s *mockSource) OutboundState(_ context.Context, _ chain.HeaderID) (OutboundLaneState, error) {
	return s.outbound, nil
}

func (s *mockSource) ProveMessages(_ context.Context, _ chain.HeaderID, r NonceRange) ([]byte, error) {
	return []byte{byte(r.Begin), byte(r.End)}, nil
}

func (s *mockSource) SubmitConfirmation(_ context.Context, proof []byte) error {
	s.confirmations = append(s.confirmations, proof)
	return nil
}

func (s *mockSource) RelayerReward(_ context.Context) (*big.Int, error) {
	if s.reward == nil {
		return big.NewInt(0), nil
	}
	return s.reward, nil
}

type mockTarget struct {
	inbound    InboundLaneState
	anchor     chain.HeaderID
	deliveries []NonceRange
	// When true, SubmitDelivery applies the delivery to the inbound state,
	// mimicking inclusion before the next read.
	applyOnSubmit bool
}

func (t *mockTarget) InboundState(_ context.Context) (InboundLaneState, error) {
	return t.inbound, nil
}

func (t *mockTarget) BestAnchoredHeader(_ context.Context) (chain.HeaderID, error) {
	return t.anchor, nil
}

func (t *mockTarget) ProveInboundState(_ context.Context) ([]byte, error) {
	return []byte{byte(t.inbound.LatestReceivedNonce)}, nil
}

func (t *mockTarget) SubmitDelivery(_ context.Context, _ chain.HeaderID, r NonceRange, _ []byte) error {
	t.deliveries = append(t.deliveries, r)
	if t.applyOnSubmit {
		t.inbound.LatestReceivedNonce = r.End
	}
	return nil
}

func newTestRelay(source Source, target Target, maxBatch uint64) *Relay {
	var lane LaneID
	lane[31] = 0x01
	return NewRelay(Config{
		Lane:         lane,
		MaxBatchSize: maxBatch,
		PollInterval: time.Millisecond,
	}, source, target, nil, nil)
}

func TestDeliveryBatchesRespectMaxBatchSize(t *testing.T) {
	// Source generated 1..10, target received 1..6, max batch 3: the relay
	// submits 7..9, then 10 once the first batch is observed on chain.
	source := &mockSource{
		finalized: sourceHeader(50),
		outbound:  OutboundLaneState{LatestGeneratedNonce: 10, LatestReceivedNonce: 6},
	}
	target := &mockTarget{
		inbound:       InboundLaneState{LatestReceivedNonce: 6, LatestConfirmedNonce: 6},
		anchor:        sourceHeader(50),
		applyOnSubmit: true,
	}

	relay := newTestRelay(source, target, 3)

	require.NoError(t, relay.deliveryCycle(context.Background()))
	require.NoError(t, relay.deliveryCycle(context.Background()))

	assert.Equal(t, []NonceRange{
		{Begin: 7, End: 9},
		{Begin: 10, End: 10},
	}, target.deliveries)
}

func TestDeliveryWaitsForInFlightBatch(t *testing.T) {
	source := &mockSource{
		finalized: sourceHeader(50),
		outbound:  OutboundLaneState{LatestGeneratedNonce: 10},
	}
	// Inclusion lags: the inbound read does not reflect the submission.
	target := &mockTarget{
		anchor: sourceHeader(50),
	}

	relay := newTestRelay(source, target, 5)

	require.NoError(t, relay.deliveryCycle(context.Background()))
	require.NoError(t, relay.deliveryCycle(context.Background()))
	require.NoError(t, relay.deliveryCycle(context.Background()))

	// No duplicate submissions while the batch is in flight.
	require.Len(t, target.deliveries, 1)
	assert.Equal(t, NonceRange{Begin: 1, End: 5}, target.deliveries[0])

	// Once the target reflects receipt the next batch goes out.
	target.inbound.LatestReceivedNonce = 5
	require.NoError(t, relay.deliveryCycle(context.Background()))
	require.Len(t, target.deliveries, 2)
	assert.Equal(t, NonceRange{Begin: 6, End: 10}, target.deliveries[1])
}

func TestDeliveryClearedByCompetingRelayer(t *testing.T) {
	source := &mockSource{
		finalized: sourceHeader(50),
		outbound:  OutboundLaneState{LatestGeneratedNonce: 4},
	}
	target := &mockTarget{anchor: sourceHeader(50)}

	relay := newTestRelay(source, target, 10)
	require.NoError(t, relay.deliveryCycle(context.Background()))
	require.Len(t, target.deliveries, 1)

	// A competing relayer delivered past our batch. The in-flight guard
	// clears and new nonces flow.
	target.inbound.LatestReceivedNonce = 4
	source.outbound.LatestGeneratedNonce = 6
	require.NoError(t, relay.deliveryCycle(context.Background()))
	require.Len(t, target.deliveries, 2)
	assert.Equal(t, NonceRange{Begin: 5, End: 6}, target.deliveries[1])
}

func TestDeliveryWaitsForHeaderRelay(t *testing.T) {
	// Messages observed at source header 80, but the target has only
	// accepted headers up to 60: nothing is provable yet.
	source := &mockSource{
		finalized: sourceHeader(80),
		outbound:  OutboundLaneState{LatestGeneratedNonce: 3},
	}
	target := &mockTarget{anchor: sourceHeader(60)}

	relay := newTestRelay(source, target, 10)
	require.NoError(t, relay.deliveryCycle(context.Background()))
	assert.Empty(t, target.deliveries)

	// Header relay catches up.
	target.anchor = sourceHeader(80)
	require.NoError(t, relay.deliveryCycle(context.Background()))
	require.Len(t, target.deliveries, 1)
	assert.Equal(t, NonceRange{Begin: 1, End: 3}, target.deliveries[0])
}

func TestConfirmationSubmitsUnconfirmedState(t *testing.T) {
	source := &mockSource{
		finalized: sourceHeader(50),
		outbound:  OutboundLaneState{LatestGeneratedNonce: 6, LatestReceivedNonce: 2},
		reward:    big.NewInt(42),
	}
	target := &mockTarget{
		inbound: InboundLaneState{LatestReceivedNonce: 6, LatestConfirmedNonce: 2},
	}

	relay := newTestRelay(source, target, 10)
	require.NoError(t, relay.confirmationCycle(context.Background()))
	require.Len(t, source.confirmations, 1)
}

func TestConfirmationSkippedWhenAlreadyConfirmed(t *testing.T) {
	// The source already saw receipt up to 6: a second confirmation attempt
	// for the same range is skipped.
	source := &mockSource{
		finalized: sourceHeader(50),
		outbound:  OutboundLaneState{LatestGeneratedNonce: 6, LatestReceivedNonce: 6},
	}
	target := &mockTarget{
		inbound: InboundLaneState{LatestReceivedNonce: 6, LatestConfirmedNonce: 6},
	}

	relay := newTestRelay(source, target, 10)
	require.NoError(t, relay.confirmationCycle(context.Background()))
	assert.Empty(t, source.confirmations)
}

func TestConfirmationSkippedWhenNothingDelivered(t *testing.T) {
	source := &mockSource{finalized: sourceHeader(50)}
	target := &mockTarget{}

	relay := newTestRelay(source, target, 10)
	require.NoError(t, relay.confirmationCycle(context.Background()))
	assert.Empty(t, source.confirmations)
}
