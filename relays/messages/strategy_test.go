// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package messages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidebridge/relay/chain"
)

func sourceHeader(number uint64) chain.HeaderID {
	var hash chain.Hash
	hash[31] = byte(number)
	return chain.HeaderID{Number: number, Hash: hash}
}

func TestStrategySelectsBatchesBoundedByMaxBatch(t *testing.T) {
	// Outbound lane has nonces 1..10, target received 1..6. With a batch
	// limit of 3 the relay delivers 7..9, then 10.
	s := newDeliveryStrategy()
	s.sourceNoncesUpdated(sourceHeader(100), 10)
	s.targetNonceUpdated(6)

	anchor := sourceHeader(100)

	batch := s.selectNoncesToDeliver(anchor, 3)
	require.NotNil(t, batch)
	assert.Equal(t, NonceRange{Begin: 7, End: 9}, *batch)

	s.targetNonceUpdated(9)
	batch = s.selectNoncesToDeliver(anchor, 3)
	require.NotNil(t, batch)
	assert.Equal(t, NonceRange{Begin: 10, End: 10}, *batch)

	s.targetNonceUpdated(10)
	assert.Nil(t, s.selectNoncesToDeliver(anchor, 3))
	assert.True(t, s.isEmpty())
}

func TestStrategyBatchesAreContiguous(t *testing.T) {
	s := newDeliveryStrategy()
	s.sourceNoncesUpdated(sourceHeader(10), 5)
	s.sourceNoncesUpdated(sourceHeader(20), 8)

	batch := s.selectNoncesToDeliver(sourceHeader(20), 0)
	require.NotNil(t, batch)
	assert.Equal(t, NonceRange{Begin: 1, End: 8}, *batch)
}

func TestStrategyGatesOnAnchor(t *testing.T) {
	// Nonces observed at a header the target has not yet accepted cannot be
	// proven and must not be offered.
	s := newDeliveryStrategy()
	s.sourceNoncesUpdated(sourceHeader(10), 4)
	s.sourceNoncesUpdated(sourceHeader(30), 9)

	// Anchor below both observation headers: nothing is provable.
	assert.Nil(t, s.selectNoncesToDeliver(sourceHeader(5), 0))

	// Anchor covers only the first range.
	batch := s.selectNoncesToDeliver(sourceHeader(15), 0)
	require.NotNil(t, batch)
	assert.Equal(t, NonceRange{Begin: 1, End: 4}, *batch)

	// Anchor covers everything.
	batch = s.selectNoncesToDeliver(sourceHeader(30), 0)
	require.NotNil(t, batch)
	assert.Equal(t, NonceRange{Begin: 1, End: 9}, *batch)
}

func TestStrategyNeverOffersDeliveredNonces(t *testing.T) {
	s := newDeliveryStrategy()
	s.sourceNoncesUpdated(sourceHeader(10), 6)

	// A competing relayer landed 1..4 mid-range.
	s.targetNonceUpdated(4)

	batch := s.selectNoncesToDeliver(sourceHeader(10), 0)
	require.NotNil(t, batch)
	assert.Equal(t, NonceRange{Begin: 5, End: 6}, *batch)
}

func TestStrategyIgnoresStaleUpdates(t *testing.T) {
	s := newDeliveryStrategy()
	s.sourceNoncesUpdated(sourceHeader(10), 8)
	s.targetNonceUpdated(5)

	// A lagging read must not rewind delivery progress.
	s.targetNonceUpdated(3)
	assert.Equal(t, uint64(5), s.bestAtTarget())

	// A stale generated-nonce read must not duplicate queued ranges.
	s.sourceNoncesUpdated(sourceHeader(12), 8)
	assert.Equal(t, uint64(8), s.bestAtSource())

	batch := s.selectNoncesToDeliver(sourceHeader(10), 0)
	require.NotNil(t, batch)
	assert.Equal(t, NonceRange{Begin: 6, End: 8}, *batch)
}

func TestNonceRangeLen(t *testing.T) {
	assert.Equal(t, uint64(1), NonceRange{Begin: 5, End: 5}.Len())
	assert.Equal(t, uint64(4), NonceRange{Begin: 7, End: 10}.Len())
	assert.Equal(t, uint64(0), NonceRange{Begin: 8, End: 7}.Len())
}
