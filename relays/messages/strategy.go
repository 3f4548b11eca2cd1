// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package messages

import (
	"github.com/tidebridge/relay/chain"
)

type queuedNonces struct {
	// Source header at which the range was first observed. Nonces can only
	// be proven once this header is known to the target.
	at chain.HeaderID
	r  NonceRange
}

// deliveryStrategy selects nonces for the delivery race. It queues newly
// generated nonces together with the source header they were observed at,
// and only offers ranges whose observation header the target has already
// accepted. Owned exclusively by one lane's relay instance.
type deliveryStrategy struct {
	sourceQueue []queuedNonces
	// Best nonce known to be received by the target.
	targetNonce uint64
}

func newDeliveryStrategy() *deliveryStrategy {
	return &deliveryStrategy{}
}

func (s *deliveryStrategy) isEmpty() bool {
	return len(s.sourceQueue) == 0
}

// bestAtSource is the highest nonce the strategy knows exists.
func (s *deliveryStrategy) bestAtSource() uint64 {
	if len(s.sourceQueue) == 0 {
		return s.targetNonce
	}
	last := s.sourceQueue[len(s.sourceQueue)-1].r.End
	if last > s.targetNonce {
		return last
	}
	return s.targetNonce
}

func (s *deliveryStrategy) bestAtTarget() uint64 {
	return s.targetNonce
}

// sourceNoncesUpdated queues nonces generated since the last observation.
func (s *deliveryStrategy) sourceNoncesUpdated(at chain.HeaderID, latestGenerated uint64) {
	best := s.bestAtSource()
	if latestGenerated <= best {
		return
	}
	s.sourceQueue = append(s.sourceQueue, queuedNonces{
		at: at,
		r:  NonceRange{Begin: best + 1, End: latestGenerated},
	})
}

// targetNonceUpdated prunes everything the target already received.
func (s *deliveryStrategy) targetNonceUpdated(nonce uint64) {
	if nonce < s.targetNonce {
		return
	}
	s.targetNonce = nonce

	for len(s.sourceQueue) > 0 {
		front := &s.sourceQueue[0]
		if front.r.End <= nonce {
			s.sourceQueue = s.sourceQueue[1:]
			continue
		}
		if front.r.Begin <= nonce {
			front.r.Begin = nonce + 1
		}
		break
	}
}

// selectNoncesToDeliver returns the next contiguous batch provable at the
// given anchor, bounded by maxBatch, or nil when nothing is deliverable yet.
func (s *deliveryStrategy) selectNoncesToDeliver(anchor chain.HeaderID, maxBatch uint64) *NonceRange {
	var end uint64
	for _, queued := range s.sourceQueue {
		if queued.at.Number > anchor.Number {
			// The header that emitted these nonces is not yet known to the
			// target; nothing beyond this point can be proven.
			break
		}
		end = queued.r.End
	}
	if end == 0 {
		return nil
	}

	begin := s.targetNonce + 1
	if end < begin {
		return nil
	}
	if maxBatch > 0 && end-begin+1 > maxBatch {
		end = begin + maxBatch - 1
	}
	return &NonceRange{Begin: begin, End: end}
}
