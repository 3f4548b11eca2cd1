// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package messages

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tidebridge/relay/chain"
	"github.com/tidebridge/relay/metrics"
	"github.com/tidebridge/relay/util"
)

type Config struct {
	Lane         LaneID
	MaxBatchSize uint64
	PollInterval time.Duration
	// Extra delay before the next cycle after a failed one.
	RestartDelay time.Duration
}

// Relay runs the delivery and confirmation races for one lane. The two races
// run concurrently but each owns its own state; nothing is shared across
// lanes. Success is always detected by effect (chain reads), never by
// trusting the local transaction result: another relayer may service the
// same lane.
type Relay struct {
	config Config
	source Source
	target Target

	strategy *deliveryStrategy
	// Batch submitted but not yet observed as received by the target.
	inFlight *NonceRange

	deliveryRetrier     *util.Retrier
	confirmationRetrier *util.Retrier
}

func NewRelay(config Config, source Source, target Target, sourceLimiter, targetLimiter *util.Limiter) *Relay {
	lane := config.Lane.Hex()
	return &Relay{
		config:              config,
		source:              source,
		target:              target,
		strategy:            newDeliveryStrategy(),
		deliveryRetrier:     util.NewRetrier(fmt.Sprintf("%s:submit-delivery", lane), targetLimiter),
		confirmationRetrier: util.NewRetrier(fmt.Sprintf("%s:submit-confirmation", lane), sourceLimiter),
	}
}

// Run starts both race loops. They terminate on ctx cancellation; per-cycle
// failures are classified and never halt the whole relay.
func (r *Relay) Run(ctx context.Context, eg *errgroup.Group) error {
	eg.Go(func() error {
		return r.loop(ctx, "delivery", r.deliveryCycle)
	})
	eg.Go(func() error {
		return r.loop(ctx, "confirmation", r.confirmationCycle)
	})
	return nil
}

func (r *Relay) loop(ctx context.Context, race string, cycle func(context.Context) error) error {
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	logger := r.log().WithField("race", race)
	for {
		err := cycle(ctx)
		if err != nil {
			switch chain.Classify(err) {
			case chain.KindFatal:
				return err
			case chain.KindPermanent:
				metrics.SubmissionsTotal.WithLabelValues(race, metrics.OutcomeRejected).Inc()
				logger.WithError(err).Error("Submission rejected by chain")
			default:
				logger.WithError(err).Warn("Race cycle failed")
			}
			if r.config.RestartDelay > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(r.config.RestartDelay):
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Relay) log() *log.Entry {
	return log.WithField("lane", r.config.Lane.Hex())
}

// deliveryCycle advances the source → target race by at most one batch.
// Batches are submitted in strictly increasing nonce order; a new batch is
// never issued while the previous one has not been observed as received.
func (r *Relay) deliveryCycle(ctx context.Context) error {
	finalized, err := r.source.FinalizedHeader(ctx)
	if err != nil {
		return fmt.Errorf("fetch finalized source header: %w", err)
	}

	outbound, err := r.source.OutboundState(ctx, finalized)
	if err != nil {
		return fmt.Errorf("read outbound lane state: %w", err)
	}
	metrics.LaneGeneratedNonce.WithLabelValues(r.config.Lane.Hex()).Set(float64(outbound.LatestGeneratedNonce))

	inbound, err := r.target.InboundState(ctx)
	if err != nil {
		return fmt.Errorf("read inbound lane state: %w", err)
	}
	metrics.LaneReceivedNonce.WithLabelValues(r.config.Lane.Hex()).Set(float64(inbound.LatestReceivedNonce))

	r.strategy.sourceNoncesUpdated(finalized, outbound.LatestGeneratedNonce)
	r.strategy.targetNonceUpdated(inbound.LatestReceivedNonce)

	if r.inFlight != nil {
		if inbound.LatestReceivedNonce >= r.inFlight.End {
			// Landed, whether through our submission or a competing
			// relayer's.
			r.inFlight = nil
		} else {
			r.log().WithFields(log.Fields{
				"begin": r.inFlight.Begin,
				"end":   r.inFlight.End,
			}).Debug("Delivery still in flight")
			return nil
		}
	}

	anchor, err := r.target.BestAnchoredHeader(ctx)
	if err != nil {
		return fmt.Errorf("read anchored source header at target: %w", err)
	}

	batch := r.strategy.selectNoncesToDeliver(anchor, r.config.MaxBatchSize)
	if batch == nil {
		if r.strategy.bestAtSource() > r.strategy.bestAtTarget() {
			r.log().WithFields(log.Fields{
				"generated": r.strategy.bestAtSource(),
				"received":  r.strategy.bestAtTarget(),
				"anchor":    anchor.String(),
			}).Debug("Messages pending, waiting for header relay to advance")
		}
		return nil
	}

	proof, err := r.source.ProveMessages(ctx, anchor, *batch)
	if err != nil {
		return fmt.Errorf("prove messages %d..%d: %w", batch.Begin, batch.End, err)
	}

	err = r.deliveryRetrier.Run(ctx, func() error {
		return r.target.SubmitDelivery(ctx, anchor, *batch, proof)
	})
	if err != nil {
		if chain.IsAlreadySatisfied(err) {
			metrics.SubmissionsTotal.WithLabelValues("delivery", metrics.OutcomeAlreadySatisfied).Inc()
			r.log().WithFields(log.Fields{
				"begin": batch.Begin,
				"end":   batch.End,
			}).Debug("Batch already delivered")
			return nil
		}
		metrics.SubmissionsTotal.WithLabelValues("delivery", metrics.OutcomeFailure).Inc()
		return fmt.Errorf("submit delivery %d..%d: %w", batch.Begin, batch.End, err)
	}

	metrics.SubmissionsTotal.WithLabelValues("delivery", metrics.OutcomeSuccess).Inc()
	r.inFlight = batch
	r.log().WithFields(log.Fields{
		"begin":  batch.Begin,
		"end":    batch.End,
		"anchor": anchor.String(),
	}).Info("Submitted message delivery")

	return nil
}

// confirmationCycle relays the target's inbound lane state back to the
// source so delivery is acknowledged and the relayer reward settles.
// Re-submission is gated on the source's own view: once the source has seen
// the confirmation there is nothing left to pay for.
func (r *Relay) confirmationCycle(ctx context.Context) error {
	inbound, err := r.target.InboundState(ctx)
	if err != nil {
		return fmt.Errorf("read inbound lane state: %w", err)
	}
	metrics.LaneConfirmedNonce.WithLabelValues(r.config.Lane.Hex()).Set(float64(inbound.LatestConfirmedNonce))

	if inbound.LatestReceivedNonce == 0 {
		return nil
	}

	finalized, err := r.source.FinalizedHeader(ctx)
	if err != nil {
		return fmt.Errorf("fetch finalized source header: %w", err)
	}
	outbound, err := r.source.OutboundState(ctx, finalized)
	if err != nil {
		return fmt.Errorf("read outbound lane state: %w", err)
	}

	if outbound.LatestReceivedNonce >= inbound.LatestReceivedNonce {
		// Already confirmed, possibly by another relayer. Nothing to do.
		return nil
	}

	proof, err := r.target.ProveInboundState(ctx)
	if err != nil {
		return fmt.Errorf("prove inbound lane state: %w", err)
	}

	err = r.confirmationRetrier.Run(ctx, func() error {
		return r.source.SubmitConfirmation(ctx, proof)
	})
	if err != nil {
		if chain.IsAlreadySatisfied(err) {
			metrics.SubmissionsTotal.WithLabelValues("confirmation", metrics.OutcomeAlreadySatisfied).Inc()
			return nil
		}
		metrics.SubmissionsTotal.WithLabelValues("confirmation", metrics.OutcomeFailure).Inc()
		return fmt.Errorf("submit confirmation up to %d: %w", inbound.LatestReceivedNonce, err)
	}
	metrics.SubmissionsTotal.WithLabelValues("confirmation", metrics.OutcomeSuccess).Inc()

	reward, err := r.source.RelayerReward(ctx)
	if err != nil {
		r.log().WithError(err).Warn("Failed to read relayer reward")
		return nil
	}
	r.log().WithFields(log.Fields{
		"confirmed": inbound.LatestReceivedNonce,
		"reward":    reward.String(),
	}).Info("Submitted delivery confirmation")

	return nil
}
