// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

// Package headers synchronizes finalized headers from a source chain to the
// pallet or contract verifying them on a target chain. The relay advances a
// frontier: it always submits the most recent finalized header it can prove,
// never replaying the full chain unless the target's verifier demands
// unbroken ancestry.
package headers

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

// Source is the read surface the header relay needs from the source chain.
type Source interface {
	BestHeader(ctx context.Context) (chain.HeaderID, error)
	FinalizedHeader(ctx context.Context) (chain.HeaderID, error)
	Header(ctx context.Context, id chain.HeaderID) (*chain.Header, error)
	// FinalityProof returns a NotFound error while no proof exists for the
	// header yet.
	FinalityProof(ctx context.Context, id chain.HeaderID) (chain.FinalityProof, error)
}

// Target is the submit surface on the chain that verifies the headers.
type Target interface {
	// Frontier reads the highest source header the target chain has
	// accepted. The frontier is re-derived from this read after restarts and
	// reorgs, never advanced blindly.
	Frontier(ctx context.Context) (chain.HeaderID, error)
	// IsKnown reports whether the target has accepted the given source
	// header.
	IsKnown(ctx context.Context, id chain.HeaderID) (bool, error)
	// SubmitHeader submits a header with its finality proof. Ancestry
	// fill-in headers are submitted with a nil proof.
	SubmitHeader(ctx context.Context, header *chain.Header, proof chain.FinalityProof) error
	// RequiresUnbrokenAncestry reports whether the target's verifier needs
	// every intermediate header, or accepts checkpointed frontier jumps.
	// This is a property of the deployed verifier, not of the relay.
	RequiresUnbrokenAncestry() bool
}

// State names the position of the sync loop within one relay cycle.
type State int

const (
	StateIdle State = iota
	StateFetchingBest
	StateBuildingProof
	StateSubmitting
	StateAwaitingInclusion
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateFetchingBest:
		return "FetchingBest"
	case StateBuildingProof:
		return "BuildingProof"
	case StateSubmitting:
		return "Submitting"
	case StateAwaitingInclusion:
		return "AwaitingInclusion"
	}
	return "Unknown"
}

type Config struct {
	// Bridge names the (source, target) pair in logs and metrics.
	Bridge       string
	PollInterval time.Duration
	// Extra delay before the next cycle after a failed one.
	RestartDelay time.Duration
	// MaxAncestryLookback bounds the parent walks during ancestry
	// verification and reorg recovery.
	MaxAncestryLookback uint64
}

const defaultMaxAncestryLookback = 4096

// Sync is the header relay state machine for one (source, target) pair. It
// owns its frontier exclusively; parallel instances for the same pair must
// not be created.
type Sync struct {
	config  Config
	source  Source
	target  Target
	retrier *util.Retrier

	// Local view of the target's accepted frontier. Nil when unknown and
	// re-derived from a target read.
	frontier *chain.HeaderID
	state    State
}

func NewSync(config Config, source Source, target Target, limiter *util.Limiter) *Sync {
	if config.MaxAncestryLookback == 0 {
		config.MaxAncestryLookback = defaultMaxAncestryLookback
	}
	return &Sync{
		config:  config,
		source:  source,
		target:  target,
		retrier: util.NewRetrier(fmt.Sprintf("%s:submit-header", config.Bridge), limiter),
	}
}

// Run drives the sync loop until ctx is cancelled. Failures within one cycle
// are classified: transient and permanent failures are logged and the next
// poll cycle proceeds; only fatal errors tear the task down.
func (s *Sync) Run(ctx context.Context, eg *errgroup.Group) error {
	ticker := time.NewTicker(s.config.PollInterval)

	eg.Go(func() error {
		defer ticker.Stop()
		for {
			err := s.cycle(ctx)
			if err != nil {
				switch chain.Classify(err) {
				case chain.KindFatal:
					return err
				case chain.KindPermanent:
					metrics.SubmissionsTotal.WithLabelValues("header", metrics.OutcomeRejected).Inc()
					s.log().WithError(err).Error("Header rejected by target chain")
				default:
					s.log().WithError(err).Warn("Header sync cycle failed")
				}
				if s.config.RestartDelay > 0 {
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(s.config.RestartDelay):
					}
				}
			}
			s.setState(StateIdle)

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	return nil
}

func (s *Sync) log() *log.Entry {
	return log.WithField("bridge", s.config.Bridge)
}

func (s *Sync) setState(state State) {
	if s.state != state {
		s.log().WithFields(log.Fields{
			"from": s.state.String(),
			"to":   state.String(),
		}).Trace("Header sync state change")
		s.state = state
	}
}

// Frontier returns the relay's local view of the target's accepted frontier.
func (s *Sync) Frontier() *chain.HeaderID {
	return s.frontier
}

func (s *Sync) cycle(ctx context.Context) error {
	s.setState(StateFetchingBest)

	if s.frontier == nil {
		if err := s.resyncFrontier(ctx); err != nil {
			return fmt.Errorf("derive frontier: %w", err)
		}
	}

	best, err := s.source.BestHeader(ctx)
	if err != nil {
		return fmt.Errorf("fetch best header: %w", err)
	}
	metrics.BestHeaderHeight.WithLabelValues(s.config.Bridge + ":source").Set(float64(best.Number))

	finalized, err := s.source.FinalizedHeader(ctx)
	if err != nil {
		return fmt.Errorf("fetch finalized header: %w", err)
	}
	metrics.FinalizedHeaderHeight.WithLabelValues(s.config.Bridge + ":source").Set(float64(finalized.Number))

	if finalized.Number < s.frontier.Number || finalized == *s.frontier {
		// The target may be ahead of our local view, e.g. another relayer
		// beat us to it. Keep the frontier honest by re-reading it. A
		// finalized header at the frontier's height with a different hash is
		// not caught here: that is a reorg, and ancestrySince handles it.
		return s.resyncFrontier(ctx)
	}

	ancestors, err := s.ancestrySince(ctx, finalized)
	if err != nil {
		return err
	}

	s.setState(StateBuildingProof)
	proof, err := s.source.FinalityProof(ctx, finalized)
	if err != nil {
		if chain.IsNotFound(err) {
			// Finality has not caught up with the best header. Wait.
			s.log().WithField("header", finalized.String()).Debug("No finality proof yet")
			return nil
		}
		return fmt.Errorf("fetch finality proof for %s: %w", finalized, err)
	}

	s.setState(StateSubmitting)

	if s.target.RequiresUnbrokenAncestry() {
		// Submit the minimal ancestor set needed to re-establish continuity,
		// oldest first, without finality proofs.
		for _, ancestor := range ancestors[:len(ancestors)-1] {
			if err := s.submit(ctx, ancestor, nil); err != nil {
				return fmt.Errorf("submit ancestor %s: %w", ancestor.ID, err)
			}
		}
	}

	head := ancestors[len(ancestors)-1]
	if err := s.submit(ctx, head, proof); err != nil {
		return fmt.Errorf("submit finalized header %s: %w", head.ID, err)
	}

	s.setState(StateAwaitingInclusion)
	return s.resyncFrontier(ctx)
}

// submit sends one header to the target, treating "already known" as
// success: another relayer may service the same bridge.
func (s *Sync) submit(ctx context.Context, header *chain.Header, proof chain.FinalityProof) error {
	err := s.retrier.Run(ctx, func() error {
		return s.target.SubmitHeader(ctx, header, proof)
	})
	if err != nil {
		if chain.IsAlreadySatisfied(err) {
			metrics.SubmissionsTotal.WithLabelValues("header", metrics.OutcomeAlreadySatisfied).Inc()
			s.log().WithField("header", header.ID.String()).Debug("Header already known to target")
			return s.resyncFrontier(ctx)
		}
		metrics.SubmissionsTotal.WithLabelValues("header", metrics.OutcomeFailure).Inc()
		return err
	}
	metrics.SubmissionsTotal.WithLabelValues("header", metrics.OutcomeSuccess).Inc()
	s.log().WithField("header", header.ID.String()).Info("Submitted header")
	return nil
}

// ancestrySince walks parent links from the finalized header back to the
// frontier and returns the chain between them, oldest first, ending with the
// finalized header itself. A hash mismatch at the frontier's height means the
// source reorganized: the frontier is re-derived by walking further down
// until a header the target knows is found.
func (s *Sync) ancestrySince(ctx context.Context, finalized chain.HeaderID) ([]*chain.Header, error) {
	head, err := s.source.Header(ctx, finalized)
	if err != nil {
		return nil, fmt.Errorf("fetch header %s: %w", finalized, err)
	}
	lineage := []*chain.Header{head}

	// Only targets that verify every intermediate header need the chain
	// between the frontier and the head held in memory. Checkpointing targets
	// only need the descent walk itself, one header at a time.
	needLineage := s.target.RequiresUnbrokenAncestry()

	walked := uint64(0)
	current := head
	for current.ID.Number > s.frontier.Number+1 {
		if walked++; walked > s.config.MaxAncestryLookback {
			if needLineage {
				return nil, chain.Permanent(fmt.Errorf("ancestry walk exceeded %d headers", s.config.MaxAncestryLookback))
			}
			// The frontier sits deeper below the finalized head than the
			// lookback window. Stop verifying ancestry here; a checkpointing
			// target accepts the head on its own, and the post-submission
			// frontier re-read catches any divergence.
			return lineage, nil
		}
		parent, err := s.source.Header(ctx, current.ParentID)
		if err != nil {
			return nil, fmt.Errorf("fetch ancestor %s: %w", current.ParentID, err)
		}
		if needLineage {
			lineage = append([]*chain.Header{parent}, lineage...)
		}
		current = parent
	}

	if current.ParentID == *s.frontier {
		return lineage, nil
	}

	// The previously-assumed-canonical frontier is no longer an ancestor of
	// the finalized head: a reorg replaced it. Walk down from here until the
	// target recognizes a header, and resume from that common ancestor.
	metrics.ReorgsDetected.WithLabelValues(s.config.Bridge).Inc()
	s.log().WithFields(log.Fields{
		"frontier":  s.frontier.String(),
		"finalized": finalized.String(),
	}).Warn("Reorg detected, walking back to common ancestor")

	for {
		known, err := s.target.IsKnown(ctx, current.ParentID)
		if err != nil {
			return nil, fmt.Errorf("check ancestor %s at target: %w", current.ParentID, err)
		}
		if known {
			common := current.ParentID
			s.frontier = &common
			s.log().WithField("ancestor", common.String()).Info("Resuming from common ancestor")
			return lineage, nil
		}

		if walked++; walked > s.config.MaxAncestryLookback {
			return nil, chain.Permanent(fmt.Errorf("reorg walk exceeded %d headers", s.config.MaxAncestryLookback))
		}
		parent, err := s.source.Header(ctx, current.ParentID)
		if err != nil {
			return nil, fmt.Errorf("fetch ancestor %s: %w", current.ParentID, err)
		}
		if needLineage {
			lineage = append([]*chain.Header{parent}, lineage...)
		}
		current = parent
	}
}

func (s *Sync) resyncFrontier(ctx context.Context) error {
	frontier, err := s.target.Frontier(ctx)
	if err != nil {
		return fmt.Errorf("read target frontier: %w", err)
	}
	s.frontier = &frontier
	metrics.SubmittedFrontier.WithLabelValues(s.config.Bridge).Set(float64(frontier.Number))
	return nil
}
