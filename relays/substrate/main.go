// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package substrate

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tidebridge/relay/chain/substrate"
	"github.com/tidebridge/relay/crypto/sr25519"
	"github.com/tidebridge/relay/metrics"
	"github.com/tidebridge/relay/relays/headers"
	"github.com/tidebridge/relay/relays/messages"
	"github.com/tidebridge/relay/util"
)

// Relay runs the GRANDPA deployment: headers and messages between two
// Substrate chains, with justifications forwarded opaquely to the target's
// verification pallet.
type Relay struct {
	config        *Config
	sourceKeypair *sr25519.Keypair
	sinkKeypair   *sr25519.Keypair
}

func NewRelay(config *Config, sourceKeypair, sinkKeypair *sr25519.Keypair) *Relay {
	return &Relay{
		config:        config,
		sourceKeypair: sourceKeypair,
		sinkKeypair:   sinkKeypair,
	}
}

func (r *Relay) Start(ctx context.Context, eg *errgroup.Group) error {
	if err := r.config.Validate(); err != nil {
		return err
	}

	sourceConn := substrate.NewConnection(r.config.Source.Substrate.Endpoint, r.sourceKeypair.AsKeyringPair())
	if err := sourceConn.Connect(ctx); err != nil {
		return fmt.Errorf("connect to source chain: %w", err)
	}

	sinkConn := substrate.NewConnection(r.config.Sink.Substrate.Endpoint, r.sinkKeypair.AsKeyringPair())
	if err := sinkConn.Connect(ctx); err != nil {
		return fmt.Errorf("connect to sink chain: %w", err)
	}

	sourceWriter := substrate.NewWriter(sourceConn, r.config.Source.Substrate.MaxWatchedExtrinsics)
	if err := sourceWriter.Start(ctx, eg); err != nil {
		return fmt.Errorf("start source extrinsic writer: %w", err)
	}

	sinkWriter := substrate.NewWriter(sinkConn, r.config.Sink.Substrate.MaxWatchedExtrinsics)
	if err := sinkWriter.Start(ctx, eg); err != nil {
		return fmt.Errorf("start sink extrinsic writer: %w", err)
	}

	laneID, err := r.config.Lane.DecodeLaneID()
	if err != nil {
		return err
	}

	headerPoll := time.Duration(r.config.Source.HeaderPollInterval) * time.Second
	if headerPoll == 0 {
		headerPoll = 6 * time.Second
	}
	lanePoll := time.Duration(r.config.Lane.PollInterval) * time.Second
	if lanePoll == 0 {
		lanePoll = 6 * time.Second
	}

	source := NewSource(
		substrate.NewClient(sourceConn),
		sourceWriter,
		laneID,
		r.config.Source.VoterSetSize,
		r.config.Source.JustificationLookback,
	)
	target := NewTarget(substrate.NewClient(sinkConn), sinkWriter, laneID, r.config.Sink.RequiresUnbrokenAncestry)

	if r.config.Metrics.Enabled {
		eg.Go(func() error {
			return metrics.Serve(ctx, r.config.Metrics.Address)
		})
	}

	sourceLimiter := util.NewLimiter(1)
	sinkLimiter := util.NewLimiter(1)

	if !r.config.Workers.Headers.Disabled {
		headerSync := headers.NewSync(headers.Config{
			Bridge:       "substrate",
			PollInterval: headerPoll,
			RestartDelay: r.config.Workers.Headers.RestartDelayDuration(),
		}, source, target, sinkLimiter)
		if err := headerSync.Run(ctx, eg); err != nil {
			return err
		}
	}

	if r.config.Workers.Messages.Disabled {
		return nil
	}
	laneRelay := messages.NewRelay(messages.Config{
		Lane:         laneID,
		MaxBatchSize: r.config.Lane.MaxBatchSize,
		PollInterval: lanePoll,
		RestartDelay: r.config.Workers.Messages.RestartDelayDuration(),
	}, source, target, sourceLimiter, sinkLimiter)
	return laneRelay.Run(ctx, eg)
}
