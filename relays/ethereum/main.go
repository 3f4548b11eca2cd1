// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package ethereum

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/tidebridge/relay/chain/ethereum"
	"github.com/tidebridge/relay/chain/substrate"
	"github.com/tidebridge/relay/crypto/secp256k1"
	"github.com/tidebridge/relay/crypto/sr25519"
	"github.com/tidebridge/relay/metrics"
	"github.com/tidebridge/relay/relays/headers"
	"github.com/tidebridge/relay/relays/messages"
	"github.com/tidebridge/relay/util"
)

const defaultHeaderCacheCapacity = 16

// Relay runs the PoA deployment: headers and messages from an Ethereum
// source chain into a Substrate target chain, with confirmations flowing
// back to the source lane contract.
type Relay struct {
	config     *Config
	ethKeypair *secp256k1.Keypair
	subKeypair *sr25519.Keypair
}

func NewRelay(config *Config, ethKeypair *secp256k1.Keypair, subKeypair *sr25519.Keypair) *Relay {
	return &Relay{
		config:     config,
		ethKeypair: ethKeypair,
		subKeypair: subKeypair,
	}
}

func (r *Relay) Start(ctx context.Context, eg *errgroup.Group) error {
	if err := r.config.Validate(); err != nil {
		return err
	}

	ethconn := ethereum.NewConnection(&r.config.Source.Ethereum, r.ethKeypair)
	if err := ethconn.Connect(ctx); err != nil {
		return fmt.Errorf("connect to source chain: %w", err)
	}

	subconn := substrate.NewConnection(r.config.Sink.Substrate.Endpoint, r.subKeypair.AsKeyringPair())
	if err := subconn.Connect(ctx); err != nil {
		return fmt.Errorf("connect to sink chain: %w", err)
	}

	writer := substrate.NewWriter(subconn, r.config.Sink.Substrate.MaxWatchedExtrinsics)
	if err := writer.Start(ctx, eg); err != nil {
		return fmt.Errorf("start extrinsic writer: %w", err)
	}

	laneID, err := r.config.Lane.DecodeLaneID()
	if err != nil {
		return err
	}
	authorities, err := r.config.AuthoritySet()
	if err != nil {
		return err
	}

	headerPoll := time.Duration(r.config.Source.HeaderPollInterval) * time.Second
	if headerPoll == 0 {
		headerPoll = 10 * time.Second
	}
	lanePoll := time.Duration(r.config.Lane.PollInterval) * time.Second
	if lanePoll == 0 {
		lanePoll = 10 * time.Second
	}

	ethclient := ethereum.NewClient(ethconn, r.config.Source.Ethereum.DescendantsUntilFinal, headerPoll, authorities)
	subclient := substrate.NewClient(subconn)

	cacheCapacity := r.config.Source.HeaderCacheCapacity
	if cacheCapacity == 0 {
		cacheCapacity = defaultHeaderCacheCapacity
	}
	headerCache, err := ethereum.NewHeaderCache(&ethereum.DefaultBlockLoader{Conn: ethconn}, cacheCapacity)
	if err != nil {
		return err
	}

	lane, err := ethereum.NewOutboundLane(common.HexToAddress(r.config.Source.Contracts.OutboundLane), ethconn)
	if err != nil {
		return err
	}

	source := NewSource(
		ethclient,
		headerCache,
		lane,
		laneID,
		authorities,
		r.config.Source.Ethereum.DescendantsUntilFinal,
	)
	target := NewTarget(subclient, writer, laneID, r.config.Sink.RequiresUnbrokenAncestry)

	if r.config.Metrics.Enabled {
		eg.Go(func() error {
			return metrics.Serve(ctx, r.config.Metrics.Address)
		})
	}

	// Submissions to each chain share one in-flight cap.
	ethLimiter := util.NewLimiter(1)
	subLimiter := util.NewLimiter(1)

	if !r.config.Workers.Headers.Disabled {
		headerSync := headers.NewSync(headers.Config{
			Bridge:       "ethereum",
			PollInterval: headerPoll,
			RestartDelay: r.config.Workers.Headers.RestartDelayDuration(),
		}, source, target, subLimiter)
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
	}, source, target, ethLimiter, subLimiter)
	return laneRelay.Run(ctx, eg)
}
