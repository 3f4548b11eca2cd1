// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

// Package exchange proves currency-lock transactions on the Ethereum source
// chain and relays them as dispatchable messages to the target chain. A lock
// is only dispatched once its containing header has been relayed.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	goEthereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	etypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/snowfork/go-substrate-rpc-client/v4/types"
	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"

	"github.com/tidebridge/relay/chain"
	"github.com/tidebridge/relay/chain/ethereum"
	"github.com/tidebridge/relay/chain/substrate"
	"github.com/tidebridge/relay/crypto/secp256k1"
	"github.com/tidebridge/relay/crypto/sr25519"
	"github.com/tidebridge/relay/metrics"
	"github.com/tidebridge/relay/util"
)

// Vault contracts emit one Locked(address indexed sender, bytes32 indexed
// recipient, uint256 amount) event per lock.
var lockedTopic = crypto.Keccak256Hash([]byte("Locked(address,bytes32,uint256)"))

const defaultExchangeCacheCapacity = 16

// Relay scans the source chain for lock events, proves them against relayed
// headers and dispatches them to the exchange pallet.
type Relay struct {
	config     *Config
	ethKeypair *secp256k1.Keypair
	subKeypair *sr25519.Keypair

	conn        *ethereum.Connection
	client      *ethereum.Client
	headerCache *ethereum.HeaderCache
	writer      *substrate.Writer
	vault       common.Address
	retrier     *util.Retrier
}

func NewRelay(config *Config, ethKeypair *secp256k1.Keypair, subKeypair *sr25519.Keypair) *Relay {
	return &Relay{
		config:     config,
		ethKeypair: ethKeypair,
		subKeypair: subKeypair,
	}
}

func (r *Relay) Start(ctx context.Context, eg *errgroup.Group) error {
	if err := r.connect(ctx, eg); err != nil {
		return err
	}

	if r.config.Metrics.Enabled {
		eg.Go(func() error {
			return metrics.Serve(ctx, r.config.Metrics.Address)
		})
	}

	eg.Go(func() error {
		return r.scanLoop(ctx)
	})
	return nil
}

// StartOneShot proves and relays a single lock transaction instead of running
// the scan loop.
func (r *Relay) StartOneShot(ctx context.Context, eg *errgroup.Group, txHash common.Hash) error {
	if err := r.connect(ctx, eg); err != nil {
		return err
	}
	return r.RelayTransaction(ctx, txHash)
}

func (r *Relay) connect(ctx context.Context, eg *errgroup.Group) error {
	if err := r.config.Validate(); err != nil {
		return err
	}

	r.conn = ethereum.NewConnection(&r.config.Source.Ethereum, r.ethKeypair)
	if err := r.conn.Connect(ctx); err != nil {
		return fmt.Errorf("connect to source chain: %w", err)
	}

	subconn := substrate.NewConnection(r.config.Sink.Substrate.Endpoint, r.subKeypair.AsKeyringPair())
	if err := subconn.Connect(ctx); err != nil {
		return fmt.Errorf("connect to sink chain: %w", err)
	}

	r.writer = substrate.NewWriter(subconn, r.config.Sink.Substrate.MaxWatchedExtrinsics)
	if err := r.writer.Start(ctx, eg); err != nil {
		return fmt.Errorf("start extrinsic writer: %w", err)
	}

	poll := time.Duration(r.config.Source.PollInterval) * time.Second
	if poll == 0 {
		poll = 10 * time.Second
	}
	r.client = ethereum.NewClient(r.conn, r.config.Source.Ethereum.DescendantsUntilFinal, poll, nil)

	capacity := r.config.Source.HeaderCacheCapacity
	if capacity == 0 {
		capacity = defaultExchangeCacheCapacity
	}
	headerCache, err := ethereum.NewHeaderCache(&ethereum.DefaultBlockLoader{Conn: r.conn}, capacity)
	if err != nil {
		return err
	}
	r.headerCache = headerCache

	r.vault = common.HexToAddress(r.config.Source.Contracts.LockVault)
	r.retrier = util.NewRetrier("exchange:submit-proof", util.NewLimiter(1))

	return nil
}

// scanLoop follows the finalized frontier of the source chain and relays
// every lock event it passes.
func (r *Relay) scanLoop(ctx context.Context) error {
	heads, err := r.client.SubscribeNewHeads(ctx)
	if err != nil {
		return err
	}

	var lastScanned uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case head, ok := <-heads:
			if !ok {
				return nil
			}
			if head.Err != nil {
				log.WithError(head.Err).Warn("Head subscription error")
				continue
			}

			finalized, err := r.client.FinalizedHeader(ctx)
			if err != nil {
				log.WithError(err).Warn("Failed to fetch finalized header")
				continue
			}
			if finalized.Number <= lastScanned {
				continue
			}

			err = r.scanRange(ctx, lastScanned+1, finalized.Number)
			if err != nil {
				if chain.Classify(err) == chain.KindFatal {
					return err
				}
				log.WithError(err).Warn("Lock event scan failed")
				continue
			}
			lastScanned = finalized.Number
		}
	}
}

func (r *Relay) scanRange(ctx context.Context, from, to uint64) error {
	query := goEthereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{r.vault},
		Topics:    [][]common.Hash{{lockedTopic}},
	}

	events, err := r.conn.Client().FilterLogs(ctx, query)
	if err != nil {
		return chain.Transient(fmt.Errorf("filter lock events: %w", err))
	}

	for i := range events {
		if err := r.relayEvent(ctx, &events[i]); err != nil {
			return err
		}
	}
	return nil
}

// RelayTransaction proves a single lock transaction by hash. A transaction
// the source chain does not know is a permanent failure: there is nothing to
// wait for.
func (r *Relay) RelayTransaction(ctx context.Context, txHash common.Hash) error {
	receipt, err := r.conn.Client().TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, goEthereum.NotFound) {
			return chain.Permanent(fmt.Errorf("lock transaction %s not found", txHash.Hex()))
		}
		return chain.Transient(fmt.Errorf("fetch receipt for %s: %w", txHash.Hex(), err))
	}

	for _, event := range receipt.Logs {
		if event.Address == r.vault && len(event.Topics) > 0 && event.Topics[0] == lockedTopic {
			return r.relayEvent(ctx, event)
		}
	}

	return chain.Permanent(fmt.Errorf("transaction %s contains no lock event", txHash.Hex()))
}

func (r *Relay) relayEvent(ctx context.Context, event *etypes.Log) error {
	if err := r.waitForAnchor(ctx, event.BlockNumber); err != nil {
		return err
	}

	receiptsTrie, err := r.headerCache.GetReceiptTrie(ctx, event.BlockHash)
	if err != nil {
		return chain.Transient(fmt.Errorf("receipt trie for %s: %w", event.BlockHash.Hex(), err))
	}

	message, err := MakeLockMessage(event, receiptsTrie)
	if err != nil {
		return chain.Permanent(fmt.Errorf("build lock message: %w", err))
	}

	err = r.retrier.Run(ctx, func() error {
		err := r.writer.WriteAndRateLimit(ctx, "BridgeExchange.submit_exchange_proof", message)
		if err != nil {
			return chain.Transient(err)
		}
		return nil
	})
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("exchange", metrics.OutcomeFailure).Inc()
		return err
	}

	metrics.SubmissionsTotal.WithLabelValues("exchange", metrics.OutcomeSuccess).Inc()
	log.WithFields(log.Fields{
		"blockHash": event.BlockHash.Hex(),
		"txHash":    event.TxHash.Hex(),
	}).Info("Relayed lock transaction")
	return nil
}

// waitForAnchor blocks until the header relay has imported the block
// containing the lock event.
func (r *Relay) waitForAnchor(ctx context.Context, blockNumber uint64) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		var best struct {
			Number types.U64
			Hash   types.H256
		}
		ok, err := r.writer.GetStorage("BridgeHeaders", "BestFinalized", nil, &best)
		if err != nil {
			return chain.Transient(err)
		}
		if ok && uint64(best.Number) >= blockNumber {
			return nil
		}

		log.WithFields(log.Fields{
			"block":    blockNumber,
			"frontier": uint64(best.Number),
		}).Debug("Waiting for header relay to reach lock block")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
