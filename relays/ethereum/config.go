// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package ethereum

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/tidebridge/relay/config"
	"github.com/tidebridge/relay/finality"
	"github.com/tidebridge/relay/relays"
)

type Config struct {
	Source  SourceConfig         `mapstructure:"source"`
	Sink    SinkConfig           `mapstructure:"sink"`
	Lane    config.LaneConfig    `mapstructure:"lane"`
	Workers WorkersConfig        `mapstructure:"workers"`
	Metrics config.MetricsConfig `mapstructure:"metrics"`
}

type WorkersConfig struct {
	Headers  relays.WorkerConfig `mapstructure:"headers"`
	Messages relays.WorkerConfig `mapstructure:"messages"`
}

type SourceConfig struct {
	Ethereum  config.EthereumConfig `mapstructure:"ethereum"`
	Contracts ContractsConfig       `mapstructure:"contracts"`
	// Addresses of the authority set sealing the source chain, in set order.
	Authorities []string `mapstructure:"authorities"`
	// Poll interval in seconds for the header relay.
	HeaderPollInterval uint64 `mapstructure:"header-poll-interval"`
	// Cache capacity for blocks and receipt tries.
	HeaderCacheCapacity int `mapstructure:"header-cache-capacity"`
}

type ContractsConfig struct {
	OutboundLane string `mapstructure:"OutboundLane"`
}

type SinkConfig struct {
	Substrate config.SubstrateConfig `mapstructure:"substrate"`
	// Whether the header pallet needs every intermediate header or accepts
	// checkpointed frontier jumps.
	RequiresUnbrokenAncestry bool `mapstructure:"requires-unbroken-ancestry"`
}

func (c Config) Validate() error {
	if c.Source.Ethereum.Endpoint == "" {
		return fmt.Errorf("source ethereum endpoint not set")
	}
	if c.Sink.Substrate.Endpoint == "" {
		return fmt.Errorf("sink substrate endpoint not set")
	}
	if c.Source.Contracts.OutboundLane == "" {
		return fmt.Errorf("outbound lane contract address not set")
	}
	if len(c.Source.Authorities) == 0 {
		return fmt.Errorf("authority set not set")
	}
	if _, err := c.Lane.DecodeLaneID(); err != nil {
		return err
	}
	return nil
}

// AuthoritySet parses the configured authority set into the snapshot provider
// used for proof building and verification. Entries are either 20-byte
// addresses or 33-byte compressed public keys.
func (c Config) AuthoritySet() (finality.StaticAuthorities, error) {
	authorities := make(finality.StaticAuthorities, 0, len(c.Source.Authorities))
	for _, entry := range c.Source.Authorities {
		if common.IsHexAddress(entry) {
			authorities = append(authorities, common.HexToAddress(entry))
			continue
		}

		raw, err := hexutil.Decode(entry)
		if err != nil || len(raw) != len(finality.Authority{}) {
			return nil, fmt.Errorf("invalid authority %q", entry)
		}
		var authority finality.Authority
		copy(authority[:], raw)
		address, err := authority.IntoEthereumAddress()
		if err != nil {
			return nil, fmt.Errorf("invalid authority public key %q: %w", entry, err)
		}
		authorities = append(authorities, address)
	}
	return authorities, nil
}
