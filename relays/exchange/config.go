// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package exchange

import (
	"fmt"

	"github.com/tidebridge/relay/config"
)

type Config struct {
	Source  SourceConfig         `mapstructure:"source"`
	Sink    SinkConfig           `mapstructure:"sink"`
	Metrics config.MetricsConfig `mapstructure:"metrics"`
}

type SourceConfig struct {
	Ethereum  config.EthereumConfig `mapstructure:"ethereum"`
	Contracts ContractsConfig       `mapstructure:"contracts"`
	// Poll interval in seconds for the block scanner.
	PollInterval uint64 `mapstructure:"poll-interval"`
	// Cache capacity for blocks and receipt tries.
	HeaderCacheCapacity int `mapstructure:"header-cache-capacity"`
}

type ContractsConfig struct {
	LockVault string `mapstructure:"LockVault"`
}

type SinkConfig struct {
	Substrate config.SubstrateConfig `mapstructure:"substrate"`
}

func (c Config) Validate() error {
	if c.Source.Ethereum.Endpoint == "" {
		return fmt.Errorf("source ethereum endpoint not set")
	}
	if c.Source.Contracts.LockVault == "" {
		return fmt.Errorf("lock vault contract address not set")
	}
	if c.Sink.Substrate.Endpoint == "" {
		return fmt.Errorf("sink substrate endpoint not set")
	}
	return nil
}
