// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package substrate

import (
	"fmt"

	"github.com/tidebridge/relay/config"
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
	Substrate config.SubstrateConfig `mapstructure:"substrate"`
	// GRANDPA voter set size, used for the supermajority precheck before
	// justifications are forwarded.
	VoterSetSize int `mapstructure:"voter-set-size"`
	// Blocks walked down from the finalized head when looking for the most
	// recent justification.
	JustificationLookback uint64 `mapstructure:"justification-lookback"`
	// Poll interval in seconds for the header relay.
	HeaderPollInterval uint64 `mapstructure:"header-poll-interval"`
}

type SinkConfig struct {
	Substrate config.SubstrateConfig `mapstructure:"substrate"`
	// Whether the GRANDPA pallet needs every intermediate header or accepts
	// checkpointed frontier jumps.
	RequiresUnbrokenAncestry bool `mapstructure:"requires-unbroken-ancestry"`
}

func (c Config) Validate() error {
	if c.Source.Substrate.Endpoint == "" {
		return fmt.Errorf("source substrate endpoint not set")
	}
	if c.Sink.Substrate.Endpoint == "" {
		return fmt.Errorf("sink substrate endpoint not set")
	}
	if c.Source.VoterSetSize <= 0 {
		return fmt.Errorf("voter set size not set")
	}
	if _, err := c.Lane.DecodeLaneID(); err != nil {
		return err
	}
	return nil
}
