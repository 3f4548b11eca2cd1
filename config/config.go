// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package config

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type EthereumConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	// Number of descendants sealed on top of a header before the client
	// reports it finalized.
	DescendantsUntilFinal uint64 `mapstructure:"descendants-until-final"`
	GasFeeCap             uint64 `mapstructure:"gas-fee-cap"`
	GasTipCap             uint64 `mapstructure:"gas-tip-cap"`
	GasLimit              uint64 `mapstructure:"gas-limit"`
}

type SubstrateConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	// Upper bound on extrinsics awaiting finalization at any one time.
	MaxWatchedExtrinsics int64 `mapstructure:"max-watched-extrinsics"`
}

type LaneConfig struct {
	// Hex-encoded 32-byte lane id.
	ID string `mapstructure:"id"`
	// Upper bound on the number of messages delivered in one transaction.
	MaxBatchSize uint64 `mapstructure:"max-batch-size"`
	// Poll interval in seconds for both lane races.
	PollInterval uint64 `mapstructure:"poll-interval"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// DecodeLaneID parses the hex lane id from config.
func (lc *LaneConfig) DecodeLaneID() ([32]byte, error) {
	var id [32]byte
	cleaned := strings.TrimPrefix(lc.ID, "0x")
	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return id, fmt.Errorf("decode lane id %q: %w", lc.ID, err)
	}
	if len(raw) != 32 {
		return id, fmt.Errorf("lane id must be 32 bytes, got %d", len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// LoadConfig reads the config file at path and unmarshals it into out.
func LoadConfig(path string, out interface{}) error {
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return err
	}
	return viper.Unmarshal(out, viper.DecodeHook(HexHookFunc()))
}

// HexHookFunc decodes "0x..." strings into fixed-size byte arrays during
// config unmarshalling.
func HexHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Array || t.Elem().Kind() != reflect.Uint8 {
			return data, nil
		}

		raw, err := hex.DecodeString(strings.TrimPrefix(data.(string), "0x"))
		if err != nil {
			return nil, fmt.Errorf("decode hex value: %w", err)
		}
		if len(raw) != t.Len() {
			return nil, fmt.Errorf("expected %d hex bytes, got %d", t.Len(), len(raw))
		}

		out := reflect.New(t).Elem()
		reflect.Copy(out, reflect.ValueOf(raw))
		return out.Interface(), nil
	}
}
