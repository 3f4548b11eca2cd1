// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package run

import (
	"github.com/spf13/cobra"

	"github.com/tidebridge/relay/cmd/run/ethereum"
	"github.com/tidebridge/relay/cmd/run/exchange"
	"github.com/tidebridge/relay/cmd/run/substrate"
)

func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a relay service",
		Args:  cobra.MinimumNArgs(1),
	}

	cmd.AddCommand(ethereum.Command())
	cmd.AddCommand(substrate.Command())
	cmd.AddCommand(exchange.Command())

	return cmd
}
