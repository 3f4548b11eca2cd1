// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tidebridge/relay/cmd/run"
)

var rootCmd = &cobra.Command{
	Use:          "tidebridge-relay",
	Short:        "Tidebridge Relay forwards finalized headers and messages between chains",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(run.Command())
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
