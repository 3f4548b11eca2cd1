// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package substrate

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tidebridge/relay/chain/substrate"
	"github.com/tidebridge/relay/config"
	relay "github.com/tidebridge/relay/relays/substrate"
)

var (
	configFile           string
	sourcePrivateKey     string
	sourcePrivateKeyFile string
	sinkPrivateKey       string
	sinkPrivateKeyFile   string
)

func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "substrate",
		Short: "Start the GRANDPA header and message relay",
		Args:  cobra.ExactArgs(0),
		RunE:  run,
	}

	cmd.Flags().StringVar(&configFile, "config", "", "Path to configuration file")
	cmd.MarkFlagRequired("config")

	cmd.Flags().StringVar(&sourcePrivateKey, "source.private-key", "", "Private key URI for the source chain")
	cmd.Flags().StringVar(&sourcePrivateKeyFile, "source.private-key-file", "", "The file from which to read the source private key URI")

	cmd.Flags().StringVar(&sinkPrivateKey, "sink.private-key", "", "Private key URI for the sink chain")
	cmd.Flags().StringVar(&sinkPrivateKeyFile, "sink.private-key-file", "", "The file from which to read the sink private key URI")

	return cmd
}

func run(_ *cobra.Command, _ []string) error {
	log.SetOutput(logrus.WithFields(logrus.Fields{"logger": "stdlib"}).WriterLevel(logrus.InfoLevel))
	logrus.SetLevel(logrus.DebugLevel)

	logrus.Info("Substrate relayer started up")

	var cfg relay.Config
	if err := config.LoadConfig(configFile, &cfg); err != nil {
		return err
	}

	sourceKeypair, err := substrate.ResolvePrivateKey(sourcePrivateKey, sourcePrivateKeyFile)
	if err != nil {
		return err
	}

	sinkKeypair, err := substrate.ResolvePrivateKey(sinkPrivateKey, sinkPrivateKeyFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)

	// Ensure clean termination upon SIGINT, SIGTERM
	eg.Go(func() error {
		notify := make(chan os.Signal, 1)
		signal.Notify(notify, syscall.SIGINT, syscall.SIGTERM)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-notify:
			logrus.WithField("signal", sig.String()).Info("Received signal")
			cancel()
		}

		return nil
	})

	err = relay.NewRelay(&cfg, sourceKeypair, sinkKeypair).Start(ctx, eg)
	if err != nil {
		logrus.WithError(err).Fatal("Unhandled error")
		cancel()
		return err
	}

	err = eg.Wait()
	if err != nil {
		logrus.WithError(err).Fatal("Unhandled error")
		return err
	}

	return nil
}
