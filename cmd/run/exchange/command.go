// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package exchange

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tidebridge/relay/chain/ethereum"
	"github.com/tidebridge/relay/chain/substrate"
	"github.com/tidebridge/relay/config"
	relay "github.com/tidebridge/relay/relays/exchange"
)

var (
	configFile        string
	ethPrivateKey     string
	ethPrivateKeyFile string
	subPrivateKey     string
	subPrivateKeyFile string
	lockTxHash        string
)

func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exchange",
		Short: "Start the currency exchange relay",
		Args:  cobra.ExactArgs(0),
		RunE:  run,
	}

	cmd.Flags().StringVar(&configFile, "config", "", "Path to configuration file")
	cmd.MarkFlagRequired("config")

	cmd.Flags().StringVar(&ethPrivateKey, "ethereum.private-key", "", "Ethereum private key")
	cmd.Flags().StringVar(&ethPrivateKeyFile, "ethereum.private-key-file", "", "The file from which to read the private key")

	cmd.Flags().StringVar(&subPrivateKey, "substrate.private-key", "", "Private key URI for Substrate")
	cmd.Flags().StringVar(&subPrivateKeyFile, "substrate.private-key-file", "", "The file from which to read the private key URI")

	cmd.Flags().StringVar(&lockTxHash, "lock-tx", "", "Relay a single lock transaction by hash and exit")

	return cmd
}

func run(_ *cobra.Command, _ []string) error {
	log.SetOutput(logrus.WithFields(logrus.Fields{"logger": "stdlib"}).WriterLevel(logrus.InfoLevel))
	logrus.SetLevel(logrus.DebugLevel)

	logrus.Info("Exchange relayer started up")

	var cfg relay.Config
	if err := config.LoadConfig(configFile, &cfg); err != nil {
		return err
	}

	ethKeypair, err := ethereum.ResolvePrivateKey(ethPrivateKey, ethPrivateKeyFile)
	if err != nil {
		return err
	}

	subKeypair, err := substrate.ResolvePrivateKey(subPrivateKey, subPrivateKeyFile)
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

	r := relay.NewRelay(&cfg, ethKeypair, subKeypair)

	if lockTxHash != "" {
		err = r.StartOneShot(ctx, eg, common.HexToHash(lockTxHash))
		cancel()
	} else {
		err = r.Start(ctx, eg)
	}
	if err != nil {
		logrus.WithError(err).Fatal("Unhandled error")
		cancel()
		return err
	}

	err = eg.Wait()
	if err != nil && err != context.Canceled {
		logrus.WithError(err).Fatal("Unhandled error")
		return err
	}

	return nil
}
