// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

// Package metrics exposes the relay's observability surface: best-known
// header heights, per-lane nonce state and submission outcomes. Consumed by
// an external monitoring collaborator over HTTP.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var (
	BestHeaderHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tidebridge",
		Name:      "best_header_height",
		Help:      "Best known header height per chain.",
	}, []string{"chain"})

	FinalizedHeaderHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tidebridge",
		Name:      "finalized_header_height",
		Help:      "Best finalized header height per chain.",
	}, []string{"chain"})

	SubmittedFrontier = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tidebridge",
		Name:      "submitted_header_frontier",
		Help:      "Highest source header number accepted by the target chain.",
	}, []string{"bridge"})

	LaneGeneratedNonce = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tidebridge",
		Name:      "lane_generated_nonce",
		Help:      "Latest generated nonce on the source outbound lane.",
	}, []string{"lane"})

	LaneReceivedNonce = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tidebridge",
		Name:      "lane_received_nonce",
		Help:      "Latest nonce received by the target inbound lane.",
	}, []string{"lane"})

	LaneConfirmedNonce = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tidebridge",
		Name:      "lane_confirmed_nonce",
		Help:      "Latest nonce confirmed back to the source chain.",
	}, []string{"lane"})

	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tidebridge",
		Name:      "submissions_total",
		Help:      "Transaction submissions by kind and outcome.",
	}, []string{"kind", "outcome"})

	ReorgsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tidebridge",
		Name:      "reorgs_detected_total",
		Help:      "Source chain reorganizations detected per bridge.",
	}, []string{"bridge"})
)

const (
	OutcomeSuccess          = "success"
	OutcomeFailure          = "failure"
	OutcomeAlreadySatisfied = "already-satisfied"
	OutcomeRejected         = "rejected"
)

// Serve runs the metrics endpoint until ctx is cancelled.
func Serve(ctx context.Context, address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: address, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.WithField("address", address).Info("Serving metrics")

	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
