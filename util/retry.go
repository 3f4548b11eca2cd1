// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

// Package util wraps fallible chain operations with retry, backoff and a
// shared in-flight request cap. One Limiter exists per chain endpoint and is
// shared by every task talking to that endpoint; it owns no chain state, only
// a semaphore.
package util

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/tidebridge/relay/chain"
)

const (
	defaultAttempts  = 5
	defaultBaseDelay = 500 * time.Millisecond
	defaultMaxJitter = 250 * time.Millisecond
)

// Limiter caps concurrent in-flight requests against one chain endpoint.
// Safe for concurrent use.
type Limiter struct {
	sem *semaphore.Weighted
}

func NewLimiter(maxInFlight int64) *Limiter {
	return &Limiter{sem: semaphore.NewWeighted(maxInFlight)}
}

// Do runs fn while holding one slot of the endpoint's request budget.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)
	return fn()
}

// Retrier retries operations with exponential backoff and jitter. Attempt
// state is carried per call, never in shared counters.
type Retrier struct {
	name     string
	limiter  *Limiter
	attempts uint
}

func NewRetrier(name string, limiter *Limiter) *Retrier {
	return &Retrier{
		name:     name,
		limiter:  limiter,
		attempts: defaultAttempts,
	}
}

func (r *Retrier) WithAttempts(attempts uint) *Retrier {
	r.attempts = attempts
	return r
}

// Run executes fn, retrying transient failures with exponential backoff and
// jitter up to the attempt bound. Permanent and already-satisfied failures
// stop retrying immediately and are returned to the caller for
// classification.
func (r *Retrier) Run(ctx context.Context, fn func() error) error {
	wrapped := func() error {
		var err error
		if r.limiter != nil {
			err = r.limiter.Do(ctx, fn)
		} else {
			err = fn()
		}
		if err == nil {
			return nil
		}
		switch chain.Classify(err) {
		case chain.KindTransient:
			return err
		default:
			return retry.Unrecoverable(err)
		}
	}

	return retry.Do(
		wrapped,
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(defaultBaseDelay),
		retry.MaxJitter(defaultMaxJitter),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithFields(log.Fields{
				"operation": r.name,
				"attempt":   n + 1,
			}).WithError(err).Debug("Retrying operation")
		}),
	)
}
