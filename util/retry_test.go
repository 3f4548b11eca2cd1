// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package util

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidebridge/relay/chain"
)

func TestRetrierRecoversFromTransientErrors(t *testing.T) {
	calls := 0
	err := NewRetrier("test", nil).Run(context.Background(), func() error {
		calls++
		if calls < 3 {
			return chain.Transient(errors.New("connection reset"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrierStopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := chain.Permanent(errors.New("invalid proof"))
	err := NewRetrier("test", nil).Run(context.Background(), func() error {
		calls++
		return permanent
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, chain.IsPermanent(err))
}

func TestRetrierStopsOnAlreadySatisfied(t *testing.T) {
	calls := 0
	err := NewRetrier("test", nil).Run(context.Background(), func() error {
		calls++
		return chain.AlreadySatisfied(errors.New("header already known"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, chain.IsAlreadySatisfied(err))
}

func TestRetrierGivesUpAfterBoundedAttempts(t *testing.T) {
	calls := 0
	err := NewRetrier("test", nil).WithAttempts(2).Run(context.Background(), func() error {
		calls++
		return chain.Transient(errors.New("timeout"))
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestLimiterCapsConcurrency(t *testing.T) {
	limiter := NewLimiter(2)

	var inFlight, maxInFlight int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = limiter.Do(context.Background(), func() error {
				cur := atomic.AddInt64(&inFlight, 1)
				for {
					max := atomic.LoadInt64(&maxInFlight)
					if cur <= max || atomic.CompareAndSwapInt64(&maxInFlight, max, cur) {
						break
					}
				}
				atomic.AddInt64(&inFlight, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&maxInFlight), int64(2))
}

func TestLimiterHonoursCancellation(t *testing.T) {
	limiter := NewLimiter(1)

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = limiter.Do(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := limiter.Do(ctx, func() error { return nil })
	assert.Error(t, err)
	close(release)
}
