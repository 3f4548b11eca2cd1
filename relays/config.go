// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package relays

import "time"

// WorkerConfig tunes one relay worker loop.
type WorkerConfig struct {
	// Set to keep this worker from starting.
	Disabled bool `mapstructure:"disabled"`
	// Delay in seconds before the worker resumes after a failed cycle.
	RestartDelay uint `mapstructure:"restart-delay"`
}

func (wc WorkerConfig) RestartDelayDuration() time.Duration {
	return time.Duration(wc.RestartDelay) * time.Second
}
