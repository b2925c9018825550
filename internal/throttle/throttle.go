// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package throttle paces upstream calls with one or more token buckets
// (pkg/ratelimit) and adapts to downstream errors via a multiplicative
// back-off/recovery factor, per spec §4.1.
package throttle

import (
	"sync"
	"time"

	"eventpipe/pkg/ratelimit"
)

// Options configures a Throttle's adaptive behavior.
type Options struct {
	// MinFactor is the floor the rate-adjustment factor backs off to.
	// Must be in (0, 1].
	MinFactor float64
	// Backoff multiplies the factor toward MinFactor on each error.
	// Must be in (0, 1).
	Backoff float64
	// Recovery multiplies the factor toward 1 on each success.
	// Must be in (1, +inf).
	Recovery float64
}

// DefaultOptions mirrors conservative values used by the teacher's worker
// hysteresis (slow climb back, fast back-off).
func DefaultOptions() Options {
	return Options{MinFactor: 0.1, Backoff: 0.5, Recovery: 1.05}
}

// Throttle wraps one or more token buckets plus adaptive error state.
type Throttle struct {
	buckets []*ratelimit.Bucket
	opts    Options

	mu                sync.Mutex
	consecutiveErrors int
	factor            float64
}

// New constructs a Throttle over the given buckets (evaluate all of
// them; the effective delay is the max across buckets, per spec §4.1's
// multi-bucket variant).
func New(buckets []*ratelimit.Bucket, opts Options) *Throttle {
	if opts.MinFactor <= 0 || opts.MinFactor > 1 {
		opts.MinFactor = 0.1
	}
	if opts.Backoff <= 0 || opts.Backoff >= 1 {
		opts.Backoff = 0.5
	}
	if opts.Recovery <= 1 {
		opts.Recovery = 1.05
	}
	return &Throttle{buckets: buckets, opts: opts, factor: 1.0}
}

// ConsecutiveErrors reports the current run length of errors since the
// last success.
func (t *Throttle) ConsecutiveErrors() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consecutiveErrors
}

// Factor reports the current rate-adjustment factor.
func (t *Throttle) Factor() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.factor
}

// SetSuccess resets the consecutive-error counter and nudges the factor
// back toward 1 by the configured recovery multiplier.
func (t *Throttle) SetSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecutiveErrors = 0
	t.factor *= t.opts.Recovery
	if t.factor > 1 {
		t.factor = 1
	}
}

// SetError increments the consecutive-error counter and multiplies the
// factor toward MinFactor by the configured back-off multiplier.
func (t *Throttle) SetError() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecutiveErrors++
	t.factor *= t.opts.Backoff
	if t.factor < t.opts.MinFactor {
		t.factor = t.opts.MinFactor
	}
}

// GetDelay returns the bucket delay for the given per-bucket token
// requests, computed at the Throttle's current factor. len(tokens) must
// equal len(buckets) passed to New.
func (t *Throttle) GetDelay(tokens []float64) time.Duration {
	t.mu.Lock()
	factor := t.factor
	t.mu.Unlock()

	var max time.Duration
	for i, b := range t.buckets {
		var n float64
		if i < len(tokens) {
			n = tokens[i]
		}
		d := b.Delay(n, factor)
		if d > max {
			max = d
		}
	}
	return max
}
