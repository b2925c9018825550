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

// Package ratelimit provides a thread-safe, in-memory token bucket. It is
// the primitive the agent's upload throttle is built on: callers ask how
// long they must wait before N tokens are available, rather than being
// blocked inside the bucket itself, so the caller chooses whether to
// sleep, queue, or abort.
package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a thread-safe token bucket. Tokens refill continuously at
// Rate tokens/second up to Capacity; callers draw tokens with Delay.
type Bucket struct {
	// capacity is the maximum number of tokens the bucket can hold.
	capacity float64
	// rate is the refill rate in tokens per second.
	rate float64

	// mu protects tokens and lastRefill.
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time

	// now is overridable for deterministic tests.
	now func() time.Time
}

// New creates a bucket with the given capacity and refill rate (tokens
// per second). The bucket starts full.
func New(capacity, ratePerSecond float64) *Bucket {
	return NewAt(capacity, ratePerSecond, time.Now())
}

// NewAt is New with an explicit start time, for deterministic tests.
func NewAt(capacity, ratePerSecond float64, start time.Time) *Bucket {
	return &Bucket{
		capacity:   capacity,
		rate:       ratePerSecond,
		tokens:     capacity,
		lastRefill: start,
		now:        time.Now,
	}
}

// SetClock overrides the bucket's time source. Intended for tests.
func (b *Bucket) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// refillLocked advances tokens based on elapsed wall time. Caller must
// hold b.mu.
func (b *Bucket) refillLocked(at time.Time) {
	elapsed := at.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed.Seconds() * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = at
}

// Delay refills the bucket, subtracts n tokens scaled by 1/factor worth
// of effective rate, and reports how long the caller must wait before n
// tokens would be available at the effective rate (rate * factor). A
// factor of 1.0 means no adjustment. If tokens are already available,
// Delay consumes them immediately and returns zero.
//
// factor must be in (0, 1]; callers apply throttle back-off by shrinking
// it toward a configured minimum.
func (b *Bucket) Delay(n float64, factor float64) time.Duration {
	if factor <= 0 {
		factor = 1
	}
	effectiveRate := b.rate * factor

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.refillLocked(now)

	remaining := b.tokens - n
	if remaining >= 0 {
		b.tokens = remaining
		return 0
	}

	// Not enough tokens: consume what's there and report how long until
	// the shortfall refills at the effective rate.
	shortfall := -remaining
	b.tokens = 0
	if effectiveRate <= 0 {
		// No refill possible; caller must wait indefinitely. Report a
		// conservative large delay rather than blocking forever silently.
		return time.Duration(1<<62 - 1)
	}
	seconds := shortfall / effectiveRate
	d := time.Duration(seconds * float64(time.Second))
	// The caller's wait pays for the shortfall, so nothing is refilled
	// until that wait has elapsed.
	b.lastRefill = now.Add(d)
	return d
}

// Tokens returns the current token count, after refilling to now.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(b.now())
	return b.tokens
}

// MultiDelay computes the Delay of each bucket for its corresponding
// token request and returns the maximum — the pace at which all buckets
// are satisfied simultaneously.
func MultiDelay(buckets []*Bucket, tokens []float64, factor float64) time.Duration {
	var max time.Duration
	for i, b := range buckets {
		d := b.Delay(tokens[i], factor)
		if d > max {
			max = d
		}
	}
	return max
}
