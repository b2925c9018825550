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

// Package batcher implements the count/bytes/age-triggered batching
// policy (C5) sitting between the pipe graph and a sink's buffer.
package batcher

import (
	"sync"
	"time"
)

// Reason identifies why a batch was flushed.
type Reason int

const (
	// BeforeAdd fires when the incoming item would overflow a limit, so
	// the existing batch is flushed first and the item starts the next
	// batch.
	BeforeAdd Reason = iota
	// AfterAdd fires when the item just added alone fills or exceeds a
	// limit.
	AfterAdd
	// Timer fires when the oldest queued item has exceeded maxAge.
	Timer
	// Stop fires once, from Stop, to flush whatever remains.
	Stop
)

func (r Reason) String() string {
	switch r {
	case BeforeAdd:
		return "BeforeAdd"
	case AfterAdd:
		return "AfterAdd"
	case Timer:
		return "Timer"
	case Stop:
		return "Stop"
	default:
		return "Unknown"
	}
}

// Options configures a Batcher.
type Options struct {
	MaxCount int
	MaxBytes int64
	MaxAge   time.Duration
	// CheckInterval is how often the background timer checks the oldest
	// item's age. Defaults to MaxAge/4, floored at 10ms.
	CheckInterval time.Duration
}

// SizeFunc returns the byte size an item contributes toward MaxBytes.
type SizeFunc[T any] func(T) int64

// FlushFunc is called synchronously, under the Batcher's lock, with the
// items being flushed and why. It must not call back into the Batcher.
type FlushFunc[T any] func(items []T, reason Reason)

// Batcher accumulates items and flushes them as a batch once any of
// MaxCount, MaxBytes, or MaxAge is reached, or on Stop.
type Batcher[T any] struct {
	opts    Options
	sizeFn  SizeFunc[T]
	onFlush FlushFunc[T]
	now     func() time.Time

	mu        sync.Mutex
	items     []T
	bytes     int64
	oldest    time.Time
	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// New constructs a Batcher. The background timer is not started until
// Start is called.
func New[T any](opts Options, sizeFn SizeFunc[T], onFlush FlushFunc[T]) *Batcher[T] {
	if opts.MaxCount <= 0 {
		opts.MaxCount = 1
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = opts.MaxAge / 4
	}
	if opts.CheckInterval < 10*time.Millisecond {
		opts.CheckInterval = 10 * time.Millisecond
	}
	return &Batcher[T]{
		opts:    opts,
		sizeFn:  sizeFn,
		onFlush: onFlush,
		now:     time.Now,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// SetClock overrides the time source, for deterministic tests.
func (b *Batcher[T]) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// Start launches the background age-timer goroutine.
func (b *Batcher[T]) Start() {
	if b.opts.MaxAge <= 0 {
		return
	}
	b.startOnce.Do(func() {
		go b.run()
	})
}

func (b *Batcher[T]) run() {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.opts.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			if len(b.items) > 0 && b.now().Sub(b.oldest) >= b.opts.MaxAge {
				b.flushLocked(Timer)
			}
			b.mu.Unlock()
		case <-b.stopCh:
			return
		}
	}
}

// Add appends item, flushing first (BeforeAdd) if it would overflow a
// limit, and flushing after (AfterAdd) if the item alone fills or
// exceeds a limit. Add and the background timer are mutually exclusive.
func (b *Batcher[T]) Add(item T) {
	size := int64(0)
	if b.sizeFn != nil {
		size = b.sizeFn(item)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	wouldOverflowCount := len(b.items)+1 > b.opts.MaxCount
	wouldOverflowBytes := b.opts.MaxBytes > 0 && b.bytes+size > b.opts.MaxBytes
	if len(b.items) > 0 && (wouldOverflowCount || wouldOverflowBytes) {
		b.flushLocked(BeforeAdd)
	}

	if len(b.items) == 0 {
		b.oldest = b.now()
	}
	b.items = append(b.items, item)
	b.bytes += size

	if len(b.items) >= b.opts.MaxCount || (b.opts.MaxBytes > 0 && b.bytes >= b.opts.MaxBytes) {
		b.flushLocked(AfterAdd)
	}
}

// Flush forces an immediate flush with reason Timer's sibling semantics
// (caller-requested, not count/bytes/age triggered). Exposed for callers
// that want to force a boundary, e.g. on an upstream rotation event.
func (b *Batcher[T]) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked(Timer)
}

// Stop halts the background timer and flushes any remaining items with
// reason Stop.
func (b *Batcher[T]) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	if b.opts.MaxAge > 0 {
		<-b.doneCh
	}
	b.mu.Lock()
	b.flushLocked(Stop)
	b.mu.Unlock()
}

// flushLocked requires b.mu held. It invokes onFlush synchronously so
// callers observe items in the order they were added.
func (b *Batcher[T]) flushLocked(reason Reason) {
	if len(b.items) == 0 {
		return
	}
	items := b.items
	b.items = nil
	b.bytes = 0
	if b.onFlush != nil {
		b.onFlush(items, reason)
	}
}

// Len reports the number of items currently held.
func (b *Batcher[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
