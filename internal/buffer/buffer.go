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

// Package buffer implements the two-tier buffer sitting between a sink's
// batcher and its uploader: a bounded in-memory primary ring backed by an
// overflow queue, with either blocking (HiLow) or non-blocking
// (HighCapacity) producer behavior.
package buffer

import (
	"container/list"
	"context"
	"errors"
	"sync"

	"eventpipe/internal/queue"
)

// ErrClosed is returned by Add once the buffer has been closed.
var ErrClosed = errors.New("buffer: closed")

// Mode selects producer behavior when the primary tier is full.
type Mode int

const (
	// HiLow blocks Add until primary has room; GetNext drains primary
	// before ever touching overflow.
	HiLow Mode = iota
	// HighCapacity never blocks: Add spills straight to overflow once
	// primary is full, dropping and counting if overflow is also full.
	HighCapacity
)

// Overflow is the minimal FIFO surface the buffer's second tier needs.
// queue.Backend satisfies this directly; an in-memory ring can too.
type Overflow interface {
	TryEnqueue(item []byte) (bool, error)
	Dequeue() ([]byte, bool, error)
	Len() int
}

// memOverflow is a bounded in-memory Overflow, used when the caller does
// not want a persistent overflow tier.
type memOverflow struct {
	mu       sync.Mutex
	items    *list.List
	maxItems int
}

// NewMemOverflow returns an Overflow backed by an in-process list.
func NewMemOverflow(maxItems int) Overflow {
	return &memOverflow{items: list.New(), maxItems: maxItems}
}

func (m *memOverflow) TryEnqueue(item []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items.Len() >= m.maxItems {
		return false, nil
	}
	m.items.PushBack(item)
	return true, nil
}

func (m *memOverflow) Dequeue() ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.items.Front()
	if e == nil {
		return nil, false, nil
	}
	m.items.Remove(e)
	return e.Value.([]byte), true, nil
}

func (m *memOverflow) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items.Len()
}

// Codec marshals/unmarshals items for the overflow tier. The primary tier
// keeps items as Go values; only the overflow tier forces a byte form,
// since it may be a persistent queue.Backend.
type Codec[T any] interface {
	Marshal(T) ([]byte, error)
	Unmarshal([]byte) (T, error)
}

// Buffer is the two-tier buffer described by C4: a bounded primary ring
// of items preferred by GetNext, with overflow used per Mode.
//
// Waiters block on a channel that is closed and replaced on every state
// change (notFullCh/notEmptyCh), rather than on sync.Cond, so that
// GetNext and Add can select on ctx.Done() instead of leaving a canceled
// caller stuck until an unrelated wakeup.
type Buffer[T any] struct {
	mode     Mode
	codec    Codec[T]
	overflow Overflow

	mu         sync.Mutex
	primary    *list.List
	primaryCap int
	closed     bool

	notFullCh  chan struct{}
	notEmptyCh chan struct{}

	droppedOverflowFull int64
}

// New constructs a Buffer. primaryCap is the bounded ring size (1..100 per
// spec); overflow backs the second tier — pass a queue.Backend for a
// durable overflow, or NewMemOverflow for an in-memory one.
func New[T any](mode Mode, primaryCap int, overflow Overflow, codec Codec[T]) *Buffer[T] {
	return &Buffer[T]{
		mode:       mode,
		codec:      codec,
		overflow:   overflow,
		primary:    list.New(),
		primaryCap: primaryCap,
		notFullCh:  make(chan struct{}),
		notEmptyCh: make(chan struct{}),
	}
}

// callers must hold b.mu.
func (b *Buffer[T]) wakeFullLocked()  { close(b.notFullCh); b.notFullCh = make(chan struct{}) }
func (b *Buffer[T]) wakeEmptyLocked() { close(b.notEmptyCh); b.notEmptyCh = make(chan struct{}) }

// Add places item into the buffer per the configured Mode. ctx governs
// the HiLow blocking wait; HighCapacity never blocks and ignores ctx.
func (b *Buffer[T]) Add(ctx context.Context, item T) error {
	if b.mode == HighCapacity {
		return b.addHighCapacity(item)
	}
	return b.addHiLow(ctx, item)
}

func (b *Buffer[T]) addHiLow(ctx context.Context, item T) error {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return ErrClosed
		}
		if b.primary.Len() < b.primaryCap {
			b.primary.PushBack(item)
			b.wakeEmptyLocked()
			b.mu.Unlock()
			return nil
		}
		wait := b.notFullCh
		b.mu.Unlock()

		select {
		case <-wait:
		case <-ctxDone(ctx):
			return ctx.Err()
		}
	}
}

func ctxDone(ctx context.Context) <-chan struct{} {
	if ctx == nil {
		return nil
	}
	return ctx.Done()
}

func (b *Buffer[T]) addHighCapacity(item T) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.primary.Len() < b.primaryCap {
		b.primary.PushBack(item)
		b.wakeEmptyLocked()
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	raw, err := b.codec.Marshal(item)
	if err != nil {
		return err
	}
	ok, err := b.overflow.TryEnqueue(raw)
	if err != nil {
		return err
	}
	if !ok {
		b.mu.Lock()
		b.droppedOverflowFull++
		b.mu.Unlock()
		return queue.ErrFull
	}
	b.mu.Lock()
	b.wakeEmptyLocked()
	b.mu.Unlock()
	return nil
}

// GetNext blocks until an item is available, returning the primary head
// if present, else the overflow head. Cross-tier ordering is not
// preserved once overflow has been used.
func (b *Buffer[T]) GetNext(ctx context.Context) (T, error) {
	var zero T
	for {
		if item, ok, err := b.TryGetNext(); err != nil {
			return zero, err
		} else if ok {
			return item, nil
		}

		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return zero, ErrClosed
		}
		wait := b.notEmptyCh
		b.mu.Unlock()

		select {
		case <-wait:
		case <-ctxDone(ctx):
			return zero, ctx.Err()
		}
	}
}

// TryGetNext is the non-blocking form of GetNext: ok is false when both
// tiers are empty.
func (b *Buffer[T]) TryGetNext() (item T, ok bool, err error) {
	b.mu.Lock()
	if e := b.primary.Front(); e != nil {
		b.primary.Remove(e)
		b.wakeFullLocked()
		b.mu.Unlock()
		return e.Value.(T), true, nil
	}
	b.mu.Unlock()

	raw, ok, err := b.overflow.Dequeue()
	if err != nil || !ok {
		return item, false, err
	}
	item, err = b.codec.Unmarshal(raw)
	if err != nil {
		return item, false, err
	}
	b.mu.Lock()
	b.wakeFullLocked()
	b.mu.Unlock()
	return item, true, nil
}

// EnqueueLowPriority pushes item directly to overflow, bypassing
// primary. Used by sinks that want to re-queue a failed batch without
// disturbing primary's ordering for new arrivals.
func (b *Buffer[T]) EnqueueLowPriority(item T) (bool, error) {
	raw, err := b.codec.Marshal(item)
	if err != nil {
		return false, err
	}
	ok, err := b.overflow.TryEnqueue(raw)
	if err != nil {
		return false, err
	}
	if ok {
		b.mu.Lock()
		b.wakeEmptyLocked()
		b.mu.Unlock()
	}
	return ok, nil
}

// Len reports the combined item count across both tiers.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	n := b.primary.Len()
	b.mu.Unlock()
	return n + b.overflow.Len()
}

// DroppedOverflowFull reports how many HighCapacity adds were dropped
// because overflow itself was full.
func (b *Buffer[T]) DroppedOverflowFull() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.droppedOverflowFull
}

// Close unblocks any waiters. Further Add calls return ErrClosed;
// GetNext keeps returning queued items and returns ErrClosed once both
// tiers are empty.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	b.closed = true
	b.wakeFullLocked()
	b.wakeEmptyLocked()
	b.mu.Unlock()
}
