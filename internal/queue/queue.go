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

// Package queue implements the bounded, durable FIFO used as the two-tier
// buffer's overflow tier (spec §4.3). The default Backend is file-per-item
// on disk; Backend is also implemented over Redis for deployments that
// want a shared, cross-instance overflow rather than a local directory.
package queue

import "errors"

// ErrFull is returned by Enqueue (and the boolean from TryEnqueue) when
// the queue already holds maxItems entries.
var ErrFull = errors.New("queue: full")

// ErrEmpty names an empty queue. Dequeue does not return it: an empty
// queue is reported as ok == false with a nil error.
var ErrEmpty = errors.New("queue: empty")

// Backend is the minimal byte-oriented FIFO a Queue is built on.
type Backend interface {
	// Enqueue appends an item, returning ErrFull if the backend is at
	// its configured bound.
	Enqueue(item []byte) error
	// TryEnqueue is Enqueue without an error allocation on the full
	// path; ok is false when the backend is full.
	TryEnqueue(item []byte) (ok bool, err error)
	// Dequeue removes and returns the oldest item. ok is false when
	// the backend is empty.
	Dequeue() (item []byte, ok bool, err error)
	// Len reports the current item count.
	Len() int
	// Close releases any held resources (file handles, locks).
	Close() error
}

// Serializer converts between an application item type and bytes. Kept
// as a plug-in per item type, per spec §4.3.
type Serializer[T any] interface {
	Marshal(T) ([]byte, error)
	Unmarshal([]byte) (T, error)
}

// Queue is a generic, serialized view over a Backend.
type Queue[T any] struct {
	backend Backend
	codec   Serializer[T]
}

// New wraps a Backend with a Serializer to produce a typed Queue.
func New[T any](backend Backend, codec Serializer[T]) *Queue[T] {
	return &Queue[T]{backend: backend, codec: codec}
}

// Enqueue serializes and appends item.
func (q *Queue[T]) Enqueue(item T) error {
	b, err := q.codec.Marshal(item)
	if err != nil {
		return err
	}
	return q.backend.Enqueue(b)
}

// TryEnqueue is the non-blocking form of Enqueue.
func (q *Queue[T]) TryEnqueue(item T) (bool, error) {
	b, err := q.codec.Marshal(item)
	if err != nil {
		return false, err
	}
	return q.backend.TryEnqueue(b)
}

// Dequeue removes and deserializes the oldest item.
func (q *Queue[T]) Dequeue() (item T, ok bool, err error) {
	raw, ok, err := q.backend.Dequeue()
	if err != nil || !ok {
		return item, ok, err
	}
	item, err = q.codec.Unmarshal(raw)
	return item, true, err
}

// Len reports the current item count.
func (q *Queue[T]) Len() int { return q.backend.Len() }

// Close releases the underlying backend.
func (q *Queue[T]) Close() error { return q.backend.Close() }
