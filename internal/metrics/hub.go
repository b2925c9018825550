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

// Package metrics implements the process-wide metrics hub (C10): a
// publish/subscribe map from (category, id, counter) to a value, plus a
// Prometheus exporter that mirrors the hub for scraping.
package metrics

import "sync"

// Key identifies one counter within the hub.
type Key struct {
	Category string
	ID       string
	Counter  string
}

// Hub is a thread-safe multi-writer, multi-reader publish/subscribe
// store. currentValue counters are set via Set (replace); increment
// counters are set via Add (accumulate). Subscribers see a replay of
// every currently known value on attach, then live updates as they
// happen.
type Hub struct {
	mu     sync.RWMutex
	values map[Key]float64
	subs   map[int]func(Key, float64)
	nextID int
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		values: make(map[Key]float64),
		subs:   make(map[int]func(Key, float64)),
	}
}

// Set replaces the current value for k (currentValue semantics).
func (h *Hub) Set(k Key, v float64) {
	h.mu.Lock()
	h.values[k] = v
	subs := h.snapshotSubsLocked()
	h.mu.Unlock()
	notify(subs, k, v)
}

// Add accumulates delta into k's current value (increment semantics)
// and returns the new total.
func (h *Hub) Add(k Key, delta float64) float64 {
	h.mu.Lock()
	v := h.values[k] + delta
	h.values[k] = v
	subs := h.snapshotSubsLocked()
	h.mu.Unlock()
	notify(subs, k, v)
	return v
}

// Value returns k's current value, if it has ever been set.
func (h *Hub) Value(k Key) (float64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.values[k]
	return v, ok
}

// Snapshot returns every known key/value pair.
func (h *Hub) Snapshot() map[Key]float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[Key]float64, len(h.values))
	for k, v := range h.values {
		out[k] = v
	}
	return out
}

// Subscribe registers fn to receive every future Set/Add event, after
// first replaying every value currently known to the hub. The returned
// func removes the subscription.
func (h *Hub) Subscribe(fn func(Key, float64)) (unsubscribe func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	replay := make(map[Key]float64, len(h.values))
	for k, v := range h.values {
		replay[k] = v
	}
	h.mu.Unlock()

	for k, v := range replay {
		fn(k, v)
	}

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

func (h *Hub) snapshotSubsLocked() []func(Key, float64) {
	out := make([]func(Key, float64), 0, len(h.subs))
	for _, fn := range h.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(Key, float64), k Key, v float64) {
	for _, fn := range subs {
		fn(k, v)
	}
}
