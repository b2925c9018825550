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

// Package failover implements the regional failover controller (C9):
// region bookkeeping, pluggable selection policies, and failover/failback.
package failover

import (
	"sync"
	"time"
)

// Region is one candidate endpoint.
type Region struct {
	Name     string
	Endpoint string
	Weight   float64

	mu        sync.Mutex
	available bool
	lastDown  time.Time
}

// NewRegion returns a Region that starts available.
func NewRegion(name, endpoint string, weight float64) *Region {
	return &Region{Name: name, Endpoint: endpoint, Weight: weight, available: true}
}

// Available reports whether the region may currently be selected. A
// region marked down becomes available again once cooldown has elapsed
// since its last down mark — there is no background timer; this is
// checked lazily on every selection.
func (r *Region) Available(now time.Time, cooldown time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.available {
		return true
	}
	if now.Sub(r.lastDown) >= cooldown {
		r.available = true
		return true
	}
	return false
}

// MarkDown marks the region unavailable as of now.
func (r *Region) MarkDown(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.available = false
	r.lastDown = now
}

// Reset marks the region available and idle, discarding any down mark.
func (r *Region) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.available = true
	r.lastDown = time.Time{}
}
