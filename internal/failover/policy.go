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

package failover

import (
	"math/rand"
	"sort"
	"time"
)

// ProbeFunc issues a small probe request against a region and returns
// the measured round-trip time.
type ProbeFunc func(*Region) (time.Duration, error)

// Policy orders regions into a scan order; the controller returns the
// first available region in that order.
type Policy interface {
	Order(regions []*Region, seed int64, probe ProbeFunc) []int
}

// PriorityPolicy scans regions in configured order.
type PriorityPolicy struct{}

func (PriorityPolicy) Order(regions []*Region, _ int64, _ ProbeFunc) []int {
	order := make([]int, len(regions))
	for i := range order {
		order[i] = i
	}
	return order
}

// LoadBalancePolicy deterministically shuffles the region list using a
// seed derived from host identity, then scans in that fixed order.
type LoadBalancePolicy struct{}

func (LoadBalancePolicy) Order(regions []*Region, seed int64, _ ProbeFunc) []int {
	order := make([]int, len(regions))
	for i := range order {
		order[i] = i
	}
	rand.New(rand.NewSource(seed)).Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	return order
}

// WeightedLoadBalancePolicy samples regions without replacement,
// weighted by Region.Weight, using a seed derived from host identity.
type WeightedLoadBalancePolicy struct{}

func (WeightedLoadBalancePolicy) Order(regions []*Region, seed int64, _ ProbeFunc) []int {
	rng := rand.New(rand.NewSource(seed))
	remaining := make([]int, len(regions))
	for i := range remaining {
		remaining[i] = i
	}
	order := make([]int, 0, len(regions))
	for len(remaining) > 0 {
		total := 0.0
		for _, idx := range remaining {
			w := regions[idx].Weight
			if w <= 0 {
				w = 1
			}
			total += w
		}
		r := rng.Float64() * total
		chosen := 0
		acc := 0.0
		for i, idx := range remaining {
			w := regions[idx].Weight
			if w <= 0 {
				w = 1
			}
			acc += w
			if r <= acc {
				chosen = i
				break
			}
		}
		order = append(order, remaining[chosen])
		remaining = append(remaining[:chosen], remaining[chosen+1:]...)
	}
	return order
}

// RTTPolicy probes every region and scans in ascending measured latency.
// Unreachable regions (probe error) sort last.
type RTTPolicy struct{}

func (RTTPolicy) Order(regions []*Region, _ int64, probe ProbeFunc) []int {
	type measured struct {
		idx int
		rtt time.Duration
		err error
	}
	ms := make([]measured, len(regions))
	for i, r := range regions {
		rtt, err := probe(r)
		ms[i] = measured{idx: i, rtt: rtt, err: err}
	}
	sort.SliceStable(ms, func(i, j int) bool {
		if (ms[i].err == nil) != (ms[j].err == nil) {
			return ms[i].err == nil // reachable regions sort before unreachable
		}
		return ms[i].rtt < ms[j].rtt
	})
	order := make([]int, len(ms))
	for i, m := range ms {
		order[i] = m.idx
	}
	return order
}
