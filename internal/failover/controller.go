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
	"fmt"
	"hash/fnv"
	"math/rand"
	"os"
	"sync"
	"time"

	"eventpipe/internal/obs"
)

// Client is the opaque remote handle a sink uses to send batches and
// probe latency. Construction and wire semantics are up to the sink;
// the controller only decides which region's client is current.
type Client interface {
	HealthProbe() (reachable bool, rtt time.Duration, err error)
}

// ClientFactory builds a Client for a region, e.g. refetching a session
// token against the new endpoint.
type ClientFactory func(r *Region) (Client, error)

// Options configures a Controller.
type Options struct {
	Regions                  []*Region
	PrimaryIndex             int
	Cooldown                 time.Duration
	Policy                   Policy
	NewClient                ClientFactory
	MaxFailbackRetryInterval time.Duration
	// Seed overrides the host-identity-derived seed used by
	// LoadBalancePolicy/WeightedLoadBalancePolicy, for deterministic tests.
	Seed *int64
}

// Controller selects among Options.Regions by Options.Policy, and
// manages failover/failback.
type Controller struct {
	regions       []*Region
	primaryIndex  int
	cooldown      time.Duration
	policy        Policy
	newClient     ClientFactory
	failbackEvery time.Duration
	seed          int64
	now           func() time.Time
	rng           *rand.Rand

	mu            sync.Mutex
	currentIndex  int
	currentClient Client

	failbackStop chan struct{}
	failbackDone chan struct{}
}

// New constructs a Controller whose current region starts at
// PrimaryIndex.
func New(opts Options) (*Controller, error) {
	if len(opts.Regions) == 0 {
		return nil, fmt.Errorf("failover: at least one region is required")
	}
	if opts.PrimaryIndex < 0 || opts.PrimaryIndex >= len(opts.Regions) {
		return nil, fmt.Errorf("failover: primary index %d out of range", opts.PrimaryIndex)
	}
	seed := hostSeed()
	if opts.Seed != nil {
		seed = *opts.Seed
	}
	c := &Controller{
		regions:       opts.Regions,
		primaryIndex:  opts.PrimaryIndex,
		cooldown:      opts.Cooldown,
		policy:        opts.Policy,
		newClient:     opts.NewClient,
		failbackEvery: opts.MaxFailbackRetryInterval,
		seed:          seed,
		now:           time.Now,
		rng:           rand.New(rand.NewSource(seed)),
		currentIndex:  opts.PrimaryIndex,
	}
	c.regions[opts.PrimaryIndex].Reset()
	return c, nil
}

func hostSeed() int64 {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(host))
	return int64(h.Sum64())
}

// SetClock overrides the time source, for deterministic tests.
func (c *Controller) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Current returns the currently selected region's client, building it
// lazily on first use.
func (c *Controller) Current() (Client, *Region, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked()
}

func (c *Controller) currentLocked() (Client, *Region, error) {
	region := c.regions[c.currentIndex]
	if c.currentClient != nil {
		return c.currentClient, region, nil
	}
	client, err := c.newClient(region)
	if err != nil {
		return nil, region, err
	}
	c.currentClient = client
	region.mu.Lock()
	region.available = true
	region.mu.Unlock()
	return client, region, nil
}

// FailOverToSecondary marks the current region down and selects another
// per the configured policy. changed reports whether the selection
// actually moved to a different region (false if no other region is
// currently available, in which case the prior region remains current).
func (c *Controller) FailOverToSecondary() (client Client, region *Region, changed bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	down := c.regions[c.currentIndex]
	down.MarkDown(c.now())
	obs.Warn("failover", "region %s marked down", down.Name)

	order := c.policy.Order(c.regions, c.seed, c.probe)
	for _, idx := range order {
		if idx == c.currentIndex {
			continue
		}
		if c.regions[idx].Available(c.now(), c.cooldown) {
			c.currentIndex = idx
			c.currentClient = nil
			client, region, err = c.currentLocked()
			return client, region, true, err
		}
	}
	// No other region available: stay put, client stays nil if the
	// current one was just marked down; caller must retry later.
	c.currentClient = nil
	return nil, down, false, fmt.Errorf("failover: no available region")
}

func (c *Controller) probe(r *Region) (time.Duration, error) {
	client, err := c.newClient(r)
	if err != nil {
		return 0, err
	}
	reachable, rtt, err := client.HealthProbe()
	if err != nil {
		return 0, err
	}
	if !reachable {
		return 0, fmt.Errorf("failover: region %s unreachable", r.Name)
	}
	return rtt, nil
}

// StartFailback launches a background timer that periodically attempts
// to rebuild a client for the primary region. On success it switches
// back to primary after a jittered delay, to avoid a stampede if many
// agents fail back simultaneously.
func (c *Controller) StartFailback() {
	if c.failbackEvery <= 0 {
		return
	}
	c.mu.Lock()
	if c.failbackStop != nil {
		c.mu.Unlock()
		return
	}
	c.failbackStop = make(chan struct{})
	c.failbackDone = make(chan struct{})
	c.mu.Unlock()

	go c.runFailback()
}

func (c *Controller) runFailback() {
	defer close(c.failbackDone)
	ticker := time.NewTicker(c.failbackEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.attemptFailback()
		case <-c.failbackStop:
			return
		}
	}
}

func (c *Controller) attemptFailback() {
	c.mu.Lock()
	if c.currentIndex == c.primaryIndex {
		c.mu.Unlock()
		return
	}
	primary := c.regions[c.primaryIndex]
	c.mu.Unlock()

	client, err := c.newClient(primary)
	if err != nil {
		return
	}

	jitter := time.Duration(c.rng.Int63n(int64(c.failbackEvery) / 4 + 1))
	time.Sleep(jitter)

	c.mu.Lock()
	defer c.mu.Unlock()
	primary.Reset()
	c.currentIndex = c.primaryIndex
	c.currentClient = client
	obs.Info("failover", "switched back to primary %s after %s jitter", primary.Name, jitter)
}

// StopFailback halts the background failback timer, if running.
func (c *Controller) StopFailback() {
	c.mu.Lock()
	stop := c.failbackStop
	done := c.failbackDone
	c.failbackStop = nil
	c.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}
