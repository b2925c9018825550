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

package session

import (
	"encoding/json"
	"fmt"
	"time"

	"eventpipe/internal/batcher"
	"eventpipe/internal/bookmark"
	"eventpipe/internal/buffer"
	"eventpipe/internal/config"
	"eventpipe/internal/envelope"
	"eventpipe/internal/failover"
	"eventpipe/internal/metrics"
	"eventpipe/internal/sink"
	"eventpipe/internal/throttle"
	"eventpipe/pkg/ratelimit"
)

// sinkAdapter gives a generic sink.Runtime[T] the non-generic Sink
// shape the session layer works in, renaming HandleEnvelope to Accept
// at the single call site where the generic/non-generic boundary sits.
type sinkAdapter[T any] struct {
	rt *sink.Runtime[T]
}

func (a *sinkAdapter[T]) Start()                      { a.rt.Start() }
func (a *sinkAdapter[T]) Stop()                        { a.rt.Stop() }
func (a *sinkAdapter[T]) Accept(env envelope.Envelope) { a.rt.HandleEnvelope(env) }

// CurrentRegion reports the underlying Runtime's currently selected
// failover region, if its Driver tracks one. Implements RegionReporter
// so Session.SinkRegions can surface it without knowing about
// CloudLogsSink specifically.
func (a *sinkAdapter[T]) CurrentRegion() (string, bool) { return a.rt.CurrentRegion() }

// RegionReporter is implemented by sinks that track a failover
// controller's currently selected region, backing the "agent status"
// surface's per-sink region field.
type RegionReporter interface {
	CurrentRegion() (string, bool)
}

// sinkWithCloser wraps a Sink with extra teardown actions to run after
// the wrapped Sink's own Stop, e.g. halting a failover.Controller's
// background failback timer.
type sinkWithCloser struct {
	Sink
	closers []func()
}

func (s *sinkWithCloser) Stop() {
	s.Sink.Stop()
	for _, c := range s.closers {
		c()
	}
}

// CurrentRegion forwards to the wrapped Sink when it implements
// RegionReporter, so wrapping a sinkAdapter in a sinkWithCloser doesn't
// hide its region-reporting capability from Session.SinkRegions.
func (s *sinkWithCloser) CurrentRegion() (string, bool) {
	if rr, ok := s.Sink.(RegionReporter); ok {
		return rr.CurrentRegion()
	}
	return "", false
}

type cloudLogsRegionParams struct {
	Name     string  `json:"Name"`
	Endpoint string  `json:"Endpoint"`
	Weight   float64 `json:"Weight"`
}

type cloudLogsSinkParams struct {
	GroupName           string  `json:"GroupName"`
	StreamName          string  `json:"StreamName"`
	MaxPayloadBytes     int64   `json:"MaxPayloadBytes"`
	MaxRecordBytes      int64   `json:"MaxRecordBytes"`
	RateTokensPerSecond float64 `json:"RateTokensPerSecond"`
	BurstCapacity       float64 `json:"BurstCapacity"`
	MaxBatchCount       int     `json:"MaxBatchCount"`
	MaxBatchBytes       int64   `json:"MaxBatchBytes"`
	MaxBatchAgeMs       int     `json:"MaxBatchAgeMs"`
	OverflowCap         int     `json:"OverflowCap"`
	MaxAttempts         int     `json:"MaxAttempts"`

	// Regions, when non-empty, configures the failover controller (C9):
	// PutLogEvents/DescribeSequenceToken calls go through whichever
	// region the controller currently selects instead of a single fixed
	// Transport.
	Regions                    []cloudLogsRegionParams `json:"Regions"`
	PrimaryRegion              string                  `json:"PrimaryRegion"`
	FailoverPolicy             string                  `json:"FailoverPolicy"`
	CooldownMs                 int                     `json:"CooldownMs"`
	MaxFailbackRetryIntervalMs int                     `json:"MaxFailbackRetryIntervalMs"`
}

// regionPolicy maps a configuration document's FailoverPolicy string to
// the §4.9 selection policy it names; an unrecognized or empty value
// falls back to priority order, the safest default.
func regionPolicy(name string) failover.Policy {
	switch name {
	case "LoadBalance":
		return failover.LoadBalancePolicy{}
	case "WeightedLoadBalance":
		return failover.WeightedLoadBalancePolicy{}
	case "RoundTripTime":
		return failover.RTTPolicy{}
	default:
		return failover.PriorityPolicy{}
	}
}

// CloudLogsTransports maps a CloudLogsSink configuration entry's Id to
// the transport it delivers batches through, for sinks whose
// configuration declares no Regions. Building a real network transport
// needs live credentials and an HTTP client, neither of which
// configuration alone can express, so the caller assembling a Session
// (cmd/agent, after resolving the document's Credentials entries)
// supplies this map rather than a JSON-derived Type dispatch.
type CloudLogsTransports map[string]sink.CloudLogsTransport

// CloudLogsRegionClientFactory builds the client for one of a
// CloudLogsSink's configured failover regions. Like CloudLogsTransports,
// building a real per-region client needs live credentials configuration
// alone cannot express, so the caller assembling a Session supplies this
// for every sink whose configuration declares a Regions array.
type CloudLogsRegionClientFactory func(sinkID string, region *failover.Region) (sink.CloudLogsClient, error)

// CloudLogsRegionClientFactories maps a CloudLogsSink configuration
// entry's Id to the factory building its per-region clients.
type CloudLogsRegionClientFactories map[string]CloudLogsRegionClientFactory

// NewCloudLogsSinkFactory returns a SinkFactory for the "CloudLogsSink"
// type. A sink whose configuration declares a non-empty Regions array
// is driven through a failover.Controller (C9) built from
// regionFactories[cfg.Id]; otherwise it delivers through the fixed
// transport registered under the sink's own Id in transports.
func NewCloudLogsSinkFactory(transports CloudLogsTransports, regionFactories CloudLogsRegionClientFactories) SinkFactory {
	return func(cfg config.ComponentConfig, hub *metrics.Hub, store *bookmark.Store) (Sink, error) {
		var params cloudLogsSinkParams
		if err := json.Unmarshal(cfg.Raw, &params); err != nil {
			return nil, fmt.Errorf("session: decode CloudLogsSink %q: %w", cfg.Id, err)
		}
		if params.RateTokensPerSecond <= 0 {
			params.RateTokensPerSecond = 1000
		}
		if params.BurstCapacity <= 0 {
			params.BurstCapacity = params.RateTokensPerSecond
		}
		if params.MaxPayloadBytes <= 0 {
			params.MaxPayloadBytes = 1 << 20
		}
		if params.MaxRecordBytes <= 0 {
			params.MaxRecordBytes = 256 * 1024
		}
		if params.MaxBatchCount <= 0 {
			params.MaxBatchCount = 500
		}
		if params.MaxBatchBytes <= 0 {
			params.MaxBatchBytes = params.MaxPayloadBytes
		}
		maxAge := time.Duration(params.MaxBatchAgeMs) * time.Millisecond
		if maxAge <= 0 {
			maxAge = 5 * time.Second
		}

		driver := &sink.CloudLogsSink{
			GroupName:       params.GroupName,
			StreamName:      params.StreamName,
			MaxPayloadBytes: params.MaxPayloadBytes,
		}

		var closers []func()
		if len(params.Regions) > 0 {
			rf, ok := regionFactories[cfg.Id]
			if !ok {
				return nil, fmt.Errorf("session: CloudLogsSink %q: no region client factory registered", cfg.Id)
			}
			regions := make([]*failover.Region, len(params.Regions))
			primaryIdx := 0
			for i, rp := range params.Regions {
				regions[i] = failover.NewRegion(rp.Name, rp.Endpoint, rp.Weight)
				if rp.Name == params.PrimaryRegion {
					primaryIdx = i
				}
			}
			cooldown := time.Duration(params.CooldownMs) * time.Millisecond
			if cooldown <= 0 {
				cooldown = time.Minute
			}
			ctrl, err := failover.New(failover.Options{
				Regions:      regions,
				PrimaryIndex: primaryIdx,
				Cooldown:     cooldown,
				Policy:       regionPolicy(params.FailoverPolicy),
				NewClient: func(r *failover.Region) (failover.Client, error) {
					client, err := rf(cfg.Id, r)
					if err != nil {
						return nil, err
					}
					return client, nil
				},
				MaxFailbackRetryInterval: time.Duration(params.MaxFailbackRetryIntervalMs) * time.Millisecond,
			})
			if err != nil {
				return nil, fmt.Errorf("session: CloudLogsSink %q: build failover controller: %w", cfg.Id, err)
			}
			ctrl.StartFailback()
			driver.Controller = ctrl
			closers = append(closers, ctrl.StopFailback)
		} else {
			transport, ok := transports[cfg.Id]
			if !ok {
				return nil, fmt.Errorf("session: CloudLogsSink %q: no transport registered", cfg.Id)
			}
			driver.Transport = transport
		}

		bucket := ratelimit.New(params.BurstCapacity, params.RateTokensPerSecond)
		th := throttle.New([]*ratelimit.Bucket{bucket}, throttle.DefaultOptions())

		opts := sink.Options{
			Batcher: batcher.Options{
				MaxCount: params.MaxBatchCount,
				MaxBytes: params.MaxBatchBytes,
				MaxAge:   maxAge,
			},
			BufferMode:     buffer.HiLow,
			OverflowCap:    params.OverflowCap,
			MaxRecordBytes: params.MaxRecordBytes,
			MaxAttempts:    params.MaxAttempts,
			SinkID:         cfg.Id,
		}
		rt := sink.New[sink.CloudLogRecord](driver, th, hub, store, opts)
		adapter := &sinkAdapter[sink.CloudLogRecord]{rt: rt}
		if len(closers) == 0 {
			return adapter, nil
		}
		return &sinkWithCloser{Sink: adapter, closers: closers}, nil
	}
}
