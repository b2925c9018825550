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

package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromExporter mirrors a Hub into a dedicated Prometheus registry, one
// GaugeVec per distinct counter name, labeled by category and id. It is
// the aggregating metrics sink the hub's package doc describes: it
// subscribes once and keeps every gauge current as the hub changes.
type PromExporter struct {
	hub      *Hub
	registry *prometheus.Registry

	mu     sync.Mutex
	gauges map[string]*prometheus.GaugeVec

	unsubscribe func()
	server      *http.Server
}

// NewPromExporter creates an exporter and immediately subscribes to hub,
// so every prior and future value is mirrored.
func NewPromExporter(hub *Hub) *PromExporter {
	e := &PromExporter{
		hub:      hub,
		registry: prometheus.NewRegistry(),
		gauges:   make(map[string]*prometheus.GaugeVec),
	}
	e.unsubscribe = hub.Subscribe(e.onUpdate)
	return e
}

func (e *PromExporter) onUpdate(k Key, v float64) {
	e.mu.Lock()
	gv, ok := e.gauges[k.Counter]
	if !ok {
		gv = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eventpipe_" + sanitize(k.Counter),
			Help: "eventpipe hub counter " + k.Counter,
		}, []string{"category", "id"})
		e.registry.MustRegister(gv)
		e.gauges[k.Counter] = gv
	}
	e.mu.Unlock()
	gv.WithLabelValues(k.Category, k.ID).Set(v)
}

// Handler returns the promhttp handler for this exporter's registry,
// for mounting into an existing mux.
func (e *PromExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Serve starts a standalone HTTP server exposing /metrics on addr, in
// the style of the teacher's own minimal churn metrics endpoint.
func (e *PromExporter) Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	e.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = e.server.ListenAndServe()
	}()
}

// Close stops the standalone server, if started, and unsubscribes from
// the hub.
func (e *PromExporter) Close() error {
	e.unsubscribe()
	if e.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.server.Shutdown(ctx)
}

func sanitize(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
