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

// Package session implements the per-configuration-file session (C11):
// Load resolves named factories and constructs instances, Wire builds
// the pipe graph connecting them, Start brings sinks up before sources,
// and Stop tears sources down before sinks.
package session

import (
	"fmt"

	"eventpipe/internal/bookmark"
	"eventpipe/internal/config"
	"eventpipe/internal/envelope"
	"eventpipe/internal/metrics"
	"eventpipe/internal/pipe"
)

// Lifecycle is satisfied by anything a session starts and stops, with
// no further assumptions about its shape. tailer.DirectoryTailer and
// the sinkAdapter wrapping sink.Runtime[T] both already satisfy it.
type Lifecycle interface {
	Start()
	Stop()
}

// Sink is a Lifecycle that also accepts delivered Envelopes. A
// sink.Runtime[T], wrapped by sinkAdapter, is the only implementation
// today, but the interface carries no trace of T so the session layer
// never needs generics of its own, matching the dynamic-dispatch
// SinkDriver shape spec.md's design notes call for.
type Sink interface {
	Lifecycle
	Accept(env envelope.Envelope)
}

// SourceFactory constructs a source's Lifecycle given its configuration
// and the Accept callback Wire produced for it. The factory is
// responsible for calling emit itself (directly, or via whatever
// internal hook its concrete type exposes).
type SourceFactory func(cfg config.ComponentConfig, store *bookmark.Store, emit pipe.Accept) (Lifecycle, error)

// SinkFactory constructs a Sink from its configuration.
type SinkFactory func(cfg config.ComponentConfig, hub *metrics.Hub, store *bookmark.Store) (Sink, error)

// PipeFactory constructs a pipe.Pipe node from a Pipes-array entry that
// names a known transform Type.
type PipeFactory func(cfg config.PipeConfig) (pipe.Pipe, error)

// Registry holds the named factories a Document's Type strings dispatch
// to. NewRegistry seeds it with the one pipe kind buildable straight
// from JSON (RegexFilterPipe); FilterPipe and ProjectionPipe take Go
// predicates/projections that configuration cannot express, so callers
// register those themselves when wiring a plugin.
type Registry struct {
	Sources map[string]SourceFactory
	Sinks   map[string]SinkFactory
	Pipes   map[string]PipeFactory
}

// NewRegistry returns a Registry with the built-in kinds buildable
// straight from JSON registered: the DirectorySource source and the
// RegexFilterPipe pipe. Sink kinds (CloudLogsSink among them) need a
// live transport a config document cannot supply on its own, so
// callers register those explicitly — see NewCloudLogsSinkFactory.
func NewRegistry() *Registry {
	return &Registry{
		Sources: map[string]SourceFactory{
			"DirectorySource": DirectorySourceFactory,
		},
		Sinks: make(map[string]SinkFactory),
		Pipes: map[string]PipeFactory{
			"RegexFilterPipe": regexFilterPipeFactory,
		},
	}
}

// Session is one loaded, wired configuration document. A Session whose
// construction hit any factory or wiring error is not Validated, but
// still runs whatever components did construct successfully, per
// spec.md's "invalid sessions may still run to preserve partial
// function" design note.
type Session struct {
	Name string

	validated bool
	errors    []error

	sources   map[string]Lifecycle
	sinks     map[string]Sink
	pipeCount int
}

// Validated reports whether every component and wire in the document
// passed construction without error.
func (s *Session) Validated() bool { return s.validated }

// Errors returns the construction/wiring errors collected while
// building the session, if any.
func (s *Session) Errors() []error { return s.errors }

// SourceCount, PipeCount, and SinkCount back the "agent status"
// surface (SPEC_FULL.md supplemented feature): a snapshot of how much
// of a session actually came up.
func (s *Session) SourceCount() int { return len(s.sources) }
func (s *Session) SinkCount() int   { return len(s.sinks) }
func (s *Session) PipeCount() int   { return s.pipeCount }

// SinkRegions returns the failover controller's currently selected
// region, keyed by sink Id, for every sink that tracks one (a
// CloudLogsSink configured with a Regions array). Sinks with no
// failover controller (or an unknown type) are omitted rather than
// reported with an empty region.
func (s *Session) SinkRegions() map[string]string {
	out := make(map[string]string)
	for id, sk := range s.sinks {
		rr, ok := sk.(RegionReporter)
		if !ok {
			continue
		}
		if region, ok := rr.CurrentRegion(); ok {
			out[id] = region
		}
	}
	return out
}

// Load constructs every source, sink, and pipe named in doc using reg,
// wires them per doc's Pipes entries, and returns the resulting
// Session. Load always returns a non-nil Session and a nil error:
// referential structure is checked earlier by config.Load, and
// per-component construction or wiring failures are recorded on the
// Session and leave it unvalidated.
func Load(doc *config.Document, reg *Registry, hub *metrics.Hub, store *bookmark.Store) (*Session, error) {
	s := &Session{
		Name:    doc.Name,
		sources: make(map[string]Lifecycle),
		sinks:   make(map[string]Sink),
	}

	graph := pipe.NewGraph()

	for _, sc := range doc.Sinks {
		f, ok := reg.Sinks[sc.Type]
		if !ok {
			s.fail(fmt.Errorf("sink %q: unknown type %q", sc.Id, sc.Type))
			continue
		}
		impl, err := f(sc, hub, store)
		if err != nil {
			s.fail(fmt.Errorf("sink %q: %w", sc.Id, err))
			continue
		}
		s.sinks[sc.Id] = impl
		graph.RegisterSink(sc.Id, impl.Accept)
	}

	for _, pc := range doc.Pipes {
		if pc.Type == "" {
			continue
		}
		f, ok := reg.Pipes[pc.Type]
		if !ok {
			s.fail(fmt.Errorf("pipe %q: unknown type %q", pc.Id, pc.Type))
			continue
		}
		node, err := f(pc)
		if err != nil {
			s.fail(fmt.Errorf("pipe %q: %w", pc.Id, err))
			continue
		}
		graph.RegisterPipe(pc.Id, node)
		s.pipeCount++
	}

	for _, srcc := range doc.Sources {
		graph.RegisterSource(srcc.Id)
	}

	byID := make(map[string]config.ComponentConfig, len(doc.Sources))
	for _, srcc := range doc.Sources {
		byID[srcc.Id] = srcc
	}

	for _, pc := range doc.Pipes {
		if pc.SourceRef == "" || pc.SinkRef == "" {
			continue
		}
		chain := pc.PipeRefs
		if pc.Type != "" {
			chain = append([]string{pc.Id}, chain...)
		}
		accept, err := graph.Wire(pipe.Wire{SourceRef: pc.SourceRef, SinkRef: pc.SinkRef, PipeRefs: chain})
		if err != nil {
			s.fail(fmt.Errorf("wire %q: %w", pc.Id, err))
			continue
		}
		srcCfg, ok := byID[pc.SourceRef]
		if !ok {
			s.fail(fmt.Errorf("wire %q: source %q has no configuration entry", pc.Id, pc.SourceRef))
			continue
		}
		if _, already := s.sources[srcCfg.Id]; already {
			// A source feeding more than one sink already has its
			// Lifecycle constructed; re-wiring here would silently
			// drop the first connection, so refuse the second.
			s.fail(fmt.Errorf("wire %q: source %q is already wired by another pipe entry", pc.Id, pc.SourceRef))
			continue
		}
		sf, ok := reg.Sources[srcCfg.Type]
		if !ok {
			s.fail(fmt.Errorf("source %q: unknown type %q", srcCfg.Id, srcCfg.Type))
			continue
		}
		impl, err := sf(srcCfg, store, accept)
		if err != nil {
			s.fail(fmt.Errorf("source %q: %w", srcCfg.Id, err))
			continue
		}
		s.sources[srcCfg.Id] = impl
	}

	s.validated = len(s.errors) == 0
	return s, nil
}

func (s *Session) fail(err error) {
	s.errors = append(s.errors, err)
}

// Start brings sinks up first, then sources, matching spec.md §4.11 (no
// separate pipe start: pipes are pure functions with no lifecycle).
func (s *Session) Start() {
	for _, sk := range s.sinks {
		sk.Start()
	}
	for _, src := range s.sources {
		src.Start()
	}
}

// Stop tears sources down first, then sinks, the reverse of Start, so
// no source can emit into an already-stopped sink.
func (s *Session) Stop() {
	for _, src := range s.sources {
		src.Stop()
	}
	for _, sk := range s.sinks {
		sk.Stop()
	}
}
