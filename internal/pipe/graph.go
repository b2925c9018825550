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

package pipe

import (
	"fmt"

	"eventpipe/internal/envelope"
)

// Accept delivers an Envelope to a sink.
type Accept func(envelope.Envelope)

// Wire connects one source to one sink through an ordered chain of
// pipes. PipeRefs may be empty (direct passthrough).
type Wire struct {
	SourceRef string
	SinkRef   string
	PipeRefs  []string
}

// Graph resolves names to sources, sinks, and pipes, and builds the
// runtime callback chain for each configured Wire.
type Graph struct {
	sources map[string]bool
	sinks   map[string]Accept
	pipes   map[string]Pipe
}

// NewGraph returns an empty Graph. Register sources, sinks, and pipes
// before calling Wire.
func NewGraph() *Graph {
	return &Graph{
		sources: make(map[string]bool),
		sinks:   make(map[string]Accept),
		pipes:   make(map[string]Pipe),
	}
}

// RegisterSource marks a source name as resolvable by Wire. The graph
// does not hold a reference to the source itself — Wire instead returns
// the Accept callback the caller wires into the source's emit hook.
func (g *Graph) RegisterSource(name string) { g.sources[name] = true }

// RegisterSink makes a named sink resolvable by Wire.
func (g *Graph) RegisterSink(name string, accept Accept) { g.sinks[name] = accept }

// RegisterPipe makes a named pipe resolvable by Wire's PipeRefs.
func (g *Graph) RegisterPipe(name string, p Pipe) { g.pipes[name] = p }

// Wire validates w against the registry and returns an Accept callback:
// handing this to the named source's emit hook connects it through the
// named pipe chain to the named sink.
func (g *Graph) Wire(w Wire) (Accept, error) {
	if !g.sources[w.SourceRef] {
		return nil, fmt.Errorf("pipe: unresolved source ref %q", w.SourceRef)
	}
	sinkFn, ok := g.sinks[w.SinkRef]
	if !ok {
		return nil, fmt.Errorf("pipe: unresolved sink ref %q", w.SinkRef)
	}
	chain := make([]Pipe, 0, len(w.PipeRefs))
	for _, ref := range w.PipeRefs {
		p, ok := g.pipes[ref]
		if !ok {
			return nil, fmt.Errorf("pipe: unresolved pipe ref %q", ref)
		}
		chain = append(chain, p)
	}

	return func(env envelope.Envelope) {
		cur := env
		for _, p := range chain {
			out, forward := p.Handle(cur)
			if !forward {
				return
			}
			cur = out
		}
		sinkFn(cur)
	}, nil
}
