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
	"strings"
	"testing"

	"eventpipe/internal/envelope"
)

func TestFilterPipeForwardsOnPredicate(t *testing.T) {
	f := FilterPipe{Predicate: func(e envelope.Envelope) bool {
		text, _ := e.Text()
		return strings.Contains(text, "error")
	}}
	_, forward := f.Handle(envelope.Envelope{Payload: "an error occurred"})
	if !forward {
		t.Fatalf("expected forward=true")
	}
	_, forward = f.Handle(envelope.Envelope{Payload: "all good"})
	if forward {
		t.Fatalf("expected forward=false")
	}
}

func TestFilterPipeNegate(t *testing.T) {
	f := FilterPipe{Predicate: func(envelope.Envelope) bool { return true }, Negate: true}
	_, forward := f.Handle(envelope.Envelope{})
	if forward {
		t.Fatalf("expected negated predicate to drop")
	}
}

func TestRegexFilterPipeRejectsEmptyPattern(t *testing.T) {
	if _, err := NewRegexFilterPipe("", false); err == nil {
		t.Fatalf("expected error for empty pattern")
	}
}

func TestRegexFilterPipeMatches(t *testing.T) {
	rp, err := NewRegexFilterPipe(`^ERROR`, false)
	if err != nil {
		t.Fatalf("NewRegexFilterPipe: %v", err)
	}
	_, forward := rp.Handle(envelope.Envelope{Payload: "ERROR: disk full"})
	if !forward {
		t.Fatalf("expected match to forward")
	}
	_, forward = rp.Handle(envelope.Envelope{Payload: "INFO: fine"})
	if forward {
		t.Fatalf("expected non-match to drop")
	}
}

func TestProjectionPipeTransformsPayload(t *testing.T) {
	p := ProjectionPipe{Project: func(e envelope.Envelope) (envelope.Envelope, bool) {
		text, _ := e.Text()
		return e.WithVar("upper", strings.ToUpper(text)), true
	}}
	out, forward := p.Handle(envelope.Envelope{Payload: "hi"})
	if !forward {
		t.Fatalf("expected forward=true")
	}
	if out.Vars["upper"] != "HI" {
		t.Fatalf("expected projection to set upper=HI, got %v", out.Vars)
	}
}

func TestGraphWireRejectsUnresolvedRefs(t *testing.T) {
	g := NewGraph()
	g.RegisterSource("src")
	g.RegisterSink("snk", func(envelope.Envelope) {})

	if _, err := g.Wire(Wire{SourceRef: "missing", SinkRef: "snk"}); err == nil {
		t.Fatalf("expected error for unresolved source")
	}
	if _, err := g.Wire(Wire{SourceRef: "src", SinkRef: "missing"}); err == nil {
		t.Fatalf("expected error for unresolved sink")
	}
	if _, err := g.Wire(Wire{SourceRef: "src", SinkRef: "snk", PipeRefs: []string{"missing"}}); err == nil {
		t.Fatalf("expected error for unresolved pipe ref")
	}
}

func TestGraphWireChainsPipesInOrder(t *testing.T) {
	g := NewGraph()
	g.RegisterSource("src")

	var received []string
	g.RegisterSink("snk", func(e envelope.Envelope) {
		text, _ := e.Text()
		received = append(received, text)
	})
	g.RegisterPipe("only-errors", FilterPipe{Predicate: func(e envelope.Envelope) bool {
		text, _ := e.Text()
		return strings.HasPrefix(text, "ERROR")
	}})
	g.RegisterPipe("shout", ProjectionPipe{Project: func(e envelope.Envelope) (envelope.Envelope, bool) {
		text, _ := e.Text()
		out := e
		out.Payload = strings.ToUpper(text)
		return out, true
	}})

	accept, err := g.Wire(Wire{SourceRef: "src", SinkRef: "snk", PipeRefs: []string{"only-errors", "shout"}})
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}

	accept(envelope.Envelope{Payload: "ERROR: boom"})
	accept(envelope.Envelope{Payload: "INFO: fine"})

	if len(received) != 1 || received[0] != "ERROR: BOOM" {
		t.Fatalf("expected one filtered+uppercased record, got %v", received)
	}
}
