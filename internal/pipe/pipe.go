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

// Package pipe implements the pipe graph (C7): small observer/observable
// transforms wired between sources and sinks.
package pipe

import (
	"fmt"
	"regexp"

	"eventpipe/internal/envelope"
)

// Pipe consumes one Envelope and either forwards a (possibly
// transformed) Envelope downstream, or drops it.
type Pipe interface {
	Handle(env envelope.Envelope) (out envelope.Envelope, forward bool)
}

// FilterPipe forwards envelopes satisfying Predicate, or its complement
// when Negate is set.
type FilterPipe struct {
	Predicate func(envelope.Envelope) bool
	Negate    bool
}

func (f FilterPipe) Handle(env envelope.Envelope) (envelope.Envelope, bool) {
	ok := f.Predicate(env)
	if f.Negate {
		ok = !ok
	}
	return env, ok
}

// RegexFilterPipe forwards envelopes whose text form matches Pattern.
type RegexFilterPipe struct {
	pattern *regexp.Regexp
	negate  bool
}

// NewRegexFilterPipe compiles pattern, which must be non-empty (spec
// wiring-time validation rule).
func NewRegexFilterPipe(pattern string, negate bool) (*RegexFilterPipe, error) {
	if pattern == "" {
		return nil, fmt.Errorf("pipe: regex filter requires a non-empty pattern")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("pipe: compile regex filter: %w", err)
	}
	return &RegexFilterPipe{pattern: re, negate: negate}, nil
}

func (r *RegexFilterPipe) Handle(env envelope.Envelope) (envelope.Envelope, bool) {
	text, ok := env.Text()
	if !ok {
		return env, false
	}
	matched := r.pattern.MatchString(text)
	if r.negate {
		matched = !matched
	}
	return env, matched
}

// ProjectionPipe maps an Envelope's payload from one type/shape to
// another. Project returning forward=false drops the Envelope.
type ProjectionPipe struct {
	Project func(envelope.Envelope) (envelope.Envelope, bool)
}

func (p ProjectionPipe) Handle(env envelope.Envelope) (envelope.Envelope, bool) {
	return p.Project(env)
}
