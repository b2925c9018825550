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

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Load parses the configuration file at path and validates its
// referential integrity. Deep schema validation beyond Go's own JSON
// unmarshal errors is out of scope (spec §1 names schema validation as
// an external collaborator) — Load only enforces the structural
// invariants spec.md assigns to the core.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if doc.Name == "" {
		base := filepath.Base(path)
		doc.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if err := Validate(&doc); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &doc, nil
}

// Validate enforces spec §4.7's wiring rules (every SourceRef/SinkRef
// resolves, regex filters carry a non-empty pattern) plus duplicate-id
// rejection within a single document.
func Validate(doc *Document) error {
	sourceIDs := map[string]bool{}
	if err := collectIDs(doc.Sources, "Sources", sourceIDs); err != nil {
		return err
	}
	sinkIDs := map[string]bool{}
	if err := collectIDs(doc.Sinks, "Sinks", sinkIDs); err != nil {
		return err
	}
	pipeIDs := map[string]bool{}
	for _, p := range doc.Pipes {
		if p.Id != "" {
			if pipeIDs[p.Id] {
				return fmt.Errorf("duplicate pipe id %q", p.Id)
			}
			pipeIDs[p.Id] = true
		}
		if !sourceIDs[p.SourceRef] {
			return fmt.Errorf("pipe %q: unresolved SourceRef %q", p.Id, p.SourceRef)
		}
		if !sinkIDs[p.SinkRef] {
			return fmt.Errorf("pipe %q: unresolved SinkRef %q", p.Id, p.SinkRef)
		}
		if p.Type == "RegexFilterPipe" {
			var params struct {
				Pattern string `json:"Pattern"`
			}
			if err := json.Unmarshal(p.Raw, &params); err != nil {
				return fmt.Errorf("pipe %q: %w", p.Id, err)
			}
			if params.Pattern == "" {
				return fmt.Errorf("pipe %q: RegexFilterPipe requires a non-empty Pattern", p.Id)
			}
		}
	}
	return nil
}

func collectIDs(entries []ComponentConfig, kind string, into map[string]bool) error {
	for _, e := range entries {
		if e.Id == "" {
			return fmt.Errorf("%s entry missing Id", kind)
		}
		if into[e.Id] {
			return fmt.Errorf("duplicate %s id %q", kind, e.Id)
		}
		into[e.Id] = true
	}
	return nil
}
