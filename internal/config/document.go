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

// Package config models the agent's JSON configuration file (spec §6):
// Sources/Sinks/Pipes/Credentials/Plugins arrays, each entry typed by an
// Id/Type pair plus type-specific keys a factory unmarshals on its own.
package config

import (
	"encoding/json"
	"fmt"
)

// ComponentConfig is one entry of the Sources/Sinks/Credentials/Plugins
// arrays: a stable Id, a factory-dispatch Type, and the entry's raw JSON
// so the named factory can unmarshal its own type-specific keys.
type ComponentConfig struct {
	Id   string
	Type string
	Raw  json.RawMessage
}

func (c *ComponentConfig) UnmarshalJSON(data []byte) error {
	var head struct {
		Id   string `json:"Id"`
		Type string `json:"Type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("config: component entry: %w", err)
	}
	c.Id = head.Id
	c.Type = head.Type
	c.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (c ComponentConfig) MarshalJSON() ([]byte, error) {
	if len(c.Raw) > 0 {
		return c.Raw, nil
	}
	return json.Marshal(struct {
		Id   string `json:"Id"`
		Type string `json:"Type"`
	}{c.Id, c.Type})
}

// PipeConfig is one entry of the Pipes array: it additionally carries
// the SourceRef/SinkRef/PipeRefs wiring spec §4.7 validates.
type PipeConfig struct {
	Id        string
	Type      string
	SourceRef string
	SinkRef   string
	PipeRefs  []string
	Raw       json.RawMessage
}

func (p *PipeConfig) UnmarshalJSON(data []byte) error {
	var head struct {
		Id        string   `json:"Id"`
		Type      string   `json:"Type"`
		SourceRef string   `json:"SourceRef"`
		SinkRef   string   `json:"SinkRef"`
		PipeRefs  []string `json:"PipeRefs"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("config: pipe entry: %w", err)
	}
	p.Id = head.Id
	p.Type = head.Type
	p.SourceRef = head.SourceRef
	p.SinkRef = head.SinkRef
	p.PipeRefs = head.PipeRefs
	p.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Document is the top-level shape of one configuration file.
type Document struct {
	// Name is the session's stable display name (spec §4.12); if the
	// file omits it, Load fills it in from the file's basename.
	Name string `json:"Name,omitempty"`

	Sources     []ComponentConfig `json:"Sources"`
	Sinks       []ComponentConfig `json:"Sinks"`
	Pipes       []PipeConfig      `json:"Pipes"`
	Credentials []ComponentConfig `json:"Credentials"`
	Plugins     []ComponentConfig `json:"Plugins"`
}
