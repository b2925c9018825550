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
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidDocumentFillsNameFromBasename(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "a.json", `{
		"Sources": [{"Id":"src1","Type":"DirectorySource","Dir":"/var/log"}],
		"Sinks": [{"Id":"sink1","Type":"CloudLogsSink"}],
		"Pipes": [{"Id":"p1","Type":"FilterPipe","SourceRef":"src1","SinkRef":"sink1"}]
	}`)

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Name != "a" {
		t.Fatalf("expected derived name \"a\", got %q", doc.Name)
	}
	if len(doc.Sources) != 1 || doc.Sources[0].Type != "DirectorySource" {
		t.Fatalf("unexpected sources: %+v", doc.Sources)
	}
}

func TestLoadRejectsUnresolvedSourceRef(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "b.json", `{
		"Sinks": [{"Id":"sink1","Type":"CloudLogsSink"}],
		"Pipes": [{"Id":"p1","Type":"FilterPipe","SourceRef":"missing","SinkRef":"sink1"}]
	}`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected unresolved SourceRef to fail validation")
	}
}

func TestLoadRejectsEmptyRegexPattern(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "c.json", `{
		"Sources": [{"Id":"src1","Type":"DirectorySource"}],
		"Sinks": [{"Id":"sink1","Type":"CloudLogsSink"}],
		"Pipes": [{"Id":"p1","Type":"RegexFilterPipe","SourceRef":"src1","SinkRef":"sink1","Pattern":""}]
	}`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected empty regex pattern to fail validation")
	}
}

func TestLoadRejectsDuplicateSourceIds(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "d.json", `{
		"Sources": [{"Id":"src1","Type":"DirectorySource"},{"Id":"src1","Type":"DirectorySource"}],
		"Sinks": [{"Id":"sink1","Type":"CloudLogsSink"}],
		"Pipes": []
	}`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected duplicate source id to fail validation")
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "e.json", `{not json`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected malformed JSON to fail")
	}
}
