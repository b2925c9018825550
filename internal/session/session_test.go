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
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"eventpipe/internal/bookmark"
	"eventpipe/internal/config"
	"eventpipe/internal/metrics"
	"eventpipe/internal/sink"
)

type fakeCloudLogsTransport struct {
	mu   sync.Mutex
	msgs []string
}

func (f *fakeCloudLogsTransport) PutLogEvents(_ context.Context, _, _, _ string, records []sink.CloudLogRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range records {
		f.msgs = append(f.msgs, r.Message)
	}
	return "", nil
}

func (f *fakeCloudLogsTransport) DescribeSequenceToken(context.Context, string, string) (string, error) {
	return "", nil
}

func (f *fakeCloudLogsTransport) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.msgs))
	copy(out, f.msgs)
	return out
}

func TestSessionWiresDirectorySourceThroughRegexFilterToCloudLogsSink(t *testing.T) {
	dir := t.TempDir()
	logDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		t.Fatalf("mkdir logs: %v", err)
	}
	content := "hello world\nERROR boom\nall fine\n"
	if err := os.WriteFile(filepath.Join(logDir, "app.log"), []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	store, err := bookmark.Open(filepath.Join(dir, "bookmarks"))
	if err != nil {
		t.Fatalf("bookmark.Open: %v", err)
	}
	hub := metrics.NewHub()

	transport := &fakeCloudLogsTransport{}
	reg := NewRegistry()
	reg.Sinks["CloudLogsSink"] = NewCloudLogsSinkFactory(CloudLogsTransports{"sink1": transport}, nil)

	docJSON := []byte(`{
		"Name": "t1",
		"Sources": [{"Id":"src1","Type":"DirectorySource","Dir":` + mustJSON(logDir) + `,"Globs":["*.log"],"ScanIntervalMs":20}],
		"Sinks": [{"Id":"sink1","Type":"CloudLogsSink","GroupName":"g","StreamName":"s","MaxBatchAgeMs":30,"MaxBatchCount":10}],
		"Pipes": [{"Id":"p1","Type":"RegexFilterPipe","SourceRef":"src1","SinkRef":"sink1","Pattern":"ERROR","Negate":false}]
	}`)
	var doc config.Document
	if err := json.Unmarshal(docJSON, &doc); err != nil {
		t.Fatalf("unmarshal document: %v", err)
	}

	sess, err := Load(&doc, reg, hub, store)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !sess.Validated() {
		t.Fatalf("expected session to validate, errors: %v", sess.Errors())
	}
	if sess.SourceCount() != 1 || sess.SinkCount() != 1 {
		t.Fatalf("expected 1 source and 1 sink, got %d/%d", sess.SourceCount(), sess.SinkCount())
	}

	sess.Start()
	defer sess.Stop()

	deadline := time.Now().Add(5 * time.Second)
	var got []string
	for time.Now().Before(deadline) {
		got = transport.messages()
		if len(got) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if len(got) != 1 || got[0] != "ERROR boom" {
		t.Fatalf("expected exactly the matching ERROR line to reach the sink, got %v", got)
	}
}

func mustJSON(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func TestSessionRecordsUnknownSinkTypeAsUnvalidated(t *testing.T) {
	store, err := bookmark.Open(t.TempDir())
	if err != nil {
		t.Fatalf("bookmark.Open: %v", err)
	}
	hub := metrics.NewHub()
	reg := NewRegistry()

	var doc config.Document
	docJSON := []byte(`{
		"Sources": [{"Id":"src1","Type":"DirectorySource","Dir":"/tmp"}],
		"Sinks": [{"Id":"sink1","Type":"NoSuchSink"}],
		"Pipes": [{"Id":"p1","SourceRef":"src1","SinkRef":"sink1"}]
	}`)
	if err := json.Unmarshal(docJSON, &doc); err != nil {
		t.Fatalf("unmarshal document: %v", err)
	}

	sess, err := Load(&doc, reg, hub, store)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sess.Validated() {
		t.Fatalf("expected session to be unvalidated for an unknown sink type")
	}
	if len(sess.Errors()) == 0 {
		t.Fatalf("expected a recorded construction error")
	}
	if sess.SourceCount() != 0 {
		t.Fatalf("expected the orphaned source to stay unconstructed, got %d", sess.SourceCount())
	}
}
