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

package tailer

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"eventpipe/internal/bookmark"
	"eventpipe/internal/envelope"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestTailerDiscoversAndEmitsNewLines(t *testing.T) {
	dir := t.TempDir()
	bmDir := t.TempDir()
	store, err := bookmark.Open(bmDir)
	if err != nil {
		t.Fatalf("bookmark.Open: %v", err)
	}

	logPath := filepath.Join(dir, "app.log")
	if err := os.WriteFile(logPath, []byte("line1\nline2\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	var mu sync.Mutex
	var got []string

	tl, err := New(Config{
		SourceID:     "app",
		Dir:          dir,
		Globs:        []string{"*.log"},
		ScanInterval: 20 * time.Millisecond,
		Initial:      bookmark.PositionBeginning,
	}, store, func() Parser { return NewSingleLineParser() }, func(e envelope.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		text, _ := e.Text()
		got = append(got, text)
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tl.Start()
	defer tl.Stop()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if got[0] != "line1" || got[1] != "line2" {
		t.Fatalf("unexpected records: %v", got)
	}
}

func TestTailerPicksUpAppendedBytes(t *testing.T) {
	dir := t.TempDir()
	bmDir := t.TempDir()
	store, err := bookmark.Open(bmDir)
	if err != nil {
		t.Fatalf("bookmark.Open: %v", err)
	}

	logPath := filepath.Join(dir, "app.log")
	f, err := os.Create(logPath)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.WriteString("first\n")
	f.Close()

	var mu sync.Mutex
	var got []string
	tl, err := New(Config{
		SourceID:     "app",
		Dir:          dir,
		Globs:        []string{"*.log"},
		ScanInterval: 20 * time.Millisecond,
		Initial:      bookmark.PositionBeginning,
	}, store, func() Parser { return NewSingleLineParser() }, func(e envelope.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		text, _ := e.Text()
		got = append(got, text)
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tl.Start()
	defer tl.Stop()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})

	f, err = os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("reopen for append: %v", err)
	}
	f.WriteString("second\n")
	f.Close()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if got[1] != "second" {
		t.Fatalf("expected 'second' appended, got %v", got)
	}
}

func TestTailerStampsEachRecordWithItsOwnTerminatingOffset(t *testing.T) {
	dir := t.TempDir()
	bmDir := t.TempDir()
	store, err := bookmark.Open(bmDir)
	if err != nil {
		t.Fatalf("bookmark.Open: %v", err)
	}

	logPath := filepath.Join(dir, "app.log")
	// All three lines land in the same 64KB read, so a naive
	// implementation that stamps every record with the chunk's end
	// offset would give "a" and "b" the same (wrong) offset as "c".
	if err := os.WriteFile(logPath, []byte("a\nbb\nccc\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	var mu sync.Mutex
	var positions []envelope.RecordPosition
	tl, err := New(Config{
		SourceID:     "app",
		Dir:          dir,
		Globs:        []string{"*.log"},
		ScanInterval: 20 * time.Millisecond,
		Initial:      bookmark.PositionBeginning,
	}, store, func() Parser { return NewSingleLineParser() }, func(e envelope.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		positions = append(positions, *e.Position)
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tl.Start()
	defer tl.Stop()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(positions) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	want := []int64{2, 5, 9} // end of "a\n", "bb\n", "ccc\n" respectively
	for i, w := range want {
		if positions[i].ByteOffset != w {
			t.Fatalf("record %d: expected ByteOffset %d, got %d (all positions: %v)", i, w, positions[i].ByteOffset, positions)
		}
	}
}

func TestExcludedExtensionSkipped(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "archive.log.gz"), []byte("x\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "keep.log"), []byte("y\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tl := &DirectoryTailer{cfg: Config{Dir: dir, Globs: []string{"*.*"}}}
	matches, err := tl.discover()
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(matches) != 1 || filepath.Base(matches[0]) != "keep.log" {
		t.Fatalf("expected only keep.log, got %v", matches)
	}
}

func TestNewRejectsEmptyGlobs(t *testing.T) {
	dir := t.TempDir()
	store, _ := bookmark.Open(t.TempDir())
	if _, err := New(Config{Dir: dir}, store, func() Parser { return NewSingleLineParser() }, func(envelope.Envelope) {}); err == nil {
		t.Fatalf("expected error for empty Globs")
	}
}
