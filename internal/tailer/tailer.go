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

// Package tailer implements the directory tailer (C6): glob-based file
// discovery, rotation-tolerant offset tracking keyed by file identity,
// and pluggable line parsing.
package tailer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"eventpipe/internal/bookmark"
	"eventpipe/internal/envelope"
	"eventpipe/internal/obs"
)

var defaultExcludedExt = map[string]bool{
	".gz": true, ".zip": true, ".bz2": true, ".tar": true, ".7z": true, ".xz": true,
}

// Config describes one directory tailer's scope.
type Config struct {
	SourceID     string
	Dir          string
	Globs        []string // base-name glob patterns, e.g. "*.log"
	ExcludeExt   []string // additional excluded extensions beyond the default denylist
	Recursive    bool
	ScanInterval time.Duration // default 2s
	Initial      bookmark.InitialPosition
	InitialTime  time.Time // set with PositionTimestamp; not read: such files start at offset 0, with no time filter
}

type fileState struct {
	path     string
	identity envelope.FileIdentity
	offset   int64 // read cursor: next byte os.File.Read resumes from
	base     int64 // absolute file offset where the parser's own stream position 0 sits
	line     int64
	handle   envelope.BookmarkHandle
	parser   Parser
}

// EmitFunc receives completed Envelopes.
type EmitFunc func(envelope.Envelope)

// ParserFactory constructs a fresh Parser for a newly discovered file.
type ParserFactory func() Parser

// DirectoryTailer discovers files under a directory and tails them.
type DirectoryTailer struct {
	cfg   Config
	store *bookmark.Store
	newP  ParserFactory
	emit  EmitFunc

	mu      sync.Mutex
	tracked map[string]*fileState

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once

	parseErrors int64
}

// New constructs a DirectoryTailer. store supplies initial-position
// lookups by file identity; emit receives parsed records as Envelopes.
func New(cfg Config, store *bookmark.Store, newParser ParserFactory, emit EmitFunc) (*DirectoryTailer, error) {
	if err := validateGlobs(cfg.Globs); err != nil {
		return nil, err
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 2 * time.Second
	}
	return &DirectoryTailer{
		cfg:     cfg,
		store:   store,
		newP:    newParser,
		emit:    emit,
		tracked: make(map[string]*fileState),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins scanning in the background. An fsnotify watch on the
// directory wakes an immediate rescan on create/write/rename events;
// the ticker is the fallback for locked files and missed events (per
// spec, the tailer never holds an exclusive lock and simply retries).
func (t *DirectoryTailer) Start() {
	t.once.Do(func() {
		w, err := fsnotify.NewWatcher()
		if err == nil {
			if err := w.Add(t.cfg.Dir); err != nil {
				obs.Warn("tailer", "watch %s: %v", t.cfg.Dir, err)
				w.Close()
				w = nil
			}
		} else {
			obs.Warn("tailer", "fsnotify unavailable, falling back to polling only: %v", err)
			w = nil
		}
		t.watcher = w
		go t.run()
	})
}

// Stop halts scanning and releases the fsnotify watch.
func (t *DirectoryTailer) Stop() {
	close(t.stopCh)
	<-t.doneCh
}

func (t *DirectoryTailer) run() {
	defer close(t.doneCh)
	ticker := time.NewTicker(t.cfg.ScanInterval)
	defer ticker.Stop()

	t.scanOnce()

	var events <-chan fsnotify.Event
	if t.watcher != nil {
		events = t.watcher.Events
		defer t.watcher.Close()
	}

	for {
		select {
		case <-ticker.C:
			t.scanOnce()
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			t.scanOnce()
		case <-t.stopCh:
			return
		}
	}
}

// ParseErrors reports how many records were dropped due to parse
// failures across all tracked files.
func (t *DirectoryTailer) ParseErrors() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.parseErrors
}

func (t *DirectoryTailer) scanOnce() {
	matches, err := t.discover()
	if err != nil {
		obs.Warn("tailer", "discover %s: %v", t.cfg.Dir, err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]bool, len(matches))
	for _, path := range matches {
		seen[path] = true
		t.scanFileLocked(path)
	}
	for path := range t.tracked {
		if !seen[path] {
			delete(t.tracked, path)
		}
	}
}

func (t *DirectoryTailer) discover() ([]string, error) {
	var out []string
	walkFn := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal to the scan
		}
		if d.IsDir() {
			if !t.cfg.Recursive && path != t.cfg.Dir {
				return filepath.SkipDir
			}
			return nil
		}
		if isExcluded(path, t.cfg.ExcludeExt) {
			return nil
		}
		base := filepath.Base(path)
		for _, g := range t.cfg.Globs {
			if ok, _ := filepath.Match(g, base); ok {
				out = append(out, path)
				break
			}
		}
		return nil
	}
	if err := filepath.WalkDir(t.cfg.Dir, walkFn); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func isExcluded(path string, extra []string) bool {
	ext := filepath.Ext(path)
	if defaultExcludedExt[ext] {
		return true
	}
	for _, e := range extra {
		if e == ext {
			return true
		}
	}
	return false
}

// scanFileLocked requires t.mu held.
func (t *DirectoryTailer) scanFileLocked(path string) {
	info, err := os.Stat(path)
	if err != nil {
		obs.Warn("tailer", "stat %s: %v", path, err)
		return
	}
	identity, err := fileIdentity(path, info)
	if err != nil {
		obs.Warn("tailer", "identity %s: %v", path, err)
		return
	}

	st, tracked := t.tracked[path]
	switch {
	case !tracked:
		st = t.openNewLocked(path, identity, info.Size())
		t.tracked[path] = st
	case st.identity != identity:
		obs.Info("tailer", "rotation detected for %s, reopening from offset 0", path)
		st = t.openNewLocked(path, identity, 0)
		t.tracked[path] = st
	case info.Size() < st.offset:
		obs.Info("tailer", "%s shrank, reopening from offset 0", path)
		st.offset, st.base, st.line = 0, 0, 0
		st.parser = t.newP()
	}

	if info.Size() > st.offset {
		t.readNewBytesLocked(path, st)
	}
}

func (t *DirectoryTailer) openNewLocked(path string, identity envelope.FileIdentity, fallbackOffset int64) *fileState {
	handle := t.store.Register(t.cfg.SourceID, identity)
	offset, line := int64(0), int64(0)
	if savedOffset, savedLine, ok := t.store.Lookup(handle); ok {
		offset, line = savedOffset, savedLine
	} else {
		switch t.cfg.Initial {
		case bookmark.PositionEnd:
			offset = fallbackOffset
		case bookmark.PositionBeginning, bookmark.PositionBookmark, bookmark.PositionTimestamp:
			offset = 0
		}
	}
	return &fileState{
		path:     path,
		identity: identity,
		offset:   offset,
		base:     offset,
		line:     line,
		handle:   handle,
		parser:   t.newP(),
	}
}

func (t *DirectoryTailer) readNewBytesLocked(path string, st *fileState) {
	f, err := os.Open(path)
	if err != nil {
		obs.Warn("tailer", "open %s: %v", path, err)
		return
	}
	defer f.Close()

	if _, err := f.Seek(st.offset, io.SeekStart); err != nil {
		obs.Warn("tailer", "seek %s: %v", path, err)
		return
	}
	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			records := st.parser.Feed(chunk)
			// st.offset is only the read cursor for the next os.File.Read;
			// it intentionally runs ahead of any record not yet terminated
			// (a partial trailing line still sits in the parser's own
			// buffer). Per-record bookmark positions come from
			// st.base+rec.EndOffset in emitRecords, not from this cursor.
			st.offset += int64(n)
			t.emitRecords(path, st, records)
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			obs.Warn("tailer", "read %s: %v", path, err)
			return
		}
		if n == 0 {
			return
		}
	}
}

func (t *DirectoryTailer) emitRecords(path string, st *fileState, records []Record) {
	for _, rec := range records {
		st.line++
		ts := time.Now()
		pos := envelope.RecordPosition{
			File:       st.identity,
			Path:       path,
			ByteOffset: st.base + rec.EndOffset,
			LineNumber: st.line,
		}
		handle := st.handle
		env := envelope.Envelope{
			Timestamp: ts,
			SourceID:  t.cfg.SourceID,
			Payload:   rec.Text,
			Position:  &pos,
			Bookmark:  &handle,
		}
		for k, v := range rec.Captures {
			env = env.WithVar(k, v)
		}
		if t.emit != nil {
			t.emit(env)
		}
	}
}

// validateGlobs reports an error if no glob is configured, matching the
// wiring-time validation rule that a source must resolve to something.
func validateGlobs(globs []string) error {
	if len(globs) == 0 {
		return fmt.Errorf("tailer: at least one glob pattern is required")
	}
	return nil
}
