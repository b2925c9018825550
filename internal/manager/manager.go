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

// Package manager implements the session manager (C12): it discovers
// configuration files in a directory, keeps one running Session per
// file, and reconciles added/removed/modified files on a poll
// interval, the way a directory tailer's scan loop discovers files —
// except here the "files" are whole session definitions.
package manager

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"eventpipe/internal/bookmark"
	"eventpipe/internal/config"
	"eventpipe/internal/metrics"
	"eventpipe/internal/obs"
	"eventpipe/internal/session"
)

// forbiddenNameChars mirrors common filesystem-reserved characters plus
// whitespace and the single quote, per spec's file-name policy.
const forbiddenNameChars = `<>:"/\|?*'`

// DefaultInterval is the discovery loop's default poll period.
const DefaultInterval = 500 * time.Millisecond

type tracked struct {
	path    string
	size    int64
	modTime time.Time
	sess    *session.Session
}

// Manager owns one Session per configuration file under Dir.
type Manager struct {
	Dir      string
	Interval time.Duration

	reg   *session.Registry
	hub   *metrics.Hub
	store *bookmark.Store

	mu       sync.Mutex
	sessions map[string]*tracked // keyed by file path

	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped uint32
}

// New returns a Manager that will track configuration files under dir.
// interval <= 0 uses DefaultInterval.
func New(dir string, interval time.Duration, reg *session.Registry, hub *metrics.Hub, store *bookmark.Store) *Manager {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Manager{
		Dir:      dir,
		Interval: interval,
		reg:      reg,
		hub:      hub,
		store:    store,
		sessions: make(map[string]*tracked),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start performs an initial synchronous reconcile (so every session
// present at startup is running before Start returns) and then
// launches the background discovery loop.
func (m *Manager) Start() error {
	if err := m.reconcile(); err != nil {
		return err
	}
	go m.loop()
	return nil
}

func (m *Manager) loop() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.reconcile(); err != nil {
				obs.Error("manager", "reconcile: %v", err)
			}
		case <-m.stopCh:
			return
		}
	}
}

// Stop halts discovery and tears down every tracked session in
// parallel, so one slow sink does not delay the others' teardown. There
// is no deadline: Stop returns once the slowest session has stopped.
func (m *Manager) Stop() {
	if !atomic.CompareAndSwapUint32(&m.stopped, 0, 1) {
		return
	}
	close(m.stopCh)
	<-m.doneCh

	m.mu.Lock()
	all := make([]*tracked, 0, len(m.sessions))
	for _, t := range m.sessions {
		all = append(all, t)
	}
	m.sessions = make(map[string]*tracked)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, t := range all {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.sess.Stop()
		}()
	}
	wg.Wait()
}

// Status is a point-in-time snapshot of one tracked session, backing
// the "agent status" CLI surface.
type Status struct {
	Path        string
	Name        string
	Validated   bool
	SourceCount int
	PipeCount   int
	SinkCount   int
	// SinkRegions is the failover controller's currently selected
	// region, keyed by sink Id, for every sink that tracks one.
	SinkRegions map[string]string
}

// Snapshot returns a Status for every currently tracked session.
func (m *Manager) Snapshot() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.sessions))
	for path, t := range m.sessions {
		out = append(out, Status{
			Path:        path,
			Name:        t.sess.Name,
			Validated:   t.sess.Validated(),
			SourceCount: t.sess.SourceCount(),
			PipeCount:   t.sess.PipeCount(),
			SinkCount:   t.sess.SinkCount(),
			SinkRegions: t.sess.SinkRegions(),
		})
	}
	return out
}

// reconcile lists Dir, applies the file-name policy, and diffs the
// result against the tracked set: removed files are stopped and
// dropped, new files are loaded and started, and files whose
// (size, modTime) changed are stopped and reloaded in place, keeping
// the same tracked path as their persistent identity.
func (m *Manager) reconcile() error {
	entries, err := os.ReadDir(m.Dir)
	if err != nil {
		return fmt.Errorf("manager: read %s: %w", m.Dir, err)
	}

	seen := make(map[string]os.FileInfo)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := validateFileName(e.Name()); err != nil {
			obs.Warn("manager", "skipping %s: %v", e.Name(), err)
			continue
		}
		info, err := e.Info()
		if err != nil {
			obs.Warn("manager", "stat %s: %v", e.Name(), err)
			continue
		}
		seen[filepath.Join(m.Dir, e.Name())] = info
	}

	m.mu.Lock()
	var toRemove []string
	for path := range m.sessions {
		if _, ok := seen[path]; !ok {
			toRemove = append(toRemove, path)
		}
	}
	m.mu.Unlock()
	for _, path := range toRemove {
		m.drop(path)
	}

	names := make(map[string]string) // display name -> path, for duplicate rejection
	m.mu.Lock()
	for path, t := range m.sessions {
		names[t.sess.Name] = path
	}
	m.mu.Unlock()

	for path, info := range seen {
		m.mu.Lock()
		existing, tracked := m.sessions[path]
		m.mu.Unlock()

		if tracked && existing.size == info.Size() && existing.modTime.Equal(info.ModTime()) {
			continue
		}

		doc, err := config.Load(path)
		if err != nil {
			obs.Error("manager", "load %s: %v", path, err)
			continue
		}
		if owner, dup := names[doc.Name]; dup && owner != path {
			obs.Error("manager", "skipping %s: display name %q already used by %s", path, doc.Name, owner)
			continue
		}

		sess, err := session.Load(doc, m.reg, m.hub, m.store)
		if err != nil {
			obs.Error("manager", "construct session for %s: %v", path, err)
			continue
		}

		if tracked {
			existing.sess.Stop()
		}
		sess.Start()

		m.mu.Lock()
		m.sessions[path] = &tracked{path: path, size: info.Size(), modTime: info.ModTime(), sess: sess}
		m.mu.Unlock()
		names[doc.Name] = path
	}
	return nil
}

func (m *Manager) drop(path string) {
	m.mu.Lock()
	t, ok := m.sessions[path]
	if ok {
		delete(m.sessions, path)
	}
	m.mu.Unlock()
	if ok {
		t.sess.Stop()
	}
}

func validateFileName(name string) error {
	if strings.ContainsAny(name, forbiddenNameChars) {
		return fmt.Errorf("name contains a reserved character")
	}
	for _, r := range name {
		if r == ' ' || r == '\t' || r == '\n' {
			return fmt.Errorf("name contains whitespace")
		}
	}
	return nil
}
