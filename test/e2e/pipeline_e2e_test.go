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

//go:build e2e

// Package e2e exercises whole pipelines — multiple components wired
// together the way a running agent would, as opposed to the
// package-level unit tests each component carries on its own.
package e2e

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"eventpipe/internal/batcher"
	"eventpipe/internal/bookmark"
	"eventpipe/internal/buffer"
	"eventpipe/internal/envelope"
	"eventpipe/internal/failover"
	"eventpipe/internal/metrics"
	"eventpipe/internal/sink"
	"eventpipe/internal/tailer"
	"eventpipe/internal/throttle"
)

// TestDirectoryTailerReplaysWithoutDuplicationAcrossRestart covers
// scenario 1: a single source resumes from its bookmark on restart and
// never redelivers a line it already emitted.
func TestDirectoryTailerReplaysWithoutDuplicationAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app.log")
	if err := os.WriteFile(logPath, []byte("line one\nline two\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	store, err := bookmark.Open(filepath.Join(dir, "bookmarks"))
	if err != nil {
		t.Fatalf("bookmark.Open: %v", err)
	}

	var mu sync.Mutex
	var received []string
	emit := func(env envelope.Envelope) {
		text, _ := env.Text()
		mu.Lock()
		received = append(received, text)
		mu.Unlock()
		// Acknowledge delivery the way a sink does after a successful
		// upload, so the restarted tailer has a bookmark to resume from.
		store.Update(*env.Bookmark, env.Position.ByteOffset, env.Position.LineNumber)
	}

	cfg := tailer.Config{SourceID: "src1", Dir: dir, Globs: []string{"*.log"}, ScanInterval: 20 * time.Millisecond}
	tl, err := tailer.New(cfg, store, func() tailer.Parser { return tailer.NewSingleLineParser() }, emit)
	if err != nil {
		t.Fatalf("tailer.New: %v", err)
	}
	tl.Start()
	waitForCount(t, func() int { mu.Lock(); defer mu.Unlock(); return len(received) }, 2, 2*time.Second)
	tl.Stop()

	// Append more content and restart a fresh tailer instance sharing
	// the same bookmark store, simulating a process restart.
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("reopen log: %v", err)
	}
	if _, err := f.WriteString("line three\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	tl2, err := tailer.New(cfg, store, func() tailer.Parser { return tailer.NewSingleLineParser() }, emit)
	if err != nil {
		t.Fatalf("tailer.New (restart): %v", err)
	}
	tl2.Start()
	waitForCount(t, func() int { mu.Lock(); defer mu.Unlock(); return len(received) }, 3, 2*time.Second)
	tl2.Stop()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"line one", "line two", "line three"}
	if len(received) != len(want) {
		t.Fatalf("expected %v, got %v", want, received)
	}
	for i := range want {
		if received[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, received)
		}
	}
}

func waitForCount(t *testing.T, count func() int, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if count() >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for count >= %d, got %d", want, count())
}

// dualFlushDriver records each batch's size, so the test can tell a
// count-triggered flush from an age-triggered one.
type dualFlushDriver struct {
	mu    sync.Mutex
	sizes []int
}

func (d *dualFlushDriver) Convert(env envelope.Envelope) (string, error) {
	text, _ := env.Text()
	return text, nil
}
func (d *dualFlushDriver) RecordSize(rec string) int64 { return int64(len(rec)) }
func (d *dualFlushDriver) Upload(_ context.Context, batch []string, _ string) (sink.UploadResult, error) {
	d.mu.Lock()
	d.sizes = append(d.sizes, len(batch))
	d.mu.Unlock()
	return sink.UploadResult{RecordsAccepted: len(batch)}, nil
}
func (d *dualFlushDriver) FetchToken(context.Context) (string, error) { return "", nil }
func (d *dualFlushDriver) Classify(err error) sink.ErrorClass         { return sink.DefaultClassify(err) }

func (d *dualFlushDriver) snapshot() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int, len(d.sizes))
	copy(out, d.sizes)
	return out
}

// TestSinkRuntimeFlushesOnCountOrAge covers scenario 2: a batch flushes
// either once it reaches MaxCount, or once MaxAge elapses, whichever
// comes first — both triggers exercised against the same runtime.
func TestSinkRuntimeFlushesOnCountOrAge(t *testing.T) {
	store, err := bookmark.Open(t.TempDir())
	if err != nil {
		t.Fatalf("bookmark.Open: %v", err)
	}
	hub := metrics.NewHub()
	th := throttle.New(nil, throttle.DefaultOptions())
	driver := &dualFlushDriver{}

	rt := sink.New[string](driver, th, hub, store, sink.Options{
		Batcher: batcher.Options{MaxCount: 3, MaxBytes: 1 << 20, MaxAge: 200 * time.Millisecond, CheckInterval: 20 * time.Millisecond},
		SinkID:  "s1",
	})
	rt.Start()
	defer rt.Stop()

	// Three envelopes hit MaxCount immediately.
	for i := 0; i < 3; i++ {
		rt.HandleEnvelope(envelope.Envelope{Timestamp: time.Now(), SourceID: "src", Payload: "count-triggered"})
	}
	waitForCount(t, func() int { return len(driver.snapshot()) }, 1, 2*time.Second)

	// A single envelope only flushes once MaxAge elapses.
	rt.HandleEnvelope(envelope.Envelope{Timestamp: time.Now(), SourceID: "src", Payload: "age-triggered"})
	waitForCount(t, func() int { return len(driver.snapshot()) }, 2, 2*time.Second)

	sizes := driver.snapshot()
	if sizes[0] != 3 {
		t.Fatalf("expected the first flush to be count-triggered with 3 items, got %d", sizes[0])
	}
	if sizes[1] != 1 {
		t.Fatalf("expected the second flush to be age-triggered with 1 item, got %d", sizes[1])
	}
}

// failoverClient is a bare failover.Client plus the send method the
// test driver below type-asserts for.
type failoverClient struct {
	name string
	fail bool
}

func (c *failoverClient) HealthProbe() (bool, time.Duration, error) { return true, time.Millisecond, nil }

func (c *failoverClient) Send(batch []string) error {
	if c.fail {
		return context.DeadlineExceeded
	}
	return nil
}

// failoverDriver routes Upload through a failover.Controller: a
// destination error trips FailOverToSecondary before the runtime's own
// recoverable-retry path requeues the batch for a later attempt.
type failoverDriver struct {
	ctrl *failover.Controller

	mu  sync.Mutex
	log []string // region name used per successful upload
}

func (d *failoverDriver) Convert(env envelope.Envelope) (string, error) {
	text, _ := env.Text()
	return text, nil
}
func (d *failoverDriver) RecordSize(rec string) int64 { return int64(len(rec)) }

func (d *failoverDriver) Upload(_ context.Context, batch []string, _ string) (sink.UploadResult, error) {
	client, region, err := d.ctrl.Current()
	if err != nil {
		return sink.UploadResult{}, &sink.TransientError{Err: err}
	}
	fc := client.(*failoverClient)
	if err := fc.Send(batch); err != nil {
		d.ctrl.FailOverToSecondary()
		return sink.UploadResult{}, &sink.TransientError{Err: err}
	}
	d.mu.Lock()
	d.log = append(d.log, region.Name)
	d.mu.Unlock()
	return sink.UploadResult{RecordsAccepted: len(batch)}, nil
}
func (d *failoverDriver) FetchToken(context.Context) (string, error) { return "", nil }
func (d *failoverDriver) Classify(err error) sink.ErrorClass         { return sink.DefaultClassify(err) }

func (d *failoverDriver) uploadedFrom() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.log))
	copy(out, d.log)
	return out
}

// TestSinkRuntimeRequeuesThroughFailoverOnPrimaryRejection covers
// scenario 3: the primary region rejects a batch, the controller fails
// over under a priority policy, and the requeued batch succeeds against
// the secondary on its next attempt.
func TestSinkRuntimeRequeuesThroughFailoverOnPrimaryRejection(t *testing.T) {
	primary := failover.NewRegion("primary", "primary.example", 1)
	secondary := failover.NewRegion("secondary", "secondary.example", 1)

	primaryFails := true
	ctrl, err := failover.New(failover.Options{
		Regions:      []*failover.Region{primary, secondary},
		PrimaryIndex: 0,
		Cooldown:     time.Minute,
		Policy:       failover.PriorityPolicy{},
		NewClient: func(r *failover.Region) (failover.Client, error) {
			if r == primary {
				return &failoverClient{name: r.Name, fail: primaryFails}, nil
			}
			return &failoverClient{name: r.Name, fail: false}, nil
		},
	})
	if err != nil {
		t.Fatalf("failover.New: %v", err)
	}

	store, err := bookmark.Open(t.TempDir())
	if err != nil {
		t.Fatalf("bookmark.Open: %v", err)
	}
	hub := metrics.NewHub()
	th := throttle.New(nil, throttle.DefaultOptions())
	driver := &failoverDriver{ctrl: ctrl}

	rt := sink.New[string](driver, th, hub, store, sink.Options{
		Batcher:     batcher.Options{MaxCount: 1, MaxBytes: 1 << 20, MaxAge: time.Hour},
		BufferMode:  buffer.HiLow,
		OverflowCap: 16,
		MaxAttempts: 5,
		SinkID:      "s1",
	})
	rt.Start()
	defer rt.Stop()

	rt.HandleEnvelope(envelope.Envelope{Timestamp: time.Now(), SourceID: "src", Payload: "payload-1"})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && len(driver.uploadedFrom()) == 0 {
		time.Sleep(10 * time.Millisecond)
	}

	got := driver.uploadedFrom()
	if len(got) != 1 || got[0] != "secondary" {
		t.Fatalf("expected exactly one delivery, from the secondary region, got %v", got)
	}
}
