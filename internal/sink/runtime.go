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

package sink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"eventpipe/internal/batcher"
	"eventpipe/internal/bookmark"
	"eventpipe/internal/buffer"
	"eventpipe/internal/envelope"
	"eventpipe/internal/metrics"
	"eventpipe/internal/obs"
	"eventpipe/internal/throttle"
)

// jsonCodec is the buffer.Codec used for a Runtime's overflow tier. It
// round-trips via encoding/json; no example in the corpus offers a
// generic binary codec for an arbitrary record type, so this is the one
// deliberate stdlib-only concern in this package (see DESIGN.md).
type jsonCodec[T any] struct{}

func (jsonCodec[T]) Marshal(v batch[T]) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec[T]) Unmarshal(b []byte) (batch[T], error) {
	var v batch[T]
	err := json.Unmarshal(b, &v)
	return v, err
}

// Runtime is the sink runtime described by spec §4.8: it converts
// Envelopes to a destination's record type, batches them, buffers
// flushed batches, and drives a single uploader goroutine that paces
// itself against a Throttle and retries per the error-classification
// rules.
type Runtime[T any] struct {
	driver Driver[T]
	opts   Options

	hub   *metrics.Hub
	store *bookmark.Store

	throttle *throttle.Throttle
	batcher  *batcher.Batcher[item[T]]
	buffer   *buffer.Buffer[batch[T]]

	currentTokenMu sync.Mutex
	currentToken   string

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Runtime. hub and store may be shared across sinks;
// each Runtime labels its own metrics with opts.SinkID.
func New[T any](driver Driver[T], th *throttle.Throttle, hub *metrics.Hub, store *bookmark.Store, opts Options) *Runtime[T] {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.OverflowCap <= 0 {
		opts.OverflowCap = 10000
	}
	if opts.BufferPrimaryCap <= 0 {
		opts.BufferPrimaryCap = 64
	}

	r := &Runtime[T]{
		driver:   driver,
		opts:     opts,
		hub:      hub,
		store:    store,
		throttle: th,
		buffer: buffer.New[batch[T]](
			opts.BufferMode,
			opts.BufferPrimaryCap,
			buffer.NewMemOverflow(opts.OverflowCap),
			jsonCodec[T]{},
		),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	r.batcher = batcher.New[item[T]](opts.Batcher, r.itemSize, r.onBatchFlush)
	return r
}

// Start launches the batcher's age-timer and the uploader goroutine.
func (r *Runtime[T]) Start() {
	r.batcher.Start()
	go r.uploadLoop()
}

// Stop flushes any batch still accumulating, closes the buffer so the
// uploader goroutine exits once it drains, and waits for it to finish.
func (r *Runtime[T]) Stop() {
	r.batcher.Stop()
	r.buffer.Close()
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

// regionAware is implemented by Drivers (CloudLogsSink among them) that
// track a failover.Controller's currently selected region.
type regionAware interface {
	CurrentRegion() (string, bool)
}

// CurrentRegion reports the driver's currently selected failover
// region, if the concrete Driver tracks one. It backs the "agent
// status" surface's per-sink region field.
func (r *Runtime[T]) CurrentRegion() (string, bool) {
	if ra, ok := r.driver.(regionAware); ok {
		return ra.CurrentRegion()
	}
	return "", false
}

// HandleEnvelope converts env to the destination's record type and adds
// it to the batcher. A Convert error, or a record that exceeds the
// destination's size limit, discards just this one record.
func (r *Runtime[T]) HandleEnvelope(env envelope.Envelope) {
	rec, err := r.driver.Convert(env)
	if err != nil {
		obs.Warn("sink", "%s/%s: discarding record: convert: %v", r.opts.SourceID, r.opts.SinkID, err)
		r.count("records_failed_nonrecoverable", 1)
		return
	}
	if r.opts.MaxRecordBytes > 0 {
		size := r.driver.RecordSize(rec) + r.opts.PerRecordOverhead
		if size > r.opts.MaxRecordBytes {
			obs.Warn("sink", "%s/%s: rejecting oversized record (%d bytes)", r.opts.SourceID, r.opts.SinkID, size)
			r.count("records_failed_nonrecoverable", 1)
			return
		}
	}
	r.batcher.Add(item[T]{Rec: rec, Env: env})
}

func (r *Runtime[T]) itemSize(it item[T]) int64 {
	return r.driver.RecordSize(it.Rec) + r.opts.PerRecordOverhead
}

// onBatchFlush is the batcher's FlushFunc: it hands the flushed batch to
// the buffer, per spec §4.8's "per batch flush: handed to the buffer".
func (r *Runtime[T]) onBatchFlush(items []item[T], _ batcher.Reason) {
	b := batch[T]{Items: items, FlushedAt: time.Now()}
	if err := r.buffer.Add(context.Background(), b); err != nil {
		obs.Warn("sink", "%s/%s: dropping batch: buffer closed", r.opts.SourceID, r.opts.SinkID)
	}
}

// uploadLoop is the single uploader goroutine: it drains the buffer,
// computes a throttle delay, sleeps, and issues one remote call per
// batch.
func (r *Runtime[T]) uploadLoop() {
	defer close(r.doneCh)
	ctx := context.Background()
	for {
		b, err := r.buffer.GetNext(ctx)
		if err != nil {
			if errors.Is(err, buffer.ErrClosed) {
				return
			}
			return
		}
		r.uploadBatch(ctx, b)
	}
}

func (r *Runtime[T]) uploadBatch(ctx context.Context, b batch[T]) {
	delay := r.throttle.GetDelay([]float64{float64(len(b.Items))})
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.stopCh:
		}
	}

	records := make([]T, len(b.Items))
	for i, it := range b.Items {
		records[i] = it.Rec
	}

	start := time.Now()
	result, err := r.driveUpload(ctx, b.Token, records)
	latency := time.Since(start)
	clientLatency := time.Since(b.FlushedAt)

	r.emitBatchMetrics(b, result, err, latency, clientLatency)

	if err == nil {
		r.throttle.SetSuccess()
		r.updateBookmarks(b)
		return
	}

	class := r.driver.Classify(err)
	if class != ClassRecoverable {
		obs.Error("sink", "%s/%s: non-recoverable batch failure: %v", r.opts.SourceID, r.opts.SinkID, err)
		r.count("records_failed_nonrecoverable", float64(len(b.Items)))
		return
	}

	r.throttle.SetError()
	b.Attempts++
	if b.Attempts >= r.opts.MaxAttempts {
		obs.Error("sink", "%s/%s: dropping batch after %d recoverable failures: %v", r.opts.SourceID, r.opts.SinkID, b.Attempts, err)
		r.count("records_failed_recoverable", float64(len(b.Items)))
		return
	}
	if ok, _ := r.buffer.EnqueueLowPriority(b); !ok {
		obs.Error("sink", "%s/%s: dropping batch: overflow full", r.opts.SourceID, r.opts.SinkID)
		r.count("records_failed_recoverable", float64(len(b.Items)))
	}
}

// driveUpload issues the destination call, handling the sequence-token
// special case: up to two immediate in-place retries using the
// destination's returned expected token, refetching first if that token
// is the refetch sentinel.
func (r *Runtime[T]) driveUpload(ctx context.Context, token string, records []T) (UploadResult, error) {
	if token == "" {
		token = r.getToken()
	}
	result, err := r.driver.Upload(ctx, records, token)
	var seq *SequenceTokenError
	for retries := 0; retries < 2 && errors.As(err, &seq); retries++ {
		next := seq.ExpectedToken
		if next == SentinelRefetchToken {
			fetched, fetchErr := r.driver.FetchToken(ctx)
			if fetchErr != nil {
				return result, fetchErr
			}
			next = fetched
		}
		result, err = r.driver.Upload(ctx, records, next)
	}
	if err == nil {
		r.setToken(result.NextSequenceToken)
	}
	return result, err
}

func (r *Runtime[T]) getToken() string {
	r.currentTokenMu.Lock()
	defer r.currentTokenMu.Unlock()
	return r.currentToken
}

func (r *Runtime[T]) setToken(tok string) {
	if tok == "" {
		return
	}
	r.currentTokenMu.Lock()
	r.currentToken = tok
	r.currentTokenMu.Unlock()
}

// updateBookmarks advances the bookmark store for every item whose
// Envelope carries a Position, then persists each affected source in
// one atomic write, per spec §4.8.
func (r *Runtime[T]) updateBookmarks(b batch[T]) {
	if r.store == nil {
		return
	}
	touched := make(map[string]bool)
	for _, it := range b.Items {
		env := it.Env
		if env.Position == nil || env.Bookmark == nil {
			continue
		}
		r.store.Update(*env.Bookmark, env.Position.ByteOffset, env.Position.LineNumber)
		touched[env.Bookmark.SourceID] = true
	}
	for sourceID := range touched {
		if err := r.store.Persist(sourceID); err != nil {
			obs.Error("sink", "%s/%s: persist bookmark for %s: %v", r.opts.SourceID, r.opts.SinkID, sourceID, err)
		}
	}
}

func (r *Runtime[T]) emitBatchMetrics(b batch[T], result UploadResult, err error, latency, clientLatency time.Duration) {
	var bytesAttempted int64
	for _, it := range b.Items {
		bytesAttempted += r.driver.RecordSize(it.Rec) + r.opts.PerRecordOverhead
	}
	r.count("bytes_attempted", float64(bytesAttempted))
	r.count("records_attempted", float64(len(b.Items)))

	if err == nil {
		r.count("records_success", float64(result.RecordsAccepted))
	} else if r.driver.Classify(err) == ClassRecoverable {
		r.count("recoverable_service_errors", 1)
	} else {
		r.count("nonrecoverable_service_errors", 1)
	}

	r.set("latency_ms", float64(latency.Milliseconds()))
	r.set("client_latency_ms", float64(clientLatency.Milliseconds()))
}

func (r *Runtime[T]) count(counter string, delta float64) {
	if r.hub == nil {
		return
	}
	r.hub.Add(metrics.Key{Category: "sink", ID: r.opts.SinkID, Counter: counter}, delta)
}

func (r *Runtime[T]) set(counter string, value float64) {
	if r.hub == nil {
		return
	}
	r.hub.Set(metrics.Key{Category: "sink", ID: r.opts.SinkID, Counter: counter}, value)
}
