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

// Package sink implements the batching sink runtime (C8): it composes
// the throttle (C1), two-tier buffer (C4), batcher (C5), and metrics hub
// (C10) into a single pipeline from converted records to a destination's
// wire call, with the error-classification and retry rules of spec
// §4.8.
package sink

import (
	"context"
	"time"

	"eventpipe/internal/batcher"
	"eventpipe/internal/buffer"
	"eventpipe/internal/envelope"
)

// UploadResult is what a Driver reports back after a successful Upload.
type UploadResult struct {
	// RecordsAccepted is normally len(batch) but may be less if the
	// destination partially accepted a batch.
	RecordsAccepted int
	// NextSequenceToken is the token to present on the destination's
	// next call, for sequence-token destinations. Empty if unused.
	NextSequenceToken string
}

// Driver adapts the sink runtime to one concrete destination. T is the
// destination's wire record type.
type Driver[T any] interface {
	// Convert maps an Envelope to the destination's record type. An
	// error discards just that one record.
	Convert(env envelope.Envelope) (T, error)

	// RecordSize returns the wire size of rec, excluding destination
	// overhead (Options.PerRecordOverhead is added by the runtime).
	RecordSize(rec T) int64

	// Upload issues one remote call carrying the whole batch using the
	// given sequence token (empty if the destination is tokenless).
	Upload(ctx context.Context, batch []T, token string) (UploadResult, error)

	// FetchToken re-fetches the destination's current expected token,
	// used when Upload returns a SequenceTokenError whose
	// ExpectedToken is SentinelRefetchToken.
	FetchToken(ctx context.Context) (string, error)

	// Classify maps an Upload error to a recoverable/non-recoverable
	// class. Drivers without destination-specific rules can delegate
	// to DefaultClassify.
	Classify(err error) ErrorClass
}

// Options configures a Runtime.
type Options struct {
	// Batcher configures the count/bytes/age batching policy applied
	// to converted records before they become a batch.
	Batcher batcher.Options

	// BufferMode selects the two-tier buffer's producer behavior.
	BufferMode buffer.Mode
	// BufferPrimaryCap bounds the buffer's primary tier.
	BufferPrimaryCap int
	// OverflowCap bounds the runtime's overflow tier, which is always
	// an in-memory buffer.NewMemOverflow.
	OverflowCap int

	// MaxRecordBytes rejects, as non-recoverable, any single record
	// whose RecordSize plus PerRecordOverhead exceeds this bound. Zero
	// disables the check.
	MaxRecordBytes int64
	// PerRecordOverhead is a destination-specific constant added to
	// every record's wire size before the MaxRecordBytes check.
	PerRecordOverhead int64

	// MaxAttempts bounds consecutive recoverable-failure retries for a
	// single batch before it is dropped as
	// "failed-recoverable-exhausted".
	MaxAttempts int

	// SourceID/SinkID label this runtime's log lines; SinkID also
	// labels its metrics. Bookmark updates use each envelope's own
	// handle.
	SourceID string
	SinkID   string
}

// item is what the batcher accumulates: one converted record paired
// with the Envelope it came from, so a successful upload can update
// bookmarks and compute client latency. Fields are exported so the
// overflow tier's JSON codec can round-trip a batch through encoding/json.
type item[T any] struct {
	Rec T
	Env envelope.Envelope
}

// batch is what the buffer holds: a flushed group of items plus
// bookkeeping for retries.
type batch[T any] struct {
	Items     []item[T]
	FlushedAt time.Time
	Attempts  int
	Token     string
}
