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
	"errors"
	"fmt"

	"eventpipe/internal/envelope"
	"eventpipe/internal/failover"
)

// CloudLogRecord is the wire record CloudLogsSink uploads: a timestamped
// message plus whatever decorator variables the pipe graph attached.
type CloudLogRecord struct {
	TimestampMillis int64             `json:"timestamp"`
	Message         string            `json:"message"`
	Vars            map[string]string `json:"vars,omitempty"`
}

// CloudLogsTransport is the network seam a CloudLogsSink drives. A real
// implementation wraps a cloud SDK client; tests substitute a fake.
type CloudLogsTransport interface {
	// PutLogEvents uploads records under (groupName, streamName) using
	// token as the expected current sequence token (empty on first
	// call). It returns the next sequence token on success, or a
	// *SequenceTokenError if token was stale.
	PutLogEvents(ctx context.Context, groupName, streamName, token string, records []CloudLogRecord) (nextToken string, err error)

	// DescribeSequenceToken re-fetches the stream's current expected
	// token, used for FetchToken's refetch path.
	DescribeSequenceToken(ctx context.Context, groupName, streamName string) (string, error)
}

// CloudLogsClient is the per-region failover.Client a CloudLogsSink
// drives when Controller is set: besides the health probe every
// failover.Client provides, a region's client must also serve log
// events, since FailOverToSecondary hands the sink a different
// region's client to keep uploading through.
type CloudLogsClient interface {
	failover.Client
	CloudLogsTransport
}

// CloudLogsSink is a Driver[CloudLogRecord] grounded on a
// CloudWatch-Logs-style destination: fixed-size groups/streams
// addressed by name, accepting a sequence token per PutLogEvents call.
//
// Exactly one of Transport or Controller is normally set: Transport for
// a single, non-failing-over destination; Controller when the sink
// should fail over across regions per spec §4.8/§4.9 on a recoverable
// upload error.
type CloudLogsSink struct {
	GroupName  string
	StreamName string
	Transport  CloudLogsTransport
	// Controller, when non-nil, selects which region's client serves
	// Upload/FetchToken. A recoverable Upload error calls
	// Controller.FailOverToSecondary() before returning, so the next
	// requeued attempt goes through whatever region the controller
	// picked.
	Controller *failover.Controller
	// MaxPayloadBytes holds the configured payload limit. CloudLogsSink
	// does not check records or batches against it; the per-record
	// bound is the runtime's Options.MaxRecordBytes (CloudWatch Logs'
	// own limit is 256KB per event).
	MaxPayloadBytes int64
}

// currentTransport resolves the CloudLogsTransport to drive: the
// controller's currently selected region's client when failover is
// configured, otherwise the fixed Transport.
func (s *CloudLogsSink) currentTransport() (CloudLogsTransport, error) {
	if s.Controller == nil {
		return s.Transport, nil
	}
	client, region, err := s.Controller.Current()
	if err != nil {
		return nil, err
	}
	ct, ok := client.(CloudLogsClient)
	if !ok {
		return nil, fmt.Errorf("cloudlogs: region %s client does not implement CloudLogsClient", region.Name)
	}
	return ct, nil
}

// CurrentRegion reports the controller's currently selected region
// name, backing the "agent status" surface's per-sink region field. The
// second return is false when no failover.Controller is configured.
func (s *CloudLogsSink) CurrentRegion() (string, bool) {
	if s.Controller == nil {
		return "", false
	}
	_, region, err := s.Controller.Current()
	if err != nil {
		return "", false
	}
	return region.Name, true
}

// Convert maps an Envelope's text payload to a CloudLogRecord, carrying
// forward any decorator variables a pipe attached.
func (s *CloudLogsSink) Convert(env envelope.Envelope) (CloudLogRecord, error) {
	text, ok := env.Text()
	if !ok {
		return CloudLogRecord{}, fmt.Errorf("cloudlogs: envelope payload is not text")
	}
	return CloudLogRecord{
		TimestampMillis: env.Timestamp.UnixMilli(),
		Message:         text,
		Vars:            env.Vars,
	}, nil
}

// RecordSize approximates the destination's accounting: message bytes
// plus a small constant for the timestamp field.
func (s *CloudLogsSink) RecordSize(rec CloudLogRecord) int64 {
	return int64(len(rec.Message)) + 26
}

// Upload issues one PutLogEvents call against the currently selected
// region (or the fixed Transport, without failover). A recoverable
// failure other than a stale sequence token fails the controller over
// to another region before returning, per spec §4.8/§4.9: the runtime's
// own recoverable-retry path then requeues the batch, and its next
// attempt picks up whichever region the controller selected.
func (s *CloudLogsSink) Upload(ctx context.Context, batch []CloudLogRecord, token string) (UploadResult, error) {
	transport, err := s.currentTransport()
	if err != nil {
		return UploadResult{}, &TransientError{Err: err}
	}
	next, err := transport.PutLogEvents(ctx, s.GroupName, s.StreamName, token, batch)
	if err != nil {
		s.failOverIfAppropriate(err)
		return UploadResult{}, err
	}
	return UploadResult{RecordsAccepted: len(batch), NextSequenceToken: next}, nil
}

// failOverIfAppropriate trips the controller's failover on a
// recoverable destination error. A SequenceTokenError is excluded: it
// is resolved in place by the runtime's own same-region retry (using
// the token the destination returned), not by moving regions.
func (s *CloudLogsSink) failOverIfAppropriate(err error) {
	if s.Controller == nil {
		return
	}
	var seq *SequenceTokenError
	if errors.As(err, &seq) {
		return
	}
	if DefaultClassify(err) != ClassRecoverable {
		return
	}
	s.Controller.FailOverToSecondary()
}

// FetchToken re-fetches the current region's expected token.
func (s *CloudLogsSink) FetchToken(ctx context.Context) (string, error) {
	transport, err := s.currentTransport()
	if err != nil {
		return "", err
	}
	return transport.DescribeSequenceToken(ctx, s.GroupName, s.StreamName)
}

// Classify delegates to DefaultClassify; CloudLogsSink has no
// destination-specific exceptions to the standard taxonomy.
func (s *CloudLogsSink) Classify(err error) ErrorClass {
	return DefaultClassify(err)
}
