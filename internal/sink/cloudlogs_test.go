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
	"testing"
	"time"

	"eventpipe/internal/envelope"
)

type fakeCloudLogsTransport struct {
	putFn      func(token string, records []CloudLogRecord) (string, error)
	describeFn func() (string, error)
}

func (f *fakeCloudLogsTransport) PutLogEvents(ctx context.Context, groupName, streamName, token string, records []CloudLogRecord) (string, error) {
	return f.putFn(token, records)
}

func (f *fakeCloudLogsTransport) DescribeSequenceToken(ctx context.Context, groupName, streamName string) (string, error) {
	return f.describeFn()
}

func TestCloudLogsSinkConvertRejectsNonTextPayload(t *testing.T) {
	s := &CloudLogsSink{GroupName: "g", StreamName: "s"}
	_, err := s.Convert(envelope.Envelope{Payload: 42})
	if err == nil {
		t.Fatalf("expected error for non-text payload")
	}
}

func TestCloudLogsSinkConvertCarriesVarsAndTimestamp(t *testing.T) {
	s := &CloudLogsSink{GroupName: "g", StreamName: "s"}
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	env := envelope.Envelope{Timestamp: ts, Payload: "line one"}
	env = env.WithVar("level", "error")

	rec, err := s.Convert(env)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if rec.Message != "line one" || rec.Vars["level"] != "error" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.TimestampMillis != ts.UnixMilli() {
		t.Fatalf("expected timestamp %d, got %d", ts.UnixMilli(), rec.TimestampMillis)
	}
}

func TestCloudLogsSinkUploadReturnsSequenceTokenErrorVerbatim(t *testing.T) {
	transport := &fakeCloudLogsTransport{
		putFn: func(token string, records []CloudLogRecord) (string, error) {
			return "", &SequenceTokenError{ExpectedToken: "abc", Err: fmt.Errorf("stale")}
		},
	}
	s := &CloudLogsSink{GroupName: "g", StreamName: "s", Transport: transport}
	_, err := s.Upload(context.Background(), []CloudLogRecord{{Message: "x"}}, "")

	if err == nil {
		t.Fatalf("expected error")
	}
	var seqErr *SequenceTokenError
	if !errors.As(err, &seqErr) || seqErr.ExpectedToken != "abc" {
		t.Fatalf("expected the transport's SequenceTokenError returned unchanged, got %v", err)
	}
	if s.Classify(err) != ClassRecoverable {
		t.Fatalf("expected sequence token error to classify recoverable")
	}
}

func TestCloudLogsSinkFetchTokenDelegatesToTransport(t *testing.T) {
	transport := &fakeCloudLogsTransport{
		describeFn: func() (string, error) { return "current-token", nil },
	}
	s := &CloudLogsSink{GroupName: "g", StreamName: "s", Transport: transport}

	tok, err := s.FetchToken(context.Background())
	if err != nil || tok != "current-token" {
		t.Fatalf("expected current-token, got %q err=%v", tok, err)
	}
}

func TestCloudLogsSinkClassifiesPermissionDeniedAsNonRecoverable(t *testing.T) {
	s := &CloudLogsSink{GroupName: "g", StreamName: "s"}
	err := &PermissionDeniedError{Err: fmt.Errorf("denied")}
	if s.Classify(err) != ClassNonRecoverable {
		t.Fatalf("expected permission-denied to classify non-recoverable")
	}
}
