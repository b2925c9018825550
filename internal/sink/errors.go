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

import "errors"

// ErrorClass is the outcome of classifying a failed upload, per spec
// §4.8's error-classification table.
type ErrorClass int

const (
	// ClassNonRecoverable discards the batch and counts it as
	// "failed-nonrecoverable".
	ClassNonRecoverable ErrorClass = iota
	// ClassRecoverable pushes the batch to the buffer's overflow tier
	// (up to Options.MaxAttempts) and backs off the throttle.
	ClassRecoverable
)

// TransientError wraps a destination's generic transient failure.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return "sink: transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// ThrottlingError wraps a destination's "rate exceeded" response.
type ThrottlingError struct{ Err error }

func (e *ThrottlingError) Error() string { return "sink: throttled: " + e.Err.Error() }
func (e *ThrottlingError) Unwrap() error { return e.Err }

// ExpiredCredentialsError wraps a destination's expired-credential
// rejection.
type ExpiredCredentialsError struct{ Err error }

func (e *ExpiredCredentialsError) Error() string {
	return "sink: expired credentials: " + e.Err.Error()
}
func (e *ExpiredCredentialsError) Unwrap() error { return e.Err }

// NetworkTimeoutError wraps a transport-level timeout.
type NetworkTimeoutError struct{ Err error }

func (e *NetworkTimeoutError) Error() string { return "sink: network timeout: " + e.Err.Error() }
func (e *NetworkTimeoutError) Unwrap() error { return e.Err }

// ValidationError wraps a destination's rejection of malformed input.
type ValidationError struct{ Err error }

func (e *ValidationError) Error() string { return "sink: validation: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// PermissionDeniedError wraps a destination's authorization rejection.
type PermissionDeniedError struct{ Err error }

func (e *PermissionDeniedError) Error() string { return "sink: permission denied: " + e.Err.Error() }
func (e *PermissionDeniedError) Unwrap() error { return e.Err }

// SentinelRefetchToken is the non-token string a destination may return
// in place of a usable sequence token, signaling that the token must be
// fetched fresh rather than reused in place.
const SentinelRefetchToken = "__REFETCH_TOKEN__"

// SequenceTokenError is returned by a Driver's Upload when the
// destination rejects a batch because the caller's sequence token is
// stale, carrying the token the destination expects next. Runtime
// retries in place with ExpectedToken (refetching first if it equals
// SentinelRefetchToken) before falling back to ordinary classification.
type SequenceTokenError struct {
	ExpectedToken string
	Err           error
}

func (e *SequenceTokenError) Error() string {
	return "sink: sequence token mismatch: " + e.Err.Error()
}
func (e *SequenceTokenError) Unwrap() error { return e.Err }

// DefaultClassify implements the rule-ordered dispatch described in
// spec §4.8: known transient conditions are recoverable, known
// rejections are non-recoverable, and anything unrecognized defaults to
// non-recoverable rather than retrying forever.
func DefaultClassify(err error) ErrorClass {
	if err == nil {
		return ClassNonRecoverable
	}
	var seq *SequenceTokenError
	if errors.As(err, &seq) {
		return ClassRecoverable
	}
	var tr *TransientError
	if errors.As(err, &tr) {
		return ClassRecoverable
	}
	var th *ThrottlingError
	if errors.As(err, &th) {
		return ClassRecoverable
	}
	var xc *ExpiredCredentialsError
	if errors.As(err, &xc) {
		return ClassRecoverable
	}
	var nt *NetworkTimeoutError
	if errors.As(err, &nt) {
		return ClassRecoverable
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ClassNonRecoverable
	}
	var pd *PermissionDeniedError
	if errors.As(err, &pd) {
		return ClassNonRecoverable
	}
	return ClassNonRecoverable
}
