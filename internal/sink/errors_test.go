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
	"fmt"
	"testing"
)

func TestDefaultClassifyRecoverableCases(t *testing.T) {
	cases := []error{
		&TransientError{Err: fmt.Errorf("x")},
		&ThrottlingError{Err: fmt.Errorf("x")},
		&ExpiredCredentialsError{Err: fmt.Errorf("x")},
		&NetworkTimeoutError{Err: fmt.Errorf("x")},
		&SequenceTokenError{ExpectedToken: "t", Err: fmt.Errorf("x")},
	}
	for _, err := range cases {
		if got := DefaultClassify(err); got != ClassRecoverable {
			t.Errorf("expected %T to classify recoverable, got %v", err, got)
		}
	}
}

func TestDefaultClassifyNonRecoverableCases(t *testing.T) {
	cases := []error{
		&ValidationError{Err: fmt.Errorf("x")},
		&PermissionDeniedError{Err: fmt.Errorf("x")},
		fmt.Errorf("some unrecognized wire error"),
	}
	for _, err := range cases {
		if got := DefaultClassify(err); got != ClassNonRecoverable {
			t.Errorf("expected %v to classify non-recoverable, got %v", err, got)
		}
	}
}
