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

// Package envelope defines the unit that flows through the pipe graph:
// sources emit Envelopes, pipes transform them, sinks consume them.
package envelope

import "time"

// FileIdentity is a stable OS-level handle for a file so that renames do
// not restart a tail. On POSIX this is (device, inode); on Windows it is
// the file index as reported by GetFileInformationByHandle.
type FileIdentity struct {
	Device uint64
	Inode  uint64
}

// RecordPosition locates an Envelope's origin within a followed file.
type RecordPosition struct {
	File       FileIdentity
	Path       string
	ByteOffset int64
	LineNumber int64
}

// BookmarkHandle is an opaque reference returned by a bookmark store's
// Register call; callers pass it back to Update without inspecting it.
type BookmarkHandle struct {
	SourceID string
	File     FileIdentity
}

// Envelope is the immutable unit carried from source to sink. Payload
// ownership transfers to whichever stage holds the Envelope; once a
// terminal sink acknowledges or drops it, the Envelope's lifetime ends.
type Envelope struct {
	Timestamp time.Time
	SourceID  string
	Payload   interface{}

	// Position is set when the Envelope originated from a followed file.
	Position *RecordPosition

	// Bookmark is set alongside Position so a sink can report read
	// progress back to the bookmark store after a successful upload.
	Bookmark *BookmarkHandle

	// Vars holds decorator-assigned local variables (e.g. extracted
	// regex named captures). Nil unless a pipe populated it.
	Vars map[string]string
}

// Text returns the Envelope's payload as a string when possible, used by
// pipes that match text (regex filters) against the record. Non-string
// payloads return false.
func (e Envelope) Text() (string, bool) {
	s, ok := e.Payload.(string)
	return s, ok
}

// WithVar returns a copy of the Envelope with the given decorator
// variable set. Envelopes are immutable after emission, so pipes that
// decorate must copy rather than mutate in place.
func (e Envelope) WithVar(key, value string) Envelope {
	out := e
	vars := make(map[string]string, len(e.Vars)+1)
	for k, v := range e.Vars {
		vars[k] = v
	}
	vars[key] = value
	out.Vars = vars
	return out
}
