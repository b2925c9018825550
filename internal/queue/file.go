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

package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"eventpipe/internal/obs"
)

// formatTag is written as the first byte of every on-disk item so the
// on-disk layout can evolve without breaking existing queues (spec §9).
const formatTag byte = 1

const indexFileName = "index"
const lockFileName = ".lock"
const itemWidth = 8 // zero-padded decimal digits in an item filename

// FileBackend is a single-writer, single-reader file-backed FIFO. Items
// are named by zero-padded sequence number; "index" holds "<head> <tail>"
// as two decimal integers. Enqueue writes the item file then rewrites
// the index; Dequeue removes the item file then rewrites the index.
type FileBackend struct {
	dir      string
	maxItems int

	mu       sync.Mutex
	head     int64
	tail     int64
	lockFile *os.File
}

// OpenFileBackend opens (or creates) a queue directory. It takes an
// exclusive lock file for the life of the process (spec §5: "Persistent
// queue directory: single session owner; enforced by lock file on
// start") and reconstructs head/tail from the index, or by scanning the
// directory if the index is missing or malformed.
func OpenFileBackend(dir string, maxItems int) (*FileBackend, error) {
	if maxItems <= 0 {
		return nil, fmt.Errorf("queue: maxItems must be positive")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("queue: mkdir: %w", err)
	}

	lockFile, err := acquireLock(dir)
	if err != nil {
		return nil, err
	}

	fb := &FileBackend{dir: dir, maxItems: maxItems, lockFile: lockFile}
	head, tail, err := fb.readIndex()
	if err != nil {
		head, tail = fb.rebuildIndex()
		obs.Warn("queue", "rebuilt index for %s: head=%d tail=%d (reason: %v)", dir, head, tail, err)
		if err := fb.writeIndex(head, tail); err != nil {
			lockFile.Close()
			return nil, err
		}
	}
	fb.head, fb.tail = head, tail
	return fb, nil
}

func acquireLock(dir string) (*os.File, error) {
	path := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("queue: directory %s is already owned by another process (lock file present)", dir)
		}
		return nil, fmt.Errorf("queue: acquire lock: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return f, nil
}

func (fb *FileBackend) itemPath(seq int64) string {
	return filepath.Join(fb.dir, fmt.Sprintf("%0*d", itemWidth, seq))
}

func (fb *FileBackend) readIndex() (head, tail int64, err error) {
	data, err := os.ReadFile(filepath.Join(fb.dir, indexFileName))
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("queue: malformed index (want 2 fields, got %d)", len(fields))
	}
	head, err1 := strconv.ParseInt(fields[0], 10, 64)
	tail, err2 := strconv.ParseInt(fields[1], 10, 64)
	if err1 != nil || err2 != nil || head > tail {
		return 0, 0, fmt.Errorf("queue: malformed index values %q", string(data))
	}
	return head, tail, nil
}

func (fb *FileBackend) writeIndex(head, tail int64) error {
	tmp := filepath.Join(fb.dir, indexFileName+".tmp")
	final := filepath.Join(fb.dir, indexFileName)
	if err := os.WriteFile(tmp, []byte(fmt.Sprintf("%d %d", head, tail)), 0o644); err != nil {
		return fmt.Errorf("queue: write index: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("queue: rename index: %w", err)
	}
	return nil
}

// rebuildIndex scans the directory for numerically named item files and
// reconstructs head = smallest name, tail = largest *consecutive* name +
// 1. A gap after the first missing number stops the scan; files beyond
// the gap are orphaned and left on disk, never replayed — the explicit
// policy decision from spec §9's open question.
func (fb *FileBackend) rebuildIndex() (head, tail int64) {
	entries, err := os.ReadDir(fb.dir)
	if err != nil {
		return 0, 0
	}
	var seqs []int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if name == indexFileName || name == indexFileName+".tmp" || name == lockFileName {
			continue
		}
		n, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}
		seqs = append(seqs, n)
	}
	if len(seqs) == 0 {
		return 0, 0
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	head = seqs[0]
	tail = head
	for _, n := range seqs {
		if n != tail {
			break // gap: stop at the first non-consecutive sequence
		}
		tail++
	}
	return head, tail
}

// Enqueue appends item, returning ErrFull if the queue is at maxItems.
func (fb *FileBackend) Enqueue(item []byte) error {
	ok, err := fb.TryEnqueue(item)
	if err != nil {
		return err
	}
	if !ok {
		return ErrFull
	}
	return nil
}

// TryEnqueue appends item unless the queue is full.
func (fb *FileBackend) TryEnqueue(item []byte) (bool, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if int(fb.tail-fb.head) >= fb.maxItems {
		return false, nil
	}

	payload := make([]byte, 1+len(item))
	payload[0] = formatTag
	copy(payload[1:], item)

	if err := os.WriteFile(fb.itemPath(fb.tail), payload, 0o644); err != nil {
		return false, fmt.Errorf("queue: write item: %w", err)
	}
	newTail := fb.tail + 1
	if err := fb.writeIndex(fb.head, newTail); err != nil {
		return false, err
	}
	fb.tail = newTail
	return true, nil
}

// Dequeue removes and returns the oldest item.
func (fb *FileBackend) Dequeue() ([]byte, bool, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.head >= fb.tail {
		return nil, false, nil
	}
	path := fb.itemPath(fb.head)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("queue: read item: %w", err)
	}
	if len(raw) < 1 {
		return nil, false, fmt.Errorf("queue: empty item file at %s", path)
	}
	item := raw[1:] // strip the format tag; only one version exists today

	if err := os.Remove(path); err != nil {
		return nil, false, fmt.Errorf("queue: remove item: %w", err)
	}
	newHead := fb.head + 1
	if err := fb.writeIndex(newHead, fb.tail); err != nil {
		return nil, false, err
	}
	fb.head = newHead
	return item, true, nil
}

// Len reports the current item count.
func (fb *FileBackend) Len() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return int(fb.tail - fb.head)
}

// Close releases the directory lock file.
func (fb *FileBackend) Close() error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.lockFile == nil {
		return nil
	}
	path := fb.lockFile.Name()
	err := fb.lockFile.Close()
	os.Remove(path)
	fb.lockFile = nil
	return err
}
