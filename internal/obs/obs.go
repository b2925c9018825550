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

// Package obs provides the small leveled-logging surface used across the
// agent. It intentionally mirrors a plain fmt.Printf-style logger rather
// than pulling in a structured logging library: every message is a single
// line of the form "<RFC3339 time> LEVEL component: message".
package obs

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var (
	mu  sync.Mutex
	out io.Writer = os.Stderr
)

// SetOutput redirects all log output. Intended for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

func write(level, component, format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(out, "%s %-5s %s: %s\n", time.Now().Format(time.RFC3339), level, component, msg)
}

// Info logs an informational line.
func Info(component, format string, args ...interface{}) { write("INFO", component, format, args...) }

// Warn logs a warning line.
func Warn(component, format string, args ...interface{}) { write("WARN", component, format, args...) }

// Error logs an error line at level ERROR, in the same line format as Info and Warn.
func Error(component, format string, args ...interface{}) {
	write("ERROR", component, format, args...)
}
