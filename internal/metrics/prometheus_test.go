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

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPromExporterMirrorsHubValues(t *testing.T) {
	h := NewHub()
	e := NewPromExporter(h)
	defer e.Close()

	h.Set(Key{Category: "sink", ID: "cloudlogs", Counter: "queue_depth"}, 7)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	e.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "eventpipe_queue_depth") {
		t.Fatalf("expected exported metric name in output, got:\n%s", body)
	}
	if !strings.Contains(body, `category="sink"`) || !strings.Contains(body, `id="cloudlogs"`) {
		t.Fatalf("expected category/id labels in output, got:\n%s", body)
	}
}

func TestPromExporterReplaysPriorValuesOnCreation(t *testing.T) {
	h := NewHub()
	h.Set(Key{Category: "source", ID: "app", Counter: "bytes_read"}, 42)

	e := NewPromExporter(h)
	defer e.Close()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	e.Handler().ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), "eventpipe_bytes_read") {
		t.Fatalf("expected replayed value to be exported")
	}
}
