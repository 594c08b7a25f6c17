// Copyright 2025 Tom Barlow
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

package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestDispatchMiddleware_Success(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})

	mw := NewDispatchMiddleware(logger)
	req := &DispatchRequest{
		Transport:   "websocket",
		Operation:   "schema",
		ConnectorID: "alpha",
		RequestID:   "r1",
	}

	called := false
	err := mw.Handler(req, func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler was not invoked")
	}

	output := buf.String()
	if !strings.Contains(output, "operation received") {
		t.Errorf("expected request log, got: %s", output)
	}
	if !strings.Contains(output, "operation completed") {
		t.Errorf("expected completion log, got: %s", output)
	}
	if !strings.Contains(output, `"request_id":"r1"`) {
		t.Errorf("expected request_id field, got: %s", output)
	}
}

func TestDispatchMiddleware_Failure(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	mw := NewDispatchMiddleware(logger)
	req := &DispatchRequest{
		Transport:   "http",
		Operation:   "update",
		ConnectorID: "beta",
	}

	wantErr := errors.New("backend unavailable")
	err := mw.Handler(req, func() error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected handler error returned, got: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "operation failed") {
		t.Errorf("expected failure log, got: %s", output)
	}
	if !strings.Contains(output, "backend unavailable") {
		t.Errorf("expected error message in log, got: %s", output)
	}
}

func TestLogDispatchResult_DurationRecorded(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	req := &DispatchRequest{Transport: "websocket", Operation: "get", ConnectorID: "alpha"}
	LogDispatchResult(logger, req, &DispatchResult{Success: true, DurationMs: 42})

	if !strings.Contains(buf.String(), `"duration_ms":42`) {
		t.Errorf("expected duration_ms field, got: %s", buf.String())
	}
}
