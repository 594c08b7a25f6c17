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

package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tombee/conduit/internal/spi"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"status": "ok"})

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestWriteTypedError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantName   string
	}{
		{"not found", spi.NewConnectorNotFound("x"), http.StatusNotFound, "ConnectorNotFound"},
		{"validation", spi.NewValidationError("bad"), http.StatusBadRequest, "ValidationFailed"},
		{"circuit open", spi.NewCircuitOpen(), http.StatusServiceUnavailable, "CircuitOpen"},
		{"too many", spi.NewTooManyRequests(5), http.StatusTooManyRequests, "TooManyRequests"},
		{"not supported", spi.NewNotSupported("sync"), http.StatusNotImplemented, "NotSupported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteTypedError(rec, tt.err)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal response: %v", err)
			}
			if body["name"] != tt.wantName {
				t.Errorf("name = %q, want %q", body["name"], tt.wantName)
			}
		})
	}
}

func TestReadJSON(t *testing.T) {
	type payload struct {
		Attrs map[string]any `json:"attrs"`
	}

	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"attrs":{"name":"A"}}`))
		var p payload
		if err := ReadJSON(req, &p); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		if p.Attrs["name"] != "A" {
			t.Errorf("attrs = %v", p.Attrs)
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bogus":1}`))
		var p payload
		err := ReadJSON(req, &p)
		if !spi.IsType(err, spi.ErrorTypeValidation) {
			t.Errorf("err = %v, want ValidationFailed", err)
		}
	})
}
