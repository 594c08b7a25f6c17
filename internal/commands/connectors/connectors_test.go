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

package connectors

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tombee/conduit/internal/commands/shared"
)

func execute(t *testing.T, serverURL string, args ...string) (string, error) {
	t.Helper()
	t.Setenv(shared.EnvServerURL, serverURL)

	cmd := NewConnectorsCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestListConnectors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/connectors" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"connectors":[
			{"id":"hr","type":"sqldir","version":"1.0.0","capabilities":["test","get","search"]}
		]}`))
	}))
	defer srv.Close()

	out, err := execute(t, srv.URL)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, want := range []string{"hr", "sqldir@1.0.0", "search"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}
}

func TestShowConnectorDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/connectors/hr" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"id":"hr","type":"sqldir","version":"1.0.0","capabilities":["test"],"breaker":"closed"}`))
	}))
	defer srv.Close()

	out, err := execute(t, srv.URL, "hr")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "closed") {
		t.Errorf("output missing breaker state: %q", out)
	}
}

func TestListDaemonDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	srv.Close()

	if _, err := execute(t, srv.URL); err == nil {
		t.Error("unreachable daemon should fail")
	}
}
