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

package restdir

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tombee/conduit/internal/spi"
)

func newTestConnector(t *testing.T, handler http.Handler, mutate func(*Config)) *Connector {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &Config{
		BaseURL: server.URL,
		ObjectClasses: map[string]EndpointConfig{
			"user": {
				Path:        "/api/users",
				FilterAttrs: []string{"userName", "mail"},
			},
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	conn, err := Factory(context.Background(), spi.FactoryParams{Config: cfg})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn.(*Connector)
}

func TestGetMapsItem(t *testing.T) {
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users/u1" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": "u1", "userName": "ada", "mail": "ada@example.com",
		})
	}), nil)

	obj, err := c.Get(context.Background(), "user", "u1", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if obj.UID != "u1" || obj.Attributes["userName"] != "ada" {
		t.Fatalf("object = %+v", obj)
	}
	if _, ok := obj.Attributes["id"]; ok {
		t.Error("id field should become the UID, not an attribute")
	}

	missing, err := c.Get(context.Background(), "user", "nope", nil)
	if err != nil || missing != nil {
		t.Errorf("404 should map to (nil, nil), got %v, %v", missing, err)
	}
}

func TestGetAppliesTransform(t *testing.T) {
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"resource": map[string]any{"uid": "u9", "display": "Grace"},
		})
	}), func(cfg *Config) {
		ep := cfg.ObjectClasses["user"]
		ep.IDField = "uid"
		ep.Transform = `.resource`
		cfg.ObjectClasses["user"] = ep
	})

	obj, err := c.Get(context.Background(), "user", "u9", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if obj.UID != "u9" || obj.Attributes["display"] != "Grace" {
		t.Fatalf("object = %+v", obj)
	}
}

func TestSearchBuildsQueryString(t *testing.T) {
	var gotQuery string
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": "u1", "userName": "ada"},
			{"id": "u2", "userName": "adele"},
			{"id": "u3", "userName": "adrian"},
		})
	}), nil)

	page, err := c.Search(context.Background(), "user",
		spi.Cmp(spi.OpStartsWith, []string{"userName"}, "ad"),
		&spi.OperationOptions{PageSize: 2})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(page.Objects) != 2 || page.NextOffset != 2 {
		t.Fatalf("page = %d objects, nextOffset %d", len(page.Objects), page.NextOffset)
	}

	if !strings.Contains(gotQuery, "%24filter=") || !strings.Contains(gotQuery, "%24top=3") {
		t.Errorf("query = %q", gotQuery)
	}

	// Filtering on an unlisted attribute is rejected locally.
	if _, err := c.Search(context.Background(), "user",
		spi.Cmp(spi.OpEQ, []string{"secret"}, "x"), nil); err == nil {
		t.Error("unlisted filter attribute should fail")
	}
}

func TestSearchListTransform(t *testing.T) {
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"Resources": []map[string]any{{"id": "u1", "userName": "ada"}},
		})
	}), func(cfg *Config) {
		ep := cfg.ObjectClasses["user"]
		ep.ListTransform = `.Resources`
		cfg.ObjectClasses["user"] = ep
	})

	page, err := c.Search(context.Background(), "user", nil, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(page.Objects) != 1 || page.Objects[0].UID != "u1" {
		t.Fatalf("objects = %+v", page.Objects)
	}
}

func TestCreateAndDelete(t *testing.T) {
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			var attrs map[string]any
			json.NewDecoder(r.Body).Decode(&attrs)
			attrs["id"] = "u42"
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(attrs)
		case r.Method == http.MethodDelete && strings.HasSuffix(r.URL.Path, "/u42"):
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}), nil)

	obj, err := c.Create(context.Background(), "user", map[string]any{"userName": "linus"}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if obj.UID != "u42" {
		t.Errorf("uid = %q", obj.UID)
	}

	if err := c.Delete(context.Background(), "user", "u42", nil); err != nil {
		t.Fatalf("delete: %v", err)
	}

	err = c.Delete(context.Background(), "user", "missing", nil)
	if !spi.IsType(err, spi.ErrorTypeBackend) {
		t.Errorf("delete missing error = %v", err)
	}
}

func TestAuthHeaders(t *testing.T) {
	var gotAuth string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{"id": "u1"})
	})

	c := newTestConnector(t, handler, func(cfg *Config) {
		cfg.Auth = AuthConfig{Type: "bearer", Token: "sekrit"}
	})
	if _, err := c.Get(context.Background(), "user", "u1", nil); err != nil {
		t.Fatalf("get: %v", err)
	}
	if gotAuth != "Bearer sekrit" {
		t.Errorf("auth header = %q", gotAuth)
	}

	c = newTestConnector(t, handler, func(cfg *Config) {
		cfg.Auth = AuthConfig{Type: "basic", Username: "svc", Password: "pw"}
	})
	if _, err := c.Get(context.Background(), "user", "u1", nil); err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.HasPrefix(gotAuth, "Basic ") {
		t.Errorf("auth header = %q", gotAuth)
	}
}

func TestResponseSizeCap(t *testing.T) {
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"u1","blob":"` + strings.Repeat("x", 4096) + `"}`))
	}), func(cfg *Config) {
		cfg.MaxResponseBytes = 1024
	})

	_, err := c.Get(context.Background(), "user", "u1", nil)
	if !spi.IsType(err, spi.ErrorTypeBackend) {
		t.Errorf("oversized response error = %v", err)
	}
}
