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

package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		BurstSize:         2,
	})

	if !rl.Allow("client-a") {
		t.Fatal("first request should be allowed")
	}
	if !rl.Allow("client-a") {
		t.Fatal("second request within burst should be allowed")
	}
	if rl.Allow("client-a") {
		t.Fatal("third request should exceed the burst")
	}

	// Other clients have their own bucket.
	if !rl.Allow("client-b") {
		t.Fatal("fresh client should be allowed")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: false, RequestsPerSecond: 1, BurstSize: 1})
	for i := 0; i < 10; i++ {
		if !rl.Allow("anyone") {
			t.Fatal("disabled limiter must always allow")
		}
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 0.001,
		BurstSize:         1,
	})

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.RemoteAddr = "198.51.100.7:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: true, RequestsPerSecond: 10, BurstSize: 10})
	rl.Allow("old-client")

	rl.mu.Lock()
	rl.buckets["old-client"].lastRefillTime = time.Now().Add(-time.Hour)
	rl.mu.Unlock()

	rl.Cleanup(30 * time.Minute)

	rl.mu.RLock()
	_, exists := rl.buckets["old-client"]
	rl.mu.RUnlock()
	if exists {
		t.Error("idle bucket should have been removed")
	}
}
