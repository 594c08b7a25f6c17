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
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tombee/conduit/internal/httputil"
	"github.com/tombee/conduit/internal/spi"
)

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	// RequestsPerSecond is the number of requests allowed per second per
	// client.
	RequestsPerSecond float64

	// BurstSize is the maximum burst size (token bucket capacity).
	BurstSize int

	// Enabled controls whether rate limiting is active.
	Enabled bool
}

// tokenBucket implements a token bucket rate limiter.
type tokenBucket struct {
	tokens         float64
	maxTokens      float64
	refillRate     float64
	lastRefillTime time.Time
	mu             sync.Mutex
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	return &tokenBucket{
		tokens:         float64(burst),
		maxTokens:      float64(burst),
		refillRate:     rate,
		lastRefillTime: time.Now(),
	}
}

// allow checks if a request is allowed and consumes a token if so.
func (tb *tokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefillTime).Seconds()

	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}
	tb.lastRefillTime = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}

	return false
}

// RateLimiter provides per-client rate limiting. Clients are identified
// by their authenticated client id, falling back to remote address.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
	config  RateLimitConfig
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 20
	}

	return &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		config:  cfg,
	}
}

// Allow checks if a request from the given client is allowed.
func (rl *RateLimiter) Allow(clientID string) bool {
	if !rl.config.Enabled {
		return true
	}

	if clientID == "" {
		// Unauthenticated requests share one bucket.
		clientID = "_anonymous_"
	}

	rl.mu.RLock()
	bucket, exists := rl.buckets[clientID]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		bucket, exists = rl.buckets[clientID]
		if !exists {
			bucket = newTokenBucket(rl.config.RequestsPerSecond, rl.config.BurstSize)
			rl.buckets[clientID] = bucket
		}
		rl.mu.Unlock()
	}

	return bucket.allow()
}

// Cleanup removes buckets for clients that have been idle longer than
// maxAge. Prevents unbounded growth from one-time clients.
func (rl *RateLimiter) Cleanup(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for clientID, bucket := range rl.buckets {
		bucket.mu.Lock()
		age := now.Sub(bucket.lastRefillTime)
		bucket.mu.Unlock()

		if age > maxAge {
			delete(rl.buckets, clientID)
		}
	}
}

// Middleware wraps an http.Handler with rate limiting.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.config.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		clientID := clientFromContext(r.Context())
		if clientID == "" {
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				clientID = host
			} else {
				clientID = r.RemoteAddr
			}
		}

		if !rl.Allow(clientID) {
			w.Header().Set("Retry-After", "1")
			httputil.WriteTypedError(w, spi.NewTooManyRequests(int(rl.config.RequestsPerSecond)))
			return
		}

		next.ServeHTTP(w, r)
	})
}
