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
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/conduit/internal/httputil"
	"github.com/tombee/conduit/internal/log"
)

// AuthMode selects how the API authenticates requests.
type AuthMode string

const (
	// AuthModeJWT requires a valid bearer token on every request.
	AuthModeJWT AuthMode = "jwt"

	// AuthModeNone disables authentication. Development only.
	AuthModeNone AuthMode = "none"
)

type clientKeyType struct{}

// clientFromContext returns the authenticated client id, or "".
func clientFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clientKeyType{}).(string)
	return id
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestLogging logs one line per request with method, path, status
// and duration, tagged with a generated request id.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := uuid.NewString()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			log.WithRequestID(logger, requestID).Info("http request",
				log.String("method", r.Method),
				log.String("path", r.URL.Path),
				log.Int("status", rec.status),
				log.Duration("duration", time.Since(start).Milliseconds()),
			)
		})
	}
}

// bearerAuth validates the Authorization header against the configured
// JWT settings and stashes the client id in the request context.
func bearerAuth(mode AuthMode, cfg JWTConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if mode == AuthModeNone {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				httputil.WriteError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims, err := ValidateJWT(token, cfg)
			if err != nil {
				logger.Warn("rejected bearer token", log.Error(err))
				httputil.WriteError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			clientID := claims.ClientID
			if clientID == "" {
				clientID = claims.Subject
			}
			ctx := context.WithValue(r.Context(), clientKeyType{}, clientID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// chain applies middlewares right to left, so the first listed runs
// outermost.
func chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
