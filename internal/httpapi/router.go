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

// Package httpapi binds the uniform operations to a JWT-authenticated
// HTTP surface over the connector facades.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/conduit/internal/audit"
	"github.com/tombee/conduit/internal/facade"
	"github.com/tombee/conduit/internal/log"
	"github.com/tombee/conduit/internal/registry"
)

// Config holds configuration for the API router.
type Config struct {
	Version   string
	Commit    string
	BuildDate string

	// AuthMode selects jwt or none. Empty defaults to jwt.
	AuthMode AuthMode

	// JWT settings, required unless AuthMode is none.
	JWT JWTConfig

	// RateLimit settings for the per-client limiter.
	RateLimit RateLimitConfig

	// Middleware wraps the whole API, outermost first. Used to inject
	// the tracing middleware without this package importing it.
	Middleware []func(http.Handler) http.Handler
}

// Router serves the HTTP API over a facade set.
type Router struct {
	mux      *http.ServeMux
	config   Config
	facades  *facade.Set
	registry *registry.Registry
	journal  *audit.Journal
	logger   *slog.Logger
	handler  http.Handler
}

// New builds the router and registers every route.
func New(cfg Config, reg *registry.Registry, facades *facade.Set, journal *audit.Journal, logger *slog.Logger) *Router {
	if cfg.AuthMode == "" {
		cfg.AuthMode = AuthModeJWT
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		mux:      http.NewServeMux(),
		config:   cfg,
		facades:  facades,
		registry: reg,
		journal:  journal,
		logger:   log.WithComponent(logger, "httpapi"),
	}
	r.routes()

	limiter := NewRateLimiter(cfg.RateLimit)
	middlewares := append([]func(http.Handler) http.Handler{}, cfg.Middleware...)
	middlewares = append(middlewares,
		requestLogging(r.logger),
		bearerAuth(cfg.AuthMode, cfg.JWT, r.logger),
		limiter.Middleware,
	)
	r.handler = chain(r.mux, middlewares...)

	return r
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func (r *Router) routes() {
	r.mux.HandleFunc("GET /v1/health", r.handleHealth)
	r.mux.HandleFunc("GET /v1/version", r.handleVersion)

	r.mux.HandleFunc("GET /v1/connectors", r.handleListConnectors)
	r.mux.HandleFunc("GET /v1/connectors/{id}", r.handleGetConnector)
	r.mux.HandleFunc("GET /v1/connectors/{id}/schema", r.handleSchema)
	r.mux.HandleFunc("POST /v1/connectors/{id}/test", r.handleTest)
	r.mux.HandleFunc("POST /v1/connectors/{id}/script", r.handleScript)

	r.mux.HandleFunc("POST /v1/connectors/{id}/objects/{objectClass}", r.handleCreate)
	r.mux.HandleFunc("GET /v1/connectors/{id}/objects/{objectClass}/{uid}", r.handleGet)
	r.mux.HandleFunc("PATCH /v1/connectors/{id}/objects/{objectClass}/{uid}", r.handleUpdate)
	r.mux.HandleFunc("DELETE /v1/connectors/{id}/objects/{objectClass}/{uid}", r.handleDelete)
	r.mux.HandleFunc("POST /v1/connectors/{id}/objects/{objectClass}/search", r.handleSearch)
	r.mux.HandleFunc("POST /v1/connectors/{id}/objects/{objectClass}/sync", r.handleSync)

	// Metrics share the common chain; scrapers carry tokens when auth
	// is on.
	r.mux.Handle("GET /metrics", promhttp.Handler())
}
