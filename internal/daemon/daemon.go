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

// Package daemon composes the connector host: registry, catalog,
// loader, facades, HTTP API, optional session and audit journal, and
// their lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/tombee/conduit/internal/audit"
	"github.com/tombee/conduit/internal/breaker"
	"github.com/tombee/conduit/internal/cache"
	"github.com/tombee/conduit/internal/config"
	"github.com/tombee/conduit/internal/connector"
	"github.com/tombee/conduit/internal/facade"
	"github.com/tombee/conduit/internal/httpapi"
	"github.com/tombee/conduit/internal/loader"
	"github.com/tombee/conduit/internal/log"
	"github.com/tombee/conduit/internal/registry"
	"github.com/tombee/conduit/internal/secrets"
	"github.com/tombee/conduit/internal/session"
	"github.com/tombee/conduit/internal/tracing"
)

// Options carries build-time identification.
type Options struct {
	Version   string
	Commit    string
	BuildDate string
}

// Daemon is the composed conduitd host.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	secrets  *secrets.Resolver
	registry *registry.Registry
	facades  *facade.Set
	loader   *loader.Loader
	watcher  *loader.Watcher
	journal  *audit.Journal
	tracer   *tracing.Provider
	session  *session.Session

	server *http.Server
	ln     net.Listener

	mu      sync.Mutex
	started bool
}

// New builds the daemon from configuration. Nothing listens or
// connects until Start.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	logger := log.WithComponent(newLogger(cfg), "daemon")

	resolver := secrets.NewDefaultResolver()
	reg := registry.New(logger)

	shared := cache.New(cfg.Cache.Capacity, cfg.Cache.TTL)
	facades := facade.NewSet(reg, facade.Config{
		Breaker: &breaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
			HalfOpenAfter:    cfg.Breaker.HalfOpenAfter,
			MaxConcurrent:    cfg.Breaker.MaxConcurrent,
			Timeout:          cfg.Breaker.Timeout,
		},
		Cache:  shared,
		Logger: logger,
	})

	ldr, err := loader.New(loader.Config{
		Registry: reg,
		Catalog:  connector.NewCatalog(),
		Secrets:  resolver,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:      cfg,
		opts:     opts,
		logger:   logger,
		secrets:  resolver,
		registry: reg,
		facades:  facades,
		loader:   ldr,
	}

	if cfg.Audit.Path != "" {
		journal, err := audit.Open(audit.Config{
			Path:      cfg.Audit.Path,
			Retention: cfg.Audit.Retention,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open audit journal: %w", err)
		}
		d.journal = journal
	}
	return d, nil
}

// newLogger builds the process logger. File config provides the
// defaults; the log environment variables win when set.
func newLogger(cfg *config.Config) *slog.Logger {
	lcfg := log.DefaultConfig()
	if cfg.Log.Level != "" {
		lcfg.Level = cfg.Log.Level
	}
	if cfg.Log.Format != "" {
		lcfg.Format = log.Format(cfg.Log.Format)
	}
	lcfg.AddSource = cfg.Log.Source

	for _, name := range []string{"CONDUIT_DEBUG", "CONDUIT_LOG_LEVEL", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE"} {
		if os.Getenv(name) != "" {
			lcfg = log.FromEnv()
			break
		}
	}

	logger := log.New(lcfg)
	slog.SetDefault(logger)
	return logger
}

// Start brings the host up: tracing, connector load, HTTP listener,
// watcher and session. It returns once everything is running.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return errors.New("daemon already started")
	}

	if d.cfg.Tracing.Enabled {
		tracer, err := tracing.NewProvider(ctx, tracing.Config{
			Exporter:       d.cfg.Tracing.Exporter,
			Endpoint:       d.cfg.Tracing.Endpoint,
			Insecure:       d.cfg.Tracing.Insecure,
			SampleRate:     d.cfg.Tracing.SampleRate,
			ServiceVersion: d.opts.Version,
		})
		if err != nil {
			return fmt.Errorf("start tracing: %w", err)
		}
		d.tracer = tracer
	}

	if err := d.loadConnectors(ctx); err != nil {
		return err
	}
	if err := d.startServer(ctx); err != nil {
		return err
	}
	if err := d.startSession(ctx); err != nil {
		return err
	}

	d.started = true
	d.logger.Info("conduit host started",
		"version", d.opts.Version,
		"listen", d.ln.Addr().String(),
		"connectors", d.registry.Count(),
		"session", d.cfg.Session.Enabled)
	return nil
}

func (d *Daemon) loadConnectors(ctx context.Context) error {
	dir := d.cfg.Connectors.Dir
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		d.logger.Warn("connectors directory missing, starting empty", "dir", dir)
		return nil
	}

	if _, err := d.loader.LoadDir(ctx, dir); err != nil {
		return fmt.Errorf("load connectors: %w", err)
	}

	if d.cfg.Connectors.Watch {
		watcher, err := loader.NewWatcher(d.loader, dir, loader.WatcherConfig{})
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		d.watcher = watcher
	}
	return nil
}

func (d *Daemon) startServer(ctx context.Context) error {
	apiCfg := httpapi.Config{
		Version:   d.opts.Version,
		Commit:    d.opts.Commit,
		BuildDate: d.opts.BuildDate,
		AuthMode:  httpapi.AuthMode(d.cfg.Server.Auth),
		RateLimit: httpapi.RateLimitConfig{
			Enabled:           d.cfg.Server.RateLimit.Enabled,
			RequestsPerSecond: d.cfg.Server.RateLimit.RequestsPerSecond,
			BurstSize:         d.cfg.Server.RateLimit.BurstSize,
		},
	}
	if d.tracer != nil {
		apiCfg.Middleware = append(apiCfg.Middleware, d.tracer.Middleware)
	}

	if apiCfg.AuthMode == httpapi.AuthModeJWT {
		secret, err := d.secrets.Resolve(ctx, d.cfg.Server.JWTSecret)
		if err != nil {
			return fmt.Errorf("resolve jwt secret: %w", err)
		}
		apiCfg.JWT = httpapi.JWTConfig{
			Secret:    []byte(secret),
			Issuer:    d.cfg.Server.JWTIssuer,
			Audience:  d.cfg.Server.JWTAudience,
			ClockSkew: d.cfg.Server.ClockSkew,
		}
	}

	router := httpapi.New(apiCfg, d.registry, d.facades, d.journal, d.logger)

	ln, err := net.Listen("tcp", d.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.Server.Listen, err)
	}
	d.ln = ln
	d.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := d.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("http server failed", "error", err)
		}
	}()
	return nil
}

func (d *Daemon) startSession(ctx context.Context) error {
	if !d.cfg.Session.Enabled {
		return nil
	}

	clientSecret, err := d.secrets.Resolve(ctx, d.cfg.Session.ClientSecret)
	if err != nil {
		return fmt.Errorf("resolve session client secret: %w", err)
	}

	tokens, err := session.NewTokenProvider(session.TokenConfig{
		TokenURL:     d.cfg.Session.TokenURL,
		ClientID:     d.cfg.Session.ClientID,
		ClientSecret: clientSecret,
		Scope:        d.cfg.Session.Scope,
		Audience:     d.cfg.Session.Audience,
		Resource:     d.cfg.Session.Resource,
	})
	if err != nil {
		return fmt.Errorf("session token provider: %w", err)
	}

	sess, err := session.New(session.Config{
		ServerURL:      d.cfg.Session.ServerURL,
		Tokens:         tokens,
		Registry:       d.registry,
		Facades:        d.facades,
		Audit:          d.journal,
		Logger:         d.logger,
		InitialBackoff: d.cfg.Session.InitialBackoff,
		MaxBackoff:     d.cfg.Session.MaxBackoff,
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	d.session = sess
	return nil
}

// Addr returns the bound API address. Empty before Start.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ln == nil {
		return ""
	}
	return d.ln.Addr().String()
}

// Shutdown stops everything in reverse start order: session first so
// the control plane sees a clean close, then the HTTP drain, watcher,
// connector instances, journal and tracer.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return nil
	}
	d.started = false

	var errs []error

	if d.session != nil {
		if err := d.session.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("session shutdown: %w", err))
		}
	}

	if d.server != nil {
		timeout := d.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		drainCtx, cancel := context.WithTimeout(ctx, timeout)
		if err := d.server.Shutdown(drainCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		cancel()
	}

	if d.watcher != nil {
		d.watcher.Stop()
	}

	if err := d.registry.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close connectors: %w", err))
	}

	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audit journal: %w", err))
		}
	}

	if err := d.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
	}

	d.logger.Info("conduit host stopped")
	return errors.Join(errs...)
}
