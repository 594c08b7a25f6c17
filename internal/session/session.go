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

// Package session maintains the outbound WebSocket connection to the
// control plane: OAuth2 token lifecycle, reconnection with bounded
// exponential backoff, and JSON frame dispatch against the local
// connector facades.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tombee/conduit/internal/audit"
	"github.com/tombee/conduit/internal/facade"
	"github.com/tombee/conduit/internal/log"
	"github.com/tombee/conduit/internal/metrics"
	"github.com/tombee/conduit/internal/registry"
)

const (
	// DefaultInitialBackoff is the delay before the first reconnect
	// attempt; it doubles on every failure.
	DefaultInitialBackoff = 1000 * time.Millisecond

	// DefaultMaxBackoff caps the reconnect delay.
	DefaultMaxBackoff = 30000 * time.Millisecond

	// writeTimeout bounds a single frame or control write.
	writeTimeout = 10 * time.Second

	// serviceName identifies this host in the service-info frame.
	serviceName = "conduit"
)

// Config wires a Session to its collaborators.
type Config struct {
	// ServerURL is the control-plane WebSocket endpoint (ws:// or wss://).
	ServerURL string

	// Tokens supplies the bearer token for the upgrade request.
	Tokens *TokenProvider

	// Registry names the connector instances announced to the control
	// plane.
	Registry *registry.Registry

	// Facades resolves instance ids to their resilience wrappers.
	Facades *facade.Set

	// Audit records one journal row per dispatched operation. A nil
	// journal disables auditing.
	Audit *audit.Journal

	// Logger; nil falls back to the process default.
	Logger *slog.Logger

	// Dialer; nil uses websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Backoff overrides, zero values take the defaults. Tests shrink
	// these to keep reconnect scenarios fast.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Session is the outbound control-plane connection. One Session serves
// many in-flight operations; writes to the socket are serialized.
type Session struct {
	cfg       Config
	logger    *slog.Logger
	dialer    *websocket.Dialer
	startedAt time.Time

	mu        sync.Mutex
	conn      *websocket.Conn
	backoff   time.Duration
	reconnect *time.Timer
	shutdown  bool

	writeMu sync.Mutex
}

// New validates the configuration and returns a Session. Nothing
// connects until Start.
func New(cfg Config) (*Session, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("session requires a server URL")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("session requires a token provider")
	}
	if cfg.Registry == nil {
		return nil, errors.New("session requires a registry")
	}
	if cfg.Facades == nil {
		return nil, errors.New("session requires a facade set")
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	return &Session{
		cfg:     cfg,
		logger:  log.WithComponent(logger, "session"),
		dialer:  dialer,
		backoff: cfg.InitialBackoff,
	}, nil
}

// Start primes the facade set and begins connecting in the background.
// Connection failures feed the reconnect loop rather than failing Start,
// so a control plane that is down at boot never blocks the host.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return errors.New("session is shut down")
	}
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.cfg.Facades.Prime()

	go s.connect(ctx)
	return nil
}

// Shutdown stops the session: it cancels any pending reconnect, closes
// the socket with code 1000 and reason "shutdown", and prevents further
// dispatches and reconnects.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown")
		deadline := time.Now().Add(writeTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			s.logger.Debug("close message failed", "error", err)
		}
		conn.Close()
	}

	s.logger.Info("session shut down")
	return nil
}

// connect performs one connection attempt. Failures of any stage,
// including the token fetch, schedule a reconnect.
func (s *Session) connect(ctx context.Context) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	token, err := s.cfg.Tokens.Token(ctx)
	if err != nil {
		s.logger.Warn("token fetch failed", "error", err)
		metrics.RecordSessionConnect("token_error")
		s.scheduleReconnect(ctx)
		return
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := s.dialer.DialContext(ctx, s.cfg.ServerURL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			s.logger.Warn("control plane rejected token, invalidating cache",
				"status", resp.StatusCode)
			s.cfg.Tokens.Invalidate()
		}
		s.logger.Warn("connection failed",
			"url", s.cfg.ServerURL,
			"error", err)
		metrics.RecordSessionConnect("error")
		s.scheduleReconnect(ctx)
		return
	}

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.backoff = s.cfg.InitialBackoff
	s.mu.Unlock()

	metrics.RecordSessionConnect("ok")
	s.logger.Info("session connected", "url", s.cfg.ServerURL)

	info := newServiceInfo(serviceName, s.startedAt, s.connectors())
	if err := s.writeFrame(conn, info); err != nil {
		s.logger.Warn("service-info send failed", "error", err)
		conn.Close()
		s.dropConn(conn)
		s.scheduleReconnect(ctx)
		return
	}

	s.readLoop(ctx, conn)
}

// readLoop consumes frames until the connection dies, then hands off to
// the reconnect path.
func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("session read error", "error", err)
			} else {
				s.logger.Info("session closed", "error", err)
			}
			break
		}
		s.handleMessage(ctx, conn, data)
	}

	conn.Close()
	s.dropConn(conn)
	s.scheduleReconnect(ctx)
}

// dropConn clears the current connection if it is still conn.
func (s *Session) dropConn(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
}

// scheduleReconnect arms the reconnect timer with the current backoff
// and doubles it for the next failure. At most one reconnect is
// scheduled at a time; after Shutdown none are.
func (s *Session) scheduleReconnect(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown || s.reconnect != nil {
		return
	}

	delay := s.backoff
	s.backoff *= 2
	if s.backoff > s.cfg.MaxBackoff {
		s.backoff = s.cfg.MaxBackoff
	}

	s.logger.Info("reconnect scheduled", "delay", delay.String())
	s.reconnect = time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.reconnect = nil
		s.mu.Unlock()
		s.connect(ctx)
	})
}

// writeFrame marshals and sends one frame. Writes are serialized because
// the socket is shared by concurrent operation handlers.
func (s *Session) writeFrame(conn *websocket.Conn, v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

// connectors returns the current instance list for pong, connectors and
// service-info frames.
func (s *Session) connectors() []string {
	return s.cfg.Registry.IDs()
}
