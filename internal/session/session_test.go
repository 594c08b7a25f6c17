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

package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tombee/conduit/internal/facade"
	"github.com/tombee/conduit/internal/registry"
	"github.com/tombee/conduit/internal/spi"
)

// controlPlane is a test double for the WebSocket server the session
// dials into.
type controlPlane struct {
	srv        *httptest.Server
	upgrader   websocket.Upgrader
	connCh     chan *websocket.Conn
	dials      atomic.Int64
	rejectNext atomic.Int32
	lastAuth   atomic.Value
}

func newControlPlane(t *testing.T) *controlPlane {
	t.Helper()
	cp := &controlPlane{connCh: make(chan *websocket.Conn, 4)}
	cp.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cp.dials.Add(1)
		cp.lastAuth.Store(r.Header.Get("Authorization"))
		if cp.rejectNext.Load() > 0 {
			cp.rejectNext.Add(-1)
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		conn, err := cp.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cp.connCh <- conn
	}))
	t.Cleanup(cp.srv.Close)
	return cp
}

func (cp *controlPlane) url() string {
	return "ws" + strings.TrimPrefix(cp.srv.URL, "http")
}

// accept waits for the session to connect and returns the server side of
// the socket.
func (cp *controlPlane) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-cp.connCh:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for session to connect")
		return nil
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func sendFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("send frame: %v", err)
	}
}

func sendRaw(t *testing.T, conn *websocket.Conn, data string) {
	t.Helper()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
		t.Fatalf("send raw: %v", err)
	}
}

// stubConnector serves the operations the session tests exercise.
type stubConnector struct{}

func (c *stubConnector) Close() error { return nil }

func (c *stubConnector) Test(ctx context.Context) error { return nil }

func (c *stubConnector) Schema(ctx context.Context) (*spi.Schema, error) {
	return &spi.Schema{
		ObjectClasses: []spi.ObjectClassInfo{{Name: "account"}},
	}, nil
}

func (c *stubConnector) Get(ctx context.Context, objectClass, uid string, opts *spi.OperationOptions) (*spi.ConnectorObject, error) {
	if uid == "missing" {
		return nil, nil
	}
	return &spi.ConnectorObject{
		ObjectClass: objectClass,
		UID:         uid,
		Attributes:  map[string]any{"userName": "ada"},
	}, nil
}

func (c *stubConnector) Create(ctx context.Context, objectClass string, attrs map[string]any, opts *spi.OperationOptions) (*spi.ConnectorObject, error) {
	return &spi.ConnectorObject{ObjectClass: objectClass, UID: "new-1", Attributes: attrs}, nil
}

func (c *stubConnector) Delete(ctx context.Context, objectClass, uid string, opts *spi.OperationOptions) error {
	return nil
}

func (c *stubConnector) Search(ctx context.Context, objectClass string, flt *spi.Filter, opts *spi.OperationOptions) (*spi.Page, error) {
	return &spi.Page{
		Objects: []*spi.ConnectorObject{
			{ObjectClass: objectClass, UID: "u1", Attributes: map[string]any{}},
		},
	}, nil
}

// testEnv owns one wired session plus its collaborators.
type testEnv struct {
	cp      *controlPlane
	tokens  *tokenEndpoint
	session *Session
	reg     *registry.Registry
}

func newTestEnv(t *testing.T, instanceIDs ...string) *testEnv {
	t.Helper()

	tokens := &tokenEndpoint{expiresIn: intp(3600)}
	provider, _ := newTokenTestProvider(t, tokens, TokenConfig{})

	reg := registry.New(nil)
	if err := reg.RegisterFactory("stub", "1.0.0", func(ctx context.Context, params spi.FactoryParams) (spi.Connector, error) {
		return &stubConnector{}, nil
	}); err != nil {
		t.Fatalf("register factory: %v", err)
	}
	for _, id := range instanceIDs {
		if _, err := reg.InitInstance(context.Background(), id, "stub", "1.0.0", nil); err != nil {
			t.Fatalf("init instance %s: %v", id, err)
		}
	}

	cp := newControlPlane(t)
	sess, err := New(Config{
		ServerURL:      cp.url(),
		Tokens:         provider,
		Registry:       reg,
		Facades:        facade.NewSet(reg, facade.Config{}),
		InitialBackoff: 30 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { sess.Shutdown(context.Background()) })

	return &testEnv{cp: cp, tokens: tokens, session: sess, reg: reg}
}

// start connects the session and consumes the service-info frame.
func (env *testEnv) start(t *testing.T) *websocket.Conn {
	t.Helper()
	if err := env.session.Start(context.Background()); err != nil {
		t.Fatalf("start session: %v", err)
	}
	conn := env.cp.accept(t)
	frame := readFrame(t, conn)
	if frame["type"] != FrameTypeServiceInfo {
		t.Fatalf("first frame type = %v, want service-info", frame["type"])
	}
	return conn
}

func TestSession_ConnectSendsServiceInfo(t *testing.T) {
	env := newTestEnv(t, "alpha", "beta")
	if err := env.session.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	conn := env.cp.accept(t)

	if auth, _ := env.cp.lastAuth.Load().(string); auth != "Bearer tok-1" {
		t.Errorf("authorization header = %q", auth)
	}

	frame := readFrame(t, conn)
	if frame["type"] != FrameTypeServiceInfo {
		t.Fatalf("type = %v", frame["type"])
	}
	if frame["service"] != "conduit" {
		t.Errorf("service = %v", frame["service"])
	}
	if _, err := time.Parse(time.RFC3339, frame["startedAt"].(string)); err != nil {
		t.Errorf("startedAt not RFC3339: %v", frame["startedAt"])
	}
	connectors, _ := frame["connectors"].([]any)
	if len(connectors) != 2 || connectors[0] != "alpha" || connectors[1] != "beta" {
		t.Errorf("connectors = %v", connectors)
	}
}

func TestSession_PingPong(t *testing.T) {
	env := newTestEnv(t, "alpha")
	conn := env.start(t)

	sendFrame(t, conn, map[string]any{"type": "ping", "requestId": "p1"})

	frame := readFrame(t, conn)
	if frame["type"] != FrameTypePong {
		t.Fatalf("type = %v", frame["type"])
	}
	if frame["requestId"] != "p1" {
		t.Errorf("requestId = %v", frame["requestId"])
	}
	if _, err := time.Parse(time.RFC3339, frame["timestamp"].(string)); err != nil {
		t.Errorf("timestamp not RFC3339: %v", frame["timestamp"])
	}
	if connectors, _ := frame["connectors"].([]any); len(connectors) != 1 {
		t.Errorf("connectors = %v", frame["connectors"])
	}
}

func TestSession_ListConnectors(t *testing.T) {
	env := newTestEnv(t, "alpha")
	conn := env.start(t)

	sendFrame(t, conn, map[string]any{"type": "list-connectors", "requestId": "l1"})

	frame := readFrame(t, conn)
	if frame["type"] != FrameTypeConnectors || frame["requestId"] != "l1" {
		t.Fatalf("frame = %v", frame)
	}
	connectors, _ := frame["connectors"].([]any)
	if len(connectors) != 1 || connectors[0] != "alpha" {
		t.Errorf("connectors = %v", connectors)
	}
}

func TestSession_OperationSchema(t *testing.T) {
	env := newTestEnv(t, "alpha")
	conn := env.start(t)

	sendFrame(t, conn, map[string]any{
		"type":        "operation",
		"requestId":   "r1",
		"connectorId": "alpha",
		"operation":   "schema",
	})

	frame := readFrame(t, conn)
	if frame["type"] != FrameTypeResponse || frame["requestId"] != "r1" {
		t.Fatalf("frame = %v", frame)
	}
	if frame["success"] != true {
		t.Fatalf("success = %v, error = %v", frame["success"], frame["error"])
	}
	result, _ := frame["result"].(map[string]any)
	classes, _ := result["objectClasses"].([]any)
	if len(classes) != 1 {
		t.Errorf("result = %v", result)
	}
}

func TestSession_MalformedFrameNoReply(t *testing.T) {
	env := newTestEnv(t, "alpha")
	conn := env.start(t)

	sendRaw(t, conn, "this is not json")
	sendRaw(t, conn, `{"requestId":"x"}`)

	// The next reply must be the pong, proving neither bad frame was
	// answered.
	sendFrame(t, conn, map[string]any{"type": "ping", "requestId": "after"})
	frame := readFrame(t, conn)
	if frame["type"] != FrameTypePong || frame["requestId"] != "after" {
		t.Fatalf("unexpected reply before pong: %v", frame)
	}
}

func TestSession_UnknownTypeRepliesError(t *testing.T) {
	env := newTestEnv(t, "alpha")
	conn := env.start(t)

	sendFrame(t, conn, map[string]any{"type": "bogus", "requestId": "u1"})

	frame := readFrame(t, conn)
	if frame["type"] != FrameTypeError || frame["requestId"] != "u1" {
		t.Fatalf("frame = %v", frame)
	}
	wireErr, _ := frame["error"].(map[string]any)
	if wireErr["name"] != "ProtocolError" {
		t.Errorf("error = %v", wireErr)
	}

	// Without a requestId there is nothing to address the error to.
	sendFrame(t, conn, map[string]any{"type": "bogus"})
	sendFrame(t, conn, map[string]any{"type": "ping", "requestId": "after"})
	next := readFrame(t, conn)
	if next["type"] != FrameTypePong {
		t.Fatalf("unexpected reply: %v", next)
	}
}

func TestSession_OperationWithoutRequestIDDropped(t *testing.T) {
	env := newTestEnv(t, "alpha")
	conn := env.start(t)

	sendFrame(t, conn, map[string]any{
		"type":        "operation",
		"connectorId": "alpha",
		"operation":   "schema",
	})
	sendFrame(t, conn, map[string]any{"type": "ping", "requestId": "after"})

	frame := readFrame(t, conn)
	if frame["type"] != FrameTypePong {
		t.Fatalf("operation without requestId was answered: %v", frame)
	}
}

func TestSession_OperationValidationFailure(t *testing.T) {
	env := newTestEnv(t, "alpha")
	conn := env.start(t)

	sendFrame(t, conn, map[string]any{
		"type":        "operation",
		"requestId":   "v1",
		"connectorId": "alpha",
		"operation":   "create",
		"payload":     map[string]any{"objectClass": "account"},
	})

	frame := readFrame(t, conn)
	if frame["type"] != FrameTypeResponse || frame["success"] != false {
		t.Fatalf("frame = %v", frame)
	}
	wireErr, _ := frame["error"].(map[string]any)
	if wireErr["name"] != "ValidationFailed" {
		t.Errorf("error name = %v", wireErr["name"])
	}
	if msg, _ := wireErr["message"].(string); !strings.Contains(msg, "attrs") {
		t.Errorf("message = %q", msg)
	}
}

func TestSession_Reconnect(t *testing.T) {
	env := newTestEnv(t, "alpha")
	conn := env.start(t)

	// Kill the connection from the server side.
	conn.Close()

	conn2 := env.cp.accept(t)
	frame := readFrame(t, conn2)
	if frame["type"] != FrameTypeServiceInfo {
		t.Fatalf("reconnect frame type = %v", frame["type"])
	}
	if n := env.cp.dials.Load(); n != 2 {
		t.Errorf("dials = %d, want 2", n)
	}
}

func TestSession_InvalidatesTokenOnUnauthorized(t *testing.T) {
	env := newTestEnv(t, "alpha")
	env.cp.rejectNext.Store(1)

	if err := env.session.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	// The rejected dial invalidates the cache, so the retry fetches a
	// second token.
	env.cp.accept(t)
	if n := env.tokens.requests.Load(); n != 2 {
		t.Errorf("token requests = %d, want 2", n)
	}
}

func TestSession_ShutdownClosesNormally(t *testing.T) {
	env := newTestEnv(t, "alpha")
	conn := env.start(t)

	if err := env.session.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("read after shutdown: %v", err)
	}
	if closeErr.Code != websocket.CloseNormalClosure || closeErr.Text != "shutdown" {
		t.Errorf("close = %d %q", closeErr.Code, closeErr.Text)
	}

	// No reconnect after shutdown.
	dials := env.cp.dials.Load()
	time.Sleep(150 * time.Millisecond)
	if got := env.cp.dials.Load(); got != dials {
		t.Errorf("session reconnected after shutdown: %d -> %d dials", dials, got)
	}
}

func TestSession_BackoffDoublesToCap(t *testing.T) {
	env := newTestEnv(t)
	s := env.session
	s.cfg.InitialBackoff = 1000 * time.Millisecond
	s.cfg.MaxBackoff = 30000 * time.Millisecond
	s.backoff = s.cfg.InitialBackoff

	ctx := context.Background()
	s.scheduleReconnect(ctx)
	if s.backoff != 2000*time.Millisecond {
		t.Errorf("backoff after first failure = %v", s.backoff)
	}

	// Only one reconnect may be pending; a second schedule is a no-op.
	s.scheduleReconnect(ctx)
	if s.backoff != 2000*time.Millisecond {
		t.Errorf("second schedule changed backoff: %v", s.backoff)
	}

	s.mu.Lock()
	s.reconnect.Stop()
	s.reconnect = nil
	s.backoff = 20000 * time.Millisecond
	s.mu.Unlock()

	s.scheduleReconnect(ctx)
	if s.backoff != 30000*time.Millisecond {
		t.Errorf("backoff not capped: %v", s.backoff)
	}

	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	s.scheduleReconnect(ctx)
	s.mu.Lock()
	pending := s.reconnect != nil
	s.mu.Unlock()
	if pending {
		t.Error("reconnect scheduled after shutdown")
	}
}
