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
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tombee/conduit/internal/audit"
	"github.com/tombee/conduit/internal/filter"
	"github.com/tombee/conduit/internal/metrics"
	"github.com/tombee/conduit/internal/spi"
)

// operationPayload is the payload envelope of an operation frame. Raw
// fields stay undecoded until the operation claims them.
type operationPayload struct {
	ObjectClass string             `json:"objectClass"`
	UID         string             `json:"uid"`
	Attrs       map[string]any     `json:"attrs"`
	Filter      json.RawMessage    `json:"filter"`
	Token       *spi.SyncToken     `json:"token"`
	Context     *spi.ScriptContext `json:"context"`
	Options     json.RawMessage    `json:"options"`
}

// handleMessage decodes one inbound message and routes it. Malformed
// JSON and frames without a type are logged and dropped without a reply.
func (s *Session) handleMessage(ctx context.Context, conn *websocket.Conn, data []byte) {
	s.mu.Lock()
	shutdown := s.shutdown
	s.mu.Unlock()
	if shutdown {
		return
	}

	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.logger.Warn("malformed session frame", "error", err)
		metrics.RecordSessionFrame("malformed")
		return
	}
	if frame.Type == "" {
		s.logger.Warn("session frame missing type")
		metrics.RecordSessionFrame("malformed")
		return
	}

	switch frame.Type {
	case FrameTypePing, FrameTypeListConnectors, FrameTypeOperation:
		metrics.RecordSessionFrame(frame.Type)
	default:
		metrics.RecordSessionFrame("unknown")
	}

	switch frame.Type {
	case FrameTypePing:
		s.reply(conn, newPong(frame.RequestID, time.Now(), s.connectors()))

	case FrameTypeListConnectors:
		s.reply(conn, newConnectors(frame.RequestID, s.connectors()))

	case FrameTypeOperation:
		if frame.RequestID == "" {
			s.logger.Warn("operation frame missing requestId, dropping",
				"connector", frame.ConnectorID,
				"operation", frame.Operation)
			return
		}
		// Operations run concurrently; the write mutex keeps replies
		// whole.
		go s.handleOperation(ctx, conn, frame)

	default:
		if frame.RequestID == "" {
			s.logger.Warn("unknown session frame type", "type", frame.Type)
			return
		}
		s.reply(conn, newErrorFrame(frame.RequestID,
			spi.NewProtocolError(fmt.Sprintf("unknown frame type %q", frame.Type))))
	}
}

func (s *Session) reply(conn *websocket.Conn, v any) {
	if err := s.writeFrame(conn, v); err != nil {
		s.logger.Warn("session reply failed", "error", err)
	}
}

// handleOperation dispatches one operation frame and writes the
// response. Every outcome, success or error, is answered.
func (s *Session) handleOperation(ctx context.Context, conn *websocket.Conn, frame Frame) {
	start := time.Now()
	result, err := s.dispatch(ctx, frame)
	s.journal(ctx, frame, start, err)
	if err != nil {
		e := spi.AsError(err)
		s.logger.Warn("operation failed",
			"requestId", frame.RequestID,
			"connector", frame.ConnectorID,
			"operation", frame.Operation,
			"errorType", string(e.Type))
		s.reply(conn, newErrorResponse(frame.RequestID, e))
		return
	}
	s.reply(conn, newSuccessResponse(frame.RequestID, result))
}

// journal records one audit row for a dispatched operation. Object
// class and uid are best-effort: malformed payloads leave them empty.
func (s *Session) journal(ctx context.Context, frame Frame, start time.Time, opErr error) {
	entry := audit.Entry{
		Transport:   "session",
		ConnectorID: frame.ConnectorID,
		Operation:   frame.Operation,
		Outcome:     "ok",
		Duration:    time.Since(start),
	}

	var p operationPayload
	if len(frame.Payload) > 0 && json.Unmarshal(frame.Payload, &p) == nil {
		entry.ObjectClass = p.ObjectClass
		entry.UID = p.UID
	}

	if opErr != nil {
		entry.Outcome = "error"
		entry.ErrorKind = spi.AsError(opErr).WireName()
	}

	if err := s.cfg.Audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed", "error", err)
	}
}

// dispatch validates the frame and payload, then calls the facade. The
// result is the wire-shaped payload of the success response.
func (s *Session) dispatch(ctx context.Context, frame Frame) (any, error) {
	if frame.ConnectorID == "" {
		return nil, spi.NewProtocolError("operation frame missing connectorId")
	}
	if frame.Operation == "" {
		return nil, spi.NewProtocolError("operation frame missing operation")
	}

	f, err := s.cfg.Facades.Get(frame.ConnectorID)
	if err != nil {
		return nil, err
	}

	var p operationPayload
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return nil, spi.NewValidationErrorf("invalid payload: %v", err)
		}
	}

	opts, err := spi.ParseOptions(p.Options)
	if err != nil {
		return nil, err
	}

	switch spi.OperationName(frame.Operation) {
	case spi.OpSchema:
		return f.Schema(ctx)

	case spi.OpTest:
		return nil, f.Test(ctx)

	case spi.OpCreate:
		if err := requireFields(&p, needObjectClass|needAttrs); err != nil {
			return nil, err
		}
		return f.Create(ctx, p.ObjectClass, p.Attrs, opts)

	case spi.OpGet:
		if err := requireFields(&p, needObjectClass|needUID); err != nil {
			return nil, err
		}
		return f.Get(ctx, p.ObjectClass, p.UID, opts)

	case spi.OpUpdate:
		if err := requireFields(&p, needObjectClass|needUID|needAttrs); err != nil {
			return nil, err
		}
		return f.Update(ctx, p.ObjectClass, p.UID, p.Attrs, opts)

	case spi.OpDelete:
		if err := requireFields(&p, needObjectClass|needUID); err != nil {
			return nil, err
		}
		return nil, f.Delete(ctx, p.ObjectClass, p.UID, opts)

	case spi.OpAddAttributeValues:
		if err := requireFields(&p, needObjectClass|needUID|needAttrs); err != nil {
			return nil, err
		}
		return f.AddAttributeValues(ctx, p.ObjectClass, p.UID, attrValueLists(p.Attrs), opts)

	case spi.OpRemoveAttributeValues:
		if err := requireFields(&p, needObjectClass|needUID|needAttrs); err != nil {
			return nil, err
		}
		return f.RemoveAttributeValues(ctx, p.ObjectClass, p.UID, attrValueLists(p.Attrs), opts)

	case spi.OpSearch:
		if err := requireFields(&p, needObjectClass); err != nil {
			return nil, err
		}
		flt, err := filter.Parse(p.Filter)
		if err != nil {
			return nil, err
		}
		page, err := f.Search(ctx, p.ObjectClass, flt, opts)
		if err != nil {
			return nil, err
		}
		return newSearchResult(page), nil

	case spi.OpSync:
		if err := requireFields(&p, needObjectClass); err != nil {
			return nil, err
		}
		return f.Sync(ctx, p.ObjectClass, p.Token, opts)

	case spi.OpScriptOnConnector:
		if err := p.Context.Validate(); err != nil {
			return nil, err
		}
		return f.ScriptOnConnector(ctx, p.Context, opts)

	default:
		return nil, spi.NewValidationErrorf("unsupported operation %q", frame.Operation)
	}
}

type fieldSet uint8

const (
	needObjectClass fieldSet = 1 << iota
	needUID
	needAttrs
)

// requireFields enforces the per-operation payload contract.
func requireFields(p *operationPayload, need fieldSet) error {
	if need&needObjectClass != 0 && p.ObjectClass == "" {
		return spi.NewValidationError("payload requires objectClass")
	}
	if need&needUID != 0 && p.UID == "" {
		return spi.NewValidationError("payload requires uid")
	}
	if need&needAttrs != 0 && p.Attrs == nil {
		return spi.NewValidationError("payload requires attrs object")
	}
	return nil
}

// attrValueLists normalizes an attrs object into per-attribute value
// lists for the add/remove operations. Scalars become single-element
// lists.
func attrValueLists(attrs map[string]any) map[string][]any {
	out := make(map[string][]any, len(attrs))
	for name, v := range attrs {
		switch vv := v.(type) {
		case []any:
			out[name] = vv
		case nil:
			out[name] = nil
		default:
			out[name] = []any{vv}
		}
	}
	return out
}
