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
	"testing"

	"github.com/tombee/conduit/internal/spi"
)

func opFrame(connectorID, operation, payload string) Frame {
	f := Frame{
		Type:        FrameTypeOperation,
		RequestID:   "r1",
		ConnectorID: connectorID,
		Operation:   operation,
	}
	if payload != "" {
		f.Payload = json.RawMessage(payload)
	}
	return f
}

func TestDispatch_PayloadValidation(t *testing.T) {
	env := newTestEnv(t, "alpha")
	ctx := context.Background()

	tests := []struct {
		name    string
		frame   Frame
		errType spi.ErrorType
	}{
		{
			name:    "missing connectorId",
			frame:   opFrame("", "schema", ""),
			errType: spi.ErrorTypeProtocol,
		},
		{
			name:    "missing operation",
			frame:   opFrame("alpha", "", ""),
			errType: spi.ErrorTypeProtocol,
		},
		{
			name:    "unknown connector",
			frame:   opFrame("nope", "schema", ""),
			errType: spi.ErrorTypeConnectorNotFound,
		},
		{
			name:    "unsupported operation",
			frame:   opFrame("alpha", "explode", ""),
			errType: spi.ErrorTypeValidation,
		},
		{
			name:    "create without attrs",
			frame:   opFrame("alpha", "create", `{"objectClass":"account"}`),
			errType: spi.ErrorTypeValidation,
		},
		{
			name:    "create without objectClass",
			frame:   opFrame("alpha", "create", `{"attrs":{"userName":"ada"}}`),
			errType: spi.ErrorTypeValidation,
		},
		{
			name:    "get without uid",
			frame:   opFrame("alpha", "get", `{"objectClass":"account"}`),
			errType: spi.ErrorTypeValidation,
		},
		{
			name:    "delete without objectClass",
			frame:   opFrame("alpha", "delete", `{"uid":"u1"}`),
			errType: spi.ErrorTypeValidation,
		},
		{
			name:    "update without attrs",
			frame:   opFrame("alpha", "update", `{"objectClass":"account","uid":"u1"}`),
			errType: spi.ErrorTypeValidation,
		},
		{
			name:    "addAttributeValues without uid",
			frame:   opFrame("alpha", "addAttributeValues", `{"objectClass":"account","attrs":{"groups":["g"]}}`),
			errType: spi.ErrorTypeValidation,
		},
		{
			name:    "search without objectClass",
			frame:   opFrame("alpha", "search", `{}`),
			errType: spi.ErrorTypeValidation,
		},
		{
			name:    "search with invalid filter",
			frame:   opFrame("alpha", "search", `{"objectClass":"account","filter":{"type":"BAD"}}`),
			errType: spi.ErrorTypeValidation,
		},
		{
			name:    "script without context",
			frame:   opFrame("alpha", "scriptOnConnector", `{}`),
			errType: spi.ErrorTypeValidation,
		},
		{
			name:    "script without language",
			frame:   opFrame("alpha", "scriptOnConnector", `{"context":{"script":"1+1"}}`),
			errType: spi.ErrorTypeValidation,
		},
		{
			name:    "payload not an object",
			frame:   opFrame("alpha", "create", `[1,2]`),
			errType: spi.ErrorTypeValidation,
		},
		{
			name:    "unknown options key",
			frame:   opFrame("alpha", "search", `{"objectClass":"account","options":{"bogus":1}}`),
			errType: spi.ErrorTypeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.session.dispatch(ctx, tt.frame)
			if err == nil {
				t.Fatal("expected error")
			}
			if !spi.IsType(err, tt.errType) {
				t.Errorf("error = %v, want type %s", err, tt.errType)
			}
		})
	}
}

func TestDispatch_ResultShapes(t *testing.T) {
	env := newTestEnv(t, "alpha")
	ctx := context.Background()

	t.Run("schema", func(t *testing.T) {
		result, err := env.session.dispatch(ctx, opFrame("alpha", "schema", ""))
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		schema, ok := result.(*spi.Schema)
		if !ok || len(schema.ObjectClasses) != 1 {
			t.Errorf("result = %#v", result)
		}
	})

	t.Run("test returns null", func(t *testing.T) {
		result, err := env.session.dispatch(ctx, opFrame("alpha", "test", ""))
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if result != nil {
			t.Errorf("result = %#v", result)
		}
	})

	t.Run("get found", func(t *testing.T) {
		result, err := env.session.dispatch(ctx, opFrame("alpha", "get", `{"objectClass":"account","uid":"u1"}`))
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		obj, ok := result.(*spi.ConnectorObject)
		if !ok || obj.UID != "u1" {
			t.Errorf("result = %#v", result)
		}
	})

	t.Run("get not found returns null", func(t *testing.T) {
		result, err := env.session.dispatch(ctx, opFrame("alpha", "get", `{"objectClass":"account","uid":"missing"}`))
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if obj, _ := result.(*spi.ConnectorObject); obj != nil {
			t.Errorf("result = %#v", result)
		}
	})

	t.Run("create", func(t *testing.T) {
		result, err := env.session.dispatch(ctx, opFrame("alpha", "create", `{"objectClass":"account","attrs":{"userName":"ada"}}`))
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		obj, ok := result.(*spi.ConnectorObject)
		if !ok || obj.UID != "new-1" {
			t.Errorf("result = %#v", result)
		}
	})

	t.Run("delete returns null", func(t *testing.T) {
		result, err := env.session.dispatch(ctx, opFrame("alpha", "delete", `{"objectClass":"account","uid":"u1"}`))
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if result != nil {
			t.Errorf("result = %#v", result)
		}
	})

	t.Run("search wraps page", func(t *testing.T) {
		payload := `{"objectClass":"account","filter":{"type":"CMP","op":"EQ","path":["userName"],"value":"ada"}}`
		result, err := env.session.dispatch(ctx, opFrame("alpha", "search", payload))
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		sr, ok := result.(searchResult)
		if !ok || len(sr.Results) != 1 {
			t.Fatalf("result = %#v", result)
		}

		// The wire key is "results", not the internal page field name.
		data, err := json.Marshal(sr)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var wire map[string]any
		json.Unmarshal(data, &wire)
		if _, ok := wire["results"]; !ok {
			t.Errorf("wire shape = %s", data)
		}
	})

	t.Run("capability missing maps to NotSupported", func(t *testing.T) {
		_, err := env.session.dispatch(ctx, opFrame("alpha", "sync", `{"objectClass":"account"}`))
		if !spi.IsType(err, spi.ErrorTypeNotSupported) {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("scalar attr values become lists", func(t *testing.T) {
		got := attrValueLists(map[string]any{
			"groups": []any{"g1", "g2"},
			"title":  "chief",
			"blank":  nil,
		})
		if len(got["groups"]) != 2 {
			t.Errorf("groups = %v", got["groups"])
		}
		if len(got["title"]) != 1 || got["title"][0] != "chief" {
			t.Errorf("title = %v", got["title"])
		}
		if got["blank"] != nil {
			t.Errorf("blank = %v", got["blank"])
		}
	})
}
