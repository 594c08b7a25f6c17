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
	"encoding/json"
	"time"

	"github.com/tombee/conduit/internal/spi"
)

// Frame types exchanged with the control plane. Every frame is a UTF-8
// JSON object with a required "type"; replies echo "requestId" whenever
// the request carried one.
const (
	FrameTypePing           = "ping"
	FrameTypePong           = "pong"
	FrameTypeListConnectors = "list-connectors"
	FrameTypeConnectors     = "connectors"
	FrameTypeOperation      = "operation"
	FrameTypeResponse       = "response"
	FrameTypeServiceInfo    = "service-info"
	FrameTypeError          = "error"
)

// Frame is one decoded inbound message. Payload stays raw until the
// operation decides how to interpret it.
type Frame struct {
	Type        string          `json:"type"`
	RequestID   string          `json:"requestId,omitempty"`
	ConnectorID string          `json:"connectorId,omitempty"`
	Operation   string          `json:"operation,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

type serviceInfoFrame struct {
	Type       string   `json:"type"`
	Service    string   `json:"service"`
	StartedAt  string   `json:"startedAt"`
	Connectors []string `json:"connectors"`
}

type pongFrame struct {
	Type       string   `json:"type"`
	RequestID  string   `json:"requestId,omitempty"`
	Timestamp  string   `json:"timestamp"`
	Connectors []string `json:"connectors"`
}

type connectorsFrame struct {
	Type       string   `json:"type"`
	RequestID  string   `json:"requestId,omitempty"`
	Connectors []string `json:"connectors"`
}

// wireError is the structured error carried in response and error
// frames.
type wireError struct {
	Message string `json:"message"`
	Name    string `json:"name"`
}

// responseFrame answers an operation request. Result is always present
// on success, null for operations without a payload (test, delete).
type responseFrame struct {
	Type      string     `json:"type"`
	RequestID string     `json:"requestId,omitempty"`
	Success   bool       `json:"success"`
	Result    any        `json:"result"`
	Error     *wireError `json:"error,omitempty"`
}

type errorFrame struct {
	Type      string    `json:"type"`
	RequestID string    `json:"requestId,omitempty"`
	Error     wireError `json:"error"`
}

func newServiceInfo(service string, startedAt time.Time, connectors []string) serviceInfoFrame {
	return serviceInfoFrame{
		Type:       FrameTypeServiceInfo,
		Service:    service,
		StartedAt:  startedAt.UTC().Format(time.RFC3339),
		Connectors: connectors,
	}
}

func newPong(requestID string, now time.Time, connectors []string) pongFrame {
	return pongFrame{
		Type:       FrameTypePong,
		RequestID:  requestID,
		Timestamp:  now.UTC().Format(time.RFC3339),
		Connectors: connectors,
	}
}

func newConnectors(requestID string, connectors []string) connectorsFrame {
	return connectorsFrame{
		Type:       FrameTypeConnectors,
		RequestID:  requestID,
		Connectors: connectors,
	}
}

func newSuccessResponse(requestID string, result any) responseFrame {
	return responseFrame{
		Type:      FrameTypeResponse,
		RequestID: requestID,
		Success:   true,
		Result:    result,
	}
}

func newErrorResponse(requestID string, err *spi.Error) responseFrame {
	return responseFrame{
		Type:      FrameTypeResponse,
		RequestID: requestID,
		Success:   false,
		Error:     &wireError{Message: err.Message, Name: err.WireName()},
	}
}

func newErrorFrame(requestID string, err *spi.Error) errorFrame {
	return errorFrame{
		Type:      FrameTypeError,
		RequestID: requestID,
		Error:     wireError{Message: err.Message, Name: err.WireName()},
	}
}

// searchResult is the list-mode search reply shape.
type searchResult struct {
	Results               []*spi.ConnectorObject `json:"results"`
	NextOffset            int                    `json:"nextOffset,omitempty"`
	PagedResultsCookie    string                 `json:"pagedResultsCookie,omitempty"`
	RemainingPagedResults int                    `json:"remainingPagedResults,omitempty"`
}

func newSearchResult(page *spi.Page) searchResult {
	results := page.Objects
	if results == nil {
		results = []*spi.ConnectorObject{}
	}
	return searchResult{
		Results:               results,
		NextOffset:            page.NextOffset,
		PagedResultsCookie:    page.PagedResultsCookie,
		RemainingPagedResults: page.RemainingPagedResults,
	}
}
