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

package log

import (
	"log/slog"
	"time"
)

// DispatchRequest describes a uniform operation dispatch for logging purposes.
type DispatchRequest struct {
	// Transport identifies the front end ("websocket", "http").
	Transport string

	// Operation is the uniform operation name (e.g., "get", "search").
	Operation string

	// ConnectorID is the target connector instance id.
	ConnectorID string

	// RequestID is the unique ID for this specific request.
	RequestID string

	// Metadata contains additional request metadata.
	Metadata map[string]interface{}
}

// DispatchResult describes the outcome of a dispatched operation.
type DispatchResult struct {
	// Success indicates whether the operation succeeded.
	Success bool

	// Error is the error message if the operation failed.
	Error string

	// DurationMs is the duration of the operation in milliseconds.
	DurationMs int64
}

// LogDispatchRequest logs an incoming operation dispatch.
func LogDispatchRequest(logger *slog.Logger, req *DispatchRequest) {
	attrs := []any{
		EventKey, "operation_request",
		"transport", req.Transport,
		OperationKey, req.Operation,
		ConnectorKey, req.ConnectorID,
	}

	if req.RequestID != "" {
		attrs = append(attrs, "request_id", req.RequestID)
	}

	for k, v := range req.Metadata {
		attrs = append(attrs, k, v)
	}

	logger.Debug("operation received", attrs...)
}

// LogDispatchResult logs the outcome of an operation dispatch.
func LogDispatchResult(logger *slog.Logger, req *DispatchRequest, res *DispatchResult) {
	attrs := []any{
		EventKey, "operation_result",
		"transport", req.Transport,
		OperationKey, req.Operation,
		ConnectorKey, req.ConnectorID,
		"success", res.Success,
		DurationKey, res.DurationMs,
	}

	if req.RequestID != "" {
		attrs = append(attrs, "request_id", req.RequestID)
	}

	if res.Error != "" {
		attrs = append(attrs, "error", res.Error)
	}

	level := slog.LevelInfo
	message := "operation completed"

	if !res.Success {
		level = slog.LevelWarn
		message = "operation failed"
	}

	logger.Log(nil, level, message, attrs...)
}

// DispatchMiddleware wraps operation dispatch with request/result logging.
type DispatchMiddleware struct {
	logger *slog.Logger
}

// NewDispatchMiddleware creates a new dispatch logging middleware.
func NewDispatchMiddleware(logger *slog.Logger) *DispatchMiddleware {
	return &DispatchMiddleware{
		logger: logger,
	}
}

// Handler wraps a function that executes a dispatched operation.
// It logs the request and the outcome automatically.
func (m *DispatchMiddleware) Handler(req *DispatchRequest, handler func() error) error {
	start := time.Now()

	LogDispatchRequest(m.logger, req)

	err := handler()

	res := &DispatchResult{
		Success:    err == nil,
		DurationMs: time.Since(start).Milliseconds(),
	}

	if err != nil {
		res.Error = err.Error()
	}

	LogDispatchResult(m.logger, req, res)

	return err
}
