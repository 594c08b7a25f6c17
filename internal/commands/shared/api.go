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

package shared

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// DefaultServerURL is where conduitd listens when nothing else is
// configured.
const DefaultServerURL = "http://127.0.0.1:8490"

// Environment fallbacks for the API flags.
const (
	EnvServerURL = "CONDUIT_SERVER"
	EnvAPIToken  = "CONDUIT_TOKEN"
)

// APIError is a non-2xx response from the daemon, carrying the wire
// error shape when the body had one.
type APIError struct {
	Status int
	Name   string
	Msg    string
}

func (e *APIError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s (%s)", e.Msg, e.Name)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Msg)
}

// APIClient talks to the conduitd HTTP API.
type APIClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewAPIClient resolves the server URL and bearer token from the global
// flags, the environment and the defaults, in that order.
func NewAPIClient() *APIClient {
	base := GetServer()
	if base == "" {
		base = os.Getenv(EnvServerURL)
	}
	if base == "" {
		base = DefaultServerURL
	}

	token := GetToken()
	if token == "" {
		token = os.Getenv(EnvAPIToken)
	}

	return &APIClient{
		baseURL: strings.TrimRight(base, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Do sends a request with an optional JSON body and decodes the JSON
// response into out (skipped when out is nil). Non-2xx responses come
// back as *APIError.
func (c *APIClient) Do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Msg: strings.TrimSpace(string(data))}
		var wire struct {
			Error string `json:"error"`
			Name  string `json:"name"`
		}
		if json.Unmarshal(data, &wire) == nil && wire.Error != "" {
			apiErr.Msg = wire.Error
			apiErr.Name = wire.Name
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Get is Do with the GET method and no body.
func (c *APIClient) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}
