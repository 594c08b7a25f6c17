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

package restdir

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/tombee/conduit/internal/filter"
	"github.com/tombee/conduit/internal/spi"
)

// Connector adapts a JSON REST backend to the uniform operation set.
type Connector struct {
	cfg    *Config
	client *http.Client
	log    *slog.Logger
}

// Factory builds a restdir instance with timeout, redirect and body
// size caps applied to its HTTP client.
func Factory(ctx context.Context, params spi.FactoryParams) (spi.Connector, error) {
	cfg, ok := params.Config.(*Config)
	if !ok {
		return nil, spi.NewConfigInvalid("config", "restdir requires a built config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := &http.Client{
		Timeout: cfg.timeout(),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.maxRedirects() {
				return fmt.Errorf("stopped after %d redirects", cfg.maxRedirects())
			}
			return nil
		},
	}
	return &Connector{cfg: cfg, client: client, log: params.Logger}, nil
}

func (c *Connector) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// Test issues a GET against the base URL. Any response proves the
// backend is reachable; only transport errors fail.
func (c *Connector) Test(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, c.cfg.BaseURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return spi.NewBackendError("backend unreachable", err)
	}
	resp.Body.Close()
	return nil
}

// Schema surfaces the configured object classes. Attribute shapes are
// unknown to a generic REST adapter, so classes list only the filterable
// attributes.
func (c *Connector) Schema(ctx context.Context) (*spi.Schema, error) {
	classes := make([]string, 0, len(c.cfg.ObjectClasses))
	for class := range c.cfg.ObjectClasses {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	s := &spi.Schema{Features: spi.SchemaFeatures{Paging: true}}
	for _, class := range classes {
		ep := c.cfg.ObjectClasses[class]
		info := spi.ObjectClassInfo{
			Name:        class,
			IDAttribute: ep.idField(),
			Supports: []spi.ObjectClassOperation{
				spi.SupportsCreate, spi.SupportsUpdate, spi.SupportsDelete,
				spi.SupportsGet, spi.SupportsSearch,
			},
		}
		for _, attr := range ep.FilterAttrs {
			info.Attributes = append(info.Attributes, spi.SchemaAttribute{
				Name: attr, Type: spi.TypeString, Readable: true, ReturnedByDefault: true,
			})
		}
		s.ObjectClasses = append(s.ObjectClasses, info)
	}
	s.Normalize()
	return s, nil
}

func (c *Connector) Create(ctx context.Context, objectClass string, attrs map[string]any, opts *spi.OperationOptions) (*spi.ConnectorObject, error) {
	ep, err := c.endpoint(objectClass)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(attrs)
	if err != nil {
		return nil, spi.NewValidationErrorf("encode attributes: %v", err)
	}
	data, status, err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+ep.Path, body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, spi.NewBackendStatusError(status, snippet(data))
	}
	return c.toObject(ctx, ep, objectClass, data, opts)
}

func (c *Connector) Get(ctx context.Context, objectClass, uid string, opts *spi.OperationOptions) (*spi.ConnectorObject, error) {
	ep, err := c.endpoint(objectClass)
	if err != nil {
		return nil, err
	}

	data, status, err := c.do(ctx, http.MethodGet, c.itemURL(ep, uid), nil)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, nil
	case status < 200 || status > 299:
		return nil, spi.NewBackendStatusError(status, snippet(data))
	}
	return c.toObject(ctx, ep, objectClass, data, opts)
}

func (c *Connector) Update(ctx context.Context, objectClass, uid string, attrs map[string]any, opts *spi.OperationOptions) (*spi.ConnectorObject, error) {
	ep, err := c.endpoint(objectClass)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(attrs)
	if err != nil {
		return nil, spi.NewValidationErrorf("encode attributes: %v", err)
	}
	data, status, err := c.do(ctx, http.MethodPatch, c.itemURL(ep, uid), body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, spi.NewBackendStatusError(status, snippet(data))
	}
	return c.toObject(ctx, ep, objectClass, data, opts)
}

func (c *Connector) Delete(ctx context.Context, objectClass, uid string, opts *spi.OperationOptions) error {
	ep, err := c.endpoint(objectClass)
	if err != nil {
		return err
	}

	data, status, err := c.do(ctx, http.MethodDelete, c.itemURL(ep, uid), nil)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return spi.NewBackendStatusError(status, snippet(data))
	}
	return nil
}

// Search translates the filter to an OData-style $filter query string
// with $top/$skip paging.
func (c *Connector) Search(ctx context.Context, objectClass string, f *spi.Filter, opts *spi.OperationOptions) (*spi.Page, error) {
	ep, err := c.endpoint(objectClass)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	if f != nil {
		expr, err := filter.ToQueryString(f, filter.PathSet(ep.FilterAttrs...))
		if err != nil {
			return nil, err
		}
		query.Set("$filter", expr)
	}

	offset, limit := 0, 0
	if opts != nil {
		offset = opts.PagedResultsOffset
		limit = opts.PageSize
	}
	if limit > 0 {
		// One extra row detects whether another page exists.
		query.Set("$top", strconv.Itoa(limit+1))
	}
	if offset > 0 {
		query.Set("$skip", strconv.Itoa(offset))
	}

	target := c.cfg.BaseURL + ep.Path
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}

	data, status, err := c.do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, spi.NewBackendStatusError(status, snippet(data))
	}

	items, err := c.listItems(ctx, ep, data)
	if err != nil {
		return nil, err
	}

	page := &spi.Page{RemainingPagedResults: -1}
	for _, item := range items {
		obj, err := c.itemToObject(ctx, ep, "", item)
		if err != nil {
			return nil, err
		}
		obj.ObjectClass = objectClass
		page.Objects = append(page.Objects, obj.Project(attributesToGet(opts)))
	}
	if limit > 0 && len(page.Objects) > limit {
		page.Objects = page.Objects[:limit]
		page.NextOffset = offset + limit
	}
	return page, nil
}

func (c *Connector) endpoint(objectClass string) (*EndpointConfig, error) {
	ep, ok := c.cfg.ObjectClasses[objectClass]
	if !ok {
		return nil, spi.NewValidationErrorf("unknown object class %q", objectClass)
	}
	return &ep, nil
}

func (c *Connector) itemURL(ep *EndpointConfig, uid string) string {
	return c.cfg.BaseURL + ep.Path + "/" + url.PathEscape(uid)
}

func (c *Connector) newRequest(ctx context.Context, method, target string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, spi.NewValidationErrorf("build request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	switch c.cfg.Auth.Type {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+c.cfg.Auth.Token)
	case "basic":
		req.SetBasicAuth(c.cfg.Auth.Username, c.cfg.Auth.Password)
	}
	return req, nil
}

// do runs one request, returning the size-capped body and status.
func (c *Connector) do(ctx context.Context, method, target string, body []byte) ([]byte, int, error) {
	req, err := c.newRequest(ctx, method, target, body)
	if err != nil {
		return nil, 0, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, spi.NewBackendError("request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.maxBodyBytes()+1))
	if err != nil {
		return nil, 0, spi.NewBackendError("read response", err)
	}
	if int64(len(data)) > c.cfg.maxBodyBytes() {
		return nil, 0, spi.NewBackendError(
			fmt.Sprintf("response exceeds %d bytes", c.cfg.maxBodyBytes()), nil)
	}
	return data, resp.StatusCode, nil
}

// listItems extracts the item array from a list response.
func (c *Connector) listItems(ctx context.Context, ep *EndpointConfig, data []byte) ([]any, error) {
	var decoded any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			return nil, spi.NewBackendError("decode list response", err)
		}
	}

	transformed, err := applyTransform(ctx, ep.ListTransform, decoded)
	if err != nil {
		return nil, err
	}

	switch tv := transformed.(type) {
	case nil:
		return nil, nil
	case []any:
		return tv, nil
	case map[string]any:
		if items, ok := tv["items"].([]any); ok {
			return items, nil
		}
	}
	return nil, spi.NewBackendError("list response is not an array", nil)
}

// toObject decodes one item response and maps it to a connector object.
func (c *Connector) toObject(ctx context.Context, ep *EndpointConfig, objectClass string, data []byte, opts *spi.OperationOptions) (*spi.ConnectorObject, error) {
	var decoded any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			return nil, spi.NewBackendError("decode response", err)
		}
	}
	obj, err := c.itemToObject(ctx, ep, objectClass, decoded)
	if err != nil {
		return nil, err
	}
	return obj.Project(attributesToGet(opts)), nil
}

func (c *Connector) itemToObject(ctx context.Context, ep *EndpointConfig, objectClass string, item any) (*spi.ConnectorObject, error) {
	transformed, err := applyTransform(ctx, ep.Transform, item)
	if err != nil {
		return nil, err
	}

	attrs, ok := transformed.(map[string]any)
	if !ok {
		return nil, spi.NewBackendError("item is not a JSON object", nil)
	}

	uid := fmt.Sprint(attrs[ep.idField()])
	if uid == "" || uid == "<nil>" {
		return nil, spi.NewBackendError(fmt.Sprintf("item missing %q field", ep.idField()), nil)
	}

	obj := &spi.ConnectorObject{
		ObjectClass: objectClass,
		UID:         uid,
		Attributes:  make(map[string]any, len(attrs)),
	}
	for k, v := range attrs {
		if k == ep.idField() {
			continue
		}
		obj.Attributes[k] = v
	}
	return obj, nil
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		s = "(empty body)"
	}
	return s
}

func attributesToGet(opts *spi.OperationOptions) []string {
	if opts == nil {
		return nil
	}
	return opts.AttributesToGet
}
