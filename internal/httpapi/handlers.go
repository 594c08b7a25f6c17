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

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/tombee/conduit/internal/audit"
	"github.com/tombee/conduit/internal/facade"
	"github.com/tombee/conduit/internal/filter"
	"github.com/tombee/conduit/internal/spi"

	"github.com/tombee/conduit/internal/httputil"
)

// operationBody is the request body accepted by the mutating and
// query endpoints. Unused fields stay empty per endpoint.
type operationBody struct {
	Attrs   map[string]any     `json:"attrs,omitempty"`
	Filter  json.RawMessage    `json:"filter,omitempty"`
	Token   *spi.SyncToken     `json:"token,omitempty"`
	Context *spi.ScriptContext `json:"context,omitempty"`
	Options json.RawMessage    `json:"options,omitempty"`
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"connectors": r.registry.Count(),
	})
}

func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"version":   r.config.Version,
		"commit":    r.config.Commit,
		"buildDate": r.config.BuildDate,
	})
}

// connectorSummary is the list/detail shape for instances.
type connectorSummary struct {
	ID           string              `json:"id"`
	Type         string              `json:"type"`
	Version      string              `json:"version"`
	Capabilities []spi.OperationName `json:"capabilities"`
	Breaker      string              `json:"breaker,omitempty"`
}

func (r *Router) handleListConnectors(w http.ResponseWriter, req *http.Request) {
	instances := r.registry.List()
	out := make([]connectorSummary, 0, len(instances))
	for _, inst := range instances {
		out = append(out, connectorSummary{
			ID:           inst.ID,
			Type:         inst.Type,
			Version:      inst.Version,
			Capabilities: spi.Capabilities(inst.Impl),
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"connectors": out})
}

func (r *Router) handleGetConnector(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	inst, err := r.registry.Get(id)
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}

	summary := connectorSummary{
		ID:           inst.ID,
		Type:         inst.Type,
		Version:      inst.Version,
		Capabilities: spi.Capabilities(inst.Impl),
	}
	if f, err := r.facades.Get(id); err == nil {
		summary.Breaker = string(f.BreakerStatus().State)
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

// run resolves the facade, invokes op, journals the outcome and writes
// the response. A nil result with a nil error writes null.
func (r *Router) run(w http.ResponseWriter, req *http.Request, operation spi.OperationName, objectClass, uid string, op func(ctx context.Context, f *facade.Facade) (any, error)) {
	id := req.PathValue("id")
	start := time.Now()

	result, err := func() (any, error) {
		f, ferr := r.facades.Get(id)
		if ferr != nil {
			return nil, ferr
		}
		return op(req.Context(), f)
	}()

	entry := audit.Entry{
		Transport:   "http",
		ConnectorID: id,
		Operation:   string(operation),
		ObjectClass: objectClass,
		UID:         uid,
		Outcome:     "ok",
		Duration:    time.Since(start),
	}
	if err != nil {
		entry.Outcome = "error"
		entry.ErrorKind = spi.AsError(err).WireName()
	}
	if jerr := r.journal.Record(req.Context(), entry); jerr != nil {
		r.logger.Warn("audit record failed", "error", jerr)
	}

	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (r *Router) handleSchema(w http.ResponseWriter, req *http.Request) {
	r.run(w, req, spi.OpSchema, "", "", func(ctx context.Context, f *facade.Facade) (any, error) {
		return f.Schema(ctx)
	})
}

func (r *Router) handleTest(w http.ResponseWriter, req *http.Request) {
	r.run(w, req, spi.OpTest, "", "", func(ctx context.Context, f *facade.Facade) (any, error) {
		return nil, f.Test(ctx)
	})
}

func (r *Router) handleScript(w http.ResponseWriter, req *http.Request) {
	var body operationBody
	if err := httputil.ReadJSON(req, &body); err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	opts, err := spi.ParseOptions(body.Options)
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	if err := body.Context.Validate(); err != nil {
		httputil.WriteTypedError(w, err)
		return
	}

	r.run(w, req, spi.OpScriptOnConnector, "", "", func(ctx context.Context, f *facade.Facade) (any, error) {
		return f.ScriptOnConnector(ctx, body.Context, opts)
	})
}

func (r *Router) handleCreate(w http.ResponseWriter, req *http.Request) {
	objectClass := req.PathValue("objectClass")

	var body operationBody
	if err := httputil.ReadJSON(req, &body); err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	if body.Attrs == nil {
		httputil.WriteTypedError(w, spi.NewValidationError("request requires attrs object"))
		return
	}
	opts, err := spi.ParseOptions(body.Options)
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}

	r.run(w, req, spi.OpCreate, objectClass, "", func(ctx context.Context, f *facade.Facade) (any, error) {
		return f.Create(ctx, objectClass, body.Attrs, opts)
	})
}

// optionsFromQuery builds an option bag from GET query parameters.
// Only the projection is supported on reads; everything else rides in
// request bodies.
func optionsFromQuery(req *http.Request) *spi.OperationOptions {
	attrs := req.URL.Query().Get("attributes")
	if attrs == "" {
		return nil
	}
	var projection []string
	for _, a := range strings.Split(attrs, ",") {
		if a = strings.TrimSpace(a); a != "" {
			projection = append(projection, a)
		}
	}
	if len(projection) == 0 {
		return nil
	}
	return &spi.OperationOptions{AttributesToGet: projection}
}

func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) {
	objectClass := req.PathValue("objectClass")
	uid := req.PathValue("uid")
	opts := optionsFromQuery(req)

	r.run(w, req, spi.OpGet, objectClass, uid, func(ctx context.Context, f *facade.Facade) (any, error) {
		return f.Get(ctx, objectClass, uid, opts)
	})
}

func (r *Router) handleUpdate(w http.ResponseWriter, req *http.Request) {
	objectClass := req.PathValue("objectClass")
	uid := req.PathValue("uid")

	var body operationBody
	if err := httputil.ReadJSON(req, &body); err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	if body.Attrs == nil {
		httputil.WriteTypedError(w, spi.NewValidationError("request requires attrs object"))
		return
	}
	opts, err := spi.ParseOptions(body.Options)
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}

	r.run(w, req, spi.OpUpdate, objectClass, uid, func(ctx context.Context, f *facade.Facade) (any, error) {
		return f.Update(ctx, objectClass, uid, body.Attrs, opts)
	})
}

func (r *Router) handleDelete(w http.ResponseWriter, req *http.Request) {
	objectClass := req.PathValue("objectClass")
	uid := req.PathValue("uid")

	r.run(w, req, spi.OpDelete, objectClass, uid, func(ctx context.Context, f *facade.Facade) (any, error) {
		return nil, f.Delete(ctx, objectClass, uid, nil)
	})
}

// searchResponse is the list-mode search reply.
type searchResponse struct {
	Results               []*spi.ConnectorObject `json:"results"`
	NextOffset            int                    `json:"nextOffset,omitempty"`
	PagedResultsCookie    string                 `json:"pagedResultsCookie,omitempty"`
	RemainingPagedResults int                    `json:"remainingPagedResults,omitempty"`
}

func (r *Router) handleSearch(w http.ResponseWriter, req *http.Request) {
	objectClass := req.PathValue("objectClass")

	var body operationBody
	if err := httputil.ReadJSON(req, &body); err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	flt, err := filter.Parse(body.Filter)
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	opts, err := spi.ParseOptions(body.Options)
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}

	r.run(w, req, spi.OpSearch, objectClass, "", func(ctx context.Context, f *facade.Facade) (any, error) {
		page, err := f.Search(ctx, objectClass, flt, opts)
		if err != nil {
			return nil, err
		}
		results := page.Objects
		if results == nil {
			results = []*spi.ConnectorObject{}
		}
		return searchResponse{
			Results:               results,
			NextOffset:            page.NextOffset,
			PagedResultsCookie:    page.PagedResultsCookie,
			RemainingPagedResults: page.RemainingPagedResults,
		}, nil
	})
}

func (r *Router) handleSync(w http.ResponseWriter, req *http.Request) {
	objectClass := req.PathValue("objectClass")

	var body operationBody
	if err := httputil.ReadJSON(req, &body); err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	opts, err := spi.ParseOptions(body.Options)
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}

	r.run(w, req, spi.OpSync, objectClass, "", func(ctx context.Context, f *facade.Facade) (any, error) {
		return f.Sync(ctx, objectClass, body.Token, opts)
	})
}
