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

package memdir

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/tombee/conduit/internal/filter"
	"github.com/tombee/conduit/internal/spi"
)

const (
	ClassUser  = "user"
	ClassGroup = "group"
)

// change is one journal row. Sync tokens are journal sequence numbers.
type change struct {
	seq         uint64
	objectClass string
	uid         string
	deleted     bool
}

// Connector is an in-memory directory of users and groups.
type Connector struct {
	cfg *Config
	log *slog.Logger

	mu      sync.RWMutex
	objects map[string]map[string]*spi.ConnectorObject
	journal []change
	seq     uint64
	// trimmedThrough is the highest sequence dropped from the journal.
	trimmedThrough uint64
}

// Factory builds a memdir instance, seeding objects from config.
func Factory(ctx context.Context, params spi.FactoryParams) (spi.Connector, error) {
	cfg, ok := params.Config.(*Config)
	if !ok {
		built, err := BuildConfig(asMap(params.Config))
		if err != nil {
			return nil, err
		}
		cfg = built.(*Config)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Connector{
		cfg:     cfg,
		log:     params.Logger,
		objects: map[string]map[string]*spi.ConnectorObject{},
	}
	for class, seeds := range cfg.Seed {
		for _, attrs := range seeds {
			uid, _ := attrs["uid"].(string)
			if uid == "" {
				uid = uuid.NewString()
			}
			obj := &spi.ConnectorObject{
				ObjectClass: class,
				UID:         uid,
				Attributes:  cloneAttrs(attrs),
			}
			delete(obj.Attributes, "uid")
			c.put(obj)
		}
	}
	// Seeding is not sync history.
	c.journal = nil
	return c, nil
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func (c *Connector) Close() error { return nil }

func (c *Connector) Test(ctx context.Context) error { return nil }

// Schema describes the two built-in object classes.
func (c *Connector) Schema(ctx context.Context) (*spi.Schema, error) {
	user, _ := classInfo(ClassUser)
	group, _ := classInfo(ClassGroup)
	s := &spi.Schema{
		ObjectClasses: []spi.ObjectClassInfo{user, group},
		Features: spi.SchemaFeatures{
			Paging:            true,
			Sorting:           true,
			ScriptOnConnector: true,
		},
	}
	s.Normalize()
	return s, nil
}

func classInfo(name string) (spi.ObjectClassInfo, bool) {
	allOps := []spi.ObjectClassOperation{
		spi.SupportsCreate, spi.SupportsUpdate, spi.SupportsDelete,
		spi.SupportsGet, spi.SupportsSearch, spi.SupportsSync,
	}
	switch name {
	case ClassUser:
		return spi.ObjectClassInfo{
			Name:     ClassUser,
			Supports: allOps,
			Attributes: []spi.SchemaAttribute{
				{Name: "username", Type: spi.TypeString, Required: true, Creatable: true, Updateable: true, Readable: true, ReturnedByDefault: true},
				{Name: "email", Type: spi.TypeString, Creatable: true, Updateable: true, Readable: true, ReturnedByDefault: true},
				{Name: "displayName", Type: spi.TypeString, Creatable: true, Updateable: true, Readable: true, ReturnedByDefault: true},
				{Name: "active", Type: spi.TypeBoolean, Creatable: true, Updateable: true, Readable: true, ReturnedByDefault: true},
				{Name: "groups", Type: spi.TypeReference, MultiValued: true, Creatable: true, Updateable: true, Readable: true},
			},
		}, true
	case ClassGroup:
		return spi.ObjectClassInfo{
			Name:     ClassGroup,
			Supports: allOps,
			Attributes: []spi.SchemaAttribute{
				{Name: "name", Type: spi.TypeString, Required: true, Creatable: true, Updateable: true, Readable: true, ReturnedByDefault: true},
				{Name: "description", Type: spi.TypeString, Creatable: true, Updateable: true, Readable: true, ReturnedByDefault: true},
				{Name: "members", Type: spi.TypeReference, MultiValued: true, Creatable: true, Updateable: true, Readable: true},
			},
		}, true
	}
	return spi.ObjectClassInfo{}, false
}

func (c *Connector) Create(ctx context.Context, objectClass string, attrs map[string]any, opts *spi.OperationOptions) (*spi.ConnectorObject, error) {
	if _, ok := classInfo(objectClass); !ok {
		return nil, spi.NewValidationErrorf("unknown object class %q", objectClass)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	uid, _ := attrs["uid"].(string)
	if uid == "" {
		uid = uuid.NewString()
	}
	if _, exists := c.objects[objectClass][uid]; exists {
		return nil, spi.NewBackendStatusError(409, fmt.Sprintf("object %s/%s already exists", objectClass, uid))
	}

	obj := &spi.ConnectorObject{
		ObjectClass: objectClass,
		UID:         uid,
		Attributes:  cloneAttrs(attrs),
	}
	delete(obj.Attributes, "uid")
	c.put(obj)
	c.record(objectClass, uid, false)
	return obj.Project(attributesToGet(opts)), nil
}

func (c *Connector) Get(ctx context.Context, objectClass, uid string, opts *spi.OperationOptions) (*spi.ConnectorObject, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	obj, ok := c.objects[objectClass][uid]
	if !ok {
		return nil, nil
	}
	return cloneObject(obj).Project(attributesToGet(opts)), nil
}

func (c *Connector) Update(ctx context.Context, objectClass, uid string, attrs map[string]any, opts *spi.OperationOptions) (*spi.ConnectorObject, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, ok := c.objects[objectClass][uid]
	if !ok {
		return nil, spi.NewBackendStatusError(404, fmt.Sprintf("object %s/%s not found", objectClass, uid))
	}

	for name, value := range attrs {
		if name == "uid" {
			continue
		}
		if value == nil {
			delete(obj.Attributes, name)
			continue
		}
		obj.Attributes[name] = cloneValue(value)
	}
	c.record(objectClass, uid, false)
	return cloneObject(obj).Project(attributesToGet(opts)), nil
}

func (c *Connector) Delete(ctx context.Context, objectClass, uid string, opts *spi.OperationOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.objects[objectClass][uid]; !ok {
		return spi.NewBackendStatusError(404, fmt.Sprintf("object %s/%s not found", objectClass, uid))
	}
	delete(c.objects[objectClass], uid)
	c.record(objectClass, uid, true)
	return nil
}

// Search evaluates the filter in memory, then sorts and pages.
func (c *Connector) Search(ctx context.Context, objectClass string, f *spi.Filter, opts *spi.OperationOptions) (*spi.Page, error) {
	c.mu.RLock()
	var matched []*spi.ConnectorObject
	for _, obj := range c.objects[objectClass] {
		if filter.Matches(f, obj) {
			matched = append(matched, cloneObject(obj))
		}
	}
	c.mu.RUnlock()

	sortObjects(matched, opts)

	total := len(matched)
	offset, limit := 0, total
	policy := ""
	if opts != nil {
		policy = opts.TotalPagedResultsPolicy
		if opts.PagedResultsOffset > 0 {
			offset = opts.PagedResultsOffset
		}
		if opts.PageSize > 0 {
			limit = opts.PageSize
		}
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	page := &spi.Page{
		Objects:               matched[offset:end],
		RemainingPagedResults: -1,
	}
	for i, obj := range page.Objects {
		page.Objects[i] = obj.Project(attributesToGet(opts))
	}
	if end < total {
		page.NextOffset = end
	}
	if policy != "" && policy != spi.PolicyNone {
		page.RemainingPagedResults = total - end
	}
	return page, nil
}

// Sync replays the change journal after the given token. A nil token
// returns the current position with no changes.
func (c *Connector) Sync(ctx context.Context, objectClass string, token *spi.SyncToken, opts *spi.OperationOptions) (*spi.SyncResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if token == nil {
		return &spi.SyncResult{Token: c.tokenLocked()}, nil
	}

	since, err := strconv.ParseUint(token.Value, 10, 64)
	if err != nil {
		return nil, spi.NewValidationErrorf("invalid sync token %q", token.Value)
	}
	if since < c.trimmedThrough {
		return nil, spi.NewValidationError("sync token no longer valid")
	}

	// Latest change per uid wins; earlier churn is collapsed.
	latest := map[string]change{}
	var order []string
	for _, ch := range c.journal {
		if ch.seq <= since || ch.objectClass != objectClass {
			continue
		}
		if _, seen := latest[ch.uid]; !seen {
			order = append(order, ch.uid)
		}
		latest[ch.uid] = ch
	}

	result := &spi.SyncResult{Token: c.tokenLocked()}
	for _, uid := range order {
		ch := latest[uid]
		if ch.deleted {
			result.Changes = append(result.Changes, spi.NewDeletedObject(objectClass, uid))
			continue
		}
		if obj, ok := c.objects[objectClass][uid]; ok {
			result.Changes = append(result.Changes, cloneObject(obj))
		}
	}
	return result, nil
}

func (c *Connector) LatestSyncToken(ctx context.Context, objectClass string) (*spi.SyncToken, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokenLocked(), nil
}

func (c *Connector) tokenLocked() *spi.SyncToken {
	return &spi.SyncToken{Value: strconv.FormatUint(c.seq, 10)}
}

func (c *Connector) AddAttributeValues(ctx context.Context, objectClass, uid string, attrs map[string][]any, opts *spi.OperationOptions) (*spi.ConnectorObject, error) {
	return c.editValues(objectClass, uid, attrs, opts, func(current []any, values []any) []any {
		for _, v := range values {
			if !containsValue(current, v) {
				current = append(current, cloneValue(v))
			}
		}
		return current
	})
}

func (c *Connector) RemoveAttributeValues(ctx context.Context, objectClass, uid string, attrs map[string][]any, opts *spi.OperationOptions) (*spi.ConnectorObject, error) {
	return c.editValues(objectClass, uid, attrs, opts, func(current []any, values []any) []any {
		kept := current[:0]
		for _, v := range current {
			if !containsValue(values, v) {
				kept = append(kept, v)
			}
		}
		return kept
	})
}

func (c *Connector) editValues(objectClass, uid string, attrs map[string][]any, opts *spi.OperationOptions, edit func([]any, []any) []any) (*spi.ConnectorObject, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, ok := c.objects[objectClass][uid]
	if !ok {
		return nil, spi.NewBackendStatusError(404, fmt.Sprintf("object %s/%s not found", objectClass, uid))
	}

	for name, values := range attrs {
		current, ok := obj.Attributes[name].([]any)
		if !ok && obj.Attributes[name] != nil {
			return nil, spi.NewValidationErrorf("attribute %q is not multi-valued", name)
		}
		obj.Attributes[name] = edit(current, values)
	}
	c.record(objectClass, uid, false)
	return cloneObject(obj).Project(attributesToGet(opts)), nil
}

// put stores without journaling; callers journal explicitly.
func (c *Connector) put(obj *spi.ConnectorObject) {
	class := c.objects[obj.ObjectClass]
	if class == nil {
		class = map[string]*spi.ConnectorObject{}
		c.objects[obj.ObjectClass] = class
	}
	class[obj.UID] = obj
}

func (c *Connector) record(objectClass, uid string, deleted bool) {
	c.seq++
	c.journal = append(c.journal, change{seq: c.seq, objectClass: objectClass, uid: uid, deleted: deleted})
	if limit := c.cfg.journalLimit(); len(c.journal) > limit {
		dropped := c.journal[:len(c.journal)-limit]
		c.trimmedThrough = dropped[len(dropped)-1].seq
		c.journal = append([]change(nil), c.journal[len(c.journal)-limit:]...)
	}
}

func attributesToGet(opts *spi.OperationOptions) []string {
	if opts == nil {
		return nil
	}
	return opts.AttributesToGet
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if reflect.DeepEqual(item, v) {
			return true
		}
	}
	return false
}

func cloneObject(obj *spi.ConnectorObject) *spi.ConnectorObject {
	return &spi.ConnectorObject{
		ObjectClass: obj.ObjectClass,
		UID:         obj.UID,
		Name:        obj.Name,
		Attributes:  cloneAttrs(obj.Attributes),
	}
}

func cloneAttrs(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return cloneAttrs(tv)
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return tv
	}
}

// sortObjects orders by the effective sort keys, then by UID for a
// stable total order.
func sortObjects(objs []*spi.ConnectorObject, opts *spi.OperationOptions) {
	var keys []spi.SortKey
	if opts != nil {
		keys = opts.EffectiveSortKeys()
	}

	sort.SliceStable(objs, func(i, j int) bool {
		for _, key := range keys {
			cmp := compareValues(objs[i].Attributes[key.Field], objs[j].Attributes[key.Field])
			if cmp == 0 {
				continue
			}
			if key.Ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		return objs[i].UID < objs[j].UID
	})
}

func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}

	as := fmt.Sprint(a)
	bs := fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func asFloat(v any) (float64, bool) {
	switch tv := v.(type) {
	case float64:
		return tv, true
	case float32:
		return float64(tv), true
	case int:
		return float64(tv), true
	case int64:
		return float64(tv), true
	case json.Number:
		f, err := tv.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
