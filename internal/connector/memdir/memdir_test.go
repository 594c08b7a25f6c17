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
	"testing"

	"github.com/tombee/conduit/internal/spi"
)

func newTestConnector(t *testing.T) *Connector {
	t.Helper()
	conn, err := Factory(context.Background(), spi.FactoryParams{
		Config: &Config{
			Seed: map[string][]map[string]any{
				ClassUser: {
					{"uid": "u-ada", "username": "ada", "email": "ada@example.com", "active": true},
					{"uid": "u-grace", "username": "grace", "email": "grace@example.com", "active": false},
				},
				ClassGroup: {
					{"uid": "g-eng", "name": "engineering", "members": []any{"u-ada"}},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	return conn.(*Connector)
}

func TestSeededObjects(t *testing.T) {
	c := newTestConnector(t)

	obj, err := c.Get(context.Background(), ClassUser, "u-ada", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if obj == nil || obj.Attributes["username"] != "ada" {
		t.Fatalf("object = %+v", obj)
	}

	// Seeds do not appear in sync history.
	token, err := c.LatestSyncToken(context.Background(), ClassUser)
	if err != nil {
		t.Fatalf("latest token: %v", err)
	}
	if token.Value != "0" {
		t.Errorf("token = %q, want 0", token.Value)
	}
}

func TestCreateUpdateDelete(t *testing.T) {
	c := newTestConnector(t)
	ctx := context.Background()

	created, err := c.Create(ctx, ClassUser, map[string]any{"username": "linus"}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.UID == "" {
		t.Fatal("created object missing uid")
	}

	// Duplicate uid is a conflict.
	if _, err := c.Create(ctx, ClassUser, map[string]any{"uid": created.UID}, nil); err == nil {
		t.Error("duplicate create should fail")
	}

	updated, err := c.Update(ctx, ClassUser, created.UID, map[string]any{"email": "linus@example.com"}, nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Attributes["email"] != "linus@example.com" || updated.Attributes["username"] != "linus" {
		t.Errorf("updated attributes = %v", updated.Attributes)
	}

	// Nil value removes the attribute.
	updated, err = c.Update(ctx, ClassUser, created.UID, map[string]any{"email": nil}, nil)
	if err != nil {
		t.Fatalf("update remove: %v", err)
	}
	if _, ok := updated.Attributes["email"]; ok {
		t.Error("nil update should remove the attribute")
	}

	if err := c.Delete(ctx, ClassUser, created.UID, nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if obj, _ := c.Get(ctx, ClassUser, created.UID, nil); obj != nil {
		t.Error("deleted object still retrievable")
	}
	if err := c.Delete(ctx, ClassUser, created.UID, nil); err == nil {
		t.Error("deleting a missing object should fail")
	}
}

func TestSearchFilterSortPage(t *testing.T) {
	c := newTestConnector(t)
	ctx := context.Background()

	page, err := c.Search(ctx, ClassUser, spi.Cmp(spi.OpEQ, []string{"active"}, true), nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(page.Objects) != 1 || page.Objects[0].UID != "u-ada" {
		t.Fatalf("objects = %+v", page.Objects)
	}

	// Sorted paging across the whole class.
	page, err = c.Search(ctx, ClassUser, nil, &spi.OperationOptions{
		PageSize:                1,
		SortKeys:                []spi.SortKey{{Field: "username", Ascending: true}},
		TotalPagedResultsPolicy: spi.PolicyExact,
	})
	if err != nil {
		t.Fatalf("search page 1: %v", err)
	}
	if len(page.Objects) != 1 || page.Objects[0].Attributes["username"] != "ada" {
		t.Fatalf("page 1 = %+v", page.Objects)
	}
	if page.NextOffset != 1 || page.RemainingPagedResults != 1 {
		t.Errorf("paging state: nextOffset=%d remaining=%d", page.NextOffset, page.RemainingPagedResults)
	}

	page, err = c.Search(ctx, ClassUser, nil, &spi.OperationOptions{
		PageSize:           1,
		PagedResultsOffset: page.NextOffset,
		SortKeys:           []spi.SortKey{{Field: "username", Ascending: true}},
	})
	if err != nil {
		t.Fatalf("search page 2: %v", err)
	}
	if len(page.Objects) != 1 || page.Objects[0].Attributes["username"] != "grace" {
		t.Fatalf("page 2 = %+v", page.Objects)
	}
	if page.NextOffset != 0 {
		t.Errorf("last page nextOffset = %d", page.NextOffset)
	}
}

func TestSyncJournal(t *testing.T) {
	c := newTestConnector(t)
	ctx := context.Background()

	// Nil token: current position, no changes.
	res, err := c.Sync(ctx, ClassUser, nil, nil)
	if err != nil {
		t.Fatalf("sync nil token: %v", err)
	}
	if len(res.Changes) != 0 {
		t.Fatalf("changes = %d, want 0", len(res.Changes))
	}
	start := res.Token

	created, err := c.Create(ctx, ClassUser, map[string]any{"username": "linus"}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := c.Update(ctx, ClassUser, created.UID, map[string]any{"active": true}, nil); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := c.Delete(ctx, ClassUser, "u-grace", nil); err != nil {
		t.Fatalf("delete: %v", err)
	}

	res, err = c.Sync(ctx, ClassUser, start, nil)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(res.Changes) != 2 {
		t.Fatalf("changes = %d, want 2 (create+update collapsed, one delete)", len(res.Changes))
	}

	var sawCreate, sawDelete bool
	for _, ch := range res.Changes {
		switch {
		case ch.UID == created.UID && !ch.IsDeleted():
			sawCreate = true
			if ch.Attributes["active"] != true {
				t.Error("collapsed change should carry the latest state")
			}
		case ch.UID == "u-grace" && ch.IsDeleted():
			sawDelete = true
		}
	}
	if !sawCreate || !sawDelete {
		t.Errorf("changes = %+v", res.Changes)
	}

	// Replaying from the new token yields nothing.
	res2, err := c.Sync(ctx, ClassUser, res.Token, nil)
	if err != nil {
		t.Fatalf("sync replay: %v", err)
	}
	if len(res2.Changes) != 0 {
		t.Errorf("replay changes = %d", len(res2.Changes))
	}

	if _, err := c.Sync(ctx, ClassUser, &spi.SyncToken{Value: "bogus"}, nil); err == nil {
		t.Error("invalid token should fail")
	}
}

func TestAttributeValues(t *testing.T) {
	c := newTestConnector(t)
	ctx := context.Background()

	obj, err := c.AddAttributeValues(ctx, ClassGroup, "g-eng", map[string][]any{
		"members": {"u-grace", "u-ada"},
	}, nil)
	if err != nil {
		t.Fatalf("add values: %v", err)
	}
	members := obj.Attributes["members"].([]any)
	if len(members) != 2 {
		t.Fatalf("members = %v, want deduplicated pair", members)
	}

	obj, err = c.RemoveAttributeValues(ctx, ClassGroup, "g-eng", map[string][]any{
		"members": {"u-ada"},
	}, nil)
	if err != nil {
		t.Fatalf("remove values: %v", err)
	}
	members = obj.Attributes["members"].([]any)
	if len(members) != 1 || members[0] != "u-grace" {
		t.Fatalf("members = %v", members)
	}

	if _, err := c.AddAttributeValues(ctx, ClassGroup, "g-eng", map[string][]any{
		"name": {"other"},
	}, nil); err == nil {
		t.Error("adding values to a single-valued attribute should fail")
	}
}

func TestScriptOnConnector(t *testing.T) {
	c := newTestConnector(t)
	ctx := context.Background()

	result, err := c.ScriptOnConnector(ctx, &spi.ScriptContext{
		Language: "expr",
		Script:   `count("user") + params.extra`,
		Params:   map[string]any{"extra": 1},
	}, nil)
	if err != nil {
		t.Fatalf("script: %v", err)
	}
	if n, ok := result.(int); !ok || n != 3 {
		t.Errorf("result = %v (%T), want 3", result, result)
	}

	if _, err := c.ScriptOnConnector(ctx, &spi.ScriptContext{
		Language: "groovy",
		Script:   "1",
	}, nil); !spi.IsType(err, spi.ErrorTypeNotSupported) {
		t.Errorf("unsupported language error = %v", err)
	}

	if _, err := c.ScriptOnConnector(ctx, &spi.ScriptContext{
		Language: "expr",
		Script:   "not valid ((",
	}, nil); err == nil {
		t.Error("invalid script should fail to compile")
	}
}
