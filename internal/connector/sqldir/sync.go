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

package sqldir

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/tombee/conduit/internal/spi"
)

// ensureChangelog creates the changelog table on first use.
func (c *Connector) ensureChangelog(ctx context.Context) error {
	var ddl string
	switch c.cfg.Driver {
	case "postgres":
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq BIGSERIAL PRIMARY KEY,
			object_class TEXT NOT NULL,
			uid TEXT NOT NULL,
			deleted BOOLEAN NOT NULL DEFAULT FALSE,
			changed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, quote(c.cfg.ChangelogTable))
	default:
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			object_class TEXT NOT NULL,
			uid TEXT NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0,
			changed_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`, quote(c.cfg.ChangelogTable))
	}

	if _, err := c.db.ExecContext(ctx, ddl); err != nil {
		return spi.NewBackendError("create changelog table", err)
	}
	return nil
}

// journalTx appends one changelog row inside the caller's transaction.
// Without a changelog table writes are not journaled and sync is
// unsupported.
func (c *Connector) journalTx(ctx context.Context, tx *sql.Tx, objectClass, uid string, deleted bool) error {
	if c.cfg.ChangelogTable == "" {
		return nil
	}
	stmt := fmt.Sprintf("INSERT INTO %s (object_class, uid, deleted) VALUES ($1, $2, $3)",
		quote(c.cfg.ChangelogTable))
	if _, err := tx.ExecContext(ctx, c.rebind(stmt), objectClass, uid, deleted); err != nil {
		return spi.NewBackendError("write changelog", err)
	}
	return nil
}

// Sync replays the changelog after the given token, collapsing repeated
// changes to one entry per uid. A nil token returns the current
// position with no changes.
func (c *Connector) Sync(ctx context.Context, objectClass string, token *spi.SyncToken, opts *spi.OperationOptions) (*spi.SyncResult, error) {
	if c.cfg.ChangelogTable == "" {
		return nil, spi.NewNotSupported(string(spi.OpSync))
	}
	if _, err := c.table(objectClass); err != nil {
		return nil, err
	}

	latest, err := c.LatestSyncToken(ctx, objectClass)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return &spi.SyncResult{Token: latest}, nil
	}

	since, err := strconv.ParseUint(token.Value, 10, 64)
	if err != nil {
		return nil, spi.NewValidationErrorf("invalid sync token %q", token.Value)
	}

	stmt := fmt.Sprintf("SELECT seq, uid, deleted FROM %s WHERE seq > $1 AND object_class = $2 ORDER BY seq",
		quote(c.cfg.ChangelogTable))
	rows, err := c.db.QueryContext(ctx, c.rebind(stmt), since, objectClass)
	if err != nil {
		return nil, spi.NewBackendError("query changelog", err)
	}
	defer rows.Close()

	type entry struct {
		deleted bool
	}
	latestByUID := map[string]entry{}
	var order []string
	for rows.Next() {
		var seq uint64
		var uid string
		var deleted any
		if err := rows.Scan(&seq, &uid, &deleted); err != nil {
			return nil, spi.NewBackendError("scan changelog", err)
		}
		if _, seen := latestByUID[uid]; !seen {
			order = append(order, uid)
		}
		latestByUID[uid] = entry{deleted: truthy(deleted)}
	}
	if err := rows.Err(); err != nil {
		return nil, spi.NewBackendError("changelog rows", err)
	}

	result := &spi.SyncResult{Token: latest}
	for _, uid := range order {
		if latestByUID[uid].deleted {
			result.Changes = append(result.Changes, spi.NewDeletedObject(objectClass, uid))
			continue
		}
		obj, err := c.Get(ctx, objectClass, uid, opts)
		if err != nil {
			return nil, err
		}
		if obj == nil {
			// Row vanished between changelog read and fetch.
			result.Changes = append(result.Changes, spi.NewDeletedObject(objectClass, uid))
			continue
		}
		result.Changes = append(result.Changes, obj)
	}
	return result, nil
}

// LatestSyncToken returns the changelog high-water mark.
func (c *Connector) LatestSyncToken(ctx context.Context, objectClass string) (*spi.SyncToken, error) {
	if c.cfg.ChangelogTable == "" {
		return nil, spi.NewNotSupported(string(spi.OpSync))
	}

	stmt := fmt.Sprintf("SELECT COALESCE(MAX(seq), 0) FROM %s", quote(c.cfg.ChangelogTable))
	var seq uint64
	if err := c.db.QueryRowContext(ctx, stmt).Scan(&seq); err != nil {
		return nil, spi.NewBackendError("query changelog position", err)
	}
	return &spi.SyncToken{Value: strconv.FormatUint(seq, 10)}, nil
}

func truthy(v any) bool {
	switch tv := v.(type) {
	case bool:
		return tv
	case int64:
		return tv != 0
	default:
		return false
	}
}
