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
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/tombee/conduit/internal/filter"
	"github.com/tombee/conduit/internal/spi"
)

// Connector serves directory objects out of mapped SQL tables.
type Connector struct {
	cfg *Config
	db  *sql.DB
	log *slog.Logger
}

// Factory opens the database and verifies connectivity.
func Factory(ctx context.Context, params spi.FactoryParams) (spi.Connector, error) {
	cfg, ok := params.Config.(*Config)
	if !ok {
		return nil, spi.NewConfigInvalid("config", "sqldir requires a built config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, spi.NewBackendError("open database", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, spi.NewBackendError("ping database", err)
	}

	c := &Connector{cfg: cfg, db: db, log: params.Logger}
	if cfg.ChangelogTable != "" {
		if err := c.ensureChangelog(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *Connector) Close() error { return c.db.Close() }

func (c *Connector) Test(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return spi.NewBackendError("ping database", err)
	}
	return nil
}

// Schema derives object classes from the configured table maps. All
// mapped attributes surface as strings; typing lives in the database.
func (c *Connector) Schema(ctx context.Context) (*spi.Schema, error) {
	classes := make([]string, 0, len(c.cfg.Tables))
	for class := range c.cfg.Tables {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	s := &spi.Schema{
		Features: spi.SchemaFeatures{Paging: true, Sorting: true},
	}
	for _, class := range classes {
		table := c.cfg.Tables[class]
		info := spi.ObjectClassInfo{
			Name:       class,
			NativeName: table.Table,
			Supports: []spi.ObjectClassOperation{
				spi.SupportsCreate, spi.SupportsUpdate, spi.SupportsDelete,
				spi.SupportsGet, spi.SupportsSearch,
			},
		}
		if c.cfg.ChangelogTable != "" {
			info.Supports = append(info.Supports, spi.SupportsSync)
		}
		for _, attr := range sortedKeys(table.Columns) {
			info.Attributes = append(info.Attributes, spi.SchemaAttribute{
				Name: attr, Type: spi.TypeString,
				Creatable: true, Updateable: true, Readable: true, ReturnedByDefault: true,
			})
		}
		s.ObjectClasses = append(s.ObjectClasses, info)
	}
	s.Normalize()
	return s, nil
}

func (c *Connector) Create(ctx context.Context, objectClass string, attrs map[string]any, opts *spi.OperationOptions) (*spi.ConnectorObject, error) {
	table, err := c.table(objectClass)
	if err != nil {
		return nil, err
	}

	uid, _ := attrs["uid"].(string)
	if uid == "" {
		uid = uuid.NewString()
	}

	columns := []string{quote(table.uidColumn())}
	params := []any{uid}
	for _, attr := range sortedKeys(table.Columns) {
		value, ok := attrs[attr]
		if !ok {
			continue
		}
		columns = append(columns, quote(table.Columns[attr]))
		params = append(params, value)
	}

	placeholders := make([]string, len(params))
	for i := range params {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(table.Table), strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	if err := c.execJournaled(ctx, objectClass, uid, false, stmt, params); err != nil {
		return nil, err
	}
	return c.Get(ctx, objectClass, uid, opts)
}

func (c *Connector) Get(ctx context.Context, objectClass, uid string, opts *spi.OperationOptions) (*spi.ConnectorObject, error) {
	table, err := c.table(objectClass)
	if err != nil {
		return nil, err
	}

	attrs := sortedKeys(table.Columns)
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1",
		selectList(table, attrs), quote(table.Table), quote(table.uidColumn()))

	row := c.db.QueryRowContext(ctx, c.rebind(stmt), uid)
	obj, err := scanObject(row, objectClass, attrs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, spi.NewBackendError("query object", err)
	}
	return obj.Project(attributesToGet(opts)), nil
}

func (c *Connector) Update(ctx context.Context, objectClass, uid string, attrs map[string]any, opts *spi.OperationOptions) (*spi.ConnectorObject, error) {
	table, err := c.table(objectClass)
	if err != nil {
		return nil, err
	}

	var assignments []string
	var params []any
	for _, attr := range sortedKeys(table.Columns) {
		value, ok := attrs[attr]
		if !ok {
			continue
		}
		params = append(params, value)
		assignments = append(assignments, fmt.Sprintf("%s = $%d", quote(table.Columns[attr]), len(params)))
	}
	if len(assignments) == 0 {
		return nil, spi.NewValidationError("no mapped attributes to update")
	}
	params = append(params, uid)
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		quote(table.Table), strings.Join(assignments, ", "), quote(table.uidColumn()), len(params))

	if err := c.execJournaled(ctx, objectClass, uid, false, stmt, params); err != nil {
		return nil, err
	}
	obj, err := c.Get(ctx, objectClass, uid, opts)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, spi.NewBackendStatusError(404, fmt.Sprintf("object %s/%s not found", objectClass, uid))
	}
	return obj, nil
}

func (c *Connector) Delete(ctx context.Context, objectClass, uid string, opts *spi.OperationOptions) error {
	table, err := c.table(objectClass)
	if err != nil {
		return err
	}

	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", quote(table.Table), quote(table.uidColumn()))

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return spi.NewBackendError("begin transaction", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, c.rebind(stmt), uid)
	if err != nil {
		return spi.NewBackendError("delete object", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return spi.NewBackendStatusError(404, fmt.Sprintf("object %s/%s not found", objectClass, uid))
	}
	if err := c.journalTx(ctx, tx, objectClass, uid, true); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return spi.NewBackendError("commit delete", err)
	}
	return nil
}

// Search translates the filter to a parameterized WHERE clause, with
// ORDER BY from validated sort keys and LIMIT/OFFSET paging.
func (c *Connector) Search(ctx context.Context, objectClass string, f *spi.Filter, opts *spi.OperationOptions) (*spi.Page, error) {
	table, err := c.table(objectClass)
	if err != nil {
		return nil, err
	}

	columnRefs := make(map[string]string, len(table.Columns))
	for attr, column := range table.Columns {
		columnRefs[attr] = quote(column)
	}

	where, err := filter.ToSQL(f, columnRefs, 1)
	if err != nil {
		return nil, err
	}

	attrs := sortedKeys(table.Columns)
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", selectList(table, attrs), quote(table.Table))
	if where.SQL != "" {
		fmt.Fprintf(&b, " WHERE %s", where.SQL)
	}

	orderBy, err := orderClause(table, opts)
	if err != nil {
		return nil, err
	}
	b.WriteString(orderBy)

	params := where.Params
	offset, limit := 0, 0
	if opts != nil {
		offset = opts.PagedResultsOffset
		limit = opts.PageSize
	}
	if limit > 0 {
		// One extra row detects whether another page exists.
		params = append(params, limit+1)
		fmt.Fprintf(&b, " LIMIT $%d", len(params))
	}
	if offset > 0 {
		params = append(params, offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(params))
	}

	rows, err := c.db.QueryContext(ctx, c.rebind(b.String()), params...)
	if err != nil {
		return nil, spi.NewBackendError("search query", err)
	}
	defer rows.Close()

	page := &spi.Page{RemainingPagedResults: -1}
	for rows.Next() {
		obj, err := scanObject(rows, objectClass, attrs)
		if err != nil {
			return nil, spi.NewBackendError("scan row", err)
		}
		page.Objects = append(page.Objects, obj.Project(attributesToGet(opts)))
	}
	if err := rows.Err(); err != nil {
		return nil, spi.NewBackendError("search rows", err)
	}

	if limit > 0 && len(page.Objects) > limit {
		page.Objects = page.Objects[:limit]
		page.NextOffset = offset + limit
	}
	return page, nil
}

func (c *Connector) table(objectClass string) (*TableConfig, error) {
	table, ok := c.cfg.Tables[objectClass]
	if !ok {
		return nil, spi.NewValidationErrorf("unknown object class %q", objectClass)
	}
	return &table, nil
}

// execJournaled runs one write statement and its changelog row in a
// transaction.
func (c *Connector) execJournaled(ctx context.Context, objectClass, uid string, deleted bool, stmt string, params []any) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return spi.NewBackendError("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, c.rebind(stmt), params...); err != nil {
		return spi.NewBackendError("write object", err)
	}
	if err := c.journalTx(ctx, tx, objectClass, uid, deleted); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return spi.NewBackendError("commit write", err)
	}
	return nil
}

// rebind converts $N placeholders to the driver's notation. Postgres
// uses them natively; sqlite takes ordinal ?.
func (c *Connector) rebind(stmt string) string {
	if c.cfg.Driver == "postgres" {
		return stmt
	}
	return placeholderPattern.ReplaceAllString(stmt, "?")
}

var placeholderPattern = regexp.MustCompile(`\$\d+`)

func quote(ident string) string {
	return `"` + ident + `"`
}

func selectList(table *TableConfig, attrs []string) string {
	columns := []string{quote(table.uidColumn())}
	for _, attr := range attrs {
		columns = append(columns, quote(table.Columns[attr]))
	}
	return strings.Join(columns, ", ")
}

func orderClause(table *TableConfig, opts *spi.OperationOptions) (string, error) {
	if opts == nil {
		return "", nil
	}
	keys := opts.EffectiveSortKeys()
	if len(keys) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		column, ok := table.Columns[key.Field]
		if !ok {
			return "", spi.NewValidationErrorf("cannot sort by unmapped attribute %q", key.Field)
		}
		direction := " DESC"
		if key.Ascending {
			direction = " ASC"
		}
		parts = append(parts, quote(column)+direction)
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanObject(row rowScanner, objectClass string, attrs []string) (*spi.ConnectorObject, error) {
	values := make([]any, len(attrs)+1)
	targets := make([]any, len(values))
	for i := range values {
		targets[i] = &values[i]
	}
	if err := row.Scan(targets...); err != nil {
		return nil, err
	}

	obj := &spi.ConnectorObject{
		ObjectClass: objectClass,
		UID:         fmt.Sprint(normalizeValue(values[0])),
		Attributes:  make(map[string]any, len(attrs)),
	}
	for i, attr := range attrs {
		if v := normalizeValue(values[i+1]); v != nil {
			obj.Attributes[attr] = v
		}
	}
	return obj, nil
}

// normalizeValue maps driver types onto the JSON-shaped attribute model.
func normalizeValue(v any) any {
	switch tv := v.(type) {
	case []byte:
		return string(tv)
	case int64:
		return float64(tv)
	default:
		return tv
	}
}

func attributesToGet(opts *spi.OperationOptions) []string {
	if opts == nil {
		return nil
	}
	return opts.AttributesToGet
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
