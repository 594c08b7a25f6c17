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

// Package audit persists one journal row per dispatched operation. The
// journal is optional: a nil *Journal accepts records and queries as
// no-ops, so transports never need to know whether auditing is on.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tombee/conduit/internal/log"
)

const (
	// DefaultSweepInterval is how often the retention sweeper runs.
	DefaultSweepInterval = 1 * time.Hour

	// DefaultTailLimit caps Tail queries that pass no limit.
	DefaultTailLimit = 100
)

// Config configures the journal store.
type Config struct {
	// Path is the SQLite database file. ":memory:" is accepted for
	// tests.
	Path string

	// Retention drops rows older than this age. Zero disables the
	// sweeper and keeps rows forever.
	Retention time.Duration

	// SweepInterval overrides how often the sweeper runs.
	SweepInterval time.Duration

	// Logger; nil falls back to the process default.
	Logger *slog.Logger
}

// Entry is one journal row.
type Entry struct {
	ID          string        `json:"id"`
	Time        time.Time     `json:"time"`
	Transport   string        `json:"transport"`
	ConnectorID string        `json:"connectorId"`
	Operation   string        `json:"operation"`
	ObjectClass string        `json:"objectClass,omitempty"`
	UID         string        `json:"uid,omitempty"`
	Outcome     string        `json:"outcome"`
	ErrorKind   string        `json:"errorKind,omitempty"`
	Duration    time.Duration `json:"durationMs"`
}

// Journal is the SQLite-backed operation journal.
type Journal struct {
	db  *sql.DB
	log *slog.Logger

	closeOnce sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// Open opens (creating if needed) the journal database and starts the
// retention sweeper when a retention age is configured.
func Open(cfg Config) (*Journal, error) {
	if cfg.Path == "" {
		return nil, errors.New("audit journal requires a database path")
	}

	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	// One writer connection avoids SQLite lock contention; WAL still
	// lets the tail query read concurrently.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect audit database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	j := &Journal{
		db:     db,
		log:    log.WithComponent(logger, "audit"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	if err := j.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.Retention > 0 {
		interval := cfg.SweepInterval
		if interval <= 0 {
			interval = DefaultSweepInterval
		}
		go j.sweepLoop(cfg.Retention, interval)
	} else {
		close(j.doneCh)
	}

	return j, nil
}

func (j *Journal) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS operations (
			id TEXT PRIMARY KEY,
			at INTEGER NOT NULL,
			transport TEXT NOT NULL,
			connector_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			object_class TEXT NOT NULL DEFAULT '',
			uid TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			error_kind TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_operations_at ON operations(at)`,
		`CREATE INDEX IF NOT EXISTS idx_operations_connector ON operations(connector_id)`,
	}
	for _, m := range migrations {
		if _, err := j.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migrate audit schema: %w", err)
		}
	}
	return nil
}

// Record inserts one journal row. Missing id and time fields are filled
// in. Recording on a nil journal is a no-op.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if j == nil {
		return nil
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO operations
			(id, at, transport, connector_id, operation, object_class, uid, outcome, error_kind, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Time.UnixNano(), e.Transport, e.ConnectorID, e.Operation,
		e.ObjectClass, e.UID, e.Outcome, e.ErrorKind, e.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	recordEntry(e.Transport, e.Outcome)
	return nil
}

// Tail returns the newest entries, most recent first. A non-positive
// limit takes the default. A nil journal returns no rows.
func (j *Journal) Tail(ctx context.Context, limit int) ([]Entry, error) {
	if j == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultTailLimit
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, at, transport, connector_id, operation, object_class, uid, outcome, error_kind, duration_ms
		 FROM operations ORDER BY at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit tail: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var at, durationMS int64
		if err := rows.Scan(&e.ID, &at, &e.Transport, &e.ConnectorID, &e.Operation,
			&e.ObjectClass, &e.UID, &e.Outcome, &e.ErrorKind, &durationMS); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.Time = time.Unix(0, at)
		e.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SweepOlderThan deletes rows recorded before the given instant and
// returns how many went.
func (j *Journal) SweepOlderThan(ctx context.Context, before time.Time) (int64, error) {
	if j == nil {
		return 0, nil
	}
	result, err := j.db.ExecContext(ctx,
		"DELETE FROM operations WHERE at < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sweep audit journal: %w", err)
	}
	count, _ := result.RowsAffected()
	return count, nil
}

func (j *Journal) sweepLoop(retention, interval time.Duration) {
	defer close(j.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			count, err := j.SweepOlderThan(ctx, time.Now().Add(-retention))
			cancel()
			if err != nil {
				j.log.Warn("audit retention sweep failed", "error", err)
				continue
			}
			if count > 0 {
				j.log.Info("audit retention sweep", "deleted", count)
				recordSwept(count)
			}
		}
	}
}

// Close stops the sweeper and closes the database. Closing a nil
// journal is a no-op.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	var err error
	j.closeOnce.Do(func() {
		close(j.stopCh)
		<-j.doneCh
		err = j.db.Close()
	})
	return err
}
