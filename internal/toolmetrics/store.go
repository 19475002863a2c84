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

package toolmetrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const storeWriteTimeout = 5 * time.Second

// StoreConfig configures a SQLiteStore.
type StoreConfig struct {
	// Path is the database file. ":memory:" creates an in-memory database.
	Path string

	// Logger is used for structured logging (optional)
	Logger *slog.Logger
}

// HistoryQuery filters persisted call records.
type HistoryQuery struct {
	ToolID string
	Status CallStatus
	Since  time.Time
	// Limit caps the result (defaults to 100), newest first.
	Limit int
}

// SQLiteStore persists finalized calls so history survives restarts.
// It implements Observer.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Observer = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and migrates) a call history database.
func NewSQLiteStore(cfg StoreConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and writes serialized.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS calls (
			call_id TEXT PRIMARY KEY,
			tool_id TEXT NOT NULL,
			method TEXT NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER NOT NULL,
			duration_ns INTEGER NOT NULL,
			status TEXT NOT NULL,
			error_kind TEXT,
			error_message TEXT,
			response_size INTEGER NOT NULL,
			timeout_ns INTEGER NOT NULL,
			initiator_id TEXT,
			context TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_calls_tool ON calls(tool_id, start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_calls_start ON calls(start_time)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// ObserveCall writes a finalized call. Write errors are logged, never returned.
func (s *SQLiteStore) ObserveCall(rec CallRecord, _ ToolHealth) {
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	if err := s.Save(ctx, rec); err != nil {
		s.logger.Warn("failed to persist call record", "call_id", rec.CallID, "tool", rec.ToolID, "error", err)
	}
}

// Save inserts or replaces one call record.
func (s *SQLiteStore) Save(ctx context.Context, rec CallRecord) error {
	var callCtx sql.NullString
	if len(rec.Context) > 0 {
		data, err := json.Marshal(rec.Context)
		if err != nil {
			return fmt.Errorf("failed to encode call context: %w", err)
		}
		callCtx = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO calls
		(call_id, tool_id, method, start_time, end_time, duration_ns, status,
		 error_kind, error_message, response_size, timeout_ns, initiator_id, context)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CallID, rec.ToolID, rec.Method,
		rec.Start.UnixNano(), rec.End.UnixNano(), int64(rec.Duration),
		string(rec.Status), rec.ErrorKind, rec.ErrorMessage, rec.ResponseSize,
		int64(rec.Timeout), rec.InitiatorID, callCtx,
	)
	if err != nil {
		return fmt.Errorf("failed to insert call: %w", err)
	}
	return nil
}

// Query returns persisted calls matching q, newest first.
func (s *SQLiteStore) Query(ctx context.Context, q HistoryQuery) ([]CallRecord, error) {
	var where []string
	var args []any
	if q.ToolID != "" {
		where = append(where, "tool_id = ?")
		args = append(args, q.ToolID)
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}
	if !q.Since.IsZero() {
		where = append(where, "start_time >= ?")
		args = append(args, q.Since.UnixNano())
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT call_id, tool_id, method, start_time, end_time, duration_ns, status,
		error_kind, error_message, response_size, timeout_ns, initiator_id, context FROM calls`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query calls: %w", err)
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		var (
			rec                          CallRecord
			start, end, dur, timeout     int64
			status                       string
			kind, msg, initiator, rawCtx sql.NullString
		)
		if err := rows.Scan(&rec.CallID, &rec.ToolID, &rec.Method, &start, &end, &dur, &status,
			&kind, &msg, &rec.ResponseSize, &timeout, &initiator, &rawCtx); err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		rec.Start = time.Unix(0, start)
		rec.End = time.Unix(0, end)
		rec.Duration = time.Duration(dur)
		rec.Timeout = time.Duration(timeout)
		rec.Status = CallStatus(status)
		rec.ErrorKind = kind.String
		rec.ErrorMessage = msg.String
		rec.InitiatorID = initiator.String
		if rawCtx.Valid {
			if err := json.Unmarshal([]byte(rawCtx.String), &rec.Context); err != nil {
				return nil, fmt.Errorf("failed to decode context of call %s: %w", rec.CallID, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes calls that started before cutoff and returns how many went.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM calls WHERE start_time < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune calls: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
