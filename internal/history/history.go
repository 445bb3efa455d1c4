// Package history records every executed command in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/relay/internal/command"
	"github.com/mattjoyce/relay/internal/log"
)

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one row of command_log.
type Entry struct {
	ID        string
	Command   string
	Args      []string
	Identity  string
	ConnID    string
	OK        bool
	Error     string
	Duration  time.Duration
	CreatedAt time.Time
}

// Store reads and writes command_log.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Record inserts e, assigning an ID and timestamp when missing.
func (s *Store) Record(ctx context.Context, e Entry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	args := e.Args
	if args == nil {
		args = []string{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}

	var errText any
	if e.Error != "" {
		errText = e.Error
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO command_log(id, command, args, identity, conn_id, ok, error, duration_ms, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		e.ID, e.Command, string(argsJSON), e.Identity, e.ConnID, boolToInt(e.OK), errText,
		e.Duration.Milliseconds(), e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("insert command_log: %w", err)
	}
	return e.ID, nil
}

const selectColumns = `SELECT id, command, args, identity, conn_id, ok, error, duration_ms, created_at FROM command_log`

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+`
ORDER BY created_at DESC, rowid DESC
LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("query command_log: %w", err)
	}
	return scanEntries(rows)
}

// ByConn returns every entry recorded for one connection or HTTP request, oldest first.
func (s *Store) ByConn(ctx context.Context, connID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
WHERE conn_id = ?
ORDER BY created_at ASC, rowid ASC;`, connID)
	if err != nil {
		return nil, fmt.Errorf("query command_log: %w", err)
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			argsJSON  string
			ok        int
			errText   sql.NullString
			durMS     int64
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Command, &argsJSON, &e.Identity, &e.ConnID, &ok, &errText, &durMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scan command_log: %w", err)
		}
		if err := json.Unmarshal([]byte(argsJSON), &e.Args); err != nil {
			return nil, fmt.Errorf("decode args for %s: %w", e.ID, err)
		}
		e.OK = ok != 0
		e.Error = errText.String
		e.Duration = time.Duration(durMS) * time.Millisecond
		var err error
		if e.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of recorded entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM command_log;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count command_log: %w", err)
	}
	return n, nil
}

// Middleware records each execution after it completes. A failed insert is
// logged and never changes the command's result. A panicking command is
// recorded as failed and the panic continues to the dispatcher.
func Middleware(store *Store) command.Middleware {
	logger := log.WithComponent("history")
	return func(next command.Handler) command.Handler {
		return func(ctx context.Context, inv *command.Invocation) (string, error) {
			start := time.Now()
			defer func() {
				if r := recover(); r != nil {
					record(ctx, store, logger, inv, fmt.Errorf("panic: %v", r), time.Since(start))
					panic(r)
				}
			}()
			out, err := next(ctx, inv)
			record(ctx, store, logger, inv, err, time.Since(start))
			return out, err
		}
	}
}

func record(ctx context.Context, store *Store, logger *slog.Logger, inv *command.Invocation, err error, d time.Duration) {
	e := Entry{
		Command:  inv.Name,
		Args:     inv.Args,
		Identity: inv.Identity,
		ConnID:   inv.ConnID,
		OK:       err == nil,
		Duration: d,
	}
	if err != nil {
		e.Error = err.Error()
	}
	// the request context may already be cancelled
	if _, rerr := store.Record(context.WithoutCancel(ctx), e); rerr != nil {
		logger.Warn("failed to record command", "command", inv.Name, "error", rerr)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
