package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/sfdcai/media-pipeline/internal/media"
)

// AppendLog writes a LogEntry row and mirrors it through the injected
// slog.Logger, so the database and the process's own log stream never
// disagree about what happened (spec §4.2: "append_log(step, message,
// severity)").
func (s *Store) AppendLog(ctx context.Context, step media.Step, message string, severity media.Severity) error {
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO log_entries (step, message, severity, created_at)
			VALUES (?, ?, ?, ?)`, step.String(), message, severity.String(), s.nowFn())
		if err != nil {
			return fmt.Errorf("store: append_log: %w", err)
		}

		return nil
	})

	level := slog.LevelInfo

	switch severity {
	case media.SeverityWarning:
		level = slog.LevelWarn
	case media.SeverityError:
		level = slog.LevelError
	}

	s.logger.Log(ctx, level, message, slog.String("step", step.String()), slog.String("severity", severity.String()))

	return err
}

// LogEntry is a query result row; it carries the database-assigned id that
// media.LogEntry's constructor doesn't have a reason to compute itself.
type LogEntry = media.LogEntry

// RecentLogs returns up to limit most recent log entries, newest first,
// optionally filtered by step.
func (s *Store) RecentLogs(ctx context.Context, step media.Step, limit int) ([]LogEntry, error) {
	var (
		rows *sql.Rows
		err  error
	)

	if step == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT id, step, message, severity, created_at
			FROM log_entries ORDER BY id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT id, step, message, severity, created_at
			FROM log_entries WHERE step = ? ORDER BY id DESC LIMIT ?`, step.String(), limit)
	}

	if err != nil {
		return nil, fmt.Errorf("store: recent_logs: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry

	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.Step, &e.Message, &e.Severity, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: recent_logs: scan: %w", err)
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}
