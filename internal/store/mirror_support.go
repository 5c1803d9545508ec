package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/sfdcai/media-pipeline/internal/media"
)

// UnsyncedFiles returns every file with mirror_synced = false, for
// MetaStoreMirror's reconcile() to push (spec §4.3).
func (s *Store) UnsyncedFiles(ctx context.Context) ([]*media.File, error) {
	rows, err := s.db.QueryContext(ctx, fileSelectColumns+` FROM media_files WHERE mirror_synced = 0 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("store: unsynced_files: %w", err)
	}
	defer rows.Close()

	var out []*media.File

	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("store: unsynced_files: scan: %w", err)
		}

		out = append(out, f)
	}

	return out, rows.Err()
}

// UnsyncedBatches returns every batch with mirror_synced = false.
func (s *Store) UnsyncedBatches(ctx context.Context) ([]*media.Batch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, destination, status, total_size, file_count, created_at, completed_at
		FROM batches WHERE mirror_synced = 0 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("store: unsynced_batches: %w", err)
	}
	defer rows.Close()

	var out []*media.Batch

	for rows.Next() {
		var (
			b           media.Batch
			idStr       string
			completedAt sql.NullTime
		)

		if err := rows.Scan(&idStr, &b.Destination, &b.Status, &b.TotalSize, &b.FileCount, &b.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("store: unsynced_batches: scan: %w", err)
		}

		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("store: unsynced_batches: parsing id: %w", err)
		}

		b.ID = id
		if completedAt.Valid {
			b.CompletedAt = &completedAt.Time
		}

		out = append(out, &b)
	}

	return out, rows.Err()
}

// MarkFileMirrored flips mirror_synced once the remote has acknowledged id.
// This is a side-channel update outside the FileStatus state machine: it
// writes only mirror_synced, changes no status, and so does not go through
// UpdateFileStatus's transition check.
func (s *Store) MarkFileMirrored(ctx context.Context, id uuid.UUID) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE media_files SET mirror_synced = 1 WHERE id = ?`, id.String())
		if err != nil {
			return fmt.Errorf("store: mark_file_mirrored: %w", err)
		}

		return nil
	})
}

// MarkBatchMirrored flips mirror_synced for a batch once acknowledged.
func (s *Store) MarkBatchMirrored(ctx context.Context, id uuid.UUID) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE batches SET mirror_synced = 1 WHERE id = ?`, id.String())
		if err != nil {
			return fmt.Errorf("store: mark_batch_mirrored: %w", err)
		}

		return nil
	})
}

// CountRows reports total and unsynced counts for files and batches.
// Mirror.Reconcile does not call it.
type RowCounts struct {
	TotalFiles      int
	UnsyncedFiles   int
	TotalBatches    int
	UnsyncedBatches int
}

func (s *Store) CountRows(ctx context.Context) (RowCounts, error) {
	var (
		rc             RowCounts
		unsyncedFiles  sql.NullInt64
		unsyncedBatches sql.NullInt64
	)

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), SUM(CASE WHEN mirror_synced = 0 THEN 1 ELSE 0 END) FROM media_files`).
		Scan(&rc.TotalFiles, &unsyncedFiles); err != nil {
		return RowCounts{}, fmt.Errorf("store: count_rows: files: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), SUM(CASE WHEN mirror_synced = 0 THEN 1 ELSE 0 END) FROM batches`).
		Scan(&rc.TotalBatches, &unsyncedBatches); err != nil {
		return RowCounts{}, fmt.Errorf("store: count_rows: batches: %w", err)
	}

	rc.UnsyncedFiles = int(unsyncedFiles.Int64)
	rc.UnsyncedBatches = int(unsyncedBatches.Int64)

	return rc, nil
}
