package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/sfdcai/media-pipeline/internal/media"
)

// CreateBatch atomically inserts a Batch row and links every member file to
// it via UpdateFileStatus(..., FileBatched, ...) in the same transaction
// (spec §4.2: "create_batch(dest, members[]) -> id; atomically links
// members"). Every member must currently be in compressed status; if any
// member isn't, the whole batch is rejected and nothing is written.
func (s *Store) CreateBatch(ctx context.Context, b *media.Batch, members []*media.File) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		for _, f := range members {
			if f.Status != media.FileCompressed {
				return fmt.Errorf("%w: file %s is %s, not compressed", media.ErrInvalidTransition, f.ID, f.Status)
			}
		}

		_, err := tx.ExecContext(ctx, `INSERT INTO batches
				(id, destination, status, total_size, file_count, created_at, completed_at, mirror_synced)
			VALUES (?, ?, ?, ?, ?, ?, NULL, 0)`,
			b.ID.String(), b.Destination.String(), b.Status.String(), b.TotalSize, b.FileCount, b.CreatedAt)
		if err != nil {
			return fmt.Errorf("store: create_batch: inserting batch: %w", err)
		}

		for _, f := range members {
			batchID := b.ID

			res, err := tx.ExecContext(ctx, `UPDATE media_files SET
					status = ?,
					batch_id = ?,
					last_processed_at = CURRENT_TIMESTAMP,
					last_updated_at = CURRENT_TIMESTAMP
				WHERE id = ? AND status = ?`,
				media.FileBatched.String(), batchID.String(), f.ID.String(), media.FileCompressed.String())
			if err != nil {
				return fmt.Errorf("store: create_batch: linking file %s: %w", f.ID, err)
			}

			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("store: create_batch: linking file %s: %w", f.ID, err)
			}

			if n == 0 {
				return fmt.Errorf("%w: file %s changed status concurrently", media.ErrInvalidTransition, f.ID)
			}
		}

		return nil
	})
}

// SetBatchStatus enforces the Batch state machine of spec §4.13 and,
// on reaching BatchVerified, stamps completed_at.
func (s *Store) SetBatchStatus(ctx context.Context, id uuid.UUID, newStatus media.BatchStatus) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		var current media.BatchStatus

		row := tx.QueryRowContext(ctx, `SELECT status FROM batches WHERE id = ?`, id.String())
		if err := row.Scan(&current); err != nil {
			return wrapNotFound(fmt.Errorf("store: set_batch_status: loading current status: %w", err))
		}

		if current != newStatus && !current.CanTransition(newStatus) {
			return fmt.Errorf("%w: batch %s: %s -> %s", media.ErrInvalidTransition, id, current, newStatus)
		}

		var completedAt any
		if newStatus == media.BatchVerified {
			completedAt = s.nowFn()
		}

		_, err := tx.ExecContext(ctx, `UPDATE batches SET
				status = ?,
				completed_at = COALESCE(?, completed_at)
			WHERE id = ?`,
			newStatus.String(), completedAt, id.String())
		if err != nil {
			return fmt.Errorf("store: set_batch_status: %w", err)
		}

		return nil
	})
}

// GetBatch loads a single batch by id.
func (s *Store) GetBatch(ctx context.Context, id uuid.UUID) (*media.Batch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, destination, status, total_size, file_count, created_at, completed_at
		FROM batches WHERE id = ?`, id.String())

	var (
		b            media.Batch
		idStr        string
		completedAt  sql.NullTime
	)

	if err := row.Scan(&idStr, &b.Destination, &b.Status, &b.TotalSize, &b.FileCount, &b.CreatedAt, &completedAt); err != nil {
		return nil, wrapNotFound(fmt.Errorf("store: get_batch: %w", err))
	}

	parsed, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("store: get_batch: parsing id: %w", err)
	}

	b.ID = parsed

	if completedAt.Valid {
		b.CompletedAt = &completedAt.Time
	}

	return &b, nil
}
