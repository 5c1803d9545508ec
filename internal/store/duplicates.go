package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sfdcai/media-pipeline/internal/media"
)

// RecordDuplicate inserts a Duplicate row linking originalID (the file kept)
// to duplicateID (the file marked is_duplicate) and flips the duplicate's
// is_duplicate flag, in one transaction (spec §4.2: "record_duplicate").
func (s *Store) RecordDuplicate(ctx context.Context, d *media.Duplicate) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO duplicates
				(id, original_file_id, duplicate_file_id, hash, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			d.ID.String(), d.OriginalFileID.String(), d.DuplicateFileID.String(), d.Hash, d.CreatedAt)
		if err != nil {
			return fmt.Errorf("store: record_duplicate: inserting: %w", err)
		}

		_, err = tx.ExecContext(ctx, `UPDATE media_files SET
				is_duplicate = 1,
				last_processed_at = CURRENT_TIMESTAMP,
				last_updated_at = CURRENT_TIMESTAMP
			WHERE id = ?`, d.DuplicateFileID.String())
		if err != nil {
			return fmt.Errorf("store: record_duplicate: flagging duplicate file: %w", err)
		}

		return nil
	})
}
