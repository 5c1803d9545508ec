package store

import (
	"context"
	"database/sql"
	"fmt"
	"iter"

	"github.com/google/uuid"

	"github.com/sfdcai/media-pipeline/internal/media"
)

const sqlUpsertFile = `INSERT INTO media_files
	(id, filename, path, source_path, size, hash, compression_ratio,
	 is_duplicate, source_kind, status, batch_id, created_at,
	 last_processed_at, last_updated_at, mirror_synced)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	ON CONFLICT(source_path, filename) DO UPDATE SET
		path = excluded.path,
		size = excluded.size,
		last_updated_at = excluded.last_updated_at
	RETURNING id`

// UpsertFile inserts a new MediaFile or, if one already exists for the
// same (source_path, filename) pair, updates its path/size (spec §4.2:
// "idempotent on (source_path, filename)"). Returns the row's id, which
// for an existing row is unchanged.
func (s *Store) UpsertFile(ctx context.Context, f *media.File) (uuid.UUID, error) {
	var id uuid.UUID

	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, sqlUpsertFile,
			f.ID.String(), f.Filename, f.Path, f.SourcePath, f.Size, f.Hash,
			nullableFloat(f.CompressionRatio), boolToInt(f.IsDuplicate),
			f.SourceKind.String(), f.Status.String(), nullableUUID(f.BatchID),
			f.CreatedAt, f.LastProcessedAt, f.LastUpdatedAt,
		)

		var idStr string
		if scanErr := row.Scan(&idStr); scanErr != nil {
			return fmt.Errorf("store: upsert_file: %w", scanErr)
		}

		parsed, parseErr := uuid.Parse(idStr)
		if parseErr != nil {
			return fmt.Errorf("store: upsert_file: parsing id: %w", parseErr)
		}

		id = parsed

		return nil
	})

	return id, err
}

// UpdateFileStatus moves a MediaFile to newStatus, enforcing the one-way
// transitions of spec §4.13 (FileStatus.CanTransition). fields optionally
// sets hash/compressionRatio/batchID/path as part of the same transaction,
// since several transitions (e.g. deduplicated, batched) set an additional
// column alongside status.
type FileStatusUpdate struct {
	Hash             *string
	CompressionRatio *float64
	BatchID          *uuid.UUID
	Path             *string
	IsDuplicate      *bool
}

func (s *Store) UpdateFileStatus(ctx context.Context, id uuid.UUID, newStatus media.FileStatus, fields FileStatusUpdate) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		var current media.FileStatus

		row := tx.QueryRowContext(ctx, `SELECT status FROM media_files WHERE id = ?`, id.String())
		if err := row.Scan(&current); err != nil {
			return wrapNotFound(fmt.Errorf("store: update_file_status: loading current status: %w", err))
		}

		if current != newStatus && !current.CanTransition(newStatus) {
			return fmt.Errorf("%w: file %s: %s -> %s", media.ErrInvalidTransition, id, current, newStatus)
		}

		_, err := tx.ExecContext(ctx, `UPDATE media_files SET
				status = ?,
				hash = COALESCE(?, hash),
				compression_ratio = COALESCE(?, compression_ratio),
				batch_id = COALESCE(?, batch_id),
				path = COALESCE(?, path),
				is_duplicate = COALESCE(?, is_duplicate),
				last_processed_at = CURRENT_TIMESTAMP,
				last_updated_at = CURRENT_TIMESTAMP
			WHERE id = ?`,
			newStatus.String(),
			fields.Hash,
			fields.CompressionRatio,
			nullableUUID(fields.BatchID),
			fields.Path,
			nullableBoolPtr(fields.IsDuplicate),
			id.String(),
		)
		if err != nil {
			return fmt.Errorf("store: update_file_status: %w", err)
		}

		return nil
	})
}

// FindByHash returns every file id sharing hash, via the idx_media_files_hash
// index (spec §4.2: "O(log n) via index").
func (s *Store) FindByHash(ctx context.Context, hash string) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM media_files WHERE hash = ?`, hash)
	if err != nil {
		return nil, fmt.Errorf("store: find_by_hash: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID

	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, fmt.Errorf("store: find_by_hash: scan: %w", err)
		}

		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("store: find_by_hash: parse: %w", err)
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// GetFile loads a single file by id.
func (s *Store) GetFile(ctx context.Context, id uuid.UUID) (*media.File, error) {
	row := s.db.QueryRowContext(ctx, fileSelectColumns+` FROM media_files WHERE id = ?`, id.String())

	f, err := scanFile(row)
	if err != nil {
		return nil, wrapNotFound(fmt.Errorf("store: get_file: %w", err))
	}

	return f, nil
}

const fileSelectColumns = `SELECT id, filename, path, source_path, size, hash,
	compression_ratio, is_duplicate, source_kind, status, batch_id,
	created_at, last_processed_at, last_updated_at, mirror_synced`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*media.File, error) {
	var (
		f            media.File
		idStr        string
		batchIDStr   sql.NullString
		isDupInt     int64
		mirrorInt    int64
		compRatio    sql.NullFloat64
	)

	if err := row.Scan(&idStr, &f.Filename, &f.Path, &f.SourcePath, &f.Size, &f.Hash,
		&compRatio, &isDupInt, &f.SourceKind, &f.Status, &batchIDStr,
		&f.CreatedAt, &f.LastProcessedAt, &f.LastUpdatedAt, &mirrorInt); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parsing file id: %w", err)
	}

	f.ID = id
	f.IsDuplicate = intToBool(isDupInt)
	f.MirrorSynced = intToBool(mirrorInt)

	if compRatio.Valid {
		f.CompressionRatio = &compRatio.Float64
	}

	if batchIDStr.Valid {
		bid, err := uuid.Parse(batchIDStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing batch id: %w", err)
		}

		f.BatchID = &bid
	}

	return &f, nil
}

// IterFiles returns a lazy finite iterator (spec §4.2) over files matching
// status, expressed as a Go 1.23 iter.Seq2 rather than a generator/coroutine
// (spec §9: idiomatic-Go re-architecture of "dynamic control flow").
// Passing "" iterates every file regardless of status.
func (s *Store) IterFiles(ctx context.Context, status media.FileStatus) iter.Seq2[*media.File, error] {
	return func(yield func(*media.File, error) bool) {
		var (
			rows *sql.Rows
			err  error
		)

		if status == "" {
			rows, err = s.db.QueryContext(ctx, fileSelectColumns+` FROM media_files ORDER BY created_at`)
		} else {
			rows, err = s.db.QueryContext(ctx, fileSelectColumns+` FROM media_files WHERE status = ? ORDER BY created_at`, status.String())
		}

		if err != nil {
			yield(nil, fmt.Errorf("store: iter_files: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			f, scanErr := scanFile(rows)
			if scanErr != nil {
				if !yield(nil, fmt.Errorf("store: iter_files: scan: %w", scanErr)) {
					return
				}

				continue
			}

			if !yield(f, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("store: iter_files: %w", err))
		}
	}
}

// ResetFile clears an error status back to its last known-good state.
// Explicit operator action only (spec §4.13: "error may be cleared only
// by explicit operator action"). Since the state machine is one-way and
// doesn't record the pre-error status, ResetFile returns the file to
// downloaded — the safe restart point for every phase.
func (s *Store) ResetFile(ctx context.Context, id uuid.UUID) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE media_files SET status = ?, last_updated_at = CURRENT_TIMESTAMP
				WHERE id = ? AND status = ?`,
			media.FileDownloaded.String(), id.String(), media.FileError.String())
		if err != nil {
			return fmt.Errorf("store: reset_file: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("store: reset_file: %w", err)
		}

		if n == 0 {
			return fmt.Errorf("%w: file %s is not in error status", media.ErrNotFound, id)
		}

		return nil
	})
}

// CountFilesByStatus returns the number of MediaFile rows in each status,
// for the `pipeline status` CLI command (spec §6 "prints per-phase counts
// from the local store"). Statuses with zero rows are omitted.
func (s *Store) CountFilesByStatus(ctx context.Context) (map[media.FileStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM media_files GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("store: count_files_by_status: %w", err)
	}
	defer rows.Close()

	counts := make(map[media.FileStatus]int)

	for rows.Next() {
		var (
			status string
			n      int
		)

		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("store: count_files_by_status: scan: %w", err)
		}

		counts[media.FileStatus(status)] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: count_files_by_status: %w", err)
	}

	return counts, nil
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}

	return *f
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}

	return id.String()
}

func nullableBoolPtr(b *bool) any {
	if b == nil {
		return nil
	}

	return boolToInt(*b)
}
