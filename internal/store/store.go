// Package store implements MetaStore (spec §4.2): the embedded SQLite
// store that is authoritative for every pipeline decision. It is the
// sole writer to LOCAL_DB_PATH — single-writer discipline is enforced by
// SetMaxOpenConns(1) plus an explicit mutex that surfaces ErrReentrant
// instead of silently blocking a nested write (grounded on the teacher's
// BaselineManager sole-writer pattern, internal/sync/baseline.go).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	// Pure-Go SQLite driver (no CGO), same engine the teacher uses.
	_ "modernc.org/sqlite"

	"github.com/sfdcai/media-pipeline/internal/media"
)

// Store is the MetaStore. All writes pass through the single *sql.DB
// connection; writeMu additionally lets Store detect a reentrant write
// from the same goroutine and return media.ErrReentrant rather than
// deadlocking (spec §5 "Attempts to enter a nested write are ErrReentrant").
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	nowFn  func() time.Time

	writeMu    sync.Mutex
	writerGID  int64 // 0 means no writer currently holds writeMu
	writerLock sync.Mutex
}

// Open opens (creating if necessary) the SQLite database at path, applies
// pending migrations, and returns a ready Store. WAL + synchronous=FULL
// pragmas match the teacher's crash-safe durability configuration.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()

		return nil, fmt.Errorf("%w: %w", media.ErrSchema, err)
	}

	logger.Info("store opened", slog.String("path", path))

	return &Store{
		db:     db,
		logger: logger,
		nowFn:  time.Now,
	}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// withWriteTx runs fn inside a transaction, holding writeMu for the
// duration. A caller already holding writeMu on the same logical
// operation (e.g. a helper calling another helper) gets ErrReentrant
// instead of a deadlock.
func (s *Store) withWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if !s.writeMu.TryLock() {
		return media.ErrReentrant
	}
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}

	return nil
}

// boolToInt / intToBool translate Go bools to SQLite's INTEGER 0/1, since
// modernc.org/sqlite has no native boolean column type.
func boolToInt(b bool) int64 {
	if b {
		return 1
	}

	return 0
}

func intToBool(i int64) bool {
	return i != 0
}

var errNoRows = sql.ErrNoRows

// wrapNotFound converts sql.ErrNoRows into media.ErrNotFound so callers
// never need to import database/sql just to check for a missing row.
func wrapNotFound(err error) error {
	if errors.Is(err, errNoRows) {
		return media.ErrNotFound
	}

	return err
}
