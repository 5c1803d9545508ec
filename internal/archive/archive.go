// Package archive implements Sorter (C12): moves every *verified* file
// into a date-sorted archive tree, resolving basename collisions by
// content hash (spec §4.12).
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/sfdcai/media-pipeline/internal/media"
	"github.com/sfdcai/media-pipeline/internal/store"
)

// fileStore is the subset of *store.Store Engine needs.
type fileStore interface {
	IterFiles(ctx context.Context, status media.FileStatus) iter.Seq2[*media.File, error]
	UpdateFileStatus(ctx context.Context, id uuid.UUID, newStatus media.FileStatus, fields store.FileStatusUpdate) error
}

// dateFunc resolves a file's capture date for bucketing. Production wiring
// uses DateFromCaptureDate, which adapts capturedate.Of to this shape;
// tests inject a stub that can report failure.
type dateFunc func(path string) (yyyy, mm, dd string, ok bool)

// Engine runs the Sorter phase.
type Engine struct {
	store     fileStore
	sortedDir string
	dateOf    dateFunc
	logger    *slog.Logger
}

// New builds a Sorter engine. dateOf resolves path's capture date; pass
// nil to fall back to capturedate.Of via DateFromCaptureDate.
func New(st fileStore, sortedDir string, dateOf dateFunc, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	if dateOf == nil {
		dateOf = DateFromCaptureDate
	}

	return &Engine{store: st, sortedDir: sortedDir, dateOf: dateOf, logger: logger}
}

// Report summarizes one Run invocation.
type Report struct {
	Moved        int
	Deduplicated int // basename collision, same hash: source deleted
	Unknown      int // bucketed under unknown/ for want of any date
}

// Run moves every *verified* file into SORTED_DIR/YYYY/MM/DD/<basename>
// (or SORTED_DIR/unknown/<basename> if no date could be extracted at
// all), resolving basename collisions by content hash (spec §4.12).
// Sorting is idempotent: a file already at its sorted destination is a
// no-op.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	var report Report

	var files []*media.File

	var iterErr error

	e.store.IterFiles(ctx, media.FileVerified)(func(f *media.File, err error) bool {
		if err != nil {
			iterErr = err
			return false
		}

		files = append(files, f)

		return true
	})

	if iterErr != nil {
		return report, iterErr
	}

	for _, f := range files {
		if err := e.sortOne(ctx, f, &report); err != nil {
			e.logger.Error("archive: sorting file failed", slog.String("file_id", f.ID.String()), slog.String("error", err.Error()))
		}
	}

	return report, nil
}

func (e *Engine) sortOne(ctx context.Context, f *media.File, report *Report) error {
	dir := e.destDir(f.Path)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating archive dir: %w", media.ErrIO, err)
	}

	dest := filepath.Join(dir, filepath.Base(f.Filename))

	if dest == f.Path {
		// Already at its sorted location: nothing to do but make sure
		// processed_at reflects this run.
		return e.touchProcessed(ctx, f, dest)
	}

	final, deduped, err := e.resolveCollision(f.Path, dest)
	if err != nil {
		return err
	}

	if deduped {
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: removing already-archived source: %w", media.ErrIO, err)
		}

		report.Deduplicated++
	} else {
		if err := os.Rename(f.Path, final); err != nil {
			return fmt.Errorf("%w: moving to archive: %w", media.ErrIO, err)
		}

		report.Moved++
	}

	if strings.Contains(dir, string(filepath.Separator)+"unknown") {
		report.Unknown++
	}

	return e.touchProcessed(ctx, f, final)
}

// destDir returns the YYYY/MM/DD directory for path, or an unknown/
// bucket if no date could be extracted (spec §4.12 step 5).
func (e *Engine) destDir(path string) string {
	yyyy, mm, dd, ok := e.dateOf(path)
	if !ok {
		return filepath.Join(e.sortedDir, "unknown")
	}

	return filepath.Join(e.sortedDir, yyyy, mm, dd)
}

// resolveCollision decides dest's final path given a possible existing
// file there: same content hash means dest already holds this exact file
// (deduped=true, caller deletes src); different hash appends a
// monotonically increasing numeric suffix to the basename (spec §4.12).
func (e *Engine) resolveCollision(src, dest string) (final string, deduped bool, err error) {
	if _, statErr := os.Stat(dest); statErr != nil {
		if os.IsNotExist(statErr) {
			return dest, false, nil
		}

		return "", false, fmt.Errorf("%w: checking archive destination: %w", media.ErrIO, statErr)
	}

	srcHash, err := hashFile(src)
	if err != nil {
		return "", false, err
	}

	destHash, err := hashFile(dest)
	if err != nil {
		return "", false, err
	}

	if srcHash == destHash {
		return dest, true, nil
	}

	ext := filepath.Ext(dest)
	base := strings.TrimSuffix(dest, ext)

	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%d%s", base, n, ext)

		if _, statErr := os.Stat(candidate); statErr != nil {
			if os.IsNotExist(statErr) {
				return candidate, false, nil
			}

			return "", false, fmt.Errorf("%w: checking archive destination: %w", media.ErrIO, statErr)
		}
	}
}

func (e *Engine) touchProcessed(ctx context.Context, f *media.File, finalPath string) error {
	if err := e.store.UpdateFileStatus(ctx, f.ID, media.FileVerified, store.FileStatusUpdate{Path: &finalPath}); err != nil {
		return fmt.Errorf("archive: recording sort for %s: %w", f.ID, err)
	}

	f.Path = finalPath

	return nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: hashing %s: %w", media.ErrIO, path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("%w: hashing %s: %w", media.ErrIO, path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
