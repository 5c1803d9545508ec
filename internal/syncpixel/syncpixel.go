package syncpixel

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sfdcai/media-pipeline/internal/media"
	"github.com/sfdcai/media-pipeline/internal/store"
)

// statusClient is the subset of *Client Engine needs, kept narrow for
// testability (the same convention as every other phase engine in this
// codebase).
type statusClient interface {
	FolderStatus(ctx context.Context, folderID string) (FolderStatus, error)
}

// fileStore is the subset of *store.Store Engine needs.
type fileStore interface {
	IterFiles(ctx context.Context, status media.FileStatus) iter.Seq2[*media.File, error]
	GetBatch(ctx context.Context, id uuid.UUID) (*media.Batch, error)
	SetBatchStatus(ctx context.Context, id uuid.UUID, newStatus media.BatchStatus) error
	UpdateFileStatus(ctx context.Context, id uuid.UUID, newStatus media.FileStatus, fields store.FileStatusUpdate) error
}

// debounceRounds is how many consecutive idle polls are required before
// SyncPixel accepts completion (spec §4.10 step 3: "to debounce
// false-idle").
const debounceRounds = 2

// Config holds SyncPixel's tunables (spec §4.10).
type Config struct {
	FolderID     string
	PollInterval time.Duration
	Timeout      time.Duration
	UploadedDir  string
}

// Engine runs the SyncPixel phase.
type Engine struct {
	store   fileStore
	client  statusClient
	cfg     Config
	logger  *slog.Logger
	nowFn   func() time.Time
	sleepFn func(time.Duration)
}

// Option configures an Engine beyond its required constructor arguments.
type Option func(*Engine)

// WithNowFunc overrides the clock used for the timeout deadline (tests).
func WithNowFunc(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.nowFn = fn
		}
	}
}

// WithSleepFunc overrides the inter-poll sleep (tests).
func WithSleepFunc(fn func(time.Duration)) Option {
	return func(e *Engine) {
		if fn != nil {
			e.sleepFn = fn
		}
	}
}

// New builds a SyncPixel engine.
func New(st fileStore, client statusClient, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		store:   st,
		client:  client,
		cfg:     cfg,
		logger:  logger,
		nowFn:   time.Now,
		sleepFn: time.Sleep,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Report summarizes one Run invocation.
type Report struct {
	Uploaded int
	Polls    int
}

// Run waits for the pixel bridge's watched folder to settle, then
// transitions every *batched* file destined for the paired device to
// *uploaded* (spec §4.10). On timeout, no file is transitioned — the
// stager's output remains safe to retry.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	members, batchIDs, err := e.collectPixelBatches(ctx)
	if err != nil {
		return Report{}, err
	}

	if len(members) == 0 {
		return Report{}, nil
	}

	report, err := e.waitForIdle(ctx)
	if err != nil {
		for _, id := range batchIDs {
			if serr := e.store.SetBatchStatus(ctx, id, media.BatchError); serr != nil {
				e.logger.Error("syncpixel: marking batch error failed", slog.String("batch_id", id.String()), slog.String("error", serr.Error()))
			}
		}

		return report, err
	}

	for _, id := range batchIDs {
		if err := e.store.SetBatchStatus(ctx, id, media.BatchUploading); err != nil {
			e.logger.Error("syncpixel: marking batch uploading failed", slog.String("batch_id", id.String()), slog.String("error", err.Error()))
		}
	}

	for _, f := range members {
		e.markUploaded(ctx, f)
		report.Uploaded++
	}

	for _, id := range batchIDs {
		if err := e.store.SetBatchStatus(ctx, id, media.BatchUploaded); err != nil {
			e.logger.Error("syncpixel: marking batch uploaded failed", slog.String("batch_id", id.String()), slog.String("error", err.Error()))
		}
	}

	return report, nil
}

// waitForIdle polls the daemon's folder-status endpoint every
// PollInterval, requiring debounceRounds consecutive idle readings before
// accepting completion, and aborting with ErrSyncTimeout once Timeout has
// elapsed (spec §4.10 steps 2-4).
func (e *Engine) waitForIdle(ctx context.Context) (Report, error) {
	var report Report

	deadline := e.nowFn().Add(e.cfg.Timeout)
	consecutiveIdle := 0

	for {
		if e.nowFn().After(deadline) {
			return report, fmt.Errorf("%w: folder %s did not settle within %s", media.ErrSyncTimeout, e.cfg.FolderID, e.cfg.Timeout)
		}

		status, err := e.client.FolderStatus(ctx, e.cfg.FolderID)
		report.Polls++

		if err != nil {
			e.logger.Warn("syncpixel: polling folder status failed", slog.String("error", err.Error()))
			consecutiveIdle = 0
		} else if status.Idle() {
			consecutiveIdle++

			if consecutiveIdle >= debounceRounds {
				return report, nil
			}
		} else {
			consecutiveIdle = 0
		}

		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		e.sleepFn(e.cfg.PollInterval)
	}
}

// collectPixelBatches gathers every batched file whose batch destination
// is the paired device, plus the distinct batch ids involved.
func (e *Engine) collectPixelBatches(ctx context.Context) ([]*media.File, []uuid.UUID, error) {
	var (
		members   []*media.File
		batchIDs  []uuid.UUID
		destCache = make(map[uuid.UUID]media.UploadKind)
		seen      = make(map[uuid.UUID]bool)
		iterErr   error
	)

	e.store.IterFiles(ctx, media.FileBatched)(func(f *media.File, err error) bool {
		if err != nil {
			iterErr = err
			return false
		}

		if f.BatchID == nil {
			return true
		}

		dest, ok := destCache[*f.BatchID]
		if !ok {
			b, getErr := e.store.GetBatch(ctx, *f.BatchID)
			if getErr != nil {
				e.logger.Warn("syncpixel: loading batch failed", slog.String("batch_id", f.BatchID.String()), slog.String("error", getErr.Error()))
				return true
			}

			dest = b.Destination
			destCache[*f.BatchID] = dest
		}

		if dest != media.UploadPixel {
			return true
		}

		members = append(members, f)

		if !seen[*f.BatchID] {
			seen[*f.BatchID] = true
			batchIDs = append(batchIDs, *f.BatchID)
		}

		return true
	})

	if iterErr != nil {
		return nil, nil, fmt.Errorf("syncpixel: listing batched files: %w", iterErr)
	}

	return members, batchIDs, nil
}

func (e *Engine) markUploaded(ctx context.Context, f *media.File) {
	dest := f.Path

	if e.cfg.UploadedDir != "" {
		moved, err := moveFile(f.Path, filepath.Join(e.cfg.UploadedDir, f.Filename))
		if err != nil {
			e.logger.Error("syncpixel: moving file to uploaded dir failed", slog.String("file_id", f.ID.String()), slog.String("error", err.Error()))
		} else {
			dest = moved
		}
	}

	if err := e.store.UpdateFileStatus(ctx, f.ID, media.FileUploaded, store.FileStatusUpdate{Path: &dest}); err != nil {
		e.logger.Error("syncpixel: marking file uploaded failed", slog.String("file_id", f.ID.String()), slog.String("error", err.Error()))
		return
	}

	f.Path = dest
}

func moveFile(src, dest string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}

	if err := os.Rename(src, dest); err != nil {
		return "", err
	}

	return dest, nil
}
