// Package uploadicloud implements UploaderICloud (C9): drives a headless
// (or visible) browser to upload each batched file destined for the cloud
// photo service, with session persistence, a selector-resolution chain,
// and a per-file retry/timeout contract (spec §4.9).
package uploadicloud

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

// fileStore is the subset of *store.Store Engine needs, kept narrow for
// the same one-way-dependency reason as internal/dedupe's fileStore.
type fileStore interface {
	IterFiles(ctx context.Context, status media.FileStatus) iter.Seq2[*media.File, error]
	GetBatch(ctx context.Context, id uuid.UUID) (*media.Batch, error)
	SetBatchStatus(ctx context.Context, id uuid.UUID, newStatus media.BatchStatus) error
	UpdateFileStatus(ctx context.Context, id uuid.UUID, newStatus media.FileStatus, fields store.FileStatusUpdate) error
}

// Config holds UploaderICloud's tunables (spec §4.9).
type Config struct {
	UploadURL        string
	SessionFile      string
	SelectorOverride string
	SelectorsFile    string // optional; empty uses the bundled list
	UploadTimeout    time.Duration
	RetryAttempts    int
	RetryDelay       time.Duration
	Headless         bool
	UploadedDir      string
	Inspect          bool
}

// Engine runs the UploaderICloud phase.
type Engine struct {
	store  fileStore
	cfg    Config
	logger *slog.Logger

	newAutomator func(ctx context.Context) (automator, error)
	sleepFn      func(time.Duration)
}

// Option configures an Engine beyond its required constructor arguments.
type Option func(*Engine)

// withAutomatorFactory overrides how Engine obtains an automator,
// exclusively for tests (a real run always drives chromedp).
func withAutomatorFactory(fn func(ctx context.Context) (automator, error)) Option {
	return func(e *Engine) { e.newAutomator = fn }
}

// WithSleepFunc overrides the retry-delay sleep (tests).
func WithSleepFunc(fn func(time.Duration)) Option {
	return func(e *Engine) {
		if fn != nil {
			e.sleepFn = fn
		}
	}
}

// New builds an UploaderICloud engine.
func New(st fileStore, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		store:   st,
		cfg:     cfg,
		logger:  logger,
		sleepFn: time.Sleep,
	}

	e.newAutomator = func(ctx context.Context) (automator, error) {
		return newChromeAutomator(ctx, cfg.UploadURL, cfg.Headless)
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Report summarizes one Run invocation.
type Report struct {
	Uploaded  int
	Errors    int
	Inspected []string
}

// Run establishes (or re-establishes) a browser session, then uploads
// every *batched* file whose batch destination is the cloud photo service
// (spec §4.9).
func (e *Engine) Run(ctx context.Context) (Report, error) {
	auto, err := e.newAutomator(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("uploadicloud: starting browser: %w", err)
	}
	defer auto.Close()

	if err := e.establishSession(ctx, auto); err != nil {
		return Report{}, err
	}

	if e.cfg.Inspect {
		return Report{Inspected: auto.ListCandidateSelectors(ctx)}, nil
	}

	batches, err := e.collectICloudBatches(ctx)
	if err != nil {
		return Report{}, err
	}

	var report Report

	for batchID, members := range batches {
		e.uploadBatch(ctx, auto, batchID, members, &report)
	}

	return report, nil
}

// establishSession loads a persisted cookie jar if present and injects it;
// if absent or rejected, it waits for an interactive login to reach the
// "photos ready" state, then persists the resulting cookies (spec §4.9
// "Session").
func (e *Engine) establishSession(ctx context.Context, auto automator) error {
	cookies, err := loadSession(e.cfg.SessionFile)
	if err != nil {
		e.logger.Warn("uploadicloud: loading session file failed", slog.String("error", err.Error()))
	}

	if len(cookies) > 0 {
		if err := auto.LoadCookies(ctx, cookies); err != nil {
			e.logger.Warn("uploadicloud: injecting session cookies failed", slog.String("error", err.Error()))
		}

		if auto.ReachedPhotosReady(ctx, e.cfg.UploadTimeout) {
			return nil
		}
	}

	if !auto.ReachedPhotosReady(ctx, e.cfg.UploadTimeout) {
		return fmt.Errorf("%w: photos library never became ready", media.ErrAuth)
	}

	fresh, err := auto.Cookies(ctx)
	if err != nil {
		e.logger.Warn("uploadicloud: reading session cookies failed", slog.String("error", err.Error()))
		return nil
	}

	if e.cfg.SessionFile != "" {
		if err := saveSession(e.cfg.SessionFile, fresh); err != nil {
			e.logger.Warn("uploadicloud: persisting session file failed", slog.String("error", err.Error()))
		}
	}

	return nil
}

// collectICloudBatches groups every batched file by batch id, keeping only
// batches destined for the cloud photo service.
func (e *Engine) collectICloudBatches(ctx context.Context) (map[uuid.UUID][]*media.File, error) {
	batches := make(map[uuid.UUID][]*media.File)
	destCache := make(map[uuid.UUID]media.UploadKind)

	var iterErr error

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
				e.logger.Warn("uploadicloud: loading batch failed", slog.String("batch_id", f.BatchID.String()), slog.String("error", getErr.Error()))
				return true
			}

			dest = b.Destination
			destCache[*f.BatchID] = dest
		}

		if dest != media.UploadICloud {
			return true
		}

		batches[*f.BatchID] = append(batches[*f.BatchID], f)

		return true
	})

	if iterErr != nil {
		return nil, fmt.Errorf("uploadicloud: listing batched files: %w", iterErr)
	}

	return batches, nil
}

func (e *Engine) uploadBatch(ctx context.Context, auto automator, batchID uuid.UUID, members []*media.File, report *Report) {
	if err := e.store.SetBatchStatus(ctx, batchID, media.BatchUploading); err != nil {
		e.logger.Error("uploadicloud: marking batch uploading failed", slog.String("batch_id", batchID.String()), slog.String("error", err.Error()))
	}

	allSucceeded := true

	for _, f := range members {
		if e.uploadOne(ctx, auto, f) {
			report.Uploaded++
		} else {
			report.Errors++
			allSucceeded = false
		}
	}

	finalStatus := media.BatchUploaded
	if !allSucceeded {
		finalStatus = media.BatchError
	}

	if err := e.store.SetBatchStatus(ctx, batchID, finalStatus); err != nil {
		e.logger.Error("uploadicloud: finalizing batch status failed", slog.String("batch_id", batchID.String()), slog.String("error", err.Error()))
	}
}

// uploadOne resolves a selector, pushes the file, and waits for
// completion, retrying the whole attempt up to RetryAttempts times with
// RetryDelay between (spec §4.9 "Per-file upload").
func (e *Engine) uploadOne(ctx context.Context, auto automator, f *media.File) bool {
	var lastErr error

	for attempt := 0; attempt <= e.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			e.sleepFn(e.cfg.RetryDelay)
		}

		if err := e.attemptUpload(ctx, auto, f); err != nil {
			lastErr = err

			e.logger.Warn("uploadicloud: upload attempt failed",
				slog.String("file_id", f.ID.String()),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()))

			continue
		}

		e.markUploaded(ctx, f)

		return true
	}

	e.markErrored(ctx, f, lastErr)

	return false
}

func (e *Engine) attemptUpload(ctx context.Context, auto automator, f *media.File) error {
	selector, ok := e.resolveSelector(ctx, auto)
	if !ok {
		return media.ErrSelectorNotFound
	}

	if err := auto.UploadFile(ctx, selector, f.Path); err != nil {
		return fmt.Errorf("uploadicloud: pushing file into control: %w", err)
	}

	if err := auto.WaitUploadComplete(ctx, e.cfg.UploadTimeout); err != nil {
		return fmt.Errorf("%w: %w", media.ErrUploadTimeout, err)
	}

	return nil
}

// resolveSelector implements the selector-resolution chain (spec §4.9):
// override, then bundled list, then frame-walk.
func (e *Engine) resolveSelector(ctx context.Context, auto automator) (string, bool) {
	if e.cfg.SelectorOverride != "" {
		if auto.ResolveFileInput(ctx, e.cfg.SelectorOverride, e.cfg.UploadTimeout) {
			return e.cfg.SelectorOverride, true
		}
	}

	candidates, err := loadSelectorsFile(e.cfg.SelectorsFile)
	if err != nil {
		e.logger.Warn("uploadicloud: loading selector candidates failed", slog.String("error", err.Error()))
	}

	for _, sel := range candidates {
		if auto.ResolveFileInput(ctx, sel, e.cfg.UploadTimeout) {
			return sel, true
		}
	}

	return auto.FrameWalkFileInput(ctx, e.cfg.UploadTimeout)
}

func (e *Engine) markUploaded(ctx context.Context, f *media.File) {
	dest := f.Path

	if e.cfg.UploadedDir != "" {
		moved, err := moveFile(f.Path, filepath.Join(e.cfg.UploadedDir, f.Filename))
		if err != nil {
			e.logger.Error("uploadicloud: moving file to uploaded dir failed", slog.String("file_id", f.ID.String()), slog.String("error", err.Error()))
		} else {
			dest = moved
		}
	}

	if err := e.store.UpdateFileStatus(ctx, f.ID, media.FileUploaded, store.FileStatusUpdate{Path: &dest}); err != nil {
		e.logger.Error("uploadicloud: marking file uploaded failed", slog.String("file_id", f.ID.String()), slog.String("error", err.Error()))
		return
	}

	f.Path = dest
}

func (e *Engine) markErrored(ctx context.Context, f *media.File, cause error) {
	e.logger.Error("uploadicloud: upload failed after retries", slog.String("file_id", f.ID.String()), slog.String("error", fmt.Sprint(cause)))

	if err := e.store.UpdateFileStatus(ctx, f.ID, media.FileError, store.FileStatusUpdate{}); err != nil {
		e.logger.Error("uploadicloud: marking file errored failed", slog.String("file_id", f.ID.String()), slog.String("error", err.Error()))
	}
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
