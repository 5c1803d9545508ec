package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sfdcai/media-pipeline/internal/media"
)

// fileStore is the subset of *store.Store Engine needs.
type fileStore interface {
	UpsertFile(ctx context.Context, f *media.File) (uuid.UUID, error)
}

// Engine drives one or more Adapter variants: for each, it discovers
// candidates and fetches every one into destDir, registering it in the
// store at status *downloaded* (spec §4.5). UpsertFile's idempotency on
// (source_path, filename) is what makes Run safe to re-invoke — a
// candidate already registered is updated in place rather than
// duplicated, so an interrupted ingest naturally resumes.
type Engine struct {
	adapters []Adapter
	store    fileStore
	destDir  string
	logger   *slog.Logger
	nowFn    func() time.Time
}

// Option configures an Engine beyond its required constructor arguments.
type Option func(*Engine)

// WithNowFunc overrides the clock used to stamp new MediaFile rows (tests).
func WithNowFunc(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.nowFn = fn
		}
	}
}

// New builds an ingest Engine over one or more Adapter variants (spec
// §4.5 allows both cloud-photo-source and local-folder-scan to run in
// the same pipeline).
func New(st fileStore, destDir string, logger *slog.Logger, adapters ...Adapter) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{adapters: adapters, store: st, destDir: destDir, logger: logger, nowFn: time.Now}
}

// Report summarizes one Run invocation.
type Report struct {
	Processed int
	Succeeded int
	Failed    int
}

// Run discovers and fetches every candidate from every configured
// adapter, registering each as a MediaFile.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	var report Report

	for _, adapter := range e.adapters {
		var discoverErr error

		adapter.Discover(ctx)(func(c Candidate, err error) bool {
			if err != nil {
				discoverErr = err
				return false
			}

			report.Processed++

			if ingestErr := e.ingestOne(ctx, adapter, c); ingestErr != nil {
				report.Failed++
				e.logger.Error("ingest: fetching candidate failed",
					slog.String("filename", c.Filename), slog.String("error", ingestErr.Error()))
			} else {
				report.Succeeded++
			}

			return true
		})

		if discoverErr != nil {
			return report, fmt.Errorf("ingest: discovering candidates via %s: %w", adapter.Kind(), discoverErr)
		}
	}

	return report, nil
}

func (e *Engine) ingestOne(ctx context.Context, adapter Adapter, c Candidate) error {
	path, err := adapter.Fetch(ctx, c, e.destDir)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", c.Filename, err)
	}

	sourcePath := c.RemotePath
	if sourcePath == "" {
		sourcePath = c.LocalPath
	}

	f, err := media.NewFile(c.Filename, path, sourcePath, c.Size, adapter.Kind(), e.nowFn())
	if err != nil {
		return fmt.Errorf("building media file for %s: %w", c.Filename, err)
	}

	if _, err := e.store.UpsertFile(ctx, f); err != nil {
		return fmt.Errorf("registering %s: %w", c.Filename, err)
	}

	return nil
}
