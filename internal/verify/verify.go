// Package verify implements Verifier (C11): an optional, best-effort,
// non-blocking check that a destination really has the file it was just
// handed, before the file is allowed to advance to *verified* (spec
// §4.11).
package verify

import (
	"context"
	"iter"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sfdcai/media-pipeline/internal/media"
	"github.com/sfdcai/media-pipeline/internal/store"
)

// fileStore is the subset of *store.Store Engine needs.
type fileStore interface {
	IterFiles(ctx context.Context, status media.FileStatus) iter.Seq2[*media.File, error]
	UpdateFileStatus(ctx context.Context, id uuid.UUID, newStatus media.FileStatus, fields store.FileStatusUpdate) error
}

// Capability is the duck-typed check a destination may support: "is this
// file really there?" One concrete implementation exists per destination
// capable of answering, plus NoOp for destinations (or configurations)
// that cannot (spec §4.11, modeled the same way IngestAdapter's capability
// set is modeled — one interface, swappable concrete implementations).
type Capability interface {
	// Verify reports whether f is confirmed present at the destination.
	// A non-nil error means the check itself failed (network, auth, etc.)
	// and should be treated the same as a negative result: best-effort,
	// never fatal to the run.
	Verify(ctx context.Context, f *media.File) (bool, error)
}

// NoOp is used when the verification capability is disabled: every file
// is accepted as verified immediately, without contacting anything (spec
// §4.11: "If the capability is disabled, Verifier transitions uploaded ->
// verified immediately").
type NoOp struct{}

func (NoOp) Verify(context.Context, *media.File) (bool, error) { return true, nil }

// Engine runs the Verifier phase.
type Engine struct {
	store      fileStore
	capability Capability
	logger     *slog.Logger
}

// New builds a Verifier engine. capability may be NoOp{} to disable
// checking outright.
func New(st fileStore, capability Capability, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	if capability == nil {
		capability = NoOp{}
	}

	return &Engine{store: st, capability: capability, logger: logger}
}

// Report summarizes one Run invocation.
type Report struct {
	Verified int
	Pending  int
}

// Run checks every *uploaded* file against the capability, once each,
// best-effort: success transitions the file to *verified*; failure logs a
// warning and leaves the file at *uploaded* for a later run to retry
// (spec §4.11).
func (e *Engine) Run(ctx context.Context) (Report, error) {
	var report Report

	var files []*media.File

	var iterErr error

	e.store.IterFiles(ctx, media.FileUploaded)(func(f *media.File, err error) bool {
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
		ok, err := e.capability.Verify(ctx, f)
		if err != nil {
			e.logger.Warn("verify: capability check failed", slog.String("file_id", f.ID.String()), slog.String("error", err.Error()))
			report.Pending++

			continue
		}

		if !ok {
			e.logger.Warn("verify: destination did not confirm presence", slog.String("file_id", f.ID.String()))
			report.Pending++

			continue
		}

		if err := e.store.UpdateFileStatus(ctx, f.ID, media.FileVerified, store.FileStatusUpdate{}); err != nil {
			e.logger.Error("verify: marking file verified failed", slog.String("file_id", f.ID.String()), slog.String("error", err.Error()))
			report.Pending++

			continue
		}

		f.Status = media.FileVerified
		report.Verified++
	}

	return report, nil
}
