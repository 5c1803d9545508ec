// Package stage implements BridgeStager (C8): partitions compressed files
// into destination-specific flat bridge directories, respecting size/count
// caps and a filename-conflict policy (spec §4.8).
package stage

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sfdcai/media-pipeline/internal/media"
	"github.com/sfdcai/media-pipeline/internal/store"
)

// fileStore is the subset of *store.Store BridgeStager needs, kept narrow
// for the same one-way-dependency reason as internal/dedupe's fileStore.
type fileStore interface {
	IterFiles(ctx context.Context, status media.FileStatus) iter.Seq2[*media.File, error]
	UpdateFileStatus(ctx context.Context, id uuid.UUID, newStatus media.FileStatus, fields store.FileStatusUpdate) error
	CreateBatch(ctx context.Context, b *media.Batch, members []*media.File) error
}

// Destination is one bridge target BridgeStager stages into.
type Destination struct {
	Kind      media.UploadKind
	BridgeDir string
}

// Caps bounds how much a single stager invocation places in one bridge
// (spec §4.8: MAX_BATCH_SIZE_GB / MAX_BATCH_FILES).
type Caps struct {
	MaxSizeBytes int64
	MaxFiles     int
}

// HashAlgorithm mirrors internal/dedupe's, used here only to compare an
// existing bridge-resident file against a candidate for the filename-
// conflict policy (spec §4.8).
type HashAlgorithm string

const (
	MD5    HashAlgorithm = "md5"
	SHA256 HashAlgorithm = "sha256"
)

func newHasher(alg HashAlgorithm) (hash.Hash, error) {
	switch alg {
	case MD5:
		return md5.New(), nil
	case SHA256, "":
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("%w: unknown hash algorithm %q", media.ErrConfig, alg)
	}
}

func hashFile(alg HashAlgorithm, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, err := newHasher(alg)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// Engine runs the BridgeStager phase.
type Engine struct {
	store         fileStore
	destinations  []Destination
	caps          Caps
	hashAlgorithm HashAlgorithm
	clearBefore   bool
	logger        *slog.Logger
	nowFn         func() time.Time
}

// Option configures an Engine beyond its required constructor arguments.
type Option func(*Engine)

// WithClearBridgeBeforeProcessing enables CLEAR_BRIDGE_BEFORE_PROCESSING:
// before staging, already-uploaded-or-later files are cleared from the
// bridge (spec §4.8).
func WithClearBridgeBeforeProcessing(enabled bool) Option {
	return func(e *Engine) { e.clearBefore = enabled }
}

// WithNowFunc overrides the clock used to stamp new Batch rows (tests).
func WithNowFunc(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.nowFn = fn
		}
	}
}

// New builds a BridgeStager engine over destinations, each subject to caps.
func New(st fileStore, destinations []Destination, caps Caps, hashAlgorithm HashAlgorithm, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		store:         st,
		destinations:  destinations,
		caps:          caps,
		hashAlgorithm: hashAlgorithm,
		logger:        logger,
		nowFn:         time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// DestinationReport summarizes staging for one destination.
type DestinationReport struct {
	Kind      media.UploadKind
	Staged    int
	Skipped   int
	BatchID   uuid.UUID
	BatchSize int64
}

// Report summarizes one Run invocation.
type Report struct {
	Destinations []DestinationReport
}

// Run stages eligible files into every configured destination's bridge
// directory, one Batch row per destination per invocation (spec §4.8).
func (e *Engine) Run(ctx context.Context) (Report, error) {
	var report Report

	for _, dest := range e.destinations {
		r, err := e.stageDestination(ctx, dest)
		if err != nil {
			e.logger.Error("stage: destination failed", slog.String("destination", dest.Kind.String()), slog.String("error", err.Error()))
			continue
		}

		report.Destinations = append(report.Destinations, r)
	}

	return report, nil
}

func (e *Engine) stageDestination(ctx context.Context, dest Destination) (DestinationReport, error) {
	report := DestinationReport{Kind: dest.Kind}

	if err := os.MkdirAll(dest.BridgeDir, 0o755); err != nil {
		return report, fmt.Errorf("%w: creating bridge dir %s: %w", media.ErrIO, dest.BridgeDir, err)
	}

	if e.clearBefore {
		if err := e.clearUploadedResiduals(ctx, dest.BridgeDir); err != nil {
			e.logger.Warn("stage: clearing bridge residuals failed", slog.String("destination", dest.Kind.String()), slog.String("error", err.Error()))
		}
	}

	var eligible []*media.File

	var iterErr error

	e.store.IterFiles(ctx, media.FileCompressed)(func(f *media.File, err error) bool {
		if err != nil {
			iterErr = err
			return false
		}

		eligible = append(eligible, f)

		return true
	})

	if iterErr != nil {
		return report, fmt.Errorf("stage: listing compressed files: %w", iterErr)
	}

	var (
		members   []*media.File
		totalSize int64
	)

	for _, f := range eligible {
		if e.caps.MaxFiles > 0 && len(members) >= e.caps.MaxFiles {
			break
		}

		if e.caps.MaxSizeBytes > 0 && totalSize+f.Size > e.caps.MaxSizeBytes {
			continue
		}

		staged, err := e.stageFile(ctx, dest.BridgeDir, f)
		if err != nil {
			e.logger.Error("stage: staging file failed", slog.String("file_id", f.ID.String()), slog.String("error", err.Error()))
			report.Skipped++

			continue
		}

		if !staged {
			report.Skipped++
			continue
		}

		members = append(members, f)
		totalSize += f.Size
		report.Staged++
	}

	if len(members) == 0 {
		return report, nil
	}

	batch, err := media.NewBatch(dest.Kind, members, e.nowFn())
	if err != nil {
		return report, fmt.Errorf("stage: building batch: %w", err)
	}

	if err := e.store.CreateBatch(ctx, batch, members); err != nil {
		return report, fmt.Errorf("stage: creating batch for %s: %w", dest.Kind, err)
	}

	report.BatchID = batch.ID
	report.BatchSize = batch.TotalSize

	return report, nil
}

// stageFile places f into bridgeDir, resolving filename conflicts (spec
// §4.8): a same-name, same-hash resident is left alone (already staged,
// the resumability case); a same-name, different-hash resident causes f to
// be staged under a suffixed name. Returns false if f should be excluded
// from this batch (impossible under the current policy, reserved for
// future conflict classes).
func (e *Engine) stageFile(ctx context.Context, bridgeDir string, f *media.File) (bool, error) {
	dest := filepath.Join(bridgeDir, f.Filename)

	if _, err := os.Stat(dest); err == nil {
		existingHash, err := hashFile(e.hashAlgorithm, dest)
		if err != nil {
			return false, fmt.Errorf("%w: hashing existing bridge file %s: %w", media.ErrIO, dest, err)
		}

		if existingHash == f.Hash {
			return e.pointToPath(ctx, f, dest)
		}

		dest = conflictPath(bridgeDir, f.Filename, f.Hash)
	}

	if err := copyFile(f.Path, dest); err != nil {
		return false, fmt.Errorf("%w: copying %s to bridge: %w", media.ErrIO, f.Path, err)
	}

	return e.pointToPath(ctx, f, dest)
}

func (e *Engine) pointToPath(ctx context.Context, f *media.File, dest string) (bool, error) {
	if f.Path == dest {
		return true, nil
	}

	if err := e.store.UpdateFileStatus(ctx, f.ID, media.FileCompressed, store.FileStatusUpdate{Path: &dest}); err != nil {
		return false, fmt.Errorf("stage: updating path for %s: %w", f.ID, err)
	}

	f.Path = dest

	return true, nil
}

// conflictPath appends an 8-character hash prefix before the extension
// (spec §4.8: "_<8-char-hash-prefix>").
func conflictPath(bridgeDir, filename, hash string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	prefix := hash
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}

	return filepath.Join(bridgeDir, fmt.Sprintf("%s_%s%s", base, prefix, ext))
}

// clearUploadedResiduals removes bridge-resident files whose current
// record has already moved past *batched* (spec §4.8:
// CLEAR_BRIDGE_BEFORE_PROCESSING "clears only files that are already in
// status uploaded or later").
func (e *Engine) clearUploadedResiduals(ctx context.Context, bridgeDir string) error {
	entries, err := os.ReadDir(bridgeDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	byPath := make(map[string]*media.File)

	var iterErr error

	e.store.IterFiles(ctx, "")(func(f *media.File, err error) bool {
		if err != nil {
			iterErr = err
			return false
		}

		byPath[f.Path] = f

		return true
	})

	if iterErr != nil {
		return iterErr
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(bridgeDir, entry.Name())

		f, ok := byPath[path]
		if !ok || !f.Status.AtLeast(media.FileUploaded) {
			// No tracking row, or not yet uploaded: leave it alone (spec
			// §4.8 scopes the clear to records already uploaded or later).
			continue
		}

		if err := os.Remove(path); err != nil {
			e.logger.Warn("stage: removing residual bridge file failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}

	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}

	return out.Close()
}
