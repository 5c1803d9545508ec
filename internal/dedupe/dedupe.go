// Package dedupe implements Dedupe (C6): walks files at status downloaded,
// computes a streaming content hash, consults HashIndex, and quarantines
// duplicates rather than deleting them (spec §4.6).
package dedupe

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sfdcai/media-pipeline/internal/hashindex"
	"github.com/sfdcai/media-pipeline/internal/media"
	"github.com/sfdcai/media-pipeline/internal/store"
)

// HashAlgorithm selects the streaming hash function, mirroring
// DEDUPLICATION_HASH_ALGORITHM (spec §4.1).
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

// defaultWorkers matches the orchestrator's "bounded worker groups (default
// 4) per phase" convention (spec §4.13 expansion).
const defaultWorkers = 4

// fileStore is the subset of *store.Store Dedupe needs, kept narrow so this
// package depends on store's types without importing its full surface
// (spec §9's one-way-dependency discipline, generalized from mirror/
// hashindex's own narrow interfaces).
type fileStore interface {
	IterFiles(ctx context.Context, status media.FileStatus) iter.Seq2[*media.File, error]
	UpdateFileStatus(ctx context.Context, id uuid.UUID, newStatus media.FileStatus, fields store.FileStatusUpdate) error
	RecordDuplicate(ctx context.Context, d *media.Duplicate) error
}

// Engine runs the Dedupe phase.
type Engine struct {
	store         fileStore
	index         *hashindex.Index
	algorithm     HashAlgorithm
	quarantineDir string
	workers       int
	logger        *slog.Logger
}

// Option configures an Engine beyond its required constructor arguments.
type Option func(*Engine)

// WithWorkers overrides the default bounded worker-pool size.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// New builds a Dedupe engine. quarantineDir is where duplicate files are
// moved (CLEANUP_DIR, spec.md's "cleanup/ quarantined duplicates" layout).
func New(st fileStore, index *hashindex.Index, algorithm HashAlgorithm, quarantineDir string, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		store:         st,
		index:         index,
		algorithm:     algorithm,
		quarantineDir: quarantineDir,
		workers:       defaultWorkers,
		logger:        logger,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Report summarizes one Run invocation.
type Report struct {
	Processed  int
	Survivors  int
	Duplicates int
	Errors     int
}

type hashResult struct {
	file *media.File
	hash string
	err  error
}

// Run hashes every file at status downloaded with a bounded worker pool,
// then resolves survivors (spec §4.6): a hash already present in HashIndex
// from a prior run always wins over anything discovered this run; a hash
// first seen in this run is resolved among its same-run candidates by
// earliest created_at, first wins. Hashing failures transition the file to
// error with a log entry and never abort the run (spec §4.6: "do not
// abort the pipeline").
func (e *Engine) Run(ctx context.Context) (Report, error) {
	candidates, err := e.collectCandidates(ctx)
	if err != nil {
		return Report{}, err
	}

	results := e.hashAll(ctx, candidates)

	return e.resolve(ctx, results), nil
}

func (e *Engine) collectCandidates(ctx context.Context) ([]*media.File, error) {
	var files []*media.File

	var iterErr error

	e.store.IterFiles(ctx, media.FileDownloaded)(func(f *media.File, err error) bool {
		if err != nil {
			iterErr = err
			return false
		}

		files = append(files, f)

		return true
	})

	if iterErr != nil {
		return nil, fmt.Errorf("dedupe: listing downloaded files: %w", iterErr)
	}

	return files, nil
}

// hashAll computes every candidate's content hash across a bounded
// worker pool, grounded on the teacher's internal/sync/transfer.go
// dispatchPool (errgroup.WithContext + SetLimit), returning one result
// per candidate regardless of error — a hashing failure never aborts
// the group, it's just recorded in that candidate's result.
func (e *Engine) hashAll(ctx context.Context, candidates []*media.File) []hashResult {
	results := make([]hashResult, len(candidates))

	workers := e.workers
	if workers > len(candidates) {
		workers = len(candidates)
	}

	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, f := range candidates {
		i, f := i, f

		g.Go(func() error {
			h, err := e.hashFile(gctx, f.Path)
			results[i] = hashResult{file: f, hash: h, err: err}
			return nil
		})
	}

	_ = g.Wait()

	return results
}

func (e *Engine) hashFile(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: opening %s: %w", media.ErrIO, path, err)
	}
	defer f.Close()

	h, err := newHasher(e.algorithm)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("%w: hashing %s: %w", media.ErrIO, path, err)
	}

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// resolve is the single result-handling path that mutates HashIndex (spec
// §9's "no cross-thread mutable map" guidance): hashing runs concurrently,
// but every Record/store write happens here, serially.
func (e *Engine) resolve(ctx context.Context, results []hashResult) Report {
	var report Report

	groups := make(map[string][]*media.File)

	for _, r := range results {
		report.Processed++

		if r.err != nil {
			report.Errors++
			e.markErrored(ctx, r.file, r.err)
			continue
		}

		groups[r.hash] = append(groups[r.hash], r.file)
	}

	// Deterministic iteration order so repeated runs over the same input
	// log in the same sequence; map order is otherwise unspecified.
	hashes := make([]string, 0, len(groups))
	for h := range groups {
		hashes = append(hashes, h)
	}

	sort.Strings(hashes)

	for _, h := range hashes {
		e.resolveGroup(ctx, h, groups[h], &report)
	}

	return report
}

func (e *Engine) resolveGroup(ctx context.Context, h string, group []*media.File, report *Report) {
	if existing, ok := e.index.Lookup(h); ok && len(existing) > 0 {
		survivor := existing[0]

		for _, f := range group {
			e.index.Record(h, f.ID)
			e.markDuplicate(ctx, f, survivor, h)
			report.Duplicates++
		}

		return
	}

	// Earliest created_at wins among same-run candidates (spec §4.6).
	sort.SliceStable(group, func(i, j int) bool {
		return group[i].CreatedAt.Before(group[j].CreatedAt)
	})

	survivor := group[0]

	e.index.Record(h, survivor.ID)
	e.markSurvivor(ctx, survivor, h)
	report.Survivors++

	for _, f := range group[1:] {
		e.index.Record(h, f.ID)
		e.markDuplicate(ctx, f, survivor.ID, h)
		report.Duplicates++
	}
}

func (e *Engine) markSurvivor(ctx context.Context, f *media.File, h string) {
	if err := e.store.UpdateFileStatus(ctx, f.ID, media.FileDeduplicated, store.FileStatusUpdate{Hash: &h}); err != nil {
		e.logger.Error("dedupe: marking survivor failed", slog.String("file_id", f.ID.String()), slog.String("error", err.Error()))
	}
}

func (e *Engine) markDuplicate(ctx context.Context, dup *media.File, survivorID uuid.UUID, h string) {
	isDup := true

	if err := e.store.UpdateFileStatus(ctx, dup.ID, media.FileDeduplicated, store.FileStatusUpdate{Hash: &h, IsDuplicate: &isDup}); err != nil {
		e.logger.Error("dedupe: marking duplicate failed", slog.String("file_id", dup.ID.String()), slog.String("error", err.Error()))
		return
	}

	d, err := media.NewDuplicate(survivorID, dup.ID, h, dup.CreatedAt)
	if err != nil {
		e.logger.Error("dedupe: building duplicate record failed", slog.String("error", err.Error()))
		return
	}

	if err := e.store.RecordDuplicate(ctx, d); err != nil {
		e.logger.Error("dedupe: recording duplicate failed", slog.String("file_id", dup.ID.String()), slog.String("error", err.Error()))
		return
	}

	dest, err := e.quarantine(dup)
	if err != nil {
		e.logger.Error("dedupe: quarantining duplicate failed", slog.String("file_id", dup.ID.String()), slog.String("error", err.Error()))
		return
	}

	if err := e.store.UpdateFileStatus(ctx, dup.ID, media.FileDeduplicated, store.FileStatusUpdate{Path: &dest}); err != nil {
		e.logger.Error("dedupe: recording quarantine path failed", slog.String("file_id", dup.ID.String()), slog.String("error", err.Error()))
	}
}

// quarantine moves a duplicate's file into quarantineDir rather than
// deleting it (spec §4.6: "not deleted"), returning its new path.
func (e *Engine) quarantine(f *media.File) (string, error) {
	if e.quarantineDir == "" {
		return f.Path, nil
	}

	if err := os.MkdirAll(e.quarantineDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating quarantine dir: %w", media.ErrIO, err)
	}

	dest := filepath.Join(e.quarantineDir, f.Filename)

	if _, err := os.Stat(dest); err == nil {
		dest = filepath.Join(e.quarantineDir, fmt.Sprintf("%s_%s", f.ID.String()[:8], f.Filename))
	}

	if err := os.Rename(f.Path, dest); err != nil {
		return "", fmt.Errorf("%w: moving %s to quarantine: %w", media.ErrIO, f.Path, err)
	}

	return dest, nil
}

func (e *Engine) markErrored(ctx context.Context, f *media.File, cause error) {
	e.logger.Error("dedupe: hashing failed", slog.String("file_id", f.ID.String()), slog.String("path", f.Path), slog.String("error", cause.Error()))

	if err := e.store.UpdateFileStatus(ctx, f.ID, media.FileError, store.FileStatusUpdate{}); err != nil {
		if !errors.Is(err, media.ErrInvalidTransition) {
			e.logger.Error("dedupe: marking file errored failed", slog.String("file_id", f.ID.String()), slog.String("error", err.Error()))
		}
	}
}
