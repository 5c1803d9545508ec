// Package compress implements Compressor (C7): applies an age-tiered
// compression policy to every deduplicated file, writing artifacts under
// COMPRESSED_DIR while leaving originals in place (spec §4.7).
package compress

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nfnt/resize"
	"golang.org/x/sync/errgroup"

	"github.com/sfdcai/media-pipeline/internal/capturedate"
	"github.com/sfdcai/media-pipeline/internal/media"
	"github.com/sfdcai/media-pipeline/internal/store"
)

const defaultWorkers = 4

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true}

var videoExtensions = map[string]bool{".mov": true, ".mp4": true, ".m4v": true, ".avi": true}

// fileStore is the subset of *store.Store Compressor needs, kept narrow
// for the same one-way-dependency reason as internal/dedupe's fileStore.
type fileStore interface {
	IterFiles(ctx context.Context, status media.FileStatus) iter.Seq2[*media.File, error]
	UpdateFileStatus(ctx context.Context, id uuid.UUID, newStatus media.FileStatus, fields store.FileStatusUpdate) error
}

// Policy holds the age-tiered compression parameters (spec §4.7).
type Policy struct {
	IntervalYears int

	JPEGQuality             int
	InitialResizePercent    int
	SubsequentResizePercent int

	InitialVideoResolution    int
	SubsequentVideoResolution int
	VideoCRF                  int
	VideoPreset               string
}

func (p Policy) tierFor(captured time.Time, now time.Time) (resizePercent, videoResolution int) {
	if now.Sub(captured) <= time.Duration(p.IntervalYears)*365*24*time.Hour {
		return p.InitialResizePercent, p.InitialVideoResolution
	}

	return p.SubsequentResizePercent, p.SubsequentVideoResolution
}

// Engine runs the Compressor phase.
type Engine struct {
	store      fileStore
	policy     Policy
	outputDir  string
	ffmpegPath string
	workers    int
	logger     *slog.Logger
	nowFn      func() time.Time
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

// WithFFmpegPath overrides the ffmpeg binary name/path (default "ffmpeg",
// resolved via PATH by os/exec).
func WithFFmpegPath(path string) Option {
	return func(e *Engine) {
		if path != "" {
			e.ffmpegPath = path
		}
	}
}

// WithNowFunc overrides the clock used for age-tier comparisons (tests).
func WithNowFunc(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.nowFn = fn
		}
	}
}

// New builds a Compressor engine. outputDir is COMPRESSED_DIR.
func New(st fileStore, policy Policy, outputDir string, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		store:      st,
		policy:     policy,
		outputDir:  outputDir,
		ffmpegPath: "ffmpeg",
		workers:    defaultWorkers,
		logger:     logger,
		nowFn:      time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Report summarizes one Run invocation.
type Report struct {
	Processed   int
	Compressed  int
	Unsupported int
	Errors      int
}

// Run applies the age-tiered policy to every file at status deduplicated,
// via a bounded worker pool grounded on the teacher's
// internal/sync/transfer.go dispatchPool (errgroup.WithContext +
// SetLimit).
func (e *Engine) Run(ctx context.Context) (Report, error) {
	var files []*media.File

	var iterErr error

	e.store.IterFiles(ctx, media.FileDeduplicated)(func(f *media.File, err error) bool {
		if err != nil {
			iterErr = err
			return false
		}

		files = append(files, f)

		return true
	})

	if iterErr != nil {
		return Report{}, fmt.Errorf("compress: listing deduplicated files: %w", iterErr)
	}

	outcomes := make([]outcome, len(files))

	workers := e.workers
	if workers > len(files) {
		workers = len(files)
	}

	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, f := range files {
		i, f := i, f

		g.Go(func() error {
			outcomes[i] = e.compressOne(gctx, f)
			return nil
		})
	}

	_ = g.Wait()

	var report Report

	for _, o := range outcomes {
		report.Processed++

		switch o {
		case outcomeCompressed:
			report.Compressed++
		case outcomeUnsupported:
			report.Unsupported++
		case outcomeError:
			report.Errors++
		}
	}

	return report, nil
}

type outcome int

const (
	outcomeCompressed outcome = iota
	outcomeUnsupported
	outcomeError
)

func (e *Engine) compressOne(ctx context.Context, f *media.File) outcome {
	ext := strings.ToLower(filepath.Ext(f.Filename))

	captured, err := capturedate.Of(f.Path)
	if err != nil {
		e.logger.Warn("compress: capture date lookup failed, assuming old", slog.String("file_id", f.ID.String()), slog.String("error", err.Error()))
		captured = time.Time{}
	}

	resizePercent, videoResolution := e.policy.tierFor(captured, e.nowFn())

	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		e.fail(ctx, f, fmt.Errorf("%w: creating compressed dir: %w", media.ErrIO, err))
		return outcomeError
	}

	dest := filepath.Join(e.outputDir, f.Filename)

	switch {
	case imageExtensions[ext]:
		if err := e.compressImage(f.Path, dest, resizePercent, e.policy.JPEGQuality); err != nil {
			e.fail(ctx, f, err)
			return outcomeError
		}
	case videoExtensions[ext]:
		if err := e.compressVideo(ctx, f.Path, dest, videoResolution); err != nil {
			e.fail(ctx, f, err)
			return outcomeError
		}
	default:
		e.logger.Warn("compress: unsupported media type, keeping original", slog.String("file_id", f.ID.String()), slog.String("ext", ext))
		e.markDone(ctx, f, f.Path, 1.0)
		return outcomeUnsupported
	}

	ratio, useDest := e.ratio(f.Path, dest)

	if useDest {
		e.markDone(ctx, f, dest, ratio)
	} else {
		e.markDone(ctx, f, f.Path, 1.0)
	}

	return outcomeCompressed
}

// ratio compares the compressed artifact against the original, returning
// whether the artifact should be kept (spec §4.7: "If the result is larger
// than the original, keep the original copy, set ratio = 1.0").
func (e *Engine) ratio(originalPath, compressedPath string) (float64, bool) {
	origInfo, err := os.Stat(originalPath)
	if err != nil {
		return 1.0, false
	}

	compInfo, err := os.Stat(compressedPath)
	if err != nil {
		return 1.0, false
	}

	if origInfo.Size() == 0 {
		return 1.0, false
	}

	if compInfo.Size() >= origInfo.Size() {
		os.Remove(compressedPath)
		return 1.0, false
	}

	return float64(compInfo.Size()) / float64(origInfo.Size()), true
}

func (e *Engine) compressImage(src, dest string, resizePercent, quality int) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %w", media.ErrIO, src, err)
	}
	defer in.Close()

	img, _, err := image.Decode(in)
	if err != nil {
		return fmt.Errorf("%w: decoding %s: %w", media.ErrIO, src, err)
	}

	if resizePercent > 0 && resizePercent < 100 {
		bounds := img.Bounds()
		newWidth := uint(bounds.Dx() * resizePercent / 100)
		img = resize.Resize(newWidth, 0, img, resize.Lanczos3)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %w", media.ErrIO, dest, err)
	}
	defer out.Close()

	if quality <= 0 {
		quality = 85
	}

	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("%w: encoding %s: %w", media.ErrIO, dest, err)
	}

	return nil
}

// compressVideo shells out to ffmpeg (spec §9 expansion: no pack dependency
// wraps ffmpeg invocation, so this is a documented os/exec leaf), bounding
// the subprocess to ctx's lifetime.
func (e *Engine) compressVideo(ctx context.Context, src, dest string, resolution int) error {
	args := []string{"-y", "-i", src}

	if resolution > 0 {
		args = append(args, "-vf", "scale=-2:"+strconv.Itoa(resolution))
	}

	if e.policy.VideoCRF > 0 {
		args = append(args, "-crf", strconv.Itoa(e.policy.VideoCRF))
	}

	if e.policy.VideoPreset != "" {
		args = append(args, "-preset", e.policy.VideoPreset)
	}

	args = append(args, dest)

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: ffmpeg %s: %w: %s", media.ErrIO, src, err, string(output))
	}

	return nil
}

func (e *Engine) markDone(ctx context.Context, f *media.File, path string, ratio float64) {
	if err := e.store.UpdateFileStatus(ctx, f.ID, media.FileCompressed, store.FileStatusUpdate{
		Path:             &path,
		CompressionRatio: &ratio,
	}); err != nil {
		e.logger.Error("compress: marking file compressed failed", slog.String("file_id", f.ID.String()), slog.String("error", err.Error()))
	}
}

func (e *Engine) fail(ctx context.Context, f *media.File, cause error) {
	e.logger.Error("compress: compression failed", slog.String("file_id", f.ID.String()), slog.String("path", f.Path), slog.String("error", cause.Error()))

	if err := e.store.UpdateFileStatus(ctx, f.ID, media.FileError, store.FileStatusUpdate{}); err != nil {
		e.logger.Error("compress: marking file errored failed", slog.String("file_id", f.ID.String()), slog.String("error", err.Error()))
	}
}
