package ingest

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/sfdcai/media-pipeline/internal/media"
)

// LocalFolderAdapter walks one or more filesystem roots for media files,
// grounded on the teacher's internal/sync/scanner.go directory walk
// (dotfile/symlink skip rules, depth-first traversal) generalized from
// change-detection-against-a-store to plain discovery. Every root is
// walked and its files are ingested alike; the CLI passes
// DEDUPLICATION_DIRECTORIES as the roots.
type LocalFolderAdapter struct {
	Roots        []string
	SkipSymlinks bool
	Extensions   map[string]bool // lower-cased, dot-prefixed; nil means "accept all"
	logger       *slog.Logger
}

// NewLocalFolderAdapter builds an adapter over roots. extensions, if
// non-empty, restricts discovery to those file extensions (case-insensitive,
// dot-prefixed, e.g. ".jpg").
func NewLocalFolderAdapter(roots []string, skipSymlinks bool, extensions []string, logger *slog.Logger) *LocalFolderAdapter {
	if logger == nil {
		logger = slog.Default()
	}

	var extSet map[string]bool
	if len(extensions) > 0 {
		extSet = make(map[string]bool, len(extensions))
		for _, e := range extensions {
			extSet[strings.ToLower(e)] = true
		}
	}

	return &LocalFolderAdapter{
		Roots:        roots,
		SkipSymlinks: skipSymlinks,
		Extensions:   extSet,
		logger:       logger,
	}
}

func (a *LocalFolderAdapter) Kind() media.IngestKind { return media.IngestLocalFolder }

// Discover walks every root depth-first, skipping dotfiles and (optionally)
// symlinks, yielding one Candidate per regular file whose extension matches
// (when Extensions is set).
func (a *LocalFolderAdapter) Discover(ctx context.Context) iter.Seq2[Candidate, error] {
	return func(yield func(Candidate, error) bool) {
		for _, root := range a.Roots {
			if !a.walkRoot(ctx, root, yield) {
				return
			}
		}
	}
}

func (a *LocalFolderAdapter) walkRoot(ctx context.Context, root string, yield func(Candidate, error) bool) bool {
	cont := true

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			a.logger.Warn("ingest: cannot stat entry, skipping", slog.String("path", path), slog.String("error", walkErr.Error()))
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		name := d.Name()

		if strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			return nil
		}

		if d.Type()&os.ModeSymlink != 0 {
			if a.SkipSymlinks {
				a.logger.Debug("ingest: skipping symlink", slog.String("path", path))
				return nil
			}

			resolved, statErr := os.Stat(path)
			if statErr != nil {
				a.logger.Warn("ingest: broken symlink, skipping", slog.String("path", path))
				return nil
			}

			if resolved.IsDir() {
				return nil
			}
		}

		if a.Extensions != nil && !a.Extensions[strings.ToLower(filepath.Ext(name))] {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			a.logger.Warn("ingest: cannot stat file, skipping", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}

		candidate := Candidate{
			LocalPath: path,
			Filename:  name,
			Size:      info.Size(),
			SourceDir: root,
		}

		if !yield(candidate, nil) {
			cont = false
			return filepath.SkipAll
		}

		return nil
	})
	if err != nil {
		yield(Candidate{}, fmt.Errorf("ingest: walking %s: %w", root, err))
		return false
	}

	return cont
}

// Fetch copies item's file into destDir, returning the new path. For
// local-folder-scan, "fetch" is a copy rather than a download, since the
// source file already lives on a mounted filesystem.
func (a *LocalFolderAdapter) Fetch(_ context.Context, item Candidate, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating destination dir: %w", media.ErrIO, err)
	}

	dest := filepath.Join(destDir, item.Filename)

	src, err := os.Open(item.LocalPath)
	if err != nil {
		return "", fmt.Errorf("%w: opening source: %w", media.ErrIO, err)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("%w: creating destination: %w", media.ErrIO, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return "", fmt.Errorf("%w: copying file: %w", media.ErrIO, err)
	}

	return dest, nil
}

// Watch starts an fsnotify watch on every root (non-recursive — each
// subdirectory must be added separately, matching fsnotify's own model),
// emitting a Candidate on every Create event. Grounded on spec §4.5's
// "pick up newly dropped files between scheduled scans" expansion; the
// teacher already depends on fsnotify, reused here unchanged.
func (a *LocalFolderAdapter) Watch(ctx context.Context) (<-chan Candidate, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("ingest: starting watcher: %w", err)
	}

	for _, root := range a.Roots {
		if err := addRecursive(watcher, root); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("ingest: watching %s: %w", root, err)
		}
	}

	out := make(chan Candidate)

	go func() {
		defer watcher.Close()
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				if event.Op&fsnotify.Create == 0 {
					continue
				}

				a.handleWatchEvent(ctx, event.Name, out)
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}

				a.logger.Warn("ingest: watch error", slog.String("error", watchErr.Error()))
			}
		}
	}()

	return out, nil
}

func (a *LocalFolderAdapter) handleWatchEvent(ctx context.Context, path string, out chan<- Candidate) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return
	}

	if a.Extensions != nil && !a.Extensions[strings.ToLower(filepath.Ext(name))] {
		return
	}

	select {
	case out <- Candidate{LocalPath: path, Filename: name, Size: info.Size(), SourceDir: filepath.Dir(path)}:
	case <-ctx.Done():
	}
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}

			return watcher.Add(path)
		}

		return nil
	})
}
