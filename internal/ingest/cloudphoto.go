package ingest

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sfdcai/media-pipeline/internal/media"
)

// Downloader is the vendor-specific collaborator CloudPhotoAdapter delegates
// to for the actual source-cloud calls. Concrete cloud vendor SDK calls for
// source download are explicitly out of scope (spec §1); this interface is
// the documented boundary, implemented in production by a vendor-specific
// package outside this module and, for tests, by fsDownloader below.
type Downloader interface {
	// List returns a lazy finite sequence of remote item references.
	List(ctx context.Context) iter.Seq2[Candidate, error]

	// Download writes item's bytes to w. If the cloud account requires an
	// interactive 2FA challenge before this call can proceed, Download
	// returns the *PendingChallenge so the caller can display its hint and
	// invoke ProvideCode out of band, then retry.
	Download(ctx context.Context, item Candidate, w io.Writer) (*PendingChallenge, error)
}

// CloudPhotoAdapter is the cloud-photo-source IngestAdapter variant (spec
// §4.5), grounded on the teacher's interactive-login shape
// (internal/graph/auth.go's DeviceAuth/doLogin: request, display a
// challenge to the operator, wait for an out-of-band response) generalized
// from OAuth2 device-code polling to an arbitrary 2FA code prompt.
type CloudPhotoAdapter struct {
	downloader  Downloader
	authTimeout time.Duration
	logger      *slog.Logger
}

// NewCloudPhotoAdapter builds an adapter around downloader. authTimeout
// bounds how long Fetch waits for ProvideCode after a PendingChallenge is
// raised before failing with media.ErrAuth.
func NewCloudPhotoAdapter(downloader Downloader, authTimeout time.Duration, logger *slog.Logger) *CloudPhotoAdapter {
	if logger == nil {
		logger = slog.Default()
	}

	return &CloudPhotoAdapter{downloader: downloader, authTimeout: authTimeout, logger: logger}
}

func (a *CloudPhotoAdapter) Kind() media.IngestKind { return media.IngestCloudPhoto }

func (a *CloudPhotoAdapter) Discover(ctx context.Context) iter.Seq2[Candidate, error] {
	return a.downloader.List(ctx)
}

// Fetch downloads item into destDir. If the downloader raises a 2FA
// challenge, Fetch surfaces it via the returned PendingChallenge through
// the logger and blocks on WaitForCode up to authTimeout, retrying the
// download exactly once after a code arrives.
func (a *CloudPhotoAdapter) Fetch(ctx context.Context, item Candidate, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating destination dir: %w", media.ErrIO, err)
	}

	dest := filepath.Join(destDir, item.Filename)

	path, challenge, err := a.attemptDownload(ctx, item, dest)
	if err != nil {
		return "", err
	}

	if challenge == nil {
		return path, nil
	}

	a.logger.Info("ingest: 2FA challenge pending", slog.String("hint", challenge.Hint))

	if _, err := challenge.WaitForCode(ctx, a.authTimeout); err != nil {
		return "", fmt.Errorf("ingest: waiting for 2FA code: %w", err)
	}

	path, challenge, err = a.attemptDownload(ctx, item, dest)
	if err != nil {
		return "", err
	}

	if challenge != nil {
		return "", fmt.Errorf("%w: 2FA challenge raised twice for the same item", media.ErrAuth)
	}

	return path, nil
}

func (a *CloudPhotoAdapter) attemptDownload(ctx context.Context, item Candidate, dest string) (string, *PendingChallenge, error) {
	out, err := os.Create(dest)
	if err != nil {
		return "", nil, fmt.Errorf("%w: creating destination: %w", media.ErrIO, err)
	}
	defer out.Close()

	challenge, err := a.downloader.Download(ctx, item, out)
	if err != nil {
		return "", nil, fmt.Errorf("ingest: downloading %s: %w", item.RemotePath, err)
	}

	if challenge != nil {
		return "", challenge, nil
	}

	return dest, nil, nil
}

// fsDownloader is a filesystem-backed Downloader used in tests: it treats a
// local directory as if it were the remote cloud source, never raising a
// 2FA challenge.
type fsDownloader struct {
	root string
}

// NewFilesystemDownloader returns a Downloader that lists and serves files
// from root as though they were a remote cloud source — the test double
// this package ships in place of a real vendor SDK client.
func NewFilesystemDownloader(root string) Downloader {
	return &fsDownloader{root: root}
}

func (d *fsDownloader) List(ctx context.Context) iter.Seq2[Candidate, error] {
	return func(yield func(Candidate, error) bool) {
		entries, err := os.ReadDir(d.root)
		if err != nil {
			yield(Candidate{}, fmt.Errorf("listing %s: %w", d.root, err))
			return
		}

		for _, e := range entries {
			if e.IsDir() {
				continue
			}

			info, err := e.Info()
			if err != nil {
				continue
			}

			c := Candidate{
				RemotePath: filepath.Join(d.root, e.Name()),
				Filename:   e.Name(),
				Size:       info.Size(),
				SourceDir:  d.root,
			}

			if !yield(c, nil) {
				return
			}
		}
	}
}

func (d *fsDownloader) Download(_ context.Context, item Candidate, w io.Writer) (*PendingChallenge, error) {
	f, err := os.Open(item.RemotePath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", item.RemotePath, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return nil, fmt.Errorf("copying %s: %w", item.RemotePath, err)
	}

	return nil, nil
}
