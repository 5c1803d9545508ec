// Package ingest implements IngestAdapter (C5): the capability set that
// discovers candidate media items and fetches them into ORIGINALS_DIR,
// tagging each with the variant that produced it. Two variants exist:
// cloud-photo-source and local-folder-scan (spec §4.5).
package ingest

import (
	"context"
	"iter"
	"time"

	"github.com/sfdcai/media-pipeline/internal/media"
)

// Candidate is one discoverable item: either a remote reference (cloud
// source) or a local filesystem path (local-folder-scan), never both.
type Candidate struct {
	// RemotePath identifies the item at the cloud source; empty for
	// local-folder-scan candidates.
	RemotePath string

	// LocalPath is the candidate's filesystem location (local-folder-scan);
	// empty for cloud-photo-source candidates, whose fetched path is only
	// Fetch's return value.
	LocalPath string

	Filename string
	Size     int64

	// SourceDir is the root this candidate was discovered under. It is
	// informational: no package outside ingest reads it.
	SourceDir string
}

// Adapter is the capability set a variant implements.
type Adapter interface {
	// Kind identifies the variant, recorded on every MediaFile it produces.
	Kind() media.IngestKind

	// Discover returns a lazy finite sequence of candidate items.
	Discover(ctx context.Context) iter.Seq2[Candidate, error]

	// Fetch materializes item at destDir, returning the final local path.
	Fetch(ctx context.Context, item Candidate, destDir string) (string, error)
}

// PendingChallenge is raised by a cloud-photo-source Fetch call that needs
// an interactive 2FA code before it can proceed (spec §4.5). Grounded on
// the teacher's device-code display/poll shape (internal/graph/auth.go's
// DeviceAuth + doLogin), generalized from OAuth2 device-code polling to an
// arbitrary out-of-band code channel.
type PendingChallenge struct {
	// Hint is shown to the operator (e.g. "enter the code sent to your
	// trusted device").
	Hint string

	// codeCh receives the operator-supplied code via ProvideCode.
	codeCh chan string
}

// NewPendingChallenge constructs a challenge with the given display hint.
func NewPendingChallenge(hint string) *PendingChallenge {
	return &PendingChallenge{Hint: hint, codeCh: make(chan string, 1)}
}

// ProvideCode supplies the out-of-band code, unblocking WaitForCode.
func (c *PendingChallenge) ProvideCode(code string) {
	select {
	case c.codeCh <- code:
	default:
	}
}

// WaitForCode blocks until a code arrives, ctx is canceled, or timeout
// elapses, whichever comes first. Returns media.ErrAuth on timeout or
// cancellation (spec §4.5: "If no code arrives within a configured window,
// fetch fails with ErrAuth").
func (c *PendingChallenge) WaitForCode(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case code := <-c.codeCh:
		return code, nil
	case <-timer.C:
		return "", media.ErrAuth
	case <-ctx.Done():
		return "", media.ErrAuth
	}
}
