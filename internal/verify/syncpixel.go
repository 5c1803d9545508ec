package verify

import (
	"context"

	"github.com/sfdcai/media-pipeline/internal/media"
	"github.com/sfdcai/media-pipeline/internal/syncpixel"
)

// statusClient is the narrow slice of *syncpixel.Client this capability
// needs.
type statusClient interface {
	FolderStatus(ctx context.Context, folderID string) (syncpixel.FolderStatus, error)
}

// SyncPixelProbe is the Capability backed by the paired device's
// file-sync daemon: a file counts as verified once its containing folder
// is, at the moment of the check, free of anything pending (spec §4.11's
// "out-of-band is this file really there? check", the SyncPixel variant).
type SyncPixelProbe struct {
	client   statusClient
	folderID string
}

// NewSyncPixelProbe builds a Capability that queries folderID's status
// via client.
func NewSyncPixelProbe(client statusClient, folderID string) *SyncPixelProbe {
	return &SyncPixelProbe{client: client, folderID: folderID}
}

// Verify queries the daemon's folder status. The file itself isn't
// addressed individually — Syncthing's REST API exposes folder-level
// state, not per-file confirmation — so presence is inferred from the
// folder having nothing left to sync, consistent with SyncPixel's own
// completion criterion.
func (p *SyncPixelProbe) Verify(ctx context.Context, _ *media.File) (bool, error) {
	status, err := p.client.FolderStatus(ctx, p.folderID)
	if err != nil {
		return false, err
	}

	return status.State == "idle" && status.NeedFiles == 0 && status.NeedBytes == 0, nil
}
