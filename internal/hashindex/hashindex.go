// Package hashindex implements HashIndex (spec §4.4): an in-process map of
// content hash to the file ids sharing it, warmed from the MetaStore on
// start and kept current by the single Dedupe worker pool as it runs.
package hashindex

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/google/uuid"

	"github.com/sfdcai/media-pipeline/internal/media"
)

// fileLister is the subset of *store.Store that HashIndex needs to warm
// itself, kept narrow so this package never imports internal/store
// directly (avoiding an import cycle and keeping HashIndex testable with a
// fake).
type fileLister interface {
	IterFiles(ctx context.Context, status media.FileStatus) iter.Seq2[*media.File, error]
}

// Index is an in-memory, concurrency-safe hash -> file-id-list lookup. The
// only mutators are Warm (on start) and Record, the latter invoked from the single
// Dedupe worker pool's result path rather than from arbitrary goroutines
// (spec §9's "no cross-thread mutable map" guidance).
type Index struct {
	mu      sync.RWMutex
	entries map[string][]uuid.UUID
}

// New builds an empty Index. Call Warm before using it against a live
// pipeline so lookups see files hashed in prior runs.
func New() *Index {
	return &Index{entries: make(map[string][]uuid.UUID)}
}

// Warm populates the index from every file already at or past status
// deduplicated (i.e. hash is set), so restarts don't treat already-seen
// files as new.
func (idx *Index) Warm(ctx context.Context, store fileLister) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, status := range []media.FileStatus{
		media.FileDeduplicated, media.FileCompressed, media.FileBatched,
		media.FileUploaded, media.FileVerified,
	} {
		seq := store.IterFiles(ctx, status)

		var iterErr error

		seq(func(f *media.File, err error) bool {
			if err != nil {
				iterErr = err
				return false
			}

			if f.Hash != "" {
				idx.entries[f.Hash] = append(idx.entries[f.Hash], f.ID)
			}

			return true
		})

		if iterErr != nil {
			return fmt.Errorf("hashindex: warming from status %s: %w", status, iterErr)
		}
	}

	return nil
}

// Lookup returns every known file id sharing hash, and whether hash was
// known at all.
func (idx *Index) Lookup(hash string) ([]uuid.UUID, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	ids, ok := idx.entries[hash]
	if !ok {
		return nil, false
	}

	out := make([]uuid.UUID, len(ids))
	copy(out, ids)

	return out, true
}

// Record adds id under hash, returning the ids that were already present
// under that hash before this call (i.e. the file's potential duplicate
// set, evaluated by the caller).
func (idx *Index) Record(hash string, id uuid.UUID) []uuid.UUID {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	existing := append([]uuid.UUID(nil), idx.entries[hash]...)
	idx.entries[hash] = append(idx.entries[hash], id)

	return existing
}

// Len reports the number of distinct hashes tracked, mainly for tests and
// status reporting.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return len(idx.entries)
}
