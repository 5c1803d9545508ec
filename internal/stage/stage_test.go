package stage

import (
	"context"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sfdcai/media-pipeline/internal/media"
	"github.com/sfdcai/media-pipeline/internal/store"
)

type fakeStore struct {
	mu      sync.Mutex
	files   []*media.File
	batches []*media.Batch
}

func (s *fakeStore) IterFiles(_ context.Context, status media.FileStatus) iter.Seq2[*media.File, error] {
	return func(yield func(*media.File, error) bool) {
		for _, f := range s.files {
			if status != "" && f.Status != status {
				continue
			}

			if !yield(f, nil) {
				return
			}
		}
	}
}

func (s *fakeStore) UpdateFileStatus(_ context.Context, id uuid.UUID, newStatus media.FileStatus, fields store.FileStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.files {
		if f.ID == id {
			f.Status = newStatus

			if fields.Path != nil {
				f.Path = *fields.Path
			}
		}
	}

	return nil
}

func (s *fakeStore) CreateBatch(_ context.Context, b *media.Batch, members []*media.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range members {
		if f.Status != media.FileCompressed {
			return media.ErrInvalidTransition
		}
	}

	for _, f := range members {
		f.Status = media.FileBatched
		f.BatchID = &b.ID
	}

	s.batches = append(s.batches, b)

	return nil
}

func writeCompressedFile(t *testing.T, dir, name, content string) *media.File {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return &media.File{
		ID:       uuid.New(),
		Filename: name,
		Path:     path,
		Size:     int64(len(content)),
		Hash:     "deadbeef",
		Status:   media.FileCompressed,
	}
}

func TestRun_StagesFilesAndCreatesOneBatchPerDestination(t *testing.T) {
	srcDir := t.TempDir()
	bridgeDir := t.TempDir()

	f1 := writeCompressedFile(t, srcDir, "a.jpg", "aaaa")
	f2 := writeCompressedFile(t, srcDir, "b.jpg", "bbbb")

	st := &fakeStore{files: []*media.File{f1, f2}}
	dest := Destination{Kind: media.UploadICloud, BridgeDir: bridgeDir}

	e := New(st, []Destination{dest}, Caps{}, SHA256, nil)

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Destinations, 1)

	d := report.Destinations[0]
	assert.Equal(t, 2, d.Staged)
	assert.Equal(t, media.FileBatched, f1.Status)
	assert.Equal(t, media.FileBatched, f2.Status)
	assert.True(t, filepath.Dir(f1.Path) == bridgeDir)
	assert.True(t, filepath.Dir(f2.Path) == bridgeDir)
	require.Len(t, st.batches, 1)
	assert.Equal(t, int64(8), st.batches[0].TotalSize)
}

func TestRun_MaxFilesCapLimitsBatchMembership(t *testing.T) {
	srcDir := t.TempDir()
	bridgeDir := t.TempDir()

	f1 := writeCompressedFile(t, srcDir, "a.jpg", "aaaa")
	f2 := writeCompressedFile(t, srcDir, "b.jpg", "bbbb")

	st := &fakeStore{files: []*media.File{f1, f2}}
	dest := Destination{Kind: media.UploadICloud, BridgeDir: bridgeDir}

	e := New(st, []Destination{dest}, Caps{MaxFiles: 1}, SHA256, nil)

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Destinations[0].Staged)
	assert.Equal(t, media.FileBatched, f1.Status)
	assert.Equal(t, media.FileCompressed, f2.Status)
}

func TestRun_SameHashConflictSkipsCopyButIncludesInBatch(t *testing.T) {
	srcDir := t.TempDir()
	bridgeDir := t.TempDir()

	existingPath := filepath.Join(bridgeDir, "a.jpg")
	require.NoError(t, os.WriteFile(existingPath, []byte("aaaa"), 0o644))

	f1 := writeCompressedFile(t, srcDir, "a.jpg", "aaaa")
	// f1's recorded hash must match the sha256 of "aaaa" for the conflict
	// resolution to recognize it as already-staged.
	f1.Hash = sha256Hex(t, "aaaa")

	st := &fakeStore{files: []*media.File{f1}}
	dest := Destination{Kind: media.UploadICloud, BridgeDir: bridgeDir}

	e := New(st, []Destination{dest}, Caps{}, SHA256, nil)

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Destinations[0].Staged)
	assert.Equal(t, existingPath, f1.Path)
	assert.Equal(t, media.FileBatched, f1.Status)
}

func TestRun_DifferentHashConflictRenamesWithHashSuffix(t *testing.T) {
	srcDir := t.TempDir()
	bridgeDir := t.TempDir()

	existingPath := filepath.Join(bridgeDir, "a.jpg")
	require.NoError(t, os.WriteFile(existingPath, []byte("original-bridge-content"), 0o644))

	f1 := writeCompressedFile(t, srcDir, "a.jpg", "different-content")

	st := &fakeStore{files: []*media.File{f1}}
	dest := Destination{Kind: media.UploadICloud, BridgeDir: bridgeDir}

	e := New(st, []Destination{dest}, Caps{}, SHA256, nil)

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Destinations[0].Staged)
	assert.NotEqual(t, existingPath, f1.Path)
	assert.True(t, filepath.Dir(f1.Path) == bridgeDir)

	content, err := os.ReadFile(f1.Path)
	require.NoError(t, err)
	assert.Equal(t, "different-content", string(content))
}

func TestRun_ClearBridgeBeforeProcessingRemovesOnlyUploadedOrLater(t *testing.T) {
	srcDir := t.TempDir()
	bridgeDir := t.TempDir()

	staleUploadedPath := filepath.Join(bridgeDir, "stale.jpg")
	require.NoError(t, os.WriteFile(staleUploadedPath, []byte("stale"), 0o644))

	stillBatchedPath := filepath.Join(bridgeDir, "still-batched.jpg")
	require.NoError(t, os.WriteFile(stillBatchedPath, []byte("batched"), 0o644))

	uploaded := &media.File{ID: uuid.New(), Filename: "stale.jpg", Path: staleUploadedPath, Status: media.FileUploaded}
	batched := &media.File{ID: uuid.New(), Filename: "still-batched.jpg", Path: stillBatchedPath, Status: media.FileBatched}

	st := &fakeStore{files: []*media.File{uploaded, batched}}
	dest := Destination{Kind: media.UploadICloud, BridgeDir: bridgeDir}

	e := New(st, []Destination{dest}, Caps{}, SHA256, nil, WithClearBridgeBeforeProcessing(true))

	_, err := e.Run(context.Background())
	require.NoError(t, err)

	_, err = os.Stat(staleUploadedPath)
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(stillBatchedPath)
	assert.NoError(t, err)
}

func TestRun_NowFuncStampsBatchCreatedAt(t *testing.T) {
	srcDir := t.TempDir()
	bridgeDir := t.TempDir()

	f1 := writeCompressedFile(t, srcDir, "a.jpg", "aaaa")

	st := &fakeStore{files: []*media.File{f1}}
	dest := Destination{Kind: media.UploadPixel, BridgeDir: bridgeDir}

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := New(st, []Destination{dest}, Caps{}, SHA256, nil, WithNowFunc(func() time.Time { return fixed }))

	_, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, st.batches, 1)
	assert.Equal(t, fixed, st.batches[0].CreatedAt)
}

func sha256Hex(t *testing.T, content string) string {
	t.Helper()

	h, err := hashFileFromBytes(content)
	require.NoError(t, err)

	return h
}

func hashFileFromBytes(content string) (string, error) {
	dir, err := os.MkdirTemp("", "stage-hash-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "tmp")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}

	return hashFile(SHA256, path)
}
