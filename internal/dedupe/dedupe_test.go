package dedupe

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

	"github.com/sfdcai/media-pipeline/internal/hashindex"
	"github.com/sfdcai/media-pipeline/internal/media"
	"github.com/sfdcai/media-pipeline/internal/store"
)

type statusUpdate struct {
	id     uuid.UUID
	status media.FileStatus
	fields store.FileStatusUpdate
}

type fakeStore struct {
	mu          sync.Mutex
	files       []*media.File
	updates     []statusUpdate
	duplicates  []*media.Duplicate
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

	s.updates = append(s.updates, statusUpdate{id: id, status: newStatus, fields: fields})

	for _, f := range s.files {
		if f.ID == id {
			f.Status = newStatus

			if fields.Hash != nil {
				f.Hash = *fields.Hash
			}

			if fields.IsDuplicate != nil {
				f.IsDuplicate = *fields.IsDuplicate
			}

			if fields.Path != nil {
				f.Path = *fields.Path
			}
		}
	}

	return nil
}

func (s *fakeStore) RecordDuplicate(_ context.Context, d *media.Duplicate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.duplicates = append(s.duplicates, d)

	return nil
}

func writeDownloadedFile(t *testing.T, dir, name, content string, createdAt time.Time) *media.File {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return &media.File{
		ID:         uuid.New(),
		Filename:   name,
		Path:       path,
		SourcePath: path,
		Size:       int64(len(content)),
		Status:     media.FileDownloaded,
		CreatedAt:  createdAt,
	}
}

func TestRun_NoCollisionMarksSurvivorDeduplicated(t *testing.T) {
	dir := t.TempDir()
	quarantine := t.TempDir()

	f := writeDownloadedFile(t, dir, "a.jpg", "unique-bytes", time.Now())

	st := &fakeStore{files: []*media.File{f}}
	idx := hashindex.New()

	e := New(st, idx, SHA256, quarantine, nil)

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Survivors)
	assert.Equal(t, 0, report.Duplicates)
	assert.Equal(t, media.FileDeduplicated, f.Status)
	assert.NotEmpty(t, f.Hash)
	assert.False(t, f.IsDuplicate)
}

func TestRun_DuplicateWithinRunQuarantinesLaterFile(t *testing.T) {
	dir := t.TempDir()
	quarantine := t.TempDir()

	earlier := writeDownloadedFile(t, dir, "x.jpg", "same-bytes", time.Now().Add(-time.Hour))
	later := writeDownloadedFile(t, dir, "x_copy.jpg", "same-bytes", time.Now())

	st := &fakeStore{files: []*media.File{earlier, later}}
	idx := hashindex.New()

	e := New(st, idx, SHA256, quarantine, nil)

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Survivors)
	assert.Equal(t, 1, report.Duplicates)

	assert.False(t, earlier.IsDuplicate)
	assert.Equal(t, media.FileDeduplicated, earlier.Status)

	assert.True(t, later.IsDuplicate)
	assert.Equal(t, media.FileDeduplicated, later.Status)
	assert.Equal(t, quarantine, filepath.Dir(later.Path))

	require.Len(t, st.duplicates, 1)
	assert.Equal(t, earlier.ID, st.duplicates[0].OriginalFileID)
	assert.Equal(t, later.ID, st.duplicates[0].DuplicateFileID)

	_, err = os.Stat(later.Path)
	assert.NoError(t, err)
}

func TestRun_PriorMatchFromWarmedIndexAlwaysWins(t *testing.T) {
	dir := t.TempDir()
	quarantine := t.TempDir()

	newFile := writeDownloadedFile(t, dir, "b.jpg", "already-known-bytes", time.Now())

	st := &fakeStore{files: []*media.File{newFile}}
	idx := hashindex.New()

	survivorID := uuid.New()
	hasher, err := newHasher(SHA256)
	require.NoError(t, err)
	_, err = hasher.Write([]byte("already-known-bytes"))
	require.NoError(t, err)
	knownHash := hashHex(hasher.Sum(nil))
	idx.Record(knownHash, survivorID)

	e := New(st, idx, SHA256, quarantine, nil)

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Survivors)
	assert.Equal(t, 1, report.Duplicates)
	assert.True(t, newFile.IsDuplicate)

	require.Len(t, st.duplicates, 1)
	assert.Equal(t, survivorID, st.duplicates[0].OriginalFileID)
}

func TestRun_UnreadableFileTransitionsToErrorWithoutAborting(t *testing.T) {
	dir := t.TempDir()
	quarantine := t.TempDir()

	missing := &media.File{
		ID:         uuid.New(),
		Filename:   "gone.jpg",
		Path:       filepath.Join(dir, "gone.jpg"),
		SourcePath: filepath.Join(dir, "gone.jpg"),
		Status:     media.FileDownloaded,
		CreatedAt:  time.Now(),
	}

	ok := writeDownloadedFile(t, dir, "ok.jpg", "fine-bytes", time.Now())

	st := &fakeStore{files: []*media.File{missing, ok}}
	idx := hashindex.New()

	e := New(st, idx, SHA256, quarantine, nil)

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, media.FileError, missing.Status)
	assert.Equal(t, media.FileDeduplicated, ok.Status)
}

func hashHex(sum []byte) string {
	const hextable = "0123456789abcdef"

	out := make([]byte, len(sum)*2)
	for i, b := range sum {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}

	return string(out)
}
