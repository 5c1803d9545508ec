package archive

import (
	"context"
	"iter"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sfdcai/media-pipeline/internal/media"
	"github.com/sfdcai/media-pipeline/internal/store"
)

type fakeStore struct {
	files []*media.File
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

func fixedDate(yyyy, mm, dd string) dateFunc {
	return func(string) (string, string, string, bool) { return yyyy, mm, dd, true }
}

func writeVerifiedFile(t *testing.T, dir, name, content string) *media.File {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return &media.File{ID: uuid.New(), Filename: name, Path: path, Status: media.FileVerified}
}

func TestRun_MovesFileIntoDateBucket(t *testing.T) {
	srcDir := t.TempDir()
	sortedDir := t.TempDir()

	f := writeVerifiedFile(t, srcDir, "a.jpg", "hello")
	st := &fakeStore{files: []*media.File{f}}

	e := New(st, sortedDir, fixedDate("2026", "03", "14"), nil)

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Moved)
	assert.Equal(t, filepath.Join(sortedDir, "2026", "03", "14", "a.jpg"), f.Path)
	assert.FileExists(t, f.Path)
	assert.NoFileExists(t, filepath.Join(srcDir, "a.jpg"))
}

func TestRun_UnknownDateBucketsToUnknownDir(t *testing.T) {
	srcDir := t.TempDir()
	sortedDir := t.TempDir()

	f := writeVerifiedFile(t, srcDir, "a.jpg", "hello")
	st := &fakeStore{files: []*media.File{f}}

	noDate := func(string) (string, string, string, bool) { return "", "", "", false }
	e := New(st, sortedDir, noDate, nil)

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Unknown)
	assert.Equal(t, filepath.Join(sortedDir, "unknown", "a.jpg"), f.Path)
}

func TestRun_SameHashCollisionDeletesSourceAndDedupes(t *testing.T) {
	srcDir := t.TempDir()
	sortedDir := t.TempDir()

	destDir := filepath.Join(sortedDir, "2026", "03", "14")
	require.NoError(t, os.MkdirAll(destDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(destDir, "a.jpg"), []byte("same"), 0o644))

	f := writeVerifiedFile(t, srcDir, "a.jpg", "same")
	st := &fakeStore{files: []*media.File{f}}

	e := New(st, sortedDir, fixedDate("2026", "03", "14"), nil)

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Deduplicated)
	assert.Equal(t, 0, report.Moved)
	assert.NoFileExists(t, filepath.Join(srcDir, "a.jpg"))
	assert.Equal(t, filepath.Join(destDir, "a.jpg"), f.Path)
}

func TestRun_DifferentHashCollisionRenamesWithNumericSuffix(t *testing.T) {
	srcDir := t.TempDir()
	sortedDir := t.TempDir()

	destDir := filepath.Join(sortedDir, "2026", "03", "14")
	require.NoError(t, os.MkdirAll(destDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(destDir, "a.jpg"), []byte("different"), 0o644))

	f := writeVerifiedFile(t, srcDir, "a.jpg", "same")
	st := &fakeStore{files: []*media.File{f}}

	e := New(st, sortedDir, fixedDate("2026", "03", "14"), nil)

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Moved)
	assert.Equal(t, filepath.Join(destDir, "a_1.jpg"), f.Path)
	assert.FileExists(t, f.Path)
}

func TestRun_AlreadySortedFileIsNoop(t *testing.T) {
	sortedDir := t.TempDir()
	destDir := filepath.Join(sortedDir, "2026", "03", "14")
	require.NoError(t, os.MkdirAll(destDir, 0o755))

	path := filepath.Join(destDir, "a.jpg")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	f := &media.File{ID: uuid.New(), Filename: "a.jpg", Path: path, Status: media.FileVerified}
	st := &fakeStore{files: []*media.File{f}}

	e := New(st, sortedDir, fixedDate("2026", "03", "14"), nil)

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Moved)
	assert.Equal(t, 0, report.Deduplicated)
	assert.Equal(t, path, f.Path)
}
