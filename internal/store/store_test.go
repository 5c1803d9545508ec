package store

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sfdcai/media-pipeline/internal/media"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pipeline.db")

	s, err := Open(ctx, path, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

func TestUpsertFile_IdempotentOnSourcePathAndFilename(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	f, err := media.NewFile("a.jpg", "/src/a.jpg", "/src", 100, media.IngestLocalFolder, now)
	require.NoError(t, err)

	id1, err := s.UpsertFile(ctx, f)
	require.NoError(t, err)

	f.Size = 200

	id2, err := s.UpsertFile(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	got, err := s.GetFile(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, int64(200), got.Size)
	assert.Equal(t, media.FileDownloaded, got.Status)
}

func TestUpdateFileStatus_EnforcesTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	f, err := media.NewFile("a.jpg", "/src/a.jpg", "/src", 100, media.IngestLocalFolder, now)
	require.NoError(t, err)

	id, err := s.UpsertFile(ctx, f)
	require.NoError(t, err)

	hash := "deadbeef"
	err = s.UpdateFileStatus(ctx, id, media.FileDeduplicated, FileStatusUpdate{Hash: &hash})
	require.NoError(t, err)

	got, err := s.GetFile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, media.FileDeduplicated, got.Status)
	assert.Equal(t, hash, got.Hash)

	// Skipping straight to uploaded from deduplicated is not a legal move.
	err = s.UpdateFileStatus(ctx, id, media.FileUploaded, FileStatusUpdate{})
	require.ErrorIs(t, err, media.ErrInvalidTransition)
}

func TestFindByHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	f1, err := media.NewFile("a.jpg", "/src/a.jpg", "/src", 100, media.IngestLocalFolder, now)
	require.NoError(t, err)
	f2, err := media.NewFile("b.jpg", "/src/b.jpg", "/src", 100, media.IngestLocalFolder, now)
	require.NoError(t, err)

	id1, err := s.UpsertFile(ctx, f1)
	require.NoError(t, err)
	id2, err := s.UpsertFile(ctx, f2)
	require.NoError(t, err)

	hash := "sharedhash"
	require.NoError(t, s.UpdateFileStatus(ctx, id1, media.FileDeduplicated, FileStatusUpdate{Hash: &hash}))
	require.NoError(t, s.UpdateFileStatus(ctx, id2, media.FileDeduplicated, FileStatusUpdate{Hash: &hash}))

	ids, err := s.FindByHash(ctx, hash)
	require.NoError(t, err)
	assert.ElementsMatch(t, []interface{}{id1.String(), id2.String()}, []interface{}{ids[0].String(), ids[1].String()})
}

func TestIterFiles_FiltersByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	f1, err := media.NewFile("a.jpg", "/src/a.jpg", "/src", 100, media.IngestLocalFolder, now)
	require.NoError(t, err)
	f2, err := media.NewFile("b.jpg", "/src/b.jpg", "/src", 100, media.IngestLocalFolder, now)
	require.NoError(t, err)

	_, err = s.UpsertFile(ctx, f1)
	require.NoError(t, err)
	id2, err := s.UpsertFile(ctx, f2)
	require.NoError(t, err)

	hash := "x"
	require.NoError(t, s.UpdateFileStatus(ctx, id2, media.FileDeduplicated, FileStatusUpdate{Hash: &hash}))

	var seen []string
	for f, err := range s.IterFiles(ctx, media.FileDeduplicated) {
		require.NoError(t, err)
		seen = append(seen, f.Filename)
	}

	assert.Equal(t, []string{"b.jpg"}, seen)
}

func TestCreateBatch_LinksMembersAtomically(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	f, err := media.NewFile("a.jpg", "/src/a.jpg", "/src", 100, media.IngestLocalFolder, now)
	require.NoError(t, err)

	id, err := s.UpsertFile(ctx, f)
	require.NoError(t, err)

	hash := "x"
	require.NoError(t, s.UpdateFileStatus(ctx, id, media.FileDeduplicated, FileStatusUpdate{Hash: &hash}))
	require.NoError(t, s.UpdateFileStatus(ctx, id, media.FileCompressed, FileStatusUpdate{}))

	f.Status = media.FileCompressed
	f.ID = id

	b, err := media.NewBatch(media.UploadICloud, []*media.File{f}, now)
	require.NoError(t, err)

	require.NoError(t, s.CreateBatch(ctx, b, []*media.File{f}))

	got, err := s.GetFile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, media.FileBatched, got.Status)
	require.NotNil(t, got.BatchID)
	assert.Equal(t, b.ID, *got.BatchID)
}

func TestSetBatchStatus_StampsCompletedAtOnVerified(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	f, err := media.NewFile("a.jpg", "/src/a.jpg", "/src", 100, media.IngestLocalFolder, now)
	require.NoError(t, err)

	id, err := s.UpsertFile(ctx, f)
	require.NoError(t, err)

	hash := "x"
	require.NoError(t, s.UpdateFileStatus(ctx, id, media.FileDeduplicated, FileStatusUpdate{Hash: &hash}))
	require.NoError(t, s.UpdateFileStatus(ctx, id, media.FileCompressed, FileStatusUpdate{}))

	f.Status = media.FileCompressed
	f.ID = id

	b, err := media.NewBatch(media.UploadICloud, []*media.File{f}, now)
	require.NoError(t, err)
	require.NoError(t, s.CreateBatch(ctx, b, []*media.File{f}))

	require.NoError(t, s.SetBatchStatus(ctx, b.ID, media.BatchUploading))
	require.NoError(t, s.SetBatchStatus(ctx, b.ID, media.BatchUploaded))
	require.NoError(t, s.SetBatchStatus(ctx, b.ID, media.BatchVerified))

	got, err := s.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, media.BatchVerified, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestRecordDuplicate_FlagsDuplicateFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	original, err := media.NewFile("a.jpg", "/src/a.jpg", "/src", 100, media.IngestLocalFolder, now)
	require.NoError(t, err)
	dup, err := media.NewFile("a-copy.jpg", "/src/a-copy.jpg", "/src", 100, media.IngestLocalFolder, now)
	require.NoError(t, err)

	originalID, err := s.UpsertFile(ctx, original)
	require.NoError(t, err)
	dupID, err := s.UpsertFile(ctx, dup)
	require.NoError(t, err)

	d, err := media.NewDuplicate(originalID, dupID, "samehash", now)
	require.NoError(t, err)

	require.NoError(t, s.RecordDuplicate(ctx, d))

	got, err := s.GetFile(ctx, dupID)
	require.NoError(t, err)
	assert.True(t, got.IsDuplicate)
}

func TestAppendLog_AndRecentLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendLog(ctx, media.StepIngest, "discovered 3 files", media.SeverityInfo))
	require.NoError(t, s.AppendLog(ctx, media.StepDedupe, "found 1 duplicate", media.SeverityWarning))

	entries, err := s.RecentLogs(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, media.StepDedupe, entries[0].Step)
}

func TestWithWriteTx_ReentrantWriteReturnsErrReentrant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var inner error

	outer := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		inner = s.withWriteTx(ctx, func(tx *sql.Tx) error { return nil })
		return nil
	})

	require.NoError(t, outer)
	require.ErrorIs(t, inner, media.ErrReentrant)
}

func TestResetFile_OnlyFromError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	f, err := media.NewFile("a.jpg", "/src/a.jpg", "/src", 100, media.IngestLocalFolder, now)
	require.NoError(t, err)

	id, err := s.UpsertFile(ctx, f)
	require.NoError(t, err)

	err = s.ResetFile(ctx, id)
	require.ErrorIs(t, err, media.ErrNotFound)

	require.NoError(t, s.UpdateFileStatus(ctx, id, media.FileError, FileStatusUpdate{}))
	require.NoError(t, s.ResetFile(ctx, id))

	got, err := s.GetFile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, media.FileDownloaded, got.Status)
}

func TestCountFilesByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	f1, err := media.NewFile("a.jpg", "/src/a.jpg", "/src", 100, media.IngestLocalFolder, now)
	require.NoError(t, err)
	f2, err := media.NewFile("b.jpg", "/src/b.jpg", "/src", 100, media.IngestLocalFolder, now)
	require.NoError(t, err)

	_, err = s.UpsertFile(ctx, f1)
	require.NoError(t, err)
	id2, err := s.UpsertFile(ctx, f2)
	require.NoError(t, err)

	hash := "x"
	require.NoError(t, s.UpdateFileStatus(ctx, id2, media.FileDeduplicated, FileStatusUpdate{Hash: &hash}))

	counts, err := s.CountFilesByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[media.FileDownloaded])
	assert.Equal(t, 1, counts[media.FileDeduplicated])
	assert.Equal(t, 0, counts[media.FileUploaded])
}
