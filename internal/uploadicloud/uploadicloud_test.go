package uploadicloud

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
	mu            sync.Mutex
	files         []*media.File
	batches       map[uuid.UUID]*media.Batch
	batchStatuses []media.BatchStatus
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

func (s *fakeStore) GetBatch(_ context.Context, id uuid.UUID) (*media.Batch, error) {
	b, ok := s.batches[id]
	if !ok {
		return nil, media.ErrNotFound
	}

	return b, nil
}

func (s *fakeStore) SetBatchStatus(_ context.Context, id uuid.UUID, newStatus media.BatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batchStatuses = append(s.batchStatuses, newStatus)
	s.batches[id].Status = newStatus

	return nil
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

type fakeAutomator struct {
	mu               sync.Mutex
	photosReady      bool
	resolvableSel    string
	frameWalkFound   bool
	uploadFails      map[string]int // selector -> remaining failures
	waitFails        int
	closed           bool
	uploadedPaths    []string
	cookiesToReturn  []Cookie
	injectedCookies  []Cookie
}

func (a *fakeAutomator) LoadCookies(_ context.Context, cookies []Cookie) error {
	a.injectedCookies = cookies
	return nil
}

func (a *fakeAutomator) Cookies(_ context.Context) ([]Cookie, error) {
	return a.cookiesToReturn, nil
}

func (a *fakeAutomator) ReachedPhotosReady(_ context.Context, _ time.Duration) bool {
	return a.photosReady
}

func (a *fakeAutomator) ResolveFileInput(_ context.Context, selector string, _ time.Duration) bool {
	return selector == a.resolvableSel
}

func (a *fakeAutomator) FrameWalkFileInput(_ context.Context, _ time.Duration) (string, bool) {
	if a.frameWalkFound {
		return "frame-walk-input", true
	}

	return "", false
}

func (a *fakeAutomator) ListCandidateSelectors(_ context.Context) []string {
	return []string{"sel-a", "sel-b"}
}

func (a *fakeAutomator) UploadFile(_ context.Context, selector, path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := a.uploadFails[selector]; n > 0 {
		a.uploadFails[selector] = n - 1
		return assertErr
	}

	a.uploadedPaths = append(a.uploadedPaths, path)

	return nil
}

func (a *fakeAutomator) WaitUploadComplete(_ context.Context, _ time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.waitFails > 0 {
		a.waitFails--
		return assertErr
	}

	return nil
}

func (a *fakeAutomator) Close() error {
	a.closed = true
	return nil
}

var assertErr = os.ErrInvalid

func newTestEngine(t *testing.T, st *fakeStore, auto *fakeAutomator, cfg Config) *Engine {
	t.Helper()

	return New(st, cfg, nil,
		withAutomatorFactory(func(context.Context) (automator, error) { return auto, nil }),
		WithSleepFunc(func(time.Duration) {}),
	)
}

func writeBatchedFile(t *testing.T, dir, name string, batchID uuid.UUID) *media.File {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	return &media.File{
		ID:       uuid.New(),
		Filename: name,
		Path:     path,
		Status:   media.FileBatched,
		BatchID:  &batchID,
	}
}

func TestRun_UploadsBatchedFileAndTransitionsToUploaded(t *testing.T) {
	dir := t.TempDir()
	uploadedDir := t.TempDir()

	batchID := uuid.New()
	f := writeBatchedFile(t, dir, "a.jpg", batchID)

	st := &fakeStore{
		files:   []*media.File{f},
		batches: map[uuid.UUID]*media.Batch{batchID: {ID: batchID, Destination: media.UploadICloud, Status: media.BatchCreated}},
	}

	auto := &fakeAutomator{photosReady: true, resolvableSel: "sel-a", uploadFails: map[string]int{}}

	cfg := Config{
		UploadTimeout: time.Second,
		RetryAttempts: 2,
		RetryDelay:    0,
		UploadedDir:   uploadedDir,
		SelectorsFile: "",
	}

	e := newTestEngine(t, st, auto, cfg)
	e.cfg.SelectorOverride = "sel-a"

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Uploaded)
	assert.Equal(t, 0, report.Errors)
	assert.Equal(t, media.FileUploaded, f.Status)
	assert.True(t, filepath.Dir(f.Path) == uploadedDir)
	assert.Contains(t, st.batchStatuses, media.BatchUploaded)
}

func TestRun_SkipsBatchesForOtherDestinations(t *testing.T) {
	dir := t.TempDir()

	batchID := uuid.New()
	f := writeBatchedFile(t, dir, "a.jpg", batchID)

	st := &fakeStore{
		files:   []*media.File{f},
		batches: map[uuid.UUID]*media.Batch{batchID: {ID: batchID, Destination: media.UploadPixel, Status: media.BatchCreated}},
	}

	auto := &fakeAutomator{photosReady: true, resolvableSel: "sel-a"}
	e := newTestEngine(t, st, auto, Config{UploadTimeout: time.Second})

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Uploaded)
	assert.Equal(t, media.FileBatched, f.Status)
}

func TestRun_RetriesThenMarksErrorAfterExhaustingAttempts(t *testing.T) {
	dir := t.TempDir()

	batchID := uuid.New()
	f := writeBatchedFile(t, dir, "a.jpg", batchID)

	st := &fakeStore{
		files:   []*media.File{f},
		batches: map[uuid.UUID]*media.Batch{batchID: {ID: batchID, Destination: media.UploadICloud, Status: media.BatchCreated}},
	}

	auto := &fakeAutomator{
		photosReady:   true,
		resolvableSel: "sel-a",
		uploadFails:   map[string]int{"sel-a": 99},
	}

	cfg := Config{UploadTimeout: time.Second, RetryAttempts: 2, RetryDelay: 0}
	e := newTestEngine(t, st, auto, cfg)
	e.cfg.SelectorOverride = "sel-a"

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Uploaded)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, media.FileError, f.Status)
	assert.Contains(t, st.batchStatuses, media.BatchError)
}

func TestRun_SelectorOverrideFailsFallsBackToFrameWalk(t *testing.T) {
	dir := t.TempDir()

	batchID := uuid.New()
	f := writeBatchedFile(t, dir, "a.jpg", batchID)

	st := &fakeStore{
		files:   []*media.File{f},
		batches: map[uuid.UUID]*media.Batch{batchID: {ID: batchID, Destination: media.UploadICloud, Status: media.BatchCreated}},
	}

	auto := &fakeAutomator{
		photosReady:    true,
		resolvableSel:  "", // override and bundled list both fail to resolve
		frameWalkFound: true,
		uploadFails:    map[string]int{},
	}

	cfg := Config{UploadTimeout: time.Second, RetryAttempts: 1, RetryDelay: 0}
	e := newTestEngine(t, st, auto, cfg)
	e.cfg.SelectorOverride = "button[data-test=upload]"

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Uploaded)
	assert.Equal(t, media.FileUploaded, f.Status)
}

func TestRun_InspectModeListsSelectorsWithoutUploading(t *testing.T) {
	dir := t.TempDir()

	batchID := uuid.New()
	f := writeBatchedFile(t, dir, "a.jpg", batchID)

	st := &fakeStore{
		files:   []*media.File{f},
		batches: map[uuid.UUID]*media.Batch{batchID: {ID: batchID, Destination: media.UploadICloud, Status: media.BatchCreated}},
	}

	auto := &fakeAutomator{photosReady: true}
	cfg := Config{UploadTimeout: time.Second, Inspect: true}
	e := newTestEngine(t, st, auto, cfg)

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"sel-a", "sel-b"}, report.Inspected)
	assert.Equal(t, media.FileBatched, f.Status)
	assert.True(t, auto.closed)
}
