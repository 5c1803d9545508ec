package ingest

import (
	"context"
	"io"
	"iter"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sfdcai/media-pipeline/internal/media"
)

func collect(t *testing.T, seq func(yield func(Candidate, error) bool)) []Candidate {
	t.Helper()

	var out []Candidate

	seq(func(c Candidate, err error) bool {
		require.NoError(t, err)
		out = append(out, c)

		return true
	})

	return out
}

func TestLocalFolderAdapter_DiscoverSkipsDotfilesAndFiltersExtensions(t *testing.T) {
	root := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.jpg"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden.jpg"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "c.jpg"), []byte("x"), 0o644))

	a := NewLocalFolderAdapter([]string{root}, true, []string{".jpg"}, nil)

	candidates := collect(t, a.Discover(context.Background()))

	require.Len(t, candidates, 1)
	assert.Equal(t, "a.jpg", candidates[0].Filename)
	assert.Equal(t, media.IngestLocalFolder, a.Kind())
}

func TestLocalFolderAdapter_Fetch_CopiesFile(t *testing.T) {
	root := t.TempDir()
	dest := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.jpg"), []byte("hello"), 0o644))

	a := NewLocalFolderAdapter([]string{root}, true, nil, nil)

	candidates := collect(t, a.Discover(context.Background()))
	require.Len(t, candidates, 1)

	path, err := a.Fetch(context.Background(), candidates[0], dest)
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestCloudPhotoAdapter_FetchWithoutChallenge(t *testing.T) {
	root := t.TempDir()
	dest := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.jpg"), []byte("cloud-bytes"), 0o644))

	adapter := NewCloudPhotoAdapter(NewFilesystemDownloader(root), time.Second, nil)

	candidates := collect(t, adapter.Discover(context.Background()))
	require.Len(t, candidates, 1)

	path, err := adapter.Fetch(context.Background(), candidates[0], dest)
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "cloud-bytes", string(got))
	assert.Equal(t, media.IngestCloudPhoto, adapter.Kind())
}

type challengeDownloader struct {
	root      string
	challenge *PendingChallenge
	served    bool
}

func (d *challengeDownloader) List(ctx context.Context) iter.Seq2[Candidate, error] {
	return NewFilesystemDownloader(d.root).List(ctx)
}

func (d *challengeDownloader) Download(ctx context.Context, item Candidate, w io.Writer) (*PendingChallenge, error) {
	if !d.served {
		d.served = true
		return d.challenge, nil
	}

	f, err := os.Open(item.RemotePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	_, err = io.Copy(w, f)

	return nil, err
}

func TestCloudPhotoAdapter_FetchRetriesAfterChallenge(t *testing.T) {
	root := t.TempDir()
	dest := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.jpg"), []byte("cloud-bytes"), 0o644))

	challenge := NewPendingChallenge("enter code")
	downloader := &challengeDownloader{root: root, challenge: challenge}

	adapter := NewCloudPhotoAdapter(downloader, time.Second, nil)

	candidates := collect(t, adapter.Discover(context.Background()))
	require.Len(t, candidates, 1)

	go func() {
		time.Sleep(5 * time.Millisecond)
		challenge.ProvideCode("000000")
	}()

	path, err := adapter.Fetch(context.Background(), candidates[0], dest)
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "cloud-bytes", string(got))
}

func TestPendingChallenge_TimesOutWithErrAuth(t *testing.T) {
	c := NewPendingChallenge("enter code")

	_, err := c.WaitForCode(context.Background(), 10*time.Millisecond)
	require.ErrorIs(t, err, media.ErrAuth)
}

func TestPendingChallenge_ProvideCodeUnblocks(t *testing.T) {
	c := NewPendingChallenge("enter code")

	go func() {
		time.Sleep(5 * time.Millisecond)
		c.ProvideCode("123456")
	}()

	code, err := c.WaitForCode(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "123456", code)
}
