package capturedate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOf_FallsBackToMtimeForPlainFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.bin")

	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	mtime := time.Date(2019, 7, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	got, err := Of(path)
	require.NoError(t, err)
	assert.True(t, got.Equal(mtime) || got.Equal(mtime.Local()), "expected mtime fallback, got %v", got)
}

func TestOf_MissingFileReturnsError(t *testing.T) {
	_, err := Of(filepath.Join(t.TempDir(), "missing.jpg"))
	assert.Error(t, err)
}
