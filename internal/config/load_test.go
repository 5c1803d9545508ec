package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.env")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoad_HappyPath(t *testing.T) {
	path := writeConfig(t, `
NAS_MOUNT=/mnt/nas
LOCAL_DB_PATH=/mnt/nas/pipeline.db
ENABLE_ICLOUD_UPLOAD=true
ENABLE_PIXEL_UPLOAD=no
MAX_BATCH_SIZE_GB=2.5
JPEG_QUALITY=90
DEDUPLICATION_HASH_ALGORITHM=MD5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/mnt/nas", cfg.NASMount)
	assert.True(t, cfg.EnableICloudUpload)
	assert.False(t, cfg.EnablePixelUpload)
	assert.Equal(t, int64(2.5*float64(gigabyte)), cfg.MaxBatchSizeBytes)
	assert.Equal(t, 90, cfg.JPEGQuality)
	assert.Equal(t, "md5", cfg.DeduplicationHashAlgorithm)
}

func TestLoad_UnknownKeySuggests(t *testing.T) {
	path := writeConfig(t, `
NAS_MOUNT=/mnt/nas
LOCAL_DB_PATH=/mnt/nas/pipeline.db
ENABLE_ICLOUD_UPLOD=true
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "ENABLE_ICLOUD_UPLOAD"`)
}

func TestLoad_MissingRequiredPath(t *testing.T) {
	path := writeConfig(t, `ENABLE_SORTING=true`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NAS_MOUNT is required")
}

func TestLoadOrDefault_MissingFileReturnsDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "does-not-exist.env"))
	require.NoError(t, err)
	assert.Equal(t, Default().JPEGQuality, cfg.JPEGQuality)
}

func TestResolveDirs(t *testing.T) {
	cfg := Default()
	cfg.NASMount = "/mnt/nas"
	cfg.ResolveDirs()

	assert.Equal(t, "/mnt/nas/originals", cfg.OriginalsDir)
	assert.Equal(t, "/mnt/nas/bridge/icloud", cfg.BridgeICloudDir)
	assert.Equal(t, "/mnt/nas/sorted", cfg.SortedDir)
}
