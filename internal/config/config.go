// Package config implements flat key=value configuration loading,
// validation, and typed access for the media pipeline (spec §4.1).
package config

import "time"

// Config is the fully resolved, typed configuration for a pipeline run.
type Config struct {
	// Phase toggles.
	EnableICloudDownload  bool
	EnableFolderDownload  bool
	EnableDeduplication   bool
	EnableCompression     bool
	EnableFilePreparation bool
	EnableICloudUpload    bool
	EnablePixelUpload     bool
	EnableVerification    bool
	EnableSorting         bool

	// Directory layout.
	NASMount        string
	OriginalsDir    string
	CompressedDir   string
	BridgeICloudDir string
	BridgePixelDir  string
	UploadedICloudDir string
	UploadedPixelDir  string
	SortedDir       string
	CleanupDir      string
	PixelSyncFolder string

	// DEDUPLICATION_DIRECTORIES (spec §9 Open Question): extra roots swept
	// into originals discovery by the local-folder-scan ingest variant.
	DeduplicationDirectories []string

	// Compression policy.
	JPEGQuality                 int
	VideoCRF                    int
	VideoPreset                 string
	CompressionIntervalYears    int
	InitialResizePercentage     int
	SubsequentResizePercentage  int
	InitialVideoResolution      int
	SubsequentVideoResolution   int

	// Hashing.
	DeduplicationHashAlgorithm string // "md5" | "sha256"

	// Bridge caps.
	MaxBatchSizeBytes int64
	MaxBatchFiles     int
	ClearBridgeBeforeProcessing bool

	// Upload policy.
	UploadRetryAttempts int
	UploadRetryDelay    time.Duration
	ICloudUploadTimeout time.Duration
	ICloudUploadSelector string
	ICloudSessionFile    string
	PuppeteerHeadless    bool

	// SyncPixel.
	SyncthingAPIURL   string
	SyncthingAPIKey   string
	PixelSyncTimeout  time.Duration
	PixelPollInterval time.Duration

	// Metadata stores.
	LocalDBPath  string
	RemoteDBURL  string
	RemoteDBKey  string

	// Logging.
	LogLevel        string
	VerboseLogging  bool
}
