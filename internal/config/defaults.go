package config

import "time"

// Default values for configuration options — the "layer 0" applied before
// the key=value file is parsed, so unset keys retain safe defaults (mirrors
// the teacher's DefaultConfig/layer-0 convention).
const (
	defaultJPEGQuality                = 85
	defaultVideoCRF                   = 23
	defaultVideoPreset                = "medium"
	defaultCompressionIntervalYears   = 2
	defaultInitialResizePercentage    = 100
	defaultSubsequentResizePercentage = 80
	defaultInitialVideoResolution     = 1080
	defaultSubsequentVideoResolution  = 720

	defaultHashAlgorithm = "sha256"

	defaultMaxBatchFiles = 500

	defaultUploadRetryAttempts = 3
	defaultUploadRetryDelay    = 10 * time.Second
	defaultICloudUploadTimeout = 120 * time.Second

	defaultPixelSyncTimeout  = 10 * time.Minute
	defaultPixelPollInterval = 5 * time.Second

	defaultLogLevel = "info"
)

// defaultMaxBatchSizeBytes is 50 GB expressed as bytes, matching the decimal
// (not binary) GB spec.md's MAX_BATCH_SIZE_GB expects.
const defaultMaxBatchSizeBytes = int64(50) * 1000 * 1000 * 1000

// Default returns a Config populated with every documented default. It is
// both the starting point for key=value parsing (so unset keys keep their
// default) and the fallback when no config file is present.
func Default() *Config {
	return &Config{
		EnableICloudDownload:  true,
		EnableFolderDownload:  false,
		EnableDeduplication:   true,
		EnableCompression:     true,
		EnableFilePreparation: true,
		EnableICloudUpload:    true,
		EnablePixelUpload:     true,
		EnableVerification:    true,
		EnableSorting:         true,

		JPEGQuality:                defaultJPEGQuality,
		VideoCRF:                   defaultVideoCRF,
		VideoPreset:                defaultVideoPreset,
		CompressionIntervalYears:   defaultCompressionIntervalYears,
		InitialResizePercentage:    defaultInitialResizePercentage,
		SubsequentResizePercentage: defaultSubsequentResizePercentage,
		InitialVideoResolution:     defaultInitialVideoResolution,
		SubsequentVideoResolution:  defaultSubsequentVideoResolution,

		DeduplicationHashAlgorithm: defaultHashAlgorithm,

		MaxBatchSizeBytes:           defaultMaxBatchSizeBytes,
		MaxBatchFiles:               defaultMaxBatchFiles,
		ClearBridgeBeforeProcessing: false,

		UploadRetryAttempts: defaultUploadRetryAttempts,
		UploadRetryDelay:    defaultUploadRetryDelay,
		ICloudUploadTimeout: defaultICloudUploadTimeout,
		PuppeteerHeadless:   true,

		PixelSyncTimeout:  defaultPixelSyncTimeout,
		PixelPollInterval: defaultPixelPollInterval,

		LogLevel: defaultLogLevel,
	}
}
