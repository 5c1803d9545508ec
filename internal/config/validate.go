package config

import "fmt"

// Validate enforces spec §4.1's constraints: required paths present,
// enum values known, numeric ranges sane. Returns an error wrapping the
// package's own sentinel (not media.ErrConfig) describing
// every violation found, joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.NASMount == "" {
		errs = append(errs, fmt.Errorf("%w: NAS_MOUNT is required", errConfigSentinel))
	}

	if cfg.LocalDBPath == "" {
		errs = append(errs, fmt.Errorf("%w: LOCAL_DB_PATH is required", errConfigSentinel))
	}

	switch cfg.DeduplicationHashAlgorithm {
	case "md5", "sha256":
	default:
		errs = append(errs, fmt.Errorf("%w: DEDUPLICATION_HASH_ALGORITHM must be md5 or sha256, got %q",
			errConfigSentinel, cfg.DeduplicationHashAlgorithm))
	}

	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("%w: JPEG_QUALITY must be 1-100, got %d", errConfigSentinel, cfg.JPEGQuality))
	}

	switch cfg.VideoPreset {
	case "ultrafast", "superfast", "veryfast", "faster", "fast", "medium", "slow", "slower", "veryslow":
	default:
		errs = append(errs, fmt.Errorf("%w: VIDEO_PRESET %q is not a known ffmpeg preset",
			errConfigSentinel, cfg.VideoPreset))
	}

	if cfg.UploadRetryAttempts < 0 {
		errs = append(errs, fmt.Errorf("%w: UPLOAD_RETRY_ATTEMPTS must be >= 0", errConfigSentinel))
	}

	if cfg.UploadRetryDelay < 0 {
		errs = append(errs, fmt.Errorf("%w: UPLOAD_RETRY_DELAY must be >= 0", errConfigSentinel))
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("%w: LOG_LEVEL %q is not one of debug|info|warn|error",
			errConfigSentinel, cfg.LogLevel))
	}

	if len(errs) == 0 {
		return nil
	}

	joined := errs[0]
	for _, e := range errs[1:] {
		joined = fmt.Errorf("%w; %w", joined, e)
	}

	return joined
}

// Derived directory layout helpers (spec §6 filesystem layout), resolved
// against NASMount when the specific *_DIR key was left unset.
func (c *Config) resolvedDir(explicit, suffix string) string {
	if explicit != "" {
		return explicit
	}

	return c.NASMount + "/" + suffix
}

// ResolveDirs fills in any *_DIR fields left blank with their
// NAS_MOUNT-relative default, matching spec §6's bit-exact layout.
func (c *Config) ResolveDirs() {
	c.OriginalsDir = c.resolvedDir(c.OriginalsDir, "originals")
	c.CompressedDir = c.resolvedDir(c.CompressedDir, "compressed")
	c.BridgeICloudDir = c.resolvedDir(c.BridgeICloudDir, "bridge/icloud")
	c.BridgePixelDir = c.resolvedDir(c.BridgePixelDir, "bridge/pixel")
	c.UploadedICloudDir = c.resolvedDir(c.UploadedICloudDir, "uploaded/icloud")
	c.UploadedPixelDir = c.resolvedDir(c.UploadedPixelDir, "uploaded/pixel")
	c.SortedDir = c.resolvedDir(c.SortedDir, "sorted")
	c.CleanupDir = c.resolvedDir(c.CleanupDir, "cleanup")
}
