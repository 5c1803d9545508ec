package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// errConfigSentinel is a local alias so this package does not need to
// import internal/media (which would create an import cycle, since
// internal/media has no config dependency today but keeping config leaf
// avoids ever introducing one). Errors wrapping it do not match
// media.ErrConfig; the CLI maps any load error to exit code 2.
var errConfigSentinel = errors.New("config")

// setter applies a single KEY=VALUE line to cfg. Returning the setter table
// doubles as the known-keys registry consulted by unknownKeyError.
type setter func(cfg *Config, value string) error

var knownKeys = map[string]setter{
	"ENABLE_ICLOUD_DOWNLOAD":  boolSetter(func(c *Config, v bool) { c.EnableICloudDownload = v }),
	"ENABLE_FOLDER_DOWNLOAD":  boolSetter(func(c *Config, v bool) { c.EnableFolderDownload = v }),
	"ENABLE_DEDUPLICATION":    boolSetter(func(c *Config, v bool) { c.EnableDeduplication = v }),
	"ENABLE_COMPRESSION":      boolSetter(func(c *Config, v bool) { c.EnableCompression = v }),
	"ENABLE_FILE_PREPARATION": boolSetter(func(c *Config, v bool) { c.EnableFilePreparation = v }),
	"ENABLE_ICLOUD_UPLOAD":    boolSetter(func(c *Config, v bool) { c.EnableICloudUpload = v }),
	"ENABLE_PIXEL_UPLOAD":     boolSetter(func(c *Config, v bool) { c.EnablePixelUpload = v }),
	"ENABLE_VERIFICATION":     boolSetter(func(c *Config, v bool) { c.EnableVerification = v }),
	"ENABLE_SORTING":          boolSetter(func(c *Config, v bool) { c.EnableSorting = v }),

	"NAS_MOUNT":           stringSetter(func(c *Config, v string) { c.NASMount = v }),
	"ORIGINALS_DIR":       stringSetter(func(c *Config, v string) { c.OriginalsDir = v }),
	"COMPRESSED_DIR":      stringSetter(func(c *Config, v string) { c.CompressedDir = v }),
	"BRIDGE_ICLOUD_DIR":   stringSetter(func(c *Config, v string) { c.BridgeICloudDir = v }),
	"BRIDGE_PIXEL_DIR":    stringSetter(func(c *Config, v string) { c.BridgePixelDir = v }),
	"UPLOADED_ICLOUD_DIR": stringSetter(func(c *Config, v string) { c.UploadedICloudDir = v }),
	"UPLOADED_PIXEL_DIR":  stringSetter(func(c *Config, v string) { c.UploadedPixelDir = v }),
	"SORTED_DIR":          stringSetter(func(c *Config, v string) { c.SortedDir = v }),
	"CLEANUP_DIR":         stringSetter(func(c *Config, v string) { c.CleanupDir = v }),
	"PIXEL_SYNC_FOLDER":   stringSetter(func(c *Config, v string) { c.PixelSyncFolder = v }),

	"DEDUPLICATION_DIRECTORIES": func(c *Config, v string) error {
		c.DeduplicationDirectories = splitList(v)
		return nil
	},

	"JPEG_QUALITY": intSetter(func(c *Config, v int) { c.JPEGQuality = v }),
	"VIDEO_CRF":    intSetter(func(c *Config, v int) { c.VideoCRF = v }),
	"VIDEO_PRESET": stringSetter(func(c *Config, v string) { c.VideoPreset = v }),
	"COMPRESSION_INTERVAL_YEARS":   intSetter(func(c *Config, v int) { c.CompressionIntervalYears = v }),
	"INITIAL_RESIZE_PERCENTAGE":    intSetter(func(c *Config, v int) { c.InitialResizePercentage = v }),
	"SUBSEQUENT_RESIZE_PERCENTAGE": intSetter(func(c *Config, v int) { c.SubsequentResizePercentage = v }),
	"INITIAL_VIDEO_RESOLUTION":     intSetter(func(c *Config, v int) { c.InitialVideoResolution = v }),
	"SUBSEQUENT_VIDEO_RESOLUTION":  intSetter(func(c *Config, v int) { c.SubsequentVideoResolution = v }),

	"DEDUPLICATION_HASH_ALGORITHM": stringSetter(func(c *Config, v string) { c.DeduplicationHashAlgorithm = strings.ToLower(v) }),

	"MAX_BATCH_SIZE_GB": func(c *Config, v string) error {
		bytes, err := parseDecimalGB(v)
		if err != nil {
			return err
		}

		c.MaxBatchSizeBytes = bytes

		return nil
	},
	"MAX_BATCH_FILES":                intSetter(func(c *Config, v int) { c.MaxBatchFiles = v }),
	"CLEAR_BRIDGE_BEFORE_PROCESSING": boolSetter(func(c *Config, v bool) { c.ClearBridgeBeforeProcessing = v }),

	"UPLOAD_RETRY_ATTEMPTS": intSetter(func(c *Config, v int) { c.UploadRetryAttempts = v }),
	"UPLOAD_RETRY_DELAY":    secondsSetter(func(c *Config, v time.Duration) { c.UploadRetryDelay = v }),
	"ICLOUD_UPLOAD_TIMEOUT": secondsSetter(func(c *Config, v time.Duration) { c.ICloudUploadTimeout = v }),
	"ICLOUD_UPLOAD_SELECTOR": stringSetter(func(c *Config, v string) { c.ICloudUploadSelector = v }),
	"ICLOUD_SESSION_FILE":    stringSetter(func(c *Config, v string) { c.ICloudSessionFile = v }),
	"PUPPETEER_HEADLESS":     boolSetter(func(c *Config, v bool) { c.PuppeteerHeadless = v }),

	"SYNCTHING_API_URL":  stringSetter(func(c *Config, v string) { c.SyncthingAPIURL = v }),
	"SYNCTHING_API_KEY":  stringSetter(func(c *Config, v string) { c.SyncthingAPIKey = v }),
	"PIXEL_SYNC_TIMEOUT": secondsSetter(func(c *Config, v time.Duration) { c.PixelSyncTimeout = v }),

	"LOCAL_DB_PATH": stringSetter(func(c *Config, v string) { c.LocalDBPath = v }),
	"REMOTE_DB_URL": stringSetter(func(c *Config, v string) { c.RemoteDBURL = v }),
	"REMOTE_DB_KEY": stringSetter(func(c *Config, v string) { c.RemoteDBKey = v }),

	"LOG_LEVEL":        stringSetter(func(c *Config, v string) { c.LogLevel = strings.ToLower(v) }),
	"VERBOSE_LOGGING":  boolSetter(func(c *Config, v bool) { c.VerboseLogging = v }),
}

func boolSetter(assign func(*Config, bool)) setter {
	return func(c *Config, v string) error {
		b, err := parseBool(v)
		if err != nil {
			return err
		}

		assign(c, b)

		return nil
	}
}

func intSetter(assign func(*Config, int)) setter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid integer %q: %w", v, err)
		}

		assign(c, n)

		return nil
	}
}

func secondsSetter(assign func(*Config, time.Duration)) setter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid seconds value %q: %w", v, err)
		}

		if n < 0 {
			return fmt.Errorf("seconds value %q must be non-negative", v)
		}

		assign(c, time.Duration(n)*time.Second)

		return nil
	}
}

func stringSetter(assign func(*Config, string)) setter {
	return func(c *Config, v string) error {
		assign(c, v)
		return nil
	}
}

func splitList(v string) []string {
	var out []string

	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}

	return out
}

// Load reads and parses the flat KEY=VALUE configuration file at path
// (spec §4.1). Unlike a TOML/INI parser, the format has no sections or
// nesting, so the decode is a single pass: split each non-blank,
// non-comment line on the first "=", look up the key's setter, apply it.
// Unknown keys are fatal with a "did you mean?" suggestion.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	defer f.Close()

	cfg := Default()

	scanner := bufio.NewScanner(f)

	var errs []error

	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			errs = append(errs, fmt.Errorf("%w: line %d: missing '=' in %q", errConfigSentinel, lineNo, line))
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(strings.Trim(value, `"`))

		set, known := knownKeys[key]
		if !known {
			errs = append(errs, unknownKeyError(key))
			continue
		}

		if setErr := set(cfg, value); setErr != nil {
			errs = append(errs, fmt.Errorf("%w: line %d: key %q: %v", errConfigSentinel, lineNo, key, setErr))
		}
	}

	if scanErr := scanner.Err(); scanErr != nil {
		return nil, fmt.Errorf("config: scanning %s: %w", path, scanErr)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault reads path if it exists, otherwise returns Default().
// Supports the zero-config first-run experience (mirrors the teacher's
// LoadOrDefault).
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}

	return Load(path)
}
