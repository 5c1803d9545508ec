package config

import "os"

// EnvConfigPath is the environment variable naming the config file (spec §6).
const EnvConfigPath = "CONFIG_PATH"

// DefaultConfigPath returns the platform-appropriate default config
// location used when CONFIG_PATH is unset.
func DefaultConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return xdg + "/media-pipeline/config.env"
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/media-pipeline/config.env"
	}

	return home + "/.config/media-pipeline/config.env"
}

// ResolveConfigPath applies the CONFIG_PATH env var over the platform
// default, matching spec §6's "single key=value file path given by
// CONFIG_PATH env var, defaulting to a platform-appropriate path".
func ResolveConfigPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}

	return DefaultConfigPath()
}
