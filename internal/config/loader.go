package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"toolgate/pkg/logging"
)

const (
	// ConfigDirEnv names the environment variable selecting the config
	// directory. The directory must contain config.json.
	ConfigDirEnv = "CONFIG_DIR"
	// DefaultConfigDir is used when CONFIG_DIR is not set.
	DefaultConfigDir = "/config"

	configFileName = "config.json"
)

// ConfigDir returns the configured config directory.
func ConfigDir() string {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return dir
	}
	return DefaultConfigDir
}

// ConfigFilePath returns the full path of the config document.
func ConfigFilePath() string {
	return filepath.Join(ConfigDir(), configFileName)
}

// LoadAppConfig reads and normalizes the config document at path.
//
// Loading fails soft: any read or parse error yields an empty config so the
// manager keeps running with no servers rather than crashing. A missing
// top-level mcpServers key is treated as empty.
func LoadAppConfig(path string) AppConfig {
	empty := AppConfig{MCPServers: map[string]ServerConfig{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config found at %s, starting with empty server set", path)
		} else {
			logging.Error("ConfigLoader", err, "Failed to read config at %s", path)
		}
		return empty
	}

	var app AppConfig
	if err := json.Unmarshal(data, &app); err != nil {
		logging.Error("ConfigLoader", err, "Failed to parse config at %s", path)
		return empty
	}

	app = NormalizeAll(app)
	logging.Debug("ConfigLoader", "Loaded %d server entries from %s", len(app.MCPServers), path)
	return app
}

// ParseAppConfig parses and normalizes a config document held in memory.
// Unlike LoadAppConfig it reports parse errors to the caller; the config
// watcher uses it to reject malformed writes before applying them.
func ParseAppConfig(data []byte) (AppConfig, error) {
	var app AppConfig
	if err := json.Unmarshal(data, &app); err != nil {
		return AppConfig{}, err
	}
	return NormalizeAll(app), nil
}
