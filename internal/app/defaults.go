package app

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - DRIVE_CONFIG_PATH: config file location (default: ~/.config/clouddrive.toml)
//   - DRIVE_HOME: base directory for local data (default: ~/.local/share/clouddrive)
//   - DRIVE_OWNER: owner id used when --owner is not given (default: config value)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"owner":       os.Getenv("DRIVE_OWNER"),
	}, nil
}

// LoadEnvFile loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// LogLevel reads DRIVE_LOG_LEVEL (debug, info, warn, error). Unset means info.
func LogLevel() (slog.Level, error) {
	raw := os.Getenv("DRIVE_LOG_LEVEL")
	if raw == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo, fmt.Errorf("DRIVE_LOG_LEVEL: %w", err)
	}
	return level, nil
}

// getConfigPath returns the config file path, checking DRIVE_CONFIG_PATH first,
// then falling back to ~/.config/clouddrive.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("DRIVE_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "clouddrive.toml"), nil
}

// getBaseDir returns the local data directory, checking DRIVE_HOME first,
// then falling back to the XDG default ~/.local/share/clouddrive.
func getBaseDir() (string, error) {
	if path := os.Getenv("DRIVE_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "clouddrive"), nil
}
