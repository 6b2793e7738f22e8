package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Directory returns the configuration directory.
//
// Locations:
//   - Windows: %USERPROFILE%\.config\chunkvault
//   - Unix: ~/.config/chunkvault
func Directory() (string, error) {
	if runtime.GOOS == "windows" {
		userProfile := os.Getenv("USERPROFILE")
		if userProfile == "" {
			return "", errors.New("USERPROFILE environment variable not set")
		}
		return filepath.Join(userProfile, ".config", "chunkvault"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "chunkvault"), nil
}

// LogDirectory returns the directory used for the default log file.
//
// Locations:
//   - Windows: %LOCALAPPDATA%\chunkvault\logs
//   - Unix: ~/.config/chunkvault/logs
func LogDirectory() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), "chunkvault-logs")
			}
			localAppData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(localAppData, "chunkvault", "logs")
	}

	dir, err := Directory()
	if err != nil {
		return filepath.Join(os.TempDir(), "chunkvault-logs")
	}
	return filepath.Join(dir, "logs")
}

// LogFilePath resolves the log file setting. A bare file name is placed in
// LogDirectory; anything else is used as given.
func LogFilePath(name string) string {
	if name == "" || filepath.Base(name) != name {
		return name
	}
	return filepath.Join(LogDirectory(), name)
}
