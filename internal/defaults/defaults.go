// Package defaults provides embedded default configuration files and the
// data directory layout.
//
// Platform paths:
//
//	macOS:   ~/Library/Application Support/Wabot/
//	Windows: %AppData%\Wabot\
//	Linux:   ~/.config/wabot/
//
// Override with WABOT_DATA_DIR environment variable.
package defaults

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

//go:embed dotwabot/*
var defaultFiles embed.FS

const (
	ConfigFile    = "config.yaml"
	CommandsFile  = "commands.yaml"
	ScheduleFile  = "scheduled_messages.json"
	SessionDBFile = "session.db"
	LockFile      = "wabot.lock"
	CrashLogFile  = "crash.log"
)

// DataDir returns the platform-appropriate data directory.
// Set WABOT_DATA_DIR to override.
func DataDir() (string, error) {
	if dir := os.Getenv("WABOT_DATA_DIR"); dir != "" {
		return dir, nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}

	// Linux: lowercase per XDG convention
	if runtime.GOOS == "linux" {
		return filepath.Join(configDir, "wabot"), nil
	}
	return filepath.Join(configDir, "Wabot"), nil
}

// EnsureDataDir creates the data directory if it doesn't exist
// and copies default files if they're missing.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Join(dir, "data"), 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := copyDefaults(dir, false); err != nil {
		return "", err
	}

	return dir, nil
}

// Reset replaces config files with defaults. Scheduled messages and the
// session database are preserved.
func Reset(dir string) error {
	return copyDefaults(dir, true)
}

// copyDefaults copies embedded default files to the data directory.
func copyDefaults(dir string, overwrite bool) error {
	return fs.WalkDir(defaultFiles, "dotwabot", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == "dotwabot" {
			return nil
		}

		// embed.FS always uses forward slashes
		relPath := strings.TrimPrefix(path, "dotwabot/")
		destPath := filepath.Join(dir, relPath)

		if d.IsDir() {
			return os.MkdirAll(destPath, 0755)
		}

		if !overwrite {
			if _, err := os.Stat(destPath); err == nil {
				return nil
			}
		}

		data, err := defaultFiles.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read embedded %s: %w", path, err)
		}
		if err := os.WriteFile(destPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", destPath, err)
		}
		return nil
	})
}

// GetDefault returns the content of a default file by name.
func GetDefault(name string) ([]byte, error) {
	return defaultFiles.ReadFile("dotwabot/" + name)
}

// ListDefaults returns the names of all default files.
func ListDefaults() ([]string, error) {
	var files []string
	err := fs.WalkDir(defaultFiles, "dotwabot", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && path != "dotwabot" {
			files = append(files, strings.TrimPrefix(path, "dotwabot/"))
		}
		return nil
	})
	return files, err
}

// Paths resolves every file the daemon owns under a data directory.
type Paths struct {
	Dir       string
	Config    string
	Commands  string
	Schedule  string
	SessionDB string
	Lock      string
	CrashLog  string
}

// PathsFor returns the file layout rooted at dir.
func PathsFor(dir string) Paths {
	return Paths{
		Dir:       dir,
		Config:    filepath.Join(dir, ConfigFile),
		Commands:  filepath.Join(dir, CommandsFile),
		Schedule:  filepath.Join(dir, "data", ScheduleFile),
		SessionDB: filepath.Join(dir, "data", SessionDBFile),
		Lock:      filepath.Join(dir, LockFile),
		CrashLog:  filepath.Join(dir, "data", CrashLogFile),
	}
}
