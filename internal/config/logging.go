package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const logPattern = "navsync-*.log"

func LevelFromString(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "error":
		return zerolog.ErrorLevel
	case "warn":
		return zerolog.WarnLevel
	case "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	}
	return zerolog.WarnLevel
}

func NewLogger(level string, w io.Writer) zerolog.Logger {
	return zerolog.New(w).Level(LevelFromString(level)).With().Timestamp().Logger()
}

// DefaultLogDir is where the TUI writes its logs so they never touch the
// terminal it draws on.
func DefaultLogDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, configDirName, "logs")
}

// SetupLogFile creates a new timestamped log file and removes the oldest ones
// beyond maxFiles. The caller closes the file.
func SetupLogFile(dir string, maxFiles int) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	name := strings.Replace(logPattern, "*", time.Now().Format("2006-01-02T15-04-05.000"), 1)
	file, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}
	if err := cleanupOldLogs(dir, maxFiles); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to clean up old logs: %v\n", err)
	}
	return file, nil
}

func cleanupOldLogs(dir string, maxFiles int) error {
	files, err := filepath.Glob(filepath.Join(dir, logPattern))
	if err != nil {
		return err
	}
	if maxFiles <= 0 || len(files) <= maxFiles {
		return nil
	}
	// the timestamp format sorts chronologically
	sort.Strings(files)
	for _, file := range files[:len(files)-maxFiles] {
		if err := os.Remove(file); err != nil {
			return fmt.Errorf("remove %s: %w", file, err)
		}
	}
	return nil
}
