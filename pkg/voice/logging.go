package voice

import (
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// logger is the package-level logger. All components log through this so a
// host application can redirect or silence library output in one place.
var logger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: false,
	Prefix:          "voice",
})

// SetLogger replaces the library logger.
func SetLogger(l *log.Logger) {
	if l != nil {
		logger = l
	}
}

// Logger returns the library logger.
func Logger() *log.Logger {
	return logger
}

// InitializeLogging configures log level and, in debug mode, mirrors library
// output to a log file under dir. Failure to create the file is reported but
// not fatal.
func InitializeLogging(debugMode bool, dir string) {
	if !debugMode {
		logger.SetLevel(log.InfoLevel)
		return
	}

	logger.SetLevel(log.DebugLevel)
	logger.Debug("debug logging enabled")

	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("failed to create log directory", "dir", dir, "error", err)
		return
	}

	logPath := filepath.Join(dir, "speechstream-debug.log")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger.Warn("failed to open debug log file", "path", logPath, "error", err)
		return
	}

	// The file stays open for the life of the process.
	logger = log.NewWithOptions(file, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           log.DebugLevel,
		Prefix:          "voice",
	})
	logger.Debug("debug log file created", "path", logPath)
}
