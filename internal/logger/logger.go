package logger

import (
	"io"
	"strings"

	"github.com/charmbracelet/log"
)

// New returns the status-line logger used by every command. An unknown
// level falls back to info; Config.Validate rejects those before here.
func New(w io.Writer, level string) *log.Logger {
	lvl, err := ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	return log.NewWithOptions(w, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
	})
}

// ParseLevel parses a log_level value. Empty means info.
func ParseLevel(level string) (log.Level, error) {
	level = strings.TrimSpace(level)
	if level == "" {
		return log.InfoLevel, nil
	}
	return log.ParseLevel(level)
}

// Discard is a logger that drops everything, for tests.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
