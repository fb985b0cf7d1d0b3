// Package logging builds the process logger: human-readable output on
// stderr for interactive use, rotating files in daemon mode.
package logging

import (
	"os"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New creates a logger at the given level. When file is non-empty, output
// goes to a rotating log file instead of stderr.
func New(level, file string) *log.Logger {
	var logger *log.Logger
	if file != "" {
		logger = log.New(&lumberjack.Logger{
			Filename:   file,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
		logger.SetFormatter(log.TextFormatter)
	} else {
		logger = log.New(os.Stderr)
	}

	logger.SetLevel(parseLevel(level))
	logger.SetReportTimestamp(true)
	return logger
}

func parseLevel(level string) log.Level {
	switch level {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
