// SPDX-License-Identifier: MIT
//
// Package log is the process-wide levelled logger. Messages carry a
// component prefix written by the caller ("Scheduler: ...").
//
// Nothing on the capture path may log; guard diagnostic formatting on
// other hot paths with Enabled.
package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel defines the severity of a log message.
type LogLevel uint32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string (case-insensitive) to a LogLevel.
// Returns LevelInfo and false if the string is not recognized.
func ParseLevel(levelStr string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "FATAL":
		return LevelFatal, true
	default:
		return LevelInfo, false
	}
}

// currentLevel holds the global log level.
var currentLevel atomic.Uint32

// logger shows date and time with microseconds.
var logger = stdlog.New(os.Stderr, "", stdlog.Ldate|stdlog.Ltime|stdlog.Lmicroseconds)

func init() {
	SetLevel(LevelInfo)
}

// SetLevel sets the global logging level.
func SetLevel(level LogLevel) {
	currentLevel.Store(uint32(level))
}

// GetLevel gets the current global logging level.
func GetLevel() LogLevel {
	return LogLevel(currentLevel.Load())
}

// SetOutput redirects all log output. Tests use it to capture messages.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// Enabled reports whether a message at level would be written.
func Enabled(level LogLevel) bool {
	return level >= GetLevel()
}

func output(level LogLevel, format string, v ...any) {
	if !Enabled(level) {
		return
	}
	// Pad so messages line up after the widest tag.
	tag := level.String()
	pad := strings.Repeat(" ", 5-len(tag))
	logger.Printf("[%s]%s %s", tag, pad, fmt.Sprintf(format, v...))
}

// Debugf logs a formatted debug message if the level is appropriate.
func Debugf(format string, v ...any) { output(LevelDebug, format, v...) }

// Infof logs a formatted info message if the level is appropriate.
func Infof(format string, v ...any) { output(LevelInfo, format, v...) }

// Warnf logs a formatted warning message if the level is appropriate.
func Warnf(format string, v ...any) { output(LevelWarn, format, v...) }

// Errorf logs a formatted error message if the level is appropriate.
func Errorf(format string, v ...any) { output(LevelError, format, v...) }

// Fatalf logs a formatted fatal message and exits the application.
// Fatal messages are always logged regardless of the current level.
func Fatalf(format string, v ...any) {
	logger.Fatalf("[%s] %s", LevelFatal, fmt.Sprintf(format, v...))
}
