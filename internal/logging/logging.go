// Package logging provides a small leveled logger shared by all packages.
// Output defaults to stderr in text format; JSON format is available for
// runs driven by schedulers or log collectors.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents a log severity level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the upper-case name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// lowerName is used for the JSON "level" field.
func (l Level) lowerName() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel parses a level name. It accepts any case but no surrounding
// whitespace; "warning" is accepted as an alias for "warn".
func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug", "Debug", "DEBUG":
		return LevelDebug, nil
	case "info", "Info", "INFO":
		return LevelInfo, nil
	case "warn", "Warn", "WARN", "warning", "Warning", "WARNING":
		return LevelWarn, nil
	case "error", "Error", "ERROR":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

var (
	mu     sync.Mutex
	level  = LevelInfo
	format = "text"
	out    io.Writer = os.Stderr
)

// SetLevel sets the minimum level that will be emitted.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	mu.Lock()
	defer mu.Unlock()
	return level
}

// IsDebug reports whether debug output is enabled.
func IsDebug() bool {
	return GetLevel() <= LevelDebug
}

// SetFormat sets the output format: "text" or "json".
// Unknown values fall back to "text".
func SetFormat(f string) {
	mu.Lock()
	defer mu.Unlock()
	if f != "json" {
		f = "text"
	}
	format = f
}

// SetOutput redirects log output. Passing nil restores stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	out = w
}

// Debug logs at debug level.
func Debug(msg string, args ...interface{}) { emit(LevelDebug, msg, args...) }

// Info logs at info level.
func Info(msg string, args ...interface{}) { emit(LevelInfo, msg, args...) }

// Warn logs at warn level.
func Warn(msg string, args ...interface{}) { emit(LevelWarn, msg, args...) }

// Error logs at error level.
func Error(msg string, args ...interface{}) { emit(LevelError, msg, args...) }

func emit(l Level, msg string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if l < level {
		return
	}

	formatted := msg
	if len(args) > 0 {
		formatted = fmt.Sprintf(msg, args...)
	}

	if format == "json" {
		entry := map[string]string{
			"ts":    time.Now().Format(time.RFC3339),
			"level": l.lowerName(),
			"msg":   formatted,
		}
		b, err := json.Marshal(entry)
		if err != nil {
			return
		}
		fmt.Fprintln(out, string(b))
		return
	}

	fmt.Fprintf(out, "%s [%s] %s\n", time.Now().Format("2006-01-02 15:04:05"), l, formatted)
}
