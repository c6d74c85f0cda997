// Package logging provides the pipeline's structured logger: leveled,
// field-carrying, with a JSON form for machine consumers and a line
// form for terminals. Loggers are injected, never global.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

// LogLevel is a message severity.
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// rank orders levels for gating; unknown levels gate like info.
func rank(level LogLevel) int {
	switch level {
	case DebugLevel:
		return 0
	case WarnLevel:
		return 2
	case ErrorLevel:
		return 3
	default:
		return 1
	}
}

// Format selects the output rendering.
type Format string

const (
	JSONFormat  Format = "json"
	HumanFormat Format = "human"
)

// Config holds logger configuration.
type Config struct {
	Format Format
	Level  LogLevel
	Output io.Writer // Optional, defaults to stderr
}

// Logger writes leveled, structured log lines. Safe for concurrent use
// as long as the underlying writer is.
type Logger struct {
	config Config
	writer io.Writer
}

// NewLogger builds a logger from config, defaulting output to stderr so
// command stdout stays clean for reports.
func NewLogger(config Config) *Logger {
	writer := config.Output
	if writer == nil {
		writer = os.Stderr
	}
	return &Logger{config: config, writer: writer}
}

// Nop returns a logger that discards everything. Intended for tests
// and for library callers that do not want pipeline logs.
func Nop() *Logger {
	return NewLogger(Config{Level: ErrorLevel, Output: io.Discard})
}

// Debug logs at debug level.
func (l *Logger) Debug(message string, fields map[string]interface{}) {
	l.log(DebugLevel, message, fields)
}

// Info logs at info level.
func (l *Logger) Info(message string, fields map[string]interface{}) {
	l.log(InfoLevel, message, fields)
}

// Warn logs at warn level.
func (l *Logger) Warn(message string, fields map[string]interface{}) {
	l.log(WarnLevel, message, fields)
}

// Error logs at error level.
func (l *Logger) Error(message string, fields map[string]interface{}) {
	l.log(ErrorLevel, message, fields)
}

func (l *Logger) log(level LogLevel, message string, fields map[string]interface{}) {
	if rank(level) < rank(l.config.Level) {
		return
	}

	timestamp := time.Now().UTC().Format(time.RFC3339)
	if l.config.Format == JSONFormat {
		l.writeJSON(timestamp, level, message, fields)
		return
	}
	l.writeHuman(timestamp, level, message, fields)
}

func (l *Logger) writeJSON(timestamp string, level LogLevel, message string, fields map[string]interface{}) {
	entry := struct {
		Timestamp string                 `json:"timestamp"`
		Level     string                 `json:"level"`
		Message   string                 `json:"message"`
		Fields    map[string]interface{} `json:"fields,omitempty"`
	}{timestamp, string(level), message, fields}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal log entry: %v\n", err)
		return
	}
	fmt.Fprintln(l.writer, string(data))
}

// writeHuman renders fields in sorted key order so repeated runs
// produce comparable lines.
func (l *Logger) writeHuman(timestamp string, level LogLevel, message string, fields map[string]interface{}) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s] %s", timestamp, level, message)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" |")
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, " %s=%v", k, fields[k])
		}
	}

	fmt.Fprintln(l.writer, sb.String())
}
