// Package logging provides the leveled logger used by tasktracker.
// Lines are written as LEVEL TIMESTAMP [component] message key=value ...
// In redacting mode, errors are rendered without internal details.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/vinayprograms/tasktracker/errors"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger provides structured logging to stdout.
type Logger struct {
	mu        *sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	redact    bool
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a configuration value such as "warn" into a Level.
func ParseLevel(s string) (Level, error) {
	level := Level(strings.ToUpper(strings.TrimSpace(s)))
	if level == "WARNING" {
		level = LevelWarn
	}
	if _, ok := levelPriority[level]; !ok {
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// New creates a new Logger.
func New() *Logger {
	return &Logger{
		mu:       &sync.Mutex{},
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// WithComponent returns a new logger with the given component name.
// The new logger shares the output of its parent.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		redact:    l.redact,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// SetRedact enables production redaction: LogError writes only the user-safe
// fields of an error and never stacks or raw error text.
func (l *Logger) SetRedact(redact bool) {
	l.redact = redact
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs, sorted by key.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry in traditional format: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Lifecycle logging methods ---

// LogError logs err. Taxonomy errors are written with their user-safe fields;
// outside redacting mode the stack follows on its own lines. Foreign errors
// are wrapped as InternalServerError first, so in redacting mode their raw
// text never reaches the log.
func (l *Logger) LogError(err error) {
	if err == nil {
		return
	}
	te := apperrors.Ensure(err)

	fields := map[string]interface{}{
		"id":         te.ID(),
		"errorType":  te.ErrorType(),
		"statusCode": te.StatusCode(),
		"level":      string(te.Level()),
	}
	if te.Context() != "" {
		fields["context"] = quote(te.Context())
	}
	if te.Help() != "" {
		fields["help"] = quote(te.Help())
	}

	msg := te.Message()
	if !l.redact {
		if te.Code() != "" {
			fields["code"] = te.Code()
		}
		if apperrors.As(err) == nil {
			msg = err.Error()
		}
	}

	level := LevelWarn
	if te.IsCritical() {
		level = LevelError
	}
	l.log(level, msg, fields)

	if !l.redact && !te.HideStack() && te.Stack() != "" {
		l.log(level, te.Stack())
	}
}

// CleanupResult logs the outcome of a single cleanup task.
func (l *Logger) CleanupResult(name string, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"task":     name,
		"duration": duration.Round(time.Millisecond).String(),
	}
	if err != nil {
		if !l.redact {
			fields["error"] = quote(err.Error())
		}
		l.Error("cleanup_failed", fields)
		return
	}
	l.Debug("cleanup_complete", fields)
}

// StateChange logs a lifecycle state transition.
func (l *Logger) StateChange(from, to string) {
	l.Debug("state_change", map[string]interface{}{
		"from": from,
		"to":   to,
	})
}

// quote wraps values containing spaces so key=value pairs stay parseable.
func quote(s string) string {
	if strings.ContainsAny(s, " \t") {
		return fmt.Sprintf("%q", s)
	}
	return s
}
