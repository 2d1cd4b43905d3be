// Package logx provides leveled, component-tagged logging for the pipeline.
package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type Logger struct {
	component string
}

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// DebugConfig controls debug logging behavior.
type DebugConfig struct {
	Enabled     bool
	FileLogging bool
	LogDir      string
	Components  map[string]bool // Which components emit debug lines (nil = all)
}

// Entry is a structured log record kept in the in-memory buffer for the
// ops endpoint.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Component string `json:"component"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// ringBuffer stores recent log entries for the ops endpoint.
type ringBuffer struct {
	entries []Entry
	mu      sync.RWMutex
	maxSize int
}

var (
	debugConfig = &DebugConfig{}
	debugMu     sync.RWMutex

	// logWriter overrides the destination (stderr when nil). Tests swap it.
	logWriter     io.Writer
	logWriterLock sync.RWMutex

	buffer = &ringBuffer{maxSize: 1000}
)

func init() { //nolint:gochecknoinits // env var initialization
	initDebugFromEnv()
}

func initDebugFromEnv() {
	debugMu.Lock()
	defer debugMu.Unlock()

	if v := os.Getenv("DEBUG"); v == "1" || strings.EqualFold(v, "true") {
		debugConfig.Enabled = true
	}
	if v := os.Getenv("DEBUG_FILE"); v == "1" || strings.EqualFold(v, "true") {
		debugConfig.FileLogging = true
	}
	if dir := os.Getenv("DEBUG_LOG_DIR"); dir != "" {
		debugConfig.LogDir = dir
	} else {
		debugConfig.LogDir = "logs"
	}
	if comps := os.Getenv("DEBUG_COMPONENTS"); comps != "" {
		debugConfig.Components = make(map[string]bool)
		for _, c := range strings.Split(comps, ",") {
			debugConfig.Components[strings.TrimSpace(c)] = true
		}
	}
}

func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// SetDebug configures debug logging at runtime, overriding the env defaults.
func SetDebug(enabled bool, components ...string) {
	debugMu.Lock()
	defer debugMu.Unlock()

	debugConfig.Enabled = enabled
	if len(components) == 0 {
		debugConfig.Components = nil
		return
	}
	debugConfig.Components = make(map[string]bool)
	for _, c := range components {
		debugConfig.Components[strings.TrimSpace(c)] = true
	}
}

// IsDebugEnabled reports whether debug logging is enabled for a component.
func IsDebugEnabled(component string) bool {
	debugMu.RLock()
	defer debugMu.RUnlock()

	if !debugConfig.Enabled {
		return false
	}
	if debugConfig.Components == nil {
		return true
	}
	return debugConfig.Components[component]
}

// DebugState reports the current debug flag and component filter. The ops
// loglevel endpoint serves this.
func DebugState() (bool, []string) {
	debugMu.RLock()
	defer debugMu.RUnlock()

	components := make([]string, 0, len(debugConfig.Components))
	for c := range debugConfig.Components {
		components = append(components, c)
	}
	sort.Strings(components)
	return debugConfig.Enabled, components
}

func (b *ringBuffer) add(entry Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, entry)
	if len(b.entries) > b.maxSize {
		b.entries = b.entries[len(b.entries)-b.maxSize:]
	}
}

func (b *ringBuffer) snapshot(component string, since time.Time) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Entry, 0, len(b.entries))
	for i := range b.entries {
		e := &b.entries[i]
		if component != "" && !strings.EqualFold(e.Component, component) {
			continue
		}
		if !since.IsZero() {
			ts, err := time.Parse("2006-01-02T15:04:05.000Z", e.Timestamp)
			if err != nil || ts.Before(since) {
				continue
			}
		}
		out = append(out, *e)
	}
	return out
}

// RecentEntries returns buffered log entries, optionally filtered by
// component and minimum timestamp. The ops endpoint serves these.
func RecentEntries(component string, since time.Time) []Entry {
	return buffer.snapshot(component, since)
}

func (l *Logger) log(level Level, format string, args ...any) {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	message := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("[%s] [%s] %s: %s\n", timestamp, l.component, level, message)

	logWriterLock.RLock()
	w := logWriter
	logWriterLock.RUnlock()
	if w == nil {
		w = os.Stderr
	}
	fmt.Fprint(w, line)

	buffer.add(Entry{
		Timestamp: timestamp,
		Component: l.component,
		Level:     string(level),
		Message:   message,
	})

	if level == LevelDebug {
		l.debugToFile(timestamp, message)
	}
}

func (l *Logger) debugToFile(timestamp, message string) {
	debugMu.RLock()
	fileLogging := debugConfig.FileLogging
	logDir := debugConfig.LogDir
	debugMu.RUnlock()

	if !fileLogging || logDir == "" {
		return
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return
	}
	path := filepath.Join(logDir, l.component+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to open debug log %s: %v\n", path, err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "[%s] DEBUG: %s\n", timestamp, message)
}

func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled(l.component) {
		return
	}
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

func (l *Logger) GetComponent() string {
	return l.component
}

// WithComponent returns a logger tagged with a different component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{component: component}
}

// Global logging functions for convenience.
var defaultLogger = NewLogger("system")

func Debugf(format string, args ...any) {
	defaultLogger.Debug(format, args...)
}

func Infof(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Errorf logs and returns the formatted error.
// Use this when you need both logging and error returning:
//
//	err := logx.Errorf("extractor setup failed: %w", err)
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err.Error() and returns fmt.Errorf("%s: %w", msg, err).
// Use this when you need both logging and error wrapping:
//
//	if err != nil { return logx.Wrap(err, "open results store") }
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrapped.Error())
	return wrapped
}
