// Package logx provides the ambient timestamped logger shared by the
// Session Manager, shellper client, and session wrapper. It mirrors the
// teacher's DualLogger/Logger shape: write to stdout (or a supplied writer)
// and, optionally, tee to a log file.
package logx

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Logger writes timestamp-prefixed lines to one or more destinations.
type Logger struct {
	mu      sync.Mutex
	out     io.Writer
	logFile *os.File
}

// New creates a Logger writing to stdout. If logPath is non-empty, output
// is teed to that file as well (created/appended, mode 0644).
func New(logPath string) (*Logger, error) {
	l := &Logger{out: os.Stdout}
	if logPath == "" {
		return l, nil
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("logx: open log file: %w", err)
	}
	l.logFile = f
	l.out = io.MultiWriter(os.Stdout, f)
	return l, nil
}

// Close closes the underlying log file, if any.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile != nil {
		l.logFile.Close()
		l.logFile = nil
	}
}

// Printf writes a single timestamped, newline-terminated line.
func (l *Logger) Printf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	fmt.Fprintf(l.out, "[%s] %s\n", ts, fmt.Sprintf(format, args...))
}

// Writer returns the io.Writer backing this logger, for redirecting
// subprocess stdio (e.g. a shellper's stderr, per spec §4.4.1: redirected
// to a log file, never a pipe).
func (l *Logger) Writer() io.Writer {
	return l.out
}

// Default is a process-wide logger used by packages that don't carry their
// own Logger instance (mirrors the teacher's package-level Logger function).
var Default = &Logger{out: os.Stdout}

// Printf logs through Default.
func Printf(format string, args ...interface{}) {
	Default.Printf(format, args...)
}
