// Package logging provides the file-backed debug logger shared by the
// orchestrator, pool and dispatcher.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger is the narrow logging surface components depend on.
type Logger interface {
	Log(format string, args ...interface{})
}

// DebugLogger writes timestamped lines to a file.
// A nil logger, or one without a file, discards everything.
type DebugLogger struct {
	mu   sync.Mutex
	file *os.File
}

// New creates a logger writing to path, creating parent directories as needed.
// An empty path yields a no-op logger.
func New(path string) (*DebugLogger, error) {
	if path == "" {
		return &DebugLogger{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l := &DebugLogger{file: f}
	l.Log("=== issueforge debug log started at %s ===", time.Now().Format(time.RFC3339))
	return l, nil
}

// ForRepo creates a logger under <repo>/.issueforge/logs.
// Falls back to a no-op logger if the file cannot be opened.
func ForRepo(repoPath string) *DebugLogger {
	l, err := New(filepath.Join(repoPath, ".issueforge", "logs", "debug.log"))
	if err != nil {
		return &DebugLogger{}
	}
	return l
}

// Nop returns a logger that discards everything.
func Nop() *DebugLogger {
	return &DebugLogger{}
}

// Log writes one formatted line.
func (l *DebugLogger) Log(format string, args ...interface{}) {
	if l == nil || l.file == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintf(l.file, "[%s] %s\n", time.Now().Format("15:04:05.000"), fmt.Sprintf(format, args...))
	l.file.Sync()
}

// Close closes the underlying file. Safe on nil and no-op loggers.
func (l *DebugLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Func adapts a Logger into a printf-style hook, for packages such as graph
// that accept a debug callback. A nil logger yields nil.
func Func(l Logger) func(format string, args ...interface{}) {
	if l == nil {
		return nil
	}
	return l.Log
}
