package progress

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrorEntry is one logged per-item failure.
type ErrorEntry struct {
	File      string
	Stage     string
	Error     string
	Timestamp time.Time
}

// ErrorLogger appends per-item failures to a plain-text log, one
// "timestamp | file | stage | reason" line per failure.
type ErrorLogger struct {
	mu      sync.Mutex
	logFile string
	errors  []ErrorEntry
	file    *os.File
	now     func() time.Time
}

// NewErrorLogger creates a new error logger. An empty logFile keeps entries
// in memory only.
func NewErrorLogger(logFile string) (*ErrorLogger, error) {
	logger := &ErrorLogger{
		logFile: logFile,
		errors:  []ErrorEntry{},
		now:     time.Now,
	}

	if logFile != "" {
		dir := filepath.Dir(logFile)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("could not create log directory: %w", err)
		}

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("could not open log file: %w", err)
		}
		logger.file = file
	}

	return logger, nil
}

// Log records a failure of filePath at stage.
func (l *ErrorLogger) Log(filePath, stage, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := ErrorEntry{
		File:      filePath,
		Stage:     stage,
		Error:     reason,
		Timestamp: l.now(),
	}
	l.errors = append(l.errors, entry)

	if l.file != nil {
		line := fmt.Sprintf("%s | %s | %s | %s\n",
			entry.Timestamp.Format(time.RFC3339),
			filePath,
			stage,
			strings.ReplaceAll(reason, "\n", " "))
		l.file.WriteString(line)
	}
}

// Entries returns a copy of the logged failures.
func (l *ErrorLogger) Entries() []ErrorEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ErrorEntry, len(l.errors))
	copy(out, l.errors)
	return out
}

// Path returns the log file path, "" when logging in memory.
func (l *ErrorLogger) Path() string {
	return l.logFile
}

// Summary returns a summary of logged errors.
func (l *ErrorLogger) Summary() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.errors) == 0 {
		return "No errors"
	}
	if l.logFile == "" {
		return fmt.Sprintf("%d errors", len(l.errors))
	}
	return fmt.Sprintf("%d errors logged to %s", len(l.errors), l.logFile)
}

// ErrorCount returns the number of logged errors.
func (l *ErrorLogger) ErrorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

// Close closes the log file.
func (l *ErrorLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
