// Package logger provides buffered per-handler debug log files, rotated
// daily. Files land under LOG_DIR (default ./logs) and are pruned after a
// week. slog remains the primary log surface; these files only exist for
// request-level debugging when DEBUG is on.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	maxBufferLines  = 100
	flushInterval   = 1 * time.Second
	maxLogAge       = 7 * 24 * time.Hour
	cleanupInterval = 24 * time.Hour
)

// HandlerLogger buffers log lines for one handler and flushes them to a
// dated file.
type HandlerLogger struct {
	name   string
	mu     sync.Mutex
	buffer []string
	file   *os.File
	date   string
	ticker *time.Ticker
	done   chan struct{}
}

var (
	loggers   = make(map[string]*HandlerLogger)
	loggersMu sync.Mutex
	cleanOnce sync.Once
)

var nameRe = regexp.MustCompile(`[^a-z0-9]+`)

// Dir returns the log directory, creating it on first use.
func Dir() string {
	dir := os.Getenv("LOG_DIR")
	if dir == "" {
		dir = "logs"
	}
	os.MkdirAll(dir, 0700)
	return dir
}

func sanitizeName(name string) string {
	return nameRe.ReplaceAllString(strings.ToLower(name), "-")
}

// For returns (or creates) the logger for the given handler name.
func For(name string) *HandlerLogger {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	safeName := sanitizeName(name)
	if l, ok := loggers[safeName]; ok {
		return l
	}

	l := &HandlerLogger{
		name: safeName,
		done: make(chan struct{}),
	}
	l.ticker = time.NewTicker(flushInterval)
	go l.flushLoop()

	loggers[safeName] = l

	cleanOnce.Do(func() {
		go cleanupLoop()
	})

	return l
}

// Log appends a formatted line to the handler's buffer.
func (l *HandlerLogger) Log(format string, args ...any) {
	line := fmt.Sprintf("%s %s",
		time.Now().Format("2006-01-02 15:04:05"),
		fmt.Sprintf(format, args...),
	)

	l.mu.Lock()
	l.buffer = append(l.buffer, line)
	if len(l.buffer) >= maxBufferLines {
		l.flushLocked()
	}
	l.mu.Unlock()
}

func (l *HandlerLogger) flushLoop() {
	for {
		select {
		case <-l.ticker.C:
			l.mu.Lock()
			l.flushLocked()
			l.mu.Unlock()
		case <-l.done:
			return
		}
	}
}

func (l *HandlerLogger) flushLocked() {
	if len(l.buffer) == 0 {
		return
	}

	today := time.Now().Format("2006-01-02")

	if l.date != today || l.file == nil {
		if l.file != nil {
			l.file.Close()
		}
		path := filepath.Join(Dir(), fmt.Sprintf("%s-%s.log", l.name, today))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			slog.Error("failed to open log file", "path", path, "error", err)
			l.buffer = nil
			return
		}
		l.file = f
		l.date = today
	}

	for _, line := range l.buffer {
		fmt.Fprintln(l.file, line)
	}
	l.buffer = nil
}

// Close flushes the remaining buffer and closes the file.
func (l *HandlerLogger) Close() {
	l.ticker.Stop()
	close(l.done)
	l.mu.Lock()
	l.flushLocked()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	l.mu.Unlock()
}

// CloseAll flushes and closes every logger. Call on process exit.
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		l.Close()
	}
}

func cleanupLoop() {
	for {
		cleanOldLogs()
		time.Sleep(cleanupInterval)
	}
}

func cleanOldLogs() {
	entries, err := os.ReadDir(Dir())
	if err != nil {
		return
	}

	cutoff := time.Now().Add(-maxLogAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(Dir(), entry.Name())
			os.Remove(path)
			slog.Debug("removed old log file", "path", path)
		}
	}
}
