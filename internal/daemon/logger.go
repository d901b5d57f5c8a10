// Package daemon contiene la lógica del servicio: arranque, rutas HTTP y bitácora.
package daemon

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Log configuration
const (
	maxLogSize     = 5 * 1024 * 1024 // 5MB
	rotateKeepLine = 1000
	flushKeepLine  = 50
)

// Logger state
var (
	logConfig    = struct{ Verbose bool }{Verbose: true}
	logConfigMux sync.RWMutex
	logFilePath  string
	logFile      *os.File
	logConsole   io.Writer
	logFileMu    sync.Mutex // Protege operaciones de archivo (write, flush, rotate)
)

// Chatty per-request lines, dropped when verbose=false
var nonCriticalPrefixes = []string{
	"[WS] ➕ Client connected",
	"[WS] ➖ Client disconnected",
	"[QUEUE] 📥 Job queued",
	"[WORKER] 🔄 Processing job",
	"[WORKER] 🖨️ Job",
}

// FilteredLogger implements io.Writer with filtering
type FilteredLogger struct{}

// Write filters log messages based on verbosity
func (l *FilteredLogger) Write(p []byte) (n int, err error) {
	if !GetVerbose() && isNonCritical(string(p)) {
		return len(p), nil
	}

	logFileMu.Lock()
	defer logFileMu.Unlock()

	if logConsole != nil {
		_, _ = logConsole.Write(p)
	}
	if logFile == nil {
		return 0, errors.New("log file not initialized")
	}
	return logFile.Write(p)
}

func isNonCritical(msg string) bool {
	for _, prefix := range nonCriticalPrefixes {
		if strings.Contains(msg, prefix) {
			return true
		}
	}
	return false
}

// InitLogger initializes the file logger with rotation. console, when set, also receives
// every line (interactive runs).
func InitLogger(path string, verbose bool, console io.Writer) error {
	logFileMu.Lock()
	defer logFileMu.Unlock()

	logFilePath = path
	logConsole = console

	logConfigMux.Lock()
	logConfig.Verbose = verbose
	logConfigMux.Unlock()

	if err := rotateLogIfNeeded(path); err != nil {
		fmt.Fprintf(os.Stderr, "[LOG] ⚠️ Log rotation failed: %v\n", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600) //nolint:gosec
	if err != nil {
		return err
	}
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f

	log.SetOutput(&FilteredLogger{})
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	return nil
}

// CloseLogger closes the log file and sends the standard logger back to stderr.
func CloseLogger() {
	logFileMu.Lock()
	defer logFileMu.Unlock()

	log.SetOutput(os.Stderr)
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// SetVerbose changes the verbosity level at runtime
func SetVerbose(v bool) {
	logConfigMux.Lock()
	logConfig.Verbose = v
	logConfigMux.Unlock()
	log.Printf("[LOG] Verbose logging: %v", v)
}

// GetVerbose returns current verbosity level
func GetVerbose() bool {
	logConfigMux.RLock()
	defer logConfigMux.RUnlock()
	return logConfig.Verbose
}

// GetLogFileSize returns current log file size
func GetLogFileSize() int64 {
	logFileMu.Lock()
	path := logFilePath
	logFileMu.Unlock()

	if path == "" {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// TailLog returns the last n lines of the log file.
func TailLog(n int) []string {
	logFileMu.Lock()
	defer logFileMu.Unlock()

	if logFilePath == "" {
		return []string{}
	}
	return readLastNLines(logFilePath, n)
}

// FlushLogFile keeps the last lines and clears the rest
func FlushLogFile() error {
	logFileMu.Lock()
	defer logFileMu.Unlock()

	if logFilePath == "" {
		return errors.New("log path not configured")
	}

	lines := readLastNLines(logFilePath, flushKeepLine)
	content := ""
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}

	// No Write() can happen while the file is swapped
	if logFile != nil {
		if err := logFile.Close(); err != nil {
			return err
		}
		logFile = nil
	}

	if err := os.WriteFile(logFilePath, []byte(content), 0600); err != nil {
		return err
	}

	f, err := os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600) //nolint:gosec
	if err != nil {
		return err
	}
	logFile = f
	_, _ = fmt.Fprintf(logFile, "[LOG] Log flushed, kept %d lines\n", len(lines))

	return nil
}

// rotateLogIfNeeded trims the log when it exceeds maxLogSize
func rotateLogIfNeeded(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if info.Size() < maxLogSize {
		return nil
	}

	lines := readLastNLines(path, rotateKeepLine)
	if len(lines) == 0 {
		return nil
	}

	content := strings.Join(lines, "\n") + "\n"
	return os.WriteFile(path, []byte(content), 0600)
}

// readLastNLines reads last N lines from file
func readLastNLines(path string, n int) []string {
	file, err := os.Open(path) //nolint:gosec
	if err != nil {
		return []string{}
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return []string{}
	}

	size := stat.Size()
	if size == 0 || n <= 0 {
		return []string{}
	}

	// Read last 64KB max
	bufSize := int64(64 * 1024)
	if size < bufSize {
		bufSize = size
	}

	buf := make([]byte, bufSize)
	if _, err := file.ReadAt(buf, size-bufSize); err != nil && !errors.Is(err, io.EOF) {
		return []string{}
	}

	allLines := strings.Split(string(buf), "\n")

	// Clean empty lines at end
	for len(allLines) > 0 && allLines[len(allLines)-1] == "" {
		allLines = allLines[:len(allLines)-1]
	}

	// If we started mid-line, discard first partial line
	if size > bufSize && len(allLines) > 0 {
		allLines = allLines[1:]
	}

	if len(allLines) <= n {
		return allLines
	}
	return allLines[len(allLines)-n:]
}
