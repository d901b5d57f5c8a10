// Package executor talks to the operating system print facility: it lists printers through an
// external command, stages a ticket file in a private temporary directory, sends it to the
// printer and removes the directory on every exit path.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/adcondev/ticket-bridge/internal/bridge"
	"github.com/adcondev/ticket-bridge/internal/metrics"
)

// Result messages reported in bridge.PrintResult.Error.
const (
	MsgListFailed      = "Failed to list printers"
	MsgPrinterNotFound = "Printer not found"
	MsgPrintFailed     = "Print command failed"
)

// Sentinel errors wrapped by every failed operation.
var (
	ErrListFailed      = errors.New("failed to list printers")
	ErrPrinterNotFound = errors.New("printer not found")
	ErrPrintFailed     = errors.New("print command failed")
)

const (
	defaultListTimeout  = 15 * time.Second
	defaultPrintTimeout = 60 * time.Second
	defaultFeedLines    = 6
	defaultSource       = "ticket-bridge"
	ticketFileName      = "ticket.txt"
	testHeader          = "*** TEST PRINT ***"
)

// Config configures an Executor. Zero values take defaults.
type Config struct {
	Commands     CommandSet
	Runner       Runner
	ListTimeout  time.Duration
	PrintTimeout time.Duration
	FeedLines    int
	TempRoot     string // parent of staged ticket directories; "" uses os.TempDir
	Source       string // tag printed on test tickets
	Now          func() time.Time
	Metrics      *metrics.Metrics
}

// Executor runs list and print commands. One print per printer is in flight at a time.
type Executor struct {
	cfg Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an Executor.
func New(cfg Config) *Executor {
	if cfg.Commands.List == nil || cfg.Commands.Print == nil {
		cfg.Commands = DefaultCommands()
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner{}
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = defaultListTimeout
	}
	if cfg.PrintTimeout <= 0 {
		cfg.PrintTimeout = defaultPrintTimeout
	}
	if cfg.FeedLines <= 0 {
		cfg.FeedLines = defaultFeedLines
	}
	if cfg.Source == "" {
		cfg.Source = defaultSource
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Executor{cfg: cfg, locks: make(map[string]*sync.Mutex)}
}

// Platform returns the command set platform name.
func (e *Executor) Platform() string {
	return e.cfg.Commands.Platform
}

// ListPrinters returns the printer names reported by the OS.
func (e *Executor) ListPrinters(ctx context.Context) ([]string, error) {
	names, out, err := e.list(ctx)
	if err != nil {
		return nil, err
	}
	if out.ExitCode != 0 {
		return nil, fmt.Errorf("%w: exit code %d: %s", ErrListFailed, out.ExitCode, strings.TrimSpace(out.Stderr))
	}
	return names, nil
}

// DefaultPrinter returns the OS default printer, or "" when none is configured.
func (e *Executor) DefaultPrinter(ctx context.Context) (string, error) {
	if e.cfg.Commands.Default == nil || e.cfg.Commands.ParseDefault == nil {
		return "", nil
	}
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.ListTimeout)
	defer cancel()

	out, err := e.cfg.Runner.Run(runCtx, e.cfg.Commands.Default())
	if err != nil {
		return "", fmt.Errorf("error reading default printer: %w", err)
	}
	if out.ExitCode != 0 {
		return "", nil
	}
	return e.cfg.Commands.ParseDefault(out.Stdout), nil
}

// TestPrint prints the fixed test ticket on printerName ("" for the system default).
func (e *Executor) TestPrint(ctx context.Context, printerName string) (bridge.PrintResult, error) {
	return e.print(ctx, "test", printerName, func(name string) string {
		return e.testTicket(name)
	})
}

// PrintTicket prints payload on printerName ("" for the system default).
func (e *Executor) PrintTicket(ctx context.Context, printerName string, payload bridge.TicketPayload) (bridge.PrintResult, error) {
	return e.print(ctx, "ticket", printerName, func(string) string {
		return e.ticketContent(payload)
	})
}

func (e *Executor) list(ctx context.Context) ([]string, Output, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.ListTimeout)
	defer cancel()

	start := time.Now()
	out, err := e.cfg.Runner.Run(runCtx, e.cfg.Commands.List())
	e.cfg.Metrics.ObserveCommand("list", start)
	if err != nil {
		return nil, out, fmt.Errorf("%w: %w", ErrListFailed, err)
	}
	if out.ExitCode != 0 {
		return nil, out, nil
	}
	return ParseNames(out.Stdout), out, nil
}

// print runs list, validate, stage, print and cleanup in order.
func (e *Executor) print(ctx context.Context, operation, printerName string, render func(name string) string) (bridge.PrintResult, error) {
	printerName = strings.TrimSpace(printerName)
	result := bridge.PrintResult{PrinterName: bridge.StringPtr(printerName)}

	names, out, err := e.list(ctx)
	result.ExitCode, result.Stdout, result.Stderr = out.ExitCode, out.Stdout, out.Stderr
	if err != nil {
		log.Printf("[EXEC] ❌ Listing printers failed: %v", err)
		result.Error = MsgListFailed
		e.cfg.Metrics.IncrementAttempt(operation, "error")
		return result, err
	}
	if out.ExitCode != 0 {
		log.Printf("[EXEC] ❌ List command exited with %d: %s", out.ExitCode, strings.TrimSpace(out.Stderr))
		result.Error = MsgListFailed
		e.cfg.Metrics.IncrementAttempt(operation, "failed")
		return result, fmt.Errorf("%w: exit code %d", ErrListFailed, out.ExitCode)
	}

	if printerName != "" && !slices.Contains(names, printerName) {
		log.Printf("[EXEC] ❌ Printer %q not among %d installed printer(s)", printerName, len(names))
		result.Error = MsgPrinterNotFound
		result.Details = &bridge.ResultDetails{Printers: names}
		e.cfg.Metrics.IncrementAttempt(operation, "failed")
		return result, fmt.Errorf("%w: %s", ErrPrinterNotFound, printerName)
	}

	lock := e.printerLock(printerName)
	lock.Lock()
	defer lock.Unlock()

	dir, err := os.MkdirTemp(e.cfg.TempRoot, "ticket-*")
	if err != nil {
		result.Error = MsgPrintFailed
		e.cfg.Metrics.IncrementAttempt(operation, "error")
		return result, fmt.Errorf("%w: staging ticket: %w", ErrPrintFailed, err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Printf("[EXEC] ⚠️ Could not remove %s: %v", dir, rmErr)
		}
	}()

	path := filepath.Join(dir, ticketFileName)
	if err := os.WriteFile(path, []byte(render(printerName)), 0o600); err != nil {
		result.Error = MsgPrintFailed
		e.cfg.Metrics.IncrementAttempt(operation, "error")
		return result, fmt.Errorf("%w: writing ticket: %w", ErrPrintFailed, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.PrintTimeout)
	defer cancel()

	start := time.Now()
	out, err = e.cfg.Runner.Run(runCtx, e.cfg.Commands.Print(path, printerName))
	e.cfg.Metrics.ObserveCommand("print", start)
	result.ExitCode, result.Stdout, result.Stderr = out.ExitCode, out.Stdout, out.Stderr

	if stderr := strings.TrimSpace(out.Stderr); stderr != "" {
		log.Printf("[EXEC] Print stderr: %s", stderr)
	}
	if err != nil {
		log.Printf("[EXEC] ❌ Print command error: %v", err)
		result.Error = MsgPrintFailed
		e.cfg.Metrics.IncrementAttempt(operation, "error")
		return result, fmt.Errorf("%w: %w", ErrPrintFailed, err)
	}
	if out.ExitCode != 0 {
		log.Printf("[EXEC] ❌ Print command exited with %d", out.ExitCode)
		result.Error = MsgPrintFailed
		e.cfg.Metrics.IncrementAttempt(operation, "failed")
		return result, fmt.Errorf("%w: exit code %d", ErrPrintFailed, out.ExitCode)
	}

	result.OK = true
	e.cfg.Metrics.IncrementAttempt(operation, "ok")
	log.Printf("[EXEC] ✅ Sent %s to %s", operation, displayName(printerName))
	return result, nil
}

func (e *Executor) printerLock(name string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[name]
	if !ok {
		l = &sync.Mutex{}
		e.locks[name] = l
	}
	return l
}

// testTicket renders the fixed test ticket. It always uses CRLF.
func (e *Executor) testTicket(printerName string) string {
	lines := []string{
		testHeader,
		"Source: " + e.cfg.Source,
		"Printer: " + displayName(printerName),
		"Time: " + e.cfg.Now().Format(time.RFC3339),
	}
	return joinWithFeed(lines, "\r\n", e.cfg.FeedLines)
}

func (e *Executor) ticketContent(payload bridge.TicketPayload) string {
	ending := e.cfg.Commands.LineEnding
	if ending == "" {
		ending = "\r\n"
	}
	return joinWithFeed(payload.Lines, ending, e.cfg.FeedLines)
}

func joinWithFeed(lines []string, ending string, feed int) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString(ending)
	}
	for i := 0; i < feed; i++ {
		b.WriteString(ending)
	}
	return b.String()
}

func displayName(printerName string) string {
	if printerName == "" {
		return "(default)"
	}
	return printerName
}
