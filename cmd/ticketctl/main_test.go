package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"

	"github.com/adcondev/ticket-bridge/internal/bridge"
	"github.com/adcondev/ticket-bridge/internal/hostbridge"
	"github.com/adcondev/ticket-bridge/internal/receipt"
	"github.com/adcondev/ticket-bridge/internal/server"
	"github.com/adcondev/ticket-bridge/internal/storage"
	"github.com/adcondev/ticket-bridge/internal/worker"
)

// TestAllRunnableCommandsHaveArgsValidator fails when a runnable command ships
// without an Args validator.
func TestAllRunnableCommandsHaveArgsValidator(t *testing.T) {
	root := newRootCmd(&app{})

	var missing []string
	var walk func(cmd *cobra.Command)
	walk = func(cmd *cobra.Command) {
		if cmd.Runnable() && cmd.Args == nil {
			missing = append(missing, cmd.CommandPath())
		}
		for _, child := range cmd.Commands() {
			walk(child)
		}
	}
	walk(root)

	if len(missing) > 0 {
		t.Errorf("runnable commands missing Args validator:\n  %s", strings.Join(missing, "\n  "))
	}
}

type fakePrinters struct {
	mu      sync.Mutex
	printed []string
	lines   []string
}

func (f *fakePrinters) Platform() string { return "cups" }

func (f *fakePrinters) ListPrinters(_ context.Context) ([]string, error) {
	return []string{"EPSON", "POS-58"}, nil
}

func (f *fakePrinters) DefaultPrinter(_ context.Context) (string, error) { return "EPSON", nil }

func (f *fakePrinters) TestPrint(_ context.Context, name string) (bridge.PrintResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.printed = append(f.printed, "test:"+name)
	return bridge.PrintResult{OK: true, PrinterName: bridge.StringPtr(name)}, nil
}

func (f *fakePrinters) PrintTicket(_ context.Context, name string, payload bridge.TicketPayload) (bridge.PrintResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.printed = append(f.printed, "ticket:"+name)
	f.lines = payload.Lines
	return bridge.PrintResult{OK: true, PrinterName: bridge.StringPtr(name)}, nil
}

func (f *fakePrinters) snapshot() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.printed...), append([]string(nil), f.lines...)
}

func startService(t *testing.T) (string, *fakePrinters) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "bridge.db"))
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	printers := &fakePrinters{}
	host := hostbridge.New(printers, db, hostbridge.Config{DefaultPaperWidth: 80})

	srv := server.NewServer(server.Config{QueueSize: 10}, host, nil)
	w := worker.NewWorker(srv.JobQueue(), srv, host, db, worker.Config{})
	w.Start()

	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(func() {
		srv.Shutdown()
		ts.Close()
		w.Stop()
		_ = db.Close()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http"), printers
}

func runCLI(t *testing.T, url, stdin string, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"--url", url, "--timeout", "10s"}, args...), strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func TestCommands(t *testing.T) {
	url, printers := startService(t)

	tests := []struct {
		name     string
		args     []string
		stdin    string
		wantCode int
		wantOut  string
		wantErr  string
	}{
		{"list printers", []string{"printers"}, "", 0, "* EPSON (default)", ""},
		{"unknown printer", []string{"select", "NOPE"}, "", 1, "", "available: EPSON, POS-58"},
		{"select printer", []string{"select", "POS-58"}, "", 0, "POS-58", ""},
		{"invalid paper width", []string{"paper-width", "0"}, "", 1, "", "invalid paper width"},
		{"paper width", []string{"paper-width", "58"}, "", 0, "58 mm (32 columns)", ""},
		{"settings", []string{"settings"}, "", 0, "Printer:     POS-58", ""},
		{"test print", []string{"test"}, "", 0, "POS-58", ""},
		{"missing argument", []string{"select"}, "", 1, "", "accepts 1 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut, code := runCLI(t, url, tt.stdin, tt.args...)
			if code != tt.wantCode {
				t.Fatalf("exit code = %d; want %d\nstdout: %s\nstderr: %s", code, tt.wantCode, out, errOut)
			}
			if !strings.Contains(out, tt.wantOut) {
				t.Errorf("stdout = %q; want it to contain %q", out, tt.wantOut)
			}
			if !strings.Contains(errOut, tt.wantErr) {
				t.Errorf("stderr = %q; want it to contain %q", errOut, tt.wantErr)
			}
		})
	}

	printed, _ := printers.snapshot()
	if len(printed) != 1 || printed[0] != "test:POS-58" {
		t.Errorf("printed = %v", printed)
	}
}

func TestReceiptCommand(t *testing.T) {
	url, printers := startService(t)

	out, errOut, code := runCLI(t, url, "n\n", "receipt", "--school", "Colegio Azul", "--amount", "1250.5")
	if code != 0 || !strings.Contains(out, "Cancelled") {
		t.Fatalf("declined receipt: code=%d out=%q err=%q", code, out, errOut)
	}
	if printed, _ := printers.snapshot(); len(printed) != 0 {
		t.Fatalf("declined receipt printed %v", printed)
	}

	out, errOut, code = runCLI(t, url, "", "receipt", "--school", "Colegio Azul", "--amount", "1250.5", "--yes")
	if code != 0 || !strings.Contains(out, "Receipt sent") {
		t.Fatalf("receipt: code=%d out=%q err=%q", code, out, errOut)
	}
	printed, lines := printers.snapshot()
	if len(printed) != 1 || printed[0] != "ticket:EPSON" {
		t.Errorf("printed = %v", printed)
	}
	if !strings.Contains(strings.Join(lines, "\n"), "Colegio Azul") {
		t.Errorf("ticket lines = %q", lines)
	}
}

func TestReceiptInputFromFile(t *testing.T) {
	dir := t.TempDir()
	from := filepath.Join(dir, "receipt.json")
	if err := os.WriteFile(from, []byte(`{"school":{"name":"Colegio Azul"},"payment":{"folio":"A-1","amount":100}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	labels := filepath.Join(dir, "labels.toml")
	if err := os.WriteFile(labels, []byte(`"receipt.title" = "RECIBO"`+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cmd := newReceiptCmd(&app{})
	if err := cmd.ParseFlags([]string{"--amount", "250"}); err != nil {
		t.Fatal(err)
	}
	in, err := mergeReceiptInput(cmd, from, receiptInput{Payment: receipt.Payment{Amount: 250}})
	if err != nil {
		t.Fatalf("mergeReceiptInput() error = %v", err)
	}
	if in.School.Name != "Colegio Azul" || in.Payment.Folio != "A-1" || in.Payment.Amount != 250 {
		t.Errorf("merged = %+v", in)
	}

	got, err := loadLabels(labels)
	if err != nil {
		t.Fatalf("loadLabels() error = %v", err)
	}
	if got.Label("receipt.title") != "RECIBO" {
		t.Errorf("title label = %q", got.Label("receipt.title"))
	}
}
