package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/adcondev/ticket-bridge/internal/bridge"
	"github.com/adcondev/ticket-bridge/internal/server"
	"github.com/adcondev/ticket-bridge/internal/storage"
)

// mockSlowNotifier simulates a slow network connection
type mockSlowNotifier struct {
	delay time.Duration
}

func (m *mockSlowNotifier) NotifyClient(_ *websocket.Conn, _ server.Response) error {
	time.Sleep(m.delay)
	return nil
}

// recordingNotifier collects responses
type recordingNotifier struct {
	mu        sync.Mutex
	responses []server.Response
}

func (r *recordingNotifier) NotifyClient(_ *websocket.Conn, response server.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, response)
	return nil
}

func (r *recordingNotifier) wait(t *testing.T, n int) []server.Response {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		r.mu.Lock()
		if len(r.responses) >= n {
			out := append([]server.Response(nil), r.responses...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %d notifications", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type fakePrinter struct {
	mu        sync.Mutex
	selected  string
	printed   []string
	testOK    bool
	ticketErr error
	panicOn   string
}

func (f *fakePrinter) ResolvePrinter(_ context.Context, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	return f.selected, nil
}

func (f *fakePrinter) TestPrint(_ context.Context, name string) (bridge.TestPrintResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOn == name {
		panic("driver exploded")
	}
	f.printed = append(f.printed, "test:"+name)
	if !f.testOK {
		return bridge.TestPrintResult{OK: false, PrinterName: name, Error: "Printer not found"}, nil
	}
	return bridge.TestPrintResult{OK: true, PrinterName: name}, nil
}

func (f *fakePrinter) PrintTicketTo(_ context.Context, name string, _ bridge.TicketPayload) (bridge.PrintResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.printed = append(f.printed, "ticket:"+name)
	if f.ticketErr != nil {
		return bridge.PrintResult{OK: false, ExitCode: 1, Error: "Print command failed"}, f.ticketErr
	}
	return bridge.PrintResult{OK: true, PrinterName: bridge.StringPtr(name)}, nil
}

type memRecorder struct {
	mu      sync.Mutex
	records []storage.PrintRecord
}

func (m *memRecorder) RecordPrint(_ context.Context, rec storage.PrintRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func TestWorkerNonBlockingNotification(t *testing.T) {
	jobCount := 5
	notifier := &mockSlowNotifier{delay: 200 * time.Millisecond}
	jobQueue := make(chan *server.PrintJob, jobCount)

	w := NewWorker(jobQueue, notifier, &fakePrinter{testOK: true}, nil, Config{})
	w.Start()
	defer w.Stop()

	// Dummy connection (we need a non-nil pointer)
	dummyConn := &websocket.Conn{}

	for j := 0; j < jobCount; j++ {
		jobQueue <- &server.PrintJob{
			ID:         "test-job",
			Kind:       server.JobTestPrint,
			ClientConn: dummyConn,
			ReceivedAt: time.Now(),
		}
	}

	start := time.Now()
	deadline := time.Now().Add(5 * time.Second)
	for {
		stats := w.Stats()
		if stats.JobsProcessed+stats.JobsFailed >= int64(jobCount) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for jobs to process. Processed: %d, Failed: %d", stats.JobsProcessed, stats.JobsFailed)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Blocking notification would take 5 * 200ms
	if duration := time.Since(start); duration > 500*time.Millisecond {
		t.Errorf("Expected duration < 500ms (async), got %v", duration)
	}
}

func TestWorkerProcessesJobs(t *testing.T) {
	printer := &fakePrinter{selected: "EPSON", testOK: true}
	notifier := &recordingNotifier{}
	recorder := &memRecorder{}
	jobQueue := make(chan *server.PrintJob, 3)

	w := NewWorker(jobQueue, notifier, printer, recorder, Config{})
	w.Start()
	defer w.Stop()

	conn := &websocket.Conn{}
	jobQueue <- &server.PrintJob{ID: "t1", Kind: server.JobTestPrint, ClientConn: conn}
	jobQueue <- &server.PrintJob{
		ID: "k1", Kind: server.JobTicket, ClientConn: conn, PrinterName: "POS-58",
		Payload: bridge.NewTicketPayload("Recibo", []string{"a"}, 58),
	}
	jobQueue <- &server.PrintJob{ID: "k2", Kind: server.JobTicket, ClientConn: conn}

	responses := notifier.wait(t, 3)
	byID := map[string]server.Response{}
	for _, r := range responses {
		byID[r.ID] = r
	}

	if r := byID["t1"]; r.Status != "success" || r.Tipo != server.TypeResult {
		t.Errorf("t1 = %+v", r)
	}
	if r := byID["k1"]; r.Status != "success" {
		t.Errorf("k1 = %+v", r)
	}
	if r := byID["k2"]; r.Status != "error" || r.Mensaje != "VALIDATION: Ticket must contain at least one line" {
		t.Errorf("k2 = %+v", r)
	}

	printer.mu.Lock()
	printed := append([]string(nil), printer.printed...)
	printer.mu.Unlock()
	// An unnamed test print goes to the OS default, not the saved selection.
	if len(printed) != 2 || printed[0] != "test:" || printed[1] != "ticket:POS-58" {
		t.Errorf("printed = %v", printed)
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.records) != 3 {
		t.Fatalf("recorded %d jobs; want 3", len(recorder.records))
	}
	if rec := recorder.records[1]; rec.JobID != "k1" || !rec.OK || rec.PrinterName != "POS-58" || rec.Kind != "ticket" {
		t.Errorf("record = %+v", rec)
	}
	if rec := recorder.records[2]; rec.OK || rec.Error == "" {
		t.Errorf("failed record = %+v", rec)
	}
}

func TestWorkerReportsFailures(t *testing.T) {
	tests := []struct {
		name    string
		printer *fakePrinter
		job     *server.PrintJob
		want    string
	}{
		{
			name:    "test print not ok",
			printer: &fakePrinter{testOK: false},
			job:     &server.PrintJob{ID: "a", Kind: server.JobTestPrint, PrinterName: "X"},
			want:    "PRINTER: Printer not found - check that it is installed",
		},
		{
			name:    "ticket command error",
			printer: &fakePrinter{ticketErr: errors.New("print command failed: exit code 1")},
			job:     &server.PrintJob{ID: "b", Kind: server.JobTicket, Payload: bridge.TicketPayload{Lines: []string{"x"}}},
			want:    "PRINTER: Print command failed",
		},
		{
			name:    "panic",
			printer: &fakePrinter{panicOn: "BOOM"},
			job:     &server.PrintJob{ID: "c", Kind: server.JobTestPrint, PrinterName: "BOOM"},
			want:    "INTERNAL: Unexpected error while printing",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &recordingNotifier{}
			jobQueue := make(chan *server.PrintJob, 1)
			w := NewWorker(jobQueue, notifier, tt.printer, nil, Config{})
			w.Start()
			defer w.Stop()

			tt.job.ClientConn = &websocket.Conn{}
			jobQueue <- tt.job

			r := notifier.wait(t, 1)[0]
			if r.Status != "error" || r.Mensaje != tt.want {
				t.Errorf("response = %+v; want mensaje %q", r, tt.want)
			}
			if stats := w.Stats(); stats.JobsFailed != 1 {
				t.Errorf("JobsFailed = %d; want 1", stats.JobsFailed)
			}
		})
	}
}

func TestWorkerStartStopIdempotent(t *testing.T) {
	w := NewWorker(make(chan *server.PrintJob), nil, &fakePrinter{}, nil, Config{})
	w.Start()
	w.Start()
	if !w.Stats().IsRunning {
		t.Fatal("worker not running after Start")
	}
	w.Stop()
	w.Stop()
	if w.Stats().IsRunning {
		t.Error("worker still running after Stop")
	}
}
