package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/adcondev/ticket-bridge/internal/bridge"
	"github.com/adcondev/ticket-bridge/internal/printer"
)

type fakeHost struct {
	mu        sync.Mutex
	selected  *string
	width     float64
	capsCalls int
}

func (f *fakeHost) GetCapabilities(_ context.Context) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capsCalls++
	return bridge.Capabilities{Printing: true, Platform: "cups"}, nil
}

func (f *fakeHost) capabilityQueries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capsCalls
}

func (f *fakeHost) ListPrinters(_ context.Context) ([]any, error) {
	return []any{bridge.PrinterDescriptor{Name: "EPSON", IsDefault: true}, "POS-58"}, nil
}

func (f *fakeHost) GetPrinterSettings(_ context.Context) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return bridge.PrinterSettings{SelectedPrinterName: f.selected, PaperWidthMm: f.width}, nil
}

func (f *fakeHost) SetSelectedPrinter(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = bridge.StringPtr(name)
	return nil
}

func (f *fakeHost) GetPaperWidthMm(_ context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.width, nil
}

func (f *fakeHost) SetPaperWidthMm(_ context.Context, mm float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.width = mm
	return nil
}

func (f *fakeHost) TestPrint(_ context.Context, name string) (bridge.TestPrintResult, error) {
	return bridge.TestPrintResult{OK: true, PrinterName: name}, nil
}

func (f *fakeHost) PrintTicket(_ context.Context, _ bridge.TicketPayload) (any, error) {
	return true, nil
}

type listOnlyHost struct{}

func (listOnlyHost) ListPrinters(_ context.Context) ([]any, error) { return nil, nil }

type mockSummary struct{}

func (mockSummary) GetSummary(_ context.Context) printer.Summary {
	return printer.Summary{Status: printer.StatusOK, DetectedCount: 2, DefaultName: "EPSON"}
}

func startServer(t *testing.T, cfg Config, host any) (*Server, string) {
	t.Helper()
	srv := NewServer(cfg, host, mockSummary{})
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(func() {
		srv.Shutdown()
		ts.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, ctx context.Context, u string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.Dial(ctx, u, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	welcome := read(t, ctx, conn)
	if welcome.Tipo != TypeInfo || welcome.Status != "connected" {
		t.Fatalf("welcome = %+v", welcome)
	}
	return conn
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, tipo, id string, datos any) {
	t.Helper()
	msg := map[string]any{"tipo": tipo, "id": id}
	if datos != nil {
		msg["datos"] = datos
	}
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		t.Fatalf("Write(%s) error = %v", tipo, err)
	}
}

func read(t *testing.T, ctx context.Context, conn *websocket.Conn) Response {
	t.Helper()
	var resp Response
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	return resp
}

func roundTrip(t *testing.T, ctx context.Context, conn *websocket.Conn, tipo, id string, datos any) Response {
	t.Helper()
	send(t, ctx, conn, tipo, id, datos)
	return read(t, ctx, conn)
}

func TestOriginPatterns(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		want    []string
	}{
		{"nil is same origin", nil, nil},
		{"wildcard", []string{"*"}, []string{"*"}},
		{"schemes stripped", []string{"http://localhost:*", "https://pos.example.com"}, []string{"localhost:*", "pos.example.com"}},
		{"file origins have no host", []string{"file://*"}, []string{""}},
		{"blank entries skipped", []string{" ", "a.com"}, []string{"a.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := originPatterns(tt.allowed); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("originPatterns(%v) = %#v; want %#v", tt.allowed, got, tt.want)
			}
		})
	}
}

func TestWebSocketOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		wantOK  bool
	}{
		{"allowed origin", []string{"http://good.com"}, "http://good.com", true},
		{"disallowed origin", []string{"http://good.com"}, "http://evil.com", false},
		{"same origin when unset", nil, "", true},
		{"cross origin when unset", nil, "http://external-site.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, u := startServer(t, Config{QueueSize: 10, AllowedOrigins: tt.allowed}, &fakeHost{})
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			var opts *websocket.DialOptions
			if tt.origin != "" {
				opts = &websocket.DialOptions{HTTPHeader: http.Header{"Origin": []string{tt.origin}}}
			}
			conn, resp, err := websocket.Dial(ctx, u, opts)
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
			if tt.wantOK && err != nil {
				t.Fatalf("Dial() from %q failed: %v", tt.origin, err)
			}
			if !tt.wantOK && err == nil {
				t.Fatalf("Dial() from %q succeeded; want rejection", tt.origin)
			}
			if conn != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "")
			}
		})
	}
}

func TestQueryMessages(t *testing.T) {
	host := &fakeHost{width: 80}
	_, u := startServer(t, Config{QueueSize: 10}, host)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, u)

	if resp := roundTrip(t, ctx, conn, TypePing, "p1", nil); resp.Tipo != TypePong || resp.ID != "p1" {
		t.Errorf("ping = %+v", resp)
	}

	resp := roundTrip(t, ctx, conn, TypePrinters, "l1", nil)
	if resp.Tipo != TypePrinters || resp.Status != "ok" {
		t.Fatalf("printers = %+v", resp)
	}
	raw, _ := json.Marshal(resp.Datos)
	var listed PrintersReply
	if err := json.Unmarshal(raw, &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed.Printers) != 2 || listed.Summary == nil || listed.Summary.DetectedCount != 2 {
		t.Errorf("printers datos = %s", raw)
	}

	if resp := roundTrip(t, ctx, conn, TypeGetPaperWidth, "w1", nil); resp.Status != "ok" {
		t.Errorf("get_paper_width = %+v", resp)
	} else if datos, _ := resp.Datos.(map[string]any); datos["paperWidthMm"] != 80.0 {
		t.Errorf("get_paper_width datos = %v", resp.Datos)
	}

	before := host.capabilityQueries()
	if resp := roundTrip(t, ctx, conn, TypeCapabilities, "c1", nil); resp.Status != "ok" || resp.Mensaje != "Printing is available" {
		t.Errorf("capabilities = %+v", resp)
	}
	if n := host.capabilityQueries() - before; n != 1 {
		t.Errorf("capabilities request queried the host %d times; want 1", n)
	}

	if resp := roundTrip(t, ctx, conn, "bogus", "b1", nil); resp.Tipo != TypeError || resp.ID != "b1" {
		t.Errorf("unknown type = %+v", resp)
	}

	if resp := roundTrip(t, ctx, conn, TypeStatus, "s1", nil); resp.Capacity != 10 || resp.Mensaje != "Queue: 0/10" {
		t.Errorf("status = %+v", resp)
	}
}

func TestSettingsChangesAreBroadcast(t *testing.T) {
	host := &fakeHost{width: 80}
	_, u := startServer(t, Config{QueueSize: 10}, host)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a := dial(t, ctx, u)
	b := dial(t, ctx, u)

	resp := roundTrip(t, ctx, a, TypeSelectPrinter, "sel", PrinterRequest{PrinterName: "POS-58"})
	if resp.Tipo != TypeSelectPrinter || resp.Status != "ok" {
		t.Fatalf("select_printer = %+v", resp)
	}

	notice := read(t, ctx, b)
	if notice.Tipo != TypeSettingsChanged {
		t.Fatalf("other client got %+v; want settings_changed", notice)
	}
	if datos, _ := notice.Datos.(map[string]any); datos["selectedPrinterName"] != "POS-58" {
		t.Errorf("settings_changed datos = %v", notice.Datos)
	}

	if resp := roundTrip(t, ctx, a, TypeSetPaperWidth, "bad", PaperWidthRequest{PaperWidthMm: -1}); resp.Tipo != TypeError {
		t.Errorf("negative width = %+v", resp)
	}
	if resp := roundTrip(t, ctx, a, TypeSetPaperWidth, "pw", PaperWidthRequest{PaperWidthMm: 58}); resp.Status != "ok" {
		t.Errorf("set_paper_width = %+v", resp)
	}
	if mm, _ := host.GetPaperWidthMm(ctx); mm != 58 {
		t.Errorf("host width = %v; want 58", mm)
	}
}

func TestPrintJobsAreQueued(t *testing.T) {
	srv, u := startServer(t, Config{QueueSize: 1}, &fakeHost{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, u)

	if resp := roundTrip(t, ctx, conn, TypeTicket, "empty", map[string]any{"title": "T"}); resp.Tipo != TypeError {
		t.Errorf("ticket without lines = %+v", resp)
	}

	ticket := map[string]any{"title": "Recibo", "lines": []string{"a", "b"}, "printerName": " EPSON "}
	resp := roundTrip(t, ctx, conn, TypeTicket, "job-1", ticket)
	if resp.Tipo != TypeAck || resp.Status != "queued" || resp.Current != 1 || resp.Capacity != 1 {
		t.Fatalf("ticket ack = %+v", resp)
	}

	if resp := roundTrip(t, ctx, conn, TypeTestPrint, "job-2", nil); resp.Tipo != TypeError || !strings.Contains(resp.Mensaje, "Queue full") {
		t.Errorf("second job = %+v; want queue full", resp)
	}

	job := <-srv.JobQueue()
	if job.ID != "job-1" || job.Kind != JobTicket || job.PrinterName != "EPSON" {
		t.Errorf("job = %+v", job)
	}
	if !reflect.DeepEqual(job.Payload.Lines, []string{"a", "b"}) || job.ClientConn == nil {
		t.Errorf("job payload = %+v", job.Payload)
	}
}

func TestJobsAreRateLimited(t *testing.T) {
	_, u := startServer(t, Config{QueueSize: 10, JobsPerMinute: 1}, &fakeHost{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, u)

	if resp := roundTrip(t, ctx, conn, TypeTestPrint, "", nil); resp.Tipo != TypeAck || resp.ID == "" {
		t.Fatalf("first test_print = %+v", resp)
	}
	if resp := roundTrip(t, ctx, conn, TypeTestPrint, "t2", nil); resp.Tipo != TypeError {
		t.Errorf("second test_print = %+v; want rate limit error", resp)
	}
}

func TestUnsupportedOperations(t *testing.T) {
	_, u := startServer(t, Config{QueueSize: 10}, listOnlyHost{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, u)

	for _, tipo := range []string{TypeSettings, TypeSelectPrinter, TypeTestPrint, TypeTicket, TypeCapabilities} {
		resp := roundTrip(t, ctx, conn, tipo, tipo, nil)
		if resp.Tipo != TypeError || !strings.HasPrefix(resp.Mensaje, "Host does not support") {
			t.Errorf("%s = %+v", tipo, resp)
		}
	}
	resp := roundTrip(t, ctx, conn, TypePrinters, "l", nil)
	if resp.Status != "ok" {
		t.Errorf("printers = %+v", resp)
	}
}

func TestJobRateLimiter(t *testing.T) {
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	rl := NewJobRateLimiter(2)
	rl.now = func() time.Time { return now }

	if !rl.Allow("10.0.0.1") || !rl.Allow("10.0.0.1") {
		t.Fatal("first two jobs should be allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("third job within a minute allowed")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("limit leaked across clients")
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("10.0.0.1") {
		t.Error("job after the window rejected")
	}

	var disabled *JobRateLimiter
	if !disabled.Allow("x") || !NewJobRateLimiter(0).Allow("x") {
		t.Error("nil or zero limiter should allow everything")
	}
}
