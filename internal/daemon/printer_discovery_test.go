package daemon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adcondev/ticket-bridge/internal/printer"
)

type countingSource struct {
	names []string
	def   string
	err   error
	calls int
}

func (c *countingSource) ListPrinters(_ context.Context) ([]string, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.names, nil
}

func (c *countingSource) DefaultPrinter(_ context.Context) (string, error) { return c.def, nil }

type fixedSelection string

func (f fixedSelection) ResolvePrinter(_ context.Context, _ string) (string, error) {
	return string(f), nil
}

func TestNewPrinterDiscovery(t *testing.T) {
	ttl := 10 * time.Second
	pd := NewPrinterDiscovery(&countingSource{}, nil, ttl)
	if pd.cacheTTL != ttl {
		t.Errorf("expected cacheTTL %v, got %v", ttl, pd.cacheTTL)
	}
	if NewPrinterDiscovery(&countingSource{}, nil, 0).cacheTTL != 30*time.Second {
		t.Error("zero TTL should default to 30s")
	}
}

func TestGetPrintersCaches(t *testing.T) {
	src := &countingSource{names: []string{"EPSON"}, def: "EPSON"}
	pd := NewPrinterDiscovery(src, nil, time.Minute)
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	pd.now = func() time.Time { return now }
	ctx := context.Background()

	names, def, err := pd.GetPrinters(ctx, false)
	if err != nil || len(names) != 1 || def != "EPSON" {
		t.Fatalf("GetPrinters() = %v, %q, %v", names, def, err)
	}
	names[0] = "mutated"

	again, _, _ := pd.GetPrinters(ctx, false)
	if src.calls != 1 {
		t.Errorf("source called %d times; want cached", src.calls)
	}
	if again[0] != "EPSON" {
		t.Error("cache shared its slice with the caller")
	}

	_, _, _ = pd.GetPrinters(ctx, true)
	if src.calls != 2 {
		t.Errorf("force refresh did not hit the source")
	}

	now = now.Add(2 * time.Minute)
	src.err = errors.New("spooler down")
	stale, _, err := pd.GetPrinters(ctx, false)
	if err == nil || len(stale) != 1 {
		t.Errorf("expired refresh = %v, %v; want stale names and the error", stale, err)
	}
}

func TestGetSummary(t *testing.T) {
	tests := []struct {
		name      string
		src       *countingSource
		selection SelectionSource
		want      string
	}{
		{"enumeration error", &countingSource{err: errors.New("x")}, nil, printer.StatusError},
		{"no printers", &countingSource{}, nil, printer.StatusError},
		{"default only", &countingSource{names: []string{"A"}, def: "A"}, nil, printer.StatusOK},
		{"nothing selected or default", &countingSource{names: []string{"A"}}, fixedSelection(""), printer.StatusWarning},
		{"selection installed", &countingSource{names: []string{"A", "B"}}, fixedSelection("B"), printer.StatusOK},
		{"selection missing", &countingSource{names: []string{"A"}, def: "A"}, fixedSelection("GONE"), printer.StatusWarning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewPrinterDiscovery(tt.src, tt.selection, time.Minute).GetSummary(context.Background())
			if got.Status != tt.want {
				t.Errorf("GetSummary() = %+v; want status %s", got, tt.want)
			}
		})
	}
}
