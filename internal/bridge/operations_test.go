package bridge

import (
	"context"
	"reflect"
	"testing"
	"time"
)

type listerOnly struct{}

func (listerOnly) ListPrinters(_ context.Context) ([]any, error) { return nil, nil }

func TestProbe(t *testing.T) {
	t.Run("nil host", func(t *testing.T) {
		ops := Probe(nil)
		if ops.Present() {
			t.Error("expected Present() = false for nil host")
		}
	})

	t.Run("partial host", func(t *testing.T) {
		ops := Probe(listerOnly{})
		if !ops.Present() {
			t.Fatal("expected Present() = true")
		}
		if ops.Essential() {
			t.Error("expected Essential() = false")
		}
		want := []string{MethodGetPrinterSettings, MethodTestPrint}
		if got := ops.MissingEssential(); !reflect.DeepEqual(got, want) {
			t.Errorf("MissingEssential() = %v; want %v", got, want)
		}
		if got := ops.Methods(); !reflect.DeepEqual(got, []string{MethodListPrinters}) {
			t.Errorf("Methods() = %v", got)
		}
	})
}

func TestCallContext(t *testing.T) {
	ops := ProbeWithTimeout(listerOnly{}, 50*time.Millisecond)

	ctx, cancel := ops.CallContext(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected a deadline")
	}
	if time.Until(deadline) > 50*time.Millisecond {
		t.Errorf("deadline too far: %v", time.Until(deadline))
	}

	parent, parentCancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer parentCancel()
	child, childCancel := ops.CallContext(parent)
	defer childCancel()
	pd, _ := parent.Deadline()
	cd, _ := child.Deadline()
	if !cd.Equal(pd) {
		t.Errorf("child deadline %v; want parent deadline %v", cd, pd)
	}
}

func TestNewTicketPayloadCopiesLines(t *testing.T) {
	lines := []string{"a", "b"}
	p := NewTicketPayload("T", lines, 58)
	lines[0] = "changed"
	if p.Lines[0] != "a" {
		t.Errorf("payload mutated through caller slice: %q", p.Lines[0])
	}
}

func TestPrintContext(t *testing.T) {
	tests := []struct {
		name         string
		printTimeout time.Duration
		want         time.Duration
	}{
		{"default print bound", 0, DefaultPrintTimeout},
		{"explicit print bound", 2 * time.Minute, 2 * time.Minute},
		{"never below the call bound", time.Millisecond, 50 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops := ProbeWithTimeout(listerOnly{}, 50*time.Millisecond)
			if tt.printTimeout > 0 {
				ops = ops.WithPrintTimeout(tt.printTimeout)
			}
			ctx, cancel := ops.PrintContext(context.Background())
			defer cancel()
			deadline, ok := ctx.Deadline()
			if !ok {
				t.Fatal("expected a deadline")
			}
			left := time.Until(deadline)
			if left > tt.want || left < tt.want-time.Second {
				t.Errorf("print deadline in %v; want about %v", left, tt.want)
			}
		})
	}
}
