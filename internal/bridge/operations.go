package bridge

import (
	"context"
	"time"
)

// DefaultCallTimeout bounds a single host call when the caller sets no deadline.
const DefaultCallTimeout = 10 * time.Second

// DefaultPrintTimeout bounds TestPrint and PrintTicket. A remote print waits for the
// queue, the printer listing and the print command, so it outlasts DefaultCallTimeout.
const DefaultPrintTimeout = 90 * time.Second

// Method names as reported in Capabilities.Methods and used by the WebSocket protocol.
const (
	MethodGetCapabilities    = "getCapabilities"
	MethodListPrinters       = "listPrinters"
	MethodGetPrinterSettings = "getPrinterSettings"
	MethodSetSelectedPrinter = "setSelectedPrinter"
	MethodGetPaperWidthMm    = "getPaperWidthMm"
	MethodSetPaperWidthMm    = "setPaperWidthMm"
	MethodTestPrint          = "testPrint"
	MethodPrintTicket        = "printTicket"
)

// Operations is the set of operations a host value supports. It is computed once by
// Probe and passed around as data; nil fields are unsupported operations.
type Operations struct {
	Capabilities  CapabilityReporter
	Printers      PrinterLister
	Settings      SettingsReader
	Selector      PrinterSelector
	PaperWidthGet PaperWidthReader
	PaperWidthSet PaperWidthWriter
	Tester        TestPrinter
	TicketPrinter TicketPrinter
	present       bool
	callTimeout   time.Duration
	printTimeout  time.Duration
}

// Probe inspects host once. A nil host yields an Operations with Present() == false.
func Probe(host any) Operations {
	return ProbeWithTimeout(host, DefaultCallTimeout)
}

// ProbeWithTimeout is Probe with an explicit per-call timeout.
func ProbeWithTimeout(host any, timeout time.Duration) Operations {
	if host == nil {
		return Operations{}
	}
	ops := Operations{present: true, callTimeout: timeout, printTimeout: DefaultPrintTimeout}
	ops.Capabilities, _ = host.(CapabilityReporter)
	ops.Printers, _ = host.(PrinterLister)
	ops.Settings, _ = host.(SettingsReader)
	ops.Selector, _ = host.(PrinterSelector)
	ops.PaperWidthGet, _ = host.(PaperWidthReader)
	ops.PaperWidthSet, _ = host.(PaperWidthWriter)
	ops.Tester, _ = host.(TestPrinter)
	ops.TicketPrinter, _ = host.(TicketPrinter)
	return ops
}

// Present reports whether a host was injected at all.
func (o Operations) Present() bool {
	return o.present
}

// Essential reports whether the operations needed by the settings flow are all present.
func (o Operations) Essential() bool {
	return len(o.MissingEssential()) == 0
}

// MissingEssential lists the essential operations the host lacks.
func (o Operations) MissingEssential() []string {
	var missing []string
	if o.Printers == nil {
		missing = append(missing, MethodListPrinters)
	}
	if o.Settings == nil {
		missing = append(missing, MethodGetPrinterSettings)
	}
	if o.Tester == nil {
		missing = append(missing, MethodTestPrint)
	}
	return missing
}

// Methods lists the supported operation names.
func (o Operations) Methods() []string {
	var names []string
	add := func(ok bool, name string) {
		if ok {
			names = append(names, name)
		}
	}
	add(o.Capabilities != nil, MethodGetCapabilities)
	add(o.Printers != nil, MethodListPrinters)
	add(o.Settings != nil, MethodGetPrinterSettings)
	add(o.Selector != nil, MethodSetSelectedPrinter)
	add(o.PaperWidthGet != nil, MethodGetPaperWidthMm)
	add(o.PaperWidthSet != nil, MethodSetPaperWidthMm)
	add(o.Tester != nil, MethodTestPrint)
	add(o.TicketPrinter != nil, MethodPrintTicket)
	return names
}

// WithPrintTimeout returns a copy whose print calls are bounded by timeout.
// A timeout shorter than the call timeout is raised to it.
func (o Operations) WithPrintTimeout(timeout time.Duration) Operations {
	if timeout < o.callTimeout {
		timeout = o.callTimeout
	}
	o.printTimeout = timeout
	return o
}

// CallContext derives the context for one host call, applying the probe timeout
// unless ctx already carries an earlier deadline.
func (o Operations) CallContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return boundedContext(ctx, o.callTimeout, DefaultCallTimeout)
}

// PrintContext is CallContext for TestPrint and PrintTicket.
func (o Operations) PrintContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return boundedContext(ctx, o.printTimeout, DefaultPrintTimeout)
}

func boundedContext(ctx context.Context, timeout, fallback time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = fallback
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
