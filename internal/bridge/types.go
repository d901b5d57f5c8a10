// Package bridge defines the contract between the POS front-end components and the host
// that owns the printers. Every host operation is optional; Probe reports which ones a
// host value implements.
package bridge

import (
	"context"
)

// Capabilities is the host report consumed by the capability detector.
// Printing holds a bool, a PrintingCapability, a decoded JSON object or nil.
type Capabilities struct {
	Printing any      `json:"printing"`
	Platform string   `json:"platform,omitempty"`
	Methods  []string `json:"methods,omitempty"`
}

// PrintingCapability is the structured form of Capabilities.Printing.
type PrintingCapability struct {
	Available *bool  `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// PrinterDescriptor is the structured form of a host printer record.
// Hosts may also report printers as bare strings or loose JSON objects.
type PrinterDescriptor struct {
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	IsDefault   bool   `json:"isDefault,omitempty"`
}

// PrinterSettings is the persisted printer preference.
type PrinterSettings struct {
	SelectedPrinterName *string `json:"selectedPrinterName"`
	PaperWidthMm        float64 `json:"paperWidthMm"`
}

// TicketPayload is one fully rendered receipt.
type TicketPayload struct {
	Title        string   `json:"title"`
	Lines        []string `json:"lines"`
	PaperWidthMm float64  `json:"paperWidthMm,omitempty"`
}

// NewTicketPayload copies lines so later edits by the caller never reach the payload.
func NewTicketPayload(title string, lines []string, paperWidthMm float64) TicketPayload {
	owned := make([]string, len(lines))
	copy(owned, lines)
	return TicketPayload{Title: title, Lines: owned, PaperWidthMm: paperWidthMm}
}

// ResultDetails carries diagnostics attached to a failed print.
type ResultDetails struct {
	Printers []string `json:"printers"`
}

// PrintResult is the canonical result of an OS print attempt.
type PrintResult struct {
	OK          bool           `json:"ok"`
	PrinterName *string        `json:"printerName"`
	ExitCode    int            `json:"exitCode"`
	Stdout      string         `json:"stdout"`
	Stderr      string         `json:"stderr"`
	Error       string         `json:"error,omitempty"`
	Details     *ResultDetails `json:"details,omitempty"`
}

// TestPrintResult is the reply of a test print.
type TestPrintResult struct {
	OK          bool           `json:"ok"`
	PrinterName string         `json:"printerName,omitempty"`
	Error       string         `json:"error,omitempty"`
	Method      string         `json:"method,omitempty"`
	Details     *ResultDetails `json:"details,omitempty"`
}

// PrintReply is the structured reply of PrintTicket. Hosts may also answer with a bare bool.
type PrintReply struct {
	Success *bool  `json:"success,omitempty"`
	OK      *bool  `json:"ok,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}

// CapabilityReporter reports host capabilities.
type CapabilityReporter interface {
	GetCapabilities(ctx context.Context) (any, error)
}

// PrinterLister enumerates raw printer descriptors.
type PrinterLister interface {
	ListPrinters(ctx context.Context) ([]any, error)
}

// SettingsReader reads the persisted printer settings (PrinterSettings, string or nil).
type SettingsReader interface {
	GetPrinterSettings(ctx context.Context) (any, error)
}

// PrinterSelector persists the selected printer.
type PrinterSelector interface {
	SetSelectedPrinter(ctx context.Context, name string) error
}

// PaperWidthReader reads the persisted paper width.
type PaperWidthReader interface {
	GetPaperWidthMm(ctx context.Context) (float64, error)
}

// PaperWidthWriter persists the paper width.
type PaperWidthWriter interface {
	SetPaperWidthMm(ctx context.Context, mm float64) error
}

// TestPrinter prints a test ticket. An empty name means the system default printer.
type TestPrinter interface {
	TestPrint(ctx context.Context, printerName string) (TestPrintResult, error)
}

// TicketPrinter prints a rendered receipt. The reply is a bool, a PrintReply,
// a PrintResult or a decoded JSON object.
type TicketPrinter interface {
	PrintTicket(ctx context.Context, payload TicketPayload) (any, error)
}
