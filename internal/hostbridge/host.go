// Package hostbridge is the in-process host: it implements every bridge operation on top of the
// OS print executor and the local settings database.
package hostbridge

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/adcondev/ticket-bridge/internal/bridge"
	"github.com/adcondev/ticket-bridge/internal/storage"
)

// Printers is the OS side used by Host. *executor.Executor implements it.
type Printers interface {
	Platform() string
	ListPrinters(ctx context.Context) ([]string, error)
	DefaultPrinter(ctx context.Context) (string, error)
	TestPrint(ctx context.Context, printerName string) (bridge.PrintResult, error)
	PrintTicket(ctx context.Context, printerName string, payload bridge.TicketPayload) (bridge.PrintResult, error)
}

// Preferences persists the printer selection. *storage.Store implements it.
type Preferences interface {
	Preference(ctx context.Context) (storage.PrinterPreference, error)
	SaveSelectedPrinter(ctx context.Context, name string) error
	SavePaperWidth(ctx context.Context, mm float64) error
}

// Config holds host defaults.
type Config struct {
	DefaultPrinter    string  // used for tickets when nothing is selected
	DefaultPaperWidth float64 // reported when nothing is persisted
	PrintingDisabled  bool
	DisabledReason    string
}

// Host implements the bridge contract.
type Host struct {
	printers Printers
	prefs    Preferences
	config   Config
}

// New creates a Host.
func New(printers Printers, prefs Preferences, config Config) *Host {
	if config.DefaultPaperWidth <= 0 {
		config.DefaultPaperWidth = 80
	}
	return &Host{printers: printers, prefs: prefs, config: config}
}

// GetCapabilities implements bridge.CapabilityReporter.
func (h *Host) GetCapabilities(_ context.Context) (any, error) {
	printing := bridge.PrintingCapability{Available: bridge.BoolPtr(!h.config.PrintingDisabled)}
	if h.config.PrintingDisabled {
		printing.Reason = h.config.DisabledReason
	}
	return bridge.Capabilities{
		Printing: printing,
		Platform: h.printers.Platform(),
		Methods:  bridge.Probe(h).Methods(),
	}, nil
}

// ListPrinters implements bridge.PrinterLister. Entries are bridge.PrinterDescriptor values.
func (h *Host) ListPrinters(ctx context.Context) ([]any, error) {
	names, err := h.printers.ListPrinters(ctx)
	if err != nil {
		return nil, err
	}

	def, err := h.printers.DefaultPrinter(ctx)
	if err != nil {
		log.Printf("[HOST] ⚠️ Default printer unknown: %v", err)
	}

	out := make([]any, 0, len(names))
	for _, name := range names {
		out = append(out, bridge.PrinterDescriptor{Name: name, IsDefault: def != "" && name == def})
	}
	return out, nil
}

// GetPrinterSettings implements bridge.SettingsReader. It always returns bridge.PrinterSettings.
func (h *Host) GetPrinterSettings(ctx context.Context) (any, error) {
	pref, err := h.prefs.Preference(ctx)
	if err != nil {
		return nil, err
	}
	settings := bridge.PrinterSettings{
		SelectedPrinterName: pref.SelectedPrinterName,
		PaperWidthMm:        pref.PaperWidthMm,
	}
	if settings.PaperWidthMm <= 0 {
		settings.PaperWidthMm = h.config.DefaultPaperWidth
	}
	return settings, nil
}

// SetSelectedPrinter implements bridge.PrinterSelector.
func (h *Host) SetSelectedPrinter(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if err := h.prefs.SaveSelectedPrinter(ctx, name); err != nil {
		return err
	}
	log.Printf("[HOST] 💾 Selected printer: %s", displayOrDefault(name))
	return nil
}

// GetPaperWidthMm implements bridge.PaperWidthReader.
func (h *Host) GetPaperWidthMm(ctx context.Context) (float64, error) {
	pref, err := h.prefs.Preference(ctx)
	if err != nil {
		return 0, err
	}
	if pref.PaperWidthMm <= 0 {
		return h.config.DefaultPaperWidth, nil
	}
	return pref.PaperWidthMm, nil
}

// SetPaperWidthMm implements bridge.PaperWidthWriter.
func (h *Host) SetPaperWidthMm(ctx context.Context, mm float64) error {
	return h.prefs.SavePaperWidth(ctx, mm)
}

// TestPrint implements bridge.TestPrinter. Print failures are reported in the result.
func (h *Host) TestPrint(ctx context.Context, printerName string) (bridge.TestPrintResult, error) {
	if h.config.PrintingDisabled {
		return bridge.TestPrintResult{OK: false, Error: h.disabledMessage()}, nil
	}
	res, err := h.printers.TestPrint(ctx, printerName)
	if err != nil {
		log.Printf("[HOST] Test print on %s failed: %v", displayOrDefault(printerName), err)
	}
	out := bridge.TestPrintResult{
		OK:      res.OK,
		Error:   resultError(res, err),
		Method:  h.method(),
		Details: res.Details,
	}
	if res.PrinterName != nil {
		out.PrinterName = *res.PrinterName
	}
	return out, nil
}

// PrintTicket implements bridge.TicketPrinter. The reply is a bridge.PrintResult.
func (h *Host) PrintTicket(ctx context.Context, payload bridge.TicketPayload) (any, error) {
	target, err := h.ResolvePrinter(ctx, "")
	if err != nil {
		return nil, err
	}
	res, err := h.PrintTicketTo(ctx, target, payload)
	if err != nil {
		res.Error = resultError(res, err)
	}
	return res, nil
}

// PrintTicketTo prints payload on printerName without resolving the selection.
func (h *Host) PrintTicketTo(ctx context.Context, printerName string, payload bridge.TicketPayload) (bridge.PrintResult, error) {
	if h.config.PrintingDisabled {
		return bridge.PrintResult{Error: h.disabledMessage()}, fmt.Errorf("printing disabled: %s", h.disabledMessage())
	}
	return h.printers.PrintTicket(ctx, printerName, payload)
}

// ResolvePrinter returns requested, else the persisted selection, else the configured
// default. An empty result means the OS default printer.
func (h *Host) ResolvePrinter(ctx context.Context, requested string) (string, error) {
	if name := strings.TrimSpace(requested); name != "" {
		return name, nil
	}
	pref, err := h.prefs.Preference(ctx)
	if err != nil {
		return "", err
	}
	if pref.SelectedPrinterName != nil && *pref.SelectedPrinterName != "" {
		return *pref.SelectedPrinterName, nil
	}
	return h.config.DefaultPrinter, nil
}

// PaperWidth returns the persisted paper width or the default; it never fails.
func (h *Host) PaperWidth(ctx context.Context) float64 {
	mm, err := h.GetPaperWidthMm(ctx)
	if err != nil || mm <= 0 {
		return h.config.DefaultPaperWidth
	}
	return mm
}

func (h *Host) method() string {
	switch h.printers.Platform() {
	case "windows":
		return "powershell"
	case "cups":
		return "lp"
	default:
		return h.printers.Platform()
	}
}

func (h *Host) disabledMessage() string {
	if h.config.DisabledReason != "" {
		return "Printing disabled: " + h.config.DisabledReason
	}
	return "Printing disabled"
}

func resultError(res bridge.PrintResult, err error) string {
	if res.Error != "" {
		return res.Error
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

func displayOrDefault(name string) string {
	if name == "" {
		return "(default)"
	}
	return name
}
