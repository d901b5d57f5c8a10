package daemon

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/adcondev/ticket-bridge/internal/printer"
)

// PrinterSource enumerates OS printers. *executor.Executor implements it.
type PrinterSource interface {
	ListPrinters(ctx context.Context) ([]string, error)
	DefaultPrinter(ctx context.Context) (string, error)
}

// SelectionSource resolves the saved printer. *hostbridge.Host implements it.
type SelectionSource interface {
	ResolvePrinter(ctx context.Context, requested string) (string, error)
}

// printerSnapshot is one enumeration result.
type printerSnapshot struct {
	names       []string
	defaultName string
}

// PrinterDiscovery handles printer enumeration with caching
type PrinterDiscovery struct {
	source      PrinterSource
	selection   SelectionSource
	cache       *printerSnapshot
	lastRefresh time.Time
	cacheTTL    time.Duration
	now         func() time.Time
	mu          sync.RWMutex
}

// NewPrinterDiscovery creates a new discovery service. selection may be nil.
func NewPrinterDiscovery(source PrinterSource, selection SelectionSource, ttl time.Duration) *PrinterDiscovery {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &PrinterDiscovery{
		source:    source,
		selection: selection,
		cacheTTL:  ttl,
		now:       time.Now,
	}
}

func (pd *PrinterDiscovery) fresh() bool {
	return pd.cache != nil && pd.now().Sub(pd.lastRefresh) < pd.cacheTTL
}

// GetPrinters returns cached printer names and the OS default, refreshing if stale
func (pd *PrinterDiscovery) GetPrinters(ctx context.Context, forceRefresh bool) ([]string, string, error) {
	pd.mu.RLock()
	if !forceRefresh && pd.fresh() {
		names, def := pd.copyCache()
		pd.mu.RUnlock()
		return names, def, nil
	}
	pd.mu.RUnlock()

	pd.mu.Lock()
	defer pd.mu.Unlock()

	// Double-check after acquiring write lock
	if !forceRefresh && pd.fresh() {
		names, def := pd.copyCache()
		return names, def, nil
	}

	names, err := pd.source.ListPrinters(ctx)
	if err != nil {
		if pd.cache != nil {
			stale, def := pd.copyCache()
			return stale, def, err // Return stale cache copy on error
		}
		return nil, "", err
	}

	def, err := pd.source.DefaultPrinter(ctx)
	if err != nil {
		log.Printf("[PRINTERS] ⚠️ Default printer unknown: %v", err)
	}

	pd.cache = &printerSnapshot{names: names, defaultName: def}
	pd.lastRefresh = pd.now()

	names, def = pd.copyCache()
	return names, def, nil
}

func (pd *PrinterDiscovery) copyCache() ([]string, string) {
	names := make([]string, len(pd.cache.names))
	copy(names, pd.cache.names)
	return names, pd.cache.defaultName
}

// GetSummary returns a lightweight summary for health checks
func (pd *PrinterDiscovery) GetSummary(ctx context.Context) printer.Summary {
	names, def, err := pd.GetPrinters(ctx, false)
	if err != nil || len(names) == 0 {
		return printer.Summary{Status: printer.StatusError, DetectedCount: len(names)}
	}

	var selected string
	if pd.selection != nil {
		if name, err := pd.selection.ResolvePrinter(ctx, ""); err == nil {
			selected = name
		}
	}

	status := printer.StatusOK
	if selected == "" && def == "" {
		status = printer.StatusWarning
	} else if selected != "" && !contains(names, selected) {
		status = printer.StatusWarning
	}

	return printer.Summary{
		Status:        status,
		DetectedCount: len(names),
		DefaultName:   def,
		SelectedName:  selected,
	}
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// LogStartupDiagnostics logs printer info at service start
func (pd *PrinterDiscovery) LogStartupDiagnostics(ctx context.Context) {
	names, def, err := pd.GetPrinters(ctx, true)
	if err != nil {
		log.Printf("[PRINTERS] ⚠️ Error enumerating printers: %v", err)
		return
	}

	log.Println("[PRINTERS] ══════════════════════════════════════════════════")
	log.Printf("[PRINTERS] 🖨️ Detected %d installed printer(s)", len(names))
	for _, name := range names {
		mark := ""
		if name == def {
			mark = " ⭐"
		}
		log.Printf("[PRINTERS]    • %s%s", name, mark)
	}
	if len(names) == 0 {
		log.Println("[PRINTERS] ⚠️ No printers installed!")
	}

	summary := pd.GetSummary(ctx)
	if summary.SelectedName != "" {
		log.Printf("[PRINTERS] 💾 Selected printer: %s", summary.SelectedName)
	}
	if summary.Status == printer.StatusWarning {
		log.Println("[PRINTERS] ⚠️ Selected printer is missing or nothing is selected")
	}
	log.Println("[PRINTERS] ══════════════════════════════════════════════════")
}
