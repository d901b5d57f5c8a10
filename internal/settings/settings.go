// Package settings holds the printer settings state used by the POS front-end: availability,
// printer list, selection and paper width, with load, save and test-print operations.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adcondev/ticket-bridge/internal/bridge"
	"github.com/adcondev/ticket-bridge/internal/capability"
	"github.com/adcondev/ticket-bridge/internal/registry"
)

// DefaultPaperWidthMm is used when neither the host nor the caller provides one.
const DefaultPaperWidthMm = 80

// Operator messages.
const (
	MsgNothingSelected  = "Select a printer first"
	MsgSaved            = "Printer settings saved"
	MsgSaveFailed       = "Could not save printer settings"
	MsgTestFailed       = "Test print failed"
	MsgLoadFailed       = "Could not load printer settings"
	defaultPrinterLabel = "default printer"
)

// ErrBusy is returned when Save or TestPrint is called while another operation runs.
var ErrBusy = errors.New("settings: operation in progress")

// State is a snapshot of the store.
type State struct {
	Available    bool                     `json:"available"`
	Reason       capability.Reason        `json:"availabilityReason,omitempty"`
	Printers     []registry.PrinterOption `json:"printers"`
	Selected     string                   `json:"selected,omitempty"`
	PaperWidthMm float64                  `json:"paperWidthMm"`
	Loading      bool                     `json:"loading"`
	Saving       bool                     `json:"saving"`
	Testing      bool                     `json:"testing"`
	Error        string                   `json:"error,omitempty"`
	Success      string                   `json:"success,omitempty"`
}

// Busy reports whether any operation is in flight. Destructive actions must be refused then.
func (s State) Busy() bool {
	return s.Loading || s.Saving || s.Testing
}

// Store owns the settings state for one host.
type Store struct {
	host              any
	defaultPaperWidth float64
	callTimeout       time.Duration
	printTimeout      time.Duration

	mu    sync.RWMutex
	state State
	ops   bridge.Operations
}

// Option configures a Store.
type Option func(*Store)

// WithDefaultPaperWidth sets the paper width used when the host reports none.
func WithDefaultPaperWidth(mm float64) Option {
	return func(s *Store) {
		if mm > 0 {
			s.defaultPaperWidth = mm
		}
	}
}

// WithCallTimeout bounds each host query (listing, settings, save).
func WithCallTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithPrintTimeout bounds a test print, which may wait for a remote print queue.
func WithPrintTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.printTimeout = d
		}
	}
}

// New creates a store over host. host may be nil (no bridge present).
func New(host any, opts ...Option) *Store {
	s := &Store{
		host:              host,
		defaultPaperWidth: DefaultPaperWidthMm,
		callTimeout:       bridge.DefaultCallTimeout,
		printTimeout:      bridge.DefaultPrintTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.PaperWidthMm = s.defaultPaperWidth
	return s
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	st.Printers = append([]registry.PrinterOption(nil), s.state.Printers...)
	return st
}

// Busy reports whether an operation is in flight.
func (s *Store) Busy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Busy()
}

// Select changes the transient selection. It is only persisted by Save.
func (s *Store) Select(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Selected = strings.TrimSpace(name)
	s.state.Success = ""
}

// SetPaperWidth changes the transient paper width. It is only persisted by Save.
func (s *Store) SetPaperWidth(mm float64) {
	if mm <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.PaperWidthMm = mm
	s.state.Success = ""
}

// Refresh runs the load sequence. Unexpected failures, including panics from the host,
// end up in State.Error.
func (s *Store) Refresh(ctx context.Context) {
	s.update(func(st *State) {
		st.Loading = true
		st.Error = ""
		st.Success = ""
	})
	defer s.update(func(st *State) { st.Loading = false })

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[SETTINGS] ❌ Panic while loading printer settings: %v", r)
			s.update(func(st *State) { st.Error = MsgLoadFailed })
		}
	}()

	ops := bridge.ProbeWithTimeout(s.host, s.callTimeout).WithPrintTimeout(s.printTimeout)
	detected := capability.DetectOps(ctx, ops)
	s.mu.Lock()
	s.ops = detected.Ops
	s.mu.Unlock()

	if !detected.Available {
		log.Printf("[SETTINGS] Printing unavailable: %s", detected.Reason)
		s.update(func(st *State) {
			st.Available = false
			st.Reason = detected.Reason
			st.Printers = nil
			st.Selected = ""
		})
		return
	}

	printers, persisted, err := s.load(ctx, detected.Ops)
	if err != nil {
		log.Printf("[SETTINGS] ❌ Failed to load printer settings: %v", err)
		s.update(func(st *State) {
			st.Available = true
			st.Reason = capability.ReasonNone
			st.Printers = nil
			st.Error = errorText(err, MsgLoadFailed)
		})
		return
	}

	selected := ""
	if persisted.SelectedPrinterName != nil {
		selected = strings.TrimSpace(*persisted.SelectedPrinterName)
	}
	if selected == "" {
		if def, ok := registry.Default(printers); ok {
			selected = def.Name
		}
	}

	paperWidth := persisted.PaperWidthMm
	if paperWidth <= 0 {
		paperWidth = s.hostPaperWidth(ctx, detected.Ops)
	}
	if paperWidth <= 0 {
		paperWidth = s.defaultPaperWidth
	}

	log.Printf("[SETTINGS] ✅ Loaded %d printer(s), selected=%q, paper=%.0fmm", len(printers), selected, paperWidth)
	s.update(func(st *State) {
		st.Available = true
		st.Reason = capability.ReasonNone
		st.Printers = printers
		st.Selected = selected
		st.PaperWidthMm = paperWidth
	})
}

// load fetches the printer list and the persisted settings concurrently.
func (s *Store) load(ctx context.Context, ops bridge.Operations) ([]registry.PrinterOption, bridge.PrinterSettings, error) {
	var (
		printers  []registry.PrinterOption
		persisted bridge.PrinterSettings
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(guarded(func() error {
		opts, err := registry.List(gctx, ops)
		if err != nil {
			return err
		}
		printers = opts
		return nil
	}))
	g.Go(guarded(func() error {
		callCtx, cancel := ops.CallContext(gctx)
		defer cancel()
		raw, err := ops.Settings.GetPrinterSettings(callCtx)
		if err != nil {
			return fmt.Errorf("error reading printer settings: %w", err)
		}
		persisted = NormalizeSettings(raw)
		return nil
	}))

	if err := g.Wait(); err != nil {
		return nil, bridge.PrinterSettings{}, err
	}
	return printers, persisted, nil
}

// guarded turns a panic in fn into an error so it reaches g.Wait.
func guarded(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic while loading: %v", r)
			}
		}()
		return fn()
	}
}

func (s *Store) hostPaperWidth(ctx context.Context, ops bridge.Operations) float64 {
	if ops.PaperWidthGet == nil {
		return 0
	}
	callCtx, cancel := ops.CallContext(ctx)
	defer cancel()
	mm, err := ops.PaperWidthGet.GetPaperWidthMm(callCtx)
	if err != nil {
		log.Printf("[SETTINGS] ⚠️ Could not read paper width: %v", err)
		return 0
	}
	return mm
}

// Save persists the current selection and paper width.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Busy() {
		s.mu.Unlock()
		return ErrBusy
	}
	if err := s.guardLocked(); err != "" {
		s.state.Error = err
		s.state.Success = ""
		s.mu.Unlock()
		return errors.New(err)
	}
	if s.state.Selected == "" {
		s.state.Error = MsgNothingSelected
		s.state.Success = ""
		s.mu.Unlock()
		return errors.New(MsgNothingSelected)
	}
	ops := s.ops
	name := s.state.Selected
	paperWidth := s.state.PaperWidthMm
	s.state.Saving = true
	s.state.Error = ""
	s.state.Success = ""
	s.mu.Unlock()

	defer s.update(func(st *State) { st.Saving = false })

	err := s.persist(ctx, ops, name, paperWidth)
	if err != nil {
		log.Printf("[SETTINGS] ❌ Save failed: %v", err)
		s.update(func(st *State) { st.Error = errorText(err, MsgSaveFailed) })
		return err
	}

	log.Printf("[SETTINGS] ✅ Saved printer %q (%.0fmm)", name, paperWidth)
	s.update(func(st *State) { st.Success = MsgSaved })
	return nil
}

func (s *Store) persist(ctx context.Context, ops bridge.Operations, name string, paperWidth float64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while saving settings: %v", r)
		}
	}()

	if ops.Selector == nil {
		return fmt.Errorf("host does not support %s", bridge.MethodSetSelectedPrinter)
	}
	callCtx, cancel := ops.CallContext(ctx)
	defer cancel()
	if err := ops.Selector.SetSelectedPrinter(callCtx, name); err != nil {
		return err
	}

	if ops.PaperWidthSet != nil && paperWidth > 0 {
		widthCtx, cancelWidth := ops.CallContext(ctx)
		defer cancelWidth()
		if err := ops.PaperWidthSet.SetPaperWidthMm(widthCtx, paperWidth); err != nil {
			return err
		}
	}
	return nil
}

// TestPrint prints a test ticket on the selected printer, or the default when none is selected.
func (s *Store) TestPrint(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Busy() {
		s.mu.Unlock()
		return ErrBusy
	}
	if err := s.guardLocked(); err != "" {
		s.state.Error = err
		s.state.Success = ""
		s.mu.Unlock()
		return errors.New(err)
	}
	ops := s.ops
	name := s.state.Selected
	s.state.Testing = true
	s.state.Error = ""
	s.state.Success = ""
	s.mu.Unlock()

	defer s.update(func(st *State) { st.Testing = false })

	res, err := s.callTestPrint(ctx, ops, name)
	if err == nil && !res.OK {
		err = errors.New(errorText(errors.New(res.Error), MsgTestFailed))
	}
	if err != nil {
		log.Printf("[SETTINGS] ❌ Test print failed: %v", err)
		s.update(func(st *State) { st.Error = errorText(err, MsgTestFailed) })
		return err
	}

	target := name
	if target == "" {
		target = res.PrinterName
	}
	if target == "" {
		target = defaultPrinterLabel
	}
	msg := fmt.Sprintf("Test ticket sent to %s", target)
	log.Printf("[SETTINGS] ✅ %s", msg)
	s.update(func(st *State) { st.Success = msg })
	return nil
}

func (s *Store) callTestPrint(ctx context.Context, ops bridge.Operations, name string) (res bridge.TestPrintResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during test print: %v", r)
		}
	}()
	callCtx, cancel := ops.PrintContext(ctx)
	defer cancel()
	return ops.Tester.TestPrint(callCtx, name)
}

// guardLocked returns the operator message when printing is unavailable.
func (s *Store) guardLocked() string {
	if s.state.Available {
		return ""
	}
	return capability.Message(s.state.Reason)
}

func (s *Store) update(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

// NormalizeSettings converts a host settings reply (PrinterSettings, bare selected name,
// decoded JSON object or nil) into PrinterSettings.
func NormalizeSettings(raw any) bridge.PrinterSettings {
	switch v := raw.(type) {
	case nil:
		return bridge.PrinterSettings{}
	case bridge.PrinterSettings:
		return v
	case *bridge.PrinterSettings:
		if v == nil {
			return bridge.PrinterSettings{}
		}
		return *v
	case string:
		return bridge.PrinterSettings{SelectedPrinterName: bridge.StringPtr(strings.TrimSpace(v))}
	case map[string]any:
		var out bridge.PrinterSettings
		if name, ok := v["selectedPrinterName"].(string); ok {
			out.SelectedPrinterName = bridge.StringPtr(strings.TrimSpace(name))
		}
		if mm, ok := v["paperWidthMm"].(float64); ok {
			out.PaperWidthMm = mm
		}
		return out
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return bridge.PrinterSettings{}
		}
		return NormalizeSettings(decoded)
	default:
		return bridge.PrinterSettings{}
	}
}

func errorText(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return fallback
}
