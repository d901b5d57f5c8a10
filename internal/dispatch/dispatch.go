// Package dispatch sends rendered tickets to the host and normalizes whatever the host answers
// into a single success flag plus an optional failure reason.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/adcondev/ticket-bridge/internal/bridge"
)

// Diagnostics used when the host gives none.
const (
	MsgNoPrintSupport = "Printing is not available on this host"
	MsgPrintFailed    = "Print failed"
)

// Outcome is the result of one print attempt. A failed print is data, never an error.
type Outcome struct {
	Success       bool   `json:"success"`
	FailureReason string `json:"failureReason,omitempty"`
}

// Confirmer asks the operator before printing. Returning false or an error cancels silently.
type Confirmer interface {
	Confirm(ctx context.Context, payload bridge.TicketPayload) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, payload bridge.TicketPayload) (bool, error)

// Confirm implements Confirmer.
func (f ConfirmFunc) Confirm(ctx context.Context, payload bridge.TicketPayload) (bool, error) {
	return f(ctx, payload)
}

// Dispatcher prints tickets through the probed host operations.
type Dispatcher struct {
	ops bridge.Operations
}

// New probes host and returns a Dispatcher. host may be nil.
func New(host any) *Dispatcher {
	return &Dispatcher{ops: bridge.Probe(host)}
}

// NewWithOps returns a Dispatcher over an already probed operation set.
func NewWithOps(ops bridge.Operations) *Dispatcher {
	return &Dispatcher{ops: ops}
}

// PrintTicket sends payload to the host.
func (d *Dispatcher) PrintTicket(ctx context.Context, payload bridge.TicketPayload) (out Outcome) {
	if d.ops.TicketPrinter == nil {
		return Outcome{Success: false, FailureReason: MsgNoPrintSupport}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[DISPATCH] ❌ Panic from host printTicket: %v", r)
			out = Outcome{Success: false, FailureReason: fmt.Sprintf("%s: %v", MsgPrintFailed, r)}
		}
	}()

	callCtx, cancel := d.ops.PrintContext(ctx)
	defer cancel()

	reply, err := d.ops.TicketPrinter.PrintTicket(callCtx, payload)
	if err != nil {
		log.Printf("[DISPATCH] ❌ printTicket failed: %v", err)
		return Outcome{Success: false, FailureReason: reasonOr(err.Error(), MsgPrintFailed)}
	}

	out = Normalize(reply)
	if out.Success {
		log.Printf("[DISPATCH] ✅ Ticket %q printed (%d lines)", payload.Title, len(payload.Lines))
	} else {
		log.Printf("[DISPATCH] ⚠️ Ticket %q not printed: %s", payload.Title, out.FailureReason)
	}
	return out
}

// ConfirmAndPrint asks c before printing. attempted is false when the operator declined
// or the confirmation could not be shown; that is not a failure.
func (d *Dispatcher) ConfirmAndPrint(ctx context.Context, c Confirmer, payload bridge.TicketPayload) (out Outcome, attempted bool) {
	if c != nil {
		ok, err := c.Confirm(ctx, payload)
		if err != nil {
			log.Printf("[DISPATCH] Confirmation dismissed: %v", err)
			return Outcome{}, false
		}
		if !ok {
			return Outcome{}, false
		}
	}
	return d.PrintTicket(ctx, payload), true
}

// Normalize converts a host print reply into an Outcome. Accepted shapes are a bool,
// PrintReply, PrintResult (or pointers), a decoded JSON object and raw JSON.
func Normalize(reply any) Outcome {
	switch r := reply.(type) {
	case bool:
		return outcome(r, "")
	case *bool:
		if r == nil {
			return outcome(false, "")
		}
		return outcome(*r, "")
	case bridge.PrintReply:
		return fromFlags(r.Success, r.OK, r.Error, r.Message, "")
	case *bridge.PrintReply:
		if r == nil {
			return outcome(false, "")
		}
		return Normalize(*r)
	case bridge.PrintResult:
		return outcome(r.OK, r.Error)
	case *bridge.PrintResult:
		if r == nil {
			return outcome(false, "")
		}
		return outcome(r.OK, r.Error)
	case map[string]any:
		return fromFlags(boolField(r, "success"), boolField(r, "ok"),
			stringField(r, "error"), stringField(r, "message"), stringField(r, "failureReason"))
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(r, &decoded); err != nil {
			return outcome(false, "")
		}
		return Normalize(decoded)
	default:
		return outcome(false, "")
	}
}

func fromFlags(success, ok *bool, diagnostics ...string) Outcome {
	var flag bool
	switch {
	case success != nil:
		flag = *success
	case ok != nil:
		flag = *ok
	}
	return outcome(flag, firstNonBlank(diagnostics...))
}

func outcome(success bool, reason string) Outcome {
	if success {
		return Outcome{Success: true}
	}
	return Outcome{Success: false, FailureReason: reasonOr(reason, MsgPrintFailed)}
}

func boolField(m map[string]any, key string) *bool {
	if b, ok := m[key].(bool); ok {
		return &b
	}
	return nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			return t
		}
	}
	return ""
}

func reasonOr(reason, fallback string) string {
	if t := strings.TrimSpace(reason); t != "" {
		return t
	}
	return fallback
}
