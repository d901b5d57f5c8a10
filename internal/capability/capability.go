// Package capability decides whether the injected host can print receipts.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/adcondev/ticket-bridge/internal/bridge"
)

// Reason explains why printing is unavailable.
type Reason string

// Availability reasons. The empty Reason means printing is available.
const (
	ReasonNone               Reason = ""
	ReasonBrowser            Reason = "browser"
	ReasonCapabilityDisabled Reason = "capability-disabled"
	ReasonNoPermission       Reason = "no-permission"
	ReasonMissingMethods     Reason = "missing-methods"
)

// Result is the outcome of Detect. Ops is the probed operation set, reused by callers.
type Result struct {
	Available bool
	Reason    Reason
	Ops       bridge.Operations
}

// Detect classifies host. It never returns an error: a failing capability query is
// treated as "no capability info".
func Detect(ctx context.Context, host any) Result {
	return DetectOps(ctx, bridge.Probe(host))
}

// DetectOps is Detect over an already probed operation set.
func DetectOps(ctx context.Context, ops bridge.Operations) Result {
	if !ops.Present() {
		return Result{Available: false, Reason: ReasonBrowser, Ops: ops}
	}

	var (
		caps any
		ok   bool
	)
	if ops.Capabilities != nil {
		caps, ok = queryCapabilities(ctx, ops)
	}
	return Classify(ops, caps, ok)
}

// Classify is DetectOps over a capabilities reply the caller already fetched. known is
// false when the reply could not be obtained, which means "no capability info".
func Classify(ops bridge.Operations, caps any, known bool) Result {
	if !ops.Present() {
		return Result{Available: false, Reason: ReasonBrowser, Ops: ops}
	}

	if known {
		if reason := classifyPrinting(extractPrinting(caps)); reason != ReasonNone {
			return Result{Available: false, Reason: reason, Ops: ops}
		}
	}

	if missing := ops.MissingEssential(); len(missing) > 0 {
		log.Printf("[CAPS] ⚠️ Host is missing methods: %s", strings.Join(missing, ", "))
		return Result{Available: false, Reason: ReasonMissingMethods, Ops: ops}
	}

	return Result{Available: true, Reason: ReasonNone, Ops: ops}
}

// queryCapabilities calls the host, converting errors and panics into "no info".
func queryCapabilities(ctx context.Context, ops bridge.Operations) (caps any, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[CAPS] ⚠️ getCapabilities panicked: %v", r)
			caps, ok = nil, false
		}
	}()

	callCtx, cancel := ops.CallContext(ctx)
	defer cancel()

	caps, err := ops.Capabilities.GetCapabilities(callCtx)
	if err != nil {
		log.Printf("[CAPS] ⚠️ getCapabilities failed, continuing without capability info: %v", err)
		return nil, false
	}
	return caps, true
}

// printingInfo is the normalized "printing" field.
type printingInfo struct {
	set       bool  // false when absent or null
	flag      *bool // set for bare booleans
	available *bool // set for objects carrying "available"
	reason    string
	object    bool
}

func extractPrinting(caps any) printingInfo {
	switch c := caps.(type) {
	case nil:
		return printingInfo{}
	case bridge.Capabilities:
		return normalizePrinting(c.Printing)
	case *bridge.Capabilities:
		if c == nil {
			return printingInfo{}
		}
		return normalizePrinting(c.Printing)
	case map[string]any:
		return normalizePrinting(c["printing"])
	case json.RawMessage:
		var m map[string]any
		if err := json.Unmarshal(c, &m); err != nil {
			return printingInfo{}
		}
		return normalizePrinting(m["printing"])
	default:
		return printingInfo{}
	}
}

func normalizePrinting(v any) printingInfo {
	switch p := v.(type) {
	case nil:
		return printingInfo{}
	case bool:
		return printingInfo{set: true, flag: &p}
	case *bool:
		if p == nil {
			return printingInfo{}
		}
		return printingInfo{set: true, flag: p}
	case bridge.PrintingCapability:
		return printingInfo{set: true, object: true, available: p.Available, reason: p.Reason}
	case *bridge.PrintingCapability:
		if p == nil {
			return printingInfo{}
		}
		return normalizePrinting(*p)
	case map[string]any:
		info := printingInfo{set: true, object: true}
		if a, ok := p["available"].(bool); ok {
			info.available = &a
		}
		if r, ok := p["reason"].(string); ok {
			info.reason = r
		}
		return info
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(p, &decoded); err != nil {
			return printingInfo{}
		}
		return normalizePrinting(decoded)
	default:
		return printingInfo{}
	}
}

func classifyPrinting(info printingInfo) Reason {
	if !info.set {
		return ReasonNone
	}
	if info.flag != nil {
		if !*info.flag {
			return ReasonCapabilityDisabled
		}
		return ReasonNone
	}
	if info.object && info.available != nil && !*info.available {
		switch strings.ToLower(strings.TrimSpace(info.reason)) {
		case "permission", "denied":
			return ReasonNoPermission
		default:
			return ReasonCapabilityDisabled
		}
	}
	return ReasonNone
}

// Message returns the operator-facing explanation for reason.
func Message(reason Reason) string {
	switch reason {
	case ReasonNone:
		return "Printing is available"
	case ReasonBrowser:
		return "Printing is only available in the desktop application"
	case ReasonCapabilityDisabled:
		return "Printing is disabled on this device"
	case ReasonNoPermission:
		return "This device does not have permission to print"
	case ReasonMissingMethods:
		return "The desktop application does not support printer configuration; update it to enable printing"
	default:
		return fmt.Sprintf("Printing is unavailable (%s)", reason)
	}
}
