// Package registry normalizes host printer descriptors into selectable options.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adcondev/ticket-bridge/internal/bridge"
)

// PrinterOption is a normalized printer entry. Name is the selection identity.
type PrinterOption struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	IsDefault bool   `json:"isDefault"`
}

// List enumerates printers through ops and normalizes them.
func List(ctx context.Context, ops bridge.Operations) ([]PrinterOption, error) {
	if ops.Printers == nil {
		return nil, fmt.Errorf("host does not support %s", bridge.MethodListPrinters)
	}

	callCtx, cancel := ops.CallContext(ctx)
	defer cancel()

	raw, err := ops.Printers.ListPrinters(callCtx)
	if err != nil {
		return nil, fmt.Errorf("error listing printers: %w", err)
	}
	return Normalize(raw), nil
}

// Normalize converts raw descriptors. Entries that are neither strings nor objects are
// dropped silently.
func Normalize(raw []any) []PrinterOption {
	options := make([]PrinterOption, 0, len(raw))
	for i, entry := range raw {
		if opt, ok := normalizeEntry(entry, i); ok {
			options = append(options, opt)
		}
	}
	return options
}

func normalizeEntry(entry any, index int) (PrinterOption, bool) {
	switch e := entry.(type) {
	case string:
		name := strings.TrimSpace(e)
		if name == "" {
			return PrinterOption{}, false
		}
		return PrinterOption{Name: name, Label: name}, true
	case bridge.PrinterDescriptor:
		return fromFields(index, e.Name, e.DisplayName, e.IsDefault), true
	case *bridge.PrinterDescriptor:
		if e == nil {
			return PrinterOption{}, false
		}
		return fromFields(index, e.Name, e.DisplayName, e.IsDefault), true
	case map[string]any:
		name, _ := e["name"].(string)
		displayName, _ := e["displayName"].(string)
		return fromFields(index, name, displayName, defaultFlag(e)), true
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(e, &decoded); err != nil {
			return PrinterOption{}, false
		}
		return normalizeEntry(decoded, index)
	default:
		return PrinterOption{}, false
	}
}

func fromFields(index int, name, displayName string, isDefault bool) PrinterOption {
	name = strings.TrimSpace(name)
	displayName = strings.TrimSpace(displayName)

	opt := PrinterOption{IsDefault: isDefault}
	opt.Name = firstNonBlank(name, displayName)
	opt.Label = firstNonBlank(displayName, name)
	if opt.Label == "" {
		opt.Label = fmt.Sprintf("Printer %d", index+1)
	}
	if opt.Name == "" {
		opt.Name = opt.Label
	}
	return opt
}

// defaultFlag reads the first present synonym of the default marker.
func defaultFlag(m map[string]any) bool {
	for _, key := range []string{"isDefault", "default", "is_default"} {
		if v, ok := m[key]; ok && v != nil {
			return truthy(v)
		}
	}
	return false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(strings.TrimSpace(t), "true")
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return false
	}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Find returns the option named name.
func Find(options []PrinterOption, name string) (PrinterOption, bool) {
	for _, o := range options {
		if o.Name == name {
			return o, true
		}
	}
	return PrinterOption{}, false
}

// Default returns the first option flagged as default.
func Default(options []PrinterOption) (PrinterOption, bool) {
	for _, o := range options {
		if o.IsDefault {
			return o, true
		}
	}
	return PrinterOption{}, false
}

// Names returns the option names in order.
func Names(options []PrinterOption) []string {
	names := make([]string, len(options))
	for i, o := range options {
		names[i] = o.Name
	}
	return names
}
