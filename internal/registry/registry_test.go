package registry

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/adcondev/ticket-bridge/internal/bridge"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  []any
		want []PrinterOption
	}{
		{
			name: "bare strings",
			raw:  []any{"EPSON TM-T20", "  ", "POS-58"},
			want: []PrinterOption{
				{Name: "EPSON TM-T20", Label: "EPSON TM-T20"},
				{Name: "POS-58", Label: "POS-58"},
			},
		},
		{
			name: "objects with synonyms for default",
			raw: []any{
				map[string]any{"name": "A", "displayName": "Front desk", "isDefault": true},
				map[string]any{"name": "B", "default": true},
				map[string]any{"name": "C", "is_default": "true"},
				map[string]any{"name": "D", "isDefault": false, "default": true},
			},
			want: []PrinterOption{
				{Name: "A", Label: "Front desk", IsDefault: true},
				{Name: "B", Label: "B", IsDefault: true},
				{Name: "C", Label: "C", IsDefault: true},
				{Name: "D", Label: "D", IsDefault: false},
			},
		},
		{
			name: "object without names gets synthesized label",
			raw:  []any{"X", map[string]any{"name": "", "port": "USB001"}},
			want: []PrinterOption{
				{Name: "X", Label: "X"},
				{Name: "Printer 2", Label: "Printer 2"},
			},
		},
		{
			name: "display name only",
			raw:  []any{map[string]any{"displayName": "Kitchen"}},
			want: []PrinterOption{{Name: "Kitchen", Label: "Kitchen"}},
		},
		{
			name: "typed descriptors and raw json",
			raw: []any{
				bridge.PrinterDescriptor{Name: "T1", IsDefault: true},
				&bridge.PrinterDescriptor{Name: "T2", DisplayName: "Two"},
				json.RawMessage(`{"name":"T3","is_default":1}`),
			},
			want: []PrinterOption{
				{Name: "T1", Label: "T1", IsDefault: true},
				{Name: "T2", Label: "Two"},
				{Name: "T3", Label: "T3", IsDefault: true},
			},
		},
		{
			name: "malformed entries are dropped",
			raw:  []any{42, nil, true, []string{"x"}, "OK"},
			want: []PrinterOption{{Name: "OK", Label: "OK"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Normalize() = %+v; want %+v", got, tt.want)
			}
		})
	}
}

type lister struct {
	raw []any
	err error
}

func (l lister) ListPrinters(_ context.Context) ([]any, error) { return l.raw, l.err }

func TestList(t *testing.T) {
	opts, err := List(context.Background(), bridge.Probe(lister{raw: []any{"HP-1"}}))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(opts) != 1 || opts[0].Name != "HP-1" {
		t.Errorf("List() = %+v", opts)
	}

	_, err = List(context.Background(), bridge.Probe(lister{err: errors.New("offline")}))
	if err == nil {
		t.Error("expected error from failing lister")
	}

	_, err = List(context.Background(), bridge.Probe(struct{}{}))
	if err == nil {
		t.Error("expected error when host cannot list printers")
	}
}

func TestFindAndDefault(t *testing.T) {
	opts := []PrinterOption{{Name: "A"}, {Name: "B", IsDefault: true}}
	if _, ok := Find(opts, "C"); ok {
		t.Error("Find(C) should miss")
	}
	if o, ok := Find(opts, "A"); !ok || o.Name != "A" {
		t.Errorf("Find(A) = %+v, %v", o, ok)
	}
	if o, ok := Default(opts); !ok || o.Name != "B" {
		t.Errorf("Default() = %+v, %v", o, ok)
	}
	if got := Names(opts); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("Names() = %v", got)
	}
}
