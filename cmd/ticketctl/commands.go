package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/adcondev/ticket-bridge/internal/bridge"
	"github.com/adcondev/ticket-bridge/internal/capability"
	"github.com/adcondev/ticket-bridge/internal/dispatch"
	"github.com/adcondev/ticket-bridge/internal/receipt"
	"github.com/adcondev/ticket-bridge/internal/registry"
	"github.com/adcondev/ticket-bridge/internal/settings"
)

var (
	okMark   = color.New(color.FgGreen).Sprint("✓")
	failMark = color.New(color.FgRed).Sprint("✗")
)

// loadSettings connects and runs the settings load sequence.
func (a *app) loadSettings(ctx context.Context) (*settings.Store, error) {
	c, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	store := settings.New(c, settings.WithPrintTimeout(a.timeout))
	store.Refresh(ctx)

	st := store.Snapshot()
	if !st.Available {
		return nil, errors.New(capability.Message(st.Reason))
	}
	if st.Error != "" {
		return nil, errors.New(st.Error)
	}
	return store, nil
}

func (a *app) printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newPrintersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "printers",
		Short: "List installed printers",
		Long:  `List the printers the service can print to. The saved selection is marked with *.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.commandContext(cmd)
			defer cancel()

			store, err := a.loadSettings(ctx)
			if err != nil {
				return err
			}
			st := store.Snapshot()
			out := cmd.OutOrStdout()

			if a.json {
				return a.printJSON(out, st.Printers)
			}
			if len(st.Printers) == 0 {
				_, _ = fmt.Fprintln(out, "No printers installed")
				return nil
			}
			for _, p := range st.Printers {
				mark := " "
				if p.Name == st.Selected {
					mark = "*"
				}
				suffix := ""
				if p.IsDefault {
					suffix = " (default)"
				}
				_, _ = fmt.Fprintf(out, "%s %s%s\n", mark, p.Label, suffix)
			}
			return nil
		},
	}
}

func newSettingsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Show the saved printer settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.commandContext(cmd)
			defer cancel()

			store, err := a.loadSettings(ctx)
			if err != nil {
				return err
			}
			st := store.Snapshot()
			out := cmd.OutOrStdout()

			if a.json {
				return a.printJSON(out, st)
			}
			selected := st.Selected
			if selected == "" {
				selected = "(none)"
			}
			_, _ = fmt.Fprintf(out, "Printer:     %s\n", selected)
			_, _ = fmt.Fprintf(out, "Paper width: %g mm (%d columns)\n", st.PaperWidthMm, receipt.LineWidth(st.PaperWidthMm))
			_, _ = fmt.Fprintf(out, "Status:      %s\n", capability.Message(st.Reason))
			return nil
		},
	}
}

func newSelectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "select <printer>",
		Short: "Save the receipt printer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.commandContext(cmd)
			defer cancel()

			store, err := a.loadSettings(ctx)
			if err != nil {
				return err
			}
			name := strings.TrimSpace(args[0])
			st := store.Snapshot()
			if _, ok := registry.Find(st.Printers, name); !ok {
				return fmt.Errorf("printer %q not found; available: %s", name, strings.Join(registry.Names(st.Printers), ", "))
			}

			store.Select(name)
			if err := store.Save(ctx); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", okMark, store.Snapshot().Success, name)
			return nil
		},
	}
}

func newPaperWidthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "paper-width <mm>",
		Short: "Save the paper width in millimeters (58 or 80)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mm, err := strconv.ParseFloat(strings.TrimSpace(args[0]), 64)
			if err != nil || mm <= 0 {
				return fmt.Errorf("invalid paper width %q", args[0])
			}

			ctx, cancel := a.commandContext(cmd)
			defer cancel()

			store, err := a.loadSettings(ctx)
			if err != nil {
				return err
			}
			store.SetPaperWidth(mm)
			if err := store.Save(ctx); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %g mm (%d columns)\n", okMark, store.Snapshot().Success, mm, receipt.LineWidth(mm))
			return nil
		},
	}
}

func newTestCmd(a *app) *cobra.Command {
	var printerName string

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Print a test ticket",
		Long:  `Print a test ticket on the saved printer, or on --printer without saving it.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.commandContext(cmd)
			defer cancel()

			store, err := a.loadSettings(ctx)
			if err != nil {
				return err
			}
			if printerName != "" {
				store.Select(printerName)
			}
			if err := store.TestPrint(ctx); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okMark, store.Snapshot().Success)
			return nil
		},
	}
	cmd.Flags().StringVar(&printerName, "printer", "", "printer to test instead of the saved one")
	return cmd
}

// receiptInput is the --from file layout.
type receiptInput struct {
	School  receipt.School  `json:"school"`
	Payment receipt.Payment `json:"payment"`
}

func newReceiptCmd(a *app) *cobra.Command {
	var (
		in         receiptInput
		fromFile   string
		labelsFile string
		yes        bool
		preview    bool
	)

	cmd := &cobra.Command{
		Use:   "receipt",
		Short: "Print a payment receipt",
		Long: `Render a payment receipt for the saved paper width, show it, and print it
on the saved printer after confirmation.

Fields can come from flags or from a JSON file (--from) shaped as
{"school": {...}, "payment": {...}}. Flags override the file.
Labels can be replaced with a TOML file (--labels) of "key" = "text" pairs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			input, err := mergeReceiptInput(cmd, fromFile, in)
			if err != nil {
				return err
			}
			labels, err := loadLabels(labelsFile)
			if err != nil {
				return err
			}

			ctx, cancel := a.commandContext(cmd)
			defer cancel()

			store, err := a.loadSettings(ctx)
			if err != nil {
				return err
			}
			st := store.Snapshot()
			payload := receipt.BuildPayload(input.School, input.Payment, labels, st.PaperWidthMm, time.Now())

			out := cmd.OutOrStdout()
			printPreview(out, payload)
			if preview {
				return nil
			}

			var confirmer dispatch.Confirmer
			if !yes {
				confirmer = promptConfirmer(cmd.InOrStdin(), out, st.Selected)
			}

			c, err := a.connect(ctx)
			if err != nil {
				return err
			}
			result, attempted := dispatch.NewWithOps(bridge.Probe(c).WithPrintTimeout(a.timeout)).ConfirmAndPrint(ctx, confirmer, payload)
			if !attempted {
				_, _ = fmt.Fprintln(out, "Cancelled")
				return nil
			}
			if !result.Success {
				return errors.New(result.FailureReason)
			}
			_, _ = fmt.Fprintln(out, okMark, "Receipt sent to the printer")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&fromFile, "from", "", "JSON file with school and payment")
	f.StringVar(&labelsFile, "labels", "", "TOML file with label overrides")
	f.BoolVarP(&yes, "yes", "y", false, "print without asking")
	f.BoolVar(&preview, "preview", false, "only show the rendered receipt")

	f.StringVar(&in.School.Name, "school", "", "school name")
	f.StringVar(&in.School.Address, "address", "", "school address")
	f.StringVar(&in.School.Phone, "phone", "", "school phone")
	f.StringVar(&in.Payment.Folio, "folio", "", "receipt folio")
	f.StringVar(&in.Payment.StudentName, "student", "", "student name")
	f.StringVar(&in.Payment.Level, "level", "", "school level")
	f.StringVar(&in.Payment.GradeGroup, "grade-group", "", "grade and group")
	f.StringVar(&in.Payment.Method, "method", "", "payment method")
	f.StringVar(&in.Payment.Reference, "reference", "", "payment reference")
	f.StringVar(&in.Payment.Month, "month", "", "month paid")
	f.StringVar(&in.Payment.Cycle, "cycle", "", "school cycle")
	f.StringVar(&in.Payment.Comments, "comments", "", "comments")
	f.Float64Var(&in.Payment.Amount, "amount", 0, "amount paid")

	return cmd
}

// mergeReceiptInput loads fromFile and overlays the flags the user set.
func mergeReceiptInput(cmd *cobra.Command, fromFile string, flags receiptInput) (receiptInput, error) {
	var merged receiptInput
	if fromFile != "" {
		data, err := os.ReadFile(fromFile) //nolint:gosec
		if err != nil {
			return merged, fmt.Errorf("failed to read %s: %w", fromFile, err)
		}
		if err := json.Unmarshal(data, &merged); err != nil {
			return merged, fmt.Errorf("invalid receipt file %s: %w", fromFile, err)
		}
	}

	set := func(name string, dst *string, v string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("school", &merged.School.Name, flags.School.Name)
	set("address", &merged.School.Address, flags.School.Address)
	set("phone", &merged.School.Phone, flags.School.Phone)
	set("folio", &merged.Payment.Folio, flags.Payment.Folio)
	set("student", &merged.Payment.StudentName, flags.Payment.StudentName)
	set("level", &merged.Payment.Level, flags.Payment.Level)
	set("grade-group", &merged.Payment.GradeGroup, flags.Payment.GradeGroup)
	set("method", &merged.Payment.Method, flags.Payment.Method)
	set("reference", &merged.Payment.Reference, flags.Payment.Reference)
	set("month", &merged.Payment.Month, flags.Payment.Month)
	set("cycle", &merged.Payment.Cycle, flags.Payment.Cycle)
	set("comments", &merged.Payment.Comments, flags.Payment.Comments)
	if cmd.Flags().Changed("amount") {
		merged.Payment.Amount = flags.Payment.Amount
	}

	if merged.Payment.Amount < 0 {
		return merged, fmt.Errorf("invalid amount %.2f", merged.Payment.Amount)
	}
	return merged, nil
}

// loadLabels reads label overrides. An empty path uses the built-in labels.
func loadLabels(path string) (receipt.LabelMap, error) {
	labels := receipt.LabelMap{}
	if path == "" {
		return labels, nil
	}
	if _, err := toml.DecodeFile(path, &labels); err != nil {
		return nil, fmt.Errorf("invalid labels file %s: %w", path, err)
	}
	return labels, nil
}

func printPreview(w io.Writer, payload bridge.TicketPayload) {
	width := receipt.LineWidth(payload.PaperWidthMm)
	border := strings.Repeat("─", width+2)
	_, _ = fmt.Fprintln(w, "┌"+border+"┐")
	for _, line := range payload.Lines {
		_, _ = fmt.Fprintf(w, "│ %s │\n", runewidth.FillRight(line, width))
	}
	_, _ = fmt.Fprintln(w, "└"+border+"┘")
}

// promptConfirmer asks on out and reads the answer from in.
func promptConfirmer(in io.Reader, out io.Writer, printerName string) dispatch.Confirmer {
	target := printerName
	if target == "" {
		target = "the default printer"
	}
	return dispatch.ConfirmFunc(func(_ context.Context, _ bridge.TicketPayload) (bool, error) {
		_, _ = fmt.Fprintf(out, "Print this receipt on %s? [y/N]: ", target)
		answer, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && answer == "" {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes", "s", "si", "sí":
			return true, nil
		default:
			return false, nil
		}
	})
}
