// Package main is ticketctl, a command line client for a running Ticket Bridge service.
// It lists and selects printers, sends test prints and prints payment receipts.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/adcondev/ticket-bridge/internal/bridge/wsbridge"
	"github.com/adcondev/ticket-bridge/internal/config"
)

// Defaults for the connection flags.
const (
	defaultTimeout = 90 * time.Second
	envURL         = config.EnvPrefix + "URL"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintf(stderr, "%s %v\n", failMark, err)
		return 1
	}
	return 0
}

// app holds the state shared by every subcommand.
type app struct {
	url     string
	origin  string
	timeout time.Duration
	json    bool
	verbose bool
	client  *wsbridge.Client
}

func defaultURL() string {
	if v := strings.TrimSpace(os.Getenv(envURL)); v != "" {
		return v
	}
	return "ws://localhost:" + config.ServerPort + "/ws"
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "ticketctl",
		Short: "Control a running Ticket Bridge print service",
		Long: `ticketctl talks to a Ticket Bridge service over WebSocket.

Typical flow:
  ticketctl printers            List printers and the current selection
  ticketctl select "POS-58"     Save the receipt printer
  ticketctl paper-width 58      Save the paper width
  ticketctl test                Print a test ticket on the saved printer
  ticketctl receipt --school "Colegio" --amount 1250.50`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if a.verbose {
				log.SetOutput(cmd.ErrOrStderr())
				return
			}
			log.SetOutput(io.Discard)
		},
	}

	root.PersistentFlags().StringVar(&a.url, "url", defaultURL(), "service WebSocket URL (env "+envURL+")")
	root.PersistentFlags().StringVar(&a.origin, "origin", "", "Origin header sent during the handshake")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", defaultTimeout, "overall timeout for one command")
	root.PersistentFlags().BoolVar(&a.json, "json", false, "print machine readable JSON")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log bridge calls to stderr")

	root.AddCommand(
		newPrintersCmd(a),
		newSettingsCmd(a),
		newSelectCmd(a),
		newPaperWidthCmd(a),
		newTestCmd(a),
		newReceiptCmd(a),
	)
	return root
}

// connect dials the service once per invocation.
func (a *app) connect(ctx context.Context) (*wsbridge.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	var opts []wsbridge.Option
	if a.origin != "" {
		opts = append(opts, wsbridge.WithOrigin(a.origin))
	}
	c, err := wsbridge.Dial(ctx, a.url, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w (is the service running?)", err)
	}
	a.client = c
	return c, nil
}

func (a *app) close() {
	if a.client != nil {
		_ = a.client.Close()
		a.client = nil
	}
}

// commandContext bounds one command by --timeout.
func (a *app) commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, a.timeout)
}
