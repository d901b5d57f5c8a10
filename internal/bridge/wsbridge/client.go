// Package wsbridge is a bridge host that forwards every operation to a remote Ticket Bridge
// service over WebSocket.
package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/adcondev/ticket-bridge/internal/bridge"
	"github.com/adcondev/ticket-bridge/internal/server"
)

// ErrClosed is returned by calls made after the connection is gone.
var ErrClosed = errors.New("bridge connection closed")

// RemoteError is an error reply from the service.
type RemoteError struct {
	Tipo    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Tipo, e.Message)
}

// Event is a message the service sent without a request ID, such as the welcome
// message or a settings change.
type Event struct {
	Tipo    string          `json:"tipo"`
	Status  string          `json:"status,omitempty"`
	Mensaje string          `json:"mensaje,omitempty"`
	Datos   json.RawMessage `json:"datos,omitempty"`
}

type envelope struct {
	Tipo     string          `json:"tipo"`
	ID       string          `json:"id,omitempty"`
	Status   string          `json:"status,omitempty"`
	Mensaje  string          `json:"mensaje,omitempty"`
	Current  int             `json:"current,omitempty"`
	Capacity int             `json:"capacity,omitempty"`
	Datos    json.RawMessage `json:"datos,omitempty"`
}

// Option configures a Client.
type Option func(*options)

type options struct {
	onEvent func(Event)
	origin  string
}

// WithEventHandler registers fn for unsolicited messages. fn runs on the read goroutine.
func WithEventHandler(fn func(Event)) Option {
	return func(o *options) { o.onEvent = fn }
}

// WithOrigin sets the Origin header sent during the handshake.
func WithOrigin(origin string) Option {
	return func(o *options) { o.origin = origin }
}

// Client implements every bridge operation against a remote service.
type Client struct {
	conn    *websocket.Conn
	onEvent func(Event)

	mu      sync.Mutex
	pending map[string]chan envelope
	err     error
	done    chan struct{}
}

// Dial connects to the service WebSocket endpoint, e.g. ws://localhost:8766/ws.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var dialOpts *websocket.DialOptions
	if o.origin != "" {
		dialOpts = &websocket.DialOptions{HTTPHeader: http.Header{"Origin": []string{o.origin}}}
	}
	conn, resp, err := websocket.Dial(ctx, url, dialOpts)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	c := &Client{
		conn:    conn,
		onEvent: o.onEvent,
		pending: make(map[string]chan envelope),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close closes the connection. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "bye")
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		var env envelope
		if err := wsjson.Read(context.Background(), c.conn, &env); err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			return
		}

		if env.ID == "" {
			if c.onEvent != nil {
				c.onEvent(Event{Tipo: env.Tipo, Status: env.Status, Mensaje: env.Mensaje, Datos: env.Datos})
			}
			continue
		}

		c.mu.Lock()
		ch := c.pending[env.ID]
		c.mu.Unlock()
		if ch == nil {
			continue
		}
		select {
		case ch <- env:
		default:
			log.Printf("[BRIDGE] ⚠️ Dropped %s reply for %s", env.Tipo, env.ID)
		}
	}
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil && websocket.CloseStatus(c.err) == -1 {
		return fmt.Errorf("%w: %w", ErrClosed, c.err)
	}
	return ErrClosed
}

// call sends one request and waits for its final reply. Acks are skipped.
func (c *Client) call(ctx context.Context, tipo string, datos any) (envelope, error) {
	id := uuid.NewString()
	ch := make(chan envelope, 4)

	select {
	case <-c.done:
		return envelope{}, c.closedErr()
	default:
	}

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	msg := server.Message{Tipo: tipo, ID: id}
	if datos != nil {
		raw, err := json.Marshal(datos)
		if err != nil {
			return envelope{}, fmt.Errorf("error encoding %s request: %w", tipo, err)
		}
		msg.Datos = raw
	}
	if err := wsjson.Write(ctx, c.conn, msg); err != nil {
		return envelope{}, fmt.Errorf("error sending %s request: %w", tipo, err)
	}

	for {
		select {
		case <-ctx.Done():
			return envelope{}, ctx.Err()
		case <-c.done:
			return envelope{}, c.closedErr()
		case env := <-ch:
			switch env.Tipo {
			case server.TypeAck:
				continue
			case server.TypeError:
				return env, &RemoteError{Tipo: tipo, Message: env.Mensaje}
			}
			return env, nil
		}
	}
}

func decode(env envelope, dst any) error {
	if len(env.Datos) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Datos, dst); err != nil {
		return fmt.Errorf("invalid %s reply: %w", env.Tipo, err)
	}
	return nil
}

// GetCapabilities implements bridge.CapabilityReporter.
func (c *Client) GetCapabilities(ctx context.Context) (any, error) {
	env, err := c.call(ctx, server.TypeCapabilities, nil)
	if err != nil {
		return nil, err
	}
	var caps bridge.Capabilities
	if err := decode(env, &caps); err != nil {
		return nil, err
	}
	return caps, nil
}

// ListPrinters implements bridge.PrinterLister. Entries are strings or decoded JSON objects.
func (c *Client) ListPrinters(ctx context.Context) ([]any, error) {
	env, err := c.call(ctx, server.TypePrinters, nil)
	if err != nil {
		return nil, err
	}
	var reply struct {
		Printers []any `json:"printers"`
	}
	if err := decode(env, &reply); err != nil {
		return nil, err
	}
	return reply.Printers, nil
}

// GetPrinterSettings implements bridge.SettingsReader.
func (c *Client) GetPrinterSettings(ctx context.Context) (any, error) {
	env, err := c.call(ctx, server.TypeSettings, nil)
	if err != nil {
		return nil, err
	}
	var settings bridge.PrinterSettings
	if err := decode(env, &settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// SetSelectedPrinter implements bridge.PrinterSelector.
func (c *Client) SetSelectedPrinter(ctx context.Context, name string) error {
	_, err := c.call(ctx, server.TypeSelectPrinter, server.PrinterRequest{PrinterName: name})
	return err
}

// GetPaperWidthMm implements bridge.PaperWidthReader.
func (c *Client) GetPaperWidthMm(ctx context.Context) (float64, error) {
	env, err := c.call(ctx, server.TypeGetPaperWidth, nil)
	if err != nil {
		return 0, err
	}
	var reply server.PaperWidthRequest
	if err := decode(env, &reply); err != nil {
		return 0, err
	}
	return reply.PaperWidthMm, nil
}

// SetPaperWidthMm implements bridge.PaperWidthWriter.
func (c *Client) SetPaperWidthMm(ctx context.Context, mm float64) error {
	_, err := c.call(ctx, server.TypeSetPaperWidth, server.PaperWidthRequest{PaperWidthMm: mm})
	return err
}

// TestPrint implements bridge.TestPrinter. It waits for the queued job to finish.
func (c *Client) TestPrint(ctx context.Context, printerName string) (bridge.TestPrintResult, error) {
	env, err := c.call(ctx, server.TypeTestPrint, server.PrinterRequest{PrinterName: printerName})
	if err != nil {
		return bridge.TestPrintResult{}, err
	}
	var res bridge.TestPrintResult
	if err := decode(env, &res); err != nil {
		return bridge.TestPrintResult{}, err
	}
	res.OK = env.Status == "success" && (res.OK || len(env.Datos) == 0)
	if !res.OK && env.Mensaje != "" {
		res.Error = env.Mensaje
	}
	return res, nil
}

// PrintTicket implements bridge.TicketPrinter. The reply is a bridge.PrintResult.
func (c *Client) PrintTicket(ctx context.Context, payload bridge.TicketPayload) (any, error) {
	env, err := c.call(ctx, server.TypeTicket, server.TicketRequest{TicketPayload: payload})
	if err != nil {
		return nil, err
	}
	var res bridge.PrintResult
	if err := decode(env, &res); err != nil {
		return nil, err
	}
	res.OK = env.Status == "success" && (res.OK || len(env.Datos) == 0)
	if !res.OK && env.Mensaje != "" {
		res.Error = env.Mensaje
	}
	return res, nil
}
