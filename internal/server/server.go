// Package server maneja las conexiones WebSocket y el encolamiento de trabajos.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/adcondev/ticket-bridge/internal/bridge"
	"github.com/adcondev/ticket-bridge/internal/capability"
	"github.com/adcondev/ticket-bridge/internal/metrics"
	"github.com/adcondev/ticket-bridge/internal/printer"
)

// Incoming message types.
const (
	TypeCapabilities  = "capabilities"
	TypePrinters      = "printers"
	TypeSettings      = "settings"
	TypeSelectPrinter = "select_printer"
	TypeGetPaperWidth = "get_paper_width"
	TypeSetPaperWidth = "set_paper_width"
	TypeTestPrint     = "test_print"
	TypeTicket        = "ticket"
	TypeStatus        = "status"
	TypePing          = "ping"
)

// Outgoing message types.
const (
	TypeInfo            = "info"
	TypeAck             = "ack"
	TypeResult          = "result"
	TypeError           = "error"
	TypePong            = "pong"
	TypeSettingsChanged = "settings_changed"
)

// SummaryProvider reports the printer summary included in printer listings.
type SummaryProvider interface {
	GetSummary(ctx context.Context) printer.Summary
}

// Config holds server configuration
type Config struct {
	QueueSize      int
	AllowedOrigins []string // nil enforces same-origin
	JobsPerMinute  int      // per client host; 0 disables limiting
	CallTimeout    time.Duration
	Metrics        *metrics.Metrics
}

// JobKind identifies what a queued job prints.
type JobKind string

// Job kinds.
const (
	JobTicket    JobKind = "ticket"
	JobTestPrint JobKind = "test"
)

// PrintJob represents a queued print request
type PrintJob struct {
	ID          string               `json:"id"`
	Kind        JobKind              `json:"kind"`
	ClientConn  *websocket.Conn      `json:"-"`
	PrinterName string               `json:"printerName,omitempty"`
	Payload     bridge.TicketPayload `json:"payload"`
	ReceivedAt  time.Time            `json:"received_at"`
}

// Message represents incoming WebSocket message
type Message struct {
	Tipo  string          `json:"tipo"`
	ID    string          `json:"id,omitempty"`
	Datos json.RawMessage `json:"datos,omitempty"`
}

// Response represents outgoing WebSocket message
type Response struct {
	Tipo     string `json:"tipo"`
	ID       string `json:"id,omitempty"`
	Status   string `json:"status,omitempty"`
	Mensaje  string `json:"mensaje,omitempty"`
	Current  int    `json:"current,omitempty"`
	Capacity int    `json:"capacity,omitempty"`
	Datos    any    `json:"datos,omitempty"`
}

// PrinterRequest is the datos of select_printer and test_print.
type PrinterRequest struct {
	PrinterName string `json:"printerName"`
}

// PaperWidthRequest is the datos of set_paper_width and the reply of get_paper_width.
type PaperWidthRequest struct {
	PaperWidthMm float64 `json:"paperWidthMm"`
}

// TicketRequest is the datos of ticket: a rendered payload plus an optional target printer.
type TicketRequest struct {
	bridge.TicketPayload
	PrinterName string `json:"printerName,omitempty"`
}

// PrintersReply is the datos of a printers response.
type PrintersReply struct {
	Printers []any            `json:"printers"`
	Summary  *printer.Summary `json:"summary,omitempty"`
}

// Server manages WebSocket connections and job queue
type Server struct {
	clients        *ClientRegistry
	jobQueue       chan *PrintJob
	queueSize      int
	shutdownOnce   sync.Once
	shutdownChan   chan struct{}
	ops            bridge.Operations
	summary        SummaryProvider
	originPatterns []string
	limiter        *JobRateLimiter
	metrics        *metrics.Metrics
}

// NewServer creates a new WebSocket server exposing host. summary may be nil.
func NewServer(cfg Config, host any, summary SummaryProvider) *Server {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	return &Server{
		clients:        NewClientRegistry(),
		jobQueue:       make(chan *PrintJob, cfg.QueueSize),
		queueSize:      cfg.QueueSize,
		shutdownChan:   make(chan struct{}),
		ops:            bridge.ProbeWithTimeout(host, cfg.CallTimeout),
		summary:        summary,
		originPatterns: originPatterns(cfg.AllowedOrigins),
		limiter:        NewJobRateLimiter(cfg.JobsPerMinute),
		metrics:        cfg.Metrics,
	}
}

// originPatterns converts configured origins to host patterns. file:// origins carry no
// host, so they map to the empty pattern.
func originPatterns(allowed []string) []string {
	if len(allowed) == 0 {
		return nil
	}
	patterns := make([]string, 0, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
			if o == "*" && i == len("file") {
				o = ""
			}
		}
		patterns = append(patterns, o)
	}
	return patterns
}

// QueueStatus returns current and max queue size
func (s *Server) QueueStatus() (current, capacity int) {
	return len(s.jobQueue), cap(s.jobQueue)
}

// JobQueue returns the job queue channel (for worker consumption)
func (s *Server) JobQueue() <-chan *PrintJob {
	return s.jobQueue
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	return s.clients.Count()
}

// HandleWebSocket handles WebSocket connections
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		log.Printf("[WS] ❌ Error accepting client: %v", err)
		return
	}

	// Register client
	s.clients.Add(conn, clientHost(r.RemoteAddr))
	clientCount := s.clients.Count()
	s.metrics.SetActiveClients(clientCount)
	log.Printf("[WS] ➕ Client connected (total: %d) from %s", clientCount, r.RemoteAddr)

	// Send welcome message
	ctx := r.Context()
	welcome := Response{
		Tipo:    TypeInfo,
		Status:  "connected",
		Mensaje: "✅ Servidor respondiendo desde Ticket Bridge",
		Datos:   map[string]any{"methods": s.ops.Methods()},
	}
	_ = wsjson.Write(ctx, conn, welcome)

	// Handle messages
	s.handleMessages(ctx, conn)

	// Cleanup on disconnect
	s.clients.Remove(conn)
	s.metrics.SetActiveClients(s.clients.Count())
	err = conn.Close(websocket.StatusNormalClosure, "disconnected")
	if err != nil {
		return
	}
	log.Printf("[WS] ➖ Client disconnected (remaining: %d)", s.clients.Count())
}

func clientHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// handleMessages processes incoming messages from a client
func (s *Server) handleMessages(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-s.shutdownChan:
			return
		default:
		}

		var msg Message
		err := wsjson.Read(ctx, conn, &msg)
		if err != nil {
			// Normal closure or context cancelled
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway ||
				ctx.Err() != nil {
				return
			}
			log.Printf("[WS] ⚠️ Error reading message: %v", err)
			return
		}

		s.routeMessage(ctx, conn, &msg)
	}
}

// routeMessage routes message to appropriate handler
func (s *Server) routeMessage(ctx context.Context, conn *websocket.Conn, msg *Message) {
	switch msg.Tipo {
	case TypeCapabilities:
		s.handleCapabilities(ctx, conn, msg)
	case TypePrinters:
		s.handlePrinters(ctx, conn, msg)
	case TypeSettings:
		s.handleSettings(ctx, conn, msg)
	case TypeSelectPrinter:
		s.handleSelectPrinter(ctx, conn, msg)
	case TypeGetPaperWidth:
		s.handleGetPaperWidth(ctx, conn, msg)
	case TypeSetPaperWidth:
		s.handleSetPaperWidth(ctx, conn, msg)
	case TypeTestPrint:
		s.handleTestPrint(ctx, conn, msg)
	case TypeTicket:
		s.handleTicket(ctx, conn, msg)
	case TypeStatus:
		s.handleStatus(ctx, conn, msg)
	case TypePing:
		s.handlePing(ctx, conn, msg)
	default:
		log.Printf("[WS] ⚠️ Unknown message type: %s", msg.Tipo)
		s.sendError(ctx, conn, msg.ID, "Unknown message type: "+msg.Tipo)
	}
}

// handleCapabilities returns the host capability report plus the local classification
func (s *Server) handleCapabilities(ctx context.Context, conn *websocket.Conn, msg *Message) {
	if s.ops.Capabilities == nil {
		s.unsupported(ctx, conn, msg, bridge.MethodGetCapabilities)
		return
	}
	callCtx, cancel := s.ops.CallContext(ctx)
	defer cancel()

	caps, err := s.ops.Capabilities.GetCapabilities(callCtx)
	if err != nil {
		s.sendError(ctx, conn, msg.ID, "Failed to read capabilities: "+err.Error())
		return
	}
	detected := capability.Classify(s.ops, caps, true)
	s.reply(ctx, conn, msg, capability.Message(detected.Reason), caps)
}

// handlePrinters handles printer enumeration requests
func (s *Server) handlePrinters(ctx context.Context, conn *websocket.Conn, msg *Message) {
	if s.ops.Printers == nil {
		s.unsupported(ctx, conn, msg, bridge.MethodListPrinters)
		return
	}
	callCtx, cancel := s.ops.CallContext(ctx)
	defer cancel()

	printers, err := s.ops.Printers.ListPrinters(callCtx)
	if err != nil {
		log.Printf("[WS] ❌ Printer enumeration failed: %v", err)
		s.sendError(ctx, conn, msg.ID, "Failed to enumerate printers: "+err.Error())
		return
	}

	reply := PrintersReply{Printers: printers}
	if reply.Printers == nil {
		reply.Printers = []any{}
	}
	if s.summary != nil {
		summary := s.summary.GetSummary(ctx)
		reply.Summary = &summary
	}
	s.reply(ctx, conn, msg, fmt.Sprintf("%d printer(s)", len(reply.Printers)), reply)
}

func (s *Server) handleSettings(ctx context.Context, conn *websocket.Conn, msg *Message) {
	if s.ops.Settings == nil {
		s.unsupported(ctx, conn, msg, bridge.MethodGetPrinterSettings)
		return
	}
	callCtx, cancel := s.ops.CallContext(ctx)
	defer cancel()

	settings, err := s.ops.Settings.GetPrinterSettings(callCtx)
	if err != nil {
		s.sendError(ctx, conn, msg.ID, "Failed to read printer settings: "+err.Error())
		return
	}
	s.reply(ctx, conn, msg, "", settings)
}

func (s *Server) handleSelectPrinter(ctx context.Context, conn *websocket.Conn, msg *Message) {
	if s.ops.Selector == nil {
		s.unsupported(ctx, conn, msg, bridge.MethodSetSelectedPrinter)
		return
	}
	var req PrinterRequest
	if err := decodeDatos(msg, &req); err != nil {
		s.sendError(ctx, conn, msg.ID, err.Error())
		return
	}
	callCtx, cancel := s.ops.CallContext(ctx)
	defer cancel()

	if err := s.ops.Selector.SetSelectedPrinter(callCtx, req.PrinterName); err != nil {
		s.sendError(ctx, conn, msg.ID, "Failed to save printer: "+err.Error())
		return
	}
	s.reply(ctx, conn, msg, "Printer saved", req)
	s.broadcastSettings(ctx, conn)
}

func (s *Server) handleGetPaperWidth(ctx context.Context, conn *websocket.Conn, msg *Message) {
	if s.ops.PaperWidthGet == nil {
		s.unsupported(ctx, conn, msg, bridge.MethodGetPaperWidthMm)
		return
	}
	callCtx, cancel := s.ops.CallContext(ctx)
	defer cancel()

	mm, err := s.ops.PaperWidthGet.GetPaperWidthMm(callCtx)
	if err != nil {
		s.sendError(ctx, conn, msg.ID, "Failed to read paper width: "+err.Error())
		return
	}
	s.reply(ctx, conn, msg, "", PaperWidthRequest{PaperWidthMm: mm})
}

func (s *Server) handleSetPaperWidth(ctx context.Context, conn *websocket.Conn, msg *Message) {
	if s.ops.PaperWidthSet == nil {
		s.unsupported(ctx, conn, msg, bridge.MethodSetPaperWidthMm)
		return
	}
	var req PaperWidthRequest
	if err := decodeDatos(msg, &req); err != nil {
		s.sendError(ctx, conn, msg.ID, err.Error())
		return
	}
	if req.PaperWidthMm <= 0 {
		s.sendError(ctx, conn, msg.ID, "Field 'datos.paperWidthMm' must be positive")
		return
	}
	callCtx, cancel := s.ops.CallContext(ctx)
	defer cancel()

	if err := s.ops.PaperWidthSet.SetPaperWidthMm(callCtx, req.PaperWidthMm); err != nil {
		s.sendError(ctx, conn, msg.ID, "Failed to save paper width: "+err.Error())
		return
	}
	s.reply(ctx, conn, msg, "Paper width saved", req)
	s.broadcastSettings(ctx, conn)
}

// handleTestPrint queues a test print job
func (s *Server) handleTestPrint(ctx context.Context, conn *websocket.Conn, msg *Message) {
	if s.ops.Tester == nil {
		s.unsupported(ctx, conn, msg, bridge.MethodTestPrint)
		return
	}
	var req PrinterRequest
	if len(msg.Datos) > 0 {
		if err := decodeDatos(msg, &req); err != nil {
			s.sendError(ctx, conn, msg.ID, err.Error())
			return
		}
	}
	s.enqueue(ctx, conn, &PrintJob{
		ID:          jobID(msg),
		Kind:        JobTestPrint,
		ClientConn:  conn,
		PrinterName: strings.TrimSpace(req.PrinterName),
		ReceivedAt:  time.Now(),
	})
}

// handleTicket processes a print job request
func (s *Server) handleTicket(ctx context.Context, conn *websocket.Conn, msg *Message) {
	if s.ops.TicketPrinter == nil {
		s.unsupported(ctx, conn, msg, bridge.MethodPrintTicket)
		return
	}
	id := jobID(msg)

	// Validate document exists
	if len(msg.Datos) == 0 {
		log.Printf("[QUEUE] ❌ Job %s rejected: missing 'datos' field", id)
		s.sendError(ctx, conn, id, "Field 'datos' is required for type 'ticket'")
		return
	}
	var req TicketRequest
	if err := json.Unmarshal(msg.Datos, &req); err != nil {
		log.Printf("[QUEUE] ❌ Job %s rejected: %v", id, err)
		s.sendError(ctx, conn, id, "Field 'datos' is not a valid ticket: "+err.Error())
		return
	}
	if len(req.Lines) == 0 {
		log.Printf("[QUEUE] ❌ Job %s rejected: no lines", id)
		s.sendError(ctx, conn, id, "Field 'datos.lines' must contain at least one line")
		return
	}

	s.enqueue(ctx, conn, &PrintJob{
		ID:          id,
		Kind:        JobTicket,
		ClientConn:  conn,
		PrinterName: strings.TrimSpace(req.PrinterName),
		Payload:     bridge.NewTicketPayload(req.Title, req.Lines, req.PaperWidthMm),
		ReceivedAt:  time.Now(),
	})
}

func (s *Server) enqueue(ctx context.Context, conn *websocket.Conn, job *PrintJob) {
	if !s.limiter.Allow(s.clients.Addr(conn)) {
		s.metrics.IncrementRateLimited()
		log.Printf("[QUEUE] 🚫 Rate limit exceeded, rejecting job: %s", job.ID)
		s.sendError(ctx, conn, job.ID, "Too many print requests, please wait a minute")
		return
	}

	// Try to enqueue (non-blocking)
	select {
	case s.jobQueue <- job:
		current, capacity := s.QueueStatus()
		s.metrics.SetQueueDepth(current)
		log.Printf("[QUEUE] 📥 Job queued: %s (%s, queue: %d/%d)", job.ID, job.Kind, current, capacity)

		response := Response{
			Tipo:     TypeAck,
			ID:       job.ID,
			Status:   "queued",
			Current:  current,
			Capacity: capacity,
			Mensaje:  "Job queued for printing",
		}
		_ = wsjson.Write(ctx, conn, response)

	default:
		// Queue full
		current, capacity := s.QueueStatus()
		log.Printf("[QUEUE] 🚫 Queue full, rejecting job: %s (%d/%d)", job.ID, current, capacity)
		s.sendError(ctx, conn, job.ID, "Queue full, please retry in a few seconds")
	}
}

// handleStatus sends queue status
func (s *Server) handleStatus(ctx context.Context, conn *websocket.Conn, msg *Message) {
	current, capacity := s.QueueStatus()

	response := Response{
		Tipo:     TypeStatus,
		ID:       msg.ID,
		Status:   "ok",
		Current:  current,
		Capacity: capacity,
		Mensaje:  formatStatus(current, capacity),
	}
	_ = wsjson.Write(ctx, conn, response)
}

// handlePing responds to ping
func (s *Server) handlePing(ctx context.Context, conn *websocket.Conn, msg *Message) {
	response := Response{
		Tipo:   TypePong,
		ID:     msg.ID,
		Status: "ok",
	}
	_ = wsjson.Write(ctx, conn, response)
}

// broadcastSettings tells the other clients the persisted settings changed
func (s *Server) broadcastSettings(ctx context.Context, origin *websocket.Conn) {
	if s.ops.Settings == nil {
		return
	}
	callCtx, cancel := s.ops.CallContext(ctx)
	defer cancel()

	settings, err := s.ops.Settings.GetPrinterSettings(callCtx)
	if err != nil {
		log.Printf("[WS] ⚠️ Could not read settings for broadcast: %v", err)
		return
	}
	notice := Response{Tipo: TypeSettingsChanged, Status: "ok", Datos: settings}
	failed := s.clients.Broadcast(func(c *websocket.Conn) error {
		if c == origin {
			return nil
		}
		writeCtx, cancelWrite := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelWrite()
		return wsjson.Write(writeCtx, c, notice)
	})
	if failed > 0 {
		log.Printf("[WS] ⚠️ Settings broadcast failed for %d client(s)", failed)
	}
}

func (s *Server) reply(ctx context.Context, conn *websocket.Conn, msg *Message, mensaje string, datos any) {
	response := Response{
		Tipo:    msg.Tipo,
		ID:      msg.ID,
		Status:  "ok",
		Mensaje: mensaje,
		Datos:   datos,
	}
	_ = wsjson.Write(ctx, conn, response)
}

func (s *Server) unsupported(ctx context.Context, conn *websocket.Conn, msg *Message, method string) {
	s.sendError(ctx, conn, msg.ID, "Host does not support "+method)
}

// sendError sends error response to client
func (s *Server) sendError(ctx context.Context, conn *websocket.Conn, id, mensaje string) {
	response := Response{
		Tipo:    TypeError,
		ID:      id,
		Status:  "error",
		Mensaje: mensaje,
	}
	_ = wsjson.Write(ctx, conn, response)
}

// NotifyClient sends a result back to a specific client
func (s *Server) NotifyClient(conn *websocket.Conn, response Response) error {
	if conn == nil {
		return nil
	}
	if !s.clients.Contains(conn) {
		return fmt.Errorf("client for job %s disconnected", response.ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return wsjson.Write(ctx, conn, response)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdownChan)

		clientCount := s.clients.Count()
		log.Printf("[WS] 🛑 Shutting down, disconnecting %d clients", clientCount)

		// Notify all clients
		s.clients.ForEach(func(conn *websocket.Conn) {
			err := conn.Close(websocket.StatusGoingAway, "Server shutting down")
			if err != nil {
				return
			}
		})
	})
}

func decodeDatos(msg *Message, dst any) error {
	if len(msg.Datos) == 0 {
		return fmt.Errorf("Field 'datos' is required for type '%s'", msg.Tipo)
	}
	if err := json.Unmarshal(msg.Datos, dst); err != nil {
		return fmt.Errorf("Field 'datos' is invalid for type '%s': %v", msg.Tipo, err)
	}
	return nil
}

func jobID(msg *Message) string {
	// Generate ID if not provided
	if msg.ID != "" {
		return msg.ID
	}
	return uuid.New().String()
}

func formatStatus(current, capacity int) string {
	return "Queue: " + strconv.Itoa(current) + "/" + strconv.Itoa(capacity)
}
