// Package worker contiene la lógica del procesador de trabajos de impresión.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/adcondev/ticket-bridge/internal/bridge"
	"github.com/adcondev/ticket-bridge/internal/metrics"
	"github.com/adcondev/ticket-bridge/internal/server"
	"github.com/adcondev/ticket-bridge/internal/storage"
	workererrors "github.com/adcondev/ticket-bridge/internal/worker/errors"
)

// Config holds worker configuration
type Config struct {
	JobTimeout time.Duration // bounds one job including printer resolution
	Metrics    *metrics.Metrics
}

// ClientNotifier interface for sending results back to clients
type ClientNotifier interface {
	NotifyClient(conn *websocket.Conn, response server.Response) error
}

// Printer runs print jobs. *hostbridge.Host implements it.
type Printer interface {
	ResolvePrinter(ctx context.Context, requested string) (string, error)
	TestPrint(ctx context.Context, printerName string) (bridge.TestPrintResult, error)
	PrintTicketTo(ctx context.Context, printerName string, payload bridge.TicketPayload) (bridge.PrintResult, error)
}

// Recorder keeps the print history. *storage.Store implements it.
type Recorder interface {
	RecordPrint(ctx context.Context, rec storage.PrintRecord) error
}

// Worker consumes print jobs from the queue and executes them on the host printers
type Worker struct {
	jobQueue      <-chan *server.PrintJob
	notifier      ClientNotifier
	printer       Printer
	recorder      Recorder
	config        Config
	stopChan      chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	isRunning     bool
	jobsProcessed int64
	jobsFailed    int64
	lastJobTime   time.Time
}

// NewWorker creates a new print worker. recorder may be nil.
func NewWorker(jobQueue <-chan *server.PrintJob, notifier ClientNotifier, printer Printer, recorder Recorder, config Config) *Worker {
	if config.JobTimeout <= 0 {
		config.JobTimeout = 90 * time.Second
	}
	return &Worker{
		jobQueue: jobQueue,
		notifier: notifier,
		printer:  printer,
		recorder: recorder,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Start begins the worker goroutine
func (w *Worker) Start() {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run()

	log.Println("[WORKER] ✅ Print worker started and ready")
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()

	stats := w.Stats()
	log.Printf("[WORKER] 🛑 Print worker stopped (processed: %d, failed: %d)", stats.JobsProcessed, stats.JobsFailed)
}

// run is the main worker loop
func (w *Worker) run() {
	defer w.wg.Done()

	log.Println("[WORKER] 👂 Waiting for print jobs...")

	for {
		select {
		case <-w.stopChan:
			log.Println("[WORKER] 📴 Received stop signal")
			return

		case job, ok := <-w.jobQueue:
			if !ok {
				log.Println("[WORKER] 📴 Job channel closed, exiting")
				return
			}
			w.config.Metrics.SetQueueDepth(len(w.jobQueue))
			w.processJob(job)
		}
	}
}

// processJob handles a single print job
func (w *Worker) processJob(job *server.PrintJob) {
	startTime := time.Now()
	log.Printf("[WORKER] 🔄 Processing job: %s (%s)", job.ID, job.Kind)

	ctx, cancel := context.WithTimeout(context.Background(), w.config.JobTimeout)
	defer cancel()

	// Process the job
	rec, err := w.executePrint(ctx, job)

	duration := time.Since(startTime)

	// Update statistics
	w.mu.Lock()
	w.lastJobTime = time.Now()
	if err != nil {
		w.jobsFailed++
	} else {
		w.jobsProcessed++
	}
	w.mu.Unlock()

	w.record(job, rec, err)

	// Prepare response
	var response server.Response
	if err != nil {
		// Log detailed error to file for debugging
		log.Printf("[WORKER] ❌ Job %s FAILED after %v: %v", job.ID, duration, err)

		response = server.Response{
			Tipo:    server.TypeResult,
			ID:      job.ID,
			Status:  "error",
			Mensaje: workererrors.ExtractUserFriendlyError(err),
			Datos:   rec.result,
		}
	} else {
		log.Printf("[WORKER] ✅ Job %s completed in %v", job.ID, duration)
		response = server.Response{
			Tipo:    server.TypeResult,
			ID:      job.ID,
			Status:  "success",
			Mensaje: fmt.Sprintf("Print completed in %v", duration.Round(time.Millisecond)),
			Datos:   rec.result,
		}
	}

	// Notify client (async to not block worker loop)
	if job.ClientConn != nil && w.notifier != nil {
		go func() {
			if err := w.notifier.NotifyClient(job.ClientConn, response); err != nil {
				log.Printf("[WORKER] ⚠️ Failed to notify client for job %s: %v", job.ID, err)
			}
		}()
	}
}

// outcome is what a job printed and where.
type outcome struct {
	printerName string
	exitCode    int
	result      any
}

// executePrint performs the actual printing on the resolved printer
func (w *Worker) executePrint(ctx context.Context, job *server.PrintJob) (out outcome, err error) {
	// Capturar panics y convertirlos en errores
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic recovered in executePrint: %v", r)
			log.Printf("[WORKER] 💥 Panic in job %s: %v\nStack: %s",
				job.ID, r, debug.Stack())
		}
	}()

	if w.printer == nil {
		return out, errors.New("no printer host configured")
	}

	// 1. Resolve the target printer; empty means the system default.
	// Test prints name their target explicitly and never fall back to the selection.
	if job.Kind == server.JobTestPrint {
		out.printerName = strings.TrimSpace(job.PrinterName)
	} else {
		out.printerName, err = w.printer.ResolvePrinter(ctx, job.PrinterName)
		if err != nil {
			return out, fmt.Errorf("error resolving printer: %w", err)
		}
	}
	log.Printf("[WORKER] 🖨️ Job %s -> Printer: %s", job.ID, displayName(out.printerName))

	// 2. Print
	switch job.Kind {
	case server.JobTestPrint:
		res, err := w.printer.TestPrint(ctx, out.printerName)
		out.result = res
		if out.printerName == "" {
			out.printerName = res.PrinterName
		}
		if err != nil {
			return out, fmt.Errorf("error printing test ticket: %w", err)
		}
		if !res.OK {
			return out, errors.New(failureText(res.Error))
		}

	case server.JobTicket:
		if len(job.Payload.Lines) == 0 {
			return out, errors.New("ticket has no lines")
		}
		res, err := w.printer.PrintTicketTo(ctx, out.printerName, job.Payload)
		out.result = res
		out.exitCode = res.ExitCode
		if err != nil {
			return out, fmt.Errorf("error printing ticket: %w", err)
		}
		if !res.OK {
			return out, errors.New(failureText(res.Error))
		}

	default:
		return out, fmt.Errorf("unknown job kind %q", job.Kind)
	}

	return out, nil
}

// record stores the job in the print history
func (w *Worker) record(job *server.PrintJob, out outcome, jobErr error) {
	if w.recorder == nil {
		return
	}
	rec := storage.PrintRecord{
		JobID:       job.ID,
		Kind:        string(job.Kind),
		PrinterName: out.printerName,
		OK:          jobErr == nil,
		ExitCode:    out.exitCode,
	}
	if jobErr != nil {
		rec.Error = jobErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.recorder.RecordPrint(ctx, rec); err != nil {
		log.Printf("[WORKER] ⚠️ Could not record job %s: %v", job.ID, err)
	}
}

func failureText(msg string) string {
	if msg == "" {
		return "print failed"
	}
	return msg
}

func displayName(name string) string {
	if name == "" {
		return "(default)"
	}
	return name
}

// Stats returns current worker statistics
func (w *Worker) Stats() Statistics {
	w.mu.Lock()
	defer w.mu.Unlock()

	return Statistics{
		IsRunning:     w.isRunning,
		JobsProcessed: w.jobsProcessed,
		JobsFailed:    w.jobsFailed,
		LastJobTime:   w.lastJobTime,
	}
}

// Statistics holds worker runtime statistics
type Statistics struct {
	IsRunning     bool      `json:"is_running"`
	JobsProcessed int64     `json:"jobs_processed"`
	JobsFailed    int64     `json:"jobs_failed"`
	LastJobTime   time.Time `json:"last_job_time,omitempty"`
}
