package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/judwhite/go-svc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adcondev/ticket-bridge/internal/bridge"
	"github.com/adcondev/ticket-bridge/internal/capability"
	"github.com/adcondev/ticket-bridge/internal/config"
	"github.com/adcondev/ticket-bridge/internal/executor"
	"github.com/adcondev/ticket-bridge/internal/hostbridge"
	"github.com/adcondev/ticket-bridge/internal/metrics"
	"github.com/adcondev/ticket-bridge/internal/printer"
	"github.com/adcondev/ticket-bridge/internal/server"
	"github.com/adcondev/ticket-bridge/internal/storage"
	"github.com/adcondev/ticket-bridge/internal/worker"
)

const (
	discoveryTTL        = 30 * time.Second
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
	defaultTailLines    = 200
)

// GetEnvConfig returns the current environment configuration with file and
// environment overrides applied
func GetEnvConfig() (config.Environment, error) {
	return config.Load(config.BuildEnvironment)
}

// osPrinters is what the service needs from the OS print executor.
type osPrinters interface {
	hostbridge.Printers
	PrinterSource
}

// Program implements svc.Service interface
type Program struct {
	wg               sync.WaitGroup
	quit             chan struct{}
	ctx              context.Context
	cancel           context.CancelFunc
	cfg              config.Environment
	httpServer       *http.Server
	wsServer         *server.Server
	printWorker      *worker.Worker
	store            *storage.Store
	host             *hostbridge.Host
	registry         *prometheus.Registry
	startTime        time.Time
	printerDiscovery *PrinterDiscovery
}

// Init initializes the service
func (p *Program) Init(env svc.Environment) error {
	envConfig, err := GetEnvConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	p.cfg = envConfig

	var console io.Writer
	if env == nil || !env.IsWindowsService() {
		console = os.Stdout
	}
	if err := initLogging(envConfig, console); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║   🎫 TICKET BRIDGE - POS Receipt Print Service             ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")
	log.Printf("[INIT] 🚀 Starting service - Environment: %s", envConfig.Name)
	log.Printf("[INIT] 📅 Build: %s %s", config.BuildDate, config.BuildTime)

	return nil
}

// Start starts the service
func (p *Program) Start() error {
	p.quit = make(chan struct{})
	p.startTime = time.Now()
	p.ctx, p.cancel = context.WithCancel(context.Background())
	cfg := p.cfg

	dbPath := cfg.DBPath(programDataDir())
	store, err := storage.Open(dbPath)
	if err != nil {
		p.cancel()
		return err
	}
	p.store = store
	log.Printf("[INIT] 💾 Settings database: %s", dbPath)

	p.registry = prometheus.NewRegistry()
	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewWithRegisterer(p.registry)

	exec := executor.New(executor.Config{
		ListTimeout:  cfg.ListTimeout,
		PrintTimeout: cfg.PrintTimeout,
		FeedLines:    cfg.FeedLines,
		Source:       cfg.ServiceName,
		Metrics:      m,
	})
	log.Printf("[INIT] 🖨️ Print backend: %s", exec.Platform())

	p.wire(exec, m)
	p.printerDiscovery.LogStartupDiagnostics(p.ctx)
	p.printWorker.Start()

	p.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      p.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		log.Println("┌─────────────────────────────────────────────────────────────┐")
		log.Printf("│ 🎫 TICKET BRIDGE READY - Environment: %-22s│", cfg.Name)
		log.Printf("│ 🔌 WebSocket: ws://%s/ws%-25s│", cfg.ListenAddr, "")
		log.Printf("│ 💚 Health:    http://%s/health%-20s│", cfg.ListenAddr, "")
		log.Printf("│ 📈 Metrics:   http://%s/metrics%-19s│", cfg.ListenAddr, "")
		log.Println("└─────────────────────────────────────────────────────────────┘")

		if err := p.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[HTTP] ❌ Error starting HTTP server: %v", err)
		}
	}()

	return nil
}

// wire builds the host, WebSocket server, worker and discovery over printers.
func (p *Program) wire(printers osPrinters, m *metrics.Metrics) {
	cfg := p.cfg

	hostCfg := hostbridge.Config{
		DefaultPrinter:    cfg.DefaultPrinter,
		DefaultPaperWidth: cfg.DefaultPaperWidthMm,
		PrintingDisabled:  cfg.PrintingDisabled,
	}
	if cfg.PrintingDisabled {
		hostCfg.DisabledReason = "disabled by configuration"
	}
	p.host = hostbridge.New(printers, p.store, hostCfg)

	p.printerDiscovery = NewPrinterDiscovery(printers, p.host, discoveryTTL)

	p.wsServer = server.NewServer(server.Config{
		QueueSize:      cfg.QueueCapacity,
		AllowedOrigins: cfg.AllowedOrigins,
		JobsPerMinute:  cfg.JobsPerMinute,
		CallTimeout:    cfg.BridgeTimeout,
		Metrics:        m,
	}, p.host, p.printerDiscovery)

	p.printWorker = worker.NewWorker(
		p.wsServer.JobQueue(),
		p.wsServer,
		p.host,
		p.store,
		worker.Config{JobTimeout: cfg.ListTimeout + cfg.PrintTimeout, Metrics: m},
	)
}

// routes builds the HTTP mux
func (p *Program) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", p.wsServer.HandleWebSocket)
	mux.HandleFunc("/health", p.handleHealth) // Health is public for monitoring tools
	mux.Handle("/metrics", promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/history", localOnly(p.handleHistory))
	mux.HandleFunc("/logs", localOnly(handleLogs))
	return mux
}

func (p *Program) handleHealth(w http.ResponseWriter, r *http.Request) {
	current, capacity := p.wsServer.QueueStatus()
	stats := p.printWorker.Stats()

	var utilization float64
	if capacity > 0 {
		utilization = float64(current) / float64(capacity) * 100
	}

	ops := bridge.Probe(p.host)
	detected := capability.DetectOps(r.Context(), ops)

	response := HealthResponse{
		Status: "ok",
		Queue: QueueStatus{
			Current:     current,
			Capacity:    capacity,
			Utilization: utilization,
		},
		Worker: WorkerStatus{
			Running:       stats.IsRunning,
			JobsProcessed: stats.JobsProcessed,
			JobsFailed:    stats.JobsFailed,
		},
		Printers: p.printerDiscovery.GetSummary(r.Context()),
		Host: HostStatus{
			Platform:  p.hostPlatform(),
			Printing:  detected.Available,
			Reason:    string(detected.Reason),
			Methods:   ops.Methods(),
			LogSizeKB: GetLogFileSize() / 1024,
		},
		Clients: p.wsServer.ClientCount(),
		Build: BuildInfo{
			Env:  config.BuildEnvironment,
			Date: config.BuildDate,
			Time: config.BuildTime,
		},
		Uptime: int(time.Since(p.startTime).Seconds()),
	}

	if response.Printers.Status == printer.StatusError || !detected.Available {
		response.Status = "degraded"
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	writeJSON(w, response)
}

func (p *Program) hostPlatform() string {
	caps, err := p.host.GetCapabilities(context.Background())
	if err != nil {
		return ""
	}
	if c, ok := caps.(bridge.Capabilities); ok {
		return c.Platform
	}
	return ""
}

func (p *Program) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := queryInt(r, "limit", defaultHistoryLimit, maxHistoryLimit)
	records, err := p.store.RecentPrints(r.Context(), limit)
	if err != nil {
		log.Printf("[HTTP] ❌ History query failed: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, records)
}

// handleLogs returns the log tail on GET and trims the log file on POST.
func handleLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		lines := TailLog(queryInt(r, "lines", defaultTailLines, 1000))
		writeJSON(w, map[string]any{"lines": lines, "verbose": GetVerbose()})
	case http.MethodPost:
		if err := FlushLogFile(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// localOnly rejects requests that do not come from the loopback interface.
func localOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
			log.Printf("[AUDIT] LOCAL_ONLY_BLOCKED | IP=%s | path=%s", r.RemoteAddr, r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func queryInt(r *http.Request, key string, def, maxValue int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return def
	}
	if n > maxValue {
		return maxValue
	}
	return n
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] ⚠️ Error writing response: %v", err)
	}
}

// Stop stops the service gracefully
func (p *Program) Stop() error {
	log.Println("[STOP] 🛑 Service shutting down...")

	if p.cancel != nil {
		p.cancel()
	}

	// 1. Stop print worker
	if p.printWorker != nil {
		p.printWorker.Stop()
	}

	// 2. Graceful HTTP shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if p.httpServer != nil {
		if err := p.httpServer.Shutdown(ctx); err != nil {
			log.Printf("[STOP] ⚠️ HTTP shutdown error: %v", err)
		}
	}

	// 3. Shutdown WebSocket server
	if p.wsServer != nil {
		p.wsServer.Shutdown()
	}

	// 4. Close the settings database
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			log.Printf("[STOP] ⚠️ Database close error: %v", err)
		}
	}

	if p.quit != nil {
		close(p.quit)
	}
	p.wg.Wait()

	uptime := time.Since(p.startTime)
	log.Printf("[STOP] ✅ Service stopped (uptime: %v)", uptime.Round(time.Second))
	CloseLogger()
	return nil
}

// programDataDir is PROGRAMDATA on Windows and the user config directory elsewhere.
func programDataDir() string {
	if dir := os.Getenv("PROGRAMDATA"); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return os.TempDir()
}

func initLogging(envConfig config.Environment, console io.Writer) error {
	logPath := envConfig.LogPath(programDataDir())
	logDir := filepath.Dir(logPath)

	if err := os.MkdirAll(logDir, 0750); err != nil {
		return err
	}

	if err := InitLogger(logPath, envConfig.Verbose, console); err != nil {
		return err
	}

	log.Printf("[INIT] 📁 Log file: %s", logPath)
	return nil
}
