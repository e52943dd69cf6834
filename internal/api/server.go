// Package api provides the live monitor: an optional HTTP server that exposes
// Prometheus metrics, the state of the running audit and a websocket stream
// of scan events.
//
//go:generate swag init -g server.go -d ./ -o ../../docs --outputTypes go --parseInternal
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/anstrom/portaudit/docs" // Import generated swagger docs
	"github.com/anstrom/portaudit/internal/api/middleware"
	"github.com/anstrom/portaudit/internal/audit"
	"github.com/anstrom/portaudit/internal/logging"
	"github.com/anstrom/portaudit/internal/metrics"
	"github.com/anstrom/portaudit/internal/report"
	"github.com/anstrom/portaudit/internal/scanning"
)

// @title portaudit live monitor
// @version 1.0
// @description Read-only view of a running port audit: health, the current scan,
// @description request statistics and a websocket stream of scan events.
//
// @contact.name portaudit
// @contact.url https://github.com/anstrom/portaudit
//
// @license.name MIT
//
// @host 127.0.0.1:9090
// @BasePath /api/v1

const (
	defaultShutdownTimeout = 10 * time.Second
	systemMetricsInterval  = 15 * time.Second
	progressInterval       = 250 * time.Millisecond

	statusRunning = "running"
)

var _ audit.Observer = (*Server)(nil)

type statsProvider interface {
	GetStats() scanning.ResourceStats
}

// Config holds live monitor settings.
type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
}

// DefaultConfig returns default monitor configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      "127.0.0.1:9090",
		ShutdownTimeout: defaultShutdownTimeout,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
	}
}

// ScanSnapshot is the monitor's view of the current or last audit.
type ScanSnapshot struct {
	ScanID     string     `json:"scan_id"`
	Target     string     `json:"target"`
	Ports      string     `json:"ports"`
	Status     string     `json:"status"`
	OpenPorts  []uint16   `json:"open_ports"`
	Probed     int        `json:"probed"`
	Total      int        `json:"total"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (s *ScanSnapshot) clone() *ScanSnapshot {
	c := *s
	c.OpenPorts = slices.Clone(s.OpenPorts)
	return &c
}

// Option customizes a Server.
type Option func(*Server)

// WithRegistry sets the in-process registry used for HTTP metrics and /api/v1/stats.
func WithRegistry(r metrics.RequestRecorder) Option {
	return func(s *Server) {
		s.registry = r
	}
}

// WithPrometheus sets the Prometheus metrics served on /metrics.
func WithPrometheus(m *metrics.PrometheusMetrics) Option {
	return func(s *Server) {
		s.prom = m
	}
}

// WithResourceManager reports audit slots from rm on the health endpoint.
func WithResourceManager(rm scanning.ResourceManager) Option {
	return func(s *Server) {
		s.resources = rm
	}
}

// Server is the live monitor. It implements audit.Observer.
type Server struct {
	config    Config
	router    *mux.Router
	logger    *logging.Logger
	registry  metrics.RequestRecorder
	prom      *metrics.PrometheusMetrics
	resources scanning.ResourceManager
	hub       *Hub
	startTime time.Time

	httpServer *http.Server
	listener   net.Listener
	cancel     context.CancelFunc
	stopOnce   sync.Once
	stopErr    error

	mu           sync.RWMutex
	current      *ScanSnapshot
	lastProgress time.Time
}

// New creates a monitor server. Call Start to begin serving.
func New(config Config, opts ...Option) *Server {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}

	s := &Server{
		config:    config,
		router:    mux.NewRouter(),
		logger:    logging.Default().WithComponent("monitor"),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = metrics.Default()
	}
	if s.prom == nil {
		s.prom = metrics.GetGlobalMetrics()
	}

	var allowOrigin func(string) bool
	if len(config.AllowedOrigins) > 0 {
		allowOrigin = s.originAllowed
	}
	s.hub = NewHub(s.logger, allowOrigin)
	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         config.ListenAddr,
		Handler:      s.handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.HandlerFor(s.prom.GetRegistry(), promhttp.HandlerOpts{})).
		Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	api.HandleFunc("/scan", s.scanHandler).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.statsHandler).Methods(http.MethodGet)
	api.Handle("/events", s.hub).Methods(http.MethodGet)

	s.router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("none"),
	))

	s.router.HandleFunc("/", s.indexHandler).Methods(http.MethodGet)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger.Logger))
	s.router.Use(middleware.Logging(s.logger.Logger))
	s.router.Use(middleware.Metrics(s.registry))
	s.router.Use(middleware.SecurityHeaders())
}

// handler wraps the router in CORS handling when origins are configured.
func (s *Server) handler() http.Handler {
	if len(s.config.AllowedOrigins) == 0 {
		return s.router
	}
	return handlers.CORS(
		handlers.AllowedOrigins(s.config.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "X-Request-ID"}),
	)(s.router)
}

func (s *Server) originAllowed(origin string) bool {
	return slices.Contains(s.config.AllowedOrigins, "*") || slices.Contains(s.config.AllowedOrigins, origin)
}

// Router returns the configured router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Hub returns the websocket event hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listen address and serves in the background until ctx is
// cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("monitor listen on %s: %w", s.config.ListenAddr, err)
	}
	s.listener = listener

	ctx, s.cancel = context.WithCancel(ctx)
	go s.prom.StartPeriodicUpdates(ctx, systemMetricsInterval)

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Monitor server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()

	s.logger.Info("Live monitor listening", "address", listener.Addr().String())
	return nil
}

// Addr returns the bound address once Start succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.config.ListenAddr
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the server within the configured shutdown timeout.
// It is safe to call more than once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.hub.Close()

		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("Monitor shutdown error", "error", err)
			s.stopErr = fmt.Errorf("monitor shutdown failed: %w", err)
			return
		}
		s.logger.Info("Live monitor stopped")
	})
	return s.stopErr
}

// Snapshot returns a copy of the current audit state, or nil before the
// first audit.
func (s *Server) Snapshot() *ScanSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	return s.current.clone()
}

// ScanStarted implements audit.Observer.
func (s *Server) ScanStarted(scanID, target string, ports scanning.PortRange) {
	snap := &ScanSnapshot{
		ScanID:    scanID,
		Target:    target,
		Ports:     ports.String(),
		Status:    statusRunning,
		OpenPorts: []uint16{},
		Total:     ports.Size(),
		StartedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.current = snap
	s.lastProgress = time.Time{}
	s.mu.Unlock()

	s.hub.Broadcast(Event{Type: EventScanStarted, ScanID: scanID, Data: snap.clone()})
}

// PortOpen implements audit.Observer.
func (s *Server) PortOpen(scanID string, port uint16) {
	s.mu.Lock()
	if s.current != nil && s.current.ScanID == scanID {
		s.current.OpenPorts = append(s.current.OpenPorts, port)
	}
	s.mu.Unlock()

	s.hub.Broadcast(Event{Type: EventPortOpen, ScanID: scanID, Data: map[string]interface{}{
		"port":    port,
		"service": report.ServiceName(port),
	}})
}

// Progress implements audit.Observer. Events are throttled; the snapshot is
// always current.
func (s *Server) Progress(scanID string, probed, total int) {
	now := time.Now()

	s.mu.Lock()
	if s.current == nil || s.current.ScanID != scanID {
		s.mu.Unlock()
		return
	}
	s.current.Probed = probed
	s.current.Total = total
	emit := probed == total || now.Sub(s.lastProgress) >= progressInterval
	if emit {
		s.lastProgress = now
	}
	s.mu.Unlock()

	if emit {
		s.hub.Broadcast(Event{Type: EventProgress, ScanID: scanID, Data: map[string]int{
			"probed": probed,
			"total":  total,
		}})
	}
}

// ScanFinished implements audit.Observer.
func (s *Server) ScanFinished(scanID string, result *scanning.ScanResult, status scanning.ScanStatus) {
	finished := time.Now().UTC()

	s.mu.Lock()
	if s.current == nil || s.current.ScanID != scanID {
		s.mu.Unlock()
		return
	}
	s.current.Status = status.String()
	s.current.FinishedAt = &finished
	if result != nil {
		s.current.OpenPorts = slices.Clone(result.Ports)
		s.current.Probed = result.Probed
	}
	snap := s.current.clone()
	s.mu.Unlock()

	s.hub.Broadcast(Event{Type: EventScanFinished, ScanID: scanID, Data: snap})
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"service": "portaudit monitor",
		"endpoints": map[string]string{
			"metrics": "/metrics",
			"health":  "/api/v1/health",
			"scan":    "/api/v1/scan",
			"stats":   "/api/v1/stats",
			"events":  "/api/v1/events",
			"swagger": "/swagger/index.html",
		},
		"timestamp": time.Now().UTC(),
	})
}

// healthHandler godoc
// @Summary Health check
// @Description Returns monitor uptime, connected event clients and audit slot usage
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
// @ID getHealth
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startTime).String(),
		"clients":   s.hub.ClientCount(),
	}
	if s.resources != nil {
		active := s.resources.GetActiveScans()
		scans := make([]string, 0, len(active))
		for id := range active {
			scans = append(scans, id)
		}
		slices.Sort(scans)
		response["active_scans"] = scans
		response["available_slots"] = s.resources.GetAvailableSlots()
		if sp, ok := s.resources.(statsProvider); ok {
			response["resources"] = sp.GetStats()
		}
	}
	s.writeJSON(w, r, http.StatusOK, response)
}

// scanHandler godoc
// @Summary Current audit
// @Description Returns the state of the running audit, or of the last one once it finished
// @Tags Audit
// @Produce json
// @Success 200 {object} ScanSnapshot
// @Failure 404 {object} ErrorResponse
// @Router /scan [get]
// @ID getScan
func (s *Server) scanHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.Snapshot()
	if snap == nil {
		s.writeError(w, r, http.StatusNotFound, fmt.Errorf("no audit has started yet"))
		return
	}
	s.writeJSON(w, r, http.StatusOK, snap)
}

// statsHandler godoc
// @Summary Request statistics
// @Description Returns the in-process HTTP request counters and timings of the monitor
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /stats [get]
// @ID getStats
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"metrics":   s.registry.GetMetrics(),
		"timestamp": time.Now().UTC(),
	})
}

// ErrorResponse represents a standard API error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	s.logger.Debug("API error",
		"method", r.Method,
		"path", r.URL.Path,
		"status", statusCode,
		"error", err)

	s.writeJSON(w, r, statusCode, ErrorResponse{
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetRequestID(r),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response",
			"error", err,
			"path", r.URL.Path,
			"method", r.Method)
	}
}
