package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/clock"
	"grimm.is/warden/internal/exposure"
	"grimm.is/warden/internal/health"
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/monitor"
	"grimm.is/warden/internal/ratelimit"
	"grimm.is/warden/internal/stats"
)

// ServerConfig holds HTTP server timeouts.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration // Slowloris prevention
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	// RequestTimeout bounds how long a handler waits on the service.
	RequestTimeout time.Duration
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
	// RateLimit caps /api requests per client in each RateWindow; 0 disables.
	RateLimit  int
	RateWindow time.Duration
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
		RequestTimeout:    10 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		RateLimit:         120,
		RateWindow:        time.Minute,
	}
}

// Backend is the read side of the monitor service.
type Backend interface {
	Ports(ctx context.Context) (*monitor.PortsView, error)
	RejectRules(ctx context.Context) ([]monitor.RejectRule, error)
	Exposure(ctx context.Context) (*exposure.Report, error)
	Stats(ctx context.Context, kind stats.Kind) (stats.Result, error)
}

// Server handles API requests.
type Server struct {
	backend   Backend
	logger    *logging.Logger
	clock     clock.Clock
	config    *ServerConfig
	startTime time.Time
	limiter   *ratelimit.Limiter

	mux *http.ServeMux
}

// ServerOptions holds dependencies for the API server
type ServerOptions struct {
	Backend Backend
	Logger  *logging.Logger
	Config  *ServerConfig
	// Gatherer backs /metrics; the default registry when nil.
	Gatherer prometheus.Gatherer
	// Health backs /api/health and /readyz when set.
	Health *health.Checker
	Clock  clock.Clock
}

// NewServer creates a new API server with the provided options
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Backend == nil {
		return nil, errors.New("api: backend is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	s := &Server{
		backend:   opts.Backend,
		logger:    logger.WithComponent("api"),
		clock:     clk,
		config:    cfg,
		startTime: clk.Now(),
		mux:       http.NewServeMux(),
	}
	if cfg.RateLimit > 0 && cfg.RateWindow > 0 {
		s.limiter = ratelimit.NewLimiter(cfg.RateLimit, cfg.RateWindow, clk)
	}

	metricsHandler := promhttp.Handler()
	if opts.Gatherer != nil {
		metricsHandler = promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})
	}
	s.mux.Handle("GET /metrics", metricsHandler)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /healthz", s.handleStatus)
	s.mux.HandleFunc("GET /api/ports", s.handlePorts)
	s.mux.HandleFunc("GET /api/ports/rejects", s.handleRejects)
	s.mux.HandleFunc("GET /api/exposure", s.handleExposure)
	s.mux.HandleFunc("GET /api/stats/{kind}", s.handleStats)
	if opts.Health != nil {
		s.mux.HandleFunc("GET /api/health", opts.Health.Handler())
		s.mux.HandleFunc("GET /readyz", opts.Health.ReadinessHandler())
	}
	return s, nil
}

// Handler returns the routed handler wrapped in the access logger.
func (s *Server) Handler() http.Handler {
	return AccessLogger(s.logger, s.rateLimit(s.mux))
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
		MaxHeaderBytes:    s.config.MaxHeaderBytes,
	}

	if s.limiter != nil {
		cleanupCtx, stop := context.WithCancel(ctx)
		defer stop()
		go s.limiter.RunCleanup(cleanupCtx, s.config.RateWindow, 2*s.config.RateWindow)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.config.RequestTimeout)
}

// fail writes err with its mapped status.
func (s *Server) fail(w http.ResponseWriter, what string, err error) {
	WriteError(w, StatusFor(err), what+" unavailable", err.Error())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "online",
		"name":    brand.Name,
		"version": brand.Version,
		"uptime":  s.clock.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	view, err := s.backend.Ports(ctx)
	if err != nil {
		s.fail(w, "ports", err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

func (s *Server) handleRejects(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	rules, err := s.backend.RejectRules(ctx)
	if err != nil {
		s.fail(w, "reject rules", err)
		return
	}
	if rules == nil {
		rules = []monitor.RejectRule{}
	}
	WriteJSON(w, http.StatusOK, rules)
}

func (s *Server) handleExposure(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	report, err := s.backend.Exposure(ctx)
	if err != nil {
		s.fail(w, "exposure", err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

// statsResponse flattens a cache result for clients.
type statsResponse struct {
	Kind     stats.Kind      `json:"kind"`
	State    stats.State     `json:"state"`
	AgeMs    int64           `json:"age_ms"`
	Error    string          `json:"error,omitempty"`
	Snapshot *stats.Snapshot `json:"snapshot,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	kind, err := stats.ParseKind(r.PathValue("kind"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid stats kind", err.Error())
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	res, err := s.backend.Stats(ctx, kind)
	if err != nil {
		s.fail(w, string(kind)+" stats", err)
		return
	}
	WriteJSON(w, http.StatusOK, statsResponse{
		Kind:     kind,
		State:    res.State,
		AgeMs:    res.Age.Milliseconds(),
		Error:    res.ErrText(),
		Snapshot: res.Snapshot,
	})
}
