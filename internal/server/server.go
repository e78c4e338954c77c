// Package server publishes build status over HTTP while quicktex watches a
// source tree.
//
// Routes:
//
//	/healthz  liveness and build counters as JSON
//	/metrics  Prometheus exposition
//	/ws       WebSocket stream of build messages
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/conneroisu/quicktex/internal/build"
	"github.com/conneroisu/quicktex/internal/logging"
	"github.com/conneroisu/quicktex/internal/metrics"
	"github.com/conneroisu/quicktex/internal/version"
	prom "github.com/prometheus/client_golang/prometheus"
)

const shutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	Addr     string
	Registry *prom.Registry
	// Metrics supplies the counters reported by /healthz. Optional.
	Metrics *build.BuildMetrics
	Logger  logging.Logger
}

// Server is the optional build status server.
type Server struct {
	addr       string
	hub        *Hub
	registry   *prom.Registry
	metrics    *build.BuildMetrics
	logger     logging.Logger
	started    time.Time
	httpServer *http.Server
	listener   net.Listener
	mu         sync.RWMutex
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Clients       int     `json:"clients"`
	Builds        int64   `json:"builds"`
	Failed        int64   `json:"failed"`
}

// New creates a status server. Call Notify from the build loop to publish
// results.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Server{
		addr:     opts.Addr,
		hub:      NewHub(logger),
		registry: opts.Registry,
		metrics:  opts.Metrics,
		logger:   logger.WithComponent("server"),
		started:  time.Now(),
	}
}

// Hub returns the server's broadcast hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Notify is a build.BuildCallback that broadcasts result to viewers.
func (s *Server) Notify(result build.Result) {
	s.hub.Notify(result)
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.HTTPHandler(s.registry))
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Addr returns the bound address once the server is listening.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Start listens on the configured address and serves until ctx is
// cancelled. It returns once the listener is bound; serving continues in
// the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	srv := s.httpServer
	s.mu.Unlock()

	go s.hub.Run(ctx)

	go func() {
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, err, "Status server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(shutdownCtx, err, "Status server shutdown incomplete")
		}
	}()

	s.logger.Info(ctx, "Status server listening", "addr", ln.Addr().String())
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		Version:       version.GetShortVersion(),
		UptimeSeconds: time.Since(s.started).Seconds(),
		Clients:       s.hub.ClientCount(),
	}
	if s.metrics != nil {
		snap := s.metrics.GetSnapshot()
		resp.Builds = snap.TotalBuilds
		resp.Failed = snap.FailedBuilds
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to write health response")
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Warn(r.Context(), err, "WebSocket upgrade failed")
		return
	}

	s.hub.serve(r.Context(), conn)
}
