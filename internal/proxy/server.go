package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"tunnel-proxy/internal/config"
	"tunnel-proxy/internal/targets"
	"tunnel-proxy/internal/telemetry"
	"tunnel-proxy/internal/ui"
)

// Server is the proxy's inbound surface: it dispatches each request to the
// HTTP forwarder or the WebSocket relay and owns the flush scheduler's
// lifecycle.
type Server struct {
	cfg       *config.Config
	targets   *targets.Resolver
	buffer    *telemetry.Buffer
	flusher   *telemetry.Flusher
	forwarder *Forwarder
	relay     *WebSocketRelay

	httpServer *http.Server
	ln         net.Listener
	wg         sync.WaitGroup
}

// healthResponse is the liveness endpoint body.
type healthResponse struct {
	Status        string `json:"status"`
	BufferSize    int    `json:"buffer_size"`
	TargetsLoaded int    `json:"targets_loaded"`
}

// NewServer creates a proxy server wired to the given resolver, buffer and
// flusher.
func NewServer(cfg *config.Config, resolver *targets.Resolver, buffer *telemetry.Buffer, flusher *telemetry.Flusher) *Server {
	return &Server{
		cfg:       cfg,
		targets:   resolver,
		buffer:    buffer,
		flusher:   flusher,
		forwarder: NewForwarder(resolver, buffer, flusher, cfg.BufferSize, cfg.UpstreamTimeout),
		relay:     NewWebSocketRelay(resolver, buffer, flusher, cfg.BufferSize),
	}
}

// Start begins accepting proxy connections and blocks until the context is
// cancelled and the final metrics flush has completed.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/", s.handleRequest)

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.ln = ln

	s.httpServer = &http.Server{
		Handler:     mux,
		ReadTimeout: 0, // Disabled: WebSocket relays are long-lived, managed per-handler
		IdleTimeout: 120 * time.Second,
	}

	// The flush scheduler gets its own context: it must outlive the
	// inbound one so that records appended by handlers finishing during
	// the shutdown grace period still make the final flush.
	flushCtx, stopFlusher := context.WithCancel(context.Background())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.flusher.Run(flushCtx)
	}()

	shutdownDone := make(chan struct{})
	go s.watchShutdown(ctx, shutdownDone)

	ui.LogStatus("info", "Proxy listening on "+ln.Addr().String())

	serveErr := s.httpServer.Serve(ln)
	if serveErr == http.ErrServerClosed {
		// Shutdown drains in-flight handlers; only then is the buffer
		// complete and safe to flush one last time.
		<-shutdownDone
	}

	stopFlusher()
	s.wg.Wait()
	s.forwarder.CloseIdleConnections()

	if serveErr != nil && serveErr != http.ErrServerClosed {
		return serveErr
	}
	return nil
}

// watchShutdown monitors context for cancellation
func (s *Server) watchShutdown(ctx context.Context, done chan<- struct{}) {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.httpServer.Shutdown(shutdownCtx)
	close(done)
}

// handleRequest dispatches on the upgrade headers.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if isWebSocketUpgrade(r) {
		s.relay.ServeHTTP(w, r)
		return
	}
	s.forwarder.ServeHTTP(w, r)
}

// healthHandler reports process liveness; it succeeds regardless of proxy
// health.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(healthResponse{
		Status:        "healthy",
		BufferSize:    s.buffer.Len(),
		TargetsLoaded: s.targets.Count(),
	})
}

// isWebSocketUpgrade checks if request is a WebSocket upgrade request
func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}
