// Package transport owns the gateway's network surface: an HTTP server
// that upgrades "/stream" to a WebSocket (gobwas/ws) handed off to a
// session.Manager, plus REST side-channel endpoints for health, readiness,
// and static catalog browsing.
package transport

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/odinmarkets/gateway/internal/config"
	"github.com/odinmarkets/gateway/internal/metadata"
	"github.com/odinmarkets/gateway/internal/metrics"
	"github.com/odinmarkets/gateway/internal/session"
)

// Server serves the gateway's WebSocket stream endpoint and its REST
// side-channel on one HTTP listener.
type Server struct {
	cfg      config.ServerConfig
	logger   *zap.Logger
	sessions *session.Manager
	catalog  metadata.Port
	metrics  *metrics.Registry
	ready    func() bool

	httpSrv *http.Server
}

// NewServer wires the WebSocket upgrade handler to a session manager and
// the REST handlers to the metadata catalog. ready reports whether the
// gateway has completed bootstrap (adapters started) for /ready.
func NewServer(cfg config.ServerConfig, logger *zap.Logger, sessions *session.Manager, catalog metadata.Port, reg *metrics.Registry, ready func() bool) *Server {
	s := &Server{cfg: cfg, logger: logger, sessions: sessions, catalog: catalog, metrics: reg, ready: ready}
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/api/exchanges", s.handleExchanges)
	mux.HandleFunc("/api/symbols", s.handleSymbols)
	mux.HandleFunc("/api/candles", s.handleCandles)
	s.httpSrv = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.BindAddr)
	if err != nil {
		return err
	}
	s.logger.Info("transport listening", zap.String("addr", s.cfg.BindAddr))
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop stops accepting new connections, then closes every in-flight
// session explicitly: a hijacked WebSocket conn is outside net/http's own
// Shutdown tracking, so http.Server.Shutdown alone would leave them
// dangling until their peers noticed on their own.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.httpSrv.Shutdown(ctx)
	s.sessions.Shutdown()
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		if s.metrics != nil {
			s.metrics.SessionErrors.WithLabelValues("upgrade_failed").Inc()
		}
		s.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	s.sessions.Serve(r.Context(), conn)
}
