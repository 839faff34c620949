package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"arbd/internal/bus"
	"arbd/internal/config"
)

// Server runs the HTTP/WebSocket observability surface: a snapshot
// endpoint, a WebSocket stream that taps the Observability Bus, and
// the operator control endpoints.
type Server struct {
	cfg      config.ObservabilityConfig
	bus      *bus.Bus
	hub      *Hub
	handlers *Handlers
	control  *ControlHandlers
	server   *http.Server
	logger   *slog.Logger

	cancel context.CancelFunc
}

// NewServer wires the observability HTTP/WS surface. provider feeds
// /api/snapshot and each new WebSocket connection's initial push; b is
// tapped continuously to feed every subsequent WebSocket message.
func NewServer(cfg config.ObservabilityConfig, provider SnapshotProvider, fullCfg config.Config, b *bus.Bus, risk RiskControl, registry PairControl, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(provider, fullCfg, hub, logger)
	control := NewControlHandlers(risk, registry, b, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)
	mux.HandleFunc("/api/control/halt", control.HandleHalt)
	mux.HandleFunc("/api/control/resume", control.HandleResume)
	mux.HandleFunc("/api/control/deactivate_pair", control.HandleDeactivatePair)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		bus:      b,
		hub:      hub,
		handlers: handlers,
		control:  control,
		server:   httpServer,
		logger:   logger.With("component", "api-server"),
	}
}

// Start starts the WebSocket hub, the bus-to-hub bridge, and the HTTP
// listener. Blocks until the listener stops.
func (s *Server) Start() error {
	go s.hub.Run()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.bridgeBusEvents(ctx)

	s.logger.Info("observability server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server and its bus subscription.
func (s *Server) Stop() error {
	s.logger.Info("stopping observability server")
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// bridgeBusEvents subscribes to the Observability Bus and republishes
// every event to connected WebSocket clients, mirroring the teacher's
// consumeEvents but sourced from the shared bus rather than a
// provider-specific channel.
func (s *Server) bridgeBusEvents(ctx context.Context) {
	events, unsubscribe := s.bus.Subscribe(ctx)
	defer unsubscribe()

	for evt := range events {
		s.hub.BroadcastEvent(evt)
	}
}
