package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/config"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/gossip"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/query"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/types"
)

// Server runs the read-side HTTP/WebSocket API: order listing, health, a
// Prometheus scrape endpoint, and a live event stream sourced from a
// gossip.Layer's callback.
type Server struct {
	cfg      config.APIConfig
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires a Server around an already-running node's Query layer,
// Registry, and GossipLayer. It registers its own callback on gossipLayer via
// OnEvent — since OnEvent retains only the most recently registered callback,
// a process should run at most one api.Server per gossip.Layer.
func NewServer(cfg config.APIConfig, q *query.Query, gossipLayer *gossip.Layer, reg *prometheus.Registry, logger *slog.Logger) *Server {
	logger = logger.With("component", "api-server")
	hub := NewHub(logger)
	handlers := NewHandlers(q, hub, cfg, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/orders", handlers.HandleOrders)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	gossipLayer.OnEvent(func(topic string, evt *types.GossipsubEvent) {
		hub.BroadcastOrderEvent(NewOrderEvent(evt))
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		hub:      hub,
		handlers: handlers,
		server:   httpServer,
		logger:   logger,
	}
}

// Start runs the websocket hub and blocks serving HTTP until Stop is called.
// Call it in its own goroutine.
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop gracefully drains in-flight requests before shutting the listener
// down.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
