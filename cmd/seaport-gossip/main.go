// Command seaport-gossip runs a single node of the order-gossip network: it
// dials the settlement contract, opens its local order store, joins the
// peer network, and serves the optional read-side HTTP/WebSocket API.
//
// Architecture:
//
//	main.go                    — entry point: load config, wire node, wait for SIGINT/SIGTERM
//	internal/config            — YAML + env var configuration
//	internal/store             — SQLite-backed order + metadata persistence
//	internal/chainclient       — settlement-contract RPC reads and event subscription
//	internal/validator         — settlement-rule checks against on-chain state
//	internal/engine            — admission pipeline, revalidation loop, settlement mutation handlers
//	internal/gossip            — pub-sub propagation of order events
//	internal/wire              — direct peer request/response protocol
//	internal/chainlistener     — turns settlement events into engine mutations
//	internal/ingestor          — optional external order-feed poller
//	internal/query             — read-side filter/sort projection
//	internal/netio             — concrete Network transports (in-process and websocket)
//	internal/api               — HTTP/WebSocket read API and Prometheus endpoint
//	internal/node              — orchestrator wiring all of the above together
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/api"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/chainclient"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/config"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/netio"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/node"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/store"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/validator"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/wire"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("SEAPORT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(*cfg)

	chain, err := chainclient.Dial(cfg.ChainProvider, common.HexToAddress(cfg.SettlementContractAddress))
	if err != nil {
		logger.Error("failed to dial chain provider", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(store.DefaultConfig(filepath.Join(cfg.DataDir, "orders.db")))
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}

	checker := validator.NewChainChecker(chain)
	handlers := &wire.StoreHandlers{Store: st}
	self := wire.PeerID(fmt.Sprintf("%s:%d", cfg.Hostname, cfg.Port))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	net := dialNetwork(ctx, *cfg, self, handlers, logger)

	n, err := node.New(*cfg, st, chain, checker, net, logger)
	if err != nil {
		logger.Error("failed to build node", "error", err)
		os.Exit(1)
	}

	if err := n.Start(ctx); err != nil {
		logger.Error("failed to start node", "error", err)
		os.Exit(1)
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.API, n.Query(), n.Gossip(), n.Registry(), logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("api server failed", "error", err)
			}
		}()
		logger.Info("api server started", "url", fmt.Sprintf("http://localhost:%d", cfg.API.Port))
	}

	logger.Info("seaport-gossip node started",
		"self", self,
		"collections", len(cfg.CollectionAddresses),
		"client_mode", cfg.ClientMode,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop api server", "error", err)
		}
	}

	n.Stop()
}

// dialNetwork builds the Network a Node runs over: a WSNetwork relaying
// through the first configured bootnode when any are set, or an in-process
// MemNetwork on a fresh single-node Hub for a standalone/dev instance.
func dialNetwork(ctx context.Context, cfg config.Config, self wire.PeerID, handlers wire.Handlers, logger *slog.Logger) node.Network {
	if len(cfg.Bootnodes) > 0 {
		ws := netio.NewWSNetwork(cfg.Bootnodes[0], self, handlers, logger)
		go ws.Run(ctx)
		return ws
	}

	hub := netio.NewHub()
	return hub.Register(self, handlers, logger)
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	var h slog.Handler
	if cfg.Logging.Format == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(h)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
