// Package node is the central orchestrator of the seaport-gossip process.
//
// It wires together every subsystem:
//
//  1. Store persists orders and their mutable metadata.
//  2. ChainClient reads settlement-contract state and streams its events.
//  3. Engine runs the admission pipeline and the background revalidation loop.
//  4. GossipLayer and WireProtocol carry events and peer requests over a
//     caller-supplied Network (internal/netio provides concrete transports).
//  5. ChainListener turns settlement events into Engine mutations.
//  6. Ingestor optionally polls an external order feed.
//  7. Query answers read-side filter/sort requests over the Store.
//
// Lifecycle: New() → Start(ctx) → [runs until the caller cancels ctx or
// calls Stop()] → Stop().
package node

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/chainlistener"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/config"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/engine"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/gossip"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/ingestor"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/metrics"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/query"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/store"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/validator"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/wire"
)

// Network is the transport a Node depends on: pub-sub for gossip events and
// stream opening for wire-protocol requests. internal/netio's MemNetwork and
// WSNetwork both satisfy it.
type Network interface {
	gossip.Network
	wire.StreamOpener
}

// Chain is the settlement-contract connection a Node depends on: the subset
// of *chainclient.Client that Engine and ChainListener read and subscribe
// to, plus lifecycle teardown. Production callers dial a real
// *chainclient.Client; tests supply a fake that never touches the network.
type Chain interface {
	engine.BlockSource
	chainlistener.ChainSource
	Close()
}

// Node owns the lifecycle of every subsystem and the goroutines driving
// them.
type Node struct {
	cfg    config.Config
	logger *slog.Logger

	store   *store.Store
	chain   Chain
	engine  *engine.Engine
	gossip  *gossip.Layer
	wire    *wire.Protocol
	cl      *chainlistener.Listener
	ingest  *ingestor.Client
	query   *query.Query
	metrics *metrics.Metrics
	reg     *prometheus.Registry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires every subsystem around already-constructed resources: an open
// Store, a connected Chain and the validator.Checker derived from it, and a
// Network that must already be usable (e.g. a netio.WSNetwork with Run
// already called, or a netio.MemNetwork registered on a shared Hub — note
// that Hub.Register needs st's address before New runs, since the Network's
// wire handlers serve out of the same Store).
//
// Acquiring these resources is the caller's job (cmd/seaport-gossip dials
// chainclient.Dial, opens a store.Store, and builds validator.NewChainChecker;
// tests wire in fakes) so that Node itself never reaches out to a real RPC
// endpoint or filesystem path and stays constructible in-process.
func New(cfg config.Config, st *store.Store, chain Chain, checker validator.Checker, net Network, logger *slog.Logger) (*Node, error) {
	logger = logger.With("component", "node")

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	engCfg := engine.Config{
		MaxOrders:               cfg.MaxOrders,
		MaxOrdersPerOfferer:     cfg.MaxOrdersPerOfferer,
		RevalidateInterval:      cfg.RevalidateInterval,
		RevalidateBlockDistance: cfg.RevalidateBlockDistance,
		RevalidateBatchSize:     engine.DefaultConfig().RevalidateBatchSize,
		MaxOrderHistory:         cfg.MaxOrderHistory,
		MaxOrderStartTime:       cfg.MaxOrderStartTime,
		MaxOrderEndTime:         cfg.MaxOrderEndTime,
		ValidatorConfig: validator.Config{
			ValidateFeeRecipient: cfg.ValidateFeeRecipient,
		},
	}
	eng := engine.New(st, checker, chain, engCfg, logger)
	eng.SetMetrics(m)

	gossipLayer := gossip.New(net, eng, logger)
	gossipLayer.SetMetrics(m)
	eng.SetEmitter(gossipLayer)

	wireProto := wire.New(net, &wire.StoreHandlers{Store: st}, logger)
	wireProto.SetMetrics(m)

	listener := chainlistener.New(chain, eng, logger)
	listener.SetMetrics(m)

	var ingestClient *ingestor.Client
	if cfg.IngestExternalOrders {
		ingestClient = ingestor.New(ingestor.Config{
			BaseURL:       cfg.ExternalAPIBaseURL,
			APIKey:        cfg.ExternalAPIKey,
			RatePerSecond: cfg.ExternalFetchRatePerSec,
		}, eng, logger)
	}

	q := query.New(st, eng, query.Config{RevalidateOnRead: cfg.RevalidateOnRead})

	return &Node{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		chain:   chain,
		engine:  eng,
		gossip:  gossipLayer,
		wire:    wireProto,
		cl:      listener,
		ingest:  ingestClient,
		query:   q,
		metrics: m,
		reg:     reg,
	}, nil
}

// Store, Engine, Gossip, Wire, Query, and Metrics expose the wired
// subsystems for internal/api and cmd/seaport-gossip to build on top of.
func (n *Node) Store() *store.Store            { return n.store }
func (n *Node) Engine() *engine.Engine         { return n.engine }
func (n *Node) Gossip() *gossip.Layer          { return n.gossip }
func (n *Node) Wire() *wire.Protocol           { return n.wire }
func (n *Node) Query() *query.Query            { return n.query }
func (n *Node) Metrics() *metrics.Metrics      { return n.metrics }
func (n *Node) Registry() *prometheus.Registry { return n.reg }

func parseCollectionAddresses(raw []string) []common.Address {
	addrs := make([]common.Address, 0, len(raw))
	for _, a := range raw {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		addrs = append(addrs, common.HexToAddress(a))
	}
	return addrs
}

// Start launches the admission engine's revalidation loop, subscribes to the
// configured collection set, starts the chain listener from the current
// head, and (if configured) the external order ingestor.
func (n *Node) Start(ctx context.Context) error {
	n.ctx, n.cancel = context.WithCancel(ctx)

	n.engine.Start(n.ctx)

	if err := n.gossip.Start(n.ctx, parseCollectionAddresses(n.cfg.CollectionAddresses)); err != nil {
		return fmt.Errorf("start gossip: %w", err)
	}

	fromBlock, _, err := n.chain.LatestBlock(n.ctx)
	if err != nil {
		return fmt.Errorf("latest block: %w", err)
	}
	n.cl.Start(n.ctx, fromBlock)

	if n.ingest != nil {
		n.ingest.Start(n.ctx)
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.reportActiveOrders()
	}()

	return nil
}

// reportActiveOrders periodically refreshes the active-orders gauge with the
// store's total order count (valid and invalid alike). It runs on the same
// cadence as revalidation.
func (n *Node) reportActiveOrders() {
	interval := n.cfg.RevalidateInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			total, err := n.store.CountTotal()
			if err != nil {
				n.logger.Warn("count total orders failed", "error", err)
				continue
			}
			n.metrics.SetActiveOrders(total)
		}
	}
}

// Stop shuts down every subsystem in dependency order: the revalidation
// loop, the ingestor, the chain listener, gossip subscriptions, the node's
// own background goroutines, and finally the store. It does not stop the
// Network passed to New — that is the caller's responsibility, since the
// same Network may be shared across multiple Nodes (as in tests).
func (n *Node) Stop() {
	n.logger.Info("shutting down")

	n.engine.Stop()

	if n.ingest != nil {
		n.ingest.Stop()
	}

	n.cl.Stop()
	n.gossip.Stop()

	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()

	n.chain.Close()
	if err := n.store.Close(); err != nil {
		n.logger.Warn("close store failed", "error", err)
	}

	n.logger.Info("shutdown complete")
}
