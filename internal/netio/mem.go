// Package netio provides concrete realizations of the black-box transport
// interfaces gossip.Layer and wire.Protocol depend on: an in-process
// MemNetwork for deterministic tests and local devnets, and a WSNetwork
// built on gorilla/websocket for a real multi-process deployment.
package netio

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/gossip"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/wire"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/types"
)

// Hub is the shared in-process switchboard a set of MemNetwork peers
// register with. It fans out Publish calls to every other peer subscribed
// to the same topic and routes OpenStream calls to the target peer's
// registered wire.Handlers.
type Hub struct {
	mu sync.Mutex

	peers map[wire.PeerID]*MemNetwork

	// subs maps topic -> peer -> delivery channel.
	subs map[string]map[wire.PeerID]chan gossip.InboundMessage

	// seen deduplicates publishes per topic by payload digest, mirroring
	// the underlying pub-sub's own message-id dedup.
	seen map[string]map[[32]byte]bool
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{
		peers: make(map[wire.PeerID]*MemNetwork),
		subs:  make(map[string]map[wire.PeerID]chan gossip.InboundMessage),
		seen:  make(map[string]map[[32]byte]bool),
	}
}

// Register creates a MemNetwork for id backed by handlers and attaches it to
// the hub. handlers may be nil for a peer that never serves wire requests.
func (h *Hub) Register(id wire.PeerID, handlers wire.Handlers, logger *slog.Logger) *MemNetwork {
	n := &MemNetwork{
		hub:      h,
		self:     id,
		handlers: handlers,
		logger:   logger.With("component", "netio_mem", "peer", string(id)),
	}
	h.mu.Lock()
	h.peers[id] = n
	h.mu.Unlock()
	return n
}

func (h *Hub) subscribe(self wire.PeerID, topic string) (<-chan gossip.InboundMessage, error) {
	ch := make(chan gossip.InboundMessage, 256)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[wire.PeerID]chan gossip.InboundMessage)
	}
	h.subs[topic][self] = ch
	return ch, nil
}

func (h *Hub) publish(ctx context.Context, self wire.PeerID, topic string, data []byte) error {
	digest := sha256.Sum256(data)

	h.mu.Lock()
	if h.seen[topic] == nil {
		h.seen[topic] = make(map[[32]byte]bool)
	}
	if h.seen[topic][digest] {
		h.mu.Unlock()
		return gossip.ErrAlreadyPublished
	}
	h.seen[topic][digest] = true

	subscribers := h.subs[topic]
	targets := make([]chan gossip.InboundMessage, 0, len(subscribers))
	for peer, ch := range subscribers {
		if peer == self {
			continue
		}
		targets = append(targets, ch)
	}
	h.mu.Unlock()

	msg := gossip.InboundMessage{Topic: topic, Source: gossip.PeerID(self), Data: data}
	for _, ch := range targets {
		select {
		case ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Slow subscriber: drop rather than block the publisher, same
			// backpressure policy as a real pub-sub's local mesh queue.
		}
	}
	return nil
}

func (h *Hub) handlersFor(peer wire.PeerID) (wire.Handlers, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, ok := h.peers[peer]
	if !ok || n.handlers == nil {
		return nil, false
	}
	return n.handlers, true
}

// MemNetwork is an in-process gossip.Network and wire.StreamOpener backed by
// a shared Hub. It requires no serialization boundary beyond what
// pkg/codec already imposes, which keeps scenario tests deterministic.
type MemNetwork struct {
	hub      *Hub
	self     wire.PeerID
	handlers wire.Handlers
	logger   *slog.Logger
}

var _ gossip.Network = (*MemNetwork)(nil)
var _ wire.StreamOpener = (*MemNetwork)(nil)

// Subscribe implements gossip.Network.
func (n *MemNetwork) Subscribe(topic string) (<-chan gossip.InboundMessage, error) {
	return n.hub.subscribe(n.self, topic)
}

// Publish implements gossip.Network.
func (n *MemNetwork) Publish(ctx context.Context, topic string, data []byte) error {
	return n.hub.publish(ctx, n.self, topic, data)
}

// ReportValidation implements gossip.Network. MemNetwork has no peer-scoring
// model of its own; it only logs, since tests assert on engine/store state
// rather than reputation.
func (n *MemNetwork) ReportValidation(msgID []byte, source gossip.PeerID, acceptance types.Acceptance) {
	n.logger.Debug("report validation", "source", string(source), "acceptance", acceptance, "msgId", fmt.Sprintf("%x", msgID))
}

// OpenStream implements wire.StreamOpener by handing back one end of an
// in-process pipe, with the peer's wire.Handlers served on the other end by
// a background goroutine — the in-memory equivalent of a freshly opened
// transport stream.
func (n *MemNetwork) OpenStream(ctx context.Context, peer wire.PeerID) (io.ReadWriteCloser, error) {
	handlers, ok := n.hub.handlersFor(peer)
	if !ok {
		return nil, fmt.Errorf("netio: no route to peer %q", peer)
	}

	client, server := net.Pipe()
	srv := wire.New(nil, handlers, n.logger)
	go func() {
		if err := srv.HandleStream(ctx, server); err != nil {
			n.logger.Debug("serve in-memory stream failed", "peer", string(peer), "error", err)
		}
		server.Close()
	}()
	return client, nil
}
