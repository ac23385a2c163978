// Package gossip implements GossipLayer: per-collection-address pub-sub
// topics, message-id derivation for receiver-side deduplication, and the
// accept/reject receive pipeline that feeds OrderEngine and peer scoring.
//
// The peer-to-peer transport itself — identity, discovery, connection
// management, encryption, multiplexing, and routing — is a black box behind
// the Network interface; internal/netio provides concrete realizations.
package gossip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/engine"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/metrics"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/codec"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/types"
)

// PeerID identifies a remote peer to the underlying Network.
type PeerID string

// InboundMessage is one message delivered on a subscribed topic.
type InboundMessage struct {
	Topic  string
	Source PeerID
	Data   []byte
}

// ErrAlreadyPublished is the sentinel a Network implementation returns for a
// duplicate publish on a topic; GossipLayer swallows it rather than logging
// it as a failure.
var ErrAlreadyPublished = errors.New("gossip: duplicate publish")

// Network is the black-box pub-sub transport GossipLayer depends on.
type Network interface {
	// Subscribe opens a topic and returns a channel of messages delivered on
	// it. The channel closes when the subscription ends.
	Subscribe(topic string) (<-chan InboundMessage, error)
	// Publish sends data on topic. Implementations return ErrAlreadyPublished
	// for a publish that exactly duplicates one already in flight.
	Publish(ctx context.Context, topic string, data []byte) error
	// ReportValidation feeds a message's accept/reject verdict back to peer
	// scoring. msgID may be nil when decode failed before an id could be
	// derived.
	ReportValidation(msgID []byte, source PeerID, acceptance types.Acceptance)
}

// OrderEngine is the subset of *engine.Engine the gossip layer drives.
type OrderEngine interface {
	AdmitOrder(ctx context.Context, order *types.Order, opts engine.AdmitOptions) (bool, *types.OrderMetadata, error)
	MarkFulfilled(ctx context.Context, hash [32]byte, basic bool, status *engine.FulfillmentStatus, price *big.Int, blockNumber uint64, blockHash [32]byte) error
	MarkCounterIncremented(offerer common.Address, newCounter *big.Int, blockNumber uint64, blockHash [32]byte) error
	MarkValidatedOnChain(ctx context.Context, hash [32]byte, blockNumber uint64, blockHash [32]byte) error
	ReconcileRemoteEvent(ctx context.Context, hash [32]byte, remoteType types.GossipEventType, blockNumber uint64, blockHash [32]byte) error
	OrderTokens(hash [32]byte) ([]common.Address, error)
	OffererTokens(offerer common.Address) ([]common.Address, error)
}

// EventCallback is invoked for every successfully decoded event, before
// admission or classification.
type EventCallback func(topic string, evt *types.GossipsubEvent)

var _ engine.EventEmitter = (*Layer)(nil)

// Layer is GossipLayer.
type Layer struct {
	net    Network
	engine OrderEngine
	logger *slog.Logger

	mu       sync.RWMutex
	topics   map[string]bool
	callback EventCallback

	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Layer. Call Start to subscribe to the configured
// collection set and begin receiving.
func New(net Network, eng OrderEngine, logger *slog.Logger) *Layer {
	return &Layer{
		net:    net,
		engine: eng,
		logger: logger.With("component", "gossip"),
		topics: make(map[string]bool),
	}
}

// SetMetrics wires the node's metrics collector. A nil Layer.metrics is
// always safe, since every metrics.Metrics method no-ops on a nil receiver.
func (l *Layer) SetMetrics(m *metrics.Metrics) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics = m
}

// OnEvent registers a callback invoked for every decoded event prior to
// admission/classification. Only one callback is retained; a later call
// replaces an earlier one.
func (l *Layer) OnEvent(cb EventCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callback = cb
}

// Emit implements engine.EventEmitter: every event OrderEngine produces as a
// side effect of admission, revalidation, or settlement-event handling is
// republished here. The underlying Network's msgId-based deduplication
// prevents this from looping the event back to its origin.
func (l *Layer) Emit(evt *types.GossipsubEvent) {
	if err := l.Publish(context.Background(), evt); err != nil {
		l.logger.Warn("publish outbound event failed", "event", evt.EventType.String(), "error", err)
	}
}

// Start subscribes to every configured collection address and begins
// receiving on each.
func (l *Layer) Start(ctx context.Context, collectionAddresses []common.Address) error {
	l.ctx, l.cancel = context.WithCancel(ctx)
	for _, addr := range collectionAddresses {
		if err := l.Subscribe(topicForAddress(addr)); err != nil {
			return err
		}
	}
	return nil
}

// Stop cancels every receive loop and waits for them to exit.
func (l *Layer) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

// Subscribe adds topic to the subscription set and starts its receive loop,
// if not already subscribed. Safe to call at runtime, since the configured
// collection set may grow after Start.
func (l *Layer) Subscribe(topic string) error {
	topic = strings.ToLower(topic)

	l.mu.Lock()
	if l.topics[topic] {
		l.mu.Unlock()
		return nil
	}
	l.topics[topic] = true
	l.mu.Unlock()

	ch, err := l.net.Subscribe(topic)
	if err != nil {
		l.mu.Lock()
		delete(l.topics, topic)
		l.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.receiveLoop(topic, ch)
	}()
	return nil
}

func topicForAddress(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// Publish encodes evt and publishes it on the topic for every unique
// non-zero token address its order references. For
// events that don't carry an Order, the topic set is resolved from the
// order (or offerer, for COUNTER_INCREMENTED) already known to the engine.
// Duplicate-publish errors are swallowed; other errors are logged and
// returned.
func (l *Layer) Publish(ctx context.Context, evt *types.GossipsubEvent) error {
	topics, err := l.topicsForEvent(evt)
	if err != nil {
		return fmt.Errorf("resolve topics: %w", err)
	}
	if len(topics) == 0 {
		return nil
	}

	var buf bytes.Buffer
	if err := codec.EncodeGossipEvent(&buf, evt); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	data := buf.Bytes()

	var firstErr error
	for _, topic := range topics {
		topicStr := topicForAddress(topic)
		if err := l.net.Publish(ctx, topicStr, data); err != nil {
			if errors.Is(err, ErrAlreadyPublished) {
				continue
			}
			l.logger.Warn("publish failed", "topic", topicStr, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		l.metrics.GossipPublished(topicStr)
	}
	return firstErr
}

func (l *Layer) topicsForEvent(evt *types.GossipsubEvent) ([]common.Address, error) {
	switch {
	case evt.Order != nil:
		return engine.CollectionAddresses(evt.Order), nil
	case evt.EventType == types.EventCounterIncremented:
		return l.engine.OffererTokens(evt.Offerer)
	default:
		return l.engine.OrderTokens(evt.OrderHash)
	}
}

func (l *Layer) receiveLoop(topic string, ch <-chan InboundMessage) {
	for {
		select {
		case <-l.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			l.handleMessage(l.ctx, topic, msg)
		}
	}
}

// handleMessage implements the receive pipeline. Step
// 5 (publish onward on Accept) is not a separate step here: every branch
// that mutates engine state does so through a method that itself calls
// OrderEngine's EventEmitter, which is this Layer — so propagation happens
// as a side effect of the state change, not as a second explicit step.
func (l *Layer) handleMessage(ctx context.Context, topic string, msg InboundMessage) {
	evt, err := codec.DecodeGossipEvent(bytes.NewReader(msg.Data))
	if err != nil {
		l.net.ReportValidation(nil, msg.Source, types.Reject)
		l.metrics.GossipReceived(topic, "reject")
		l.logger.Debug("decode gossip event failed", "topic", topic, "error", err)
		return
	}

	msgID := codec.GossipMessageID(topic, evt)

	l.mu.RLock()
	cb := l.callback
	l.mu.RUnlock()
	if cb != nil {
		cb(topic, evt)
	}

	acceptance := l.classify(ctx, evt)
	l.net.ReportValidation(msgID, msg.Source, acceptance)
	l.metrics.GossipValidationReported(acceptanceLabel(acceptance))
	l.metrics.GossipReceived(topic, acceptanceLabel(acceptance))
}

func acceptanceLabel(a types.Acceptance) string {
	if a == types.Accept {
		return "accept"
	}
	return "reject"
}

// classify assigns the acceptance verdict. Every branch other than NEW/unknown
// always Accepts, per the contract that a node MUST NOT rebroadcast a
// message it has Rejected but MAY correct an Accept to a different event
// kind — the correction happens inside ReconcileRemoteEvent.
func (l *Layer) classify(ctx context.Context, evt *types.GossipsubEvent) types.Acceptance {
	var err error
	switch evt.EventType {
	case types.EventCounterIncremented:
		err = l.engine.MarkCounterIncremented(evt.Offerer, evt.NewCounter, evt.BlockNumber, evt.BlockHash)
	case types.EventFulfilled:
		err = l.engine.MarkFulfilled(ctx, evt.OrderHash, true, nil, nil, evt.BlockNumber, evt.BlockHash)
	case types.EventInvalidated, types.EventCancelled:
		err = l.engine.ReconcileRemoteEvent(ctx, evt.OrderHash, evt.EventType, evt.BlockNumber, evt.BlockHash)
	case types.EventValidated:
		err = l.engine.MarkValidatedOnChain(ctx, evt.OrderHash, evt.BlockNumber, evt.BlockHash)
	default: // EventNew or an event kind this node doesn't recognize.
		if evt.Order == nil {
			return types.Reject
		}
		_, md, admitErr := l.engine.AdmitOrder(ctx, evt.Order, engine.AdmitOptions{Validate: true})
		if admitErr != nil {
			l.logger.Debug("admit rejected gossip order", "hash", fmt.Sprintf("%x", evt.OrderHash), "error", admitErr)
			return types.Reject
		}
		if md == nil || !md.IsValid {
			l.logger.Debug("admit produced an invalid, unstored order", "hash", fmt.Sprintf("%x", evt.OrderHash))
			return types.Reject
		}
		return types.Accept
	}
	if err != nil {
		l.logger.Warn("gossip event handling failed", "event", evt.EventType.String(), "error", err)
	}
	return types.Accept
}
