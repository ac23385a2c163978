package gossip

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/engine"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/codec"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeNetwork is a minimal in-process Network: Publish fans out to every
// channel subscribed on the topic, recording what was published and what
// verdicts were reported for later assertions.
type fakeNetwork struct {
	mu          sync.Mutex
	subscribers map[string][]chan InboundMessage
	published   []publishedMsg
	validations []validationReport
}

type publishedMsg struct {
	topic string
	data  []byte
}

type validationReport struct {
	msgID      []byte
	source     PeerID
	acceptance types.Acceptance
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{subscribers: make(map[string][]chan InboundMessage)}
}

func (n *fakeNetwork) Subscribe(topic string) (<-chan InboundMessage, error) {
	ch := make(chan InboundMessage, 16)
	n.mu.Lock()
	n.subscribers[topic] = append(n.subscribers[topic], ch)
	n.mu.Unlock()
	return ch, nil
}

func (n *fakeNetwork) Publish(ctx context.Context, topic string, data []byte) error {
	n.mu.Lock()
	n.published = append(n.published, publishedMsg{topic: topic, data: append([]byte{}, data...)})
	subs := append([]chan InboundMessage{}, n.subscribers[topic]...)
	n.mu.Unlock()
	for _, ch := range subs {
		ch <- InboundMessage{Topic: topic, Source: "peer", Data: data}
	}
	return nil
}

func (n *fakeNetwork) ReportValidation(msgID []byte, source PeerID, acceptance types.Acceptance) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.validations = append(n.validations, validationReport{msgID: msgID, source: source, acceptance: acceptance})
}

func (n *fakeNetwork) deliver(topic string, data []byte) {
	n.mu.Lock()
	subs := append([]chan InboundMessage{}, n.subscribers[topic]...)
	n.mu.Unlock()
	for _, ch := range subs {
		ch <- InboundMessage{Topic: topic, Source: "peer", Data: data}
	}
}

func (n *fakeNetwork) lastValidation() (validationReport, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.validations) == 0 {
		return validationReport{}, false
	}
	return n.validations[len(n.validations)-1], true
}

func (n *fakeNetwork) publishCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.published)
}

// fakeEngine is a scriptable stand-in for *engine.Engine.
type fakeEngine struct {
	mu sync.Mutex

	admitErr     error
	admitInvalid bool // simulates AdmitOrder returning a no-error, transient-invalid, unstored result
	admitCalls   int
	counterCalls int
	fulfillCalls int
	reconcileErr error
	validatedErr error

	orderTokens  []common.Address
	offererToken []common.Address
}

func (f *fakeEngine) AdmitOrder(ctx context.Context, order *types.Order, opts engine.AdmitOptions) (bool, *types.OrderMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admitCalls++
	if f.admitErr != nil {
		return false, nil, f.admitErr
	}
	if f.admitInvalid {
		return false, &types.OrderMetadata{IsValid: false}, nil
	}
	return true, &types.OrderMetadata{IsValid: true}, nil
}

func (f *fakeEngine) MarkFulfilled(ctx context.Context, hash [32]byte, basic bool, status *engine.FulfillmentStatus, price *big.Int, blockNumber uint64, blockHash [32]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fulfillCalls++
	return nil
}

func (f *fakeEngine) MarkCounterIncremented(offerer common.Address, newCounter *big.Int, blockNumber uint64, blockHash [32]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counterCalls++
	return nil
}

func (f *fakeEngine) MarkValidatedOnChain(ctx context.Context, hash [32]byte, blockNumber uint64, blockHash [32]byte) error {
	return f.validatedErr
}

func (f *fakeEngine) ReconcileRemoteEvent(ctx context.Context, hash [32]byte, remoteType types.GossipEventType, blockNumber uint64, blockHash [32]byte) error {
	return f.reconcileErr
}

func (f *fakeEngine) OrderTokens(hash [32]byte) ([]common.Address, error) {
	return f.orderTokens, nil
}

func (f *fakeEngine) OffererTokens(offerer common.Address) ([]common.Address, error) {
	return f.offererToken, nil
}

func sampleOrder() *types.Order {
	return &types.Order{
		Offer: []types.OfferItem{
			{
				ItemType:             types.ItemERC721,
				Token:                common.HexToAddress("0x1111111111111111111111111111111111111111"),
				IdentifierOrCriteria: big.NewInt(1),
				StartAmount:          big.NewInt(1),
				EndAmount:            big.NewInt(1),
			},
		},
		Consideration: []types.ConsiderationItem{
			{
				ItemType:             types.ItemNative,
				IdentifierOrCriteria: big.NewInt(0),
				StartAmount:          big.NewInt(1),
				EndAmount:            big.NewInt(1),
				Recipient:            common.HexToAddress("0x2222222222222222222222222222222222222222"),
			},
		},
		Offerer:   common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Signature: make([]byte, 65),
		OrderType: types.FullOpen,
		StartTime: 1,
		EndTime:   2,
		Counter:   big.NewInt(0),
		Salt:      big.NewInt(1),
		ChainID:   "1",
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPublishFanOutByOrderTokens(t *testing.T) {
	t.Parallel()
	net := newFakeNetwork()
	fe := &fakeEngine{}
	l := New(net, fe, testLogger())

	order := sampleOrder()
	evt := &types.GossipsubEvent{EventType: types.EventNew, Order: order}
	if err := l.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := net.publishCount(); got != 1 {
		t.Fatalf("publishCount = %d, want 1 (single unique token)", got)
	}
	wantTopic := "0x1111111111111111111111111111111111111111"
	if net.published[0].topic != wantTopic {
		t.Errorf("published topic = %q, want %q", net.published[0].topic, wantTopic)
	}
}

func TestReceiveDecodeFailureRejectsAndDrops(t *testing.T) {
	t.Parallel()
	net := newFakeNetwork()
	fe := &fakeEngine{}
	l := New(net, fe, testLogger())
	if err := l.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()
	if err := l.Subscribe("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	net.deliver("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", []byte("not a valid frame"))

	waitFor(t, func() bool {
		r, ok := net.lastValidation()
		return ok && r.acceptance == types.Reject
	})
	if fe.admitCalls != 0 {
		t.Errorf("expected no admission attempt for undecodable message, got %d calls", fe.admitCalls)
	}
}

func TestReceiveNewOrderAdmitsAndAccepts(t *testing.T) {
	t.Parallel()
	net := newFakeNetwork()
	fe := &fakeEngine{}
	l := New(net, fe, testLogger())
	if err := l.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	topic := "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	if err := l.Subscribe(topic); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	order := sampleOrder()
	evt := &types.GossipsubEvent{EventType: types.EventNew, Order: order}
	var buf bytes.Buffer
	if err := codec.EncodeGossipEvent(&buf, evt); err != nil {
		t.Fatalf("EncodeGossipEvent: %v", err)
	}
	net.deliver(topic, buf.Bytes())

	waitFor(t, func() bool {
		r, ok := net.lastValidation()
		return ok && r.acceptance == types.Accept
	})
	if fe.admitCalls != 1 {
		t.Errorf("admitCalls = %d, want 1", fe.admitCalls)
	}
}

func TestReceiveInvalidOrderRejects(t *testing.T) {
	t.Parallel()
	net := newFakeNetwork()
	fe := &fakeEngine{admitErr: context.DeadlineExceeded}
	l := New(net, fe, testLogger())
	if err := l.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	topic := "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	if err := l.Subscribe(topic); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	evt := &types.GossipsubEvent{EventType: types.EventNew, Order: sampleOrder()}
	var buf bytes.Buffer
	if err := codec.EncodeGossipEvent(&buf, evt); err != nil {
		t.Fatalf("EncodeGossipEvent: %v", err)
	}
	net.deliver(topic, buf.Bytes())

	waitFor(t, func() bool {
		r, ok := net.lastValidation()
		return ok && r.acceptance == types.Reject
	})
}

// TestReceiveTransientInvalidNewOrderRejects covers the no-error path: a
// brand-new order AdmitOrder classifies transient-invalid comes back with a
// nil error and an unstored, IsValid=false metadata, which must still Reject
// rather than propagate an order nothing stored.
func TestReceiveTransientInvalidNewOrderRejects(t *testing.T) {
	t.Parallel()
	net := newFakeNetwork()
	fe := &fakeEngine{admitInvalid: true}
	l := New(net, fe, testLogger())
	if err := l.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	topic := "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	if err := l.Subscribe(topic); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	evt := &types.GossipsubEvent{EventType: types.EventNew, Order: sampleOrder()}
	var buf bytes.Buffer
	if err := codec.EncodeGossipEvent(&buf, evt); err != nil {
		t.Fatalf("EncodeGossipEvent: %v", err)
	}
	net.deliver(topic, buf.Bytes())

	waitFor(t, func() bool {
		r, ok := net.lastValidation()
		return ok && r.acceptance == types.Reject
	})
}

func TestReceiveCounterIncrementedAlwaysAccepts(t *testing.T) {
	t.Parallel()
	net := newFakeNetwork()
	fe := &fakeEngine{}
	l := New(net, fe, testLogger())
	if err := l.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	topic := "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	if err := l.Subscribe(topic); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	evt := &types.GossipsubEvent{
		EventType:  types.EventCounterIncremented,
		Offerer:    common.HexToAddress("0x3333333333333333333333333333333333333333"),
		NewCounter: big.NewInt(5),
	}
	var buf bytes.Buffer
	if err := codec.EncodeGossipEvent(&buf, evt); err != nil {
		t.Fatalf("EncodeGossipEvent: %v", err)
	}
	net.deliver(topic, buf.Bytes())

	waitFor(t, func() bool {
		r, ok := net.lastValidation()
		return ok && r.acceptance == types.Accept
	})
	if fe.counterCalls != 1 {
		t.Errorf("counterCalls = %d, want 1", fe.counterCalls)
	}
}

func TestEventCallbackInvokedBeforeClassification(t *testing.T) {
	t.Parallel()
	net := newFakeNetwork()
	fe := &fakeEngine{}
	l := New(net, fe, testLogger())
	if err := l.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	var mu sync.Mutex
	var seen []types.GossipEventType
	l.OnEvent(func(topic string, evt *types.GossipsubEvent) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, evt.EventType)
	})

	topic := "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	if err := l.Subscribe(topic); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	evt := &types.GossipsubEvent{EventType: types.EventNew, Order: sampleOrder()}
	var buf bytes.Buffer
	if err := codec.EncodeGossipEvent(&buf, evt); err != nil {
		t.Fatalf("EncodeGossipEvent: %v", err)
	}
	net.deliver(topic, buf.Bytes())

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	})
}
