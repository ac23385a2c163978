package ingestor

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/engine"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type admitCall struct {
	order *types.Order
	opts  engine.AdmitOptions
}

type fakeEngine struct {
	mu    sync.Mutex
	calls []admitCall
}

func (f *fakeEngine) AdmitOrder(ctx context.Context, order *types.Order, opts engine.AdmitOptions) (bool, *types.OrderMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, admitCall{order: order, opts: opts})
	return true, &types.OrderMetadata{}, nil
}

func (f *fakeEngine) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func sampleFeedOrder() feedOrder {
	return feedOrder{
		Offerer:    "0x3333333333333333333333333333333333333333",
		Zone:       "0x0000000000000000000000000000000000000000",
		StartTime:  1_700_000_000,
		EndTime:    1_700_100_000,
		OrderType:  0,
		Counter:    "0",
		Salt:       "1",
		ChainID:    "1",
		Signature:  "0x" + repeatHex(65),
		AuctionType: "dutch",
		Offer: []feedItem{
			{ItemType: uint8(types.ItemERC721), Token: "0x1111111111111111111111111111111111111111", Identifier: "1", StartAmount: "1", EndAmount: "1"},
		},
		Consideration: []feedItem{
			{ItemType: uint8(types.ItemNative), Identifier: "0", StartAmount: "2000000", EndAmount: "1000000", Recipient: "0x2222222222222222222222222222222222222222"},
		},
	}
}

func repeatHex(n int) string {
	out := make([]byte, n*2)
	for i := range out {
		out[i] = '0'
	}
	return string(out)
}

func TestPollOnceAdmitsNormalizedOrders(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := feedResponse{Orders: []feedOrder{sampleFeedOrder()}}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	eng := &fakeEngine{}
	c := New(Config{BaseURL: srv.URL, RatePerSecond: 100}, eng, testLogger())

	if err := c.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}

	if n := eng.count(); n != 1 {
		t.Fatalf("admit calls = %d, want 1", n)
	}
	eng.mu.Lock()
	call := eng.calls[0]
	eng.mu.Unlock()

	if call.opts.Validate {
		t.Error("expected Validate=false")
	}
	if call.opts.Pin {
		t.Error("expected Pin=false")
	}
	if call.opts.PrecomputedAuctionType == nil || *call.opts.PrecomputedAuctionType != types.AuctionDutch {
		t.Errorf("auctionType = %v, want Dutch", call.opts.PrecomputedAuctionType)
	}
	if len(call.order.Offer) != 1 || call.order.Offer[0].ItemType != types.ItemERC721 {
		t.Errorf("offer not normalized correctly: %+v", call.order.Offer)
	}
}

func TestPollOnceSkipsMalformedOrder(t *testing.T) {
	t.Parallel()
	bad := sampleFeedOrder()
	bad.Counter = "not-a-number"
	good := sampleFeedOrder()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := feedResponse{Orders: []feedOrder{bad, good}}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	eng := &fakeEngine{}
	c := New(Config{BaseURL: srv.URL, RatePerSecond: 100}, eng, testLogger())

	if err := c.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if n := eng.count(); n != 1 {
		t.Fatalf("admit calls = %d, want 1 (malformed order skipped)", n)
	}
}

func TestStartStopPolls(t *testing.T) {
	t.Parallel()
	var requests int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		json.NewEncoder(w).Encode(feedResponse{})
	}))
	defer srv.Close()

	eng := &fakeEngine{}
	c := New(Config{BaseURL: srv.URL, RatePerSecond: 100, PollInterval: 10 * time.Millisecond}, eng, testLogger())
	c.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	c.Stop()

	mu.Lock()
	n := requests
	mu.Unlock()
	if n == 0 {
		t.Fatal("expected at least one poll request")
	}
}

func TestTokenBucketLimitsRate(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(1, 10) // burst 1, refill 10/s
	ctx := context.Background()

	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	start := time.Now()
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("second wait returned too fast: %s", elapsed)
	}
}
