package engine

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/store"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/validator"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/codec"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/types"
)

type fakeChain struct {
	block   uint64
	hash    common.Hash
	hasCode bool
}

func (f *fakeChain) LatestBlock(ctx context.Context) (uint64, common.Hash, error) {
	return f.block, f.hash, nil
}

func (f *fakeChain) HasCode(ctx context.Context, addr common.Address) (bool, error) {
	return f.hasCode, nil
}

type fakeChecker struct {
	mu     sync.Mutex
	result validator.Result
	err    error
	calls  int
}

func (f *fakeChecker) Validate(ctx context.Context, hash [32]byte, order *types.Order, cfg validator.Config) (validator.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

func (f *fakeChecker) setResult(r validator.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = r
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []*types.GossipsubEvent
}

func (r *recordingEmitter) Emit(evt *types.GossipsubEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, checker validator.Checker, chain BlockSource) (*Engine, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(store.DefaultConfig(filepath.Join(dir, "orders.db")))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := DefaultConfig()
	cfg.MaxOrders = 5
	cfg.MaxOrdersPerOfferer = 2
	e := New(st, checker, chain, cfg, testLogger())
	return e, st
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
				StartAmount:          big.NewInt(1_000_000),
				EndAmount:            big.NewInt(1_000_000),
				Recipient:            common.HexToAddress("0x2222222222222222222222222222222222222222"),
			},
		},
		Offerer:   common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Signature: make([]byte, 65),
		OrderType: types.FullOpen,
		StartTime: 1_700_000_000,
		EndTime:   1_700_100_000,
		Counter:   big.NewInt(0),
		Salt:      big.NewInt(1),
		ChainID:   "1",
	}
}

func TestAdmitOrderValidNewOrder(t *testing.T) {
	t.Parallel()
	checker := &fakeChecker{}
	chain := &fakeChain{block: 1000}
	e, _ := newTestEngine(t, checker, chain)
	em := &recordingEmitter{}
	e.SetEmitter(em)

	isNew, md, err := e.AdmitOrder(context.Background(), sampleOrder(), AdmitOptions{Validate: true})
	if err != nil {
		t.Fatalf("AdmitOrder: %v", err)
	}
	if !isNew {
		t.Error("expected isNew = true")
	}
	if !md.IsValid {
		t.Error("expected md.IsValid = true")
	}
	if md.AuctionType != types.AuctionBasic {
		t.Errorf("AuctionType = %v, want AuctionBasic (fixed amounts)", md.AuctionType)
	}
	if em.count() != 1 {
		t.Errorf("expected 1 emitted event, got %d", em.count())
	}
}

func TestAdmitOrderEnglishAuctionForRestrictedEOA(t *testing.T) {
	t.Parallel()
	checker := &fakeChecker{}
	chain := &fakeChain{block: 1000, hasCode: false}
	e, _ := newTestEngine(t, checker, chain)

	o := sampleOrder()
	o.OrderType = types.FullRestricted
	o.Zone = common.HexToAddress("0x5555555555555555555555555555555555555555")

	_, md, err := e.AdmitOrder(context.Background(), o, AdmitOptions{Validate: true})
	if err != nil {
		t.Fatalf("AdmitOrder: %v", err)
	}
	if md.AuctionType != types.AuctionEnglish {
		t.Errorf("AuctionType = %v, want AuctionEnglish (restricted order, EOA zone)", md.AuctionType)
	}
}

func TestOrderTokensAndOffererTokens(t *testing.T) {
	t.Parallel()
	checker := &fakeChecker{}
	chain := &fakeChain{block: 1000}
	e, _ := newTestEngine(t, checker, chain)

	order := sampleOrder()
	if _, _, err := e.AdmitOrder(context.Background(), order, AdmitOptions{Validate: true}); err != nil {
		t.Fatalf("AdmitOrder: %v", err)
	}
	h, err := hashOf(order)
	if err != nil {
		t.Fatalf("hashOf: %v", err)
	}

	toks, err := e.OrderTokens(h)
	if err != nil {
		t.Fatalf("OrderTokens: %v", err)
	}
	if len(toks) != 1 || toks[0] != order.Offer[0].Token {
		t.Errorf("OrderTokens = %v, want [%v]", toks, order.Offer[0].Token)
	}

	offererToks, err := e.OffererTokens(order.Offerer)
	if err != nil {
		t.Fatalf("OffererTokens: %v", err)
	}
	if len(offererToks) != 1 || offererToks[0] != order.Offer[0].Token {
		t.Errorf("OffererTokens = %v, want [%v]", offererToks, order.Offer[0].Token)
	}
}

func TestAdmitOrderFatalRejected(t *testing.T) {
	t.Parallel()
	checker := &fakeChecker{result: validator.Result{Errors: []validator.Code{validator.Code(9999)}}}
	chain := &fakeChain{block: 1000}
	e, st := newTestEngine(t, checker, chain)

	_, _, err := e.AdmitOrder(context.Background(), sampleOrder(), AdmitOptions{Validate: true})
	if err == nil {
		t.Fatal("expected error for fatal-invalid order")
	}
	count, _ := st.CountTotal()
	if count != 0 {
		t.Errorf("CountTotal = %d, want 0 after fatal rejection", count)
	}
}

func TestAdmitOrderPinnedBypassesFatal(t *testing.T) {
	t.Parallel()
	checker := &fakeChecker{result: validator.Result{Errors: []validator.Code{validator.Code(9999)}}}
	chain := &fakeChain{block: 1000}
	e, _ := newTestEngine(t, checker, chain)

	isNew, md, err := e.AdmitOrder(context.Background(), sampleOrder(), AdmitOptions{Validate: true, Pin: true})
	if err != nil {
		t.Fatalf("AdmitOrder pinned: %v", err)
	}
	if !isNew {
		t.Error("expected pinned order to persist despite fatal validation result")
	}
	if md.IsValid {
		t.Error("expected md.IsValid = false for fatal-invalid pinned order")
	}
	if !md.IsPinned {
		t.Error("expected md.IsPinned = true")
	}
}

func TestAdmitOrderMaxOrdersPerOffererLimit(t *testing.T) {
	t.Parallel()
	checker := &fakeChecker{}
	chain := &fakeChain{block: 1000}
	e, _ := newTestEngine(t, checker, chain)

	for i := 0; i < 2; i++ {
		o := sampleOrder()
		o.Salt = big.NewInt(int64(i))
		if _, _, err := e.AdmitOrder(context.Background(), o, AdmitOptions{Validate: true}); err != nil {
			t.Fatalf("AdmitOrder %d: %v", i, err)
		}
	}

	third := sampleOrder()
	third.Salt = big.NewInt(99)
	if _, _, err := e.AdmitOrder(context.Background(), third, AdmitOptions{Validate: true}); err == nil {
		t.Fatal("expected maxOrdersPerOfferer limit to reject third order")
	}
}

func TestAdmitOrderStructuralCheckRejectsMissingOfferer(t *testing.T) {
	t.Parallel()
	checker := &fakeChecker{}
	chain := &fakeChain{block: 1000}
	e, _ := newTestEngine(t, checker, chain)

	bad := sampleOrder()
	bad.Offerer = common.Address{}
	if _, _, err := e.AdmitOrder(context.Background(), bad, AdmitOptions{Validate: true}); err == nil {
		t.Fatal("expected structural check to reject missing offerer")
	}
}

func TestAdmitOrderRejectsStartTimeBeyondWindow(t *testing.T) {
	t.Parallel()
	checker := &fakeChecker{}
	chain := &fakeChain{block: 1000}
	e, _ := newTestEngine(t, checker, chain)

	future := time.Now().Add(365 * 24 * time.Hour)
	bad := sampleOrder()
	bad.StartTime = uint64(future.Unix())
	bad.EndTime = uint64(future.Add(time.Hour).Unix())
	if _, _, err := e.AdmitOrder(context.Background(), bad, AdmitOptions{Validate: true}); err == nil {
		t.Fatal("expected admission window check to reject a startTime a year out")
	}
}

func TestAdmitOrderRejectsEndTimeBeyondWindow(t *testing.T) {
	t.Parallel()
	checker := &fakeChecker{}
	chain := &fakeChain{block: 1000}
	e, _ := newTestEngine(t, checker, chain)

	bad := sampleOrder()
	bad.StartTime = uint64(time.Now().Unix())
	bad.EndTime = uint64(time.Now().Add(365 * 24 * time.Hour).Unix())
	if _, _, err := e.AdmitOrder(context.Background(), bad, AdmitOptions{Validate: true}); err == nil {
		t.Fatal("expected admission window check to reject an endTime a year out")
	}
}

func TestMarkCancelledInvalidatesAndEmits(t *testing.T) {
	t.Parallel()
	checker := &fakeChecker{}
	chain := &fakeChain{block: 1000}
	e, _ := newTestEngine(t, checker, chain)
	em := &recordingEmitter{}
	e.SetEmitter(em)

	order := sampleOrder()
	isNew, _, err := e.AdmitOrder(context.Background(), order, AdmitOptions{Validate: true})
	if err != nil || !isNew {
		t.Fatalf("AdmitOrder: isNew=%v err=%v", isNew, err)
	}

	h, err := hashOf(order)
	if err != nil {
		t.Fatalf("hashOf: %v", err)
	}

	if err := e.MarkCancelled(h, 1001, [32]byte{0xff}); err != nil {
		t.Fatalf("MarkCancelled: %v", err)
	}

	_, md, err := e.store.GetOrder(h)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if md == nil || md.IsValid {
		t.Errorf("expected order invalid after cancellation, got %+v", md)
	}
	if em.count() != 2 {
		t.Errorf("expected 2 emitted events (NEW + CANCELLED), got %d", em.count())
	}
}

func TestMarkCounterIncrementedInvalidatesStaleOrders(t *testing.T) {
	t.Parallel()
	checker := &fakeChecker{}
	chain := &fakeChain{block: 1000}
	e, _ := newTestEngine(t, checker, chain)

	order := sampleOrder()
	order.Counter = big.NewInt(0)
	if _, _, err := e.AdmitOrder(context.Background(), order, AdmitOptions{Validate: true}); err != nil {
		t.Fatalf("AdmitOrder: %v", err)
	}
	h, err := hashOf(order)
	if err != nil {
		t.Fatalf("hashOf: %v", err)
	}

	if err := e.MarkCounterIncremented(order.Offerer, big.NewInt(1), 1001, [32]byte{0xaa}); err != nil {
		t.Fatalf("MarkCounterIncremented: %v", err)
	}

	_, md, err := e.store.GetOrder(h)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if md == nil || md.IsValid {
		t.Errorf("expected order invalidated by counter increment, got %+v", md)
	}
}

func TestRevalidateBatchFlipsValidity(t *testing.T) {
	t.Parallel()
	checker := &fakeChecker{}
	chain := &fakeChain{block: 1000}
	e, _ := newTestEngine(t, checker, chain)
	e.cfg.RevalidateBlockDistance = 10

	order := sampleOrder()
	if _, _, err := e.AdmitOrder(context.Background(), order, AdmitOptions{Validate: true}); err != nil {
		t.Fatalf("AdmitOrder: %v", err)
	}
	h, err := hashOf(order)
	if err != nil {
		t.Fatalf("hashOf: %v", err)
	}

	_, md, err := e.store.GetOrder(h)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	md.LastValidatedBlockNumber = "1"
	if err := e.store.UpdateMetadata(h, md); err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}

	checker.setResult(validator.Result{Errors: []validator.Code{validator.CodeInsufficientBalance}})

	if err := e.revalidateBatch(context.Background()); err != nil {
		t.Fatalf("revalidateBatch: %v", err)
	}

	_, gotMD, err := e.store.GetOrder(h)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if gotMD.IsValid {
		t.Error("expected order marked invalid after revalidation with transient error")
	}
}

func TestEngineStartStopIdempotent(t *testing.T) {
	t.Parallel()
	checker := &fakeChecker{}
	chain := &fakeChain{block: 1000}
	e, _ := newTestEngine(t, checker, chain)
	e.cfg.RevalidateInterval = 5 * time.Millisecond

	e.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	e.Stop()
}

func hashOf(o *types.Order) ([32]byte, error) {
	return codec.HashOrder(o)
}
