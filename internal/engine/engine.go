// Package engine implements OrderEngine, the central arbiter of the node:
// the admission pipeline for incoming orders (from local submission, peer
// gossip, direct RPC, or the ingestor), the background revalidation loop,
// and the mutation handlers ChainListener and GossipLayer drive on
// settlement events.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/metrics"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/store"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/validator"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/codec"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/types"
)

// Config parameterizes the admission pipeline and revalidation loop. Field
// names and defaults mirror the node configuration table.
type Config struct {
	MaxOrders               int
	MaxOrdersPerOfferer     int
	RevalidateInterval      time.Duration
	RevalidateBlockDistance uint64
	RevalidateBatchSize     int
	MaxOrderHistory         time.Duration
	MaxOrderStartTime       time.Duration
	MaxOrderEndTime         time.Duration
	ValidatorConfig         validator.Config
}

// DefaultConfig returns the engine's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxOrders:               100_000,
		MaxOrdersPerOfferer:     100,
		RevalidateInterval:      60 * time.Second,
		RevalidateBlockDistance: 25,
		RevalidateBatchSize:     50,
		MaxOrderHistory:         7 * 24 * time.Hour,
		MaxOrderStartTime:       14 * 24 * time.Hour,
		MaxOrderEndTime:         180 * 24 * time.Hour,
	}
}

// EventEmitter receives gossip events OrderEngine produces as a side effect
// of admission, revalidation, and settlement-event handling. GossipLayer
// implements this; it is passed in via SetEmitter so engine has no import
// dependency on the gossip package.
type EventEmitter interface {
	Emit(event *types.GossipsubEvent)
}

// BlockSource supplies the current chain head, used by the admission
// pipeline to stamp newly validated metadata and by the revalidation loop
// to compute its cutoff.
type BlockSource interface {
	LatestBlock(ctx context.Context) (uint64, common.Hash, error)
	HasCode(ctx context.Context, addr common.Address) (bool, error)
}

// Engine is OrderEngine. All exported methods are safe for concurrent use;
// admission is additionally serialized per order hash via a singleflight
// group so at most one admission attempt for a given hash is ever in
// flight.
type Engine struct {
	store   *store.Store
	checker validator.Checker
	chain   BlockSource
	cfg     Config
	logger  *slog.Logger

	emitterMu sync.RWMutex
	emitter   EventEmitter

	metricsMu sync.RWMutex
	metrics   *metrics.Metrics

	admitGroup singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an Engine. Start must be called to run the revalidation
// loop.
func New(st *store.Store, checker validator.Checker, chain BlockSource, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		store:   st,
		checker: checker,
		chain:   chain,
		cfg:     cfg,
		logger:  logger.With("component", "engine"),
	}
}

// SetEmitter wires the gossip layer (or any EventEmitter) that should
// receive events produced by admission, revalidation, and settlement
// handling.
func (e *Engine) SetEmitter(em EventEmitter) {
	e.emitterMu.Lock()
	defer e.emitterMu.Unlock()
	e.emitter = em
}

// SetMetrics wires the node's metrics collector. A nil Engine.metrics (the
// zero value) is always safe: every metrics.Metrics method no-ops on a nil
// receiver, so instrumentation is optional.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()
	e.metrics = m
}

func (e *Engine) metricsSnapshot() *metrics.Metrics {
	e.metricsMu.RLock()
	defer e.metricsMu.RUnlock()
	return e.metrics
}

func (e *Engine) emit(evt *types.GossipsubEvent) {
	e.emitterMu.RLock()
	em := e.emitter
	e.emitterMu.RUnlock()
	if em != nil {
		em.Emit(evt)
	}
}

// Start launches the background revalidation loop.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.revalidationLoop()
	}()
}

// Stop cancels the revalidation loop and waits for it to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// AdmitOptions controls which admission-pipeline steps run for a given
// caller: peer gossip and direct RPC validate and never
// pin; local submission validates and pins; the ingestor skips validation
// entirely and supplies a pre-computed auction type.
type AdmitOptions struct {
	Validate             bool
	Pin                  bool
	PrecomputedAuctionType *types.AuctionType
}

// AdmitOrder runs the full admission pipeline for order and returns whether
// it is newly stored along with its resulting metadata.
func (e *Engine) AdmitOrder(ctx context.Context, order *types.Order, opts AdmitOptions) (bool, *types.OrderMetadata, error) {
	if err := e.structuralCheck(order); err != nil {
		return false, nil, fmt.Errorf("%w: %v", codec.ErrInvalidOrderData, err)
	}

	hash, err := codec.HashOrder(order)
	if err != nil {
		return false, nil, fmt.Errorf("hash order: %w", err)
	}

	key := hashKey(hash)
	v, err, _ := e.admitGroup.Do(key, func() (any, error) {
		isNew, md, err := e.admitLocked(ctx, hash, order, opts)
		return admitResult{isNew, md}, err
	})
	if err != nil {
		return false, nil, err
	}
	r := v.(admitResult)
	return r.isNew, r.md, nil
}

type admitResult struct {
	isNew bool
	md    *types.OrderMetadata
}

func hashKey(hash [32]byte) string {
	return string(hash[:])
}

func (e *Engine) structuralCheck(o *types.Order) error {
	if o == nil {
		return fmt.Errorf("nil order")
	}
	if len(o.Offer) == 0 && len(o.Consideration) == 0 {
		return fmt.Errorf("order has no offer or consideration items")
	}
	if o.Offerer == (common.Address{}) {
		return fmt.Errorf("missing offerer")
	}
	if o.EndTime <= o.StartTime {
		return fmt.Errorf("endTime must be > startTime")
	}
	now := time.Now()
	if e.cfg.MaxOrderStartTime > 0 && time.Unix(int64(o.StartTime), 0).After(now.Add(e.cfg.MaxOrderStartTime)) {
		return fmt.Errorf("startTime is beyond the %s admission window", e.cfg.MaxOrderStartTime)
	}
	if e.cfg.MaxOrderEndTime > 0 && time.Unix(int64(o.EndTime), 0).After(now.Add(e.cfg.MaxOrderEndTime)) {
		return fmt.Errorf("endTime is beyond the %s admission window", e.cfg.MaxOrderEndTime)
	}
	if o.Counter == nil || o.Salt == nil {
		return fmt.Errorf("missing counter or salt")
	}
	for i, it := range o.Offer {
		if it.StartAmount == nil || it.EndAmount == nil || it.IdentifierOrCriteria == nil {
			return fmt.Errorf("offer item %d missing amount/identifier", i)
		}
	}
	for i, it := range o.Consideration {
		if it.StartAmount == nil || it.EndAmount == nil || it.IdentifierOrCriteria == nil {
			return fmt.Errorf("consideration item %d missing amount/identifier", i)
		}
		if it.Recipient == (common.Address{}) {
			return fmt.Errorf("consideration item %d missing recipient", i)
		}
	}
	return nil
}

func (e *Engine) admitLocked(ctx context.Context, hash [32]byte, order *types.Order, opts AdmitOptions) (bool, *types.OrderMetadata, error) {
	existing, existingMD, err := e.store.GetOrder(hash)
	if err != nil {
		return false, nil, fmt.Errorf("lookup existing order: %w", err)
	}
	alreadyExists := existing != nil

	if !alreadyExists && !opts.Pin {
		total, err := e.store.CountTotal()
		if err != nil {
			return false, nil, fmt.Errorf("count total: %w", err)
		}
		if total >= e.cfg.MaxOrders {
			e.metricsSnapshot().OrderRejected("max_orders")
			return false, nil, fmt.Errorf("order rejected: store at maxOrders limit (%d)", e.cfg.MaxOrders)
		}
		perOfferer, err := e.store.CountByOfferer(order.Offerer)
		if err != nil {
			return false, nil, fmt.Errorf("count by offerer: %w", err)
		}
		if perOfferer >= e.cfg.MaxOrdersPerOfferer {
			e.metricsSnapshot().OrderRejected("max_orders_per_offerer")
			return false, nil, fmt.Errorf("order rejected: offerer at maxOrdersPerOfferer limit (%d)", e.cfg.MaxOrdersPerOfferer)
		}
	}

	blockNum, blockHash, err := e.chain.LatestBlock(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("latest block: %w", err)
	}

	var classification validator.Classification = validator.Valid
	if opts.Validate {
		res, err := e.checker.Validate(ctx, hash, order, e.cfg.ValidatorConfig)
		if err != nil {
			return false, nil, fmt.Errorf("contract validate: %w", err)
		}
		classification = validator.Classify(res)
	}

	isValid := classification == validator.Valid
	if classification == validator.FatalInvalid && !alreadyExists && !opts.Pin {
		e.metricsSnapshot().OrderRejected("fatal_invalid")
		return false, nil, fmt.Errorf("order rejected: fatal validation failure")
	}

	auctionType := opts.PrecomputedAuctionType
	if auctionType == nil {
		zoneHasCode := true
		if order.OrderType.Restricted() {
			zoneHasCode, err = e.chain.HasCode(ctx, order.Zone)
			if err != nil {
				return false, nil, fmt.Errorf("check zone code: %w", err)
			}
		}
		derived := DeriveAuctionType(order, zoneHasCode)
		auctionType = &derived
	}

	md := existingMD
	if md == nil {
		md = &types.OrderMetadata{OrderHash: hash, CreatedAt: time.Now().UTC()}
	}
	md.IsValid = isValid
	md.IsPinned = md.IsPinned || opts.Pin
	md.LastValidatedBlockNumber = strconv.FormatUint(blockNum, 10)
	md.LastValidatedBlockHash = blockHash
	md.AuctionType = *auctionType

	shouldPersist := isValid || alreadyExists || opts.Pin
	if !shouldPersist {
		return false, md, nil
	}

	if alreadyExists {
		if err := e.store.UpdateMetadata(hash, md); err != nil {
			return false, nil, fmt.Errorf("update metadata: %w", err)
		}
		return false, md, nil
	}

	if err := e.store.PutOrder(hash, order, md); err != nil {
		return false, nil, fmt.Errorf("put order: %w", err)
	}
	e.metricsSnapshot().OrderAdmitted(auctionTypeLabel(md.AuctionType))

	e.emit(&types.GossipsubEvent{
		EventType:   types.EventNew,
		Order:       order,
		OrderHash:   hash,
		BlockNumber: blockNum,
		BlockHash:   blockHash,
	})

	return true, md, nil
}

// deriveAuctionType cannot itself distinguish ENGLISH, since that requires an
// on-chain code-at check for restricted zones; callers needing that check
// use DeriveAuctionType or AdmitOptions.PrecomputedAuctionType instead.
func deriveAuctionType(o *types.Order) types.AuctionType {
	allFixed := true
	for _, it := range o.Offer {
		if it.StartAmount.Cmp(it.EndAmount) != 0 {
			allFixed = false
			break
		}
	}
	if allFixed {
		for _, it := range o.Consideration {
			if it.StartAmount.Cmp(it.EndAmount) != 0 {
				allFixed = false
				break
			}
		}
	}
	if allFixed {
		return types.AuctionBasic
	}
	return types.AuctionDutch
}

// DeriveAuctionType classifies an order's pricing curve, including the
// restricted-zone EOA check that classifies ENGLISH auctions.
func DeriveAuctionType(o *types.Order, zoneHasCode bool) types.AuctionType {
	if o.OrderType.Restricted() && !zoneHasCode {
		return types.AuctionEnglish
	}
	return deriveAuctionType(o)
}

func auctionTypeLabel(a types.AuctionType) string {
	switch a {
	case types.AuctionBasic:
		return "basic"
	case types.AuctionEnglish:
		return "english"
	case types.AuctionDutch:
		return "dutch"
	default:
		return "unknown"
	}
}

// revalidationLoop runs every cfg.RevalidateInterval, re-validating up to
// RevalidateBatchSize stale orders per tick.
func (e *Engine) revalidationLoop() {
	ticker := time.NewTicker(e.cfg.RevalidateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if err := e.revalidateBatch(e.ctx); err != nil {
				e.logger.Error("revalidation batch failed", "error", err)
			}
		}
	}
}

func (e *Engine) revalidateBatch(ctx context.Context) error {
	currentBlock, _, err := e.chain.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("latest block: %w", err)
	}
	if currentBlock < e.cfg.RevalidateBlockDistance {
		return nil
	}
	maxBlock := currentBlock - e.cfg.RevalidateBlockDistance

	hashes, err := e.store.RevalidationCandidates(maxBlock, e.cfg.RevalidateBatchSize)
	if err != nil {
		return fmt.Errorf("revalidation candidates: %w", err)
	}

	for _, hash := range hashes {
		if err := e.revalidateOne(ctx, hash, currentBlock); err != nil {
			e.logger.Warn("revalidate order failed", "hash", fmt.Sprintf("%x", hash), "error", err)
		}
	}
	return nil
}

func (e *Engine) revalidateOne(ctx context.Context, hash [32]byte, currentBlock uint64) error {
	key := hashKey(hash)
	_, err, _ := e.admitGroup.Do(key, func() (any, error) {
		order, md, err := e.store.GetOrder(hash)
		if err != nil {
			return nil, fmt.Errorf("get order: %w", err)
		}
		if order == nil {
			return nil, nil
		}

		res, err := e.checker.Validate(ctx, hash, order, e.cfg.ValidatorConfig)
		if err != nil {
			return nil, fmt.Errorf("validate: %w", err)
		}
		classification := validator.Classify(res)
		wasValid := md.IsValid
		nowValid := classification == validator.Valid

		_, blockHash, err := e.chain.LatestBlock(ctx)
		if err != nil {
			return nil, fmt.Errorf("latest block: %w", err)
		}

		if !md.IsPinned && hasTerminalCode(res.Errors) {
			if err := e.store.DeleteOrder(hash); err != nil {
				return nil, fmt.Errorf("delete stale order: %w", err)
			}
			e.metricsSnapshot().Revalidated("pruned")
			return nil, nil
		}

		md.IsValid = nowValid
		md.LastValidatedBlockNumber = strconv.FormatUint(currentBlock, 10)
		md.LastValidatedBlockHash = blockHash
		if err := e.store.UpdateMetadata(hash, md); err != nil {
			return nil, fmt.Errorf("update metadata: %w", err)
		}
		if nowValid {
			e.metricsSnapshot().Revalidated("valid")
		} else {
			e.metricsSnapshot().Revalidated("invalid")
		}

		if wasValid != nowValid {
			eventType := types.EventInvalidated
			if nowValid {
				eventType = types.EventValidated
			}
			e.emit(&types.GossipsubEvent{
				EventType:   eventType,
				OrderHash:   hash,
				BlockNumber: currentBlock,
				BlockHash:   blockHash,
			})
		}
		return nil, nil
	})
	return err
}

// hasTerminalCode reports whether errs contains one of the three settlement
// outcomes that make an order permanently unfillable (fully filled,
// cancelled, expired), regardless of what else accompanies it. These are the
// only codes the revalidation loop prunes an unpinned order for; every other
// error leaves the order in the store so it can be picked back up if the
// condition clears.
func hasTerminalCode(errs []validator.Code) bool {
	for _, c := range errs {
		switch c {
		case validator.CodeOrderFullyFilled, validator.CodeOrderCancelled, validator.CodeOrderExpired:
			return true
		}
	}
	return false
}

// RevalidateNow runs a single order through the same validation path as the
// periodic revalidation loop, synchronously. Used by internal/query's
// opt-in RevalidateOnRead to refresh an order's metadata before it is
// returned to a caller, rather than waiting for the next scheduled batch.
func (e *Engine) RevalidateNow(ctx context.Context, hash [32]byte) error {
	currentBlock, _, err := e.chain.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("latest block: %w", err)
	}
	return e.revalidateOne(ctx, hash, currentBlock)
}

// PruneHistory deletes unpinned orders whose metadata predates
// cfg.MaxOrderHistory; this is the history-retention housekeeping that sits
// outside the revalidation loop proper.
func (e *Engine) PruneHistory(ctx context.Context) error {
	cutoff := time.Now().Add(-e.cfg.MaxOrderHistory)
	hashes, err := e.store.StaleHashes(cutoff)
	if err != nil {
		return fmt.Errorf("stale hashes: %w", err)
	}
	for _, hash := range hashes {
		if err := e.store.DeleteOrder(hash); err != nil {
			e.logger.Warn("prune delete failed", "hash", fmt.Sprintf("%x", hash), "error", err)
		}
	}
	return nil
}

// --- ChainListener / GossipLayer mutation handlers --------------------------

// MarkFulfilled implements the OrderFulfilled handler. basic
// reports whether the order carries no numerator/denominator; when it
// doesn't, the caller must supply the on-chain totalFilled/totalSize via
// status.
func (e *Engine) MarkFulfilled(ctx context.Context, hash [32]byte, basic bool, status *FulfillmentStatus, price *big.Int, blockNumber uint64, blockHash [32]byte) error {
	_, err, _ := e.admitGroup.Do(hashKey(hash), func() (any, error) {
		order, md, err := e.store.GetOrder(hash)
		if err != nil {
			return nil, fmt.Errorf("get order: %w", err)
		}
		if order == nil {
			return nil, nil // unknown order: nothing local to update
		}

		if basic {
			md.IsFullyFulfilled = true
		} else if status != nil {
			md.IsFullyFulfilled = status.TotalFilled.Sign() > 0 && status.TotalFilled.Cmp(status.TotalSize) == 0
		}
		md.LastFulfilledAt = strconv.FormatUint(blockNumber, 10)
		if price != nil {
			md.LastFulfilledPrice = price.String()
		}

		if err := e.store.UpdateMetadata(hash, md); err != nil {
			return nil, fmt.Errorf("update metadata: %w", err)
		}

		e.emit(&types.GossipsubEvent{
			EventType:   types.EventFulfilled,
			OrderHash:   hash,
			BlockNumber: blockNumber,
			BlockHash:   blockHash,
		})
		return nil, nil
	})
	return err
}

// FulfillmentStatus carries the advanced-order getOrderStatus result needed
// to determine full fulfillment.
type FulfillmentStatus struct {
	TotalFilled *big.Int
	TotalSize   *big.Int
}

// MarkCancelled implements the OrderCancelled handler.
func (e *Engine) MarkCancelled(hash [32]byte, blockNumber uint64, blockHash [32]byte) error {
	_, err, _ := e.admitGroup.Do(hashKey(hash), func() (any, error) {
		order, md, err := e.store.GetOrder(hash)
		if err != nil {
			return nil, fmt.Errorf("get order: %w", err)
		}
		if order == nil {
			return nil, nil
		}
		if !monotonic(md.LastValidatedBlockNumber, blockNumber) {
			return nil, nil
		}
		md.IsValid = false
		md.LastValidatedBlockNumber = strconv.FormatUint(blockNumber, 10)
		md.LastValidatedBlockHash = blockHash
		if err := e.store.UpdateMetadata(hash, md); err != nil {
			return nil, fmt.Errorf("update metadata: %w", err)
		}
		e.emit(&types.GossipsubEvent{
			EventType:   types.EventCancelled,
			OrderHash:   hash,
			BlockNumber: blockNumber,
			BlockHash:   blockHash,
		})
		return nil, nil
	})
	return err
}

// MarkValidatedOnChain implements the OrderValidated handler: re-run local
// validation and emit VALIDATED with the fresh result.
func (e *Engine) MarkValidatedOnChain(ctx context.Context, hash [32]byte, blockNumber uint64, blockHash [32]byte) error {
	_, err, _ := e.admitGroup.Do(hashKey(hash), func() (any, error) {
		order, md, err := e.store.GetOrder(hash)
		if err != nil {
			return nil, fmt.Errorf("get order: %w", err)
		}
		if order == nil {
			return nil, nil
		}
		if !monotonic(md.LastValidatedBlockNumber, blockNumber) {
			return nil, nil
		}
		res, err := e.checker.Validate(ctx, hash, order, e.cfg.ValidatorConfig)
		if err != nil {
			return nil, fmt.Errorf("validate: %w", err)
		}
		md.IsValid = validator.Classify(res) == validator.Valid
		md.LastValidatedBlockNumber = strconv.FormatUint(blockNumber, 10)
		md.LastValidatedBlockHash = blockHash
		if err := e.store.UpdateMetadata(hash, md); err != nil {
			return nil, fmt.Errorf("update metadata: %w", err)
		}
		e.emit(&types.GossipsubEvent{
			EventType:   types.EventValidated,
			OrderHash:   hash,
			BlockNumber: blockNumber,
			BlockHash:   blockHash,
		})
		return nil, nil
	})
	return err
}

// MarkCounterIncremented implements the CounterIncremented handler (spec
// §4.6): every order of offerer with counter < newCounter becomes invalid.
func (e *Engine) MarkCounterIncremented(offerer common.Address, newCounter *big.Int, blockNumber uint64, blockHash [32]byte) error {
	hashes, err := e.store.HashesByOfferer(offerer)
	if err != nil {
		return fmt.Errorf("hashes by offerer: %w", err)
	}
	for _, hash := range hashes {
		if err := e.invalidateIfCounterStale(hash, newCounter, blockNumber, blockHash); err != nil {
			e.logger.Warn("invalidate on counter increment failed", "hash", fmt.Sprintf("%x", hash), "error", err)
		}
	}
	e.emit(&types.GossipsubEvent{
		EventType:   types.EventCounterIncremented,
		BlockNumber: blockNumber,
		BlockHash:   blockHash,
		Offerer:     offerer,
		NewCounter:  newCounter,
	})
	return nil
}

func (e *Engine) invalidateIfCounterStale(hash [32]byte, newCounter *big.Int, blockNumber uint64, blockHash [32]byte) error {
	_, err, _ := e.admitGroup.Do(hashKey(hash), func() (any, error) {
		order, md, err := e.store.GetOrder(hash)
		if err != nil {
			return nil, fmt.Errorf("get order: %w", err)
		}
		if order == nil || order.Counter == nil || order.Counter.Cmp(newCounter) >= 0 {
			return nil, nil
		}
		if !monotonic(md.LastValidatedBlockNumber, blockNumber) {
			return nil, nil
		}
		md.IsValid = false
		md.LastValidatedBlockNumber = strconv.FormatUint(blockNumber, 10)
		md.LastValidatedBlockHash = blockHash
		if err := e.store.UpdateMetadata(hash, md); err != nil {
			return nil, fmt.Errorf("update metadata: %w", err)
		}
		return nil, nil
	})
	return err
}

// ReconcileRemoteEvent implements the receive pipeline's INVALIDATED/
// CANCELLED handling: a peer claims an order is now invalid or
// cancelled, so local validation re-runs. If the local view still finds the
// order valid, the local record (and any rebroadcast) is corrected to
// VALIDATED rather than trusting the peer; otherwise the peer's event kind
// is recorded. Acceptance of the originating message is always Accept,
// independent of this method's outcome or error.
func (e *Engine) ReconcileRemoteEvent(ctx context.Context, hash [32]byte, remoteType types.GossipEventType, blockNumber uint64, blockHash [32]byte) error {
	_, err, _ := e.admitGroup.Do(hashKey(hash), func() (any, error) {
		order, md, err := e.store.GetOrder(hash)
		if err != nil {
			return nil, fmt.Errorf("get order: %w", err)
		}
		if order == nil {
			return nil, nil
		}
		if !monotonic(md.LastValidatedBlockNumber, blockNumber) {
			return nil, nil
		}

		res, err := e.checker.Validate(ctx, hash, order, e.cfg.ValidatorConfig)
		if err != nil {
			return nil, fmt.Errorf("validate: %w", err)
		}
		nowValid := validator.Classify(res) == validator.Valid

		eventType := remoteType
		if nowValid {
			eventType = types.EventValidated
		}
		md.IsValid = nowValid
		md.LastValidatedBlockNumber = strconv.FormatUint(blockNumber, 10)
		md.LastValidatedBlockHash = blockHash
		if err := e.store.UpdateMetadata(hash, md); err != nil {
			return nil, fmt.Errorf("update metadata: %w", err)
		}

		e.emit(&types.GossipsubEvent{
			EventType:   eventType,
			OrderHash:   hash,
			BlockNumber: blockNumber,
			BlockHash:   blockHash,
		})
		return nil, nil
	})
	return err
}

// CollectionAddresses returns the unique non-zero token addresses referenced
// by an order's offer and consideration items, in first-seen order. This is
// the topic set GossipLayer publishes an order-bearing event to (spec
// §4.4).
func CollectionAddresses(o *types.Order) []common.Address {
	var zero common.Address
	seen := make(map[common.Address]bool)
	var out []common.Address
	add := func(addr common.Address) {
		if addr == zero || seen[addr] {
			return
		}
		seen[addr] = true
		out = append(out, addr)
	}
	for _, it := range o.Offer {
		add(it.Token)
	}
	for _, it := range o.Consideration {
		add(it.Token)
	}
	return out
}

// Order returns the stored order for hash, or nil if it is unknown locally.
// Used by internal/chainlistener to decide whether an OrderFulfilled event
// concerns a basic (all-or-nothing) order via Order.IsAdvanced, without
// needing its own copy of the order store.
func (e *Engine) Order(hash [32]byte) (*types.Order, error) {
	order, _, err := e.store.GetOrder(hash)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

// OrderTokens returns the collection addresses of the order stored under
// hash, or nil if it is unknown locally. Used to resolve topics for
// hash-only gossip events (VALIDATED, INVALIDATED, CANCELLED, FULFILLED).
func (e *Engine) OrderTokens(hash [32]byte) ([]common.Address, error) {
	order, _, err := e.store.GetOrder(hash)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, nil
	}
	return CollectionAddresses(order), nil
}

// OffererTokens unions OrderTokens across every order currently stored for
// offerer. COUNTER_INCREMENTED affects every order that offerer has ever
// signed, not a single order, so it has no order of its own to derive topics
// from.
func (e *Engine) OffererTokens(offerer common.Address) ([]common.Address, error) {
	hashes, err := e.store.HashesByOfferer(offerer)
	if err != nil {
		return nil, fmt.Errorf("hashes by offerer: %w", err)
	}
	seen := make(map[common.Address]bool)
	var out []common.Address
	for _, h := range hashes {
		toks, err := e.OrderTokens(h)
		if err != nil {
			return nil, err
		}
		for _, t := range toks {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out, nil
}

// monotonic reports whether newBlock is not strictly smaller than the block
// number already recorded in md.
func monotonic(recorded string, newBlock uint64) bool {
	if recorded == "" {
		return true
	}
	cur, err := strconv.ParseUint(recorded, 10, 64)
	if err != nil {
		return true
	}
	return newBlock >= cur
}
