// Package chainlistener translates settlement-contract events into
// OrderEngine mutations: it is the authoritative, on-chain
// counterpart to internal/gossip's peer-originated event handling.
package chainlistener

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/chainclient"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/engine"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/metrics"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/types"
)

// ChainSource is the subset of *chainclient.Client the listener depends on.
type ChainSource interface {
	SubscribeEvents(ctx context.Context, fromBlock uint64) (<-chan chainclient.Event, <-chan error)
	GetOrderStatus(ctx context.Context, orderHash [32]byte) (*chainclient.OrderStatusResult, error)
}

// EngineSink is the subset of *engine.Engine the listener drives.
type EngineSink interface {
	MarkFulfilled(ctx context.Context, hash [32]byte, basic bool, status *engine.FulfillmentStatus, price *big.Int, blockNumber uint64, blockHash [32]byte) error
	MarkCancelled(hash [32]byte, blockNumber uint64, blockHash [32]byte) error
	MarkValidatedOnChain(ctx context.Context, hash [32]byte, blockNumber uint64, blockHash [32]byte) error
	MarkCounterIncremented(offerer common.Address, newCounter *big.Int, blockNumber uint64, blockHash [32]byte) error
	Order(hash [32]byte) (*types.Order, error)
}

// Listener subscribes to settlement-contract events and drives EngineSink.
type Listener struct {
	chain   ChainSource
	engine  EngineSink
	logger  *slog.Logger
	metrics *metrics.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Listener. Call Start to begin consuming events.
func New(chain ChainSource, eng EngineSink, logger *slog.Logger) *Listener {
	return &Listener{
		chain:  chain,
		engine: eng,
		logger: logger.With("component", "chainlistener"),
	}
}

// SetMetrics wires the node's metrics collector. A nil Listener.metrics is
// always safe, since every metrics.Metrics method no-ops on a nil receiver.
func (l *Listener) SetMetrics(m *metrics.Metrics) {
	l.metrics = m
}

// Start subscribes from fromBlock and processes events until ctx is
// cancelled or Stop is called.
func (l *Listener) Start(ctx context.Context, fromBlock uint64) {
	ctx, l.cancel = context.WithCancel(ctx)
	events, errs := l.chain.SubscribeEvents(ctx, fromBlock)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errs:
				if ok && err != nil {
					l.logger.Error("event subscription failed", "error", err)
				}
			case evt, ok := <-events:
				if !ok {
					return
				}
				if err := l.handle(ctx, evt); err != nil {
					l.logger.Warn("handle chain event", "kind", evt.Kind, "error", err)
				}
			}
		}
	}()
}

// Stop cancels the subscription and waits for the processing goroutine to
// exit.
func (l *Listener) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

func (l *Listener) handle(ctx context.Context, evt chainclient.Event) error {
	blockHash := [32]byte(evt.BlockHash)
	switch evt.Kind {
	case chainclient.EventOrderFulfilled:
		l.metrics.ChainEvent("order_fulfilled")
		return l.handleFulfilled(ctx, evt, blockHash)
	case chainclient.EventOrderCancelled:
		l.metrics.ChainEvent("order_cancelled")
		return l.engine.MarkCancelled(evt.OrderHash, evt.BlockNumber, blockHash)
	case chainclient.EventOrderValidated:
		l.metrics.ChainEvent("order_validated")
		return l.engine.MarkValidatedOnChain(ctx, evt.OrderHash, evt.BlockNumber, blockHash)
	case chainclient.EventCounterIncremented:
		l.metrics.ChainEvent("counter_incremented")
		return l.engine.MarkCounterIncremented(evt.Offerer, evt.NewCounter, evt.BlockNumber, blockHash)
	default:
		return fmt.Errorf("unrecognized event kind %d", evt.Kind)
	}
}

// handleFulfilled handles the OrderFulfilled settlement event: a basic
// order (no advanced-order optionals) is marked fully fulfilled directly; an
// advanced order's fill state is read back from the contract via
// getOrderStatus. lastFulfilledPrice is the sum of fungible (NATIVE/ERC20)
// item amounts on whichever side of the trade carries them.
func (l *Listener) handleFulfilled(ctx context.Context, evt chainclient.Event, blockHash [32]byte) error {
	order, err := l.engine.Order(evt.OrderHash)
	if err != nil {
		return fmt.Errorf("lookup order: %w", err)
	}
	if order == nil {
		return nil // unknown order: nothing local to update
	}

	basic := !order.IsAdvanced()
	var status *engine.FulfillmentStatus
	if !basic {
		res, err := l.chain.GetOrderStatus(ctx, evt.OrderHash)
		if err != nil {
			return fmt.Errorf("get order status: %w", err)
		}
		status = &engine.FulfillmentStatus{TotalFilled: res.TotalFilled, TotalSize: res.TotalSize}
	}

	price := fungiblePrice(evt.Offer, evt.Consideration)

	return l.engine.MarkFulfilled(ctx, evt.OrderHash, basic, status, price, evt.BlockNumber, blockHash)
}

// fungiblePrice sums the NATIVE/ERC20 item amounts across offer and
// consideration. A well-formed order carries fungibles on exactly one side,
// so this is equivalent to summing "the side that contains fungibles."
func fungiblePrice(offer []chainclient.OfferItem, consideration []chainclient.ConsiderationItem) *big.Int {
	sum := new(big.Int)
	for _, item := range offer {
		if isFungible(item.ItemType) && item.Amount != nil {
			sum.Add(sum, item.Amount)
		}
	}
	for _, item := range consideration {
		if isFungible(item.ItemType) && item.Amount != nil {
			sum.Add(sum, item.Amount)
		}
	}
	return sum
}

func isFungible(itemType uint8) bool {
	return types.ItemType(itemType) == types.ItemNative || types.ItemType(itemType) == types.ItemERC20
}
