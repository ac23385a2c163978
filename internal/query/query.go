// Package query implements a thin, read-only filter/sort projection over
// internal/store's order set: the BUY_NOW/ON_AUCTION/SINGLE_ITEM/BUNDLES/
// CURRENCY/PRICE_ASC/PRICE_DESC surface named as an Open Question. It is a
// read-layer convenience, not part of OrderEngine's core admission pipeline.
package query

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/types"
)

// DefaultScanLimit bounds how many of a collection's most recent order
// hashes a Find call considers before filtering/sorting/paginating. Orders
// beyond this horizon are invisible to the query layer even if they'd match
// — pagination is over the live/recent set, not a full table scan.
const DefaultScanLimit = 2000

// OrderStore is the subset of *internal/store.Store the query layer reads.
type OrderStore interface {
	HashesByCollection(token common.Address, opts types.QueryOpts) ([][32]byte, error)
	GetOrder(hash [32]byte) (*types.Order, *types.OrderMetadata, error)
}

// Revalidator synchronously re-validates a single order, used by the
// opt-in RevalidateOnRead path.
type Revalidator interface {
	RevalidateNow(ctx context.Context, hash [32]byte) error
}

// Config controls query-wide defaults.
type Config struct {
	// RevalidateOnRead re-validates every candidate order against the
	// Revalidator before it is returned, instead of relying on the last
	// value the periodic revalidation loop wrote. Off by default: it turns
	// every read into a chain round-trip per candidate order.
	RevalidateOnRead bool
	// ScanLimit overrides DefaultScanLimit when non-zero.
	ScanLimit uint32
}

// Opts parameterizes a Find call.
type Opts struct {
	Side types.Side
	Sort types.Sort

	// Currency, if non-nil, restricts results to orders whose fungible
	// (NATIVE/ERC20) item uses this token address (the zero address for
	// NATIVE).
	Currency *common.Address

	BuyNow    bool // AuctionBasic only
	OnAuction bool // AuctionEnglish or AuctionDutch

	SingleItem bool // exactly one NFT item
	Bundles    bool // more than one NFT item

	Count  uint32
	Offset uint32
}

// Result is one projected order: the stored order, its current metadata,
// and its current price interpolated at query time.
type Result struct {
	Hash         [32]byte
	Order        *types.Order
	Metadata     *types.OrderMetadata
	CurrentPrice *big.Int
}

// Query is the read-only projection layer.
type Query struct {
	store       OrderStore
	revalidator Revalidator
	cfg         Config
}

// New constructs a Query. revalidator may be nil if cfg.RevalidateOnRead is
// false.
func New(store OrderStore, revalidator Revalidator, cfg Config) *Query {
	return &Query{store: store, revalidator: revalidator, cfg: cfg}
}

// Find returns orders referencing token, filtered and sorted per opts.
func (q *Query) Find(ctx context.Context, token common.Address, opts Opts) ([]Result, error) {
	scanLimit := q.cfg.ScanLimit
	if scanLimit == 0 {
		scanLimit = DefaultScanLimit
	}

	hashes, err := q.store.HashesByCollection(token, types.QueryOpts{Side: opts.Side, Count: scanLimit})
	if err != nil {
		return nil, fmt.Errorf("hashes by collection: %w", err)
	}

	now := uint64(time.Now().Unix())
	results := make([]Result, 0, len(hashes))
	for _, hash := range hashes {
		if q.cfg.RevalidateOnRead && q.revalidator != nil {
			if err := q.revalidator.RevalidateNow(ctx, hash); err != nil {
				return nil, fmt.Errorf("revalidate %x: %w", hash, err)
			}
		}

		order, md, err := q.store.GetOrder(hash)
		if err != nil {
			return nil, fmt.Errorf("get order %x: %w", hash, err)
		}
		if order == nil || md == nil {
			continue // deleted between the hash scan and this lookup
		}
		if !matches(order, md, opts) {
			continue
		}

		results = append(results, Result{
			Hash:         hash,
			Order:        order,
			Metadata:     md,
			CurrentPrice: CurrentPrice(order, now),
		})
	}

	sortResults(results, opts.Sort)
	return paginate(results, opts.Offset, opts.Count), nil
}

func matches(order *types.Order, md *types.OrderMetadata, opts Opts) bool {
	if opts.BuyNow && md.AuctionType != types.AuctionBasic {
		return false
	}
	if opts.OnAuction && md.AuctionType != types.AuctionEnglish && md.AuctionType != types.AuctionDutch {
		return false
	}

	nftCount := countNFTItems(order)
	if opts.SingleItem && nftCount != 1 {
		return false
	}
	if opts.Bundles && nftCount <= 1 {
		return false
	}

	if opts.Currency != nil {
		currency, ok := fungibleToken(order)
		if !ok || currency != *opts.Currency {
			return false
		}
	}
	return true
}

func countNFTItems(order *types.Order) int {
	n := 0
	for _, it := range order.Offer {
		if isNFT(it.ItemType) {
			n++
		}
	}
	for _, it := range order.Consideration {
		if isNFT(it.ItemType) {
			n++
		}
	}
	return n
}

func isNFT(t types.ItemType) bool {
	return t == types.ItemERC721 || t == types.ItemERC1155 || t.HasCriteria()
}

func isFungible(t types.ItemType) bool {
	return t == types.ItemNative || t == types.ItemERC20
}

// fungibleToken returns the token address of the order's fungible
// (NATIVE/ERC20) item, on whichever side carries it.
func fungibleToken(order *types.Order) (common.Address, bool) {
	for _, it := range order.Offer {
		if isFungible(it.ItemType) {
			return it.Token, true
		}
	}
	for _, it := range order.Consideration {
		if isFungible(it.ItemType) {
			return it.Token, true
		}
	}
	return common.Address{}, false
}

// CurrentPrice sums the interpolated current amount of every fungible item
// in the order, evaluated at unix time now. Offer-side amounts round down
// and consideration-side amounts round up, matching the settlement
// contract's convention of never shorting the offerer mid-auction.
func CurrentPrice(order *types.Order, now uint64) *big.Int {
	sum := new(big.Int)
	for _, it := range order.Offer {
		if !isFungible(it.ItemType) {
			continue
		}
		sum.Add(sum, currentAmount(it.StartAmount, it.EndAmount, order.StartTime, order.EndTime, now, false))
	}
	for _, it := range order.Consideration {
		if !isFungible(it.ItemType) {
			continue
		}
		sum.Add(sum, currentAmount(it.StartAmount, it.EndAmount, order.StartTime, order.EndTime, now, true))
	}
	return sum
}

// currentAmount implements the settlement contract's linear interpolation
// with explicit integer rounding: round toward
// the protocol's favor rather than a naive floating-point lerp, using
// decimal.Decimal so the rounding step is exact and auditable.
func currentAmount(start, end *big.Int, startTime, endTime, now uint64, roundUp bool) *big.Int {
	if start == nil || end == nil {
		return new(big.Int)
	}
	if start.Cmp(end) == 0 || endTime <= startTime {
		return new(big.Int).Set(end)
	}

	elapsed := now
	if elapsed < startTime {
		elapsed = startTime
	}
	if elapsed > endTime {
		elapsed = endTime
	}
	duration := endTime - startTime
	elapsedFromStart := elapsed - startTime
	remaining := endTime - elapsed

	startD := decimal.NewFromBigInt(start, 0)
	endD := decimal.NewFromBigInt(end, 0)
	remainingD := decimal.NewFromInt(int64(remaining))
	elapsedD := decimal.NewFromInt(int64(elapsedFromStart))
	durationD := decimal.NewFromInt(int64(duration))

	numerator := startD.Mul(remainingD).Add(endD.Mul(elapsedD))
	quotient, remainder := numerator.QuoRem(durationD, 0)
	if roundUp && !remainder.IsZero() {
		quotient = quotient.Add(decimal.NewFromInt(1))
	}
	return quotient.BigInt()
}

func sortResults(results []Result, s types.Sort) {
	switch s {
	case types.SortPriceAsc:
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].CurrentPrice.Cmp(results[j].CurrentPrice) < 0
		})
	case types.SortPriceDesc:
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].CurrentPrice.Cmp(results[j].CurrentPrice) > 0
		})
	case types.SortOldest:
		// HashesByCollection returns newest-first; reverse for oldest-first.
		for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
			results[i], results[j] = results[j], results[i]
		}
	case types.SortNewest:
		// Already newest-first.
	}
}

func paginate(results []Result, offset, count uint32) []Result {
	if int(offset) >= len(results) {
		return nil
	}
	end := len(results)
	if count > 0 && int(offset)+int(count) < end {
		end = int(offset) + int(count)
	}
	return results[offset:end]
}
