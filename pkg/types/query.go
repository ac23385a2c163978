package types

// Side filters orders by which side of the trade they sit on. An order is
// SELL if its offer contains the collection's token (offering an NFT for
// currency) and BUY if its consideration does (offering currency for an
// NFT) — the lookup that actually answers this lives in internal/store,
// these are just wire-level selectors.
type Side uint8

const (
	SideAny Side = iota
	SideSell
	SideBuy
)

// Sort orders the result set of a query/request.
type Sort uint8

const (
	SortNewest Sort = iota
	SortOldest
	SortPriceAsc
	SortPriceDesc
)

// QueryOpts parameterizes GetOrderHashes/GetOrderCount requests and the
// internal/store and internal/query read paths that back them.
type QueryOpts struct {
	Side   Side
	Sort   Sort
	Count  uint32
	Offset uint32
}

// DefaultPageSize is the page size GetAllOrdersFromPeer uses when walking a
// peer's full order set.
const DefaultPageSize = 50
