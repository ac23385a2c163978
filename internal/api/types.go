package api

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/types"
)

// OfferItemSummary is the JSON projection of a types.OfferItem.
type OfferItemSummary struct {
	ItemType             uint8  `json:"item_type"`
	Token                string `json:"token"`
	IdentifierOrCriteria string `json:"identifier_or_criteria"`
	StartAmount          string `json:"start_amount"`
	EndAmount            string `json:"end_amount"`
}

// ConsiderationItemSummary is the JSON projection of a
// types.ConsiderationItem.
type ConsiderationItemSummary struct {
	ItemType             uint8  `json:"item_type"`
	Token                string `json:"token"`
	IdentifierOrCriteria string `json:"identifier_or_criteria"`
	StartAmount          string `json:"start_amount"`
	EndAmount            string `json:"end_amount"`
	Recipient            string `json:"recipient"`
}

// OrderSummary is the JSON shape returned by the orders listing endpoint and
// embedded in "new" gossip events: the immutable order fields, its mutable
// metadata, and (when a query.Result supplied one) its interpolated current
// price.
type OrderSummary struct {
	OrderHash     string                     `json:"order_hash"`
	Offerer       string                     `json:"offerer"`
	Offer         []OfferItemSummary         `json:"offer"`
	Consideration []ConsiderationItemSummary `json:"consideration"`
	OrderType     uint8                      `json:"order_type"`
	StartTime     uint64                     `json:"start_time"`
	EndTime       uint64                     `json:"end_time"`
	Counter       string                     `json:"counter"`
	Salt          string                     `json:"salt"`
	ZoneHash      string                     `json:"zone_hash"`
	Zone          string                     `json:"zone"`
	ChainID       string                     `json:"chain_id"`

	AuctionType  string `json:"auction_type"`
	IsValid      bool   `json:"is_valid"`
	IsPinned     bool   `json:"is_pinned"`
	IsFulfilled  bool   `json:"is_fulfilled"`
	CreatedAt    time.Time `json:"created_at"`
	CurrentPrice string `json:"current_price,omitempty"`
}

// OrdersResponse wraps a page of OrderSummary results along with the
// pagination the caller asked for, so a client can tell an empty page from
// the end of the collection.
type OrdersResponse struct {
	Orders []OrderSummary `json:"orders"`
	Count  int            `json:"count"`
	Offset uint32         `json:"offset"`
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status      string `json:"status"`
	ActiveConns int    `json:"active_connections"`
}

func auctionTypeLabel(t types.AuctionType) string {
	switch t {
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

// toOrderSummary projects a stored order plus its (possibly nil) metadata
// and (possibly nil) interpolated price into the wire DTO.
func toOrderSummary(hash [32]byte, order *types.Order, meta *types.OrderMetadata, price *big.Int) OrderSummary {
	s := OrderSummary{
		OrderHash: fmt.Sprintf("0x%x", hash),
		Offerer:   order.Offerer.Hex(),
		OrderType: uint8(order.OrderType),
		StartTime: order.StartTime,
		EndTime:   order.EndTime,
		ChainID:   order.ChainID,
		Zone:      order.Zone.Hex(),
	}
	if order.Counter != nil {
		s.Counter = order.Counter.String()
	}
	if order.Salt != nil {
		s.Salt = order.Salt.String()
	}
	s.ZoneHash = fmt.Sprintf("0x%x", order.ZoneHash)

	for _, item := range order.Offer {
		s.Offer = append(s.Offer, OfferItemSummary{
			ItemType:             uint8(item.ItemType),
			Token:                item.Token.Hex(),
			IdentifierOrCriteria: bigString(item.IdentifierOrCriteria),
			StartAmount:          bigString(item.StartAmount),
			EndAmount:            bigString(item.EndAmount),
		})
	}
	for _, item := range order.Consideration {
		s.Consideration = append(s.Consideration, ConsiderationItemSummary{
			ItemType:             uint8(item.ItemType),
			Token:                item.Token.Hex(),
			IdentifierOrCriteria: bigString(item.IdentifierOrCriteria),
			StartAmount:          bigString(item.StartAmount),
			EndAmount:            bigString(item.EndAmount),
			Recipient:            item.Recipient.Hex(),
		})
	}

	if meta != nil {
		s.AuctionType = auctionTypeLabel(meta.AuctionType)
		s.IsValid = meta.IsValid
		s.IsPinned = meta.IsPinned
		s.IsFulfilled = meta.IsFullyFulfilled
		s.CreatedAt = meta.CreatedAt
	}
	if price != nil {
		s.CurrentPrice = price.String()
	}
	return s
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
