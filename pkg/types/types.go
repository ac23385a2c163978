// Package types defines the shared data structures used across all packages.
//
// This is the common vocabulary for the node — orders, order items, metadata,
// criteria, and gossip events. It has no dependencies on internal packages so
// it can be imported by any layer, including pkg/codec.
package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ItemType enumerates the kinds of assets an offer or consideration item can
// represent. Values match the settlement contract's enum ordering exactly —
// they are encoded on the wire and hashed as uint8, so the ordering here is
// load-bearing.
type ItemType uint8

const (
	ItemNative ItemType = iota
	ItemERC20
	ItemERC721
	ItemERC1155
	ItemERC721WithCriteria
	ItemERC1155WithCriteria
)

func (t ItemType) HasCriteria() bool {
	return t == ItemERC721WithCriteria || t == ItemERC1155WithCriteria
}

// OrderType enumerates Seaport's four order types. Restricted order types are
// subject to zone approval; partial order types permit partial fills.
type OrderType uint8

const (
	FullOpen OrderType = iota
	PartialOpen
	FullRestricted
	PartialRestricted
)

func (t OrderType) Restricted() bool {
	return t == FullRestricted || t == PartialRestricted
}

// AuctionType classifies an order's pricing curve, derived at admission time
// (never stored on-chain).
type AuctionType uint8

const (
	AuctionBasic AuctionType = iota
	AuctionEnglish
	AuctionDutch
)

// OfferItem is one entry in an order's offer array.
type OfferItem struct {
	ItemType             ItemType
	Token                common.Address
	IdentifierOrCriteria *big.Int
	StartAmount          *big.Int
	EndAmount            *big.Int
}

// ConsiderationItem is one entry in an order's consideration array. It is an
// OfferItem plus a recipient.
type ConsiderationItem struct {
	ItemType             ItemType
	Token                common.Address
	IdentifierOrCriteria *big.Int
	StartAmount          *big.Int
	EndAmount            *big.Int
	Recipient            common.Address
}

// Order is the immutable-identity part of a Seaport order. Two orders with
// identical field values hash identically (see pkg/codec) regardless of which
// node constructed them.
type Order struct {
	Offer         []OfferItem
	Consideration []ConsiderationItem
	Offerer       common.Address
	Signature     []byte // 64 or 65 bytes, stored in its original length
	OrderType     OrderType
	StartTime     uint64
	EndTime       uint64
	Counter       *big.Int
	Salt          *big.Int
	ConduitKey    [32]byte
	Zone          common.Address
	ZoneHash      [32]byte
	ChainID       string // decimal string

	// Advanced-order optionals. Absent is represented as nil (Numerator,
	// Denominator, ExtraData) or an empty slice (AdditionalRecipients); the
	// wire codec round-trips "absent" through the documented defaults.
	Numerator            *big.Int
	Denominator          *big.Int
	ExtraData            []byte
	AdditionalRecipients []common.Address
}

// IsAdvanced reports whether this order carries any advanced-order optional
// field.
func (o *Order) IsAdvanced() bool {
	return (o.Numerator != nil && o.Numerator.Sign() != 0) ||
		(o.Denominator != nil && o.Denominator.Sign() != 0) ||
		len(o.ExtraData) > 0 ||
		len(o.AdditionalRecipients) > 0
}

// OrderMetadata is the mutable half of an order's persisted state, keyed by
// order hash. Exactly one row exists per persisted Order.
type OrderMetadata struct {
	OrderHash                [32]byte
	IsValid                  bool
	IsPinned                 bool
	IsFullyFulfilled         bool
	LastValidatedBlockNumber string // decimal string, arbitrary width
	LastValidatedBlockHash   [32]byte
	LastFulfilledAt          string // block number as decimal string
	LastFulfilledPrice       string // decimal string (sum of fungible amounts)
	AuctionType              AuctionType
	CreatedAt                time.Time
}

// Criteria is a Merkle root over a sorted set of token identifiers, used to
// express "any of these NFTs" in an offer or consideration item.
type Criteria struct {
	Hash     [32]byte
	Token    common.Address
	TokenIDs []*big.Int // ascending order, the set the Merkle root commits to
}

// GossipEventType is the event taxonomy gossiped between nodes.
type GossipEventType uint8

const (
	EventNew GossipEventType = iota
	EventValidated
	EventInvalidated
	EventCancelled
	EventFulfilled
	EventCounterIncremented
)

func (e GossipEventType) String() string {
	switch e {
	case EventNew:
		return "NEW"
	case EventValidated:
		return "VALIDATED"
	case EventInvalidated:
		return "INVALIDATED"
	case EventCancelled:
		return "CANCELLED"
	case EventFulfilled:
		return "FULFILLED"
	case EventCounterIncremented:
		return "COUNTER_INCREMENTED"
	default:
		return "UNKNOWN"
	}
}

// GossipsubEvent is the payload published/received on a collection topic.
// Order is nil for COUNTER_INCREMENTED (and may be nil for events that only
// reference a hash already known to the receiver).
type GossipsubEvent struct {
	EventType   GossipEventType
	Order       *Order
	OrderHash   [32]byte
	BlockNumber uint64
	BlockHash   [32]byte

	// Only populated for COUNTER_INCREMENTED.
	Offerer    common.Address
	NewCounter *big.Int
}

// Acceptance is the verdict GossipLayer and WireProtocol report back to the
// Network for peer scoring.
type Acceptance uint8

const (
	Accept Acceptance = iota
	Reject
)
