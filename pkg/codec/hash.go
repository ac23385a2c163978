// Package codec implements the Seaport order-hash derivation and the
// deterministic binary wire encoding shared by GossipLayer and WireProtocol.
//
// Hash derivation MUST match the settlement contract's EIP-712-style struct
// hash bit-for-bit: it is the order's on-network identity. Nothing
// here is permitted to round or normalize away precision the contract keeps.
package codec

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/types"
)

// Type-strings enumerated verbatim from the settlement contract's EIP-712
// schema. These MUST match the contract's ABI type-strings exactly; changing
// field order or names here silently breaks hash identity between nodes.
const (
	offerItemTypeString = "OfferItem(uint8 itemType,address token,uint256 identifierOrCriteria,uint256 startAmount,uint256 endAmount)"

	considerationItemTypeString = "ConsiderationItem(uint8 itemType,address token,uint256 identifierOrCriteria,uint256 startAmount,uint256 endAmount,address recipient)"

	orderComponentsTypeString = "OrderComponents(address offerer,address zone,OfferItem[] offer,ConsiderationItem[] consideration,uint8 orderType,uint256 startTime,uint256 endTime,bytes32 zoneHash,uint256 salt,bytes32 conduitKey,uint256 counter)"
)

var (
	offerItemTypeHash        = crypto.Keccak256Hash([]byte(offerItemTypeString))
	considerationItemTypeHash = crypto.Keccak256Hash([]byte(considerationItemTypeString))

	// orderTypeHash is keccak256 of OrderComponents' type-string with
	// ConsiderationItem and OfferItem's type-strings appended, in that order
	// (alphabetical, per EIP-712's encodeType rule: "C" sorts before "O").
	orderTypeHash = crypto.Keccak256Hash([]byte(
		orderComponentsTypeString + considerationItemTypeString + offerItemTypeString,
	))
)

// pad32Big left-pads a non-negative big.Int into a 32-byte big-endian word.
// Returns an error if the value doesn't fit in 256 bits.
func pad32Big(v *big.Int) ([32]byte, error) {
	if v == nil {
		return [32]byte{}, nil
	}
	if v.Sign() < 0 {
		return [32]byte{}, fmt.Errorf("codec: negative value %s cannot be padded", v)
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return [32]byte{}, fmt.Errorf("codec: value %s overflows 256 bits", v)
	}
	return u.Bytes32(), nil
}

func pad32Addr(a common.Address) [32]byte {
	var out [32]byte
	copy(out[12:], a.Bytes())
	return out
}

func pad32Uint8(v uint8) [32]byte {
	var out [32]byte
	out[31] = v
	return out
}

func pad32Uint64(v uint64) [32]byte {
	var out [32]byte
	big.NewInt(0).SetUint64(v).FillBytes(out[:])
	return out
}

// hashOfferItem returns keccak256(typeHash(OfferItem) ‖ padded32 fields).
func hashOfferItem(item types.OfferItem) ([32]byte, error) {
	identifier, err := pad32Big(item.IdentifierOrCriteria)
	if err != nil {
		return [32]byte{}, fmt.Errorf("offer item identifierOrCriteria: %w", err)
	}
	start, err := pad32Big(item.StartAmount)
	if err != nil {
		return [32]byte{}, fmt.Errorf("offer item startAmount: %w", err)
	}
	end, err := pad32Big(item.EndAmount)
	if err != nil {
		return [32]byte{}, fmt.Errorf("offer item endAmount: %w", err)
	}

	buf := make([]byte, 0, 32*6)
	buf = append(buf, offerItemTypeHash.Bytes()...)
	it := pad32Uint8(uint8(item.ItemType))
	buf = append(buf, it[:]...)
	tok := pad32Addr(item.Token)
	buf = append(buf, tok[:]...)
	buf = append(buf, identifier[:]...)
	buf = append(buf, start[:]...)
	buf = append(buf, end[:]...)
	return crypto.Keccak256Hash(buf), nil
}

// hashConsiderationItem returns keccak256(typeHash(ConsiderationItem) ‖
// padded32 fields), identical to hashOfferItem plus a trailing recipient.
func hashConsiderationItem(item types.ConsiderationItem) ([32]byte, error) {
	identifier, err := pad32Big(item.IdentifierOrCriteria)
	if err != nil {
		return [32]byte{}, fmt.Errorf("consideration item identifierOrCriteria: %w", err)
	}
	start, err := pad32Big(item.StartAmount)
	if err != nil {
		return [32]byte{}, fmt.Errorf("consideration item startAmount: %w", err)
	}
	end, err := pad32Big(item.EndAmount)
	if err != nil {
		return [32]byte{}, fmt.Errorf("consideration item endAmount: %w", err)
	}

	buf := make([]byte, 0, 32*7)
	buf = append(buf, considerationItemTypeHash.Bytes()...)
	it := pad32Uint8(uint8(item.ItemType))
	buf = append(buf, it[:]...)
	tok := pad32Addr(item.Token)
	buf = append(buf, tok[:]...)
	buf = append(buf, identifier[:]...)
	buf = append(buf, start[:]...)
	buf = append(buf, end[:]...)
	rec := pad32Addr(item.Recipient)
	buf = append(buf, rec[:]...)
	return crypto.Keccak256Hash(buf), nil
}

// HashOrder derives the Seaport order hash for o: the primary key under which
// it is gossiped, stored, and requested. It MUST be deterministic and MUST
// match the settlement contract's derivation bit-for-bit.
func HashOrder(o *types.Order) ([32]byte, error) {
	if len(o.Offer) == 0 {
		return [32]byte{}, fmt.Errorf("codec: order has empty offer")
	}
	if len(o.Consideration) == 0 {
		return [32]byte{}, fmt.Errorf("codec: order has empty consideration")
	}

	offerHashes := make([]byte, 0, 32*len(o.Offer))
	for i, item := range o.Offer {
		h, err := hashOfferItem(item)
		if err != nil {
			return [32]byte{}, fmt.Errorf("offer[%d]: %w", i, err)
		}
		offerHashes = append(offerHashes, h[:]...)
	}
	offerHash := crypto.Keccak256Hash(offerHashes)

	considerationHashes := make([]byte, 0, 32*len(o.Consideration))
	for i, item := range o.Consideration {
		h, err := hashConsiderationItem(item)
		if err != nil {
			return [32]byte{}, fmt.Errorf("consideration[%d]: %w", i, err)
		}
		considerationHashes = append(considerationHashes, h[:]...)
	}
	considerationHash := crypto.Keccak256Hash(considerationHashes)

	salt, err := pad32Big(o.Salt)
	if err != nil {
		return [32]byte{}, fmt.Errorf("salt: %w", err)
	}
	counter, err := pad32Big(o.Counter)
	if err != nil {
		return [32]byte{}, fmt.Errorf("counter: %w", err)
	}

	buf := make([]byte, 0, 32*12)
	buf = append(buf, orderTypeHash.Bytes()...)
	offerer := pad32Addr(o.Offerer)
	buf = append(buf, offerer[:]...)
	zone := pad32Addr(o.Zone)
	buf = append(buf, zone[:]...)
	buf = append(buf, offerHash.Bytes()...)
	buf = append(buf, considerationHash.Bytes()...)
	ot := pad32Uint8(uint8(o.OrderType))
	buf = append(buf, ot[:]...)
	st := pad32Uint64(o.StartTime)
	buf = append(buf, st[:]...)
	et := pad32Uint64(o.EndTime)
	buf = append(buf, et[:]...)
	buf = append(buf, o.ZoneHash[:]...)
	buf = append(buf, salt[:]...)
	buf = append(buf, o.ConduitKey[:]...)
	considerationLen := pad32Uint64(uint64(len(o.Consideration)))
	buf = append(buf, considerationLen[:]...)
	buf = append(buf, counter[:]...)

	return crypto.Keccak256Hash(buf), nil
}

// MustHashOrder is HashOrder for callers that have already validated o
// structurally and want to panic rather than propagate an error that cannot
// occur for a well-formed order (used in tests and codec-internal helpers).
func MustHashOrder(o *types.Order) [32]byte {
	h, err := HashOrder(o)
	if err != nil {
		panic(err)
	}
	return h
}
