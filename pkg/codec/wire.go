package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/types"
)

// List caps on every variable-length field. Encoders reject oversized slices before
// writing a single byte; decoders reject an advertised length before
// allocating, so a hostile peer cannot force an unbounded allocation.
const (
	MaxOfferItems             = 100
	MaxConsiderationItems     = 100
	MaxAdditionalRecipients   = 50
	MaxOrdersPerResponse      = 1000
	MaxHashesPerResponse      = 1_000_000
	MaxCriteriaItemsPerResponse = 10_000_000
)

func writeUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func readUint8(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: uint8", ErrShortRead)
	}
	return b[0], nil
}

func writeUint16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: uint16", ErrShortRead)
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: uint32", ErrShortRead)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func writeUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: uint64", ErrShortRead)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func writeBytes20(w io.Writer, a common.Address) error {
	_, err := w.Write(a.Bytes())
	return err
}

func readBytes20(r io.Reader) (common.Address, error) {
	var b [20]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return common.Address{}, fmt.Errorf("%w: bytes20", ErrShortRead)
	}
	return common.BytesToAddress(b[:]), nil
}

func writeBytes32(w io.Writer, b [32]byte) error {
	_, err := w.Write(b[:])
	return err
}

func readBytes32(r io.Reader) ([32]byte, error) {
	var b [32]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return b, fmt.Errorf("%w: bytes32", ErrShortRead)
	}
	return b, nil
}

// writeUintBig256 encodes v as a fixed 32-byte big-endian word (uintBig256).
func writeUintBig256(w io.Writer, v *big.Int) error {
	b, err := pad32Big(v)
	if err != nil {
		return err
	}
	_, err = w.Write(b[:])
	return err
}

func readUintBig256(r io.Reader) (*big.Int, error) {
	b, err := readBytes32(r)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b[:]), nil
}

// writeUintBig128 encodes v as a fixed 16-byte big-endian word (uintBig128).
func writeUintBig128(w io.Writer, v *big.Int) error {
	if v == nil {
		v = big.NewInt(0)
	}
	if v.Sign() < 0 || v.BitLen() > 128 {
		return fmt.Errorf("%w: value %s does not fit in uintBig128", ErrInvalidOrderData, v)
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return fmt.Errorf("%w: value %s overflows", ErrInvalidOrderData, v)
	}
	full := u.Bytes32()
	_, err := w.Write(full[16:])
	return err
}

func readUintBig128(r io.Reader) (*big.Int, error) {
	var b [16]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, fmt.Errorf("%w: uintBig128", ErrShortRead)
	}
	return new(big.Int).SetBytes(b[:]), nil
}

// writeSignature encodes sig as a fixed ByteVector(65): shorter signatures
// are left-padded with 0x00 on encode. sig must be 64 or 65
// bytes.
func writeSignature(w io.Writer, sig []byte) error {
	if len(sig) != 64 && len(sig) != 65 {
		return fmt.Errorf("%w: signature length %d, want 64 or 65", ErrInvalidOrderData, len(sig))
	}
	var b [65]byte
	copy(b[65-len(sig):], sig)
	_, err := w.Write(b[:])
	return err
}

// readSignature decodes a fixed 65-byte signature and strips a leading 0x00
// pad byte to recover the original 64-byte length, matching writeSignature's
// encoding.
func readSignature(r io.Reader) ([]byte, error) {
	var b [65]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, fmt.Errorf("%w: signature", ErrShortRead)
	}
	if b[0] == 0x00 {
		out := make([]byte, 64)
		copy(out, b[1:])
		return out, nil
	}
	out := make([]byte, 65)
	copy(out, b[:])
	return out, nil
}

func writeByteVector(w io.Writer, b []byte) error {
	if err := writeUint32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readByteVector(r io.Reader, max uint32) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n > max {
		return nil, fmt.Errorf("%w: byte vector length %d exceeds %d", ErrListTooLong, n, max)
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("%w: byte vector body", ErrShortRead)
	}
	return out, nil
}

// EncodeOfferItem writes one OfferItem in canonical field order.
func EncodeOfferItem(w io.Writer, item types.OfferItem) error {
	if err := writeUint8(w, uint8(item.ItemType)); err != nil {
		return err
	}
	if err := writeBytes20(w, item.Token); err != nil {
		return err
	}
	if err := writeUintBig256(w, item.IdentifierOrCriteria); err != nil {
		return err
	}
	if err := writeUintBig256(w, item.StartAmount); err != nil {
		return err
	}
	return writeUintBig256(w, item.EndAmount)
}

func DecodeOfferItem(r io.Reader) (types.OfferItem, error) {
	var item types.OfferItem
	it, err := readUint8(r)
	if err != nil {
		return item, err
	}
	item.ItemType = types.ItemType(it)
	tok, err := readBytes20(r)
	if err != nil {
		return item, err
	}
	item.Token = tok
	if item.IdentifierOrCriteria, err = readUintBig256(r); err != nil {
		return item, err
	}
	if item.StartAmount, err = readUintBig256(r); err != nil {
		return item, err
	}
	if item.EndAmount, err = readUintBig256(r); err != nil {
		return item, err
	}
	return item, nil
}

// EncodeConsiderationItem writes one ConsiderationItem: an OfferItem plus a
// trailing recipient field.
func EncodeConsiderationItem(w io.Writer, item types.ConsiderationItem) error {
	offerPart := types.OfferItem{
		ItemType:             item.ItemType,
		Token:                item.Token,
		IdentifierOrCriteria: item.IdentifierOrCriteria,
		StartAmount:          item.StartAmount,
		EndAmount:            item.EndAmount,
	}
	if err := EncodeOfferItem(w, offerPart); err != nil {
		return err
	}
	return writeBytes20(w, item.Recipient)
}

func DecodeConsiderationItem(r io.Reader) (types.ConsiderationItem, error) {
	offerPart, err := DecodeOfferItem(r)
	if err != nil {
		return types.ConsiderationItem{}, err
	}
	recipient, err := readBytes20(r)
	if err != nil {
		return types.ConsiderationItem{}, err
	}
	return types.ConsiderationItem{
		ItemType:             offerPart.ItemType,
		Token:                offerPart.Token,
		IdentifierOrCriteria: offerPart.IdentifierOrCriteria,
		StartAmount:          offerPart.StartAmount,
		EndAmount:            offerPart.EndAmount,
		Recipient:            recipient,
	}, nil
}

// EncodeOrder writes a complete Order: the core fields followed by the
// advanced-order optionals, using the documented absent-value defaults
// (numerator=0, denominator=0, extraData=32 zero bytes,
// additionalRecipients=[]) when a field is nil/empty.
func EncodeOrder(w io.Writer, o *types.Order) error {
	if len(o.Offer) > MaxOfferItems {
		return fmt.Errorf("%w: offer has %d items", ErrListTooLong, len(o.Offer))
	}
	if len(o.Consideration) > MaxConsiderationItems {
		return fmt.Errorf("%w: consideration has %d items", ErrListTooLong, len(o.Consideration))
	}
	if len(o.AdditionalRecipients) > MaxAdditionalRecipients {
		return fmt.Errorf("%w: additionalRecipients has %d items", ErrListTooLong, len(o.AdditionalRecipients))
	}

	if err := writeUint32(w, uint32(len(o.Offer))); err != nil {
		return err
	}
	for i, item := range o.Offer {
		if err := EncodeOfferItem(w, item); err != nil {
			return fmt.Errorf("offer[%d]: %w", i, err)
		}
	}
	if err := writeUint32(w, uint32(len(o.Consideration))); err != nil {
		return err
	}
	for i, item := range o.Consideration {
		if err := EncodeConsiderationItem(w, item); err != nil {
			return fmt.Errorf("consideration[%d]: %w", i, err)
		}
	}
	if err := writeBytes20(w, o.Offerer); err != nil {
		return err
	}
	if err := writeSignature(w, o.Signature); err != nil {
		return err
	}
	if err := writeUint8(w, uint8(o.OrderType)); err != nil {
		return err
	}
	if err := writeUint64(w, o.StartTime); err != nil {
		return err
	}
	if err := writeUint64(w, o.EndTime); err != nil {
		return err
	}
	if err := writeUintBig256(w, o.Counter); err != nil {
		return err
	}
	if err := writeUintBig256(w, o.Salt); err != nil {
		return err
	}
	if err := writeBytes32(w, o.ConduitKey); err != nil {
		return err
	}
	if err := writeBytes20(w, o.Zone); err != nil {
		return err
	}
	if err := writeBytes32(w, o.ZoneHash); err != nil {
		return err
	}
	if err := writeByteVector(w, []byte(o.ChainID)); err != nil {
		return err
	}

	numerator := o.Numerator
	if numerator == nil {
		numerator = big.NewInt(0)
	}
	denominator := o.Denominator
	if denominator == nil {
		denominator = big.NewInt(0)
	}
	if err := writeUintBig256(w, numerator); err != nil {
		return err
	}
	if err := writeUintBig256(w, denominator); err != nil {
		return err
	}

	extraData := o.ExtraData
	if len(extraData) == 0 {
		extraData = make([]byte, 32)
	}
	if err := writeByteVector(w, extraData); err != nil {
		return err
	}

	if err := writeUint32(w, uint32(len(o.AdditionalRecipients))); err != nil {
		return err
	}
	for _, a := range o.AdditionalRecipients {
		if err := writeBytes20(w, a); err != nil {
			return err
		}
	}
	return nil
}

// DecodeOrder reads a complete Order and restores "absent" advanced-order
// optionals (numerator=0 & denominator=0 → nil, an all-zero 32-byte
// extraData → nil, an empty additionalRecipients → nil slice), the inverse
// of EncodeOrder's defaulting.
func DecodeOrder(r io.Reader) (*types.Order, error) {
	o := &types.Order{}

	offerLen, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if offerLen > MaxOfferItems {
		return nil, fmt.Errorf("%w: offer length %d", ErrListTooLong, offerLen)
	}
	o.Offer = make([]types.OfferItem, offerLen)
	for i := range o.Offer {
		item, err := DecodeOfferItem(r)
		if err != nil {
			return nil, fmt.Errorf("offer[%d]: %w", i, err)
		}
		o.Offer[i] = item
	}

	considerationLen, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if considerationLen > MaxConsiderationItems {
		return nil, fmt.Errorf("%w: consideration length %d", ErrListTooLong, considerationLen)
	}
	o.Consideration = make([]types.ConsiderationItem, considerationLen)
	for i := range o.Consideration {
		item, err := DecodeConsiderationItem(r)
		if err != nil {
			return nil, fmt.Errorf("consideration[%d]: %w", i, err)
		}
		o.Consideration[i] = item
	}

	if o.Offerer, err = readBytes20(r); err != nil {
		return nil, err
	}
	if o.Signature, err = readSignature(r); err != nil {
		return nil, err
	}
	ot, err := readUint8(r)
	if err != nil {
		return nil, err
	}
	o.OrderType = types.OrderType(ot)
	if o.StartTime, err = readUint64(r); err != nil {
		return nil, err
	}
	if o.EndTime, err = readUint64(r); err != nil {
		return nil, err
	}
	if o.Counter, err = readUintBig256(r); err != nil {
		return nil, err
	}
	if o.Salt, err = readUintBig256(r); err != nil {
		return nil, err
	}
	if o.ConduitKey, err = readBytes32(r); err != nil {
		return nil, err
	}
	if o.Zone, err = readBytes20(r); err != nil {
		return nil, err
	}
	if o.ZoneHash, err = readBytes32(r); err != nil {
		return nil, err
	}
	chainID, err := readByteVector(r, 64)
	if err != nil {
		return nil, err
	}
	o.ChainID = string(chainID)

	numerator, err := readUintBig256(r)
	if err != nil {
		return nil, err
	}
	denominator, err := readUintBig256(r)
	if err != nil {
		return nil, err
	}
	if numerator.Sign() != 0 {
		o.Numerator = numerator
	}
	if denominator.Sign() != 0 {
		o.Denominator = denominator
	}

	extraData, err := readByteVector(r, 1<<20)
	if err != nil {
		return nil, err
	}
	if !isAllZero(extraData) {
		o.ExtraData = extraData
	}

	recipientsLen, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if recipientsLen > MaxAdditionalRecipients {
		return nil, fmt.Errorf("%w: additionalRecipients length %d", ErrListTooLong, recipientsLen)
	}
	if recipientsLen > 0 {
		o.AdditionalRecipients = make([]common.Address, recipientsLen)
		for i := range o.AdditionalRecipients {
			if o.AdditionalRecipients[i], err = readBytes20(r); err != nil {
				return nil, err
			}
		}
	}

	return o, nil
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
