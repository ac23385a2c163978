package codec

import (
	"fmt"
	"io"
	"math/big"

	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/types"
)

// Opcode identifies a WireProtocol message kind.
type Opcode uint8

const (
	OpGetOrders      Opcode = 0x01
	OpOrders         Opcode = 0x02
	OpGetOrderHashes Opcode = 0x03
	OpOrderHashes    Opcode = 0x04
	OpGetOrderCount  Opcode = 0x05
	OpOrderCount     Opcode = 0x06
	OpGetCriteria    Opcode = 0x07
	OpCriteriaItems  Opcode = 0x08
)

// FrameHeaderSize is the header written to a newly opened stream before the
// request body: 4 reserved bytes followed by the 1-byte opcode.
const FrameHeaderSize = 5

// WriteFrameHeader writes the 5-byte header: 4 reserved zero bytes, then the
// opcode.
func WriteFrameHeader(w io.Writer, op Opcode) error {
	var hdr [FrameHeaderSize]byte
	hdr[4] = byte(op)
	_, err := w.Write(hdr[:])
	return err
}

// ReadFrameHeader reads the 5-byte header and returns the opcode.
func ReadFrameHeader(r io.Reader) (Opcode, error) {
	var hdr [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, fmt.Errorf("%w: frame header", ErrShortRead)
	}
	return Opcode(hdr[4]), nil
}

// --- GetOrders / Orders -----------------------------------------------------

type GetOrdersMsg struct {
	ReqID  uint64
	Hashes [][32]byte
}

func EncodeGetOrders(w io.Writer, m *GetOrdersMsg) error {
	if len(m.Hashes) > MaxHashesPerResponse {
		return fmt.Errorf("%w: GetOrders hashes %d", ErrListTooLong, len(m.Hashes))
	}
	if err := writeUint64(w, m.ReqID); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(m.Hashes))); err != nil {
		return err
	}
	for _, h := range m.Hashes {
		if err := writeBytes32(w, h); err != nil {
			return err
		}
	}
	return nil
}

func DecodeGetOrders(r io.Reader) (*GetOrdersMsg, error) {
	reqID, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n > MaxHashesPerResponse {
		return nil, fmt.Errorf("%w: GetOrders hashes %d", ErrListTooLong, n)
	}
	hashes := make([][32]byte, n)
	for i := range hashes {
		if hashes[i], err = readBytes32(r); err != nil {
			return nil, err
		}
	}
	return &GetOrdersMsg{ReqID: reqID, Hashes: hashes}, nil
}

type OrdersMsg struct {
	ReqID  uint64
	Orders []*types.Order
}

func EncodeOrders(w io.Writer, m *OrdersMsg) error {
	if len(m.Orders) > MaxOrdersPerResponse {
		return fmt.Errorf("%w: Orders %d", ErrListTooLong, len(m.Orders))
	}
	if err := writeUint64(w, m.ReqID); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(m.Orders))); err != nil {
		return err
	}
	for i, o := range m.Orders {
		if err := EncodeOrder(w, o); err != nil {
			return fmt.Errorf("orders[%d]: %w", i, err)
		}
	}
	return nil
}

func DecodeOrders(r io.Reader) (*OrdersMsg, error) {
	reqID, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n > MaxOrdersPerResponse {
		return nil, fmt.Errorf("%w: Orders %d", ErrListTooLong, n)
	}
	orders := make([]*types.Order, n)
	for i := range orders {
		o, err := DecodeOrder(r)
		if err != nil {
			return nil, fmt.Errorf("orders[%d]: %w", i, err)
		}
		orders[i] = o
	}
	return &OrdersMsg{ReqID: reqID, Orders: orders}, nil
}

// --- GetOrderHashes / OrderHashes -------------------------------------------

type GetOrderHashesMsg struct {
	ReqID   uint64
	Address [20]byte
	Opts    types.QueryOpts
}

func writeQueryOpts(w io.Writer, o types.QueryOpts) error {
	if err := writeUint8(w, uint8(o.Side)); err != nil {
		return err
	}
	if err := writeUint8(w, uint8(o.Sort)); err != nil {
		return err
	}
	if err := writeUint32(w, o.Count); err != nil {
		return err
	}
	return writeUint32(w, o.Offset)
}

func readQueryOpts(r io.Reader) (types.QueryOpts, error) {
	var o types.QueryOpts
	side, err := readUint8(r)
	if err != nil {
		return o, err
	}
	o.Side = types.Side(side)
	sort, err := readUint8(r)
	if err != nil {
		return o, err
	}
	o.Sort = types.Sort(sort)
	if o.Count, err = readUint32(r); err != nil {
		return o, err
	}
	if o.Offset, err = readUint32(r); err != nil {
		return o, err
	}
	return o, nil
}

func EncodeGetOrderHashes(w io.Writer, m *GetOrderHashesMsg) error {
	if err := writeUint64(w, m.ReqID); err != nil {
		return err
	}
	if _, err := w.Write(m.Address[:]); err != nil {
		return err
	}
	return writeQueryOpts(w, m.Opts)
}

func DecodeGetOrderHashes(r io.Reader) (*GetOrderHashesMsg, error) {
	reqID, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	var addr [20]byte
	if _, err := io.ReadFull(r, addr[:]); err != nil {
		return nil, fmt.Errorf("%w: address", ErrShortRead)
	}
	opts, err := readQueryOpts(r)
	if err != nil {
		return nil, err
	}
	return &GetOrderHashesMsg{ReqID: reqID, Address: addr, Opts: opts}, nil
}

type OrderHashesMsg struct {
	ReqID  uint64
	Hashes [][32]byte
}

func EncodeOrderHashes(w io.Writer, m *OrderHashesMsg) error {
	if len(m.Hashes) > MaxHashesPerResponse {
		return fmt.Errorf("%w: OrderHashes %d", ErrListTooLong, len(m.Hashes))
	}
	if err := writeUint64(w, m.ReqID); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(m.Hashes))); err != nil {
		return err
	}
	for _, h := range m.Hashes {
		if err := writeBytes32(w, h); err != nil {
			return err
		}
	}
	return nil
}

func DecodeOrderHashes(r io.Reader) (*OrderHashesMsg, error) {
	reqID, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n > MaxHashesPerResponse {
		return nil, fmt.Errorf("%w: OrderHashes %d", ErrListTooLong, n)
	}
	hashes := make([][32]byte, n)
	for i := range hashes {
		if hashes[i], err = readBytes32(r); err != nil {
			return nil, err
		}
	}
	return &OrderHashesMsg{ReqID: reqID, Hashes: hashes}, nil
}

// --- GetOrderCount / OrderCount ---------------------------------------------

type GetOrderCountMsg struct {
	ReqID   uint64
	Address [20]byte
	Opts    types.QueryOpts
}

func EncodeGetOrderCount(w io.Writer, m *GetOrderCountMsg) error {
	if err := writeUint64(w, m.ReqID); err != nil {
		return err
	}
	if _, err := w.Write(m.Address[:]); err != nil {
		return err
	}
	return writeQueryOpts(w, m.Opts)
}

func DecodeGetOrderCount(r io.Reader) (*GetOrderCountMsg, error) {
	reqID, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	var addr [20]byte
	if _, err := io.ReadFull(r, addr[:]); err != nil {
		return nil, fmt.Errorf("%w: address", ErrShortRead)
	}
	opts, err := readQueryOpts(r)
	if err != nil {
		return nil, err
	}
	return &GetOrderCountMsg{ReqID: reqID, Address: addr, Opts: opts}, nil
}

type OrderCountMsg struct {
	ReqID uint64
	Count uint64
}

func EncodeOrderCount(w io.Writer, m *OrderCountMsg) error {
	if err := writeUint64(w, m.ReqID); err != nil {
		return err
	}
	return writeUint64(w, m.Count)
}

func DecodeOrderCount(r io.Reader) (*OrderCountMsg, error) {
	reqID, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	count, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	return &OrderCountMsg{ReqID: reqID, Count: count}, nil
}

// --- GetCriteria / CriteriaItems ---------------------------------------------

type GetCriteriaMsg struct {
	ReqID uint64
	Hash  [32]byte
}

func EncodeGetCriteria(w io.Writer, m *GetCriteriaMsg) error {
	if err := writeUint64(w, m.ReqID); err != nil {
		return err
	}
	return writeBytes32(w, m.Hash)
}

func DecodeGetCriteria(r io.Reader) (*GetCriteriaMsg, error) {
	reqID, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	hash, err := readBytes32(r)
	if err != nil {
		return nil, err
	}
	return &GetCriteriaMsg{ReqID: reqID, Hash: hash}, nil
}

type CriteriaItemsMsg struct {
	ReqID uint64
	Hash  [32]byte
	Items []*big.Int
}

func EncodeCriteriaItems(w io.Writer, m *CriteriaItemsMsg) error {
	if len(m.Items) > MaxCriteriaItemsPerResponse {
		return fmt.Errorf("%w: CriteriaItems %d", ErrListTooLong, len(m.Items))
	}
	if err := writeUint64(w, m.ReqID); err != nil {
		return err
	}
	if err := writeBytes32(w, m.Hash); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(m.Items))); err != nil {
		return err
	}
	for _, v := range m.Items {
		if err := writeUintBig256(w, v); err != nil {
			return err
		}
	}
	return nil
}

func DecodeCriteriaItems(r io.Reader) (*CriteriaItemsMsg, error) {
	reqID, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	hash, err := readBytes32(r)
	if err != nil {
		return nil, err
	}
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n > MaxCriteriaItemsPerResponse {
		return nil, fmt.Errorf("%w: CriteriaItems %d", ErrListTooLong, n)
	}
	items := make([]*big.Int, n)
	for i := range items {
		if items[i], err = readUintBig256(r); err != nil {
			return nil, err
		}
	}
	return &CriteriaItemsMsg{ReqID: reqID, Hash: hash, Items: items}, nil
}
