// Package wire implements WireProtocol: the reqId-correlated
// request/response binary protocol peers use for order discovery, bulk
// order transfer, order counts, and criteria-set transfer.
//
// The underlying stream-multiplexed transport is a black box behind the
// StreamOpener interface; internal/netio supplies concrete realizations.
package wire

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/metrics"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/store"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/codec"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/types"
)

// RequestTimeout is the total time a client-side request waits for a
// response before failing with ErrTimeout. A var, not a const,
// so tests can shorten it rather than waiting out the full window.
var RequestTimeout = 10 * time.Second

// PeerID identifies a remote peer to the underlying StreamOpener.
type PeerID string

// StreamOpener opens a fresh bidirectional stream to peer for a single
// request/response exchange. The frame layout on the stream is the 5-byte
// header from pkg/codec followed by the request or response body (spec
// §4.5's "newly opened stream" wording).
type StreamOpener interface {
	OpenStream(ctx context.Context, peer PeerID) (io.ReadWriteCloser, error)
}

// Handlers answers the server side of each request kind, backed by
// internal/store.
type Handlers interface {
	GetOrders(hashes [][32]byte) ([]*types.Order, error)
	GetOrderHashes(address common.Address, opts types.QueryOpts) ([][32]byte, error)
	GetOrderCount(address common.Address, opts types.QueryOpts) (uint64, error)
	GetCriteria(hash [32]byte) (*types.Criteria, error)
}

// StoreHandlers adapts an *internal/store.Store to Handlers.
type StoreHandlers struct {
	Store *store.Store
}

var _ Handlers = (*StoreHandlers)(nil)

func (h *StoreHandlers) GetOrders(hashes [][32]byte) ([]*types.Order, error) {
	orders := make([]*types.Order, 0, len(hashes))
	for _, hash := range hashes {
		o, _, err := h.Store.GetOrder(hash)
		if err != nil {
			return nil, fmt.Errorf("get order %x: %w", hash, err)
		}
		if o != nil {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

func (h *StoreHandlers) GetOrderHashes(address common.Address, opts types.QueryOpts) ([][32]byte, error) {
	return h.Store.HashesByCollection(address, opts)
}

func (h *StoreHandlers) GetOrderCount(address common.Address, opts types.QueryOpts) (uint64, error) {
	return h.Store.CountByCollection(address, opts.Side)
}

func (h *StoreHandlers) GetCriteria(hash [32]byte) (*types.Criteria, error) {
	return h.Store.GetCriteria(hash)
}

// Protocol is WireProtocol: it issues outbound requests over a StreamOpener
// and dispatches inbound streams to Handlers.
type Protocol struct {
	opener   StreamOpener
	handlers Handlers
	logger   *slog.Logger
	metrics  *metrics.Metrics

	reqCounter uint64
}

// New constructs a Protocol. opener may be nil for a Protocol that only ever
// serves inbound streams (HandleStream), and handlers may be nil for one
// that only ever issues outbound requests.
func New(opener StreamOpener, handlers Handlers, logger *slog.Logger) *Protocol {
	return &Protocol{
		opener:   opener,
		handlers: handlers,
		logger:   logger.With("component", "wire"),
	}
}

// SetMetrics wires the node's metrics collector. A nil Protocol.metrics is
// always safe, since every metrics.Metrics method no-ops on a nil receiver.
func (p *Protocol) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

func (p *Protocol) nextReqID() uint64 {
	return atomic.AddUint64(&p.reqCounter, 1)
}

func opcodeLabel(op Opcode) string {
	switch op {
	case codec.OpGetOrders:
		return "get_orders"
	case codec.OpGetOrderHashes:
		return "get_order_hashes"
	case codec.OpGetOrderCount:
		return "get_order_count"
	case codec.OpGetCriteria:
		return "get_criteria"
	default:
		return "unknown"
	}
}

// timedRoundTrip wraps roundTrip with request-count and latency
// instrumentation, keyed by the request opcode.
func (p *Protocol) timedRoundTrip(ctx context.Context, peer PeerID, op Opcode, encode func(io.Writer) error, wantOp Opcode, decode func(io.Reader) error) error {
	start := time.Now()
	err := roundTrip(ctx, p.opener, peer, op, encode, wantOp, decode)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.metrics.WireRequest(opcodeLabel(op), outcome, time.Since(start))
	return err
}

// roundTrip opens a stream, writes the frame header and encoded request
// body, then reads and decodes the response within RequestTimeout. decode
// is called with the response body reader once the response opcode has been
// confirmed to match wantOp.
func roundTrip(ctx context.Context, opener StreamOpener, peer PeerID, op Opcode, encode func(io.Writer) error, wantOp Opcode, decode func(io.Reader) error) error {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	stream, err := opener.OpenStream(ctx, peer)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	// The write and read both run in the background so a stalled peer that
	// never drains or never answers is bounded by ctx's deadline rather than
	// blocking this call indefinitely; closing stream on timeout unblocks
	// whichever I/O call is still pending.
	done := make(chan error, 1)
	go func() {
		if err := codec.WriteFrameHeader(stream, op); err != nil {
			done <- fmt.Errorf("write frame header: %w", err)
			return
		}
		if err := encode(stream); err != nil {
			done <- fmt.Errorf("encode request: %w", err)
			return
		}
		gotOp, err := codec.ReadFrameHeader(stream)
		if err != nil {
			done <- fmt.Errorf("read response header: %w", err)
			return
		}
		if gotOp != wantOp {
			done <- fmt.Errorf("%w: got 0x%02x want 0x%02x", ErrUnexpectedOpcode, gotOp, wantOp)
			return
		}
		done <- decode(stream)
	}()

	select {
	case <-ctx.Done():
		return ErrTimeout
	case err := <-done:
		return err
	}
}

// Opcode re-exports codec.Opcode for callers that only import internal/wire.
type Opcode = codec.Opcode

// GetOrders fetches the full order payload for a set of hashes from peer.
func (p *Protocol) GetOrders(ctx context.Context, peer PeerID, hashes [][32]byte) ([]*types.Order, error) {
	reqID := p.nextReqID()
	var resp *codec.OrdersMsg
	err := p.timedRoundTrip(ctx, peer, codec.OpGetOrders,
		func(w io.Writer) error {
			return codec.EncodeGetOrders(w, &codec.GetOrdersMsg{ReqID: reqID, Hashes: hashes})
		},
		codec.OpOrders,
		func(r io.Reader) error {
			m, err := codec.DecodeOrders(r)
			if err != nil {
				return err
			}
			if m.ReqID != reqID {
				return fmt.Errorf("%w: got %d want %d", ErrReqIDMismatch, m.ReqID, reqID)
			}
			resp = m
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

// GetOrderHashes fetches the hash set a peer holds for address under opts.
func (p *Protocol) GetOrderHashes(ctx context.Context, peer PeerID, address common.Address, opts types.QueryOpts) ([][32]byte, error) {
	reqID := p.nextReqID()
	var resp *codec.OrderHashesMsg
	var addr [20]byte
	copy(addr[:], address.Bytes())
	err := p.timedRoundTrip(ctx, peer, codec.OpGetOrderHashes,
		func(w io.Writer) error {
			return codec.EncodeGetOrderHashes(w, &codec.GetOrderHashesMsg{ReqID: reqID, Address: addr, Opts: opts})
		},
		codec.OpOrderHashes,
		func(r io.Reader) error {
			m, err := codec.DecodeOrderHashes(r)
			if err != nil {
				return err
			}
			if m.ReqID != reqID {
				return fmt.Errorf("%w: got %d want %d", ErrReqIDMismatch, m.ReqID, reqID)
			}
			resp = m
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return resp.Hashes, nil
}

// GetOrderCount fetches the order count a peer holds for address under opts.
func (p *Protocol) GetOrderCount(ctx context.Context, peer PeerID, address common.Address, opts types.QueryOpts) (uint64, error) {
	reqID := p.nextReqID()
	var resp *codec.OrderCountMsg
	var addr [20]byte
	copy(addr[:], address.Bytes())
	err := p.timedRoundTrip(ctx, peer, codec.OpGetOrderCount,
		func(w io.Writer) error {
			return codec.EncodeGetOrderCount(w, &codec.GetOrderCountMsg{ReqID: reqID, Address: addr, Opts: opts})
		},
		codec.OpOrderCount,
		func(r io.Reader) error {
			m, err := codec.DecodeOrderCount(r)
			if err != nil {
				return err
			}
			if m.ReqID != reqID {
				return fmt.Errorf("%w: got %d want %d", ErrReqIDMismatch, m.ReqID, reqID)
			}
			resp = m
			return nil
		},
	)
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// GetCriteria fetches the criteria set committed to by hash from peer.
func (p *Protocol) GetCriteria(ctx context.Context, peer PeerID, hash [32]byte) ([]*big.Int, error) {
	reqID := p.nextReqID()
	var resp *codec.CriteriaItemsMsg
	err := p.timedRoundTrip(ctx, peer, codec.OpGetCriteria,
		func(w io.Writer) error {
			return codec.EncodeGetCriteria(w, &codec.GetCriteriaMsg{ReqID: reqID, Hash: hash})
		},
		codec.OpCriteriaItems,
		func(r io.Reader) error {
			m, err := codec.DecodeCriteriaItems(r)
			if err != nil {
				return err
			}
			if m.ReqID != reqID {
				return fmt.Errorf("%w: got %d want %d", ErrReqIDMismatch, m.ReqID, reqID)
			}
			resp = m
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// GetAllOrdersFromPeer walks peer's full hash set for address, one side at a
// time (SELL then BUY), paginating with the fixed page size the protocol
// mandates, then fetches the order bodies for every hash collected. It stops
// paginating a side once a page returns fewer hashes than the page size, and
// aborts with ErrMaxOrdersExceeded if the running total would exceed
// maxOrders.
func (p *Protocol) GetAllOrdersFromPeer(ctx context.Context, peer PeerID, address common.Address, maxOrders int) ([]*types.Order, error) {
	var allHashes [][32]byte
	for _, side := range []types.Side{types.SideSell, types.SideBuy} {
		offset := uint32(0)
		for {
			opts := types.QueryOpts{
				Side:   side,
				Sort:   types.SortOldest,
				Count:  types.DefaultPageSize,
				Offset: offset,
			}
			page, err := p.GetOrderHashes(ctx, peer, address, opts)
			if err != nil {
				return nil, fmt.Errorf("get order hashes (side=%d offset=%d): %w", side, offset, err)
			}
			if len(allHashes)+len(page) > maxOrders {
				return nil, fmt.Errorf("%w: %d", ErrMaxOrdersExceeded, maxOrders)
			}
			allHashes = append(allHashes, page...)
			if len(page) < types.DefaultPageSize {
				break
			}
			offset += types.DefaultPageSize
		}
	}
	if len(allHashes) == 0 {
		return nil, nil
	}
	return p.GetOrders(ctx, peer, allHashes)
}

// HandleStream reads a single request from an inbound stream, dispatches it
// to Handlers, and writes the response. It returns after one exchange; the
// caller closes the stream.
func (p *Protocol) HandleStream(ctx context.Context, stream io.ReadWriter) error {
	op, err := codec.ReadFrameHeader(stream)
	if err != nil {
		return fmt.Errorf("read frame header: %w", err)
	}

	switch op {
	case codec.OpGetOrders:
		req, err := codec.DecodeGetOrders(stream)
		if err != nil {
			return fmt.Errorf("decode GetOrders: %w", err)
		}
		orders, err := p.handlers.GetOrders(req.Hashes)
		if err != nil {
			return fmt.Errorf("handle GetOrders: %w", err)
		}
		if err := codec.WriteFrameHeader(stream, codec.OpOrders); err != nil {
			return err
		}
		return codec.EncodeOrders(stream, &codec.OrdersMsg{ReqID: req.ReqID, Orders: orders})

	case codec.OpGetOrderHashes:
		req, err := codec.DecodeGetOrderHashes(stream)
		if err != nil {
			return fmt.Errorf("decode GetOrderHashes: %w", err)
		}
		hashes, err := p.handlers.GetOrderHashes(common.BytesToAddress(req.Address[:]), req.Opts)
		if err != nil {
			return fmt.Errorf("handle GetOrderHashes: %w", err)
		}
		if err := codec.WriteFrameHeader(stream, codec.OpOrderHashes); err != nil {
			return err
		}
		return codec.EncodeOrderHashes(stream, &codec.OrderHashesMsg{ReqID: req.ReqID, Hashes: hashes})

	case codec.OpGetOrderCount:
		req, err := codec.DecodeGetOrderCount(stream)
		if err != nil {
			return fmt.Errorf("decode GetOrderCount: %w", err)
		}
		count, err := p.handlers.GetOrderCount(common.BytesToAddress(req.Address[:]), req.Opts)
		if err != nil {
			return fmt.Errorf("handle GetOrderCount: %w", err)
		}
		if err := codec.WriteFrameHeader(stream, codec.OpOrderCount); err != nil {
			return err
		}
		return codec.EncodeOrderCount(stream, &codec.OrderCountMsg{ReqID: req.ReqID, Count: count})

	case codec.OpGetCriteria:
		req, err := codec.DecodeGetCriteria(stream)
		if err != nil {
			return fmt.Errorf("decode GetCriteria: %w", err)
		}
		criteria, err := p.handlers.GetCriteria(req.Hash)
		if err != nil {
			return fmt.Errorf("handle GetCriteria: %w", err)
		}
		var items []*big.Int
		if criteria != nil {
			items = criteria.TokenIDs
		}
		if err := codec.WriteFrameHeader(stream, codec.OpCriteriaItems); err != nil {
			return err
		}
		return codec.EncodeCriteriaItems(stream, &codec.CriteriaItemsMsg{ReqID: req.ReqID, Hash: req.Hash, Items: items})

	default:
		p.logger.Debug("unrecognized opcode on inbound stream", "opcode", op)
		return fmt.Errorf("unrecognized opcode 0x%02x", op)
	}
}
