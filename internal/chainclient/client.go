// Package chainclient wraps go-ethereum's RPC client with the handful of
// settlement-contract reads and event subscriptions the node needs: latest
// block metadata, deployed-code checks, order status lookups, and
// OrderFulfilled/OrderCancelled/OrderValidated/CounterIncremented log
// streams.
package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// seaportEventsABI describes only the four settlement events the node
// listens for; it is not a full Seaport ABI.
const seaportEventsABI = `[
	{"type":"event","name":"OrderFulfilled","anonymous":false,"inputs":[
		{"name":"orderHash","type":"bytes32","indexed":false},
		{"name":"offerer","type":"address","indexed":true},
		{"name":"zone","type":"address","indexed":true},
		{"name":"recipient","type":"address","indexed":false},
		{"name":"offer","type":"tuple[]","components":[
			{"name":"itemType","type":"uint8"},{"name":"token","type":"address"},
			{"name":"identifier","type":"uint256"},{"name":"amount","type":"uint256"}],"indexed":false},
		{"name":"consideration","type":"tuple[]","components":[
			{"name":"itemType","type":"uint8"},{"name":"token","type":"address"},
			{"name":"identifier","type":"uint256"},{"name":"amount","type":"uint256"},
			{"name":"recipient","type":"address"}],"indexed":false}]},
	{"type":"event","name":"OrderCancelled","anonymous":false,"inputs":[
		{"name":"orderHash","type":"bytes32","indexed":false},
		{"name":"offerer","type":"address","indexed":true},
		{"name":"zone","type":"address","indexed":true}]},
	{"type":"event","name":"OrderValidated","anonymous":false,"inputs":[
		{"name":"orderHash","type":"bytes32","indexed":false},
		{"name":"offerer","type":"address","indexed":true},
		{"name":"zone","type":"address","indexed":true}]},
	{"type":"event","name":"CounterIncremented","anonymous":false,"inputs":[
		{"name":"newCounter","type":"uint256","indexed":false},
		{"name":"offerer","type":"address","indexed":true}]}
]`

// EventKind identifies which settlement event a Log decodes to.
type EventKind int

const (
	EventOrderFulfilled EventKind = iota
	EventOrderCancelled
	EventOrderValidated
	EventCounterIncremented
)

// OfferItem and ConsiderationItem mirror the tuple fields emitted by
// OrderFulfilled, used to compute the fulfilled fungible-price sum.
type OfferItem struct {
	ItemType   uint8
	Token      common.Address
	Identifier *big.Int
	Amount     *big.Int
}

type ConsiderationItem struct {
	ItemType   uint8
	Token      common.Address
	Identifier *big.Int
	Amount     *big.Int
	Recipient  common.Address
}

// Event is the decoded form of one settlement-contract log.
type Event struct {
	Kind        EventKind
	OrderHash   [32]byte
	Offerer     common.Address
	Zone        common.Address
	Recipient   common.Address
	Offer       []OfferItem
	Consideration []ConsiderationItem
	NewCounter  *big.Int
	BlockNumber uint64
	BlockHash   common.Hash
	TxHash      common.Hash
}

// Client is a thin wrapper over ethclient.Client plus the parsed ABI needed
// to decode settlement-contract logs.
type Client struct {
	rpc                *ethclient.Client
	contract           common.Address
	abi                abi.ABI
	topicOrderFulfilled common.Hash
	topicOrderCancelled common.Hash
	topicOrderValidated common.Hash
	topicCounterIncr    common.Hash
}

// Dial connects to providerURL and prepares the settlement-event ABI.
func Dial(providerURL string, contract common.Address) (*Client, error) {
	rpc, err := ethclient.Dial(providerURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain provider: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(seaportEventsABI))
	if err != nil {
		rpc.Close()
		return nil, fmt.Errorf("parse events abi: %w", err)
	}
	return &Client{
		rpc:                 rpc,
		contract:            contract,
		abi:                 parsed,
		topicOrderFulfilled: parsed.Events["OrderFulfilled"].ID,
		topicOrderCancelled: parsed.Events["OrderCancelled"].ID,
		topicOrderValidated: parsed.Events["OrderValidated"].ID,
		topicCounterIncr:    parsed.Events["CounterIncremented"].ID,
	}, nil
}

// Close closes the underlying RPC connection.
func (c *Client) Close() { c.rpc.Close() }

// LatestBlock returns the current chain head's number and hash.
func (c *Client) LatestBlock(ctx context.Context) (uint64, common.Hash, error) {
	header, err := c.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, common.Hash{}, fmt.Errorf("header by number: %w", err)
	}
	return header.Number.Uint64(), header.Hash(), nil
}

// HasCode reports whether addr has contract code deployed at the latest
// block, used to validate zone/conduit addresses before trusting them.
func (c *Client) HasCode(ctx context.Context, addr common.Address) (bool, error) {
	code, err := c.rpc.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, fmt.Errorf("code at: %w", err)
	}
	return len(code) > 0, nil
}

// GetCounter reads the settlement contract's current counter for offerer via
// a raw eth_call to the contract's getCounter(address) selector.
func (c *Client) GetCounter(ctx context.Context, offerer common.Address) (*big.Int, error) {
	selector := []byte{0xf0, 0x7e, 0xc3, 0x73} // getCounter(address)
	data := append(append([]byte{}, selector...), common.LeftPadBytes(offerer.Bytes(), 32)...)
	out, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call getCounter: %w", err)
	}
	if len(out) < 32 {
		return nil, fmt.Errorf("short return from getCounter: %d bytes", len(out))
	}
	return new(big.Int).SetBytes(out[:32]), nil
}

// OrderStatusResult mirrors the settlement contract's getOrderStatus tuple:
// (isValidated, isCancelled, totalFilled, totalSize).
type OrderStatusResult struct {
	IsValidated bool
	IsCancelled bool
	TotalFilled *big.Int
	TotalSize   *big.Int
}

// GetOrderStatus reads the settlement contract's on-chain fill/cancel state
// for an order hash.
func (c *Client) GetOrderStatus(ctx context.Context, orderHash [32]byte) (*OrderStatusResult, error) {
	selector := []byte{0x46, 0x42, 0x3a, 0xa7} // getOrderStatus(bytes32)
	data := append(append([]byte{}, selector...), orderHash[:]...)
	out, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call getOrderStatus: %w", err)
	}
	if len(out) < 128 {
		return nil, fmt.Errorf("short return from getOrderStatus: %d bytes", len(out))
	}
	return &OrderStatusResult{
		IsValidated: out[31] != 0,
		IsCancelled: out[63] != 0,
		TotalFilled: new(big.Int).SetBytes(out[64:96]),
		TotalSize:   new(big.Int).SetBytes(out[96:128]),
	}, nil
}

// SubscribeEvents streams decoded settlement events from fromBlock onward,
// first backfilling via FilterLogs in bounded ranges, then switching to a
// live subscription. It closes the returned channel when ctx is cancelled.
func (c *Client) SubscribeEvents(ctx context.Context, fromBlock uint64) (<-chan Event, <-chan error) {
	out := make(chan Event, 256)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		if err := c.backfill(ctx, fromBlock, out); err != nil {
			select {
			case errCh <- fmt.Errorf("backfill: %w", err):
			default:
			}
			return
		}
		if err := c.streamLive(ctx, out); err != nil && ctx.Err() == nil {
			select {
			case errCh <- fmt.Errorf("live stream: %w", err):
			default:
			}
		}
	}()

	return out, errCh
}

const maxLogRange = 2000

func (c *Client) backfill(ctx context.Context, fromBlock uint64, out chan<- Event) error {
	head, _, err := c.LatestBlock(ctx)
	if err != nil {
		return err
	}
	for from := fromBlock; from <= head; from += maxLogRange {
		to := from + maxLogRange - 1
		if to > head {
			to = head
		}
		logs, err := c.rpc.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{c.contract},
		})
		if err != nil {
			return fmt.Errorf("filter logs [%d,%d]: %w", from, to, err)
		}
		for _, lg := range logs {
			evt, ok, err := c.decodeLog(lg)
			if err != nil {
				continue // malformed log from an unrelated selector collision; skip
			}
			if ok {
				select {
				case out <- evt:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
	return nil
}

func (c *Client) streamLive(ctx context.Context, out chan<- Event) error {
	logCh := make(chan ethtypes.Log, 256)
	sub, err := c.rpc.SubscribeFilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{c.contract},
	}, logCh)
	if err != nil {
		return fmt.Errorf("subscribe filter logs: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case lg := <-logCh:
			evt, ok, err := c.decodeLog(lg)
			if err != nil || !ok {
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (c *Client) decodeLog(lg ethtypes.Log) (Event, bool, error) {
	if len(lg.Topics) == 0 {
		return Event{}, false, nil
	}
	base := Event{BlockNumber: lg.BlockNumber, BlockHash: lg.BlockHash, TxHash: lg.TxHash}

	switch lg.Topics[0] {
	case c.topicOrderFulfilled:
		var decoded struct {
			OrderHash     [32]byte
			Recipient     common.Address
			Offer         []OfferItem
			Consideration []ConsiderationItem
		}
		if err := c.abi.UnpackIntoInterface(&decoded, "OrderFulfilled", lg.Data); err != nil {
			return Event{}, false, fmt.Errorf("unpack OrderFulfilled: %w", err)
		}
		base.Kind = EventOrderFulfilled
		base.OrderHash = decoded.OrderHash
		base.Recipient = decoded.Recipient
		base.Offer = decoded.Offer
		base.Consideration = decoded.Consideration
		if len(lg.Topics) > 1 {
			base.Offerer = common.BytesToAddress(lg.Topics[1].Bytes())
		}
		if len(lg.Topics) > 2 {
			base.Zone = common.BytesToAddress(lg.Topics[2].Bytes())
		}
		return base, true, nil

	case c.topicOrderCancelled:
		var decoded struct{ OrderHash [32]byte }
		if err := c.abi.UnpackIntoInterface(&decoded, "OrderCancelled", lg.Data); err != nil {
			return Event{}, false, fmt.Errorf("unpack OrderCancelled: %w", err)
		}
		base.Kind = EventOrderCancelled
		base.OrderHash = decoded.OrderHash
		if len(lg.Topics) > 1 {
			base.Offerer = common.BytesToAddress(lg.Topics[1].Bytes())
		}
		return base, true, nil

	case c.topicOrderValidated:
		var decoded struct{ OrderHash [32]byte }
		if err := c.abi.UnpackIntoInterface(&decoded, "OrderValidated", lg.Data); err != nil {
			return Event{}, false, fmt.Errorf("unpack OrderValidated: %w", err)
		}
		base.Kind = EventOrderValidated
		base.OrderHash = decoded.OrderHash
		if len(lg.Topics) > 1 {
			base.Offerer = common.BytesToAddress(lg.Topics[1].Bytes())
		}
		return base, true, nil

	case c.topicCounterIncr:
		var decoded struct{ NewCounter *big.Int }
		if err := c.abi.UnpackIntoInterface(&decoded, "CounterIncremented", lg.Data); err != nil {
			return Event{}, false, fmt.Errorf("unpack CounterIncremented: %w", err)
		}
		base.Kind = EventCounterIncremented
		base.NewCounter = decoded.NewCounter
		if len(lg.Topics) > 1 {
			base.Offerer = common.BytesToAddress(lg.Topics[1].Bytes())
		}
		return base, true, nil
	}
	return Event{}, false, nil
}

// BlockTimestamp fetches a block's timestamp, used by the validator's
// ChainChecker to compare an order's endTime against chain time.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (time.Time, error) {
	header, err := c.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, fmt.Errorf("header by number %d: %w", number, err)
	}
	return time.Unix(int64(header.Time), 0), nil
}
