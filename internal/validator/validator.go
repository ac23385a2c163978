// Package validator wraps the settlement-contract rule-checker as a pure
// function of (order, config) -> (errors, warnings), and classifies the
// resulting error codes into valid / transient-invalid / fatal-invalid.
package validator

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/chainclient"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/types"
)

// Code is a settlement-rule error or warning code, matching the numbering
// the off-chain validation rule set uses.
type Code int

const (
	CodeInsufficientApproval    Code = 202
	CodeInsufficientBalance     Code = 203
	CodeZoneRejected            Code = 303
	CodeConduitKeyInvalid       Code = 304
	CodeOrderFullyFilled        Code = 400
	CodeOrderCancelled          Code = 401
	CodeOrderExpired            Code = 402
	CodeConsiderationUnderfunded Code = 1400
)

// transientCodes are error codes whose presence means the order is not
// currently fillable but may become so again (insufficient balance/approval
// type failures), so the order stays in the store.
var transientCodes = map[Code]bool{
	CodeInsufficientApproval:     true,
	CodeInsufficientBalance:      true,
	CodeZoneRejected:             true,
	CodeConduitKeyInvalid:        true,
	CodeOrderCancelled:           true,
	CodeOrderExpired:             true,
	CodeConsiderationUnderfunded: true,
}

// Result is the raw outcome of a single Validate call, before residual-code
// filtering.
type Result struct {
	Errors   []Code
	Warnings []Code
}

// Config parameterizes validation rules that depend on node configuration
// rather than the order itself.
type Config struct {
	ValidateFeeRecipient   bool
	LazyMintAdapterAddress common.Address // zero value means "no adapter configured"
}

// Checker is the external settlement-rule checker. It is the one piece of
// the pipeline grounded on-chain: it reads balances, approvals, zone state,
// and order status to produce the error/warning set. orderHash is passed in
// because OrderEngine always derives it before validating and the check
// needs it for the getOrderStatus lookup.
type Checker interface {
	Validate(ctx context.Context, orderHash [32]byte, order *types.Order, cfg Config) (Result, error)
}

// ChainChecker is the reference Checker implementation, backed by a
// chainclient.Client for the on-chain reads a real rule-checker needs.
type ChainChecker struct {
	chain *chainclient.Client
}

// NewChainChecker builds a Checker around an already-dialed chain client.
func NewChainChecker(chain *chainclient.Client) *ChainChecker {
	return &ChainChecker{chain: chain}
}

// Validate runs the settlement-rule checks against current on-chain state.
// This reference implementation covers the checks named in the known error
// taxonomy; a production deployment would swap this for a full off-chain
// rule engine without changing the Checker contract.
func (c *ChainChecker) Validate(ctx context.Context, orderHash [32]byte, order *types.Order, cfg Config) (Result, error) {
	var res Result

	if order.EndTime <= order.StartTime {
		return Result{}, fmt.Errorf("invalid order: endTime <= startTime")
	}

	status, err := c.chain.GetOrderStatus(ctx, orderHash)
	if err != nil {
		return Result{}, fmt.Errorf("get order status: %w", err)
	}
	if status.IsCancelled {
		res.Errors = append(res.Errors, CodeOrderCancelled)
	}
	if status.TotalFilled.Sign() > 0 && status.TotalFilled.Cmp(status.TotalSize) == 0 {
		res.Errors = append(res.Errors, CodeOrderFullyFilled)
	}

	blockNumber, _, err := c.chain.LatestBlock(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("latest block: %w", err)
	}
	blockTime, err := c.chain.BlockTimestamp(ctx, blockNumber)
	if err != nil {
		return Result{}, fmt.Errorf("block timestamp: %w", err)
	}
	if uint64(blockTime.Unix()) >= order.EndTime {
		res.Errors = append(res.Errors, CodeOrderExpired)
	}

	counter, err := c.chain.GetCounter(ctx, order.Offerer)
	if err != nil {
		return Result{}, fmt.Errorf("get counter: %w", err)
	}
	if order.Counter != nil && counter.Cmp(order.Counter) > 0 {
		res.Errors = append(res.Errors, CodeOrderCancelled)
	}

	if order.OrderType.Restricted() {
		hasCode, err := c.chain.HasCode(ctx, order.Zone)
		if err != nil {
			return Result{}, fmt.Errorf("check zone code: %w", err)
		}
		if !hasCode {
			res.Warnings = append(res.Warnings, CodeZoneRejected)
		}
	}

	return filterResidual(res, order, cfg), nil
}

// filterResidual implements the residual-code filter: error 400
// (fully filled) is dropped when any item's token is the known lazy-mint
// adapter, since that adapter reports an order as filled immediately after
// a successful lazy mint even though the order itself is still valid.
func filterResidual(res Result, order *types.Order, cfg Config) Result {
	var zero common.Address
	if cfg.LazyMintAdapterAddress == zero {
		return res
	}
	touchesAdapter := false
	for _, it := range order.Offer {
		if it.Token == cfg.LazyMintAdapterAddress {
			touchesAdapter = true
			break
		}
	}
	if !touchesAdapter {
		for _, it := range order.Consideration {
			if it.Token == cfg.LazyMintAdapterAddress {
				touchesAdapter = true
				break
			}
		}
	}
	if !touchesAdapter {
		return res
	}

	filtered := res.Errors[:0]
	for _, c := range res.Errors {
		if c == CodeOrderFullyFilled {
			continue
		}
		filtered = append(filtered, c)
	}
	res.Errors = filtered
	return res
}

// Classify derives a verdict from a Result: isValid, then (if invalid)
// whether the failure is transient (balances/approvals/zone/cancelled/
// expired) or fatal (anything else).
type Classification int

const (
	Valid Classification = iota
	TransientInvalid
	FatalInvalid
)

func Classify(res Result) Classification {
	if len(res.Errors) == 0 {
		return Valid
	}
	for _, c := range res.Errors {
		if !transientCodes[c] {
			return FatalInvalid
		}
	}
	return TransientInvalid
}
