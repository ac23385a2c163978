// Package ingestor implements Ingestor: a rate-limited HTTP poller over an
// external order feed, normalizing each entry into a canonical types.Order
// and admitting it without validation or pinning.
package ingestor

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"

	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/engine"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/types"
)

// TokenBucket is a continuously-refilling token-bucket limiter. Callers
// block in Wait until a token is available or ctx is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64
	lastTime time.Time
}

// NewTokenBucket creates a limiter with the given burst capacity and
// per-second refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// AdmittingEngine is the subset of *engine.Engine the ingestor drives.
type AdmittingEngine interface {
	AdmitOrder(ctx context.Context, order *types.Order, opts engine.AdmitOptions) (bool, *types.OrderMetadata, error)
}

// Config controls the ingestor's polling behavior.
type Config struct {
	BaseURL       string
	APIKey        string
	RatePerSecond float64
	PollInterval  time.Duration
}

// Client polls an external order feed and admits normalized orders.
type Client struct {
	http   *resty.Client
	rl     *TokenBucket
	engine AdmittingEngine
	cfg    Config
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Client. Call Start to begin polling.
func New(cfg Config, eng AdmittingEngine, logger *slog.Logger) *Client {
	rate := cfg.RatePerSecond
	if rate <= 0 {
		rate = 5
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})
	if cfg.APIKey != "" {
		httpClient.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	return &Client{
		http:   httpClient,
		rl:     NewTokenBucket(rate, rate),
		engine: eng,
		cfg:    cfg,
		logger: logger.With("component", "ingestor"),
	}
}

// Start launches the polling loop. It fetches one page per tick of
// cfg.PollInterval (default 10s if unset) until ctx is cancelled or Stop is
// called.
func (c *Client) Start(ctx context.Context) {
	interval := c.cfg.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.pollOnce(ctx); err != nil {
					c.logger.Warn("poll external feed failed", "error", err)
				}
			}
		}
	}()
}

// Stop cancels the polling loop and waits for it to exit.
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

type feedResponse struct {
	Orders []feedOrder `json:"orders"`
}

// feedOrder mirrors a typical aggregator order feed's JSON shape: hex
// strings and decimal strings instead of the codec's binary representation.
type feedOrder struct {
	Offerer     string          `json:"offerer"`
	Zone        string          `json:"zone"`
	ZoneHash    string          `json:"zoneHash"`
	ConduitKey  string          `json:"conduitKey"`
	StartTime   uint64          `json:"startTime"`
	EndTime     uint64          `json:"endTime"`
	OrderType   uint8           `json:"orderType"`
	Counter     string          `json:"counter"`
	Salt        string          `json:"salt"`
	ChainID     string          `json:"chainId"`
	Signature   string          `json:"signature"`
	Offer       []feedItem      `json:"offer"`
	Consideration []feedItem    `json:"consideration"`
	AuctionType string          `json:"auctionType"` // "basic" | "english" | "dutch"
}

type feedItem struct {
	ItemType   uint8  `json:"itemType"`
	Token      string `json:"token"`
	Identifier string `json:"identifierOrCriteria"`
	StartAmount string `json:"startAmount"`
	EndAmount   string `json:"endAmount"`
	Recipient   string `json:"recipient,omitempty"`
}

// pollOnce fetches one page of the external feed and admits every order it
// successfully normalizes. A fetch error is logged and the poll skipped;
// there is no in-process retry queue, since the external feed
// re-delivers on the next poll.
func (c *Client) pollOnce(ctx context.Context) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}

	var result feedResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/orders")
	if err != nil {
		return fmt.Errorf("fetch external orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("fetch external orders: status %d: %s", resp.StatusCode(), resp.String())
	}

	for i, fo := range result.Orders {
		order, auctionType, err := normalize(fo)
		if err != nil {
			c.logger.Warn("skip malformed external order", "index", i, "error", err)
			continue
		}
		_, _, err = c.engine.AdmitOrder(ctx, order, engine.AdmitOptions{
			Validate:               false,
			Pin:                    false,
			PrecomputedAuctionType: &auctionType,
		})
		if err != nil {
			c.logger.Warn("admit external order failed", "index", i, "error", err)
		}
	}
	return nil
}

func normalize(fo feedOrder) (*types.Order, types.AuctionType, error) {
	offer := make([]types.OfferItem, len(fo.Offer))
	for i, it := range fo.Offer {
		item, err := normalizeOfferItem(it)
		if err != nil {
			return nil, 0, fmt.Errorf("offer[%d]: %w", i, err)
		}
		offer[i] = item
	}
	consideration := make([]types.ConsiderationItem, len(fo.Consideration))
	for i, it := range fo.Consideration {
		item, err := normalizeConsiderationItem(it)
		if err != nil {
			return nil, 0, fmt.Errorf("consideration[%d]: %w", i, err)
		}
		consideration[i] = item
	}

	counter, ok := new(big.Int).SetString(fo.Counter, 10)
	if !ok {
		return nil, 0, fmt.Errorf("invalid counter %q", fo.Counter)
	}
	salt, ok := new(big.Int).SetString(fo.Salt, 10)
	if !ok {
		return nil, 0, fmt.Errorf("invalid salt %q", fo.Salt)
	}

	o := &types.Order{
		Offer:         offer,
		Consideration: consideration,
		Offerer:       common.HexToAddress(fo.Offerer),
		Signature:     common.FromHex(fo.Signature),
		OrderType:     types.OrderType(fo.OrderType),
		StartTime:     fo.StartTime,
		EndTime:       fo.EndTime,
		Counter:       counter,
		Salt:          salt,
		Zone:          common.HexToAddress(fo.Zone),
		ChainID:       fo.ChainID,
	}
	copy(o.ZoneHash[:], common.FromHex(fo.ZoneHash))
	copy(o.ConduitKey[:], common.FromHex(fo.ConduitKey))

	var auctionType types.AuctionType
	switch strings.ToLower(fo.AuctionType) {
	case "english":
		auctionType = types.AuctionEnglish
	case "dutch":
		auctionType = types.AuctionDutch
	default:
		auctionType = types.AuctionBasic
	}

	return o, auctionType, nil
}

func normalizeOfferItem(it feedItem) (types.OfferItem, error) {
	identifier, ok := new(big.Int).SetString(it.Identifier, 10)
	if !ok {
		return types.OfferItem{}, fmt.Errorf("invalid identifier %q", it.Identifier)
	}
	start, ok := new(big.Int).SetString(it.StartAmount, 10)
	if !ok {
		return types.OfferItem{}, fmt.Errorf("invalid startAmount %q", it.StartAmount)
	}
	end, ok := new(big.Int).SetString(it.EndAmount, 10)
	if !ok {
		return types.OfferItem{}, fmt.Errorf("invalid endAmount %q", it.EndAmount)
	}
	return types.OfferItem{
		ItemType:             types.ItemType(it.ItemType),
		Token:                common.HexToAddress(it.Token),
		IdentifierOrCriteria: identifier,
		StartAmount:          start,
		EndAmount:            end,
	}, nil
}

func normalizeConsiderationItem(it feedItem) (types.ConsiderationItem, error) {
	offerItem, err := normalizeOfferItem(it)
	if err != nil {
		return types.ConsiderationItem{}, err
	}
	return types.ConsiderationItem{
		ItemType:             offerItem.ItemType,
		Token:                offerItem.Token,
		IdentifierOrCriteria: offerItem.IdentifierOrCriteria,
		StartAmount:          offerItem.StartAmount,
		EndAmount:            offerItem.EndAmount,
		Recipient:            common.HexToAddress(it.Recipient),
	}, nil
}
