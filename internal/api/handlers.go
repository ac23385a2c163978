package api

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/config"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/query"
	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/types"
)

// Handlers holds every HTTP handler's dependencies.
type Handlers struct {
	query  *query.Query
	hub    *Hub
	cfg    config.APIConfig
	logger *slog.Logger
}

// NewHandlers constructs a Handlers bound to the given Query layer and
// websocket Hub.
func NewHandlers(q *query.Query, hub *Hub, cfg config.APIConfig, logger *slog.Logger) *Handlers {
	return &Handlers{
		query:  q,
		hub:    hub,
		cfg:    cfg,
		logger: logger.With("component", "api-handlers"),
	}
}

// HandleHealth reports liveness and the number of connected websocket
// subscribers.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		ActiveConns: h.hub.ClientCount(),
	})
}

// HandleOrders answers GET /api/orders?collection=0x...&side=sell&sort=newest
// with the live, filtered order set for one collection.
func (h *Handlers) HandleOrders(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("collection")
	if raw == "" {
		http.Error(w, "collection query parameter is required", http.StatusBadRequest)
		return
	}
	collection := common.HexToAddress(raw)

	opts, err := parseOrderOpts(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	results, err := h.query.Find(r.Context(), collection, opts)
	if err != nil {
		h.logger.Error("query find failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	summaries := make([]OrderSummary, 0, len(results))
	for _, res := range results {
		summaries = append(summaries, toOrderSummary(res.Hash, res.Order, res.Metadata, res.CurrentPrice))
	}

	writeJSON(w, http.StatusOK, OrdersResponse{
		Orders: summaries,
		Count:  len(summaries),
		Offset: opts.Offset,
	})
}

func parseOrderOpts(q url.Values) (query.Opts, error) {
	opts := query.Opts{}

	switch strings.ToLower(q.Get("side")) {
	case "", "any":
		opts.Side = types.SideAny
	case "sell":
		opts.Side = types.SideSell
	case "buy":
		opts.Side = types.SideBuy
	default:
		return opts, errInvalidParam("side")
	}

	switch strings.ToLower(q.Get("sort")) {
	case "", "newest":
		opts.Sort = types.SortNewest
	case "oldest":
		opts.Sort = types.SortOldest
	case "price_asc":
		opts.Sort = types.SortPriceAsc
	case "price_desc":
		opts.Sort = types.SortPriceDesc
	default:
		return opts, errInvalidParam("sort")
	}

	if v := q.Get("currency"); v != "" {
		addr := common.HexToAddress(v)
		opts.Currency = &addr
	}

	opts.BuyNow = q.Get("buy_now") == "true"
	opts.OnAuction = q.Get("on_auction") == "true"
	opts.SingleItem = q.Get("single_item") == "true"
	opts.Bundles = q.Get("bundles") == "true"

	if v := q.Get("count"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return opts, errInvalidParam("count")
		}
		opts.Count = uint32(n)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return opts, errInvalidParam("offset")
		}
		opts.Offset = uint32(n)
	}

	return opts, nil
}

func errInvalidParam(name string) error {
	return &invalidParamError{name: name}
}

type invalidParamError struct{ name string }

func (e *invalidParamError) Error() string {
	return "invalid value for query parameter " + e.name
}

// HandleWebSocket upgrades the connection and registers a new client on the
// hub. The client receives every order event broadcast from then on; it
// does not replay history.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return isOriginAllowed(req.Header.Get("Origin"), h.cfg, req.Host)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	NewClient(h.hub, conn)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("encode response failed", "error", err)
	}
}

func isOriginAllowed(origin string, cfg config.APIConfig, reqHost string) bool {
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	normalized := normalizeOrigin(originURL.Scheme, originURL.Host)
	if normalized == "" {
		return false
	}

	if len(cfg.AllowedOrigins) > 0 {
		for _, allowed := range cfg.AllowedOrigins {
			u, err := url.Parse(allowed)
			if err != nil {
				continue
			}
			if normalized == normalizeOrigin(u.Scheme, u.Host) {
				return true
			}
		}
		return false
	}

	host := strings.ToLower(originURL.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	reqHostname := normalizeHost(reqHost)
	return reqHostname != "" && host == reqHostname
}

func normalizeOrigin(scheme, host string) string {
	if scheme == "" || host == "" {
		return ""
	}
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}

func normalizeHost(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}
