package api

import (
	"fmt"
	"time"

	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/types"
)

// OrderEvent is the wrapper every event broadcast over the websocket stream
// is marshaled as.
type OrderEvent struct {
	Type        string      `json:"type"` // "new", "validated", "invalidated", "cancelled", "fulfilled", "counter_incremented"
	Timestamp   time.Time   `json:"timestamp"`
	OrderHash   string      `json:"order_hash,omitempty"`
	BlockNumber uint64      `json:"block_number"`
	Data        interface{} `json:"data,omitempty"`
}

// NewOrderPayload carries the full order on a "new" event, so a subscriber
// never has to follow up with a GetOrders request just to see what arrived.
type NewOrderPayload struct {
	Order OrderSummary `json:"order"`
}

// CounterIncrementedPayload is the counter_incremented event's payload: the
// underlying gossip event carries no order hash for a counter bump, so the
// offerer and new counter are all a subscriber gets.
type CounterIncrementedPayload struct {
	Offerer    string `json:"offerer"`
	NewCounter string `json:"new_counter"`
}

// NewOrderEvent converts a types.GossipsubEvent into the wire event this
// package's websocket clients receive, looking up the full order only for
// the "new" event kind.
func NewOrderEvent(evt *types.GossipsubEvent) OrderEvent {
	out := OrderEvent{
		Type:        eventTypeLabel(evt.EventType),
		Timestamp:   time.Now(),
		OrderHash:   fmt.Sprintf("0x%x", evt.OrderHash),
		BlockNumber: evt.BlockNumber,
	}

	switch evt.EventType {
	case types.EventNew:
		if evt.Order != nil {
			out.Data = NewOrderPayload{Order: toOrderSummary(evt.OrderHash, evt.Order, nil, nil)}
		}
	case types.EventCounterIncremented:
		out.OrderHash = ""
		newCounter := "0"
		if evt.NewCounter != nil {
			newCounter = evt.NewCounter.String()
		}
		out.Data = CounterIncrementedPayload{
			Offerer:    evt.Offerer.Hex(),
			NewCounter: newCounter,
		}
	}

	return out
}

func eventTypeLabel(t types.GossipEventType) string {
	switch t {
	case types.EventNew:
		return "new"
	case types.EventValidated:
		return "validated"
	case types.EventInvalidated:
		return "invalidated"
	case types.EventCancelled:
		return "cancelled"
	case types.EventFulfilled:
		return "fulfilled"
	case types.EventCounterIncremented:
		return "counter_incremented"
	default:
		return "unknown"
	}
}
