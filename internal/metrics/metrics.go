// Package metrics collects prometheus instrumentation for admission,
// gossip, wire, and chain-listener activity. Every counter/histogram lives
// on a single Metrics struct that callers wire in optionally; a nil
// *Metrics is always safe to call methods on, so instrumentation never
// becomes a hard dependency of the packages it observes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector this node registers.
type Metrics struct {
	ordersAdmitted     *prometheus.CounterVec
	ordersRejected     *prometheus.CounterVec
	revalidations      *prometheus.CounterVec
	activeOrders       prometheus.Gauge

	gossipReceived   *prometheus.CounterVec
	gossipPublished  *prometheus.CounterVec
	gossipValidation *prometheus.CounterVec

	wireRequestsTotal   *prometheus.CounterVec
	wireRequestDuration *prometheus.HistogramVec

	chainEventsTotal   *prometheus.CounterVec
	chainListenerLag   prometheus.Gauge
}

// New constructs a Metrics and registers every collector against reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ordersAdmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seaport_gossip_orders_admitted_total",
			Help: "Orders accepted into the local order set, by auction type.",
		}, []string{"auction_type"}),
		ordersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seaport_gossip_orders_rejected_total",
			Help: "Orders rejected during admission, by reason.",
		}, []string{"reason"}),
		revalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seaport_gossip_revalidations_total",
			Help: "Periodic revalidation outcomes, by result.",
		}, []string{"result"}),
		activeOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "seaport_gossip_active_orders",
			Help: "Orders currently held in the local store, valid or not.",
		}),
		gossipReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seaport_gossip_messages_received_total",
			Help: "Inbound gossip messages, by topic and validation acceptance.",
		}, []string{"topic", "acceptance"}),
		gossipPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seaport_gossip_messages_published_total",
			Help: "Outbound gossip messages, by topic.",
		}, []string{"topic"}),
		gossipValidation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seaport_gossip_validation_reports_total",
			Help: "Validation reports handed back to the network layer, by acceptance.",
		}, []string{"acceptance"}),
		wireRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seaport_gossip_wire_requests_total",
			Help: "Wire protocol requests made to remote peers, by opcode and outcome.",
		}, []string{"opcode", "outcome"}),
		wireRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "seaport_gossip_wire_request_duration_seconds",
			Help:    "Round-trip latency of wire protocol requests, by opcode.",
			Buckets: prometheus.DefBuckets,
		}, []string{"opcode"}),
		chainEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seaport_gossip_chain_events_total",
			Help: "Settlement contract events processed by the chain listener, by event type.",
		}, []string{"event"}),
		chainListenerLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "seaport_gossip_chain_listener_lag_blocks",
			Help: "Blocks between the chain head and the listener's last processed block.",
		}),
	}

	collectors := []prometheus.Collector{
		m.ordersAdmitted,
		m.ordersRejected,
		m.revalidations,
		m.activeOrders,
		m.gossipReceived,
		m.gossipPublished,
		m.gossipValidation,
		m.wireRequestsTotal,
		m.wireRequestDuration,
		m.chainEventsTotal,
		m.chainListenerLag,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// OrderAdmitted records a newly accepted order.
func (m *Metrics) OrderAdmitted(auctionType string) {
	if m == nil {
		return
	}
	m.ordersAdmitted.WithLabelValues(auctionType).Inc()
}

// OrderRejected records an admission-pipeline rejection.
func (m *Metrics) OrderRejected(reason string) {
	if m == nil {
		return
	}
	m.ordersRejected.WithLabelValues(reason).Inc()
}

// Revalidated records one outcome of the periodic revalidation loop.
func (m *Metrics) Revalidated(result string) {
	if m == nil {
		return
	}
	m.revalidations.WithLabelValues(result).Inc()
}

// SetActiveOrders reports the current count of orders in the store.
func (m *Metrics) SetActiveOrders(n int) {
	if m == nil {
		return
	}
	m.activeOrders.Set(float64(n))
}

// GossipReceived records an inbound gossip message and the acceptance the
// local validation classifier assigned it.
func (m *Metrics) GossipReceived(topic, acceptance string) {
	if m == nil {
		return
	}
	m.gossipReceived.WithLabelValues(topic, acceptance).Inc()
}

// GossipPublished records an outbound gossip publish.
func (m *Metrics) GossipPublished(topic string) {
	if m == nil {
		return
	}
	m.gossipPublished.WithLabelValues(topic).Inc()
}

// GossipValidationReported records a ReportValidation call back to the
// network layer.
func (m *Metrics) GossipValidationReported(acceptance string) {
	if m == nil {
		return
	}
	m.gossipValidation.WithLabelValues(acceptance).Inc()
}

// WireRequest records the outcome and latency of a single wire protocol
// round trip. Call with defer and time.Since(start) from the caller.
func (m *Metrics) WireRequest(opcode, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.wireRequestsTotal.WithLabelValues(opcode, outcome).Inc()
	m.wireRequestDuration.WithLabelValues(opcode).Observe(duration.Seconds())
}

// ChainEvent records a settlement contract event handled by the chain
// listener.
func (m *Metrics) ChainEvent(event string) {
	if m == nil {
		return
	}
	m.chainEventsTotal.WithLabelValues(event).Inc()
}

// SetChainListenerLag reports how far behind the chain head the listener's
// last processed block is.
func (m *Metrics) SetChainListenerLag(blocks uint64) {
	if m == nil {
		return
	}
	m.chainListenerLag.Set(float64(blocks))
}
