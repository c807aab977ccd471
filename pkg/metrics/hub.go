package metrics

import "github.com/prometheus/client_golang/prometheus"

// Delivery results reported by the hub.
const (
	DeliveryDelivered = "delivered"
	DeliveryFull      = "buffer_full"
	DeliveryClosed    = "closed"
)

// HubMetrics tracks websocket observers and fan-out.
type HubMetrics struct {
	connected       prometheus.Gauge
	broadcasts      *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	dropped         prometheus.Counter
	backplaneErrors *prometheus.CounterVec
}

// NewHubMetrics registers the hub metrics on the provided registerer.
func NewHubMetrics(reg prometheus.Registerer) *HubMetrics {
	if reg == nil {
		return &HubMetrics{}
	}
	connected := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "carline_hub_connected_observers",
		Help: "Observers currently registered with the hub.",
	})
	broadcasts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "carline_hub_broadcasts_total",
		Help: "Events fanned out, by route (local or backplane).",
	}, []string{"route"})
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "carline_hub_deliveries_total",
		Help: "Per-observer delivery attempts, by result.",
	}, []string{"result"})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "carline_hub_dropped_total",
		Help: "Events dropped because the outbound queue was full or the hub was stopped.",
	})
	backplaneErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "carline_hub_backplane_errors_total",
		Help: "Backplane failures, by operation.",
	}, []string{"op"})
	reg.MustRegister(connected, broadcasts, deliveries, dropped, backplaneErrors)
	return &HubMetrics{
		connected:       connected,
		broadcasts:      broadcasts,
		deliveries:      deliveries,
		dropped:         dropped,
		backplaneErrors: backplaneErrors,
	}
}

// SetConnected sets the number of registered observers.
func (m *HubMetrics) SetConnected(n int) {
	if m == nil || m.connected == nil {
		return
	}
	m.connected.Set(float64(n))
}

// IncBroadcast counts one fan-out on the given route.
func (m *HubMetrics) IncBroadcast(route string) {
	if m == nil || m.broadcasts == nil {
		return
	}
	m.broadcasts.WithLabelValues(normalizeLabel(route)).Inc()
}

// IncDelivery counts one delivery attempt with its result.
func (m *HubMetrics) IncDelivery(result string) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncDropped counts an event that never reached fan-out.
func (m *HubMetrics) IncDropped() {
	if m == nil || m.dropped == nil {
		return
	}
	m.dropped.Inc()
}

// IncBackplaneError counts a failed backplane publish or receive.
func (m *HubMetrics) IncBackplaneError(op string) {
	if m == nil || m.backplaneErrors == nil {
		return
	}
	m.backplaneErrors.WithLabelValues(normalizeLabel(op)).Inc()
}
