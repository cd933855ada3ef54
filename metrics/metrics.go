// Package metrics exposes server counters to prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rtmp"

type Metrics struct {
	registry *prometheus.Registry

	connections      prometheus.Gauge
	connectionsTotal prometheus.Counter
	rxBytes          prometheus.Counter
	txBytes          prometheus.Counter
	messages         *prometheus.CounterVec
	protocolErrors   prometheus.Counter
	streams          prometheus.Gauge
	subscribers      prometheus.Gauge
	dropped          prometheus.Counter
}

// New creates the collectors and registers them with a fresh registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Current number of open connections",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted connections",
		}),
		rxBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rx_bytes_total",
			Help:      "Total received bytes",
		}),
		txBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_bytes_total",
			Help:      "Total sent bytes",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Total messages by direction and type",
		}, []string{"direction", "type"}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Connections closed because the peer broke the protocol",
		}),
		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Current number of published streams",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers_active",
			Help:      "Current number of players",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Media messages dropped for slow players",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.connections, m.connectionsTotal, m.rxBytes, m.txBytes, m.messages,
		m.protocolErrors, m.streams, m.subscribers, m.dropped,
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Register adds an extra collector to the registry served by HTTPHandler.
func (m *Metrics) Register(c prometheus.Collector) error {
	return m.registry.Register(c)
}

func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.InstrumentMetricHandler(m.registry, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Gatherer gives tests access to the collected values.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
	m.connectionsTotal.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) Received(n int) {
	if m == nil {
		return
	}
	m.rxBytes.Add(float64(n))
}

func (m *Metrics) Sent(n int) {
	if m == nil {
		return
	}
	m.txBytes.Add(float64(n))
}

func (m *Metrics) MessageIn(typ string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues("in", typ).Inc()
}

func (m *Metrics) MessageOut(typ string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues("out", typ).Inc()
}

func (m *Metrics) ProtocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}

func (m *Metrics) StreamPublished() {
	if m == nil {
		return
	}
	m.streams.Inc()
}

func (m *Metrics) StreamUnpublished() {
	if m == nil {
		return
	}
	m.streams.Dec()
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
