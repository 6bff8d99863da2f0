package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ChannelMetrics instruments the shared task-progress connection.
type ChannelMetrics struct {
	registry *prometheus.Registry

	connectsTotal       *prometheus.CounterVec
	connectDuration     *prometheus.HistogramVec
	reconnectsTotal     prometheus.Counter
	messagesTotal       *prometheus.CounterVec
	subscriptionsActive prometheus.Gauge
}

func NewChannelMetrics(service string) *ChannelMetrics {
	registry := prometheus.NewRegistry()

	connectsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskchannel",
			Name:      "connects_total",
			Help:      "Connection attempts by result.",
		},
		[]string{"service", "result"},
	)
	connectDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taskchannel",
			Name:      "connect_duration_seconds",
			Help:      "Credential fetch plus handshake duration by result.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"service", "result"},
	)
	reconnectsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskchannel",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts scheduled after unexpected closes.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	messagesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskchannel",
			Name:      "messages_total",
			Help:      "Inbound frames by disposition (dispatched, orphan, ack, malformed).",
		},
		[]string{"service", "disposition"},
	)
	subscriptionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taskchannel",
			Name:      "subscriptions_active",
			Help:      "Task IDs currently subscribed on the shared connection.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(connectsTotal, connectDuration, reconnectsTotal, messagesTotal, subscriptionsActive)

	return &ChannelMetrics{
		registry:            registry,
		connectsTotal:       connectsTotal,
		connectDuration:     connectDuration,
		reconnectsTotal:     reconnectsTotal,
		messagesTotal:       messagesTotal,
		subscriptionsActive: subscriptionsActive,
	}
}

func (m *ChannelMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *ChannelMetrics) ObserveConnect(service string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.connectsTotal.WithLabelValues(service, result).Inc()
	m.connectDuration.WithLabelValues(service, result).Observe(duration.Seconds())
}

func (m *ChannelMetrics) ReconnectScheduled() {
	m.reconnectsTotal.Inc()
}

func (m *ChannelMetrics) Message(service, disposition string) {
	m.messagesTotal.WithLabelValues(service, disposition).Inc()
}

func (m *ChannelMetrics) SetActiveSubscriptions(n int) {
	m.subscriptionsActive.Set(float64(n))
}
