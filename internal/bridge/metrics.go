package bridge

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes forwarding counters to Prometheus.
type Metrics struct {
	mu sync.Mutex

	forwardedMessages *prometheus.CounterVec
	forwardedBytes    *prometheus.CounterVec
	forwardFailures   *prometheus.CounterVec
	unmatchedMessages prometheus.Counter
	activeStreams     prometheus.Gauge

	registerer prometheus.Registerer
	registered bool
}

func newBridgeCounterVec(name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "databridge",
			Subsystem: "bridge",
			Name:      name,
			Help:      help,
		},
		[]string{"topic"},
	)
}

// NewMetrics creates the bridge collectors. Nothing is registered until
// Register is called; a nil registerer means the default registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer:        registerer,
		forwardedMessages: newBridgeCounterVec("forwarded_messages_total", "Messages delivered to the local destination"),
		forwardedBytes:    newBridgeCounterVec("forwarded_bytes_total", "Payload bytes delivered to the local destination"),
		forwardFailures:   newBridgeCounterVec("forward_failures_total", "Messages that could not be delivered"),
		unmatchedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "databridge",
			Subsystem: "bridge",
			Name:      "unmatched_messages_total",
			Help:      "Messages received for a topic with no stream",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "databridge",
			Subsystem: "bridge",
			Name:      "active_streams",
			Help:      "Streams with a live subscription",
		}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.forwardedMessages,
		m.forwardedBytes,
		m.forwardFailures,
		m.unmatchedMessages,
		m.activeStreams,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

func (m *Metrics) recordForward(topic string, bytes int, err error) {
	if err != nil {
		m.forwardFailures.WithLabelValues(topic).Inc()
		return
	}
	m.forwardedMessages.WithLabelValues(topic).Inc()
	m.forwardedBytes.WithLabelValues(topic).Add(float64(bytes))
}

func (m *Metrics) recordUnmatched() {
	m.unmatchedMessages.Inc()
}

func (m *Metrics) setActiveStreams(n int) {
	m.activeStreams.Set(float64(n))
}
