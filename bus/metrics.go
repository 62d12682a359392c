package bus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/simbuilder/servicebus/errors"
)

// busMetrics holds Prometheus metrics for bus operations. Only the
// subscriptions and streams created through this client are tracked.
type busMetrics struct {
	published     *prometheus.CounterVec
	publishErrors *prometheus.CounterVec
	received      *prometheus.CounterVec
	acked         *prometheus.CounterVec
	nacked        *prometheus.CounterVec

	subscriptions prometheus.Gauge
	streams       prometheus.Gauge

	publishSeconds prometheus.Histogram
}

// newBusMetrics creates and registers bus metrics with the provided registerer.
func newBusMetrics(reg prometheus.Registerer) (*busMetrics, error) {
	m := &busMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servicebus",
			Subsystem: "bus",
			Name:      "published_total",
			Help:      "Total messages published, by subject prefix",
		}, []string{"topic"}),

		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servicebus",
			Subsystem: "bus",
			Name:      "publish_errors_total",
			Help:      "Total publish failures, by subject prefix",
		}, []string{"topic"}),

		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servicebus",
			Subsystem: "bus",
			Name:      "received_total",
			Help:      "Total messages delivered to subscription handlers",
		}, []string{"subscription"}),

		acked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servicebus",
			Subsystem: "bus",
			Name:      "acked_total",
			Help:      "Total messages acknowledged",
		}, []string{"subscription"}),

		nacked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servicebus",
			Subsystem: "bus",
			Name:      "nacked_total",
			Help:      "Total messages negatively acknowledged",
		}, []string{"subscription"}),

		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "servicebus",
			Subsystem: "bus",
			Name:      "subscriptions_active",
			Help:      "Currently active subscriptions",
		}),

		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "servicebus",
			Subsystem: "bus",
			Name:      "streams_tracked",
			Help:      "Streams created or updated through this client",
		}),

		publishSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "servicebus",
			Subsystem: "bus",
			Name:      "publish_duration_seconds",
			Help:      "Publish-with-ack round trip duration",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	collectors := []prometheus.Collector{
		m.published, m.publishErrors, m.received, m.acked, m.nacked,
		m.subscriptions, m.streams, m.publishSeconds,
	}
	for _, col := range collectors {
		if err := reg.Register(col); err != nil {
			return nil, errors.WrapFatal(err, "busMetrics", "newBusMetrics", "register collector")
		}
	}

	return m, nil
}

func (m *busMetrics) recordPublish(topic string, d time.Duration) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(topic).Inc()
	m.publishSeconds.Observe(d.Seconds())
}

func (m *busMetrics) recordPublishError(topic string) {
	if m == nil {
		return
	}
	m.publishErrors.WithLabelValues(topic).Inc()
}

func (m *busMetrics) recordReceived(sub string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(sub).Inc()
}

func (m *busMetrics) recordAck(sub string) {
	if m == nil {
		return
	}
	m.acked.WithLabelValues(sub).Inc()
}

func (m *busMetrics) recordNak(sub string) {
	if m == nil {
		return
	}
	m.nacked.WithLabelValues(sub).Inc()
}

func (m *busMetrics) setSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}

func (m *busMetrics) setStreams(n int) {
	if m == nil {
		return
	}
	m.streams.Set(float64(n))
}
