package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BadgeMetrics bundles the collectors describing receiver synchronization
// activity on the node.
type BadgeMetrics struct {
	syncCalls     *prometheus.CounterVec
	syncLatency   prometheus.Histogram
	statusUpdates *prometheus.CounterVec
	mints         prometheus.Counter
	feedClients   prometheus.Gauge
}

var (
	badgeOnce     sync.Once
	badgeRegistry *BadgeMetrics
)

// Badge returns the lazily-initialised singleton badge metrics registry.
func Badge() *BadgeMetrics {
	badgeOnce.Do(func() {
		badgeRegistry = &BadgeMetrics{
			syncCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "sb",
				Subsystem: "badge",
				Name:      "sync_calls_total",
				Help:      "Count of receiver list synchronization calls by outcome.",
			}, []string{"outcome"}),
			syncLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "sb",
				Subsystem: "badge",
				Name:      "sync_duration_seconds",
				Help:      "Latency distribution for synchronization calls.",
				Buckets:   prometheus.DefBuckets,
			}),
			statusUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "sb",
				Subsystem: "badge",
				Name:      "status_updates_total",
				Help:      "Count of applied status updates segmented by classification.",
			}, []string{"kind"}),
			mints: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "sb",
				Subsystem: "badge",
				Name:      "mints_total",
				Help:      "Count of soulbound badge tokens minted.",
			}),
			feedClients: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "sb",
				Subsystem: "badge",
				Name:      "feed_subscribers",
				Help:      "Number of connected status feed subscribers.",
			}),
		}
		prometheus.MustRegister(
			badgeRegistry.syncCalls,
			badgeRegistry.syncLatency,
			badgeRegistry.statusUpdates,
			badgeRegistry.mints,
			badgeRegistry.feedClients,
		)
	})
	return badgeRegistry
}

// ObserveSync records one synchronization call with its outcome and latency.
func (m *BadgeMetrics) ObserveSync(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(outcome)
	if normalized == "" {
		normalized = "unknown"
	}
	m.syncCalls.WithLabelValues(normalized).Inc()
	m.syncLatency.Observe(duration.Seconds())
}

// RecordStatusUpdate increments the update counter for a classification kind.
func (m *BadgeMetrics) RecordStatusUpdate(kind string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(kind)
	if normalized == "" {
		normalized = "unknown"
	}
	m.statusUpdates.WithLabelValues(normalized).Inc()
}

// RecordMint increments the mint counter.
func (m *BadgeMetrics) RecordMint() {
	if m == nil {
		return
	}
	m.mints.Inc()
}

// FeedSubscriberConnected adjusts the subscriber gauge upward.
func (m *BadgeMetrics) FeedSubscriberConnected() {
	if m == nil {
		return
	}
	m.feedClients.Inc()
}

// FeedSubscriberDisconnected adjusts the subscriber gauge downward.
func (m *BadgeMetrics) FeedSubscriberDisconnected() {
	if m == nil {
		return
	}
	m.feedClients.Dec()
}
