package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels queries that produced data.
	OutcomeSuccess = "success"
	// OutcomeUnknown labels queries that matched no operation.
	OutcomeUnknown = "unknown"
	// OutcomeUnauthorized labels permission failures.
	OutcomeUnauthorized = "unauthorized"
	// OutcomeDenied labels service allow-list failures.
	OutcomeDenied = "denied"
	// OutcomeError labels anything else.
	OutcomeError = "error"

	// CacheHit and CacheMiss label response cache lookups.
	CacheHit  = "hit"
	CacheMiss = "miss"
)

var (
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "queries_total",
			Help:      "Total number of dashboard queries, partitioned by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	queryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pulse",
			Name:      "query_seconds",
			Help:      "Dashboard query latency in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
		[]string{"operation"},
	)

	responseCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "response_cache_total",
			Help:      "Response cache lookups, partitioned by result.",
		},
		[]string{"result"},
	)

	streamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pulse",
			Name:      "stream_clients",
			Help:      "Websocket clients currently subscribed to the dashboard stream.",
		},
	)

	feedRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "feed_refreshes_total",
			Help:      "Dashboard feed refreshes, partitioned by task.",
		},
		[]string{"task"},
	)
)

// Register attaches pulse collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		queriesTotal,
		queryDurationSeconds,
		responseCacheTotal,
		streamClients,
		feedRefreshesTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveQuery records a query duration and outcome label.
func ObserveQuery(operation, outcome string, duration time.Duration) {
	switch outcome {
	case OutcomeSuccess, OutcomeUnknown, OutcomeUnauthorized, OutcomeDenied:
	default:
		outcome = OutcomeError
	}
	queriesTotal.WithLabelValues(operation, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	queryDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveCache counts a response cache lookup.
func ObserveCache(hit bool) {
	if hit {
		responseCacheTotal.WithLabelValues(CacheHit).Inc()
		return
	}
	responseCacheTotal.WithLabelValues(CacheMiss).Inc()
}

// StreamClientConnected and StreamClientDisconnected track live websocket subscribers.
func StreamClientConnected()    { streamClients.Inc() }
func StreamClientDisconnected() { streamClients.Dec() }

// ObserveFeedRefresh counts one scheduled feed refresh.
func ObserveFeedRefresh(task string) {
	feedRefreshesTotal.WithLabelValues(task).Inc()
}
