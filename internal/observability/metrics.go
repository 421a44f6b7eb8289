package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agentlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	sessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "agentlink",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently running.",
		},
		[]string{"node"},
	)
	sessionsTerminated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentlink",
			Subsystem: "session",
			Name:      "terminated_total",
			Help:      "Sessions ended, by termination cause.",
		},
		[]string{"node", "cause"},
	)
	sessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agentlink",
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "Session lifetime in seconds.",
			Buckets:   []float64{0.1, 1, 10, 60, 300, 1800, 3600, 4 * 3600},
		},
		[]string{"node", "cause"},
	)
	sessionFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentlink",
			Subsystem: "session",
			Name:      "frames_total",
			Help:      "Frames moved by sessions, by direction.",
		},
		[]string{"node", "direction"},
	)
	handshakeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentlink",
			Subsystem: "transport",
			Name:      "handshake_failures_total",
			Help:      "Rejected mTLS handshakes.",
		},
		[]string{"node", "role"},
	)
	upgradeOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentlink",
			Subsystem: "upgrade",
			Name:      "outcomes_total",
			Help:      "Protocol upgrade results.",
		},
		[]string{"node", "state", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			sessionsActive,
			sessionsTerminated,
			sessionDuration,
			sessionFrames,
			handshakeFailures,
			upgradeOutcomes,
		)
	})
}

func MetricsHandler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSessionStart(node string) {
	RegisterMetrics()
	sessionsActive.WithLabelValues(node).Inc()
}

func RecordSessionEnd(node, cause string, framesIn, framesOut uint64, duration time.Duration) {
	RegisterMetrics()
	sessionsActive.WithLabelValues(node).Dec()
	sessionsTerminated.WithLabelValues(node, cause).Inc()
	sessionDuration.WithLabelValues(node, cause).Observe(duration.Seconds())
	sessionFrames.WithLabelValues(node, "in").Add(float64(framesIn))
	sessionFrames.WithLabelValues(node, "out").Add(float64(framesOut))
}

func RecordHandshakeFailure(node, role string) {
	RegisterMetrics()
	handshakeFailures.WithLabelValues(node, role).Inc()
}

func RecordUpgradeOutcome(node, state string, status int) {
	RegisterMetrics()
	upgradeOutcomes.WithLabelValues(node, state, strconv.Itoa(status)).Inc()
}
