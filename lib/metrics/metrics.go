// Package metrics defines the Prometheus metrics exported by wgclient.
// All metrics register with the default Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "wgclient"

// Session metrics
var (
	SessionPhase = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "session_phase",
		Help:      "Current session phase (1 for the active phase)",
	}, []string{"phase"})

	ConnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "connect_attempts_total",
		Help:      "Total connect operations started",
	})

	ConnectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "connect_failures_total",
		Help:      "Total failed connect operations by error kind",
	}, []string{"kind"})

	Refreshes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "refreshes_total",
		Help:      "Total successful in-place refreshes",
	})

	RefreshFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "refresh_failures_total",
		Help:      "Total failed refreshes by error kind",
	}, []string{"kind"})

	Disconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "disconnects_total",
		Help:      "Total user-requested disconnects",
	})

	RejectedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "rejected_requests_total",
		Help:      "Connect/disconnect requests rejected synchronously, by reason",
	}, []string{"reason"})

	StaleAlarms = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "stale_alarms_total",
		Help:      "Refresh alarms that fired after being superseded or cancelled",
	})

	NextRefresh = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "next_refresh_timestamp_seconds",
		Help:      "Unix time of the pending refresh alarm (0 when none)",
	})
)

// Tunnel metrics
var (
	TunnelUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "tunnel_up",
		Help:      "Whether a tunnel is up (1=yes, 0=no)",
	})

	BackendEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "backend_events_total",
		Help:      "Informational state reports from the tunnel backend",
	}, []string{"state"})
)

// Credential metrics
var (
	CredentialRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "credential_request_duration_seconds",
		Help:      "Latency of credential service requests by outcome",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"outcome"})

	CredentialRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "credential_retries_total",
		Help:      "Credential requests retried after a transient failure",
	})
)

// Circuit breaker metrics
var (
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "circuit_breaker_state",
		Help:      "Current state of the circuit breaker (0=closed, 1=open, 2=half-open)",
	}, []string{"circuit"})

	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "circuit_breaker_trips_total",
		Help:      "Total number of times circuit breakers have opened",
	}, []string{"circuit"})

	CircuitBreakerResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "circuit_breaker_results_total",
		Help:      "Operations through circuit breakers by result (success, failure, rejected)",
	}, []string{"circuit", "result"})
)

// Forwarding metrics
var (
	ForwardedConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "forwarded_connections_total",
		Help:      "Local connections forwarded through a userspace tunnel by outcome",
	}, []string{"outcome"})

	ForwardedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "forwarded_bytes_total",
		Help:      "Bytes copied by port forwards (direction: out to the tunnel, in from it)",
	}, []string{"direction"})
)

// StartTime is the process start time.
var StartTime = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: Namespace,
	Name:      "start_time_seconds",
	Help:      "Unix timestamp when the client started",
})

// SetPhase marks phase as the single active session phase.
func SetPhase(phase string) {
	SessionPhase.Reset()
	SessionPhase.WithLabelValues(phase).Set(1)
}

// SetNextRefresh records the pending refresh deadline. The zero time clears it.
func SetNextRefresh(deadline time.Time) {
	if deadline.IsZero() {
		NextRefresh.Set(0)
		return
	}
	NextRefresh.Set(float64(deadline.Unix()))
}

// RecordStartTime records the current time as the start time.
func RecordStartTime() {
	StartTime.Set(float64(time.Now().Unix()))
}

// Handler returns an http.Handler that exposes metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
