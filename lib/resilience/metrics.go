package resilience

import (
	"context"

	"github.com/go-i2p/wgclient/lib/metrics"
)

// MetricsCallback updates the circuit breaker gauges on state changes.
func MetricsCallback(name string, from, to CircuitState) {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
	if to == CircuitOpen {
		metrics.CircuitBreakerTrips.WithLabelValues(name).Inc()
	}
}

// MetricsCircuitBreaker wraps a CircuitBreaker with automatic metrics recording.
type MetricsCircuitBreaker struct {
	*CircuitBreaker
}

// NewMetricsCircuitBreaker creates a circuit breaker that records metrics.
func NewMetricsCircuitBreaker(name string, cfg CircuitBreakerConfig) *MetricsCircuitBreaker {
	cb := NewCircuitBreaker(name, cfg)
	cb.SetStateChangeCallback(MetricsCallback)
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(CircuitClosed))
	return &MetricsCircuitBreaker{CircuitBreaker: cb}
}

// Execute runs fn through the breaker and counts the result.
func (m *MetricsCircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	err := m.CircuitBreaker.Execute(ctx, fn)
	result := "success"
	switch {
	case err == ErrCircuitOpen:
		result = "rejected"
	case err != nil:
		result = "failure"
	}
	metrics.CircuitBreakerResults.WithLabelValues(m.name, result).Inc()
	return err
}
