package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics records request outcomes against the payment gateway.
type GatewayMetrics struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	verification *prometheus.CounterVec
}

// NewGatewayMetrics registers the gateway metrics on the provided registerer.
func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	if reg == nil {
		return &GatewayMetrics{}
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Payment gateway requests by operation and outcome.",
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_duration_seconds",
		Help:    "Duration of payment gateway requests in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	verification := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_callback_verifications_total",
		Help: "Gateway callback signature verifications by result.",
	}, []string{"result"})
	reg.MustRegister(requests, duration, verification)
	return &GatewayMetrics{
		requests:     requests,
		duration:     duration,
		verification: verification,
	}
}

// ObserveRequest records one gateway request with its outcome and duration.
func (g *GatewayMetrics) ObserveRequest(operation, outcome string, duration time.Duration) {
	if g == nil || g.requests == nil {
		return
	}
	g.requests.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
	if duration > 0 {
		g.duration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
	}
}

// ObserveCallbackVerification counts a callback signature check result.
func (g *GatewayMetrics) ObserveCallbackVerification(ok bool) {
	if g == nil || g.verification == nil {
		return
	}
	result := "valid"
	if !ok {
		result = "invalid"
	}
	g.verification.WithLabelValues(result).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
