package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_requests_total",
			Help: "Total number of generation requests processed",
		},
		[]string{"provider", "model", "mode", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmgateway_request_duration_seconds",
			Help:    "Generation request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "model", "mode"},
	)

	RateLimitDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_rate_limit_denials_total",
			Help: "Total number of requests denied by the rate limiter",
		},
		[]string{"limiter"},
	)

	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_fallbacks_total",
			Help: "Total number of provider fallback hops",
		},
		[]string{"from", "to", "mode"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llmgateway_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_provider_errors_total",
			Help: "Total number of classified provider errors",
		},
		[]string{"provider", "code"},
	)

	DecodeAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_structured_decode_attempts_total",
			Help: "Total number of structured decode attempts",
		},
		[]string{"provider", "outcome"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "llmgateway_active_streams",
			Help: "Number of active streaming connections",
		},
	)
)

func RecordRequest(provider, model, mode, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(provider, model, mode, status).Inc()
	RequestDuration.WithLabelValues(provider, model, mode).Observe(durationSec)
}

func RecordRateLimitDenial(limiter string) {
	RateLimitDenials.WithLabelValues(limiter).Inc()
}

func RecordFallback(from, to, mode string) {
	FallbacksTotal.WithLabelValues(from, to, mode).Inc()
}

func RecordProviderError(provider, code string) {
	ProviderErrors.WithLabelValues(provider, code).Inc()
}

func RecordDecodeAttempt(provider, outcome string) {
	DecodeAttempts.WithLabelValues(provider, outcome).Inc()
}

func SetCircuitBreakerState(provider string, state int) {
	CircuitBreakerState.WithLabelValues(provider).Set(float64(state))
}
