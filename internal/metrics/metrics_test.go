package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequest(t *testing.T) {
	RequestsTotal.Reset()
	RequestDuration.Reset()

	RecordRequest("openai", "gpt-4o", "ast", "success", 1.5)

	count := testutil.ToFloat64(RequestsTotal.WithLabelValues("openai", "gpt-4o", "ast", "success"))
	if count != 1 {
		t.Errorf("RequestsTotal = %v, want 1", count)
	}
}

func TestRecordRateLimitDenial(t *testing.T) {
	RateLimitDenials.Reset()

	RecordRateLimitDenial("distributed")
	RecordRateLimitDenial("distributed")
	RecordRateLimitDenial("in-process")

	distributed := testutil.ToFloat64(RateLimitDenials.WithLabelValues("distributed"))
	if distributed != 2 {
		t.Errorf("distributed denials = %v, want 2", distributed)
	}
}

func TestRecordFallback(t *testing.T) {
	FallbacksTotal.Reset()

	RecordFallback("openai", "anthropic", "ast")

	hops := testutil.ToFloat64(FallbacksTotal.WithLabelValues("openai", "anthropic", "ast"))
	if hops != 1 {
		t.Errorf("FallbacksTotal = %v, want 1", hops)
	}
}

func TestRecordProviderError(t *testing.T) {
	ProviderErrors.Reset()

	RecordProviderError("openai", "rate_limited")
	RecordProviderError("openai", "provider_unavailable")
	RecordProviderError("openai", "rate_limited")

	rateLimited := testutil.ToFloat64(ProviderErrors.WithLabelValues("openai", "rate_limited"))
	if rateLimited != 2 {
		t.Errorf("rate_limited errors = %v, want 2", rateLimited)
	}
}

func TestRecordDecodeAttempt(t *testing.T) {
	DecodeAttempts.Reset()

	RecordDecodeAttempt("openai", "decode_failed")
	RecordDecodeAttempt("openai", "success")

	failed := testutil.ToFloat64(DecodeAttempts.WithLabelValues("openai", "decode_failed"))
	if failed != 1 {
		t.Errorf("decode_failed attempts = %v, want 1", failed)
	}
}

func TestSetCircuitBreakerState(t *testing.T) {
	CircuitBreakerState.Reset()

	SetCircuitBreakerState("openai", 0)
	state := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("openai"))
	if state != 0 {
		t.Errorf("CircuitBreakerState = %v, want 0", state)
	}

	SetCircuitBreakerState("openai", 2)
	state = testutil.ToFloat64(CircuitBreakerState.WithLabelValues("openai"))
	if state != 2 {
		t.Errorf("CircuitBreakerState = %v, want 2", state)
	}
}

func TestActiveStreams(t *testing.T) {
	ActiveStreams.Set(0)

	ActiveStreams.Inc()
	ActiveStreams.Inc()
	if streams := testutil.ToFloat64(ActiveStreams); streams != 2 {
		t.Errorf("ActiveStreams = %v, want 2", streams)
	}

	ActiveStreams.Dec()
	if streams := testutil.ToFloat64(ActiveStreams); streams != 1 {
		t.Errorf("ActiveStreams after dec = %v, want 1", streams)
	}
}
