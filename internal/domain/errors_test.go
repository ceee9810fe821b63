package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestFromUpstreamStatus_Unauthorized(t *testing.T) {
	for _, status := range []int{401, 403} {
		err := FromUpstreamStatus("openai", status, "bad key")
		if err.Code != CodeUnauthorized {
			t.Errorf("status %d: expected %s, got %s", status, CodeUnauthorized, err.Code)
		}
		if err.Status != http.StatusUnauthorized {
			t.Errorf("status %d: expected HTTP 401, got %d", status, err.Status)
		}
		if err.Retryable {
			t.Errorf("status %d: unauthorized must not be retryable", status)
		}
	}
}

func TestFromUpstreamStatus_RateLimited(t *testing.T) {
	err := FromUpstreamStatus("anthropic", 429, "slow down")
	if err.Code != CodeRateLimited {
		t.Errorf("expected %s, got %s", CodeRateLimited, err.Code)
	}
	if !err.Retryable {
		t.Error("upstream 429 should be retryable")
	}
}

func TestFromUpstreamStatus_Unavailable(t *testing.T) {
	for _, status := range []int{503, 529} {
		err := FromUpstreamStatus("anthropic", status, "overloaded")
		if err.Code != CodeProviderUnavailable {
			t.Errorf("status %d: expected %s, got %s", status, CodeProviderUnavailable, err.Code)
		}
		if err.Status != http.StatusServiceUnavailable {
			t.Errorf("status %d: expected HTTP 503, got %d", status, err.Status)
		}
	}
}

func TestFromUpstreamStatus_PassesThroughNumericStatus(t *testing.T) {
	err := FromUpstreamStatus("openai", 422, "unprocessable")
	if err.Code != CodeGenerationFailed {
		t.Errorf("expected %s, got %s", CodeGenerationFailed, err.Code)
	}
	if err.Status != 422 {
		t.Errorf("expected original status 422, got %d", err.Status)
	}
	if err.Retryable {
		t.Error("4xx generation failure must not be retryable")
	}

	err = FromUpstreamStatus("openai", 500, "boom")
	if !err.Retryable {
		t.Error("5xx generation failure should be retryable")
	}
}

func TestClassify_PassThrough(t *testing.T) {
	orig := NewProviderConfigError("openai", "missing API key")
	got := Classify(fmt.Errorf("resolve client: %w", orig), "openai")
	if got != orig {
		t.Errorf("expected wrapped *Error to pass through, got %v", got)
	}
}

func TestClassify_CircuitOpen(t *testing.T) {
	got := Classify(ErrCircuitBreakerOpen, "anthropic")
	if got.Code != CodeProviderUnavailable {
		t.Errorf("expected %s, got %s", CodeProviderUnavailable, got.Code)
	}
	if !got.Retryable {
		t.Error("circuit open should be fallback-eligible")
	}
}

func TestClassify_Unknown(t *testing.T) {
	got := Classify(errors.New("connection reset"), "ollama")
	if got.Code != CodeGenerationFailed {
		t.Errorf("expected %s, got %s", CodeGenerationFailed, got.Code)
	}
	if got.Status != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", got.Status)
	}
}

func TestErrorEnvelope_NoCauseLeak(t *testing.T) {
	err := NewGenerationError("openai", "generation failed").
		WithCause(errors.New("stack trace with secret sk-12345"))

	env := err.Envelope(&ErrorDetails{Provider: "openai", RequestID: "req-1"})
	if env.Error.Message != "generation failed" {
		t.Errorf("envelope message should be the normalized message, got %q", env.Error.Message)
	}
	if env.Error.Details.RequestID != "req-1" {
		t.Errorf("expected request id in details, got %q", env.Error.Details.RequestID)
	}
}

func TestValidate(t *testing.T) {
	valid := func() GenerationRequest {
		return GenerationRequest{
			Messages: []Message{{Role: "user", Content: "build me a todo app"}},
			Model:    ModelDescriptor{ID: "gpt-4o", ProviderID: "openai"},
		}
	}

	if err := (func() error { r := valid(); return r.Validate() })(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	bad := valid()
	bad.Messages = nil
	assertSchemaError(t, bad.Validate(), "empty messages")

	bad = valid()
	temp := 2.5
	bad.Config.Temperature = &temp
	assertSchemaError(t, bad.Validate(), "temperature out of range")

	bad = valid()
	mt := 0
	bad.Config.MaxTokens = &mt
	assertSchemaError(t, bad.Validate(), "maxTokens < 1")

	bad = valid()
	bad.Model.ProviderID = ""
	assertSchemaError(t, bad.Validate(), "missing providerId")

	bad = valid()
	bad.Mode = "yaml"
	assertSchemaError(t, bad.Validate(), "unknown mode")
}

func assertSchemaError(t *testing.T, err error, label string) {
	t.Helper()
	var gwErr *Error
	if !errors.As(err, &gwErr) || gwErr.Code != CodeSchemaValidation {
		t.Errorf("%s: expected schema_validation_error, got %v", label, err)
	}
}

func TestEffectiveModel(t *testing.T) {
	req := GenerationRequest{Model: ModelDescriptor{ID: "gpt-4o"}}
	if got := req.EffectiveModel(); got != "gpt-4o" {
		t.Errorf("expected gpt-4o, got %s", got)
	}

	req.Config.Model = "gpt-4o-mini"
	if got := req.EffectiveModel(); got != "gpt-4o-mini" {
		t.Errorf("config override should win, got %s", got)
	}

	req.ModelOverride = "o3"
	if got := req.EffectiveModel(); got != "o3" {
		t.Errorf("request override should win, got %s", got)
	}
}
