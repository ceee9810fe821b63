package fallback

import (
	"testing"

	"github.com/fragmentforge/llm-gateway/internal/domain"
)

type stubCreds map[string]bool

func (s stubCreds) HasCredentials(providerID string) bool { return s[providerID] }

func TestPolicyEligible(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		name string
		err  *domain.Error
		want bool
	}{
		{"missing key", domain.NewProviderConfigError("openai", "missing API key"), true},
		{"provider outage", domain.FromUpstreamStatus("openai", 503, "overloaded"), true},
		{"overloaded 529", domain.FromUpstreamStatus("anthropic", 529, "overloaded"), true},
		{"upstream rate limit", domain.FromUpstreamStatus("openai", 429, "slow down"), true},
		{"server error", domain.FromUpstreamStatus("openai", 500, "boom"), true},
		{"request validation", domain.NewSchemaValidationError("messages must not be empty"), false},
		{"bad credentials blob", domain.NewInvalidProviderConfigError("google", "invalid JSON credentials"), false},
		{"unauthorized", domain.FromUpstreamStatus("openai", 401, "bad key"), false},
		{"client error upstream", domain.FromUpstreamStatus("openai", 422, "bad request"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.Eligible(tt.err); got != tt.want {
				t.Errorf("Eligible(%s) = %v, want %v", tt.err.Code, got, tt.want)
			}
		})
	}
}

func TestChainNext(t *testing.T) {
	chain := NewChain([]string{"openai", "anthropic", "google", "groq"}, stubCreds{
		"anthropic": true,
		"groq":      true,
	})

	next, ok := chain.Next("openai")
	if !ok || next != "anthropic" {
		t.Errorf("expected anthropic, got %s (ok=%v)", next, ok)
	}

	// The failed provider is skipped even when it has credentials.
	next, ok = chain.Next("anthropic")
	if !ok || next != "groq" {
		t.Errorf("expected groq, got %s (ok=%v)", next, ok)
	}
}

func TestChainNextNoCandidate(t *testing.T) {
	chain := NewChain([]string{"openai", "anthropic"}, stubCreds{"anthropic": true})

	if _, ok := chain.Next("anthropic"); ok {
		t.Error("expected no alternate when only the failed provider is configured")
	}
}

func TestRawAlternate(t *testing.T) {
	chain := NewChain(nil, stubCreds{"openrouter": true})

	alt, ok := chain.RawAlternate("openai")
	if !ok || alt != "openrouter" {
		t.Errorf("expected openrouter, got %s (ok=%v)", alt, ok)
	}

	if _, ok := chain.RawAlternate("openrouter"); ok {
		t.Error("expected no alternate when the aggregator itself failed")
	}

	unconfigured := NewChain(nil, stubCreds{})
	if _, ok := unconfigured.RawAlternate("openai"); ok {
		t.Error("expected no alternate without aggregator credentials")
	}
}

func TestAlternateTemplate(t *testing.T) {
	alt, ok := AlternateTemplate("nextjs-developer")
	if !ok || alt != "vue-developer" {
		t.Errorf("expected vue-developer, got %s (ok=%v)", alt, ok)
	}

	if _, ok := AlternateTemplate("code-interpreter-v1"); ok {
		t.Error("expected no alternate for an unmapped template")
	}
}
