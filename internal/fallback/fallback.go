// Package fallback selects an alternate provider or template after a
// failed generation. Selection is pure; the orchestrator performs the
// actual re-resolution and enforces the one-hop limit.
package fallback

import (
	"github.com/fragmentforge/llm-gateway/internal/domain"
)

// Policy names the error codes that may trigger a provider fallback, in
// addition to any error the provider boundary marked retryable. Validation
// failures are client-caused and never eligible.
type Policy struct {
	Codes []domain.Code
}

// DefaultPolicy treats credential problems and provider outages as
// fallback-worthy.
func DefaultPolicy() Policy {
	return Policy{Codes: []domain.Code{
		domain.CodeProviderConfig,
		domain.CodeProviderUnavailable,
	}}
}

// Eligible reports whether the error justifies trying another provider.
func (p Policy) Eligible(err *domain.Error) bool {
	switch err.Code {
	case domain.CodeSchemaValidation, domain.CodeInvalidProviderConfig:
		return false
	}
	for _, code := range p.Codes {
		if err.Code == code {
			return true
		}
	}
	return err.Retryable
}

// CredentialChecker reports whether a provider is usable with the
// process-level credentials alone.
type CredentialChecker interface {
	HasCredentials(providerID string) bool
}

// Chain is the configured provider priority order.
type Chain struct {
	providers []string
	creds     CredentialChecker
}

func NewChain(providers []string, creds CredentialChecker) *Chain {
	return &Chain{providers: providers, creds: creds}
}

// Next picks the first provider in priority order that is not the one that
// just failed and has credentials present. ok is false when no alternate
// qualifies.
func (c *Chain) Next(failed string) (string, bool) {
	for _, id := range c.providers {
		if id == failed {
			continue
		}
		if !c.creds.HasCredentials(id) {
			continue
		}
		return id, true
	}
	return "", false
}

// rawAlternate is the single aggregator tried when a raw-mode stream
// fails; it fronts most upstream vendors itself, so one hop covers them.
const rawAlternate = "openrouter"

// RawAlternate returns the raw-mode alternate, unless the aggregator is
// the provider that already failed or has no credentials.
func (c *Chain) RawAlternate(failed string) (string, bool) {
	if failed == rawAlternate || !c.creds.HasCredentials(rawAlternate) {
		return "", false
	}
	return rawAlternate, true
}

// templateAlternates pairs each sandbox template with the closest
// substitute. A fragment that fails to boot on its template is retried on
// the alternate once.
var templateAlternates = map[string]string{
	"nextjs-developer":    "vue-developer",
	"vue-developer":       "nextjs-developer",
	"streamlit-developer": "gradio-developer",
	"gradio-developer":    "streamlit-developer",
}

// AlternateTemplate returns the substitute template, if one is mapped.
func AlternateTemplate(template string) (string, bool) {
	alt, ok := templateAlternates[template]
	return alt, ok
}
