package secrets

import (
	"context"
	"fmt"

	"github.com/fragmentforge/llm-gateway/internal/provider"
)

// credentialSecret mirrors the JSON layout of the gateway's shared secret.
// Keys match the environment variable names so one document serves both
// deployment styles.
type credentialSecret struct {
	OpenAIAPIKey      string `json:"OPENAI_API_KEY"`
	AnthropicAPIKey   string `json:"ANTHROPIC_API_KEY"`
	GroqAPIKey        string `json:"GROQ_API_KEY"`
	FireworksAPIKey   string `json:"FIREWORKS_API_KEY"`
	TogetherAPIKey    string `json:"TOGETHER_API_KEY"`
	DeepSeekAPIKey    string `json:"DEEPSEEK_API_KEY"`
	XAIAPIKey         string `json:"XAI_API_KEY"`
	MistralAPIKey     string `json:"MISTRAL_API_KEY"`
	OpenRouterAPIKey  string `json:"OPENROUTER_API_KEY"`
	GoogleVertexCreds string `json:"GOOGLE_VERTEX_CREDENTIALS"`
}

// HydrateCredentials fills credential fields that the environment left
// empty from a Secrets Manager document. Environment values always win, so
// local overrides keep working in development.
func HydrateCredentials(ctx context.Context, store SecretStore, name string, creds *provider.Credentials) error {
	var secret credentialSecret
	if err := store.GetSecretJSON(ctx, name, &secret); err != nil {
		return fmt.Errorf("hydrate credentials: %w", err)
	}

	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}

	fill(&creds.OpenAIAPIKey, secret.OpenAIAPIKey)
	fill(&creds.AnthropicAPIKey, secret.AnthropicAPIKey)
	fill(&creds.GroqAPIKey, secret.GroqAPIKey)
	fill(&creds.FireworksAPIKey, secret.FireworksAPIKey)
	fill(&creds.TogetherAPIKey, secret.TogetherAPIKey)
	fill(&creds.DeepSeekAPIKey, secret.DeepSeekAPIKey)
	fill(&creds.XAIAPIKey, secret.XAIAPIKey)
	fill(&creds.MistralAPIKey, secret.MistralAPIKey)
	fill(&creds.OpenRouterAPIKey, secret.OpenRouterAPIKey)
	fill(&creds.GoogleServiceAccount, secret.GoogleVertexCreds)

	return nil
}
