package provider

import (
	"context"
	"net/http"
	"sync"

	"github.com/fragmentforge/llm-gateway/internal/domain"
	"github.com/fragmentforge/llm-gateway/internal/httputil"
	"github.com/fragmentforge/llm-gateway/internal/provider/anthropic"
	"github.com/fragmentforge/llm-gateway/internal/provider/bedrock"
	"github.com/fragmentforge/llm-gateway/internal/provider/google"
	"github.com/fragmentforge/llm-gateway/internal/provider/ollama"
	"github.com/fragmentforge/llm-gateway/internal/provider/openaicompat"
)

// Credentials holds the process-level provider credentials and base URLs,
// loaded from the environment at startup. A request-level apiKey or baseURL
// override always wins over these defaults.
type Credentials struct {
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	GroqAPIKey       string
	FireworksAPIKey  string
	TogetherAPIKey   string
	DeepSeekAPIKey   string
	XAIAPIKey        string
	MistralAPIKey    string
	OpenRouterAPIKey string

	// GoogleServiceAccount is the raw service-account JSON blob.
	GoogleServiceAccount string

	OllamaBaseURL string

	AWSRegion string
}

// Fixed base URLs for the OpenAI-compatible vendors. These have no
// environment fallback; a request-level baseURL override still applies.
const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	fireworksBaseURL  = "https://api.fireworks.ai/inference/v1"
	togetherBaseURL   = "https://api.together.xyz/v1"
	groqBaseURL       = "https://api.groq.com/openai/v1"
	deepSeekBaseURL   = "https://api.deepseek.com/v1"
	xaiBaseURL        = "https://api.x.ai/v1"
	mistralBaseURL    = "https://api.mistral.ai/v1"
)

// envKeyName maps a providerId to the environment variable its key comes
// from, for error messages.
var envKeyName = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"groq":       "GROQ_API_KEY",
	"fireworks":  "FIREWORKS_API_KEY",
	"together":   "TOGETHER_API_KEY",
	"deepseek":   "DEEPSEEK_API_KEY",
	"xai":        "XAI_API_KEY",
	"mistral":    "MISTRAL_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

// Resolver maps a ModelDescriptor and ProviderConfig to a generation
// client. It is safe for concurrent use.
type Resolver struct {
	creds        Credentials
	httpClient   *http.Client
	streamClient *http.Client

	bedrockOnce   sync.Once
	bedrockClient Client
	bedrockErr    error
}

func NewResolver(creds Credentials) *Resolver {
	return &Resolver{
		creds:        creds,
		httpClient:   httputil.DefaultClient(),
		streamClient: httputil.StreamingClient(),
	}
}

// Resolve returns a usable client for the request's provider, or a named
// error. The provider set is closed: every known providerId maps to exactly
// one construction path, and unknown ids fail immediately.
func (r *Resolver) Resolve(ctx context.Context, model domain.ModelDescriptor, cfg domain.ProviderConfig) (Client, error) {
	switch model.ProviderID {
	case "openai":
		return r.compat("openai", cfg, r.creds.OpenAIAPIKey, r.creds.OpenAIBaseURL)
	case "openrouter":
		return r.compat("openrouter", cfg, r.creds.OpenRouterAPIKey, openRouterBaseURL)
	case "fireworks":
		return r.compat("fireworks", cfg, r.creds.FireworksAPIKey, fireworksBaseURL)
	case "together":
		return r.compat("together", cfg, r.creds.TogetherAPIKey, togetherBaseURL)
	case "groq":
		return r.compat("groq", cfg, r.creds.GroqAPIKey, groqBaseURL)
	case "deepseek":
		return r.compat("deepseek", cfg, r.creds.DeepSeekAPIKey, deepSeekBaseURL)
	case "xai":
		return r.compat("xai", cfg, r.creds.XAIAPIKey, xaiBaseURL)
	case "mistral":
		return r.compat("mistral", cfg, r.creds.MistralAPIKey, mistralBaseURL)

	case "anthropic":
		key := cfg.APIKey
		if key == "" {
			key = r.creds.AnthropicAPIKey
		}
		if key == "" {
			return nil, missingKey("anthropic")
		}
		base := cfg.BaseURL
		if base == "" {
			base = r.creds.AnthropicBaseURL
		}
		return anthropic.New(key, base, r.httpClient, r.streamClient), nil

	case "google", "vertex":
		if r.creds.GoogleServiceAccount == "" {
			return nil, domain.NewProviderConfigError("google", "missing service account credentials (set GOOGLE_VERTEX_CREDENTIALS)")
		}
		sa, err := google.ParseServiceAccount(r.creds.GoogleServiceAccount)
		if err != nil {
			return nil, err
		}
		return google.New(sa, r.httpClient, r.streamClient), nil

	case "ollama":
		base := cfg.BaseURL
		if base == "" {
			base = r.creds.OllamaBaseURL
		}
		return ollama.New(base, r.httpClient, r.streamClient), nil

	case "bedrock":
		r.bedrockOnce.Do(func() {
			r.bedrockClient, r.bedrockErr = bedrock.New(ctx, r.creds.AWSRegion)
		})
		if r.bedrockErr != nil {
			return nil, domain.NewProviderConfigError("bedrock", "AWS credentials unavailable").WithCause(r.bedrockErr)
		}
		return r.bedrockClient, nil
	}

	return nil, domain.NewProviderConfigError(model.ProviderID, "unsupported provider")
}

// compat builds a client for an OpenAI-wire provider.
func (r *Resolver) compat(id string, cfg domain.ProviderConfig, envKey, defaultBase string) (Client, error) {
	key := cfg.APIKey
	if key == "" {
		key = envKey
	}
	if key == "" {
		return nil, missingKey(id)
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultBase
	}
	return openaicompat.New(id, key, base, r.httpClient, r.streamClient), nil
}

func missingKey(id string) error {
	return domain.NewProviderConfigError(id, "missing API key (set "+envKeyName[id]+" or pass config.apiKey)")
}

// HasCredentials reports whether a provider could be resolved with the
// process-level credentials alone. The fallback chain uses this to skip
// unconfigured alternates without attempting resolution.
func (r *Resolver) HasCredentials(providerID string) bool {
	switch providerID {
	case "openai":
		return r.creds.OpenAIAPIKey != ""
	case "anthropic":
		return r.creds.AnthropicAPIKey != ""
	case "groq":
		return r.creds.GroqAPIKey != ""
	case "fireworks":
		return r.creds.FireworksAPIKey != ""
	case "together":
		return r.creds.TogetherAPIKey != ""
	case "deepseek":
		return r.creds.DeepSeekAPIKey != ""
	case "xai":
		return r.creds.XAIAPIKey != ""
	case "mistral":
		return r.creds.MistralAPIKey != ""
	case "openrouter":
		return r.creds.OpenRouterAPIKey != ""
	case "google", "vertex":
		return r.creds.GoogleServiceAccount != ""
	case "ollama":
		return r.creds.OllamaBaseURL != ""
	case "bedrock":
		return r.creds.AWSRegion != ""
	}
	return false
}
