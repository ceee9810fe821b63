package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the process configuration, read once from the environment at
// startup and passed down by reference. Provider credentials resolved here
// act as defaults; a request-level apiKey override always wins.
type Config struct {
	Addr     string
	LogLevel string

	RedisURL    string
	DatabaseURL string

	// Per-provider credentials. Empty means the provider is not configured.
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	AnthropicAPIKey   string
	AnthropicBaseURL  string
	GroqAPIKey        string
	FireworksAPIKey   string
	TogetherAPIKey    string
	DeepSeekAPIKey    string
	XAIAPIKey         string
	MistralAPIKey     string
	OpenRouterAPIKey  string
	GoogleCredentials string
	OllamaBaseURL     string

	// Rate limiting.
	RateLimitMax    int
	RateLimitWindow time.Duration

	// Provider fallback priority order.
	FallbackProviders []string

	RequestTimeout time.Duration

	// AWS integrations, all optional.
	AWSRegion     string
	SecretsName   string
	UsageQueueURL string
	AlertTopicARN string

	OTLPEndpoint string

	AdminKeyHash string

	UseDistributedCircuitBreaker bool

	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:     getEnv("ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		RedisURL:    getEnv("REDIS_URL", ""),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL:  getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
		GroqAPIKey:        getEnv("GROQ_API_KEY", ""),
		FireworksAPIKey:   getEnv("FIREWORKS_API_KEY", ""),
		TogetherAPIKey:    getEnv("TOGETHER_API_KEY", ""),
		DeepSeekAPIKey:    getEnv("DEEPSEEK_API_KEY", ""),
		XAIAPIKey:         getEnv("XAI_API_KEY", ""),
		MistralAPIKey:     getEnv("MISTRAL_API_KEY", ""),
		OpenRouterAPIKey:  getEnv("OPENROUTER_API_KEY", ""),
		GoogleCredentials: getEnv("GOOGLE_VERTEX_CREDENTIALS", getEnv("GOOGLE_SERVICE_ACCOUNT", "")),
		OllamaBaseURL:     getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),

		RateLimitMax:    getIntEnv("RATE_LIMIT_MAX_REQUESTS", 10),
		RateLimitWindow: getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		FallbackProviders: splitList(getEnv("FALLBACK_PROVIDERS", "openai,anthropic,google,groq")),

		RequestTimeout: getDurationEnv("REQUEST_TIMEOUT", 120*time.Second),

		AWSRegion:     getEnv("AWS_REGION", ""),
		SecretsName:   getEnv("SECRETS_NAME", ""),
		UsageQueueURL: getEnv("USAGE_QUEUE_URL", ""),
		AlertTopicARN: getEnv("ALERT_TOPIC_ARN", ""),

		OTLPEndpoint: getEnv("OTLP_ENDPOINT", ""),

		AdminKeyHash: getEnv("ADMIN_KEY_HASH", ""),

		UseDistributedCircuitBreaker: getEnv("USE_DISTRIBUTED_CB", "false") == "true",

		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
		if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
