package domain

import "strconv"

// Message is a single chat turn forwarded to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelDescriptor identifies the model the caller asked for.
type ModelDescriptor struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Provider   string `json:"provider"`
	ProviderID string `json:"providerId"`
}

// ProviderConfig carries per-request generation parameters and credential
// overrides. Pointer fields distinguish "not set" from zero values.
type ProviderConfig struct {
	Model            string   `json:"model,omitempty"`
	APIKey           string   `json:"apiKey,omitempty"`
	BaseURL          string   `json:"baseURL,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	TopK             *int     `json:"topK,omitempty"`
	FrequencyPenalty *float64 `json:"frequencyPenalty,omitempty"`
	PresencePenalty  *float64 `json:"presencePenalty,omitempty"`
	MaxTokens        *int     `json:"maxTokens,omitempty"`
}

// GenerationMode selects the output shape of a generation call.
type GenerationMode string

const (
	ModeText GenerationMode = "text"
	ModeAST  GenerationMode = "ast"
	ModeRaw  GenerationMode = "raw"
)

// IsStructured reports whether the mode decodes output against the fragment
// schema instead of streaming freeform tokens. An unset mode defaults to
// structured generation.
func (m GenerationMode) IsStructured() bool {
	return m != ModeRaw
}

// GenerationRequest is the full inbound payload. It is validated once at
// ingress; everything downstream may assume a valid request.
type GenerationRequest struct {
	Messages      []Message       `json:"messages"`
	UserID        string          `json:"userID,omitempty"`
	TeamID        string          `json:"teamID,omitempty"`
	Template      string          `json:"template"`
	Model         ModelDescriptor `json:"model"`
	Config        ProviderConfig  `json:"config"`
	Mode          GenerationMode  `json:"mode,omitempty"`
	Provider      string          `json:"provider,omitempty"`
	APIKey        string          `json:"apiKey,omitempty"`
	ModelOverride string          `json:"modelOverride,omitempty"`
}

// EffectiveModel returns the model identifier actually sent upstream,
// honoring the request-level override first, then the config override.
func (r *GenerationRequest) EffectiveModel() string {
	if r.ModelOverride != "" {
		return r.ModelOverride
	}
	if r.Config.Model != "" {
		return r.Config.Model
	}
	return r.Model.ID
}

// Validate enforces the ingress schema constraints. Failures are terminal:
// they are never retried and never trigger provider fallback.
func (r *GenerationRequest) Validate() error {
	if len(r.Messages) == 0 {
		return NewSchemaValidationError("messages must not be empty")
	}
	for i, m := range r.Messages {
		if m.Role == "" {
			return NewSchemaValidationError("messages[" + strconv.Itoa(i) + "].role is required")
		}
	}
	if r.Model.ID == "" {
		return NewSchemaValidationError("model.id is required")
	}
	if r.Model.ProviderID == "" {
		return NewSchemaValidationError("model.providerId is required")
	}
	if t := r.Config.Temperature; t != nil && (*t < 0 || *t > 2) {
		return NewSchemaValidationError("config.temperature must be between 0 and 2")
	}
	if p := r.Config.TopP; p != nil && (*p < 0 || *p > 1) {
		return NewSchemaValidationError("config.topP must be between 0 and 1")
	}
	if k := r.Config.TopK; k != nil && *k < 0 {
		return NewSchemaValidationError("config.topK must be >= 0")
	}
	if mt := r.Config.MaxTokens; mt != nil && *mt < 1 {
		return NewSchemaValidationError("config.maxTokens must be >= 1")
	}
	switch r.Mode {
	case "", ModeText, ModeAST, ModeRaw:
	default:
		return NewSchemaValidationError("mode must be one of text, ast, raw")
	}
	switch r.Provider {
	case "", "default", "openrouter":
	default:
		return NewSchemaValidationError("provider must be default or openrouter")
	}
	return nil
}

// Normalize applies the request-level shorthands after validation: a
// top-level apiKey fills the config override when unset, and provider
// "openrouter" reroutes the call through the aggregator while keeping the
// chosen model id.
func (r *GenerationRequest) Normalize() {
	if r.APIKey != "" && r.Config.APIKey == "" {
		r.Config.APIKey = r.APIKey
	}
	if r.Provider == "openrouter" && r.Model.ProviderID != "openrouter" {
		r.Model.Provider = "OpenRouter"
		r.Model.ProviderID = "openrouter"
	}
}

// Fragment is the structured generation result: a single self-contained
// code artifact plus the metadata needed to run it in a sandbox.
type Fragment struct {
	Commentary                 string   `json:"commentary"`
	Template                   string   `json:"template"`
	Title                      string   `json:"title"`
	Description                string   `json:"description"`
	AdditionalDependencies     []string `json:"additional_dependencies"`
	HasAdditionalDependencies  bool     `json:"has_additional_dependencies"`
	InstallDependenciesCommand string   `json:"install_dependencies_command"`
	Port                       *int     `json:"port"`
	FilePath                   string   `json:"file_path"`
	Code                       string   `json:"code"`
}
