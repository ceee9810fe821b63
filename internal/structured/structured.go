// Package structured decodes model output into a fragment. Models are
// prompted to answer with a single JSON object; this package strips any
// markdown fencing, decodes, validates, and retries the whole generation
// when the output does not conform.
package structured

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/fragmentforge/llm-gateway/internal/domain"
	"github.com/fragmentforge/llm-gateway/internal/provider"
)

// maxAttempts bounds the internal decode loop. Each attempt is a full
// provider call.
const maxAttempts = 3

type Generator struct {
	logger *slog.Logger
}

func NewGenerator(logger *slog.Logger) *Generator {
	return &Generator{logger: logger}
}

// Generate runs the decode loop against a resolved client. Non-retryable
// provider errors surface immediately; transient provider errors and
// non-conforming output are retried up to maxAttempts total attempts, then
// the last error surfaces.
func (g *Generator) Generate(ctx context.Context, client provider.Client, req domain.GenerationRequest) (*domain.Fragment, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		text, err := client.Complete(ctx, req)
		if err != nil {
			var gwErr *domain.Error
			if errors.As(err, &gwErr) && !gwErr.Retryable {
				return nil, err
			}
			g.logger.Warn("structured generation attempt failed",
				"provider", client.ID(),
				"attempt", attempt,
				"error", err,
			)
			lastErr = err
			continue
		}

		fragment, err := Decode(text)
		if err != nil {
			g.logger.Warn("structured output did not conform",
				"provider", client.ID(),
				"attempt", attempt,
				"error", err,
			)
			lastErr = err
			continue
		}

		return fragment, nil
	}

	return nil, lastErr
}

// Decode parses a single model answer into a fragment.
func Decode(text string) (*domain.Fragment, error) {
	var fragment domain.Fragment
	if err := json.Unmarshal([]byte(StripFences(text)), &fragment); err != nil {
		return nil, domain.NewSchemaValidationError("model output is not a JSON object").WithCause(err)
	}
	if err := validate(&fragment); err != nil {
		return nil, err
	}
	return &fragment, nil
}

func validate(f *domain.Fragment) error {
	var missing []string
	if f.Template == "" {
		missing = append(missing, "template")
	}
	if f.FilePath == "" {
		missing = append(missing, "file_path")
	}
	if f.Code == "" {
		missing = append(missing, "code")
	}
	if len(missing) > 0 {
		return domain.NewSchemaValidationError("model output missing required fields: " + strings.Join(missing, ", "))
	}
	if f.HasAdditionalDependencies && len(f.AdditionalDependencies) == 0 {
		return domain.NewSchemaValidationError("model output declares additional dependencies but lists none")
	}
	return nil
}

// StripFences removes a surrounding markdown code fence, with or without a
// language tag, leaving bare JSON untouched.
func StripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		// Drop the language tag line (e.g. ```json).
		if firstLine := strings.TrimSpace(trimmed[:idx]); firstLine == "" || !strings.ContainsAny(firstLine, "{}") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
