// Package provider resolves a (model, config) pair into a concrete,
// callable generation client. Resolution either returns a fully usable
// client or fails with a named, attributable error — never a
// partially-configured client.
package provider

import (
	"context"

	"github.com/fragmentforge/llm-gateway/internal/domain"
)

// Client is a resolved generation client for a single provider.
type Client interface {
	// ID returns the providerId this client was resolved for.
	ID() string

	// Complete returns the full completion text. Used by structured
	// generation, which decodes the text against the fragment schema.
	Complete(ctx context.Context, req domain.GenerationRequest) (string, error)

	// Stream emits completion tokens as they arrive. Both channels are
	// closed when production ends; at most one error is sent.
	Stream(ctx context.Context, req domain.GenerationRequest) (<-chan string, <-chan error)
}
