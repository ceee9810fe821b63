// Package bedrock implements AWS Bedrock generation through the runtime
// SDK, using the Anthropic messages body format. Credentials come from the
// default AWS chain, never from request config.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/fragmentforge/llm-gateway/internal/domain"
)

const (
	anthropicVersion = "bedrock-2023-05-31"
	defaultMaxTokens = 8192
)

type Client struct {
	client *bedrockruntime.Client
	region string
}

func New(ctx context.Context, region string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithConfig(cfg), nil
}

func NewWithConfig(cfg aws.Config) *Client {
	return &Client{
		client: bedrockruntime.NewFromConfig(cfg),
		region: cfg.Region,
	}
}

func (c *Client) ID() string {
	return "bedrock"
}

type invokeRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []domain.Message `json:"messages"`
	Temperature      *float64         `json:"temperature,omitempty"`
	TopP             *float64         `json:"top_p,omitempty"`
	TopK             *int             `json:"top_k,omitempty"`
}

type invokeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

func buildBody(req domain.GenerationRequest) ([]byte, error) {
	var system strings.Builder
	messages := make([]domain.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
			continue
		}
		messages = append(messages, m)
	}

	body := invokeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        defaultMaxTokens,
		System:           system.String(),
		Messages:         messages,
		Temperature:      req.Config.Temperature,
		TopP:             req.Config.TopP,
		TopK:             req.Config.TopK,
	}
	if req.Config.MaxTokens != nil {
		body.MaxTokens = *req.Config.MaxTokens
	}

	return json.Marshal(body)
}

func (c *Client) Complete(ctx context.Context, req domain.GenerationRequest) (string, error) {
	body, err := buildBody(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	output, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.EffectiveModel()),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", classifyInvokeError(err)
	}

	var resp invokeResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return "", domain.NewGenerationError("bedrock", "malformed provider response").WithCause(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

func (c *Client) Stream(ctx context.Context, req domain.GenerationRequest) (<-chan string, <-chan error) {
	tokens := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(tokens)
		defer close(errs)

		body, err := buildBody(req)
		if err != nil {
			errs <- fmt.Errorf("marshal request: %w", err)
			return
		}

		output, err := c.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
			ModelId:     aws.String(req.EffectiveModel()),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			errs <- classifyInvokeError(err)
			return
		}

		stream := output.GetStream()
		defer stream.Close()

		for event := range stream.Events() {
			chunk, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}

			var ev streamEvent
			if err := json.Unmarshal(chunk.Value.Bytes, &ev); err != nil {
				continue
			}

			switch ev.Type {
			case "content_block_delta":
				if ev.Delta.Text == "" {
					continue
				}
				select {
				case tokens <- ev.Delta.Text:
				case <-ctx.Done():
					return
				}
			case "message_stop":
				return
			}
		}

		if err := stream.Err(); err != nil {
			errs <- domain.NewGenerationError("bedrock", "stream interrupted").WithCause(err)
		}
	}()

	return tokens, errs
}

// classifyInvokeError maps SDK error types onto the gateway taxonomy.
func classifyInvokeError(err error) error {
	var (
		throttled   *types.ThrottlingException
		denied      *types.AccessDeniedException
		unavailable *types.ServiceUnavailableException
		notFound    *types.ResourceNotFoundException
		validation  *types.ValidationException
	)
	switch {
	case errors.As(err, &throttled):
		return domain.FromUpstreamStatus("bedrock", 429, "bedrock throttled the request").WithCause(err)
	case errors.As(err, &denied):
		return domain.FromUpstreamStatus("bedrock", 403, "bedrock rejected the credentials").WithCause(err)
	case errors.As(err, &unavailable):
		return domain.FromUpstreamStatus("bedrock", 503, "bedrock unavailable").WithCause(err)
	case errors.As(err, &notFound):
		return domain.FromUpstreamStatus("bedrock", 404, "model not found on bedrock").WithCause(err)
	case errors.As(err, &validation):
		return domain.FromUpstreamStatus("bedrock", 400, "bedrock rejected the request").WithCause(err)
	}
	return domain.NewGenerationError("bedrock", "invoke model failed").WithCause(err)
}
