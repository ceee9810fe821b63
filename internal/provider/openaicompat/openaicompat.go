// Package openaicompat implements the OpenAI chat-completions wire format.
// One adapter serves every vendor that speaks it: openai itself plus the
// fixed-base-URL compatibles (openrouter, fireworks, together, groq,
// deepseek, xai, mistral).
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fragmentforge/llm-gateway/internal/domain"
)

type Client struct {
	id           string
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
}

func New(id, apiKey, baseURL string, httpClient, streamClient *http.Client) *Client {
	return &Client{
		id:           id,
		apiKey:       apiKey,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   httpClient,
		streamClient: streamClient,
	}
}

func (c *Client) ID() string {
	return c.id
}

type chatRequest struct {
	Model            string           `json:"model"`
	Messages         []domain.Message `json:"messages"`
	Stream           bool             `json:"stream,omitempty"`
	Temperature      *float64         `json:"temperature,omitempty"`
	TopP             *float64         `json:"top_p,omitempty"`
	FrequencyPenalty *float64         `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64         `json:"presence_penalty,omitempty"`
	MaxTokens        *int             `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *Client) buildRequest(req domain.GenerationRequest, stream bool) chatRequest {
	return chatRequest{
		Model:            req.EffectiveModel(),
		Messages:         req.Messages,
		Stream:           stream,
		Temperature:      req.Config.Temperature,
		TopP:             req.Config.TopP,
		FrequencyPenalty: req.Config.FrequencyPenalty,
		PresencePenalty:  req.Config.PresencePenalty,
		MaxTokens:        req.Config.MaxTokens,
	}
}

func (c *Client) Complete(ctx context.Context, req domain.GenerationRequest) (string, error) {
	body, err := json.Marshal(c.buildRequest(req, false))
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", domain.NewGenerationError(c.id, "provider unreachable").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyHTTPError(c.id, resp)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", domain.NewGenerationError(c.id, "malformed provider response").WithCause(err)
	}
	if len(chatResp.Choices) == 0 {
		return "", domain.NewGenerationError(c.id, "provider returned no choices")
	}

	return chatResp.Choices[0].Message.Content, nil
}

func (c *Client) Stream(ctx context.Context, req domain.GenerationRequest) (<-chan string, <-chan error) {
	tokens := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(tokens)
		defer close(errs)

		body, err := json.Marshal(c.buildRequest(req, true))
		if err != nil {
			errs <- fmt.Errorf("marshal request: %w", err)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			errs <- fmt.Errorf("create request: %w", err)
			return
		}

		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := c.streamClient.Do(httpReq)
		if err != nil {
			errs <- domain.NewGenerationError(c.id, "provider unreachable").WithCause(err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			errs <- classifyHTTPError(c.id, resp)
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}

			select {
			case tokens <- chunk.Choices[0].Delta.Content:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errs <- domain.NewGenerationError(c.id, "stream interrupted").WithCause(err)
		}
	}()

	return tokens, errs
}

// classifyHTTPError turns a non-2xx provider response into a typed gateway
// error. Only the provider's error message travels onward; the raw body is
// capped and discarded.
func classifyHTTPError(id string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))

	message := fmt.Sprintf("%s returned status %d", id, resp.StatusCode)
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}

	return domain.FromUpstreamStatus(id, resp.StatusCode, message)
}
