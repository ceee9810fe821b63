// Package ollama implements the local Ollama chat API. It is the one
// provider that needs no credentials at all.
package ollama

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

const defaultBaseURL = "http://localhost:11434"

type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
}

func New(baseURL string, httpClient, streamClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   httpClient,
		streamClient: streamClient,
	}
}

func (c *Client) ID() string {
	return "ollama"
}

type chatRequest struct {
	Model    string           `json:"model"`
	Messages []domain.Message `json:"messages"`
	Stream   bool             `json:"stream"`
	Options  map[string]any   `json:"options,omitempty"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

func buildRequest(req domain.GenerationRequest, stream bool) chatRequest {
	out := chatRequest{
		Model:    req.EffectiveModel(),
		Messages: req.Messages,
		Stream:   stream,
	}

	opts := map[string]any{}
	if req.Config.Temperature != nil {
		opts["temperature"] = *req.Config.Temperature
	}
	if req.Config.TopP != nil {
		opts["top_p"] = *req.Config.TopP
	}
	if req.Config.TopK != nil {
		opts["top_k"] = *req.Config.TopK
	}
	if req.Config.MaxTokens != nil {
		opts["num_predict"] = *req.Config.MaxTokens
	}
	if len(opts) > 0 {
		out.Options = opts
	}
	return out
}

func (c *Client) Complete(ctx context.Context, req domain.GenerationRequest) (string, error) {
	body, err := json.Marshal(buildRequest(req, false))
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", domain.NewGenerationError("ollama", "provider unreachable").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyHTTPError(resp)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", domain.NewGenerationError("ollama", "malformed provider response").WithCause(err)
	}
	return chatResp.Message.Content, nil
}

// Stream reads Ollama's line-delimited JSON stream; each line carries one
// message delta and the final line has done=true.
func (c *Client) Stream(ctx context.Context, req domain.GenerationRequest) (<-chan string, <-chan error) {
	tokens := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(tokens)
		defer close(errs)

		body, err := json.Marshal(buildRequest(req, true))
		if err != nil {
			errs <- fmt.Errorf("marshal request: %w", err)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
		if err != nil {
			errs <- fmt.Errorf("create request: %w", err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.streamClient.Do(httpReq)
		if err != nil {
			errs <- domain.NewGenerationError("ollama", "provider unreachable").WithCause(err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			errs <- classifyHTTPError(resp)
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var chunk chatResponse
			if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
				continue
			}
			if chunk.Message.Content != "" {
				select {
				case tokens <- chunk.Message.Content:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errs <- domain.NewGenerationError("ollama", "stream interrupted").WithCause(err)
		}
	}()

	return tokens, errs
}

func classifyHTTPError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))

	message := fmt.Sprintf("ollama returned status %d", resp.StatusCode)
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		message = apiErr.Error
	}

	return domain.FromUpstreamStatus("ollama", resp.StatusCode, message)
}
