// Package google implements the Vertex AI Gemini API, authenticated with a
// service account via self-signed JWTs.
package google

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fragmentforge/llm-gateway/internal/domain"
)

const (
	defaultLocation = "us-central1"
	audience        = "https://aiplatform.googleapis.com/"
)

type Client struct {
	sa           *ServiceAccount
	location     string
	httpClient   *http.Client
	streamClient *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func New(sa *ServiceAccount, httpClient, streamClient *http.Client) *Client {
	return &Client{
		sa:           sa,
		location:     defaultLocation,
		httpClient:   httpClient,
		streamClient: streamClient,
	}
}

func (c *Client) ID() string {
	return "google"
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// buildRequest maps gateway messages onto Gemini contents. System turns
// become the systemInstruction; assistant turns use the "model" role.
func buildRequest(req domain.GenerationRequest) generateRequest {
	out := generateRequest{}
	var system []part
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, part{Text: m.Content})
		case "assistant":
			out.Contents = append(out.Contents, content{Role: "model", Parts: []part{{Text: m.Content}}})
		default:
			out.Contents = append(out.Contents, content{Role: "user", Parts: []part{{Text: m.Content}}})
		}
	}
	if len(system) > 0 {
		out.SystemInstruction = &content{Parts: system}
	}

	cfg := req.Config
	if cfg.Temperature != nil || cfg.TopP != nil || cfg.TopK != nil || cfg.MaxTokens != nil {
		out.GenerationConfig = &generationConfig{
			Temperature:     cfg.Temperature,
			TopP:            cfg.TopP,
			TopK:            cfg.TopK,
			MaxOutputTokens: cfg.MaxTokens,
		}
	}
	return out
}

func (c *Client) endpoint(model, verb string) string {
	return fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:%s",
		c.location, c.sa.ProjectID, c.location, model, verb)
}

// bearer returns a cached self-signed token, minting a fresh one when the
// cached token is within a minute of expiry.
func (c *Client) bearer() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Until(c.tokenExpiry) > time.Minute {
		return c.token, nil
	}

	token, err := c.sa.bearerToken(audience)
	if err != nil {
		return "", err
	}
	c.token = token
	c.tokenExpiry = time.Now().Add(time.Hour)
	return token, nil
}

func (c *Client) Complete(ctx context.Context, req domain.GenerationRequest) (string, error) {
	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	token, err := c.bearer()
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint(req.EffectiveModel(), "generateContent"), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", domain.NewGenerationError("google", "provider unreachable").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyHTTPError(resp)
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", domain.NewGenerationError("google", "malformed provider response").WithCause(err)
	}
	if len(genResp.Candidates) == 0 {
		return "", domain.NewGenerationError("google", "provider returned no candidates")
	}

	var text strings.Builder
	for _, p := range genResp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	return text.String(), nil
}

func (c *Client) Stream(ctx context.Context, req domain.GenerationRequest) (<-chan string, <-chan error) {
	tokens := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(tokens)
		defer close(errs)

		body, err := json.Marshal(buildRequest(req))
		if err != nil {
			errs <- fmt.Errorf("marshal request: %w", err)
			return
		}

		token, err := c.bearer()
		if err != nil {
			errs <- err
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.endpoint(req.EffectiveModel(), "streamGenerateContent")+"?alt=sse", bytes.NewReader(body))
		if err != nil {
			errs <- fmt.Errorf("create request: %w", err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+token)
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := c.streamClient.Do(httpReq)
		if err != nil {
			errs <- domain.NewGenerationError("google", "provider unreachable").WithCause(err)
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
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var chunk generateResponse
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
				continue
			}
			if len(chunk.Candidates) == 0 {
				continue
			}
			for _, p := range chunk.Candidates[0].Content.Parts {
				if p.Text == "" {
					continue
				}
				select {
				case tokens <- p.Text:
				case <-ctx.Done():
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			errs <- domain.NewGenerationError("google", "stream interrupted").WithCause(err)
		}
	}()

	return tokens, errs
}

func classifyHTTPError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))

	message := fmt.Sprintf("google returned status %d", resp.StatusCode)
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}

	return domain.FromUpstreamStatus("google", resp.StatusCode, message)
}
