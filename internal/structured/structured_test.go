package structured

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/fragmentforge/llm-gateway/internal/domain"
)

const validOutput = `{
	"commentary": "A counter app.",
	"template": "nextjs-developer",
	"title": "Counter",
	"description": "Click to count.",
	"additional_dependencies": [],
	"has_additional_dependencies": false,
	"install_dependencies_command": "",
	"port": 3000,
	"file_path": "pages/index.tsx",
	"code": "export default function Home() { return null }"
}`

type scriptedClient struct {
	calls   int
	outputs []string
	errs    []error
}

func (c *scriptedClient) ID() string { return "scripted" }

func (c *scriptedClient) Complete(ctx context.Context, req domain.GenerationRequest) (string, error) {
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	if i < len(c.outputs) {
		return c.outputs[i], nil
	}
	return "", errors.New("script exhausted")
}

func (c *scriptedClient) Stream(ctx context.Context, req domain.GenerationRequest) (<-chan string, <-chan error) {
	tokens := make(chan string)
	errs := make(chan error)
	close(tokens)
	close(errs)
	return tokens, errs
}

func testGenerator() *Generator {
	return NewGenerator(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGenerateFirstAttempt(t *testing.T) {
	client := &scriptedClient{outputs: []string{validOutput}}

	fragment, err := testGenerator().Generate(context.Background(), client, domain.GenerationRequest{})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if fragment.Template != "nextjs-developer" {
		t.Errorf("expected template nextjs-developer, got %s", fragment.Template)
	}
	if client.calls != 1 {
		t.Errorf("expected 1 provider call, got %d", client.calls)
	}
}

func TestGenerateRetriesNonConformingOutput(t *testing.T) {
	client := &scriptedClient{outputs: []string{"not json", "{\"template\":\"t\"}", validOutput}}

	fragment, err := testGenerator().Generate(context.Background(), client, domain.GenerationRequest{})
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if fragment.Code == "" {
		t.Error("expected decoded fragment code")
	}
	if client.calls != 3 {
		t.Errorf("expected 3 provider calls, got %d", client.calls)
	}
}

func TestGenerateExhaustsAttempts(t *testing.T) {
	client := &scriptedClient{outputs: []string{"nope", "nope", "nope", "nope"}}

	_, err := testGenerator().Generate(context.Background(), client, domain.GenerationRequest{})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if client.calls != 3 {
		t.Errorf("expected exactly 3 provider calls, got %d", client.calls)
	}

	var gwErr *domain.Error
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected typed gateway error, got %T", err)
	}
	if gwErr.Code != domain.CodeSchemaValidation {
		t.Errorf("expected code %s, got %s", domain.CodeSchemaValidation, gwErr.Code)
	}
}

func TestGenerateStopsOnNonRetryableError(t *testing.T) {
	configErr := domain.NewProviderConfigError("openai", "missing API key")
	client := &scriptedClient{errs: []error{configErr}}

	_, err := testGenerator().Generate(context.Background(), client, domain.GenerationRequest{})
	if !errors.Is(err, configErr) {
		t.Fatalf("expected the config error to surface unchanged, got %v", err)
	}
	if client.calls != 1 {
		t.Errorf("expected 1 provider call, got %d", client.calls)
	}
}

func TestGenerateRetriesTransientProviderError(t *testing.T) {
	unavailable := domain.FromUpstreamStatus("openai", 503, "overloaded")
	client := &scriptedClient{
		errs:    []error{unavailable, nil},
		outputs: []string{"", validOutput},
	}

	fragment, err := testGenerator().Generate(context.Background(), client, domain.GenerationRequest{})
	if err != nil {
		t.Fatalf("expected success after transient failure, got %v", err)
	}
	if fragment.Title != "Counter" {
		t.Errorf("expected decoded title, got %s", fragment.Title)
	}
	if client.calls != 2 {
		t.Errorf("expected 2 provider calls, got %d", client.calls)
	}
}

func TestDecodeFencedOutput(t *testing.T) {
	fenced := "```json\n" + validOutput + "\n```"

	fragment, err := Decode(fenced)
	if err != nil {
		t.Fatalf("expected fenced output to decode, got %v", err)
	}
	if fragment.FilePath != "pages/index.tsx" {
		t.Errorf("expected file path, got %s", fragment.FilePath)
	}
	if fragment.Port == nil || *fragment.Port != 3000 {
		t.Error("expected port 3000")
	}
}

func TestDecodeMissingFieldsNamed(t *testing.T) {
	_, err := Decode(`{"template":"t","code":"x"}`)
	if err == nil {
		t.Fatal("expected error for missing file_path")
	}
	if !strings.Contains(err.Error(), "file_path") {
		t.Errorf("expected error to name file_path, got %v", err)
	}
	if strings.Contains(err.Error(), "template") {
		t.Errorf("error should not name present fields, got %v", err)
	}
}

func TestDecodeDependencyConsistency(t *testing.T) {
	_, err := Decode(`{"template":"t","file_path":"f","code":"c","has_additional_dependencies":true,"additional_dependencies":[]}`)
	if err == nil {
		t.Fatal("expected error for inconsistent dependency declaration")
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", `{"a":1}`, `{"a":1}`},
		{"fence with tag", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fence without tag", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"single line fence", "```{\"a\":1}```", `{"a":1}`},
		{"surrounding whitespace", "  \n{\"a\":1}\n  ", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripFences(tt.in); got != tt.want {
				t.Errorf("StripFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
