package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nlquery/nlquery/internal/observability"
)

const maxErrorBodyBytes = 512

type OpenAIConfig struct {
	// Endpoint is the full chat-completions URL.
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// OpenAITranslator talks to any OpenAI-compatible chat-completions endpoint.
type OpenAITranslator struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

func NewOpenAITranslator(cfg OpenAIConfig) (*OpenAITranslator, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &OpenAITranslator{
		endpoint:    endpoint,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      client,
	}, nil
}

func (t *OpenAITranslator) Model() string { return t.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (t *OpenAITranslator) Translate(ctx context.Context, req Request) (Result, error) {
	completion, err := t.complete(ctx, req.Prompt)
	if err != nil {
		outcome := "error"
		var genErr *GenerationError
		if errors.As(err, &genErr) && genErr.Timeout() {
			outcome = ReasonTimeout
		}
		observability.IncrementGenerationAttempt(outcome)
		return Result{}, err
	}
	observability.IncrementGenerationAttempt("ok")

	result := Result{
		Raw:      completion,
		Provider: "openai-compatible",
		Model:    t.model,
	}
	stmt, err := ExtractStatement(completion)
	if err != nil {
		return result, err
	}
	result.SQL = stmt
	return result, nil
}

func (t *OpenAITranslator) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       t.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: t.temperature,
		MaxTokens:   t.maxTokens,
	})
	if err != nil {
		return "", &GenerationError{Reason: ReasonTransport, Err: fmt.Errorf("marshal chat payload: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &GenerationError{Reason: ReasonTransport, Err: fmt.Errorf("build chat request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return "", &GenerationError{Reason: classifyTransportError(err), Err: fmt.Errorf("request chat completion: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &GenerationError{Reason: classifyTransportError(err), Err: fmt.Errorf("read chat response body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &GenerationError{
			Reason:     ReasonStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("body=%s", truncate(string(rawBody), maxErrorBodyBytes)),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return "", &GenerationError{Reason: ReasonDecode, Err: fmt.Errorf("decode chat completion response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return "", &GenerationError{Reason: ReasonEmpty, Err: fmt.Errorf("no choices in completion")}
	}
	content := parsed.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", &GenerationError{Reason: ReasonEmpty, Err: fmt.Errorf("completion content is empty")}
	}
	return content, nil
}

func classifyTransportError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	return ReasonTransport
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
