package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gpresearch2025/ai-voice-agent/internal/models"
)

// DefaultGroqBaseURL is the Groq OpenAI-compatible endpoint
const DefaultGroqBaseURL = "https://api.groq.com/openai/v1"

// GroqGenerator calls Groq's chat completions API
type GroqGenerator struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// GroqOption configures a GroqGenerator
type GroqOption func(*GroqGenerator)

// WithGroqBaseURL overrides the API endpoint
func WithGroqBaseURL(url string) GroqOption {
	return func(g *GroqGenerator) {
		g.baseURL = url
	}
}

// WithGroqModel sets the model name
func WithGroqModel(model string) GroqOption {
	return func(g *GroqGenerator) {
		if model != "" {
			g.model = model
		}
	}
}

// WithGroqHTTPClient sets the HTTP client
func WithGroqHTTPClient(client *http.Client) GroqOption {
	return func(g *GroqGenerator) {
		g.httpClient = client
	}
}

// NewGroqGenerator creates a Groq-backed generator
func NewGroqGenerator(apiKey string, opts ...GroqOption) *GroqGenerator {
	g := &GroqGenerator{
		apiKey:     apiKey,
		baseURL:    DefaultGroqBaseURL,
		model:      "llama-3.3-70b-versatile",
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GroqGenerator) Name() string {
	return "groq"
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate sends one non-streaming chat completion
func (g *GroqGenerator) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       g.model,
		Messages:    toChatMessages(req),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(g.baseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		var apiErr chatError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("%w: groq %d: %s", ErrUpstreamUnavailable, resp.StatusCode, apiErr.Error.Message)
		}
		return "", fmt.Errorf("%w: groq status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUpstreamUnavailable, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: groq returned no choices", ErrUpstreamUnavailable)
	}

	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: groq returned an empty reply", ErrUpstreamUnavailable)
	}
	return text, nil
}

func toChatMessages(req GenerationRequest) []chatMessage {
	messages := make([]chatMessage, 0, len(req.History)+2)
	messages = append(messages, chatMessage{Role: "system", Content: req.System})
	for _, m := range req.History {
		role := "user"
		if m.Role == models.RoleAssistant {
			role = "assistant"
		}
		messages = append(messages, chatMessage{Role: role, Content: m.Content})
	}
	return append(messages, chatMessage{Role: "user", Content: req.Utterance})
}
