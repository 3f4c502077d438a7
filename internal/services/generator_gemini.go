package services

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/gpresearch2025/ai-voice-agent/internal/models"
)

// GeminiGenerator calls the Gemini API through the genai SDK
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator creates a Gemini-backed generator
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

func (g *GeminiGenerator) Name() string {
	return "gemini"
}

// Generate sends one GenerateContent request
func (g *GeminiGenerator) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
		Temperature:       genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, toGeminiContents(req), cfg)
	if err != nil {
		return "", fmt.Errorf("%w: gemini: %v", ErrUpstreamUnavailable, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%w: gemini returned an empty reply", ErrUpstreamUnavailable)
	}
	return text, nil
}

// toGeminiContents maps history to user/model turns. Gemini expects the
// conversation to open with a user turn, so leading assistant turns are dropped.
func toGeminiContents(req GenerationRequest) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		if m.Role == models.RoleAssistant {
			if len(contents) == 0 {
				continue
			}
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
			continue
		}
		contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
	}
	return append(contents, genai.NewContentFromText(req.Utterance, genai.RoleUser))
}
