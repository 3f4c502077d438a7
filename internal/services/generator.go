package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/gpresearch2025/ai-voice-agent/internal/config"
)

// ErrUpstreamUnavailable marks a failed or timed-out generation request
var ErrUpstreamUnavailable = errors.New("generation upstream unavailable")

// GenerationRequest is what the conversation engine sends to a model
type GenerationRequest struct {
	System      string
	History     []Message
	Utterance   string
	MaxTokens   int
	Temperature float64
}

// Generator produces the assistant's next reply
type Generator interface {
	Name() string
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// NewGenerator builds the generator selected in settings
func NewGenerator(ctx context.Context, s config.Settings) (Generator, error) {
	switch s.GeneratorProvider {
	case "groq":
		if s.GroqAPIKey == "" {
			return nil, fmt.Errorf("%w: GROQ_API_KEY is required for the groq provider", config.ErrConfigInvalid)
		}
		return NewGroqGenerator(s.GroqAPIKey, WithGroqModel(s.GroqModel)), nil
	case "gemini":
		if s.GeminiAPIKey == "" {
			return nil, fmt.Errorf("%w: GEMINI_API_KEY is required for the gemini provider", config.ErrConfigInvalid)
		}
		return NewGeminiGenerator(ctx, s.GeminiAPIKey, s.GeminiModel)
	}
	return nil, fmt.Errorf("%w: unknown generator provider %q", config.ErrConfigInvalid, s.GeneratorProvider)
}
