package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gpresearch2025/ai-voice-agent/internal/logger"
	"github.com/gpresearch2025/ai-voice-agent/internal/metrics"
	"github.com/gpresearch2025/ai-voice-agent/internal/models"
)

// FallbackReply is spoken when the model cannot answer
const FallbackReply = "I'm sorry, I'm having a little trouble right now. Could you please repeat that?"

// EngineConfig bounds each generation request
type EngineConfig struct {
	CompanyName string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxHistory  int // messages of context sent with each request
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.CompanyName == "" {
		c.CompanyName = "our company"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 150
	}
	if c.Timeout <= 0 {
		c.Timeout = 8 * time.Second
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = 20
	}
	return c
}

// Reply is the engine's answer to one caller utterance
type Reply struct {
	Text       string
	Department models.Department
	Source     ClassificationSource
	Fallback   bool
}

// ConversationEngine turns a caller utterance into the assistant's reply
type ConversationEngine struct {
	generator Generator
	metrics   *metrics.Metrics
	cfg       EngineConfig
}

// NewConversationEngine creates an engine around generator
func NewConversationEngine(generator Generator, m *metrics.Metrics, cfg EngineConfig) *ConversationEngine {
	if m == nil {
		m = metrics.New("")
	}
	return &ConversationEngine{
		generator: generator,
		metrics:   m,
		cfg:       cfg.withDefaults(),
	}
}

// Respond asks the model for the next reply and classifies it for transfer.
// On upstream failure it returns FallbackReply with no department and leaves
// live.History untouched. The caller must hold the call's lock.
func (e *ConversationEngine) Respond(ctx context.Context, live *LiveCallState, utterance string) Reply {
	log := logger.Call(live.CallSID)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req := GenerationRequest{
		System:      SystemPrompt(e.cfg.CompanyName),
		History:     boundedHistory(live.History, e.cfg.MaxHistory),
		Utterance:   utterance,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
	}

	started := time.Now()
	output, err := e.generator.Generate(ctx, req)
	elapsed := time.Since(started)

	if err != nil {
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
		} else if errors.Is(err, context.Canceled) {
			reason = "canceled"
		}
		e.metrics.RecordGeneration(e.generator.Name(), elapsed, reason)
		log.Error("generation failed, using fallback reply",
			zap.String("provider", e.generator.Name()),
			zap.String("reason", reason),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return Reply{Text: FallbackReply, Source: SourceNone, Fallback: true}
	}
	e.metrics.RecordGeneration(e.generator.Name(), elapsed, "")

	verdict := Classify(output, utterance)
	text := StripMarkers(verdict.Reply)
	if text == "" && verdict.Transfer() {
		text = fmt.Sprintf("Let me connect you with our %s team.", verdict.Department)
	}
	if text == "" {
		log.Warn("model returned only a marker with no text", zap.String("output", output))
		return Reply{Text: FallbackReply, Source: SourceNone, Fallback: true}
	}

	if verdict.Source == SourceReplyPhrase || verdict.Source == SourceCallerPhrase {
		log.Info("transfer detected by phrase fallback",
			zap.String("department", verdict.Department.String()),
			zap.String("source", string(verdict.Source)))
	}

	live.AddExchange(utterance, text)
	live.LastActivity = time.Now()

	return Reply{Text: text, Department: verdict.Department, Source: verdict.Source}
}

func boundedHistory(history []Message, max int) []Message {
	if len(history) <= max {
		return append([]Message(nil), history...)
	}
	return append([]Message(nil), history[len(history)-max:]...)
}

// SystemPrompt is the fixed instruction sent with every request
func SystemPrompt(companyName string) string {
	return fmt.Sprintf(`You are a friendly and professional phone assistant for %s.
Your job is to help callers with their questions and route them appropriately.

RULES:
1. Be concise. Phone conversations need short, clear sentences. Keep replies under 3 sentences.
2. Be warm and professional.
3. SALES TRANSFER: when the caller asks about pricing, purchasing, buying, cost, demos, trials,
   contracts, quotes, orders or plans, or asks for a sales representative, start your reply with
   the exact text %s followed by a short transition message.
   Example: %s Great, let me connect you with our sales team right away.
4. SUPPORT TRANSFER: when the caller has a problem with an existing product, account, order or
   bill, or asks for technical support, start your reply with the exact text %s followed by a
   short transition message.
   Example: %s I'm sorry to hear that, let me connect you with our support team.
5. Put the marker only at the very beginning of the reply, and never for general questions
   such as hours or directions. Answer those directly.
6. If you don't know an answer, say so honestly and offer to connect the caller with a person.
7. Never mention that you are an AI unless directly asked.`,
		companyName, MarkerSales, MarkerSales, MarkerSupport, MarkerSupport)
}
