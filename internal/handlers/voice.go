package handlers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/gpresearch2025/ai-voice-agent/internal/logger"
	"github.com/gpresearch2025/ai-voice-agent/internal/services"
)

// VoiceWebhookPayload is the form body Twilio posts to voice webhooks
type VoiceWebhookPayload struct {
	CallSid     string `form:"CallSid"`
	From        string `form:"From"`
	To          string `form:"To"`
	FromCity    string `form:"FromCity"`
	FromState   string `form:"FromState"`
	FromCountry string `form:"FromCountry"`
	CallerName  string `form:"CallerName"`
	CallStatus  string `form:"CallStatus"`

	SpeechResult string `form:"SpeechResult"`
	Confidence   string `form:"Confidence"`
	Digits       string `form:"Digits"`

	RecordingUrl      string `form:"RecordingUrl"`
	RecordingDuration string `form:"RecordingDuration"`
}

// callerInfo keeps the optional geo fields Twilio sends on call start
func (p VoiceWebhookPayload) callerInfo() map[string]interface{} {
	info := map[string]interface{}{}
	for key, value := range map[string]string{
		"FromCity":    p.FromCity,
		"FromState":   p.FromState,
		"FromCountry": p.FromCountry,
		"CallerName":  p.CallerName,
	} {
		if value != "" {
			info[key] = value
		}
	}
	if len(info) == 0 {
		return nil
	}
	return info
}

// VoiceHandler serves Twilio voice webhooks
type VoiceHandler struct {
	orchestrator *services.Orchestrator
	deadline     time.Duration
	voice        string
}

// NewVoiceHandler creates a voice handler. Each event must be answered within deadline.
func NewVoiceHandler(orchestrator *services.Orchestrator, deadline time.Duration, voice string) *VoiceHandler {
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	return &VoiceHandler{
		orchestrator: orchestrator,
		deadline:     deadline,
		voice:        voice,
	}
}

// Incoming handles POST /voice/incoming
func (h *VoiceHandler) Incoming(c *fiber.Ctx) error {
	payload, ok := h.parse(c)
	if !ok {
		return h.apology(c)
	}

	ctx, cancel := h.context(c)
	defer cancel()

	return h.send(c, h.orchestrator.HandleIncoming(ctx, services.CallStart{
		CallSID:    payload.CallSid,
		From:       payload.From,
		To:         payload.To,
		CallerInfo: payload.callerInfo(),
	}))
}

// Respond handles POST /voice/respond
func (h *VoiceHandler) Respond(c *fiber.Ctx) error {
	payload, ok := h.parse(c)
	if !ok {
		return h.apology(c)
	}

	ctx, cancel := h.context(c)
	defer cancel()

	confidence, _ := strconv.ParseFloat(payload.Confidence, 64)
	return h.send(c, h.orchestrator.HandleTurn(ctx, services.TurnInput{
		CallSID:      payload.CallSid,
		SpeechResult: payload.SpeechResult,
		Confidence:   confidence,
	}))
}

// Transfer handles POST /voice/transfer
func (h *VoiceHandler) Transfer(c *fiber.Ctx) error {
	payload, ok := h.parse(c)
	if !ok {
		return h.apology(c)
	}

	ctx, cancel := h.context(c)
	defer cancel()

	return h.send(c, h.orchestrator.HandleDigits(ctx, services.DigitInput{
		CallSID: payload.CallSid,
		Digits:  strings.TrimSpace(payload.Digits),
	}))
}

// Voicemail handles POST /voice/voicemail
func (h *VoiceHandler) Voicemail(c *fiber.Ctx) error {
	payload, ok := h.parse(c)
	if !ok {
		return h.apology(c)
	}

	ctx, cancel := h.context(c)
	defer cancel()

	duration, _ := strconv.Atoi(payload.RecordingDuration)
	return h.send(c, h.orchestrator.HandleVoicemail(ctx, services.VoicemailInput{
		CallSID:           payload.CallSid,
		RecordingURL:      payload.RecordingUrl,
		RecordingDuration: duration,
	}))
}

// Status handles POST /voice/status
func (h *VoiceHandler) Status(c *fiber.Ctx) error {
	payload, ok := h.parse(c)
	if !ok {
		return h.send(c, `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`)
	}

	ctx, cancel := h.context(c)
	defer cancel()

	return h.send(c, h.orchestrator.HandleStatus(ctx, services.StatusInput{
		CallSID:    payload.CallSid,
		CallStatus: payload.CallStatus,
	}))
}

func (h *VoiceHandler) parse(c *fiber.Ctx) (VoiceWebhookPayload, bool) {
	var payload VoiceWebhookPayload
	if err := c.BodyParser(&payload); err != nil {
		logger.Base().Warn("invalid voice webhook payload", zap.String("path", c.Path()), zap.Error(err))
		return payload, false
	}
	if payload.CallSid == "" {
		logger.Base().Warn("voice webhook without CallSid", zap.String("path", c.Path()))
		return payload, false
	}
	return payload, true
}

// context bounds one event by the handler deadline
func (h *VoiceHandler) context(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), h.deadline)
}

func (h *VoiceHandler) apology(c *fiber.Ctx) error {
	return h.send(c, services.StaticApology(h.voice))
}

func (h *VoiceHandler) send(c *fiber.Ctx, twiml string) error {
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationXMLCharsetUTF8)
	return c.SendString(twiml)
}
