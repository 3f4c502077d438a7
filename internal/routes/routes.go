package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"

	"github.com/gpresearch2025/ai-voice-agent/internal/config"
	"github.com/gpresearch2025/ai-voice-agent/internal/handlers"
	"github.com/gpresearch2025/ai-voice-agent/internal/logger"
	"github.com/gpresearch2025/ai-voice-agent/internal/metrics"
	"github.com/gpresearch2025/ai-voice-agent/internal/middleware"
)

// Handlers groups everything the router mounts
type Handlers struct {
	Voice   *handlers.VoiceHandler
	Calls   *handlers.CallsHandler
	Health  *handlers.HealthHandler
	Metrics *metrics.Metrics
}

// SetupRoutes configures all routes
func SetupRoutes(app *fiber.App, settings config.Settings, h Handlers) {

	// Root endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "callpilot voice orchestrator",
			"version": h.Health.Version,
			"endpoints": fiber.Map{
				"health":  "/health",
				"calls":   "/api/calls",
				"voice":   "/voice/incoming",
				"metrics": "/metrics",
			},
		})
	})

	app.Get("/health", h.Health.Check)
	app.Get("/metrics", adaptor.HTTPHandler(h.Metrics.Handler()))

	// Read-only operator API
	api := app.Group("/api")
	calls := api.Group("/calls")
	calls.Get("/", h.Calls.List)
	calls.Get("/active", h.Calls.Active)
	calls.Get("/:sid", h.Calls.Get)

	// ========== TWILIO VOICE WEBHOOKS ==========
	var voice fiber.Router
	if settings.ValidateWebhooks() {
		voice = app.Group("/voice", middleware.ValidateTwilioSignature(settings.TwilioAuthToken, settings.PublicBaseURL))
	} else {
		// Development: skip validation for tunnels such as ngrok
		voice = app.Group("/voice")
		logger.Base().Warn("voice webhook signature validation DISABLED",
			zap.String("environment", settings.Environment))
	}

	voice.Post("/incoming", h.Voice.Incoming)
	voice.Post("/respond", h.Voice.Respond)
	voice.Post("/transfer", h.Voice.Transfer)
	voice.Post("/voicemail", h.Voice.Voicemail)
	voice.Post("/status", h.Voice.Status)
}
