package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gpresearch2025/ai-voice-agent/database"
	"github.com/gpresearch2025/ai-voice-agent/internal/config"
	"github.com/gpresearch2025/ai-voice-agent/internal/handlers"
	"github.com/gpresearch2025/ai-voice-agent/internal/jobs"
	"github.com/gpresearch2025/ai-voice-agent/internal/logger"
	"github.com/gpresearch2025/ai-voice-agent/internal/metrics"
	"github.com/gpresearch2025/ai-voice-agent/internal/routes"
	"github.com/gpresearch2025/ai-voice-agent/internal/services"
	"github.com/gpresearch2025/ai-voice-agent/internal/storage"
)

const version = "1.0.0"

func main() {
	// Load .env file for local development
	if os.Getenv("INSTANCE_CONNECTION_NAME") == "" {
		config.LoadEnv(".env", "environments/.env.development")
	}

	settings, err := config.Load()
	if err != nil {
		// The logger is not built yet
		panic(err)
	}

	log, err := logger.Init(settings.Environment)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	var (
		store storage.Store
		db    *gorm.DB
	)
	if settings.UseMemoryStore {
		log.Warn("using in-memory storage (not for production!)")
		store = storage.NewMemoryStore()
	} else {
		db, err = database.Connect(settings.DatabaseURL)
		if err != nil {
			log.Fatal("failed to connect to database", zap.Error(err))
		}
		dbStore := storage.NewDatabaseStore(db)
		if err := dbStore.Migrate(); err != nil {
			log.Fatal("failed to migrate database", zap.Error(err))
		}
		log.Info("database migrations completed")
		store = dbStore
	}
	store = storage.NewRetryingStore(store, 0)

	generator, err := services.NewGenerator(ctx, settings)
	if err != nil {
		log.Fatal("failed to initialize generator", zap.Error(err))
	}

	m := metrics.New("callpilot")
	provider := config.NewProvider(settings)
	calls := services.NewCallStateManager()
	engine := services.NewConversationEngine(generator, m, services.EngineConfig{
		CompanyName: settings.CompanyName,
		MaxTokens:   settings.GenerationMaxTokens,
		Temperature: settings.GenerationTemperature,
		Timeout:     settings.GenerationTimeout,
	})
	orchestrator := services.NewOrchestrator(store, calls, engine, provider, m)

	var reaperOpts []jobs.ReaperOption
	if settings.TwilioConfigured() {
		twilioService, err := services.NewTwilioService(settings.TwilioAccountSID, settings.TwilioAuthToken, settings.TwilioPhoneNumber)
		if err != nil {
			log.Warn("Twilio REST client not initialized", zap.Error(err))
		} else {
			reaperOpts = append(reaperOpts, jobs.WithCallLookup(twilioService))
		}
	} else {
		log.Warn("Twilio credentials not found - carrier lookups disabled")
	}

	reaper := jobs.NewReaper(store, calls, m, settings.ReaperInterval, settings.ReaperMaxAge, reaperOpts...)
	reaper.Start(ctx)

	app := fiber.New(fiber.Config{
		AppName:      "callpilot v" + version,
		ErrorHandler: errorHandler(settings.VoiceName),
	})

	// Middleware
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	routes.SetupRoutes(app, settings, routes.Handlers{
		Voice:   handlers.NewVoiceHandler(orchestrator, settings.HandlerDeadline, settings.VoiceName),
		Calls:   handlers.NewCallsHandler(store, calls),
		Health:  handlers.NewHealthHandler(version, db, calls),
		Metrics: m,
	})

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info("gracefully shutting down")
		reaper.Stop()
		_ = app.Shutdown()
	}()

	log.Info("callpilot starting",
		zap.String("port", settings.Port),
		zap.String("environment", settings.Environment),
		zap.Bool("memory_store", settings.UseMemoryStore),
		zap.String("generator", generator.Name()),
		zap.String("business_hours", settings.Hours.String()),
		zap.Bool("sales_configured", settings.Sales.Configured()),
		zap.Bool("support_configured", settings.Support.Configured()),
		zap.Bool("webhook_validation", settings.ValidateWebhooks()))

	if err := app.Listen(":" + settings.Port); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

// errorHandler answers voice webhooks with a spoken apology so the carrier never
// hears a raw error; everything else gets JSON.
func errorHandler(voice string) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		if strings.HasPrefix(c.Path(), "/voice/") {
			logger.Base().Error("unhandled voice webhook error", zap.String("path", c.Path()), zap.Error(err))
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationXMLCharsetUTF8)
			return c.Status(fiber.StatusOK).SendString(services.StaticApology(voice))
		}

		code := fiber.StatusInternalServerError
		var e *fiber.Error
		if errors.As(err, &e) {
			code = e.Code
		}
		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}
