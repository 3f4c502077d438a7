package handlers

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/gpresearch2025/ai-voice-agent/internal/services"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	Version string
	db      *gorm.DB
	calls   *services.CallStateManager
}

// NewHealthHandler creates a new health handler. db is nil when running on the memory store.
func NewHealthHandler(version string, db *gorm.DB, calls *services.CallStateManager) *HealthHandler {
	return &HealthHandler{
		Version: version,
		db:      db,
		calls:   calls,
	}
}

// Check returns the health status of the service
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	status := "healthy"
	statusCode := fiber.StatusOK
	storage := "memory"

	if h.db != nil {
		storage = "postgres"
		sqlDB, err := h.db.DB()
		if err != nil || sqlDB.PingContext(c.UserContext()) != nil {
			status = "unhealthy"
			statusCode = fiber.StatusServiceUnavailable
		}
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":     status,
		"service":    "callpilot",
		"version":    h.Version,
		"storage":    storage,
		"live_calls": h.calls.Count(),
	})
}
