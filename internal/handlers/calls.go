package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/gpresearch2025/ai-voice-agent/internal/logger"
	"github.com/gpresearch2025/ai-voice-agent/internal/models"
	"github.com/gpresearch2025/ai-voice-agent/internal/services"
	"github.com/gpresearch2025/ai-voice-agent/internal/storage"
)

// CallsHandler serves the read-only operator API
type CallsHandler struct {
	store storage.Store
	calls *services.CallStateManager
}

// NewCallsHandler creates a new calls handler
func NewCallsHandler(store storage.Store, calls *services.CallStateManager) *CallsHandler {
	return &CallsHandler{
		store: store,
		calls: calls,
	}
}

type listQuery struct {
	Status string `query:"status"`
	Search string `query:"search"`
	Limit  int    `query:"limit"`
	Offset int    `query:"offset"`
}

// List handles GET /api/calls
func (h *CallsHandler) List(c *fiber.Ctx) error {
	var q listQuery
	if err := c.QueryParser(&q); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid query parameters",
		})
	}
	filter := models.SessionFilter{Status: models.CallStatus(q.Status), Search: q.Search}
	if filter.Status != "" && !filter.Status.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown status: " + q.Status,
		})
	}
	page := models.Page{Limit: q.Limit, Offset: q.Offset}

	sessions, err := h.store.ListSessions(c.UserContext(), filter, page)
	if err != nil {
		logger.Base().Error("failed to list calls", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list calls",
		})
	}
	total, err := h.store.CountSessions(c.UserContext(), filter)
	if err != nil {
		logger.Base().Error("failed to count calls", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list calls",
		})
	}

	return c.JSON(fiber.Map{
		"calls":  sessions,
		"total":  total,
		"limit":  q.Limit,
		"offset": q.Offset,
	})
}

// Active handles GET /api/calls/active
func (h *CallsHandler) Active(c *fiber.Ctx) error {
	// Every non-terminal session started up to now.
	sessions, err := h.store.FindActiveOlderThan(c.UserContext(), time.Now().Add(time.Second))
	if err != nil {
		logger.Base().Error("failed to list active calls", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list active calls",
		})
	}

	live := make(map[string]bool)
	for _, sid := range h.calls.ActiveCallSIDs() {
		live[sid] = true
	}

	calls := make([]fiber.Map, 0, len(sessions))
	for _, s := range sessions {
		calls = append(calls, fiber.Map{
			"call_sid":    s.CallSID,
			"from_number": s.FromNumber,
			"status":      s.Status,
			"started_at":  s.StartedAt,
			"live":        live[s.CallSID],
		})
	}

	return c.JSON(fiber.Map{
		"calls":      calls,
		"count":      len(calls),
		"live_calls": h.calls.Count(),
	})
}

// Get handles GET /api/calls/:sid
func (h *CallsHandler) Get(c *fiber.Ctx) error {
	sid := c.Params("sid")
	if sid == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Call SID is required",
		})
	}

	session, err := h.store.GetSession(c.UserContext(), sid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Call not found",
			})
		}
		logger.Base().Error("failed to load call", zap.String("call_sid", sid), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load call",
		})
	}

	return c.JSON(fiber.Map{
		"call":             session,
		"duration_seconds": int(session.Duration().Seconds()),
	})
}
