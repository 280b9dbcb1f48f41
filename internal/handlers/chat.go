package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"reverie/internal/apperrors"
	"reverie/internal/models"
	"reverie/internal/services"
)

// turnTimeout bounds one full turn: generation plus one regeneration
// plus persistence retries.
const turnTimeout = 90 * time.Second

// ChatHandler serves the REST chat endpoint.
type ChatHandler struct {
	engine *services.EngineService
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(engine *services.EngineService) *ChatHandler {
	return &ChatHandler{engine: engine}
}

// Chat processes one turn.
// POST /api/v1/chat {user_id, session_id?, message}
func (h *ChatHandler) Chat(c *fiber.Ctx) error {
	var req models.ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if !actingOnOwnData(c, req.UserID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Token does not match user_id",
		})
	}

	ctx, cancel := context.WithTimeout(c.Context(), turnTimeout)
	defer cancel()

	result, err := h.engine.ProcessTurn(ctx, req.UserID, req.SessionID, req.Message)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(models.ChatResponse{
		TurnID:    result.TurnID,
		SessionID: result.SessionID,
		Response:  result.Response,
		Tone:      &result.Tone,
		Degraded:  result.Degraded,
	})
}

// actingOnOwnData enforces that an authenticated caller only touches
// their own records. With auth disabled no user_id local is set and
// every caller passes.
func actingOnOwnData(c *fiber.Ctx, userID string) bool {
	authed, ok := c.Locals("user_id").(string)
	if !ok || authed == "" {
		return true
	}
	return authed == userID
}

// respondError maps taxonomy kinds to status codes without leaking
// internals. Validation messages are written to be user-safe; every
// other kind gets a fixed message.
func respondError(c *fiber.Ctx, err error) error {
	switch apperrors.KindOf(err) {
	case apperrors.KindValidationFailure:
		var appErr *apperrors.Error
		msg := "Invalid request"
		if errors.As(err, &appErr) {
			msg = appErr.Message
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
	case apperrors.KindRecordNotFound:
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	case apperrors.KindStoreUnavailable:
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Memory store unavailable"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal error"})
	}
}
