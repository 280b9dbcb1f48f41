package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/sirupsen/logrus"

	"reverie/internal/apperrors"
	"reverie/internal/models"
	"reverie/internal/services"
)

// WebSocketHandler serves the streaming chat endpoint: one connection,
// one turn in flight at a time, JSON frames both ways.
type WebSocketHandler struct {
	engine  *services.EngineService
	metrics *services.Metrics
}

// NewWebSocketHandler creates a new WebSocket chat handler.
func NewWebSocketHandler(engine *services.EngineService, metrics *services.Metrics) *WebSocketHandler {
	return &WebSocketHandler{engine: engine, metrics: metrics}
}

// Handle runs one WebSocket chat connection. The upgrade middleware
// stashes the query identifiers in Locals before the protocol switch.
// GET /ws/chat?user_id=&session_id=
func (h *WebSocketHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	userID, _ := c.Locals("ws_user_id").(string)
	sessionID, _ := c.Locals("ws_session_id").(string)

	if err := services.ValidateUserID(userID); err != nil {
		_ = c.WriteJSON(models.WSServerFrame{Type: models.WSTypeError, Error: "user_id must be 1-100 characters of [A-Za-z0-9_-]"})
		return
	}

	if h.metrics != nil {
		h.metrics.RecordWebSocketConnect()
		defer h.metrics.RecordWebSocketDisconnect()
	}
	logrus.Infof("🔌 [WS] Connected: user %s", userID)
	defer logrus.Infof("🔌 [WS] Disconnected: user %s", userID)

	// Fresh sessions get a persona opener before the first turn.
	if sessionID != "" {
		greetCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		opener := h.engine.SessionOpener(greetCtx, userID, sessionID)
		cancel()
		if opener != "" {
			if err := c.WriteJSON(models.WSServerFrame{Type: models.WSTypeResponse, SessionID: sessionID, Response: opener}); err != nil {
				return
			}
		}
	}

	for {
		var frame models.WSClientFrame
		if err := c.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Type != models.WSTypeMessage {
			_ = c.WriteJSON(models.WSServerFrame{Type: models.WSTypeError, Error: "Unsupported frame type"})
			continue
		}

		turnSession := frame.SessionID
		if turnSession == "" {
			turnSession = sessionID
		}

		ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
		result, err := h.engine.ProcessTurn(ctx, userID, turnSession, frame.Text)
		cancel()
		if err != nil {
			_ = c.WriteJSON(models.WSServerFrame{Type: models.WSTypeError, Error: wsErrorMessage(err)})
			continue
		}

		// Later frames without a session stick to the one just used.
		sessionID = result.SessionID

		if err := c.WriteJSON(models.WSServerFrame{
			Type:      models.WSTypeResponse,
			TurnID:    result.TurnID,
			SessionID: result.SessionID,
			Response:  result.Response,
			Tone:      &result.Tone,
			Degraded:  result.Degraded,
		}); err != nil {
			return
		}
	}
}

func wsErrorMessage(err error) string {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) && appErr.Kind == apperrors.KindValidationFailure {
		return appErr.Message
	}
	return "Something went wrong processing that message"
}
