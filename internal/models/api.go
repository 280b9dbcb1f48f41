package models

// ChatRequest is the POST /api/v1/chat body. SessionID is optional; a
// new session is created when it is empty.
type ChatRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// ChatResponse is returned for both the REST and WebSocket chat paths.
// Degraded is true when the turn ran without one or more memory tiers
// or when persistence failed after the response was generated.
type ChatResponse struct {
	TurnID    string      `json:"turn_id"`
	SessionID string      `json:"session_id"`
	Response  string      `json:"response"`
	Tone      *ToneResult `json:"tone,omitempty"`
	Degraded  bool        `json:"degraded,omitempty"`
}

// WebSocket frame types for /ws/chat.
const (
	WSTypeMessage  = "message"
	WSTypeResponse = "response"
	WSTypeError    = "error"
)

// WSClientFrame is one inbound WebSocket frame.
type WSClientFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
}

// WSServerFrame is one outbound WebSocket frame.
type WSServerFrame struct {
	Type      string      `json:"type"`
	TurnID    string      `json:"turn_id,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Response  string      `json:"response,omitempty"`
	Tone      *ToneResult `json:"tone,omitempty"`
	Degraded  bool        `json:"degraded,omitempty"`
	Error     string      `json:"error,omitempty"`
}
