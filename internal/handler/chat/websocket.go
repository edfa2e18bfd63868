package chat

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// Frame is one server-to-client WebSocket message.
type Frame struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	Response  string `json:"response,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleWebSocket relays every inbound request on the socket. The session
// created by the first exchange is reused when later requests omit it.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx := r.Context()
	var sessionID string

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}

		req, err := parseRequest(payload)
		if err != nil {
			if writeErr := conn.WriteJSON(Frame{Type: "error", Error: err.Error()}); writeErr != nil {
				return
			}
			continue
		}
		if req.SessionID == "" {
			req.SessionID = sessionID
		}

		resp, err := h.relay.ChatStream(ctx, req, func(fragment string) error {
			return conn.WriteJSON(Frame{Type: "delta", Content: fragment})
		})

		frame := Frame{Type: "message", Response: resp.Response, SessionID: resp.SessionID}
		if err != nil {
			_, message := statusFor(err)
			frame = Frame{Type: "error", Error: message, SessionID: req.SessionID}
		} else {
			sessionID = resp.SessionID
		}

		if err := conn.WriteJSON(frame); err != nil {
			h.logger.Debug().Err(err).Msg("websocket write failed")
			return
		}
	}
}
