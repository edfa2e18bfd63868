package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/agent-relay/internal/model/chat"
	"github.com/zhouzirui/agent-relay/internal/service/relay"
	"github.com/zhouzirui/agent-relay/pkg/utils"
)

const maxBodyBytes = 1 << 20

// Relay is the chat operation the handler exposes.
type Relay interface {
	Chat(ctx context.Context, req chat.Request) (chat.Response, error)
	ChatStream(ctx context.Context, req chat.Request, emit func(fragment string) error) (chat.Response, error)
}

// Handler serves the chat relay endpoints.
type Handler struct {
	relay    Relay
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// New creates a chat handler.
func New(relaySvc Relay, logger zerolog.Logger) *Handler {
	return &Handler{
		relay:  relaySvc,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the chat routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Post("/chat/stream", h.handleChatStream)
	r.Get("/chat/ws", h.handleWebSocket)
}

// handleChat relays one message and returns the aggregated reply.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r.Body)
	if err != nil {
		h.respondRelayError(w, err)
		return
	}

	resp, err := h.relay.Chat(r.Context(), req)
	if err != nil {
		h.respondRelayError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, resp)
}

// handleChatStream relays one message and forwards fragments as SSE. Errors
// raised before the first fragment are answered with a plain JSON error.
func (h *Handler) handleChatStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	req, err := decodeRequest(r.Body)
	if err != nil {
		h.respondRelayError(w, err)
		return
	}

	started := false
	emit := func(fragment string) error {
		if err := r.Context().Err(); err != nil {
			return err
		}
		if !started {
			utils.SetupSSEHeaders(w)
			w.WriteHeader(http.StatusOK)
			started = true
		}
		return utils.SendSSEEvent(w, flusher, "delta", map[string]string{"content": fragment})
	}

	resp, err := h.relay.ChatStream(r.Context(), req, emit)
	if err != nil {
		if !started {
			h.respondRelayError(w, err)
			return
		}
		_, message := statusFor(err)
		if sendErr := utils.SendSSEEvent(w, flusher, "error", map[string]string{"error": message}); sendErr != nil {
			h.logger.Debug().Err(sendErr).Msg("client left before error event")
		}
		return
	}

	if !started {
		utils.SetupSSEHeaders(w)
		w.WriteHeader(http.StatusOK)
	}
	if err := utils.SendSSEEvent(w, flusher, "message", resp); err != nil {
		h.logger.Debug().Err(err).Msg("client left before final event")
	}
}

func (h *Handler) respondRelayError(w http.ResponseWriter, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Int("status", status).Msg("chat request failed")
	}
	utils.RespondError(w, status, message)
}

// decodeRequest parses the JSON body. Absent, null or malformed bodies are
// reported as relay.ErrNoPayload.
func decodeRequest(body io.Reader) (chat.Request, error) {
	if body == nil {
		return chat.Request{}, relay.ErrNoPayload
	}
	raw, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil {
		return chat.Request{}, relay.ErrNoPayload
	}
	return parseRequest(raw)
}

func parseRequest(raw []byte) (chat.Request, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return chat.Request{}, relay.ErrNoPayload
	}

	var req chat.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return chat.Request{}, relay.ErrNoPayload
	}
	return req, nil
}

// statusFor maps a relay failure onto the HTTP surface.
func statusFor(err error) (int, string) {
	var relayErr *relay.Error
	if !errors.As(err, &relayErr) {
		return http.StatusInternalServerError, "Internal server error"
	}

	switch relayErr.Kind {
	case relay.KindBadRequest:
		return http.StatusBadRequest, relayErr.Message
	case relay.KindUnknownSession:
		return http.StatusNotFound, relayErr.Message
	case relay.KindSessionCreation, relay.KindStreaming:
		return http.StatusInternalServerError, relayErr.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
