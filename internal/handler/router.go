package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/agent-relay/internal/handler/chat"
	"github.com/zhouzirui/agent-relay/internal/handler/web"
	middlewarePkg "github.com/zhouzirui/agent-relay/internal/middleware"
	"github.com/zhouzirui/agent-relay/pkg/utils"
)

// NewRouter wires HTTP routes to the relay service.
func NewRouter(relaySvc chat.Relay, title string, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger.With().Str("component", "http").Logger()))
	r.Use(middlewarePkg.Recoverer(logger))
	r.Use(middlewarePkg.CORS)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.RespondError(w, http.StatusNotFound, "Resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	web.New(title, logger).RegisterRoutes(r)

	chatHandler := chat.New(relaySvc, logger.With().Str("component", "chat").Logger())

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		chatHandler.RegisterRoutes(api)
	})

	return r
}
