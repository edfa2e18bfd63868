package web

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// Handler serves the browser landing page.
type Handler struct {
	title  string
	logger zerolog.Logger
}

// New creates the landing page handler.
func New(title string, logger zerolog.Logger) *Handler {
	if title == "" {
		title = "Agent Chat"
	}
	return &Handler{title: title, logger: logger}
}

// RegisterRoutes mounts the page at /.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleIndex)
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, map[string]string{"Title": h.title}); err != nil {
		h.logger.Error().Err(err).Msg("failed to render index page")
	}
}
