package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestIndexRendersTitle(t *testing.T) {
	r := chi.NewRouter()
	New("Short Bot", zerolog.Nop()).RegisterRoutes(r)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, resp.Body.String(), "<title>Short Bot</title>")
	assert.Contains(t, resp.Body.String(), "/api/chat")
}
