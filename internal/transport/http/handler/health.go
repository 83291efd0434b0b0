package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-otp-auth/internal/domain"
)

// HealthHandler handles health-check endpoints.
type HealthHandler struct{}

func NewHealthHandler() *HealthHandler { return &HealthHandler{} }

func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	if action == "ping" {
		writeOK(w, http.StatusOK, "pong", nil)
		return
	}
	writeFail(w, http.StatusBadRequest, domain.CodeBadRequest, "unknown action")
}
