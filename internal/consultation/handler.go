package consultation

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Handler exposes the consultation service over HTTP.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

func NewHandler(service *Service) *Handler {
	return &Handler{
		service:  service,
		validate: validator.New(),
	}
}

// RegisterRoutes mounts the consultation endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/consultation", func(r chi.Router) {
		r.Post("/message", h.handleMessage)
		r.Get("/{sessionID}", h.handleGet)
		r.Get("/{sessionID}/history", h.handleHistory)
		r.Delete("/{sessionID}", h.handleDelete)
	})
	r.Get("/api/health", h.handleHealth)
}

func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	resp, err := h.service.ProcessTurn(r.Context(), req)
	if err != nil {
		slog.Error("failed to process turn", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process message")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	st, err := h.service.Get(sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "consultation not found")
			return
		}
		slog.Error("failed to load consultation", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load consultation")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	st, err := h.service.Get(sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "consultation not found")
			return
		}
		slog.Error("failed to load consultation", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load consultation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": st.SessionID,
		"stage":      st.Stage,
		"messages":   st.MessageHistory,
	})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if !h.service.Delete(sessionID) {
		writeError(w, http.StatusNotFound, "consultation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": h.service.ActiveSessions(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
