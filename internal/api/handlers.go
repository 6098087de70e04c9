// Package api exposes sessions, publishing and cookie management over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/rednote-publisher/internal/browser"
	"github.com/shehryarbajwa/rednote-publisher/internal/publish"
	"github.com/shehryarbajwa/rednote-publisher/internal/session"
	"github.com/shehryarbajwa/rednote-publisher/pkg/models"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	sessions  *session.Registry
	publisher *publish.Service
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(sessions *session.Registry, publisher *publish.Service, logger *zap.Logger) *Handler {
	return &Handler{
		sessions:  sessions,
		publisher: publisher,
		logger:    logger.Named("api"),
	}
}

// CreateSession handles POST /v1/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id, err := h.sessions.CreateSession(r.Context(), req)
	if err != nil {
		h.logger.Warn("Failed to create session", zap.String("username", req.Username), zap.Error(err))
		writeError(w, sessionErrorStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, models.CreateSessionResponse{
		ID:     id,
		Status: models.StateInitializing,
	})
}

// GetSession handles GET /v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	status, err := h.sessions.CheckSession(r.Context(), id)
	if err != nil {
		writeError(w, sessionErrorStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// ListSessions handles GET /v1/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessions.ListSessions()

	if state := r.URL.Query().Get("status"); state != "" {
		filtered := sessions[:0]
		for _, s := range sessions {
			if string(s.State) == state {
				filtered = append(filtered, s)
			}
		}
		sessions = filtered
	}

	writeJSON(w, http.StatusOK, sessions)
}

// DeleteSession handles DELETE /v1/sessions/{id}
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	logout := r.URL.Query().Get("logout") == "true"

	if err := h.sessions.RemoveSession(r.Context(), id, logout); err != nil {
		writeError(w, sessionErrorStatus(err), err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Publish handles POST /v1/publish
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	var req models.PublishRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.publisher.Publish(r.Context(), req.Username, jobFromRequest(req), nil)
	if err != nil {
		writeJSON(w, publishErrorStatus(res.ErrorKind), res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func jobFromRequest(req models.PublishRequest) publish.Job {
	return publish.Job{
		Title:  req.Title,
		Body:   req.Content,
		Images: req.Images,
		Video:  req.Video,
		Cover:  req.Cover,
		Tags:   req.Tags,
	}
}

func sessionErrorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, browser.ErrPoolExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func publishErrorStatus(kind publish.Kind) int {
	switch kind {
	case publish.KindValidation:
		return http.StatusBadRequest
	case publish.KindAuthInvalid:
		return http.StatusUnauthorized
	case publish.KindContentLength, publish.KindPublishRejected:
		return http.StatusUnprocessableEntity
	case publish.KindUploadTimeout, publish.KindPublishTimeout:
		return http.StatusGatewayTimeout
	case publish.KindMediaFetch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
