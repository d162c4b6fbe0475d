package exports

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/hms-platform/internal/identity"
	"github.com/wolfman30/hms-platform/internal/scheduling"
	"github.com/wolfman30/hms-platform/pkg/logging"
)

// Handler exposes export requests over HTTP.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

type createRequest struct {
	PatientID   uuid.UUID `json:"patientId"`
	NotifyEmail *bool     `json:"notifyEmail"`
}

// Create handles POST /patients/me/exports. The body is optional; e-mail
// notification defaults to on.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req createRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, r, scheduling.ValidationError("invalid request body"))
			return
		}
	}
	notify := req.NotifyEmail == nil || *req.NotifyEmail
	job, err := h.service.Request(r.Context(), actor, req.PatientID, notify)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// Get handles GET /exports/{jobID}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	job, err := h.service.Get(r.Context(), actor, chi.URLParam(r, "jobID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (scheduling.Actor, bool) {
	p, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return scheduling.Actor{}, false
	}
	actor, err := scheduling.ActorFromPrincipal(p)
	if err != nil {
		h.writeError(w, r, err)
		return scheduling.Actor{}, false
	}
	return actor, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := scheduling.StatusFor(err)
	body := map[string]string{"code": string(scheduling.KindOf(err))}
	var se *scheduling.Error
	if errors.As(err, &se) {
		body["message"] = se.Message
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("export request failed", "error", err, "path", r.URL.Path)
		body = map[string]string{"code": "internal", "message": "internal error"}
	}
	writeJSON(w, status, map[string]any{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
