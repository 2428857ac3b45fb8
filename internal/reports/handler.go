package reports

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/medicare-plus/internal/accounts"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

// Handler serves /api/reports.
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

// Routes mounts the handler under /api/reports.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/appointment/{id}", h.ByAppointment)
	r.Get("/patient/{id}", h.ByPatient)
	r.Get("/doctor/me", h.Mine)
}

// Create handles POST /api/reports
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := accounts.ActorFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Not authorized")
		return
	}
	var in CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	detail, err := h.service.Create(r.Context(), actor, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

// ByAppointment handles GET /api/reports/appointment/{id}
func (h *Handler) ByAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := accounts.ActorFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Not authorized")
		return
	}
	detail, err := h.service.ByAppointment(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// ByPatient handles GET /api/reports/patient/{id}
func (h *Handler) ByPatient(w http.ResponseWriter, r *http.Request) {
	actor, ok := accounts.ActorFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Not authorized")
		return
	}
	details, err := h.service.ByPatient(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// Mine handles GET /api/reports/doctor/me
func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	actor, ok := accounts.ActorFromContext(r.Context())
	if !ok || actor.Role != accounts.RoleDoctor {
		writeMessage(w, http.StatusForbidden, "Only doctors can list their reports")
		return
	}
	details, err := h.service.ByDoctor(r.Context(), actor.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var validation *ValidationError
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"message": validation.Message,
			"field":   validation.Field,
		})
	case errors.Is(err, ErrForbidden):
		writeMessage(w, http.StatusForbidden, "Not authorized to access this report")
	case errors.Is(err, ErrAppointmentNotFound):
		writeMessage(w, http.StatusNotFound, "Appointment not found")
	case errors.Is(err, ErrReportNotFound):
		writeMessage(w, http.StatusNotFound, "Report not found")
	case errors.Is(err, ErrReportExists):
		writeMessage(w, http.StatusConflict, "A report already exists for this appointment")
	default:
		h.logger.Error("reports request failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
