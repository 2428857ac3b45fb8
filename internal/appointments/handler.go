package appointments

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/medicare-plus/internal/accounts"
	"github.com/wolfman30/medicare-plus/internal/store"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

// Handler exposes booking and cancellation over HTTP.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

// NewHandler creates a new appointments handler
func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Routes mounts the handler under /api/appointments.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/book", h.Book)
	r.Get("/slots", h.SlotStatus)
	r.Post("/cancel/{id}", h.Cancel)
	r.Post("/cancel-all", h.CancelAll)
}

// Book handles POST /api/appointments/book
func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	actor, ok := accounts.ActorFromContext(r.Context())
	if !ok || actor.Role != accounts.RolePatient {
		writeMessage(w, http.StatusForbidden, "Only patients can book appointments")
		return
	}

	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	appt, err := h.service.Book(r.Context(), actor.ID, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":     "Appointment booked successfully",
		"appointment": appt,
	})
}

// SlotStatus handles GET /api/appointments/slots?doctorId=&date=
func (h *Handler) SlotStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	doctorID := firstNonEmpty(q.Get("doctorId"), q.Get("doctor_id"))
	rawDate := q.Get("date")
	if doctorID == "" || rawDate == "" {
		writeMessage(w, http.StatusBadRequest, "Doctor ID and Date are required")
		return
	}
	date, err := store.ParseDate(rawDate)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	counts, err := h.service.Allocator().SlotStatus(r.Context(), doctorID, date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// Cancel handles POST /api/appointments/cancel/{id}
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := accounts.ActorFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Not authorized")
		return
	}

	result, err := h.service.Cancel(r.Context(), CancelRequest{
		AppointmentID: chi.URLParam(r, "id"),
		Actor:         actor,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CancelAll handles POST /api/appointments/cancel-all
func (h *Handler) CancelAll(w http.ResponseWriter, r *http.Request) {
	actor, ok := accounts.ActorFromContext(r.Context())
	if !ok || actor.Role != accounts.RoleDoctor {
		writeMessage(w, http.StatusForbidden, "Only doctors can cancel all appointments")
		return
	}

	result, err := h.service.CancelAll(r.Context(), actor.ID, h.service.now())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// List handles GET /api/appointments
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := accounts.ActorFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Not authorized")
		return
	}
	appts, err := h.service.ListForActor(r.Context(), actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appts)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var tooLate *SomeTooLateError
	var validation *ValidationError
	switch {
	case errors.As(err, &tooLate):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"message": "Cannot cancel all. Some appointments are within 2 hours.",
			"count":   tooLate.Count,
		})
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"message": validation.Message,
			"field":   validation.Field,
		})
	case errors.Is(err, store.ErrCapacityExceeded):
		writeMessage(w, http.StatusBadRequest, "Slot is fully booked")
	case errors.Is(err, store.ErrDuplicateBooking):
		writeMessage(w, http.StatusBadRequest, "You have already booked this slot")
	case errors.Is(err, ErrTooLate):
		writeMessage(w, http.StatusBadRequest, "Cannot cancel appointments within 2 hours of start time.")
	case errors.Is(err, ErrForbidden):
		writeMessage(w, http.StatusForbidden, "Not authorized to cancel this appointment")
	case errors.Is(err, ErrAppointmentNotFound):
		writeMessage(w, http.StatusNotFound, "Appointment not found")
	case errors.Is(err, ErrDoctorNotFound):
		writeMessage(w, http.StatusNotFound, "Doctor not found")
	case errors.Is(err, ErrAlreadyCancelled):
		writeMessage(w, http.StatusConflict, "Appointment is already cancelled")
	case errors.Is(err, ErrNotCancellable):
		writeMessage(w, http.StatusConflict, "Completed appointments cannot be cancelled")
	case errors.Is(err, store.ErrNotActive):
		writeMessage(w, http.StatusConflict, "Appointments changed while cancelling, please retry")
	default:
		h.logger.Error("appointments request failed", "error", err)
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

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
