package directory

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/medicare-plus/pkg/logging"
)

// Handler serves the specialization catalogue and doctor roster.
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

// SpecializationRoutes mounts under /api/specializations.
func (h *Handler) SpecializationRoutes(r chi.Router) {
	r.Get("/", h.ListSpecializations)
	r.Post("/", h.CreateSpecialization)
}

// DoctorRoutes mounts under /api/appointments/doctors.
func (h *Handler) DoctorRoutes(r chi.Router) {
	r.Get("/", h.ListDoctors)
	r.Get("/{id}", h.GetDoctor)
}

// ListSpecializations handles GET /api/specializations
func (h *Handler) ListSpecializations(w http.ResponseWriter, r *http.Request) {
	specs, err := h.service.ListSpecializations(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, specs)
}

// CreateSpecialization handles POST /api/specializations
func (h *Handler) CreateSpecialization(w http.ResponseWriter, r *http.Request) {
	var in SpecializationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	spec, err := h.service.CreateSpecialization(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, spec)
}

// ListDoctors handles GET /api/appointments/doctors?specialization=
func (h *Handler) ListDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.service.ListDoctors(r.Context(), r.URL.Query().Get("specialization"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doctors)
}

// GetDoctor handles GET /api/appointments/doctors/{id}
func (h *Handler) GetDoctor(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.GetDoctor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNameRequired):
		writeMessage(w, http.StatusBadRequest, "Name is required")
	case errors.Is(err, ErrSpecializationExists):
		writeMessage(w, http.StatusConflict, "Specialization already exists")
	case errors.Is(err, ErrDoctorNotFound):
		writeMessage(w, http.StatusNotFound, "Doctor not found")
	default:
		h.logger.Error("directory request failed", "error", err)
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
