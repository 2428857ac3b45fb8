package reminders

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/medicare-plus/internal/accounts"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

// Handler exposes the manual reminder trigger.
type Handler struct {
	worker *Worker
	now    func() time.Time
	logger *logging.Logger
}

// NewHandler creates the reminder HTTP handler.
func NewHandler(worker *Worker, now func() time.Time, logger *logging.Logger) *Handler {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{worker: worker, now: now, logger: logger}
}

// Routes mounts under /api/notifications.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/reminders", h.trigger)
}

type triggerResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	TotalFound int    `json:"totalFound"`
}

func (h *Handler) trigger(w http.ResponseWriter, r *http.Request) {
	actor, ok := accounts.ActorFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Not authorized"})
		return
	}
	if actor.Role != accounts.RoleAdmin {
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "Admin access required"})
		return
	}

	res, err := h.worker.SendDue(r.Context(), h.now())
	if err != nil {
		h.logger.Error("reminder trigger failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"message": "Failed to send reminders",
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, triggerResponse{
		Success:    true,
		Message:    fmt.Sprintf("Sent %d reminders", res.Sent),
		TotalFound: res.TotalFound,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
