package assistant

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/medicare-plus/internal/accounts"
	"github.com/wolfman30/medicare-plus/internal/store"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

// Handler serves /api/chat.
type Handler struct {
	chat   *ChatService
	logger *logging.Logger
}

func NewHandler(chat *ChatService, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{chat: chat, logger: logger}
}

// Routes mounts the handler under /api/chat.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Ask)
	r.Get("/history", h.History)
}

type askRequest struct {
	Message string `json:"message"`
}

// Ask handles POST /api/chat
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	actor, ok := accounts.ActorFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Not authorized"})
		return
	}
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	reply, err := h.chat.Ask(r.Context(), actor, req.Message)
	if err != nil {
		if errors.Is(err, ErrMessageRequired) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Message is required"})
			return
		}
		h.logger.Error("chat request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": reply})
}

type historyMessage struct {
	Role store.ChatRole `json:"role"`
	Text string         `json:"text"`
}

// History handles GET /api/chat/history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	actor, ok := accounts.ActorFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Not authorized"})
		return
	}
	msgs, err := h.chat.History(r.Context(), actor.ID)
	if err != nil {
		h.logger.Error("chat history failed", "user_id", actor.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch history"})
		return
	}
	out := make([]historyMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, historyMessage{Role: m.Role, Text: m.Text})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
