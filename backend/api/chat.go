package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/furisto/parley/backend/agent"
	"github.com/furisto/parley/backend/analytics"
	"github.com/furisto/parley/backend/api/auth"
	"github.com/google/uuid"
)

const maxRequestBytes = 1 << 20

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req agent.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flush := func() {}
	if flusher, ok := w.(http.Flusher); ok {
		flush = flusher.Flush
	}
	flush()

	user := agent.User{ID: identity.Subject}
	result, err := h.orchestrator.Run(r.Context(), &req, user, agent.NewNDJSONSink(w, flush))

	conversationID := ""
	if result != nil && result.ConversationID != uuid.Nil {
		conversationID = result.ConversationID.String()
		if result.ConversationCreated {
			analytics.EmitConversationCreated(h.analytics, user.ID, conversationID)
		}
	}

	if err != nil {
		if !errors.Is(err, agent.ErrClientDisconnected) && r.Context().Err() == nil {
			h.logger.DebugContext(r.Context(), "chat turn failed", "user_id", user.ID, "error", err)
		}
		analytics.EmitTurnFailed(h.analytics, user.ID, conversationID, agent.Outcome(err))
		return
	}

	analytics.EmitTurnCompleted(h.analytics, user.ID, conversationID, result.Model, result.Fallback, result.RoundTrips)
}
