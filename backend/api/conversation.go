package api

import (
	"net/http"

	"github.com/furisto/parley/backend/agent"
	"github.com/furisto/parley/backend/api/auth"
	"github.com/furisto/parley/backend/memory"
	"github.com/furisto/parley/backend/model"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type ConversationList struct {
	Conversations []*memory.Conversation `json:"chats"`
}

type ConversationDetail struct {
	Conversation *memory.Conversation `json:"chat"`
	Messages     []*model.Message     `json:"messages"`
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	conversations, err := h.conversations.ListConversations(r.Context(), identity.Subject)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if conversations == nil {
		conversations = []*memory.Conversation{}
	}

	writeJSON(w, http.StatusOK, ConversationList{Conversations: conversations})
}

func (h *Handler) getConversation(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chat_id")
		return
	}

	conversation, err := h.conversations.GetConversation(r.Context(), id)
	if memory.IsNotFound(err) || (err == nil && conversation.UserID != identity.Subject) {
		writeError(w, http.StatusNotFound, agent.NotFoundMessage)
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	messages, err := h.conversations.GetMessages(r.Context(), id)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if messages == nil {
		messages = []*model.Message{}
	}

	writeJSON(w, http.StatusOK, ConversationDetail{Conversation: conversation, Messages: messages})
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, memory.SanitizeError(err).Error())
}
