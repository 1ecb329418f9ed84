package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mesura-ai/mesura/internal/log"
	"github.com/mesura-ai/mesura/internal/store"
)

const (
	defaultConversationPageSize = 50
	maxConversationPageSize     = 200
	messagePageSize             = 500
)

// ConversationReader is the read surface the SPA needs to render persisted
// state.
type ConversationReader interface {
	GetConversation(ctx context.Context, id uuid.UUID) (*store.Conversation, error)
	ListConversations(ctx context.Context, ownerID uuid.UUID, limit, offset int32) ([]*store.Conversation, error)
	Messages(ctx context.Context, conversationID uuid.UUID, limit int32) ([]*store.Message, error)
}

type conversationHandler struct {
	store  ConversationReader
	logger log.Logger
}

type conversationDTO struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type messageDTO struct {
	ID        uuid.UUID      `json:"id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	FileID    *uuid.UUID     `json:"fileId,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// list handles GET /api/v1/conversations, newest activity first.
func (h *conversationHandler) list(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized", h.logger)
		return
	}

	limit := int32(defaultConversationPageSize)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 32); err == nil && n > 0 {
			limit = min(int32(n), maxConversationPageSize)
		}
	}
	var offset int32
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 32); err == nil && n >= 0 {
			offset = int32(n)
		}
	}

	conversations, err := h.store.ListConversations(r.Context(), user.ID, limit, offset)
	if err != nil {
		h.logger.Error("list conversations", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", h.logger)
		return
	}

	out := make([]conversationDTO, 0, len(conversations))
	for _, c := range conversations {
		out = append(out, conversationDTO{
			ID:        c.ID,
			Title:     c.Title,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		})
	}
	writeData(w, http.StatusOK, out, h.logger)
}

// messages handles GET /api/v1/conversations/{id}/messages in
// chronological order. A conversation owned by someone else reads as not
// found.
func (h *conversationHandler) messages(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized", h.logger)
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid conversation id", h.logger)
		return
	}

	conv, err := h.store.GetConversation(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "conversation not found", h.logger)
			return
		}
		h.logger.Error("get conversation", "conversation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", h.logger)
		return
	}
	if conv.OwnerID != user.ID {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "conversation not found", h.logger)
		return
	}

	messages, err := h.store.Messages(r.Context(), id, messagePageSize)
	if err != nil {
		h.logger.Error("fetch messages", "conversation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", h.logger)
		return
	}

	out := make([]messageDTO, 0, len(messages))
	for _, m := range messages {
		out = append(out, messageDTO{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Metadata:  m.Metadata,
			FileID:    m.FileID,
			CreatedAt: m.CreatedAt,
		})
	}
	writeData(w, http.StatusOK, out, h.logger)
}
