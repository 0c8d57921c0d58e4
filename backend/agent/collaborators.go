package agent

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/furisto/parley/backend/memory"
	"github.com/furisto/parley/backend/model"
	"github.com/google/uuid"
)

const maxTitleLength = 30

// User is the authenticated caller of a turn.
type User struct {
	ID string
}

type ChatRequest struct {
	ChatID          *uuid.UUID `json:"chat_id,omitempty"`
	Content         string     `json:"content"`
	AttachmentIDs   []string   `json:"attachment_ids,omitempty"`
	DeepReasoning   bool       `json:"deep_reasoning,omitempty"`
	ConfigurationID *uuid.UUID `json:"configuration_id,omitempty"`
	SearchEnabled   *bool      `json:"is_search_enabled,omitempty"`
}

func (r *ChatRequest) Validate() error {
	if r == nil {
		return errors.New("request is required")
	}
	if strings.TrimSpace(r.Content) == "" {
		return errors.New("content is required")
	}
	for _, id := range r.AttachmentIDs {
		if _, err := uuid.Parse(id); err != nil {
			return errors.New("attachment ids must be uuids")
		}
	}
	return nil
}

func (r *ChatRequest) searchEnabled() bool {
	return r.SearchEnabled == nil || *r.SearchEnabled
}

func (r *ChatRequest) title() string {
	if utf8.RuneCountInString(r.Content) <= maxTitleLength {
		return r.Content
	}
	return string([]rune(r.Content)[:maxTitleLength])
}

type HistoryStore interface {
	GetConversation(ctx context.Context, id uuid.UUID) (*memory.Conversation, error)
	CreateConversation(ctx context.Context, conversation *memory.Conversation) error
	GetMessages(ctx context.Context, conversationID uuid.UUID) ([]*model.Message, error)
	InsertMessages(ctx context.Context, messages []*model.Message) error
}

type SystemPromptResolver interface {
	ResolveSystemPrompt(ctx context.Context, req *ChatRequest, user User) (string, error)
}

// RateLimiter returns a non empty message when the user may not start
// another turn.
type RateLimiter interface {
	CheckLimit(ctx context.Context, userID string) (string, error)
}

type ToolExecutor interface {
	Supports(name string) bool
	Definitions() []model.ToolDefinition
	Execute(ctx context.Context, call model.ToolCall) (string, error)
}

type AttachmentResolver interface {
	Images(ctx context.Context, ids []string) ([]model.Image, error)
}
