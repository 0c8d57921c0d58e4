package model

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type Image struct {
	MimeType string
	Data     []byte
}

type Message struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"chat_id"`
	Sequence       int64      `json:"sequence"`
	Role           Role       `json:"role"`
	Content        string     `json:"content"`
	Attachments    []string   `json:"attachment_ids,omitempty"`
	Model          string     `json:"model,omitempty"`
	ToolCall       *ToolCall  `json:"tool_call,omitempty"`
	ToolCalls      []ToolCall `json:"tool_calls,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`

	// Images are resolved attachments sent along with the message. They are
	// never persisted.
	Images []Image `json:"-"`
}

func NewMessage(conversationID uuid.UUID, role Role, content string) *Message {
	return &Message{
		ID:             uuid.Must(uuid.NewV7()),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
}

// RequestedToolCalls returns the tool calls an assistant message asks for.
func (m *Message) RequestedToolCalls() []ToolCall {
	if m.Role != RoleAssistant {
		return nil
	}
	if len(m.ToolCalls) > 0 {
		return m.ToolCalls
	}
	if m.ToolCall != nil {
		return []ToolCall{*m.ToolCall}
	}
	return nil
}
