package test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/furisto/parley/backend/memory"
	"github.com/furisto/parley/backend/model"
	"github.com/google/uuid"
)

const UserID = "user-1"

var (
	ConfigurationID = uuid.MustParse("0195fc02-59ef-7194-93d5-387400b068cb")
	ConversationID  = uuid.MustParse("0195fbbe-0be8-74b1-af7a-6e76e80e2462")
	MessageID       = uuid.MustParse("0195fbbd-757d-7db6-83c2-f556128b4586")
)

// NewStore opens an in-memory store that is closed when the test ends.
func NewStore(t *testing.T) *memory.Store {
	t.Helper()

	store, err := memory.Open(context.Background(), ":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

type entityBuilder struct {
	db *memory.Store
	t  *testing.T
}

func newEntityBuilder(t *testing.T, db *memory.Store) *entityBuilder {
	if t == nil {
		panic("testing.T is required")
	}

	if db == nil {
		t.Fatal("memory store is required")
	}

	return &entityBuilder{
		t:  t,
		db: db,
	}
}

type ConfigurationBuilder struct {
	*entityBuilder
	configurationID uuid.UUID

	userID      string
	aiName      string
	userName    string
	description string
	role        string
	summary     string
}

func NewConfigurationBuilder(t *testing.T, db *memory.Store) *ConfigurationBuilder {
	return &ConfigurationBuilder{
		entityBuilder:   newEntityBuilder(t, db),
		configurationID: ConfigurationID,
		userID:          UserID,
		aiName:          "Ada",
		userName:        "Sam",
		description:     "curious, patient",
		role:            "tutor",
	}
}

func (b *ConfigurationBuilder) WithSummary(summary string) *ConfigurationBuilder {
	b.summary = summary
	return b
}

func (b *ConfigurationBuilder) WithUser(userID string) *ConfigurationBuilder {
	b.userID = userID
	return b
}

func (b *ConfigurationBuilder) Build(ctx context.Context) *memory.Configuration {
	configuration := &memory.Configuration{
		ID:          b.configurationID,
		UserID:      b.userID,
		AIName:      b.aiName,
		UserName:    b.userName,
		Description: b.description,
		Role:        b.role,
		Summary:     b.summary,
	}

	if err := b.db.CreateConfiguration(ctx, configuration); err != nil {
		b.t.Fatalf("failed to create configuration: %v", err)
	}

	return configuration
}

type ConversationBuilder struct {
	*entityBuilder
	conversationID uuid.UUID

	userID          string
	title           string
	configurationID *uuid.UUID
	createdAt       time.Time
}

func NewConversationBuilder(t *testing.T, db *memory.Store) *ConversationBuilder {
	return &ConversationBuilder{
		entityBuilder:  newEntityBuilder(t, db),
		conversationID: ConversationID,
		userID:         UserID,
		title:          "test conversation",
	}
}

func (b *ConversationBuilder) WithID(id uuid.UUID) *ConversationBuilder {
	b.conversationID = id
	return b
}

func (b *ConversationBuilder) WithUser(userID string) *ConversationBuilder {
	b.userID = userID
	return b
}

func (b *ConversationBuilder) WithConfiguration(configuration *memory.Configuration) *ConversationBuilder {
	b.configurationID = &configuration.ID
	return b
}

func (b *ConversationBuilder) WithCreatedAt(createdAt time.Time) *ConversationBuilder {
	b.createdAt = createdAt
	return b
}

func (b *ConversationBuilder) Build(ctx context.Context) *memory.Conversation {
	conversation := &memory.Conversation{
		ID:              b.conversationID,
		UserID:          b.userID,
		Title:           b.title,
		ConfigurationID: b.configurationID,
		CreatedAt:       b.createdAt,
	}

	if err := b.db.CreateConversation(ctx, conversation); err != nil {
		b.t.Fatalf("failed to create conversation: %v", err)
	}

	return conversation
}

type MessageBuilder struct {
	*entityBuilder
	messageID uuid.UUID

	conversationID uuid.UUID
	role           model.Role
	content        string
	modelName      string
	createdAt      time.Time
}

func NewMessageBuilder(t *testing.T, db *memory.Store, conversation *memory.Conversation) *MessageBuilder {
	if conversation == nil {
		t.Fatal("conversation is required")
	}

	return &MessageBuilder{
		entityBuilder:  newEntityBuilder(t, db),
		messageID:      MessageID,
		conversationID: conversation.ID,
		role:           model.RoleUser,
		content:        "test message",
	}
}

func (b *MessageBuilder) WithID(id uuid.UUID) *MessageBuilder {
	b.messageID = id
	return b
}

func (b *MessageBuilder) WithRole(role model.Role) *MessageBuilder {
	b.role = role
	return b
}

func (b *MessageBuilder) WithContent(content string) *MessageBuilder {
	b.content = content
	return b
}

func (b *MessageBuilder) WithModel(modelName string) *MessageBuilder {
	b.modelName = modelName
	return b
}

func (b *MessageBuilder) WithCreatedAt(createdAt time.Time) *MessageBuilder {
	b.createdAt = createdAt
	return b
}

func (b *MessageBuilder) Build(ctx context.Context) *model.Message {
	message := &model.Message{
		ID:             b.messageID,
		ConversationID: b.conversationID,
		Role:           b.role,
		Content:        b.content,
		Model:          b.modelName,
		CreatedAt:      b.createdAt,
	}

	if err := b.db.InsertMessages(ctx, []*model.Message{message}); err != nil {
		b.t.Fatalf("failed to create message: %v", err)
	}

	return message
}
