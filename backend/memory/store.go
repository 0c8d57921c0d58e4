package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/furisto/parley/backend/model"
	"github.com/google/uuid"
)

type Conversation struct {
	ID              uuid.UUID  `json:"id"`
	UserID          string     `json:"user_id"`
	Title           string     `json:"title"`
	ConfigurationID *uuid.UUID `json:"configuration_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Configuration is a persona the assistant adopts in a conversation.
type Configuration struct {
	ID          uuid.UUID `json:"id"`
	UserID      string    `json:"user_id"`
	AIName      string    `json:"ai_name"`
	UserName    string    `json:"user_name"`
	Description string    `json:"description"`
	Role        string    `json:"role"`
	Summary     string    `json:"summary,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the SQLite database at path and creates the schema. The special
// path ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) CreateConversation(ctx context.Context, conversation *Conversation) error {
	now := time.Now().UTC()
	if conversation.ID == uuid.Nil {
		conversation.ID = uuid.Must(uuid.NewV7())
	}
	if conversation.CreatedAt.IsZero() {
		conversation.CreatedAt = now
	}
	conversation.UpdatedAt = conversation.CreatedAt

	var configurationID sql.NullString
	if conversation.ConfigurationID != nil {
		configurationID = sql.NullString{String: conversation.ConfigurationID.String(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title, configuration_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		conversation.ID.String(), conversation.UserID, conversation.Title, configurationID,
		conversation.CreatedAt.UnixMilli(), conversation.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("memory: failed to create conversation: %w", err)
	}

	return nil
}

func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, configuration_id, created_at, updated_at FROM conversations WHERE id = ?`,
		id.String(),
	)

	conversation, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "conversation", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("memory: failed to get conversation: %w", err)
	}

	return conversation, nil
}

// ListConversations returns the conversations of a user, most recently
// active first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, configuration_id, created_at, updated_at FROM conversations
		 WHERE user_id = ? ORDER BY updated_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("memory: failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conversation)
	}

	return conversations, rows.Err()
}

func (s *Store) GetMessages(ctx context.Context, conversationID uuid.UUID) ([]*model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, sequence, role, content, attachments, model, tool_call, tool_calls, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY sequence`,
		conversationID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("memory: failed to get messages: %w", err)
	}
	defer rows.Close()

	var messages []*model.Message
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("memory: failed to scan message: %w", err)
		}
		messages = append(messages, message)
	}

	return messages, rows.Err()
}

// InsertMessages appends messages in one transaction. Each message receives
// the next sequence number of its conversation in batch order.
func (s *Store) InsertMessages(ctx context.Context, messages []*model.Message) (err error) {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.ErrorContext(ctx, "failed to roll back message insert", "error", rbErr)
			}
		}
	}()

	next := make(map[uuid.UUID]int64)
	assigned := make([]int64, len(messages))
	for i, message := range messages {
		sequence, ok := next[message.ConversationID]
		if !ok {
			var last sql.NullInt64
			err = tx.QueryRowContext(ctx,
				`SELECT MAX(sequence) FROM messages WHERE conversation_id = ?`,
				message.ConversationID.String(),
			).Scan(&last)
			if err != nil {
				return fmt.Errorf("memory: failed to read sequence: %w", err)
			}
			sequence = last.Int64 + 1
		}

		if err = insertMessage(ctx, tx, message, sequence); err != nil {
			return err
		}
		assigned[i] = sequence
		next[message.ConversationID] = sequence + 1
	}

	now := time.Now().UTC().UnixMilli()
	for conversationID := range next {
		if _, err = tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID.String()); err != nil {
			return fmt.Errorf("memory: failed to touch conversation: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("memory: failed to commit messages: %w", err)
	}

	for i, message := range messages {
		message.Sequence = assigned[i]
	}
	return nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, message *model.Message, sequence int64) error {
	if message.ID == uuid.Nil {
		message.ID = uuid.Must(uuid.NewV7())
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	attachments := message.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	attachmentsJSON, err := json.Marshal(attachments)
	if err != nil {
		return fmt.Errorf("memory: failed to encode attachments: %w", err)
	}

	toolCall, err := nullJSON(message.ToolCall, message.ToolCall == nil)
	if err != nil {
		return err
	}
	toolCalls, err := nullJSON(message.ToolCalls, len(message.ToolCalls) == 0)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sequence, role, content, attachments, model, tool_call, tool_calls, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.ID.String(), message.ConversationID.String(), sequence, string(message.Role), message.Content,
		string(attachmentsJSON), message.Model, toolCall, toolCalls, message.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("memory: failed to insert message: %w", err)
	}

	return nil
}

func nullJSON(v any, isNull bool) (sql.NullString, error) {
	if isNull {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("memory: failed to encode tool call: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// CountUserMessagesSince counts the messages a user sent across all of their
// conversations since the given time.
func (s *Store) CountUserMessagesSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages m JOIN conversations c ON c.id = m.conversation_id
		 WHERE c.user_id = ? AND m.role = 'user' AND m.created_at >= ?`,
		userID, since.UTC().UnixMilli(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("memory: failed to count messages: %w", err)
	}
	return count, nil
}

func (s *Store) CreateConfiguration(ctx context.Context, configuration *Configuration) error {
	if configuration.ID == uuid.Nil {
		configuration.ID = uuid.Must(uuid.NewV7())
	}
	if configuration.CreatedAt.IsZero() {
		configuration.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO configurations (id, user_id, ai_name, user_name, description, role, summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		configuration.ID.String(), configuration.UserID, configuration.AIName, configuration.UserName,
		configuration.Description, configuration.Role, configuration.Summary, configuration.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("memory: failed to create configuration: %w", err)
	}
	return nil
}

// GetConfiguration returns a configuration owned by userID.
func (s *Store) GetConfiguration(ctx context.Context, id uuid.UUID, userID string) (*Configuration, error) {
	configuration := &Configuration{}
	var rawID string
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, ai_name, user_name, description, role, summary, created_at
		 FROM configurations WHERE id = ? AND user_id = ?`,
		id.String(), userID,
	).Scan(&rawID, &configuration.UserID, &configuration.AIName, &configuration.UserName,
		&configuration.Description, &configuration.Role, &configuration.Summary, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "configuration", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("memory: failed to get configuration: %w", err)
	}

	configuration.ID = uuid.MustParse(rawID)
	configuration.CreatedAt = time.UnixMilli(createdAt).UTC()
	return configuration, nil
}

func (s *Store) UpdateConfigurationSummary(ctx context.Context, id uuid.UUID, summary string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE configurations SET summary = ? WHERE id = ?`, summary, id.String())
	if err != nil {
		return fmt.Errorf("memory: failed to update summary: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &NotFoundError{Entity: "configuration", ID: id.String()}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*Conversation, error) {
	var (
		id, configurationID  sql.NullString
		createdAt, updatedAt int64
		conversation         Conversation
	)
	if err := row.Scan(&id, &conversation.UserID, &conversation.Title, &configurationID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id.String)
	if err != nil {
		return nil, err
	}
	conversation.ID = parsed
	if configurationID.Valid {
		configuration, err := uuid.Parse(configurationID.String)
		if err != nil {
			return nil, err
		}
		conversation.ConfigurationID = &configuration
	}
	conversation.CreatedAt = time.UnixMilli(createdAt).UTC()
	conversation.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	return &conversation, nil
}

func scanMessage(row scanner) (*model.Message, error) {
	var (
		id, conversationID, role, attachments string
		toolCall, toolCalls                   sql.NullString
		createdAt                             int64
		message                               model.Message
	)
	err := row.Scan(&id, &conversationID, &message.Sequence, &role, &message.Content, &attachments,
		&message.Model, &toolCall, &toolCalls, &createdAt)
	if err != nil {
		return nil, err
	}

	if message.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if message.ConversationID, err = uuid.Parse(conversationID); err != nil {
		return nil, err
	}
	message.Role = model.Role(role)
	message.CreatedAt = time.UnixMilli(createdAt).UTC()

	if strings.TrimSpace(attachments) != "" && attachments != "[]" {
		if err := json.Unmarshal([]byte(attachments), &message.Attachments); err != nil {
			return nil, err
		}
	}
	if toolCall.Valid {
		message.ToolCall = &model.ToolCall{}
		if err := json.Unmarshal([]byte(toolCall.String), message.ToolCall); err != nil {
			return nil, err
		}
	}
	if toolCalls.Valid {
		if err := json.Unmarshal([]byte(toolCalls.String), &message.ToolCalls); err != nil {
			return nil, err
		}
	}

	return &message, nil
}
