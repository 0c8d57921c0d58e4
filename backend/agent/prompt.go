package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/furisto/parley/backend/memory"
	"github.com/google/uuid"
)

const DefaultSystemPrompt = "You are a helpful assistant."

type ConfigurationStore interface {
	GetConfiguration(ctx context.Context, id uuid.UUID, userID string) (*memory.Configuration, error)
}

// PromptResolver builds the system prompt from the persona configuration
// referenced by a request.
type PromptResolver struct {
	configurations ConfigurationStore
	logger         *slog.Logger
}

func NewPromptResolver(configurations ConfigurationStore, logger *slog.Logger) *PromptResolver {
	return &PromptResolver{
		configurations: configurations,
		logger:         logger,
	}
}

func (r *PromptResolver) ResolveSystemPrompt(ctx context.Context, req *ChatRequest, user User) (string, error) {
	if req.ConfigurationID == nil {
		return DefaultSystemPrompt, nil
	}

	configuration, err := r.configurations.GetConfiguration(ctx, *req.ConfigurationID, user.ID)
	if memory.IsNotFound(err) {
		r.logger.WarnContext(ctx, "configuration not found, using default system prompt",
			"configuration_id", req.ConfigurationID.String(),
			"user_id", user.ID,
		)
		return DefaultSystemPrompt, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}

	return PersonaPrompt(configuration), nil
}

func PersonaPrompt(c *memory.Configuration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an AI named \"%s\".\n", c.AIName)
	fmt.Fprintf(&b, "You have the following character traits: %s.\n", c.Description)
	fmt.Fprintf(&b, "In this conversation, your role is: %s.\n", c.Role)
	fmt.Fprintf(&b, "You're speaking with a user named \"%s\".\n", c.UserName)
	fmt.Fprintf(&b, "Refer to them as '%s', and refer to yourself as '%s' when appropriate.\n", c.UserName, c.AIName)
	b.WriteString("Be personable, stay in character, and align your responses with your role and purpose.")

	if c.Summary != "" {
		fmt.Fprintf(&b, "\n\nHere is a summary of the chats with the user: %s\n", c.Summary)
	}
	return b.String()
}
