package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/furisto/parley/backend/model"
	"github.com/invopop/jsonschema"
)

type ToolHandler[T any] func(ctx context.Context, input T) (string, error)

type Tool struct {
	Name        string
	Description string
	Schema      map[string]any
	Handler     func(ctx context.Context, input json.RawMessage) (string, error)
}

// NewTool derives the parameter schema of a tool from its input type. Unknown
// properties are rejected by the schema.
func NewTool[T any](name, description string, handler ToolHandler[T]) Tool {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	var toolInput T
	inputSchema := reflector.Reflect(toolInput)

	paramSchema := map[string]any{
		"type":                 "object",
		"properties":           toPlainMap(inputSchema.Properties),
		"additionalProperties": false,
	}
	if len(inputSchema.Required) > 0 {
		required := make([]any, 0, len(inputSchema.Required))
		for _, r := range inputSchema.Required {
			required = append(required, r)
		}
		paramSchema["required"] = required
	}

	genericToolHandler := func(ctx context.Context, input json.RawMessage) (string, error) {
		var toolInput T
		if err := json.Unmarshal(input, &toolInput); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		return handler(ctx, toolInput)
	}

	return Tool{
		Name:        name,
		Description: description,
		Schema:      paramSchema,
		Handler:     genericToolHandler,
	}
}

func (t Tool) Definition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.Schema,
	}
}

// toPlainMap turns the ordered property map of the reflected schema into the
// plain JSON object the provider SDKs marshal.
func toPlainMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

type ToolError struct {
	Tool string
	Err  error
}

func NewToolError(tool string, err error) *ToolError {
	return &ToolError{Tool: tool, Err: err}
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}
