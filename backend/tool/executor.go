package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/furisto/parley/backend/model"
)

type Executor struct {
	tools  map[string]Tool
	order  []string
	logger *slog.Logger
}

func NewExecutor(logger *slog.Logger, tools ...Tool) *Executor {
	executor := &Executor{
		tools:  make(map[string]Tool, len(tools)),
		logger: logger,
	}
	for _, t := range tools {
		if _, ok := executor.tools[t.Name]; !ok {
			executor.order = append(executor.order, t.Name)
		}
		executor.tools[t.Name] = t
	}
	return executor
}

func (e *Executor) Supports(name string) bool {
	_, ok := e.tools[name]
	return ok
}

func (e *Executor) Definitions() []model.ToolDefinition {
	definitions := make([]model.ToolDefinition, 0, len(e.order))
	for _, name := range e.order {
		definitions = append(definitions, e.tools[name].Definition())
	}
	return definitions
}

// Execute runs a fully assembled tool call. Every failure is returned as a
// *ToolError.
func (e *Executor) Execute(ctx context.Context, call model.ToolCall) (string, error) {
	t, ok := e.tools[call.Name]
	if !ok {
		return "", NewToolError(call.Name, fmt.Errorf("unknown tool"))
	}

	start := time.Now()
	result, err := t.Handler(ctx, json.RawMessage(call.Arguments))
	if err != nil {
		e.logger.ErrorContext(ctx, "tool execution failed",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"duration", time.Since(start),
			"error", err,
		)
		return "", NewToolError(call.Name, err)
	}

	e.logger.DebugContext(ctx, "tool executed",
		"tool", call.Name,
		"tool_call_id", call.ID,
		"duration", time.Since(start),
		"result_size", len(result),
	)
	return result, nil
}
