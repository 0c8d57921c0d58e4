package tool

import (
	"encoding/json"
	"log/slog"

	"github.com/furisto/parley/backend/model"
)

// Fragment describes what a single tool call delta did to the accumulator.
type Fragment struct {
	// ID is the resolved call id; continuation fragments inherit the current one.
	ID        string
	Name      string
	Arguments string
	// Announced is set for the first fragment of a call.
	Announced bool
	// Dropped is set when the fragment could not be attributed to any call.
	Dropped bool
	// Completed carries the assembled call the first time its arguments parse.
	Completed *model.ToolCall
}

type pendingCall struct {
	name      string
	arguments []byte
	completed bool
}

// Accumulator folds streamed tool call fragments into complete invocations.
// It is owned by a single streaming pass and is not safe for concurrent use.
type Accumulator struct {
	calls     map[string]*pendingCall
	order     []string
	completed []model.ToolCall

	current string
	known   func(name string) bool
	logger  *slog.Logger
}

func NewAccumulator(known func(name string) bool, logger *slog.Logger) *Accumulator {
	return &Accumulator{
		calls:  make(map[string]*pendingCall),
		known:  known,
		logger: logger,
	}
}

func (a *Accumulator) Add(delta model.ToolCallDelta) Fragment {
	id := delta.ID
	if id == "" {
		id = a.current
	}
	if id == "" {
		a.logger.Warn("dropping tool call fragment without id", "name", delta.Name, "arguments", delta.Arguments)
		return Fragment{Name: delta.Name, Arguments: delta.Arguments, Dropped: true}
	}
	a.current = id

	call, ok := a.calls[id]
	if !ok {
		call = &pendingCall{}
		a.calls[id] = call
		a.order = append(a.order, id)
	}
	if call.name == "" && delta.Name != "" {
		call.name = delta.Name
	}
	call.arguments = append(call.arguments, delta.Arguments...)

	fragment := Fragment{
		ID:        id,
		Name:      call.name,
		Arguments: delta.Arguments,
		Announced: !ok,
	}

	if call.completed || call.name == "" || !a.known(call.name) {
		return fragment
	}

	var arguments map[string]json.RawMessage
	if err := json.Unmarshal(call.arguments, &arguments); err != nil {
		return fragment
	}

	call.completed = true
	completed := model.ToolCall{
		ID:        id,
		Name:      call.name,
		Arguments: string(call.arguments),
	}
	a.completed = append(a.completed, completed)
	fragment.Completed = &completed
	return fragment
}

// Calls lists the assembled calls in completion order.
func (a *Accumulator) Calls() []model.ToolCall {
	return a.completed
}

// Unfinished lists calls that were announced but never assembled, in the
// order they first appeared.
func (a *Accumulator) Unfinished() []model.ToolCall {
	var calls []model.ToolCall
	for _, id := range a.order {
		call := a.calls[id]
		if !call.completed {
			calls = append(calls, model.ToolCall{ID: id, Name: call.name, Arguments: string(call.arguments)})
		}
	}
	return calls
}
