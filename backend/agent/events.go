package agent

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// Event is one line of the output stream of a turn. The set of events is
// closed: NewConversation, BackgroundStatus, ContentDelta, ToolInvocation and
// Error.
type Event interface {
	isEvent()
}

type NewConversation struct {
	ID uuid.UUID `json:"chat_id"`
}

// BackgroundStatus is advisory text shown while the assistant works.
type BackgroundStatus struct {
	Text string `json:"background_processing"`
}

type ContentDelta struct {
	Text string `json:"content"`
}

// ToolInvocation reports a fragment of a tool call, or its result once the
// tool has run.
type ToolInvocation struct {
	ToolCallID string
	Name       string
	Arguments  string
	Result     string
}

type Error struct {
	Message string `json:"error"`
}

func (NewConversation) isEvent()  {}
func (BackgroundStatus) isEvent() {}
func (ContentDelta) isEvent()     {}
func (ToolInvocation) isEvent()   {}
func (Error) isEvent()            {}

type toolInvocationJSON struct {
	ToolCallID string  `json:"tool_call_id"`
	Name       string  `json:"name"`
	Arguments  string  `json:"arguments"`
	Result     *string `json:"result"`
}

func (e ToolInvocation) MarshalJSON() ([]byte, error) {
	out := toolInvocationJSON{
		ToolCallID: e.ToolCallID,
		Name:       e.Name,
		Arguments:  e.Arguments,
	}
	if e.Result != "" {
		out.Result = &e.Result
	}
	return json.Marshal(out)
}

func (e *ToolInvocation) UnmarshalJSON(data []byte) error {
	var in toolInvocationJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = ToolInvocation{ToolCallID: in.ToolCallID, Name: in.Name, Arguments: in.Arguments}
	if in.Result != nil {
		e.Result = *in.Result
	}
	return nil
}

// Sink receives the events of a turn in order. An error from Send means the
// consumer is gone.
type Sink interface {
	Send(Event) error
}

type SinkFunc func(Event) error

func (f SinkFunc) Send(e Event) error {
	return f(e)
}

// NDJSONSink writes one JSON object per line and flushes after every event.
type NDJSONSink struct {
	mu    sync.Mutex
	enc   *json.Encoder
	flush func()
}

func NewNDJSONSink(w io.Writer, flush func()) *NDJSONSink {
	return &NDJSONSink{enc: json.NewEncoder(w), flush: flush}
}

func (s *NDJSONSink) Send(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enc.Encode(e); err != nil {
		return err
	}
	if s.flush != nil {
		s.flush()
	}
	return nil
}

// DecodeEvent parses one line of an NDJSON event stream.
func DecodeEvent(line []byte) (Event, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(line, &keys); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}

	var (
		event Event
		err   error
	)
	switch {
	case has(keys, "tool_call_id"):
		var e ToolInvocation
		err = json.Unmarshal(line, &e)
		event = e
	case has(keys, "chat_id"):
		var e NewConversation
		err = json.Unmarshal(line, &e)
		event = e
	case has(keys, "content"):
		var e ContentDelta
		err = json.Unmarshal(line, &e)
		event = e
	case has(keys, "background_processing"):
		var e BackgroundStatus
		err = json.Unmarshal(line, &e)
		event = e
	case has(keys, "error"):
		var e Error
		err = json.Unmarshal(line, &e)
		event = e
	default:
		return nil, errors.New("invalid event: unknown shape")
	}
	if err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}

	return event, nil
}

func has(keys map[string]json.RawMessage, key string) bool {
	_, ok := keys[key]
	return ok
}

// ReadEvents decodes an NDJSON stream and calls fn for every event until the
// reader is exhausted or fn returns an error.
func ReadEvents(r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		event, err := DecodeEvent(line)
		if err != nil {
			return err
		}
		if err := fn(event); err != nil {
			return err
		}
	}
	return scanner.Err()
}
