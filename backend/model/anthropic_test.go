package model

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newTestAnthropicProvider(t *testing.T, url string) *AnthropicProvider {
	t.Helper()

	provider, err := NewAnthropicProvider("sk-ant-test", WithURL(url), WithCircuitBreaker(nil))
	if err != nil {
		t.Fatal(err)
	}
	return provider
}

func TestAnthropicProvider_StreamDeltas(t *testing.T) {
	t.Parallel()

	server := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeSSE(w, "message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-0","content":[],"usage":{"input_tokens":10,"output_tokens":1}}}`)
		writeSSE(w, "content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`)
		writeSSE(w, "ping", `{"type":"ping"}`)
		writeSSE(w, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Searching"}}`)
		writeSSE(w, "content_block_stop", `{"type":"content_block_stop","index":0}`)
		writeSSE(w, "content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"search_web","input":{}}}`)
		writeSSE(w, "content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"query\": "}}`)
		writeSSE(w, "content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"weather\"}"}}`)
		writeSSE(w, "content_block_stop", `{"type":"content_block_stop","index":1}`)
		writeSSE(w, "message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":20}}`)
		writeSSE(w, "message_stop", `{"type":"message_stop"}`)
	})

	provider := newTestAnthropicProvider(t, server.URL)
	req := testRequest()
	req.Model = "claude-sonnet-4-0"
	req.Tools = []ToolDefinition{{
		Name:        "search_web",
		Description: "Search the web for up-to-date information.",
		Parameters: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{"query": map[string]any{"type": "string"}},
			"required":             []any{"query"},
			"additionalProperties": false,
		},
	}}

	stream, err := provider.Stream(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	deltas, err := collect(t, stream)
	if err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}

	want := []Delta{
		ContentDelta{Text: "Searching"},
		ToolCallDelta{ID: "toolu_1", Name: "search_web"},
		ToolCallDelta{Arguments: `{"query": `},
		ToolCallDelta{Arguments: `"weather"}`},
	}
	if diff := cmp.Diff(want, deltas); diff != "" {
		t.Errorf("deltas mismatch (-want +got):\n%s", diff)
	}

	body := server.requestBody(t)
	system := body["system"].([]any)
	if text := system[0].(map[string]any)["text"]; text != "You are a helpful assistant." {
		t.Errorf("system = %v", text)
	}
	if messages := body["messages"].([]any); len(messages) != 1 {
		t.Errorf("expected system message to be lifted out of messages, got %d messages", len(messages))
	}
	schema := body["tools"].([]any)[0].(map[string]any)["input_schema"].(map[string]any)
	if schema["additionalProperties"] != false {
		t.Errorf("input schema lost additionalProperties: %v", schema)
	}
}

func TestAnthropicProvider_ToolRoundTripMessages(t *testing.T) {
	t.Parallel()

	provider := NewAnthropicProviderWithService(nil, nil)
	call := ToolCall{ID: "toolu_1", Name: "search_web", Arguments: `{"query":"weather"}`}

	system, messages, err := provider.transformMessages([]*Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "weather?"},
		{Role: RoleAssistant, ToolCall: &call},
		{Role: RoleTool, ToolCall: &call, Content: "Sunny: 25 degrees (https://example.com)"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(system) != 1 {
		t.Errorf("expected one system block, got %d", len(system))
	}

	var roles []string
	for _, m := range messages {
		roles = append(roles, string(m.Role))
	}
	if diff := cmp.Diff([]string{"user", "assistant", "user"}, roles); diff != "" {
		t.Errorf("roles mismatch (-want +got):\n%s", diff)
	}
	if messages[1].Content[0].OfToolUse == nil || messages[1].Content[0].OfToolUse.ID != "toolu_1" {
		t.Errorf("expected tool_use block, got %+v", messages[1].Content[0])
	}
	if messages[2].Content[0].OfToolResult == nil || messages[2].Content[0].OfToolResult.ToolUseID != "toolu_1" {
		t.Errorf("expected tool_result block, got %+v", messages[2].Content[0])
	}

	_, _, err = provider.transformMessages([]*Message{{Role: RoleAssistant, ToolCall: &ToolCall{ID: "x", Arguments: `{"query":`}}})
	if err == nil {
		t.Error("expected incomplete arguments to be rejected")
	}
}

func TestAnthropicProvider_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
	}{
		{name: "authentication", status: http.StatusUnauthorized, body: `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`, want: KindAuthentication},
		{name: "overloaded", status: 529, body: `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`, want: KindOverload},
		{name: "rate limit", status: http.StatusTooManyRequests, body: `{"type":"error","error":{"type":"rate_limit_error","message":"Number of requests has exceeded your rate limit"}}`, want: KindRateLimit},
		{name: "not found", status: http.StatusNotFound, body: `{"type":"error","error":{"type":"not_found_error","message":"model: claude-unknown"}}`, want: KindModelNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			stream, err := newTestAnthropicProvider(t, server.URL).Stream(context.Background(), testRequest())
			if err != nil {
				t.Fatal(err)
			}
			_, err = collect(t, stream)
			pe, ok := AsProviderError(err)
			if !ok {
				t.Fatalf("expected provider error, got %v", err)
			}
			if pe.Kind != tt.want {
				t.Errorf("kind = %s, want %s", pe.Kind, tt.want)
			}
		})
	}
}

func TestAnthropicProvider_StreamErrorEvent(t *testing.T) {
	t.Parallel()

	server := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeSSE(w, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`)
		writeSSE(w, "error", `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	})

	stream, err := newTestAnthropicProvider(t, server.URL).Stream(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	deltas, err := collect(t, stream)
	if diff := cmp.Diff([]Delta{ContentDelta{Text: "Hi"}}, deltas); diff != "" {
		t.Errorf("deltas mismatch (-want +got):\n%s", diff)
	}
	pe, ok := AsProviderError(err)
	if !ok || pe.Kind != KindOverload {
		t.Fatalf("expected overload error, got %v", err)
	}
}
