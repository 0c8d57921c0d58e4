package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/furisto/parley/backend/memory"
	memorytest "github.com/furisto/parley/backend/memory/test"
	"github.com/furisto/parley/backend/model"
	"github.com/furisto/parley/backend/tool"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCatalog(t *testing.T) *model.Catalog {
	t.Helper()

	catalog, err := model.NewCatalog(
		model.Spec{Type: model.TypeDefault, Primary: "gpt-4o-mini", Fallback: "claude-3-5-haiku-latest", Timeout: 20 * time.Second, Temperature: 0.2, MaxTokens: 2048},
		model.Spec{Type: model.TypeReasoning, Primary: "o3-mini", Fallback: "claude-3-7-sonnet-latest", Timeout: 120 * time.Second, Temperature: 0.2, MaxTokens: 2048},
		model.Spec{Type: model.TypeVision, Primary: "gpt-4o", Fallback: "claude-3-5-sonnet-latest", Timeout: 20 * time.Second, Temperature: 0.2, MaxTokens: 2048},
	)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	return catalog
}

type script struct {
	deltas  []model.Delta
	err     error
	openErr error
}

type recordedRequest struct {
	model    string
	messages []*model.Message
	tools    []model.ToolDefinition
	timeout  time.Duration
}

// scriptedProvider replays one script per Stream call. With repeat set the
// last script is replayed forever.
type scriptedProvider struct {
	name    string
	repeat  bool
	mu      sync.Mutex
	scripts []script
	calls   []recordedRequest
}

func (p *scriptedProvider) Name() string {
	return p.name
}

func (p *scriptedProvider) Stream(ctx context.Context, req *model.Request) (model.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, recordedRequest{
		model:    req.Model,
		messages: append([]*model.Message(nil), req.Messages...),
		tools:    req.Tools,
		timeout:  req.Timeout,
	})

	if len(p.scripts) == 0 {
		return nil, fmt.Errorf("%s: unexpected call", p.name)
	}
	s := p.scripts[0]
	if !p.repeat || len(p.scripts) > 1 {
		p.scripts = p.scripts[1:]
	}

	if s.openErr != nil {
		return nil, s.openErr
	}
	return &scriptedStream{deltas: s.deltas, err: s.err}, nil
}

func (p *scriptedProvider) Calls() []recordedRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type scriptedStream struct {
	deltas  []model.Delta
	current model.Delta
	err     error
}

func (s *scriptedStream) Next() bool {
	if len(s.deltas) == 0 {
		return false
	}
	s.current, s.deltas = s.deltas[0], s.deltas[1:]
	return true
}

func (s *scriptedStream) Current() model.Delta { return s.current }
func (s *scriptedStream) Err() error           { return s.err }
func (s *scriptedStream) Close() error         { return nil }

type recordingSink struct {
	events []Event
	failOn func(Event) bool
}

func (s *recordingSink) Send(e Event) error {
	if s.failOn != nil && s.failOn(e) {
		return errors.New("broken pipe")
	}
	s.events = append(s.events, e)
	return nil
}

type stubSearch struct {
	results []tool.SearchResult
	err     error
	queries []string
}

func (s *stubSearch) Search(ctx context.Context, query string) ([]tool.SearchResult, error) {
	s.queries = append(s.queries, query)
	return s.results, s.err
}

type stubLimiter struct {
	message string
}

func (s stubLimiter) CheckLimit(ctx context.Context, userID string) (string, error) {
	return s.message, nil
}

type stubAttachments struct {
	images []model.Image
}

func (s stubAttachments) Images(ctx context.Context, ids []string) ([]model.Image, error) {
	return s.images, nil
}

type fixture struct {
	store    *memory.Store
	primary  *scriptedProvider
	fallback *scriptedProvider
	search   *stubSearch
	deps     Dependencies
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memorytest.NewStore(t)
	search := &stubSearch{results: []tool.SearchResult{
		{Title: "Paris", Snippet: "Paris is the capital of France.", Link: "https://en.wikipedia.org/wiki/Paris"},
		{Title: "France", Snippet: "France is a country in Europe.", Link: "https://en.wikipedia.org/wiki/France"},
	}}
	primary := &scriptedProvider{name: "openai"}
	fallback := &scriptedProvider{name: "anthropic"}

	return &fixture{
		store:    store,
		primary:  primary,
		fallback: fallback,
		search:   search,
		deps: Dependencies{
			Catalog:  testCatalog(t),
			Primary:  primary,
			Fallback: fallback,
			History:  store,
			Prompts:  NewPromptResolver(store, discardLogger()),
			Tools:    tool.NewExecutor(discardLogger(), tool.NewSearchTool(search)),
		},
	}
}

func (f *fixture) run(t *testing.T, req *ChatRequest, opts ...Option) (*TurnResult, *recordingSink, error) {
	t.Helper()

	orchestrator, err := NewOrchestrator(f.deps, append([]Option{WithLogger(discardLogger())}, opts...)...)
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}

	sink := &recordingSink{}
	result, err := orchestrator.Run(context.Background(), req, User{ID: memorytest.UserID}, sink)
	return result, sink, err
}

func (f *fixture) persisted(t *testing.T, conversationID uuid.UUID) []*model.Message {
	t.Helper()

	messages, err := f.store.GetMessages(context.Background(), conversationID)
	if err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	return messages
}

func roles(messages []*model.Message) []model.Role {
	out := make([]model.Role, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.Role)
	}
	return out
}

func providerErr(kind model.ErrorKind) error {
	return model.NewProviderError("test", kind, errors.New("boom"))
}

func searchDeltas(id, query string) []model.Delta {
	return []model.Delta{
		model.ToolCallDelta{ID: id, Name: tool.SearchToolName, Arguments: `{"query":`},
		model.ToolCallDelta{Arguments: fmt.Sprintf("%q}", query)},
	}
}

func TestRun_PlainAnswer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.primary.scripts = []script{{deltas: []model.Delta{
		model.ContentDelta{Text: "Hel"},
		model.ContentDelta{Text: "lo"},
	}}}

	result, sink, err := f.run(t, &ChatRequest{Content: "Hi"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []Event{
		NewConversation{ID: result.ConversationID},
		ContentDelta{Text: "Hel"},
		ContentDelta{Text: "lo"},
	}
	if diff := cmp.Diff(want, sink.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	messages := f.persisted(t, result.ConversationID)
	if diff := cmp.Diff([]model.Role{model.RoleSystem, model.RoleUser, model.RoleAssistant}, roles(messages)); diff != "" {
		t.Errorf("persisted roles mismatch (-want +got):\n%s", diff)
	}
	for i, m := range messages {
		if m.Sequence != int64(i+1) {
			t.Errorf("message %d sequence = %d, want %d", i, m.Sequence, i+1)
		}
	}
	if messages[0].Content != DefaultSystemPrompt {
		t.Errorf("system prompt = %q", messages[0].Content)
	}
	if messages[2].Content != "Hello" || messages[2].Model != "gpt-4o-mini" {
		t.Errorf("assistant message = %q from %q", messages[2].Content, messages[2].Model)
	}

	if !result.ConversationCreated {
		t.Error("ConversationCreated = false, want true")
	}
	if len(f.search.queries) != 0 {
		t.Errorf("search called %d times, want 0", len(f.search.queries))
	}
	if len(f.fallback.Calls()) != 0 {
		t.Errorf("fallback called %d times, want 0", len(f.fallback.Calls()))
	}

	calls := f.primary.Calls()
	if calls[0].timeout != 20*time.Second {
		t.Errorf("timeout = %v, want 20s", calls[0].timeout)
	}
	if len(calls[0].tools) != 1 || calls[0].tools[0].Name != tool.SearchToolName {
		t.Errorf("tools = %+v, want search_web", calls[0].tools)
	}
}

func TestRun_ToolRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.primary.scripts = []script{
		{deltas: searchDeltas("call_1", "capital of France")},
		{deltas: []model.Delta{model.ContentDelta{Text: "It is Paris."}}},
	}

	result, sink, err := f.run(t, &ChatRequest{Content: "What is the capital of France?"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantResult := "Paris: Paris is the capital of France. (https://en.wikipedia.org/wiki/Paris)\n" +
		"France: France is a country in Europe. (https://en.wikipedia.org/wiki/France)"
	want := []Event{
		NewConversation{ID: result.ConversationID},
		BackgroundStatus{Text: SearchingStatus},
		ToolInvocation{ToolCallID: "call_1", Name: tool.SearchToolName, Arguments: `{"query":`},
		ToolInvocation{ToolCallID: "call_1", Name: tool.SearchToolName, Arguments: `"capital of France"}`},
		ToolInvocation{ToolCallID: "call_1", Name: tool.SearchToolName, Result: wantResult},
		ContentDelta{Text: "It is Paris."},
	}
	if diff := cmp.Diff(want, sink.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	messages := f.persisted(t, result.ConversationID)
	wantRoles := []model.Role{model.RoleSystem, model.RoleUser, model.RoleAssistant, model.RoleTool, model.RoleAssistant}
	if diff := cmp.Diff(wantRoles, roles(messages)); diff != "" {
		t.Fatalf("persisted roles mismatch (-want +got):\n%s", diff)
	}

	wantCall := &model.ToolCall{ID: "call_1", Name: tool.SearchToolName, Arguments: `{"query":"capital of France"}`}
	if diff := cmp.Diff(wantCall, messages[2].ToolCall); diff != "" {
		t.Errorf("assistant tool call mismatch (-want +got):\n%s", diff)
	}
	if messages[2].Content != "" {
		t.Errorf("tool call assistant content = %q, want empty", messages[2].Content)
	}
	if messages[3].Content != wantResult {
		t.Errorf("tool message content = %q", messages[3].Content)
	}
	if diff := cmp.Diff(wantCall, messages[3].ToolCall); diff != "" {
		t.Errorf("tool result call mismatch (-want +got):\n%s", diff)
	}
	if messages[4].Content != "It is Paris." {
		t.Errorf("final answer = %q", messages[4].Content)
	}

	if diff := cmp.Diff([]string{"capital of France"}, f.search.queries); diff != "" {
		t.Errorf("search queries mismatch (-want +got):\n%s", diff)
	}

	calls := f.primary.Calls()
	if len(calls) != 2 {
		t.Fatalf("primary called %d times, want 2", len(calls))
	}
	if diff := cmp.Diff(wantRoles[:4], roles(calls[1].messages)); diff != "" {
		t.Errorf("second pass messages mismatch (-want +got):\n%s", diff)
	}
	if result.RoundTrips != 1 {
		t.Errorf("RoundTrips = %d, want 1", result.RoundTrips)
	}
}

func TestRun_IneligibleErrorSkipsFallback(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.primary.scripts = []script{{
		deltas: []model.Delta{model.ContentDelta{Text: "partial"}},
		err:    providerErr(model.KindAuthentication),
	}}

	result, sink, err := f.run(t, &ChatRequest{Content: "Hi"})
	if err == nil {
		t.Fatal("Run() expected error")
	}

	want := []Event{
		NewConversation{ID: result.ConversationID},
		ContentDelta{Text: "partial"},
		Error{Message: model.KindAuthentication.Message()},
	}
	if diff := cmp.Diff(want, sink.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if len(f.fallback.Calls()) != 0 {
		t.Errorf("fallback called %d times, want 0", len(f.fallback.Calls()))
	}
	if messages := f.persisted(t, result.ConversationID); len(messages) != 0 {
		t.Errorf("persisted %d messages, want 0", len(messages))
	}
}

func TestRun_FallbackOnEligibleError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		kind model.ErrorKind
	}{
		{name: "timeout", kind: model.KindTimeout},
		{name: "rate limit", kind: model.KindRateLimit},
		{name: "server error", kind: model.KindServerError},
		{name: "model not found", kind: model.KindModelNotFound},
		{name: "bad request", kind: model.KindBadRequest},
		{name: "overload", kind: model.KindOverload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.primary.scripts = []script{{err: providerErr(tt.kind)}}
			f.fallback.scripts = []script{{deltas: []model.Delta{model.ContentDelta{Text: "Hi there"}}}}

			result, sink, err := f.run(t, &ChatRequest{Content: "Hi"})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			want := []Event{
				NewConversation{ID: result.ConversationID},
				ContentDelta{Text: "Hi there"},
			}
			if diff := cmp.Diff(want, sink.events); diff != "" {
				t.Errorf("events mismatch (-want +got):\n%s", diff)
			}

			calls := f.fallback.Calls()
			if len(calls) != 1 || calls[0].model != "claude-3-5-haiku-latest" {
				t.Fatalf("fallback calls = %+v, want one call to the fallback model", calls)
			}

			messages := f.persisted(t, result.ConversationID)
			if got := messages[len(messages)-1].Model; got != "claude-3-5-haiku-latest" {
				t.Errorf("assistant model = %q, want fallback model", got)
			}
			if !result.Fallback {
				t.Error("Fallback = false, want true")
			}
		})
	}
}

func TestRun_FallbackAfterPartialOutput(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.primary.scripts = []script{{
		deltas: []model.Delta{model.ContentDelta{Text: "The capital"}},
		err:    providerErr(model.KindTimeout),
	}}
	f.fallback.scripts = []script{{deltas: []model.Delta{model.ContentDelta{Text: "It is Paris."}}}}

	result, sink, err := f.run(t, &ChatRequest{Content: "What is the capital of France?"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []Event{
		NewConversation{ID: result.ConversationID},
		ContentDelta{Text: "The capital"},
		BackgroundStatus{Text: RetryingStatus},
		ContentDelta{Text: "It is Paris."},
	}
	if diff := cmp.Diff(want, sink.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	messages := f.persisted(t, result.ConversationID)
	if got := messages[len(messages)-1].Content; got != "It is Paris." {
		t.Errorf("final answer = %q, want only the fallback content", got)
	}
}

func TestRun_FallbackReusesCompletedSearch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.primary.scripts = []script{{
		deltas: searchDeltas("call_1", "capital of France"),
		err:    providerErr(model.KindTimeout),
	}}
	f.fallback.scripts = []script{
		{deltas: searchDeltas("toolu_1", "capital of France")},
		{deltas: []model.Delta{model.ContentDelta{Text: "It is Paris."}}},
	}

	result, sink, err := f.run(t, &ChatRequest{Content: "What is the capital of France?"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if diff := cmp.Diff([]string{"capital of France"}, f.search.queries); diff != "" {
		t.Errorf("search queries mismatch (-want +got):\n%s", diff)
	}

	var retried bool
	for _, e := range sink.events {
		if e == (BackgroundStatus{Text: RetryingStatus}) {
			retried = true
		}
	}
	if !retried {
		t.Error("expected a retrying status before the fallback pass")
	}

	messages := f.persisted(t, result.ConversationID)
	wantRoles := []model.Role{model.RoleSystem, model.RoleUser, model.RoleAssistant, model.RoleTool, model.RoleAssistant}
	if diff := cmp.Diff(wantRoles, roles(messages)); diff != "" {
		t.Fatalf("persisted roles mismatch (-want +got):\n%s", diff)
	}
	if got := messages[2].ToolCall.ID; got != "toolu_1" {
		t.Errorf("persisted tool call id = %q, want the fallback call", got)
	}
	if !strings.HasPrefix(messages[3].Content, "Paris: ") {
		t.Errorf("tool message content = %q", messages[3].Content)
	}
}

func TestRun_FallbackFailureIsUnified(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.primary.scripts = []script{{err: providerErr(model.KindTimeout)}}
	f.fallback.scripts = []script{{openErr: providerErr(model.KindOverload)}}

	result, sink, err := f.run(t, &ChatRequest{Content: "Hi"})
	if err == nil {
		t.Fatal("Run() expected error")
	}

	want := []Event{
		NewConversation{ID: result.ConversationID},
		Error{Message: UnavailableMessage},
	}
	if diff := cmp.Diff(want, sink.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if len(f.primary.Calls()) != 1 || len(f.fallback.Calls()) != 1 {
		t.Errorf("calls = %d primary, %d fallback, want 1 each", len(f.primary.Calls()), len(f.fallback.Calls()))
	}
	if messages := f.persisted(t, result.ConversationID); len(messages) != 0 {
		t.Errorf("persisted %d messages, want 0", len(messages))
	}
}

func TestRun_FallbackIsStickyForTheTurn(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.primary.scripts = []script{{err: providerErr(model.KindRateLimit)}}
	f.fallback.scripts = []script{
		{deltas: searchDeltas("toolu_1", "capital of France")},
		{err: providerErr(model.KindServerError)},
	}

	result, sink, err := f.run(t, &ChatRequest{Content: "What is the capital of France?"})
	if err == nil {
		t.Fatal("Run() expected error")
	}

	if len(f.primary.Calls()) != 1 {
		t.Errorf("primary called %d times, want 1", len(f.primary.Calls()))
	}
	if len(f.fallback.Calls()) != 2 {
		t.Errorf("fallback called %d times, want 2", len(f.fallback.Calls()))
	}

	last := sink.events[len(sink.events)-1]
	if diff := cmp.Diff(Error{Message: UnavailableMessage}, last); diff != "" {
		t.Errorf("last event mismatch (-want +got):\n%s", diff)
	}
	if messages := f.persisted(t, result.ConversationID); len(messages) != 0 {
		t.Errorf("persisted %d messages, want 0", len(messages))
	}
}

func TestRun_ToolRoundTripCeiling(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.primary.repeat = true
	f.primary.scripts = []script{{deltas: searchDeltas("call_1", "again")}}

	result, sink, err := f.run(t, &ChatRequest{Content: "loop"}, WithMaxToolRoundTrips(2))
	if !errors.Is(err, ErrToolRoundTrips) {
		t.Fatalf("Run() error = %v, want ErrToolRoundTrips", err)
	}

	if got := len(f.primary.Calls()); got != 3 {
		t.Errorf("primary called %d times, want 3", got)
	}
	if diff := cmp.Diff(Error{Message: RoundTripsMessage}, sink.events[len(sink.events)-1]); diff != "" {
		t.Errorf("last event mismatch (-want +got):\n%s", diff)
	}
	if messages := f.persisted(t, result.ConversationID); len(messages) != 0 {
		t.Errorf("persisted %d messages, want 0", len(messages))
	}
}

func TestRun_ToolFailureEndsTurn(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.search.err = errors.New("serpapi unavailable")
	f.primary.scripts = []script{{deltas: searchDeltas("call_1", "capital of France")}}

	result, sink, err := f.run(t, &ChatRequest{Content: "What is the capital of France?"})
	var toolErr *tool.ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("Run() error = %v, want *tool.ToolError", err)
	}

	if diff := cmp.Diff(Error{Message: ToolFailedMessage}, sink.events[len(sink.events)-1]); diff != "" {
		t.Errorf("last event mismatch (-want +got):\n%s", diff)
	}
	if len(f.fallback.Calls()) != 0 {
		t.Errorf("fallback called %d times, want 0", len(f.fallback.Calls()))
	}
	if messages := f.persisted(t, result.ConversationID); len(messages) != 0 {
		t.Errorf("persisted %d messages, want 0", len(messages))
	}
}

func TestRun_DisconnectPersistsNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.primary.scripts = []script{{deltas: []model.Delta{
		model.ContentDelta{Text: "Hel"},
		model.ContentDelta{Text: "lo"},
	}}}

	orchestrator, err := NewOrchestrator(f.deps, WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}

	sink := &recordingSink{failOn: func(e Event) bool {
		delta, ok := e.(ContentDelta)
		return ok && delta.Text == "lo"
	}}
	result, err := orchestrator.Run(context.Background(), &ChatRequest{Content: "Hi"}, User{ID: memorytest.UserID}, sink)
	if !errors.Is(err, ErrClientDisconnected) {
		t.Fatalf("Run() error = %v, want ErrClientDisconnected", err)
	}

	for _, e := range sink.events {
		if _, ok := e.(Error); ok {
			t.Errorf("unexpected error event %+v", e)
		}
	}
	if messages := f.persisted(t, result.ConversationID); len(messages) != 0 {
		t.Errorf("persisted %d messages, want 0", len(messages))
	}
}

func TestRun_RateLimited(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	message := "Maximum message count exceeded for the hour, the limit is 10 messages."
	f.deps.Limiter = stubLimiter{message: message}

	_, sink, err := f.run(t, &ChatRequest{Content: "Hi"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Run() error = %v, want ErrRateLimited", err)
	}

	if diff := cmp.Diff([]Event{Error{Message: message}}, sink.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if len(f.primary.Calls()) != 0 {
		t.Errorf("primary called %d times, want 0", len(f.primary.Calls()))
	}
}

func TestRun_UnknownConversation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	foreign := memorytest.NewConversationBuilder(t, f.store).WithUser("someone-else").Build(ctx)

	tests := []struct {
		name   string
		chatID uuid.UUID
	}{
		{name: "missing", chatID: uuid.MustParse("0195fbbe-0be8-74b1-af7a-6e76e80e2499")},
		{name: "owned by another user", chatID: foreign.ID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, sink, err := f.run(t, &ChatRequest{ChatID: &tt.chatID, Content: "Hi"})
			if !errors.Is(err, ErrConversationNotFound) {
				t.Fatalf("Run() error = %v, want ErrConversationNotFound", err)
			}
			if diff := cmp.Diff([]Event{Error{Message: NotFoundMessage}}, sink.events); diff != "" {
				t.Errorf("events mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRun_ExistingConversation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	conversation := memorytest.NewConversationBuilder(t, f.store).Build(ctx)
	err := f.store.InsertMessages(ctx, []*model.Message{
		model.NewMessage(conversation.ID, model.RoleSystem, DefaultSystemPrompt),
		model.NewMessage(conversation.ID, model.RoleUser, "Hi"),
		model.NewMessage(conversation.ID, model.RoleAssistant, "Hello"),
	})
	if err != nil {
		t.Fatalf("InsertMessages() error = %v", err)
	}

	f.primary.scripts = []script{{deltas: []model.Delta{model.ContentDelta{Text: "Fine."}}}}

	result, sink, err := f.run(t, &ChatRequest{ChatID: &conversation.ID, Content: "How are you?"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.ConversationCreated {
		t.Error("ConversationCreated = true, want false")
	}
	if diff := cmp.Diff(NewConversation{ID: conversation.ID}, sink.events[0]); diff != "" {
		t.Errorf("first event mismatch (-want +got):\n%s", diff)
	}

	sent := f.primary.Calls()[0].messages
	wantSent := []model.Role{model.RoleSystem, model.RoleUser, model.RoleAssistant, model.RoleUser}
	if diff := cmp.Diff(wantSent, roles(sent)); diff != "" {
		t.Errorf("provider messages mismatch (-want +got):\n%s", diff)
	}

	messages := f.persisted(t, conversation.ID)
	if len(messages) != 5 || messages[3].Sequence != 4 || messages[4].Sequence != 5 {
		t.Errorf("persisted %d messages, want 5 with sequences continuing the history", len(messages))
	}
}

func TestRun_UnsupportedToolCallIsIgnored(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.primary.scripts = []script{{deltas: []model.Delta{
		model.ToolCallDelta{ID: "call_1", Name: "run_code", Arguments: `{"code":"rm -rf /"}`},
		model.ContentDelta{Text: "I cannot do that."},
	}}}

	result, _, err := f.run(t, &ChatRequest{Content: "run it"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := len(f.primary.Calls()); got != 1 {
		t.Errorf("primary called %d times, want 1", got)
	}
	messages := f.persisted(t, result.ConversationID)
	if diff := cmp.Diff([]model.Role{model.RoleSystem, model.RoleUser, model.RoleAssistant}, roles(messages)); diff != "" {
		t.Errorf("persisted roles mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_ModelSelection(t *testing.T) {
	t.Parallel()

	disabled := false
	image := model.Image{MimeType: "image/png", Data: []byte("\x89PNG")}

	tests := []struct {
		name      string
		req       *ChatRequest
		wantModel string
		wantTools bool
	}{
		{
			name:      "default",
			req:       &ChatRequest{Content: "Hi"},
			wantModel: "gpt-4o-mini",
			wantTools: true,
		},
		{
			name:      "deep reasoning",
			req:       &ChatRequest{Content: "Prove it", DeepReasoning: true},
			wantModel: "o3-mini",
			wantTools: true,
		},
		{
			name:      "attachments win over reasoning",
			req:       &ChatRequest{Content: "What is this?", DeepReasoning: true, AttachmentIDs: []string{uuid.NewString()}},
			wantModel: "gpt-4o",
			wantTools: true,
		},
		{
			name:      "search disabled",
			req:       &ChatRequest{Content: "Hi", SearchEnabled: &disabled},
			wantModel: "gpt-4o-mini",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.deps.Attachments = stubAttachments{images: []model.Image{image}}
			f.primary.scripts = []script{{deltas: []model.Delta{model.ContentDelta{Text: "ok"}}}}

			if _, _, err := f.run(t, tt.req); err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			call := f.primary.Calls()[0]
			if call.model != tt.wantModel {
				t.Errorf("model = %q, want %q", call.model, tt.wantModel)
			}
			if got := len(call.tools) > 0; got != tt.wantTools {
				t.Errorf("tools offered = %v, want %v", got, tt.wantTools)
			}

			user := call.messages[len(call.messages)-1]
			if len(tt.req.AttachmentIDs) > 0 {
				if diff := cmp.Diff([]model.Image{image}, user.Images); diff != "" {
					t.Errorf("images mismatch (-want +got):\n%s", diff)
				}
			} else if len(user.Images) != 0 {
				t.Errorf("unexpected images on user message")
			}
		})
	}
}

func TestRun_PersonaPrompt(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	configuration := memorytest.NewConfigurationBuilder(t, f.store).WithSummary("Likes Go.").Build(context.Background())
	f.primary.scripts = []script{{deltas: []model.Delta{model.ContentDelta{Text: "Hi Sam"}}}}

	result, _, err := f.run(t, &ChatRequest{Content: "Hi", ConfigurationID: &configuration.ID})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	messages := f.persisted(t, result.ConversationID)
	if diff := cmp.Diff(PersonaPrompt(configuration), messages[0].Content); diff != "" {
		t.Errorf("system prompt mismatch (-want +got):\n%s", diff)
	}
}

func TestNewOrchestrator_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*Dependencies)
		opts   []Option
	}{
		{name: "catalog", mutate: func(d *Dependencies) { d.Catalog = nil }},
		{name: "primary", mutate: func(d *Dependencies) { d.Primary = nil }},
		{name: "fallback", mutate: func(d *Dependencies) { d.Fallback = nil }},
		{name: "history", mutate: func(d *Dependencies) { d.History = nil }},
		{name: "prompts", mutate: func(d *Dependencies) { d.Prompts = nil }},
		{name: "round trips", mutate: func(d *Dependencies) {}, opts: []Option{WithMaxToolRoundTrips(0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			deps := f.deps
			tt.mutate(&deps)
			if _, err := NewOrchestrator(deps, tt.opts...); err == nil {
				t.Error("NewOrchestrator() expected error")
			}
		})
	}
}
