package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/furisto/parley/backend/memory"
	"github.com/furisto/parley/backend/model"
	"github.com/furisto/parley/backend/tool"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultMaxToolRoundTrips = 8

	SearchingStatus    = "Searching…"
	RetryingStatus     = "Retrying with another model…"
	NotFoundMessage    = "Can't find the requested resource. chat_id not found."
	UnavailableMessage = "The assistant is temporarily unavailable, please try again later."
	ToolFailedMessage  = "The web search failed, please try again later."
	RoundTripsMessage  = "The assistant needed too many tool calls to answer, please try a more specific question."
)

var (
	ErrRateLimited          = errors.New("rate limit exceeded")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrToolRoundTrips       = errors.New("maximum number of tool round trips exceeded")
	ErrClientDisconnected   = errors.New("client disconnected")
)

type Options struct {
	MaxToolRoundTrips int
	Logger            *slog.Logger
	Metrics           *prometheus.Registry
}

func DefaultOptions() *Options {
	return &Options{
		MaxToolRoundTrips: DefaultMaxToolRoundTrips,
		Logger:            slog.Default(),
	}
}

type Option func(*Options)

func WithMaxToolRoundTrips(n int) Option {
	return func(o *Options) {
		o.MaxToolRoundTrips = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

func WithMetrics(registry *prometheus.Registry) Option {
	return func(o *Options) {
		o.Metrics = registry
	}
}

// Dependencies are the collaborators of the orchestrator. Limiter, Tools and
// Attachments are optional.
type Dependencies struct {
	Catalog     *model.Catalog
	Primary     model.Provider
	Fallback    model.Provider
	History     HistoryStore
	Prompts     SystemPromptResolver
	Limiter     RateLimiter
	Tools       ToolExecutor
	Attachments AttachmentResolver
}

// Orchestrator drives one conversational turn: it streams the model response,
// runs the tools the model asks for, resumes the model with their results and
// falls back to the secondary provider once on transient failures.
type Orchestrator struct {
	deps    Dependencies
	options *Options
	metrics *orchestratorMetricsProvider
}

func NewOrchestrator(deps Dependencies, opts ...Option) (*Orchestrator, error) {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	switch {
	case deps.Catalog == nil:
		return nil, errors.New("model catalog is required")
	case deps.Primary == nil:
		return nil, errors.New("primary provider is required")
	case deps.Fallback == nil:
		return nil, errors.New("fallback provider is required")
	case deps.History == nil:
		return nil, errors.New("history store is required")
	case deps.Prompts == nil:
		return nil, errors.New("system prompt resolver is required")
	}
	if options.MaxToolRoundTrips <= 0 {
		return nil, errors.New("max tool round trips must be positive")
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	return &Orchestrator{
		deps:    deps,
		options: options,
		metrics: newOrchestratorMetricsProvider(options.Metrics),
	}, nil
}

// TurnResult summarizes a turn. It is returned even when the turn fails, with
// the fields known at the time of failure.
type TurnResult struct {
	ConversationID      uuid.UUID
	ConversationCreated bool
	Model               string
	Fallback            bool
	RoundTrips          int
	Messages            []*model.Message
}

type turn struct {
	req    *ChatRequest
	user   User
	sink   Sink
	logger *slog.Logger

	spec         model.Spec
	conversation *memory.Conversation
	tools        []model.ToolDefinition
	messages     []*model.Message
	newMessages  []*model.Message
	content      strings.Builder
	onFallback   bool
	roundTrips   int
	sent         int

	// results of tool calls executed by a pass that failed afterwards, keyed
	// by toolKey, offered to the pass that replaces it
	retained map[string]string
}

func (t *turn) send(e Event) error {
	if err := t.sink.Send(e); err != nil {
		return fmt.Errorf("%w: %w", ErrClientDisconnected, err)
	}
	t.sent++
	return nil
}

func toolKey(call model.ToolCall) string {
	return call.Name + "\x00" + call.Arguments
}

func (t *turn) append(messages ...*model.Message) {
	t.messages = append(t.messages, messages...)
	t.newMessages = append(t.newMessages, messages...)
}

func (t *turn) modelID() string {
	if t.onFallback {
		return t.spec.Fallback
	}
	return t.spec.Primary
}

func (t *turn) result() *TurnResult {
	result := &TurnResult{
		Model:      t.modelID(),
		Fallback:   t.onFallback,
		RoundTrips: t.roundTrips,
		Messages:   t.newMessages,
	}
	if t.conversation != nil {
		result.ConversationID = t.conversation.ID
	}
	return result
}

// turnError carries the message shown to the user when a turn fails.
type turnError struct {
	message string
	err     error
}

func (e *turnError) Error() string {
	return e.err.Error()
}

func (e *turnError) Unwrap() error {
	return e.err
}

func failure(message string, err error) error {
	return &turnError{message: message, err: err}
}

// Run executes one turn and reports its progress to sink. Whatever the
// outcome, at most one Error event is sent and it is the last event of the
// turn. Nothing is persisted unless the turn completes.
func (o *Orchestrator) Run(ctx context.Context, req *ChatRequest, user User, sink Sink) (*TurnResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	t := &turn{
		req:    req,
		user:   user,
		sink:   sink,
		logger: o.options.Logger.With("user_id", user.ID),
	}

	created, err := o.run(ctx, t)
	result := t.result()
	result.ConversationCreated = created
	if err == nil {
		o.metrics.IncrementTurns("completed")
		o.metrics.ObserveRoundTrips(t.roundTrips)
		t.logger.InfoContext(ctx, "turn completed",
			"conversation_id", result.ConversationID,
			"model", result.Model,
			"fallback", result.Fallback,
			"round_trips", result.RoundTrips,
		)
		return result, nil
	}

	result.Messages = nil
	o.metrics.IncrementTurns(Outcome(err))

	if errors.Is(err, ErrClientDisconnected) || ctx.Err() != nil {
		t.logger.InfoContext(ctx, "turn aborted", "conversation_id", result.ConversationID, "error", err)
		return result, err
	}

	message := model.KindUnknown.Message()
	var te *turnError
	if errors.As(err, &te) {
		message = te.message
	}
	if sendErr := sink.Send(Error{Message: message}); sendErr != nil {
		t.logger.WarnContext(ctx, "failed to send error event", "error", sendErr)
	}

	t.logger.ErrorContext(ctx, "turn failed", "conversation_id", result.ConversationID, "error", err)
	return result, err
}

// Outcome names how a failed turn ended, for metrics and analytics.
func Outcome(err error) string {
	switch {
	case errors.Is(err, ErrClientDisconnected):
		return "disconnected"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrConversationNotFound):
		return "not_found"
	default:
		return "failed"
	}
}

func (o *Orchestrator) run(ctx context.Context, t *turn) (bool, error) {
	if o.deps.Limiter != nil {
		message, err := o.deps.Limiter.CheckLimit(ctx, t.user.ID)
		if err != nil {
			return false, fmt.Errorf("failed to check rate limit: %w", err)
		}
		if message != "" {
			return false, failure(message, ErrRateLimited)
		}
	}

	created, err := o.resolveConversation(ctx, t)
	if err != nil {
		return false, err
	}
	if err := t.send(NewConversation{ID: t.conversation.ID}); err != nil {
		return created, err
	}

	if err := o.buildContext(ctx, t); err != nil {
		return created, err
	}

	for {
		calls, err := o.streamWithFallback(ctx, t)
		if err != nil {
			return created, err
		}
		if len(calls) == 0 {
			break
		}

		t.roundTrips++
		if t.roundTrips > o.options.MaxToolRoundTrips {
			return created, failure(RoundTripsMessage, ErrToolRoundTrips)
		}

		for _, call := range calls {
			request := call.call
			assistant := model.NewMessage(t.conversation.ID, model.RoleAssistant, "")
			assistant.Model = t.modelID()
			assistant.ToolCall = &request

			result := model.NewMessage(t.conversation.ID, model.RoleTool, call.result)
			result.ToolCall = &request

			t.append(assistant, result)
		}
	}

	assistant := model.NewMessage(t.conversation.ID, model.RoleAssistant, t.content.String())
	assistant.Model = t.modelID()
	t.append(assistant)

	if err := o.deps.History.InsertMessages(ctx, t.newMessages); err != nil {
		return created, fmt.Errorf("failed to persist messages: %w", err)
	}

	return created, nil
}

func (o *Orchestrator) resolveConversation(ctx context.Context, t *turn) (bool, error) {
	if t.req.ChatID == nil {
		conversation := &memory.Conversation{
			UserID:          t.user.ID,
			Title:           t.req.title(),
			ConfigurationID: t.req.ConfigurationID,
		}
		if err := o.deps.History.CreateConversation(ctx, conversation); err != nil {
			return false, fmt.Errorf("failed to create conversation: %w", err)
		}
		t.conversation = conversation
		return true, nil
	}

	conversation, err := o.deps.History.GetConversation(ctx, *t.req.ChatID)
	if memory.IsNotFound(err) || (err == nil && conversation.UserID != t.user.ID) {
		return false, failure(NotFoundMessage, fmt.Errorf("%w: %s", ErrConversationNotFound, t.req.ChatID))
	}
	if err != nil {
		return false, fmt.Errorf("failed to load conversation: %w", err)
	}

	t.conversation = conversation
	return false, nil
}

func (o *Orchestrator) buildContext(ctx context.Context, t *turn) error {
	history, err := o.deps.History.GetMessages(ctx, t.conversation.ID)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	t.messages = history

	if len(history) == 0 {
		prompt, err := o.deps.Prompts.ResolveSystemPrompt(ctx, t.req, t.user)
		if err != nil {
			return fmt.Errorf("failed to resolve system prompt: %w", err)
		}
		t.append(model.NewMessage(t.conversation.ID, model.RoleSystem, prompt))
	}

	user := model.NewMessage(t.conversation.ID, model.RoleUser, t.req.Content)
	user.Attachments = t.req.AttachmentIDs
	if len(t.req.AttachmentIDs) > 0 && o.deps.Attachments != nil {
		images, err := o.deps.Attachments.Images(ctx, t.req.AttachmentIDs)
		if err != nil {
			return fmt.Errorf("failed to load attachments: %w", err)
		}
		user.Images = images
	}
	t.append(user)

	t.spec = o.deps.Catalog.Resolve(len(t.req.AttachmentIDs) > 0, t.req.DeepReasoning)
	if t.req.searchEnabled() && o.deps.Tools != nil {
		t.tools = o.deps.Tools.Definitions()
	}

	return nil
}

type executedCall struct {
	call   model.ToolCall
	result string
}

// streamWithFallback runs one streaming pass. A fallback eligible provider
// error switches the rest of the turn to the fallback model and repeats the
// pass once. If the failed pass already reached the client, a RetryingStatus
// event separates its output from the repeated pass, and searches it completed
// are not sent to the backend again.
func (o *Orchestrator) streamWithFallback(ctx context.Context, t *turn) ([]executedCall, error) {
	sent := t.sent
	calls, err := o.pass(ctx, t)
	if err == nil {
		return calls, nil
	}

	var pe *model.ProviderError
	if !errors.As(err, &pe) {
		return nil, passFailure(err)
	}
	if !pe.Kind.FallbackEligible() {
		return nil, failure(pe.Kind.Message(), err)
	}
	if t.onFallback {
		return nil, failure(UnavailableMessage, err)
	}

	t.logger.WarnContext(ctx, "primary model failed, switching to fallback",
		"type", t.spec.Type,
		"primary", t.spec.Primary,
		"fallback", t.spec.Fallback,
		"kind", pe.Kind.String(),
		"error", err,
	)
	o.metrics.IncrementFallbacks(string(t.spec.Type), pe.Kind.String())
	t.onFallback = true

	if t.sent > sent {
		if err := t.send(BackgroundStatus{Text: RetryingStatus}); err != nil {
			return nil, err
		}
	}

	calls, err = o.pass(ctx, t)
	if err == nil {
		return calls, nil
	}
	if errors.As(err, &pe) {
		return nil, failure(UnavailableMessage, err)
	}
	return nil, passFailure(err)
}

func passFailure(err error) error {
	var toolErr *tool.ToolError
	if errors.As(err, &toolErr) {
		return failure(ToolFailedMessage, err)
	}
	return err
}

// pass streams one model response. Content of a failed pass is dropped from
// the turn; content of a successful one is appended to the final answer.
func (o *Orchestrator) pass(ctx context.Context, t *turn) ([]executedCall, error) {
	provider := o.deps.Primary
	if t.onFallback {
		provider = o.deps.Fallback
	}

	reuse := t.retained
	t.retained = nil

	stream, err := provider.Stream(ctx, &model.Request{
		Model:       t.modelID(),
		Messages:    t.messages,
		Temperature: t.spec.Temperature,
		MaxTokens:   t.spec.MaxTokens,
		Timeout:     t.spec.Timeout,
		Tools:       t.tools,
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	offered := func(name string) bool {
		return len(t.tools) > 0 && o.deps.Tools.Supports(name)
	}
	accumulator := tool.NewAccumulator(offered, t.logger)
	announced := make(map[string]bool)

	var (
		content strings.Builder
		calls   []executedCall
	)
	retain := func(err error) ([]executedCall, error) {
		if len(calls) > 0 {
			t.retained = make(map[string]string, len(calls))
			for _, c := range calls {
				t.retained[toolKey(c.call)] = c.result
			}
		}
		return nil, err
	}

	for stream.Next() {
		switch delta := stream.Current().(type) {
		case model.ContentDelta:
			if delta.Text == "" {
				continue
			}
			content.WriteString(delta.Text)
			if err := t.send(ContentDelta{Text: delta.Text}); err != nil {
				return nil, err
			}

		case model.ToolCallDelta:
			fragment := accumulator.Add(delta)
			if fragment.Dropped {
				continue
			}

			if fragment.Name == tool.SearchToolName && !announced[fragment.ID] {
				announced[fragment.ID] = true
				if err := t.send(BackgroundStatus{Text: SearchingStatus}); err != nil {
					return nil, err
				}
			}

			err := t.send(ToolInvocation{
				ToolCallID: fragment.ID,
				Name:       fragment.Name,
				Arguments:  fragment.Arguments,
			})
			if err != nil {
				return nil, err
			}

			if fragment.Completed == nil {
				continue
			}

			call := *fragment.Completed
			result, ok := reuse[toolKey(call)]
			if !ok {
				if result, err = o.execute(ctx, t, call); err != nil {
					return nil, err
				}
			}
			if err := t.send(ToolInvocation{ToolCallID: call.ID, Name: call.Name, Result: result}); err != nil {
				return nil, err
			}
			calls = append(calls, executedCall{call: call, result: result})
		}
	}
	if err := stream.Err(); err != nil {
		return retain(err)
	}

	for _, call := range accumulator.Unfinished() {
		t.logger.WarnContext(ctx, "ignoring incomplete or unsupported tool call",
			"tool_call_id", call.ID,
			"name", call.Name,
		)
	}

	t.content.WriteString(content.String())
	return calls, nil
}

func (o *Orchestrator) execute(ctx context.Context, t *turn, call model.ToolCall) (string, error) {
	result, err := o.deps.Tools.Execute(ctx, call)
	o.metrics.IncrementToolExecutions(call.Name, err == nil)
	if err != nil {
		var toolErr *tool.ToolError
		if !errors.As(err, &toolErr) {
			err = tool.NewToolError(call.Name, err)
		}
		return "", err
	}

	t.logger.DebugContext(ctx, "tool executed", "tool_call_id", call.ID, "name", call.Name)
	return result, nil
}
