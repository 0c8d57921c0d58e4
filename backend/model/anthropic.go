package model

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

type AnthropicMessageService interface {
	NewStreaming(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

type AnthropicProvider struct {
	messageService AnthropicMessageService
	options        *ProviderOptions
	call           streamCall[anthropic.MessageStreamEventUnion]
}

var _ Provider = (*AnthropicProvider)(nil)

func NewAnthropicProvider(apiKey string, opts ...ProviderOption) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	providerOptions := DefaultProviderOptions(string(ProviderKindAnthropic))
	for _, opt := range opts {
		opt(providerOptions)
	}

	clientOptions := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if providerOptions.URL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(providerOptions.URL))
	}

	client := anthropic.NewClient(clientOptions...)
	return NewAnthropicProviderWithService(&client.Messages, providerOptions), nil
}

func NewAnthropicProviderWithService(messageService AnthropicMessageService, options *ProviderOptions) *AnthropicProvider {
	if options == nil {
		options = DefaultProviderOptions(string(ProviderKindAnthropic))
	}

	p := &AnthropicProvider{
		messageService: messageService,
		options:        options,
	}
	p.call = streamCall[anthropic.MessageStreamEventUnion]{
		provider: options.Name,
		options:  options,
		metrics:  newProviderMetricsProvider(options.Metrics),
		split:    splitAnthropicEvent,
		classify: p.classifyError,
	}

	return p
}

func (p *AnthropicProvider) Name() string {
	return p.options.Name
}

func (p *AnthropicProvider) Stream(ctx context.Context, req *Request) (Stream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	system, messages, err := p.transformMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: req.MaxTokens,
		System:    system,
		Messages:  messages,
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = p.transformTools(req.Tools)
	}

	return p.call.open(ctx, req, func(ctx context.Context) eventStream[anthropic.MessageStreamEventUnion] {
		return p.messageService.NewStreaming(ctx, params)
	})
}

// transformMessages lifts system messages into the system parameter. Tool
// results travel as tool_result blocks inside user messages.
func (p *AnthropicProvider) transformMessages(messages []*Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam, error) {
	var (
		system []anthropic.TextBlockParam
		result []anthropic.MessageParam
	)

	for _, message := range messages {
		switch message.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: message.Content})
		case RoleUser:
			blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(message.Content)}
			for _, image := range message.Images {
				blocks = append(blocks, anthropic.NewImageBlockBase64(image.MimeType, base64.StdEncoding.EncodeToString(image.Data)))
			}
			result = append(result, anthropic.NewUserMessage(blocks...))
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if message.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(message.Content))
			}
			for _, call := range message.RequestedToolCalls() {
				input := json.RawMessage(call.Arguments)
				if !json.Valid(input) {
					return nil, nil, fmt.Errorf("tool call %s has invalid arguments", call.ID)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		case RoleTool:
			if message.ToolCall == nil {
				return nil, nil, fmt.Errorf("tool message %s has no tool call", message.ID)
			}
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(message.ToolCall.ID, message.Content, false),
			))
		}
	}

	return system, result, nil
}

func (p *AnthropicProvider) transformTools(tools []ToolDefinition) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		schema := anthropic.ToolInputSchemaParam{
			Properties: tool.Parameters["properties"],
		}
		switch required := tool.Parameters["required"].(type) {
		case []string:
			schema.Required = required
		case []any:
			for _, name := range required {
				if s, ok := name.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		for key, value := range tool.Parameters {
			if key == "type" || key == "properties" || key == "required" {
				continue
			}
			if schema.ExtraFields == nil {
				schema.ExtraFields = make(map[string]any)
			}
			schema.ExtraFields[key] = value
		}

		result = append(result, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: schema,
			},
		})
	}
	return result
}

func splitAnthropicEvent(event anthropic.MessageStreamEventUnion) []Delta {
	switch event := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if event.ContentBlock.Type == "tool_use" {
			return []Delta{ToolCallDelta{ID: event.ContentBlock.ID, Name: event.ContentBlock.Name}}
		}
		if event.ContentBlock.Text != "" {
			return []Delta{ContentDelta{Text: event.ContentBlock.Text}}
		}
	case anthropic.ContentBlockDeltaEvent:
		switch event.Delta.Type {
		case "text_delta":
			if event.Delta.Text != "" {
				return []Delta{ContentDelta{Text: event.Delta.Text}}
			}
		case "input_json_delta":
			if event.Delta.PartialJSON != "" {
				return []Delta{ToolCallDelta{Arguments: event.Delta.PartialJSON}}
			}
		}
	}
	return nil
}

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AnthropicProvider) classifyError(err error) *ProviderError {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		var body anthropicErrorBody
		_ = json.Unmarshal([]byte(apiErr.RawJSON()), &body)

		pe := NewProviderError(p.options.Name, Classify(apiErr.StatusCode, body.Error.Type, body.Error.Message), err)
		pe.StatusCode = apiErr.StatusCode
		return pe
	}

	// errors delivered as stream events carry the error type in the payload
	message := err.Error()
	for _, code := range []string{"overloaded_error", "rate_limit_error"} {
		if strings.Contains(message, code) {
			return NewProviderError(p.options.Name, Classify(0, code, message), err)
		}
	}
	if strings.Contains(message, "api_error") {
		return NewProviderError(p.options.Name, KindServerError, err)
	}

	return NewProviderError(p.options.Name, KindUnknown, err)
}
