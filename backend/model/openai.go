package model

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"
)

type OpenAIChatCompletionService interface {
	NewStreaming(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// OpenAIProvider talks to the OpenAI chat completions API or any endpoint
// compatible with it.
type OpenAIProvider struct {
	chatService OpenAIChatCompletionService
	options     *ProviderOptions
	call        streamCall[openai.ChatCompletionChunk]
}

var _ Provider = (*OpenAIProvider)(nil)

func NewOpenAIProvider(apiKey string, opts ...ProviderOption) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	providerOptions := DefaultProviderOptions(string(ProviderKindOpenAI))
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

	client := openai.NewClient(clientOptions...)
	return NewOpenAIProviderWithService(&client.Chat.Completions, providerOptions), nil
}

func NewOpenAIProviderWithService(chatService OpenAIChatCompletionService, options *ProviderOptions) *OpenAIProvider {
	if options == nil {
		options = DefaultProviderOptions(string(ProviderKindOpenAI))
	}

	p := &OpenAIProvider{
		chatService: chatService,
		options:     options,
	}
	p.call = streamCall[openai.ChatCompletionChunk]{
		provider: options.Name,
		options:  options,
		metrics:  newProviderMetricsProvider(options.Metrics),
		split:    splitOpenAIChunk,
		classify: p.classifyError,
	}

	return p
}

func (p *OpenAIProvider) Name() string {
	return p.options.Name
}

func (p *OpenAIProvider) Stream(ctx context.Context, req *Request) (Stream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: p.transformMessages(req.Messages),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		params.Tools = p.transformTools(req.Tools)
	}

	return p.call.open(ctx, req, func(ctx context.Context) eventStream[openai.ChatCompletionChunk] {
		return p.chatService.NewStreaming(ctx, params)
	})
}

func (p *OpenAIProvider) transformMessages(messages []*Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, message := range messages {
		switch message.Role {
		case RoleSystem:
			result = append(result, openai.SystemMessage(message.Content))
		case RoleUser:
			if len(message.Images) == 0 {
				result = append(result, openai.UserMessage(message.Content))
				continue
			}
			parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(message.Content)}
			for _, image := range message.Images {
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: dataURL(image),
				}))
			}
			result = append(result, openai.UserMessage(parts))
		case RoleAssistant:
			calls := message.RequestedToolCalls()
			if len(calls) == 0 {
				result = append(result, openai.AssistantMessage(message.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if message.Content != "" {
				assistant.Content.OfString = openai.String(message.Content)
			}
			for _, call := range calls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}
			result = append(result, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case RoleTool:
			var toolCallID string
			if message.ToolCall != nil {
				toolCallID = message.ToolCall.ID
			}
			result = append(result, openai.ToolMessage(message.Content, toolCallID))
		}
	}

	return result
}

func (p *OpenAIProvider) transformTools(tools []ToolDefinition) []openai.ChatCompletionToolParam {
	result := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, tool := range tools {
		result = append(result, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  shared.FunctionParameters(tool.Parameters),
			},
		})
	}
	return result
}

func splitOpenAIChunk(chunk openai.ChatCompletionChunk) []Delta {
	if len(chunk.Choices) == 0 {
		return nil
	}

	delta := chunk.Choices[0].Delta
	var deltas []Delta
	if delta.Content != "" {
		deltas = append(deltas, ContentDelta{Text: delta.Content})
	}
	for _, toolCall := range delta.ToolCalls {
		deltas = append(deltas, ToolCallDelta{
			ID:        toolCall.ID,
			Name:      toolCall.Function.Name,
			Arguments: toolCall.Function.Arguments,
		})
	}

	return deltas
}

func (p *OpenAIProvider) classifyError(err error) *ProviderError {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		code := apiErr.Code
		if code == "" {
			code = apiErr.Type
		}
		pe := NewProviderError(p.options.Name, Classify(apiErr.StatusCode, code, apiErr.Message), err)
		pe.StatusCode = apiErr.StatusCode
		return pe
	}

	return NewProviderError(p.options.Name, KindUnknown, err)
}

func dataURL(image Image) string {
	return fmt.Sprintf("data:%s;base64,%s", image.MimeType, base64.StdEncoding.EncodeToString(image.Data))
}
