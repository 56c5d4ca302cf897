package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider on top of the OpenAI Chat Completions
// API. Registered in the model registry as an alternate chat-usage provider
// (llm.Registry, SPEC_FULL §B).
type OpenAIProvider struct {
	client       openai.Client
	defaultModel string
}

func NewOpenAIProvider(apiKey, defaultModel string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("llm: openai api key is required")
	}
	if defaultModel == "" {
		return nil, errors.New("llm: openai default model is required")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIProvider{client: client, defaultModel: defaultModel}, nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (Response, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = p.defaultModel
	}

	var messages []openai.ChatCompletionMessageParamUnion
	for _, msg := range req.Messages {
		text := flattenText(msg.Parts)
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(text))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(text))
		default:
			messages = append(messages, openai.UserMessage(text))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    modelID,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			var schema map[string]any
			_ = json.Unmarshal(t.InputSchema, &schema)
			tools = append(tools, openai.ChatCompletionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  schema,
				},
			})
		}
		params.Tools = tools
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("llm: openai complete: %w", err)
	}
	return translateOpenAICompletion(completion), nil
}

func flattenText(parts []Part) string {
	var out string
	for _, part := range parts {
		if tp, ok := part.(TextPart); ok {
			if out != "" {
				out += "\n"
			}
			out += tp.Text
		}
	}
	return out
}

func translateOpenAICompletion(completion *openai.ChatCompletion) Response {
	resp := Response{
		Usage: TokenUsage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}
	if len(completion.Choices) == 0 {
		return resp
	}
	choice := completion.Choices[0]
	resp.StopReason = string(choice.FinishReason)
	var parts []Part
	if choice.Message.Content != "" {
		parts = append(parts, TextPart{Text: choice.Message.Content})
	}
	for _, call := range choice.Message.ToolCalls {
		tc := ToolUsePart{ID: call.ID, Name: call.Function.Name, Input: json.RawMessage(call.Function.Arguments)}
		resp.ToolCalls = append(resp.ToolCalls, tc)
		parts = append(parts, tc)
	}
	resp.Content = []Message{{Role: RoleAssistant, Parts: parts}}
	return resp
}
