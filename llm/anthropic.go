package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider on top of the Anthropic Messages API.
type AnthropicProvider struct {
	messages     *sdk.MessageService
	defaultModel string
}

// NewAnthropicProvider builds a Provider from an API key and the canonical
// model identifier this provider should default to when Request.Model is
// empty.
func NewAnthropicProvider(apiKey, defaultModel string) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, errors.New("llm: anthropic api key is required")
	}
	if defaultModel == "" {
		return nil, errors.New("llm: anthropic default model is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{messages: &client.Messages, defaultModel: defaultModel}, nil
}

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (Response, error) {
	if len(req.Messages) == 0 {
		return Response{}, errors.New("llm: anthropic request requires at least one message")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = p.defaultModel
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: maxTokens,
	}

	var system []sdk.TextBlockParam
	var messages []sdk.MessageParam
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			for _, part := range msg.Parts {
				if tp, ok := part.(TextPart); ok {
					system = append(system, sdk.TextBlockParam{Text: tp.Text})
				}
			}
			continue
		}
		blocks, err := anthropicBlocks(msg.Parts)
		if err != nil {
			return Response{}, err
		}
		role := sdk.MessageParamRoleUser
		if msg.Role == RoleAssistant {
			role = sdk.MessageParamRoleAssistant
		}
		messages = append(messages, sdk.MessageParam{Role: role, Content: blocks})
	}
	params.System = system
	params.Messages = messages

	if len(req.Tools) > 0 {
		tools := make([]sdk.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			var schema any
			_ = json.Unmarshal(t.InputSchema, &schema)
			tools = append(tools, sdk.ToolUnionParam{
				OfTool: &sdk.ToolParam{
					Name:        t.Name,
					Description: sdk.String(t.Description),
					InputSchema: sdk.ToolInputSchemaParam{},
				},
			})
		}
		params.Tools = tools
	}

	msg, err := p.messages.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("llm: anthropic complete: %w", err)
	}
	return translateAnthropicMessage(msg), nil
}

func anthropicBlocks(parts []Part) ([]sdk.ContentBlockParamUnion, error) {
	blocks := make([]sdk.ContentBlockParamUnion, 0, len(parts))
	for _, part := range parts {
		switch p := part.(type) {
		case TextPart:
			blocks = append(blocks, sdk.NewTextBlock(p.Text))
		case ToolResultPart:
			blocks = append(blocks, sdk.NewToolResultBlock(p.ToolUseID, p.Content, p.IsError))
		case ToolUsePart:
			var input any
			_ = json.Unmarshal(p.Input, &input)
			blocks = append(blocks, sdk.NewToolUseBlock(p.ID, input, p.Name))
		case DocumentPart:
			if p.Bytes != nil {
				blocks = append(blocks, sdk.NewDocumentBlock(sdk.NewBase64PDFSourceParam(p.Bytes)))
			}
		case CachePointPart:
			// Anthropic cache points are attached to the preceding block via
			// CacheControl; without structural access to the prior block here
			// we drop the hint rather than risk misattaching it. Never rely on
			// cache presence for correctness.
		}
	}
	return blocks, nil
}

func translateAnthropicMessage(msg *sdk.Message) Response {
	resp := Response{
		Usage: TokenUsage{
			InputTokens:      int(msg.Usage.InputTokens),
			OutputTokens:      int(msg.Usage.OutputTokens),
			CacheReadTokens:  int(msg.Usage.CacheReadInputTokens),
			CacheWriteTokens: int(msg.Usage.CacheCreationInputTokens),
		},
		StopReason: string(msg.StopReason),
	}
	var parts []Part
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case sdk.TextBlock:
			parts = append(parts, TextPart{Text: variant.Text})
		case sdk.ToolUseBlock:
			raw, _ := json.Marshal(variant.Input)
			call := ToolUsePart{ID: variant.ID, Name: variant.Name, Input: raw}
			resp.ToolCalls = append(resp.ToolCalls, call)
			parts = append(parts, call)
		}
	}
	if len(parts) > 0 {
		resp.Content = []Message{{Role: RoleAssistant, Parts: parts}}
	}
	return resp
}
