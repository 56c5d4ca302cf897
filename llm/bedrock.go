package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go/document"
)

// BedrockProvider implements Provider on top of the AWS Bedrock Converse API.
// It is the provider used for document-understanding requests (spec §6.2
// "Document input"): the reference-preparation stage attaches a reference PDF and asks
// for a summary.
type BedrockProvider struct {
	runtime      *bedrockruntime.Client
	defaultModel string
}

// NewBedrockProvider wraps an already-configured Bedrock runtime client.
func NewBedrockProvider(runtime *bedrockruntime.Client, defaultModel string) (*BedrockProvider, error) {
	if runtime == nil {
		return nil, errors.New("llm: bedrock runtime client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("llm: bedrock default model is required")
	}
	return &BedrockProvider{runtime: runtime, defaultModel: defaultModel}, nil
}

// maxDocumentBytes bounds PDF document input per spec §6.2 ("capped at 4.5 MB").
const maxDocumentBytes = 4*1024*1024 + 512*1024

func (p *BedrockProvider) Complete(ctx context.Context, req Request) (Response, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = p.defaultModel
	}

	var system []brtypes.SystemContentBlock
	var messages []brtypes.Message
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			for _, part := range msg.Parts {
				if tp, ok := part.(TextPart); ok {
					system = append(system, &brtypes.SystemContentBlockMemberText{Value: tp.Text})
				}
			}
			continue
		}
		blocks, err := bedrockBlocks(msg.Parts)
		if err != nil {
			return Response{}, err
		}
		role := brtypes.ConversationRoleUser
		if msg.Role == RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		messages = append(messages, brtypes.Message{Role: role, Content: blocks})
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		System:   system,
		Messages: messages,
	}
	if len(req.Tools) > 0 {
		toolConfig, err := bedrockToolConfig(req.Tools)
		if err != nil {
			return Response{}, err
		}
		input.ToolConfig = toolConfig
	}
	if req.MaxTokens > 0 || req.Temperature > 0 {
		cfg := &brtypes.InferenceConfiguration{}
		if req.MaxTokens > 0 {
			mt := int32(req.MaxTokens)
			cfg.MaxTokens = &mt
		}
		if req.Temperature > 0 {
			cfg.Temperature = &req.Temperature
		}
		input.InferenceConfig = cfg
	}

	out, err := p.runtime.Converse(ctx, input)
	if err != nil {
		return Response{}, fmt.Errorf("llm: bedrock converse: %w", err)
	}
	return translateBedrockOutput(out)
}

func bedrockBlocks(parts []Part) ([]brtypes.ContentBlock, error) {
	blocks := make([]brtypes.ContentBlock, 0, len(parts))
	for _, part := range parts {
		switch p := part.(type) {
		case TextPart:
			blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: p.Text})
		case ToolResultPart:
			status := brtypes.ToolResultStatusSuccess
			if p.IsError {
				status = brtypes.ToolResultStatusError
			}
			blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{
				Value: brtypes.ToolResultBlock{
					ToolUseId: aws.String(p.ToolUseID),
					Status:    status,
					Content: []brtypes.ToolResultContentBlock{
						&brtypes.ToolResultContentBlockMemberText{Value: p.Content},
					},
				},
			})
		case ToolUsePart:
			var input document.Interface
			_ = json.Unmarshal(p.Input, &input)
			blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{
				Value: brtypes.ToolUseBlock{ToolUseId: aws.String(p.ID), Name: aws.String(p.Name), Input: input},
			})
		case DocumentPart:
			if len(p.Bytes) > maxDocumentBytes {
				return nil, fmt.Errorf("llm: document %q exceeds 4.5MB bound", p.Name)
			}
			if p.Bytes != nil {
				blocks = append(blocks, &brtypes.ContentBlockMemberDocument{
					Value: brtypes.DocumentBlock{
						Name:   aws.String(p.Name),
						Format: brtypes.DocumentFormatPdf,
						Source: &brtypes.DocumentSourceMemberBytes{Value: p.Bytes},
					},
				})
			}
		case CachePointPart:
			blocks = append(blocks, &brtypes.ContentBlockMemberCachePoint{
				Value: brtypes.CachePointBlock{Type: brtypes.CachePointTypeDefault},
			})
		}
	}
	return blocks, nil
}

func bedrockToolConfig(defs []ToolDefinition) (*brtypes.ToolConfiguration, error) {
	tools := make([]brtypes.Tool, 0, len(defs))
	for _, t := range defs {
		var schema document.Interface
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("llm: decode tool schema for %q: %w", t.Name, err)
		}
		tools = append(tools, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: schema},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: tools}, nil
}

func translateBedrockOutput(out *bedrockruntime.ConverseOutput) (Response, error) {
	resp := Response{StopReason: string(out.StopReason)}
	if out.Usage != nil {
		resp.Usage = TokenUsage{
			InputTokens:      int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens:     int(aws.ToInt32(out.Usage.OutputTokens)),
			CacheReadTokens:  int(aws.ToInt32(out.Usage.CacheReadInputTokens)),
			CacheWriteTokens: int(aws.ToInt32(out.Usage.CacheWriteInputTokens)),
		}
	}
	msgOutput, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return resp, errors.New("llm: bedrock converse returned no message output")
	}
	var parts []Part
	for _, block := range msgOutput.Value.Content {
		switch variant := block.(type) {
		case *brtypes.ContentBlockMemberText:
			parts = append(parts, TextPart{Text: variant.Value})
		case *brtypes.ContentBlockMemberToolUse:
			raw, _ := json.Marshal(variant.Value.Input)
			call := ToolUsePart{ID: aws.ToString(variant.Value.ToolUseId), Name: aws.ToString(variant.Value.Name), Input: raw}
			resp.ToolCalls = append(resp.ToolCalls, call)
			parts = append(parts, call)
		}
	}
	if len(parts) > 0 {
		resp.Content = []Message{{Role: RoleAssistant, Parts: parts}}
	}
	return resp, nil
}
