package llm

import (
	"context"
	"encoding/json"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Part is implemented by every message content block. Keeping parts typed
// (rather than flattening a message to a plain string) lets the agent driver
// distinguish prose, tool calls, tool results, and document attachments
// without string sniffing.
type Part interface{ isPart() }

// TextPart is plain prose content.
type TextPart struct{ Text string }

// DocumentPart attaches a PDF (or other supported format) for document
// understanding. Exactly one of Bytes or URI should be set.
type DocumentPart struct {
	Name   string
	Format string // "pdf"
	Bytes  []byte
	URI    string
}

// ToolUsePart is a tool invocation requested by the model.
type ToolUsePart struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResultPart carries the result of a tool invocation back to the model.
type ToolResultPart struct {
	ToolUseID string
	Content   string
	IsError   bool
}

// CachePointPart marks a prompt-cache checkpoint. Providers that do not
// support cache hints ignore it; callers must never rely on cache presence
// for correctness (spec.md §9 "Prompt-cache hints").
type CachePointPart struct{}

func (TextPart) isPart()       {}
func (DocumentPart) isPart()   {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}
func (CachePointPart) isPart() {}

// Message is one turn in a conversation.
type Message struct {
	Role  Role
	Parts []Part
}

// ToolDefinition describes a tool exposed to the model, derived from the
// tool plane's discovered input schema (toolclient.Descriptor).
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// TokenUsage reports token accounting for a single Complete call.
type TokenUsage struct {
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
}

// Request captures one model invocation.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float32
}

// Response is the provider-agnostic result of Complete.
type Response struct {
	Content    []Message
	ToolCalls  []ToolUsePart
	Usage      TokenUsage
	StopReason string
}

// Provider is the provider-agnostic model client every LLM adapter
// (Anthropic, Bedrock, OpenAI) implements.
type Provider interface {
	// Complete performs a non-streaming model invocation.
	Complete(ctx context.Context, req Request) (Response, error)
}
