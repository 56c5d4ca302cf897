// Package agentdriver implements the agent driver (C5): a bounded
// tool-calling reasoning loop run against an llm.Provider with a supplied
// toolset (spec §4.5). It is the ReAct-style primitive every research-agent
// and exploration-sub-agent stage calls into.
package agentdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dimensional-research/orchestrator/llm"
	"github.com/dimensional-research/orchestrator/telemetry"
	"github.com/dimensional-research/orchestrator/toolclient"
)

// hardIterationFloor is the iteration cap Run uses when
// Request.MaxIterations is zero or negative. A positive MaxIterations is
// used as given, even when it is below this value.
const hardIterationFloor = 100

// ErrCancelled is the distinguished cancelled signal raised when
// Request.CancelCheck observes a cancelled session (spec §4.5, §5).
var ErrCancelled = errors.New("agentdriver: cancelled")

// IterationCapExceededError is returned when the loop exhausts its
// iteration cap without the model returning a terminal completion
// (spec §7 "Iteration cap exceeded... convert to a per-aspect placeholder").
type IterationCapExceededError struct{ Cap int }

func (e *IterationCapExceededError) Error() string {
	return fmt.Sprintf("agentdriver: iteration cap (%d) exceeded", e.Cap)
}

// ToolInvoker is the narrow capability the driver needs from the tool
// plane (spec §9 "dynamic dispatch over tools... interface with two
// methods"). *toolclient.Client satisfies this.
type ToolInvoker interface {
	Invoke(ctx context.Context, toolName string, arguments json.RawMessage) (toolclient.Result, error)
}

// PreModelHook is a pure transformation over the accumulated message list,
// applied before every model call (spec §4.5 item 4). Hooks must not mutate
// their input slice in place; they return a new one.
type PreModelHook func(messages []llm.Message) []llm.Message

// ToolCall records one tool invocation for the returned transcript.
type ToolCall struct {
	Name      string
	Arguments json.RawMessage
	Result    json.RawMessage
	IsError   bool
	Err       string
}

// Request configures one Run.
type Request struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Tools        []llm.ToolDefinition

	// MaxIterations overrides the iteration cap. Zero uses hardIterationFloor.
	// Callers deriving a cap from config.DepthProfile should pass
	// max(hardIterationFloor, profile.AgentMaxIter*2) (spec §4.5, §3.2).
	MaxIterations int
	MaxTokens     int
	Temperature   float32

	PreHooks []PreModelHook

	// CancelCheck is polled before every model call and after every tool
	// return (spec §4.5 "before each model call and after each tool
	// return"). Nil disables cancellation checks.
	CancelCheck func(ctx context.Context) (bool, error)
}

// Result is the outcome of a completed Run.
type Result struct {
	FinalText  string
	Transcript []ToolCall
	Iterations int
}

// Driver runs the reasoning loop against an llm.Provider and a tool plane.
type Driver struct {
	Provider llm.Provider
	Tools    ToolInvoker
}

// New builds a Driver.
func New(provider llm.Provider, tools ToolInvoker) *Driver {
	return &Driver{Provider: provider, Tools: tools}
}

// Run executes the loop described in spec §4.5: send prompt+tools, on a
// tool-use response invoke the tool and append its result, repeat until a
// terminal completion, the iteration cap, or cancellation.
func (d *Driver) Run(ctx context.Context, req Request) (Result, error) {
	cap := req.MaxIterations
	if cap <= 0 {
		cap = hardIterationFloor
	}

	messages := []llm.Message{{Role: llm.RoleUser, Parts: []llm.Part{llm.TextPart{Text: req.UserPrompt}}}}
	var transcript []ToolCall
	bundle := telemetry.FromContext(ctx)

	for iter := 0; iter < cap; iter++ {
		if cancelled, err := d.checkCancelled(ctx, req); err != nil {
			return Result{Transcript: transcript}, err
		} else if cancelled {
			return Result{Transcript: transcript}, ErrCancelled
		}

		input := messages
		for _, hook := range req.PreHooks {
			input = hook(input)
		}

		llmReq := llm.Request{
			Model:       req.Model,
			Messages:    append(systemMessage(req.SystemPrompt), input...),
			Tools:       req.Tools,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		}
		resp, err := d.Provider.Complete(ctx, llmReq)
		if err != nil {
			return Result{Transcript: transcript}, fmt.Errorf("agentdriver: complete: %w", err)
		}
		messages = append(messages, resp.Content...)

		if len(resp.ToolCalls) == 0 {
			return Result{FinalText: extractText(resp.Content), Transcript: transcript, Iterations: iter + 1}, nil
		}

		for _, tc := range resp.ToolCalls {
			entry := ToolCall{Name: tc.Name, Arguments: tc.Input}
			var resultText string
			isErr := false

			res, err := d.Tools.Invoke(ctx, tc.Name, tc.Input)
			switch {
			case err != nil:
				isErr = true
				resultText = err.Error()
				entry.Err = err.Error()
				bundle.Logger.Warn(ctx, "agentdriver: tool invocation failed", "tool", tc.Name, "error", err)
			default:
				isErr = res.IsError
				resultText = string(res.Payload)
				entry.Result = res.Payload
			}
			entry.IsError = isErr
			transcript = append(transcript, entry)

			messages = append(messages, llm.Message{
				Role:  llm.RoleUser,
				Parts: []llm.Part{llm.ToolResultPart{ToolUseID: tc.ID, Content: resultText, IsError: isErr}},
			})

			if cancelled, err := d.checkCancelled(ctx, req); err != nil {
				return Result{Transcript: transcript}, err
			} else if cancelled {
				return Result{Transcript: transcript}, ErrCancelled
			}
		}
	}

	return Result{Transcript: transcript}, &IterationCapExceededError{Cap: cap}
}

func (d *Driver) checkCancelled(ctx context.Context, req Request) (bool, error) {
	if req.CancelCheck == nil {
		return false, nil
	}
	cancelled, err := req.CancelCheck(ctx)
	if err != nil {
		return false, fmt.Errorf("agentdriver: cancel check: %w", err)
	}
	return cancelled, nil
}

func systemMessage(prompt string) []llm.Message {
	if prompt == "" {
		return nil
	}
	return []llm.Message{{Role: llm.RoleSystem, Parts: []llm.Part{llm.TextPart{Text: prompt}}}}
}

func extractText(content []llm.Message) string {
	var out string
	for _, msg := range content {
		for _, part := range msg.Parts {
			if t, ok := part.(llm.TextPart); ok {
				out += t.Text
			}
		}
	}
	return out
}
