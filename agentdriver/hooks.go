package agentdriver

import (
	"fmt"

	"github.com/dimensional-research/orchestrator/llm"
)

// CachePointHook marks the most recent non-tool-result message with a cache
// hint so compatible providers can reuse prefix state (spec §4.5
// "cache-point annotation"; grounded on create_cache_point_hook in the
// original research agent, which annotates the latest human/AI turn before
// every model call).
func CachePointHook() PreModelHook {
	return func(messages []llm.Message) []llm.Message {
		idx := -1
		for i := len(messages) - 1; i >= 0; i-- {
			if !containsToolResult(messages[i]) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return messages
		}

		out := make([]llm.Message, len(messages))
		copy(out, messages)
		parts := make([]llm.Part, len(out[idx].Parts), len(out[idx].Parts)+1)
		copy(parts, out[idx].Parts)
		out[idx] = llm.Message{Role: out[idx].Role, Parts: append(parts, llm.CachePointPart{})}
		return out
	}
}

// ToolResultCompactionHook replaces the content of tool-result messages
// older than the last keepRecent with a short placeholder noting the tool
// name and a truncated call id, preserving the tool-call/tool-result
// linkage (spec §4.5 "tool-result compaction"; N=1 by default).
func ToolResultCompactionHook(keepRecent int) PreModelHook {
	if keepRecent <= 0 {
		keepRecent = 1
	}
	return func(messages []llm.Message) []llm.Message {
		names := toolNamesByCallID(messages)
		resultIdxs := toolResultIndexes(messages)
		if len(resultIdxs) <= keepRecent {
			return messages
		}
		stale := resultIdxs[:len(resultIdxs)-keepRecent]

		out := make([]llm.Message, len(messages))
		copy(out, messages)
		for _, idx := range stale {
			out[idx] = compactToolResult(out[idx], names)
		}
		return out
	}
}

func containsToolResult(msg llm.Message) bool {
	for _, p := range msg.Parts {
		if _, ok := p.(llm.ToolResultPart); ok {
			return true
		}
	}
	return false
}

func toolResultIndexes(messages []llm.Message) []int {
	var idxs []int
	for i, msg := range messages {
		if containsToolResult(msg) {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

func toolNamesByCallID(messages []llm.Message) map[string]string {
	names := make(map[string]string)
	for _, msg := range messages {
		for _, p := range msg.Parts {
			if tc, ok := p.(llm.ToolUsePart); ok {
				names[tc.ID] = tc.Name
			}
		}
	}
	return names
}

func compactToolResult(msg llm.Message, names map[string]string) llm.Message {
	parts := make([]llm.Part, len(msg.Parts))
	for i, p := range msg.Parts {
		tr, ok := p.(llm.ToolResultPart)
		if !ok {
			parts[i] = p
			continue
		}
		name := names[tr.ToolUseID]
		if name == "" {
			name = "tool"
		}
		id := tr.ToolUseID
		if len(id) > 8 {
			id = id[:8]
		}
		parts[i] = llm.ToolResultPart{
			ToolUseID: tr.ToolUseID,
			Content:   fmt.Sprintf("[%s result omitted, ref=%s]", name, id),
			IsError:   tr.IsError,
		}
	}
	return llm.Message{Role: msg.Role, Parts: parts}
}
