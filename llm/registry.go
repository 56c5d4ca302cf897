// Package llm provides the provider-agnostic language-model client used by
// the agent driver: text generation, tool-use, document input, and a model
// registry resolving opaque short names to provider-specific identifiers.
package llm

import "fmt"

// ModelInfo describes one entry in the registry: a short, opaque name used
// throughout ResearchConfig and the driver, and the canonical provider id it
// resolves to.
type ModelInfo struct {
	ID             string   // short name, e.g. "claude_haiku45"
	Label          string   // human-readable label
	Provider       string   // "anthropic", "bedrock", "openai"
	CanonicalID    string   // provider's native model identifier
	RecommendedFor []string // "chat", "research"
}

// Registry resolves short model names (and aliases) to ModelInfo. It mirrors
// shared/model_registry.py: a small in-memory table plus an alias map, rather
// than a config file loaded at import time, since this system loads its
// configuration from the environment (SPEC_FULL §A.3) not from a bundled
// JSON asset.
type Registry struct {
	models  map[string]ModelInfo
	aliases map[string]string
}

// NewRegistry builds the registry with the models this system recommends for
// research and chat usage. Entries are representative of each wired provider
// (Anthropic direct, Bedrock, OpenAI) rather than an exhaustive model list.
func NewRegistry() *Registry {
	models := map[string]ModelInfo{
		"claude_haiku45": {
			ID: "claude_haiku45", Label: "Claude Haiku 4.5", Provider: "bedrock",
			CanonicalID: "us.anthropic.claude-haiku-4-5-20251001-v1:0", RecommendedFor: []string{"chat", "research"},
		},
		"claude_sonnet45": {
			ID: "claude_sonnet45", Label: "Claude Sonnet 4.5", Provider: "anthropic",
			CanonicalID: "claude-sonnet-4-5", RecommendedFor: []string{"research"},
		},
		"claude_opus45": {
			ID: "claude_opus45", Label: "Claude Opus 4.5", Provider: "anthropic",
			CanonicalID: "claude-opus-4-5", RecommendedFor: []string{"research"},
		},
		"nova_pro": {
			ID: "nova_pro", Label: "Amazon Nova Pro", Provider: "bedrock",
			CanonicalID: "us.amazon.nova-pro-v1:0", RecommendedFor: []string{"chat"},
		},
		"gpt4o": {
			ID: "gpt4o", Label: "GPT-4o", Provider: "openai",
			CanonicalID: "gpt-4o", RecommendedFor: []string{"chat", "research"},
		},
	}
	aliases := map[string]string{
		"claude_haiku":  "claude_haiku45",
		"claude_sonnet": "claude_sonnet45",
		"claude_opus":   "claude_opus45",
	}
	return &Registry{models: models, aliases: aliases}
}

// Resolve looks up modelID, following one alias hop, and returns its
// ModelInfo.
func (r *Registry) Resolve(modelID string) (ModelInfo, error) {
	id := modelID
	if target, ok := r.aliases[modelID]; ok {
		id = target
	}
	info, ok := r.models[id]
	if !ok {
		return ModelInfo{}, fmt.Errorf("llm: unknown model id %q", modelID)
	}
	return info, nil
}

// List returns every model recommended for usage, or every model if usage
// is empty.
func (r *Registry) List(usage string) []ModelInfo {
	var out []ModelInfo
	for _, m := range r.models {
		if usage == "" || contains(m.RecommendedFor, usage) {
			out = append(out, m)
		}
	}
	return out
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
