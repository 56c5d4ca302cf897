// Package tokencount estimates and bounds prompt content by model token
// count rather than word count, so research content fed into later LLM
// calls stays within a stable size the provider's prompt cache can key on
// (spec §4.11/§4.12's per-aspect and per-dimension content assembly).
package tokencount

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Counter wraps a single tiktoken encoding. It has no mutable state beyond
// the encoding table itself, so one Counter is shared across every stage
// handler via Deps.
type Counter struct {
	encoding *tiktoken.Tiktoken
}

// NewCL100KCounter builds a Counter using the cl100k_base encoding, the
// encoding shared by the Claude- and GPT-4-class models this system routes
// to (llm.Registry). Panics on failure: the encoding table is embedded in
// the tiktoken-go module, so a load failure here is a build-time defect,
// not a runtime condition callers can recover from.
func NewCL100KCounter() *Counter {
	enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
	if err != nil {
		panic("tokencount: load cl100k_base encoding: " + err.Error())
	}
	return &Counter{encoding: enc}
}

// Count returns the number of tokens text encodes to.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// Truncate returns text unchanged if it already fits within maxTokens,
// otherwise decodes the first maxTokens tokens and appends a marker so the
// cut is visible to whatever reads the result (a synthesis prompt, a log).
func (c *Counter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 || text == "" {
		return text
	}
	tokens := c.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	var b strings.Builder
	b.WriteString(c.encoding.Decode(tokens[:maxTokens]))
	b.WriteString("\n...[truncated]")
	return b.String()
}
