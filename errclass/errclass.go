// Package errclass classifies a raw stage error into the small set of
// user-facing categories spec §7 names, so status.Publisher.AddError records
// something a frontend can react to instead of an opaque exception string.
package errclass

import "strings"

// Class is one of the fixed error categories a stage failure is rewritten
// into before publication (spec §7 "classified... and rewritten from raw
// exception text before being published to status").
type Class string

const (
	Timeout    Class = "timeout"
	RateLimit  Class = "rate_limit"
	Network    Class = "network"
	Auth       Class = "auth"
	NotFound   Class = "not_found"
	Model      Class = "model"
	TokenLimit Class = "token_limit"
	Validation Class = "validation"
	Memory     Class = "memory"
	Unknown    Class = "unknown"
)

// signature pairs a Class with the substrings (already lowercased) whose
// presence in an error message identifies it. Checked in order; the first
// match wins, so more specific categories (token_limit) are listed ahead of
// broader ones (model) they would otherwise also match.
var signatures = []struct {
	class Class
	terms []string
}{
	{Timeout, []string{"timeout", "timed out", "deadline exceeded", "context deadline"}},
	{RateLimit, []string{"rate limit", "too many requests", "throttl", "429"}},
	{TokenLimit, []string{"token limit", "context length", "maximum context", "too many tokens"}},
	{Auth, []string{"unauthorized", "forbidden", "access denied", "accessdenied", "invalid api key", "authentication"}},
	{Network, []string{"connection refused", "connection reset", "no such host", "network", "dial tcp", "eof"}},
	{NotFound, []string{"not found", "no such", "404"}},
	{Validation, []string{"validation", "invalid argument", "does not match", "required field", "decode arguments"}},
	{Memory, []string{"memorystore", "memory store", "agentcore memory"}},
	{Model, []string{"model", "bedrock", "anthropic", "openai", "completion"}},
}

// Classify inspects err's message for the signatures above and returns the
// first matching Class, or Unknown if none match. nil classifies as Unknown.
func Classify(err error) Class {
	if err == nil {
		return Unknown
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range signatures {
		for _, term := range sig.terms {
			if strings.Contains(msg, term) {
				return sig.class
			}
		}
	}
	return Unknown
}
