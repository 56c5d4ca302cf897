// Package jsonrecovery implements the robust JSON-from-model-text parsing
// contract: strip markdown fences, locate the widest object span, retry
// after normalizing common LLM formatting mistakes, and fall back to the
// largest extractable valid JSON object/array before giving up.
package jsonrecovery

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Error is returned when every recovery strategy fails. It carries the first
// 500 characters of the original text for diagnostics, per spec §9 step 5.
type Error struct {
	Context  string
	Attempts []string
	Snippet  string
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "jsonrecovery: failed to parse JSON for %s after %d attempts:\n", e.Context, len(e.Attempts))
	for i, attempt := range e.Attempts {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, attempt)
	}
	fmt.Fprintf(&b, "\noriginal text (first 500 chars):\n%s", e.Snippet)
	return b.String()
}

var (
	trailingCommaRe  = regexp.MustCompile(`,(\s*[}\]])`)
	missingCommaRe   = regexp.MustCompile(`("\s*)\n(\s*"[^"]+"\s*:)`)
	braceObjectRe    = regexp.MustCompile(`\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\}`)
	bracketArrayRe   = regexp.MustCompile(`\[[^\[\]]*(?:\[[^\[\]]*\][^\[\]]*)*\]`)
)

// Parse recovers a single top-level JSON object (or array, wrapped under the
// "data" key) from raw model output and unmarshals it into out. context
// names the call site for diagnostics only.
func Parse(responseText, context string, out any) error {
	if strings.TrimSpace(responseText) == "" {
		return fmt.Errorf("jsonrecovery: empty response for %s", context)
	}

	var attempts []string
	text := strings.TrimSpace(responseText)

	// Step 1: strip markdown fences.
	text = stripFences(text)

	// Extract the widest { ... } span.
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start != -1 && end != -1 && start < end {
		text = text[start : end+1]
	}

	// Step 2: direct parse.
	if err := json.Unmarshal([]byte(text), out); err == nil {
		return nil
	} else {
		attempts = append(attempts, fmt.Sprintf("direct parse: %v", err))
	}

	// Step 3: normalize trailing commas and missing inter-field commas, retry.
	fixed := trailingCommaRe.ReplaceAllString(text, "$1")
	fixed = missingCommaRe.ReplaceAllString(fixed, "$1,\n$2")
	if fixed != text {
		if err := json.Unmarshal([]byte(fixed), out); err == nil {
			return nil
		} else {
			attempts = append(attempts, fmt.Sprintf("auto-fix parse: %v", err))
		}
	}

	// Step 4: last resort, extract the largest valid JSON object substring.
	objects := braceObjectRe.FindAllString(text, -1)
	sort.SliceStable(objects, func(i, j int) bool { return len(objects[i]) > len(objects[j]) })
	for _, candidate := range objects {
		if err := json.Unmarshal([]byte(candidate), out); err == nil {
			return nil
		}
	}
	arrays := bracketArrayRe.FindAllString(text, -1)
	sort.SliceStable(arrays, func(i, j int) bool { return len(arrays[i]) > len(arrays[j]) })
	for _, candidate := range arrays {
		wrapped := fmt.Sprintf(`{"data":%s}`, candidate)
		if err := json.Unmarshal([]byte(wrapped), out); err == nil {
			return nil
		}
	}
	attempts = append(attempts, "partial extraction: no valid object or array found")

	snippet := responseText
	if len(snippet) > 500 {
		snippet = snippet[:500]
	}
	return &Error{Context: context, Attempts: attempts, Snippet: snippet}
}

// ParseMap is a convenience wrapper returning a generic map, with validation
// that expectedKeys are all present (spec §9 step 5).
func ParseMap(responseText, context string, expectedKeys ...string) (map[string]any, error) {
	var out map[string]any
	if err := Parse(responseText, context, &out); err != nil {
		return nil, err
	}
	var missing []string
	for _, key := range expectedKeys {
		if _, ok := out[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("jsonrecovery: missing expected keys in JSON for %s: %v", context, missing)
	}
	return out, nil
}

func stripFences(text string) string {
	if idx := strings.Index(text, "```json"); idx != -1 {
		rest := text[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end != -1 {
			return strings.TrimSpace(rest[:end])
		}
		return strings.TrimSpace(rest)
	}
	if idx := strings.Index(text, "```"); idx != -1 {
		rest := text[idx+3:]
		if end := strings.Index(rest, "```"); end != -1 {
			return strings.TrimSpace(rest[:end])
		}
		return strings.TrimSpace(rest)
	}
	return text
}
