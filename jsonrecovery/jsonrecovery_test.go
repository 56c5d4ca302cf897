package jsonrecovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_DirectObject(t *testing.T) {
	var out map[string]any
	err := Parse(`{"dimensions": ["a", "b"]}`, "test", &out)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out["dimensions"])
}

func TestParse_FencedJSON(t *testing.T) {
	text := "Here is the plan:\n```json\n{\"aspects\": [\"x\"]}\n```\nLet me know if that works."
	var out map[string]any
	err := Parse(text, "test", &out)
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, out["aspects"])
}

func TestParse_BareFence(t *testing.T) {
	text := "```\n{\"ok\": true}\n```"
	var out map[string]any
	require.NoError(t, Parse(text, "test", &out))
	assert.Equal(t, true, out["ok"])
}

func TestParse_TrailingComma(t *testing.T) {
	text := `{"a": 1, "b": 2,}`
	var out map[string]any
	require.NoError(t, Parse(text, "test", &out))
	assert.Equal(t, float64(2), out["b"])
}

func TestParse_SurroundingProse(t *testing.T) {
	text := `Sure, here's the result: {"topic": "async"} -- hope that helps!`
	var out map[string]any
	require.NoError(t, Parse(text, "test", &out))
	assert.Equal(t, "async", out["topic"])
}

func TestParse_PartialExtractionFallback(t *testing.T) {
	text := `not really json at all but somewhere in here {"salvage": "me"} is hiding`
	var out map[string]any
	require.NoError(t, Parse(text, "test", &out))
	assert.Equal(t, "me", out["salvage"])
}

func TestParse_EmptyInputFails(t *testing.T) {
	var out map[string]any
	err := Parse("   ", "test", &out)
	require.Error(t, err)
}

func TestParse_PersistentFailureIncludesSnippet(t *testing.T) {
	var out map[string]any
	longGarbage := make([]byte, 600)
	for i := range longGarbage {
		longGarbage[i] = 'x'
	}
	err := Parse(string(longGarbage), "planning", &out)
	require.Error(t, err)
	var recErr *Error
	require.ErrorAs(t, err, &recErr)
	assert.Len(t, recErr.Snippet, 500)
	assert.Equal(t, "planning", recErr.Context)
}

func TestParseMap_MissingExpectedKeys(t *testing.T) {
	_, err := ParseMap(`{"topic": "x"}`, "planning", "topic", "dimensions")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimensions")
}

func TestParseMap_AllKeysPresent(t *testing.T) {
	out, err := ParseMap(`{"topic": "x", "dimensions": ["a"]}`, "planning", "topic", "dimensions")
	require.NoError(t, err)
	assert.Equal(t, "x", out["topic"])
}
