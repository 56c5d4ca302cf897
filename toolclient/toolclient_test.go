package toolclient

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover_SplitsQualifiedNamesAndCaches(t *testing.T) {
	c := New(NewMockCaller(), Options{})
	descs, err := c.Discover(context.Background(), false)
	require.NoError(t, err)
	require.NotEmpty(t, descs)
	for _, d := range descs {
		assert.NotContains(t, d.Name, "___")
		assert.Contains(t, d.Qualified, "___")
	}

	// second call without forceRefresh must hit the cache, not the caller.
	descs2, err := c.Discover(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, descs, descs2)
}

func TestInvoke_ValidatesArgumentsAgainstSchema(t *testing.T) {
	c := New(NewMockCaller(), Options{})
	_, err := c.Discover(context.Background(), false)
	require.NoError(t, err)

	_, err = c.Invoke(context.Background(), "ddg_search", json.RawMessage(`{}`))
	assert.Error(t, err, "missing required 'query' field should fail validation")
}

func TestInvoke_ReturnsMockPayload(t *testing.T) {
	c := New(NewMockCaller(), Options{})
	_, err := c.Discover(context.Background(), false)
	require.NoError(t, err)

	res, err := c.Invoke(context.Background(), "ddg_search", json.RawMessage(`{"query":"graph databases"}`))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(res.Payload, &payload))
	assert.Equal(t, "success", payload["status"])
	assert.Equal(t, "graph databases", payload["query"])
}

func TestInvoke_UnknownToolFails(t *testing.T) {
	c := New(NewMockCaller(), Options{})
	_, err := c.Discover(context.Background(), false)
	require.NoError(t, err)

	_, err = c.Invoke(context.Background(), "nonexistent_tool", json.RawMessage(`{}`))
	require.Error(t, err)
}

type flakyCaller struct {
	failures int
	calls    int
}

func (f *flakyCaller) Discover(ctx context.Context) ([]Descriptor, error) {
	return []Descriptor{{
		Name:        "flaky___ping",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}}, nil
}

func (f *flakyCaller) Invoke(ctx context.Context, qualifiedName string, arguments json.RawMessage) (Result, error) {
	f.calls++
	if f.calls <= f.failures {
		return Result{}, Retryable(assertErr("connection reset"))
	}
	return Result{Payload: json.RawMessage(`{"ok":true}`)}, nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestInvoke_RetriesRetryableErrors(t *testing.T) {
	caller := &flakyCaller{failures: 1}
	c := New(caller, Options{RetryAttempts: 2})
	_, err := c.Discover(context.Background(), false)
	require.NoError(t, err)

	res, err := c.Invoke(context.Background(), "ping", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 2, caller.calls)
	assert.JSONEq(t, `{"ok":true}`, string(res.Payload))
}

func TestInvoke_ExhaustsRetriesAndFails(t *testing.T) {
	caller := &flakyCaller{failures: 99}
	c := New(caller, Options{RetryAttempts: 1})
	_, err := c.Discover(context.Background(), false)
	require.NoError(t, err)

	_, err = c.Invoke(context.Background(), "ping", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, 2, caller.calls, "initial attempt plus 1 retry")
}
