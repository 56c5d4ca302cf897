package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProvider struct {
	lastReq Request
}

func (p *recordingProvider) Complete(ctx context.Context, req Request) (Response, error) {
	p.lastReq = req
	return Response{StopReason: "end_turn"}, nil
}

func TestRouter_DispatchesToBackendAndRewritesCanonicalModel(t *testing.T) {
	anthropic := &recordingProvider{}
	router := NewRouter(NewRegistry(), map[string]Provider{"anthropic": anthropic})

	_, err := router.Complete(context.Background(), Request{Model: "claude_sonnet45"})
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", anthropic.lastReq.Model)
}

func TestRouter_FollowsAlias(t *testing.T) {
	anthropic := &recordingProvider{}
	router := NewRouter(NewRegistry(), map[string]Provider{"anthropic": anthropic})

	_, err := router.Complete(context.Background(), Request{Model: "claude_sonnet"})
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", anthropic.lastReq.Model)
}

func TestRouter_UnwiredBackendFails(t *testing.T) {
	router := NewRouter(NewRegistry(), map[string]Provider{})
	_, err := router.Complete(context.Background(), Request{Model: "gpt4o"})
	assert.Error(t, err)
}
