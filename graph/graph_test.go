package graph

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimensional-research/orchestrator/state"
)

func TestRun_SequentialEdges(t *testing.T) {
	g := New("start")
	g.AddEdge("start", func(ctx context.Context, s state.WorkflowState) (state.Update, error) {
		topic := "async"
		return state.Update{Topic: &topic}, nil
	}, "finish")
	g.AddNode("finish", func(ctx context.Context, s state.WorkflowState) (state.Update, error) {
		return state.Update{}, nil
	}, func(ctx context.Context, s state.WorkflowState) ([]Send, error) {
		return []Send{{Target: End}}, nil
	})

	e := NewEngine()
	final, err := e.Run(context.Background(), g, state.WorkflowState{})
	require.NoError(t, err)
	assert.Equal(t, "async", final.Topic)
}

func TestRun_FanOutBarrierMergesDisjointKeys(t *testing.T) {
	g := New("plan")
	dims := []string{"intro", "methodology", "results"}

	g.AddNode("plan", func(ctx context.Context, s state.WorkflowState) (state.Update, error) {
		return state.Update{Dimensions: dims}, nil
	}, func(ctx context.Context, s state.WorkflowState) ([]Send, error) {
		sends := make([]Send, len(s.Dimensions))
		for i, d := range s.Dimensions {
			sends[i] = Send{Target: "research", Arg: d}
		}
		return sends, nil
	})

	g.AddMapperNode("research", func(ctx context.Context, s state.WorkflowState, arg any) (state.Update, error) {
		dim := arg.(string)
		return state.Update{DimensionDocs: map[string]string{dim: dim + ".md"}}, nil
	})

	g.AddBarrier("reduce", "research", func(ctx context.Context, s state.WorkflowState) (state.Update, error) {
		return state.Update{}, nil
	}, func(ctx context.Context, s state.WorkflowState) ([]Send, error) {
		return []Send{{Target: End}}, nil
	})

	e := NewEngine()
	final, err := e.Run(context.Background(), g, state.WorkflowState{})
	require.NoError(t, err)
	assert.Len(t, final.DimensionDocs, 3)
	for _, d := range dims {
		assert.Equal(t, d+".md", final.DimensionDocs[d])
	}
}

func TestRun_FanOutCollisionFailsFast(t *testing.T) {
	g := New("plan")
	g.AddNode("plan", func(ctx context.Context, s state.WorkflowState) (state.Update, error) {
		return state.Update{}, nil
	}, func(ctx context.Context, s state.WorkflowState) ([]Send, error) {
		return []Send{{Target: "research", Arg: "intro"}, {Target: "research", Arg: "intro"}}, nil
	})
	g.AddMapperNode("research", func(ctx context.Context, s state.WorkflowState, arg any) (state.Update, error) {
		return state.Update{DimensionDocs: map[string]string{"intro": "intro.md"}}, nil
	})
	g.AddBarrier("reduce", "research", func(ctx context.Context, s state.WorkflowState) (state.Update, error) {
		return state.Update{}, nil
	}, func(ctx context.Context, s state.WorkflowState) ([]Send, error) {
		return []Send{{Target: End}}, nil
	})

	e := NewEngine()
	_, err := e.Run(context.Background(), g, state.WorkflowState{})
	require.Error(t, err)
}

func TestRun_MapperChildErrorDoesNotAbortSiblings(t *testing.T) {
	g := New("plan")
	g.AddNode("plan", func(ctx context.Context, s state.WorkflowState) (state.Update, error) {
		return state.Update{}, nil
	}, func(ctx context.Context, s state.WorkflowState) ([]Send, error) {
		return []Send{{Target: "research", Arg: "ok"}, {Target: "research", Arg: "bad"}}, nil
	})
	var ranOK int32
	g.AddMapperNode("research", func(ctx context.Context, s state.WorkflowState, arg any) (state.Update, error) {
		if arg.(string) == "bad" {
			return state.Update{}, fmt.Errorf("boom")
		}
		atomic.AddInt32(&ranOK, 1)
		return state.Update{DimensionDocs: map[string]string{"ok": "ok.md"}}, nil
	})
	g.AddBarrier("reduce", "research", func(ctx context.Context, s state.WorkflowState) (state.Update, error) {
		return state.Update{}, nil
	}, func(ctx context.Context, s state.WorkflowState) ([]Send, error) {
		return []Send{{Target: End}}, nil
	})

	e := NewEngine()
	_, err := e.Run(context.Background(), g, state.WorkflowState{})
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&ranOK), "sibling child must still run despite another child's failure")
}

func TestRun_HonorsContextCancellation(t *testing.T) {
	g := New("start")
	g.AddEdge("start", func(ctx context.Context, s state.WorkflowState) (state.Update, error) {
		return state.Update{}, nil
	}, "never")
	g.AddNode("never", func(ctx context.Context, s state.WorkflowState) (state.Update, error) {
		t.Fatal("should not run after cancellation")
		return state.Update{}, nil
	}, func(ctx context.Context, s state.WorkflowState) ([]Send, error) {
		return []Send{{Target: End}}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewEngine()
	_, err := e.Run(ctx, g, state.WorkflowState{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
