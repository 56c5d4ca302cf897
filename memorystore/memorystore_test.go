package memorystore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore_CreateAndListEvents(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := s.CreateEvent(ctx, "mem-1", "user-1", "session-1", base.Add(time.Duration(i)*time.Minute), `{"n":1}`, map[string]string{"kind": "research_start"})
		require.NoError(t, err)
	}
	_, err := s.CreateEvent(ctx, "mem-1", "user-1", "other-session", base, `{}`, nil)
	require.NoError(t, err)

	res, err := s.ListEvents(ctx, "mem-1", "session-1", "user-1", true, 100, "")
	require.NoError(t, err)
	assert.Len(t, res.Events, 3)
	assert.True(t, res.Events[0].EventTimestamp.Before(res.Events[1].EventTimestamp))
	assert.NotEmpty(t, res.Events[0].Payload)
}

func TestMemStore_ListEvents_ExcludesPayloadsWhenNotRequested(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	_, err := s.CreateEvent(ctx, "mem-1", "user-1", "session-1", time.Now(), `{"a":1}`, nil)
	require.NoError(t, err)

	res, err := s.ListEvents(ctx, "mem-1", "session-1", "user-1", false, 100, "")
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Empty(t, res.Events[0].Payload)
}

func TestMemStore_ListEvents_FiltersByActor(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	_, err := s.CreateEvent(ctx, "mem-1", "user-1", "session-1", time.Now(), `{}`, nil)
	require.NoError(t, err)
	_, err = s.CreateEvent(ctx, "mem-1", "user-2", "session-1", time.Now(), `{}`, nil)
	require.NoError(t, err)

	res, err := s.ListEvents(ctx, "mem-1", "session-1", "user-1", false, 100, "")
	require.NoError(t, err)
	assert.Len(t, res.Events, 1)
}
