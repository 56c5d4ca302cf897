package memorystore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-process Store used by tests and local development,
// without a database dependency. ListEvents filters by session and actor
// and returns at most maxResults events; it ignores memoryID and
// nextToken and never sets NextToken, so it does not paginate.
type MemStore struct {
	mu     sync.Mutex
	events []Event
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore { return &MemStore{} }

func (s *MemStore) CreateEvent(ctx context.Context, memoryID, actorID, sessionID string, eventTimestamp time.Time, payload string, metadata map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.events = append(s.events, Event{
		EventID:        id,
		SessionID:      sessionID,
		ActorID:        actorID,
		EventTimestamp: eventTimestamp,
		Payload:        payload,
		Metadata:       metadata,
	})
	return id, nil
}

func (s *MemStore) ListEvents(ctx context.Context, memoryID, sessionID, actorID string, includePayloads bool, maxResults int, nextToken string) (ListResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	var matched []Event
	for _, e := range s.events {
		if e.SessionID != sessionID {
			continue
		}
		if actorID != "" && e.ActorID != actorID {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].EventTimestamp.Before(matched[j].EventTimestamp) })

	if !includePayloads {
		for i := range matched {
			matched[i].Payload = ""
		}
	}

	if len(matched) > maxResults {
		matched = matched[:maxResults]
	}
	return ListResult{Events: matched}, nil
}
