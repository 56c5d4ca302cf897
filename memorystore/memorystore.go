// Package memorystore implements the append-only event log (§6.5): the
// storage side of the event tracker (C3), keyed by (memoryId, sessionId,
// actorId) with a 100KB hard payload limit enforced by the caller.
package memorystore

import (
	"context"
	"time"
)

// Event is one record in the log, as returned by ListEvents.
type Event struct {
	EventID        string
	SessionID      string
	ActorID        string
	EventTimestamp time.Time
	Payload        string // present only when ListEvents was called with includePayloads
	Metadata       map[string]string
}

// ListResult is a single page of ListEvents.
type ListResult struct {
	Events    []Event
	NextToken string
}

// Store is the memory store contract (spec §6.5): create_event/list_events
// keyed by (memoryId, sessionId, actorId).
type Store interface {
	// CreateEvent persists a single event and returns its assigned id.
	CreateEvent(ctx context.Context, memoryID, actorID, sessionID string, eventTimestamp time.Time, payload string, metadata map[string]string) (eventID string, err error)
	// ListEvents returns events for a session in creation order, paginated.
	ListEvents(ctx context.Context, memoryID, sessionID, actorID string, includePayloads bool, maxResults int, nextToken string) (ListResult, error)
}
