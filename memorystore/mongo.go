package memorystore

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/google/uuid"
)

const (
	defaultCollection = "research_events"
	defaultTimeout    = 5 * time.Second
	defaultMaxResults = 100
)

// MongoOptions configures MongoStore.
type MongoOptions struct {
	Client     *mongo.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// MongoStore implements Store on top of a MongoDB collection, one document
// per event. Events are retrieved oldest-first within a session.
type MongoStore struct {
	coll    *mongo.Collection
	timeout time.Duration
}

// NewMongoStore builds a MongoStore and ensures its session-scoped index
// exists.
func NewMongoStore(opts MongoOptions) (*MongoStore, error) {
	if opts.Client == nil {
		return nil, errors.New("memorystore: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("memorystore: database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(collection)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	index := mongo.IndexModel{
		Keys: bson.D{
			{Key: "memory_id", Value: 1},
			{Key: "session_id", Value: 1},
			{Key: "event_timestamp", Value: 1},
		},
	}
	if _, err := coll.Indexes().CreateOne(ctx, index); err != nil {
		return nil, err
	}
	return &MongoStore{coll: coll, timeout: timeout}, nil
}

type eventDocument struct {
	ID             string            `bson:"_id"`
	MemoryID       string            `bson:"memory_id"`
	ActorID        string            `bson:"actor_id"`
	SessionID      string            `bson:"session_id"`
	EventTimestamp time.Time         `bson:"event_timestamp"`
	Payload        string            `bson:"payload"`
	Metadata       map[string]string `bson:"metadata,omitempty"`
}

func (s *MongoStore) CreateEvent(ctx context.Context, memoryID, actorID, sessionID string, eventTimestamp time.Time, payload string, metadata map[string]string) (string, error) {
	if actorID == "" {
		return "", errors.New("memorystore: actor id is required")
	}
	if sessionID == "" {
		return "", errors.New("memorystore: session id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc := eventDocument{
		ID:             uuid.NewString(),
		MemoryID:       memoryID,
		ActorID:        actorID,
		SessionID:      sessionID,
		EventTimestamp: eventTimestamp.UTC(),
		Payload:        payload,
		Metadata:       metadata,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	return doc.ID, nil
}

func (s *MongoStore) ListEvents(ctx context.Context, memoryID, sessionID, actorID string, includePayloads bool, maxResults int, nextToken string) (ListResult, error) {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"memory_id": memoryID, "session_id": sessionID}
	if actorID != "" {
		filter["actor_id"] = actorID
	}
	if nextToken != "" {
		after, err := decodeToken(nextToken)
		if err != nil {
			return ListResult{}, err
		}
		filter["event_timestamp"] = bson.M{"$gt": after}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "event_timestamp", Value: 1}}).
		SetLimit(int64(maxResults) + 1)

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return ListResult{}, err
	}
	defer cur.Close(ctx)

	var docs []eventDocument
	if err := cur.All(ctx, &docs); err != nil {
		return ListResult{}, err
	}

	var next string
	if len(docs) > maxResults {
		next = encodeToken(docs[maxResults-1].EventTimestamp)
		docs = docs[:maxResults]
	}

	events := make([]Event, len(docs))
	for i, d := range docs {
		events[i] = Event{
			EventID:        d.ID,
			SessionID:      d.SessionID,
			ActorID:        d.ActorID,
			EventTimestamp: d.EventTimestamp,
			Metadata:       d.Metadata,
		}
		if includePayloads {
			events[i].Payload = d.Payload
		}
	}
	return ListResult{Events: events, NextToken: next}, nil
}

func (s *MongoStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func encodeToken(t time.Time) string {
	return base64.RawURLEncoding.EncodeToString([]byte(t.UTC().Format(time.RFC3339Nano)))
}

func decodeToken(token string) (time.Time, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, string(raw))
}
