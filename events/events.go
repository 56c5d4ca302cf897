// Package events implements the event tracker (C3): structured, size-bounded
// domain events written to the memory store, keyed by (memoryId, sessionId,
// actorId). The tracker is stateless beyond a handle to the memory store
// (spec §4.3, §5 "session-scoped singletons").
package events

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dimensional-research/orchestrator/memorystore"
)

// Kind enumerates the event kinds the tracker emits.
type Kind string

const (
	KindResearchStart          Kind = "research_start"
	KindReferencesPrepared     Kind = "references_prepared"
	KindDimensionsIdentified   Kind = "dimensions_identified"
	KindAspectResearchComplete Kind = "aspect_research_complete"
	KindDimensionDocComplete   Kind = "dimension_document_complete"
	KindResearchComplete       Kind = "research_complete"
	KindError                  Kind = "error"
	// KindCancelled is emitted once when the workflow observes cancellation;
	// no event of any other kind may follow it for the same session.
	KindCancelled Kind = "cancelled"
)

// maxPayloadBytes is the hard limit the memory store enforces on a
// serialized event payload (spec §4.3, §8 "no event exceeds 100 KB").
const maxPayloadBytes = 100 * 1024

// metadataCharClass is the character class every metadata value must match
// after sanitization (spec §4.3, §8 "metadata character class").
var metadataCharClass = regexp.MustCompile(`[^A-Za-z0-9 ._:/=+@-]`)

// Tracker emits domain events to a memorystore.Store. It holds no
// per-session state; memoryID is fixed at construction, actorID/sessionID
// are supplied per call.
type Tracker struct {
	store    memorystore.Store
	memoryID string
}

// New builds a Tracker bound to a memory ID.
func New(store memorystore.Store, memoryID string) *Tracker {
	return &Tracker{store: store, memoryID: memoryID}
}

// create builds the blob+metadata envelope shared by every Log* method and
// hands it to the store.
func (t *Tracker) create(ctx context.Context, sessionID, actorID string, kind Kind, data map[string]any, metadata map[string]string) (string, error) {
	data["event_type"] = string(kind)
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)

	sanitized := make(map[string]string, len(metadata)+1)
	sanitized["event_type"] = string(kind)
	for k, v := range metadata {
		sanitized[k] = SanitizeMetadataValue(v)
	}

	payload, err := marshalBounded(kind, data)
	if err != nil {
		return "", err
	}

	return t.store.CreateEvent(ctx, t.memoryID, actorID, sessionID, time.Now(), string(payload), sanitized)
}

// marshalBounded serializes data and, if the result exceeds maxPayloadBytes,
// truncates the known content-heavy fields for kind with a placeholder
// noting the original size, then re-serializes (spec §4.3 bounded-size
// rule, §7 "size overflow... truncate with placeholder; never abort").
func marshalBounded(kind Kind, data map[string]any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	if len(raw) <= maxPayloadBytes {
		return raw, nil
	}

	sizeKB := float64(len(raw)) / 1024
	placeholder := "[Content truncated - " + strconv.FormatFloat(sizeKB, 'f', 2, 64) + " KB]"

	switch kind {
	case KindAspectResearchComplete:
		if rc, ok := data["research_content"].(map[string]any); ok {
			rc["content"] = placeholder
			data["research_content"] = rc
		}
	case KindDimensionDocComplete:
		if _, ok := data["markdown"]; ok {
			data["markdown"] = placeholder
		}
	}

	raw, err = json.Marshal(data)
	if err != nil {
		return nil, err
	}
	if len(raw) > maxPayloadBytes {
		// Still over budget (e.g. a kind with no known content field):
		// truncate the serialized form itself as a last resort so the
		// event is always accepted rather than rejected outright.
		raw = append(raw[:maxPayloadBytes-len(placeholder)-2], []byte(`"}`)...)
	}
	return raw, nil
}

// metadataReplacer mirrors the original's sequential special-character
// substitutions before the regex strips anything still disallowed.
var metadataReplacer = strings.NewReplacer("&", "and", "(", "[", ")", "]", ",", "")

// SanitizeMetadataValue rewrites value so it matches the memory store's
// metadata character class, replacing common punctuation with safe
// equivalents before stripping anything left over (spec §4.3).
func SanitizeMetadataValue(value string) string {
	return metadataCharClass.ReplaceAllString(metadataReplacer.Replace(value), "")
}

func clampLen(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
