// Package realtime defines the pipeline's event surface: every state
// change downstream consumers care about is published as an Event.
package realtime

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventContentIndexed  = "content.indexed"
	EventAnswerReady     = "answer.ready"
	EventAnswerFailed    = "answer.failed"
	EventDigestDataReady = "digest.data_ready"
)

// Event is the wire shape published on the bus. Payload keys are
// event-kind specific.
type Event struct {
	Kind       string         `json:"kind"`
	UserID     uuid.UUID      `json:"user_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func NewContentIndexed(userID, sourceID uuid.UUID, chunkCount int) Event {
	return Event{
		Kind:       EventContentIndexed,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
		Payload: map[string]any{
			"source_id":   sourceID.String(),
			"chunk_count": chunkCount,
		},
	}
}

func NewAnswerReady(userID, conversationID, turnID uuid.UUID) Event {
	return Event{
		Kind:       EventAnswerReady,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
		Payload: map[string]any{
			"conversation_id": conversationID.String(),
			"turn_id":         turnID.String(),
		},
	}
}

func NewAnswerFailed(userID, conversationID uuid.UUID, reason string) Event {
	return Event{
		Kind:       EventAnswerFailed,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
		Payload: map[string]any{
			"conversation_id": conversationID.String(),
			"reason":          reason,
		},
	}
}

// NewDigestDataReady announces that a digest window's content is
// collected. The payload carries everything a digest generator needs to
// fetch the batch: the period bounds and the chunk IDs inside them.
func NewDigestDataReady(userID, sourceID uuid.UUID, periodStart, periodEnd time.Time, chunkIDs []uuid.UUID) Event {
	ids := make([]string, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		ids = append(ids, id.String())
	}
	return Event{
		Kind:       EventDigestDataReady,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
		Payload: map[string]any{
			"source_id":    sourceID.String(),
			"period_start": periodStart.UTC().Format(time.RFC3339),
			"period_end":   periodEnd.UTC().Format(time.RFC3339),
			"chunk_ids":    ids,
		},
	}
}
