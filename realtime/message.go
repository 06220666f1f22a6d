package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is an opaque JSON payload. The broadcaster never interprets it beyond pulling
// an optional "id" field for deduplication; producers define their own envelope.
type Event = json.RawMessage

// TargetType is the addressing mode of a broadcast.
type TargetType string

const (
	TargetConnection TargetType = "connection"
	TargetUser       TargetType = "user"
	TargetSession    TargetType = "session"
	TargetChannel    TargetType = "channel"
	TargetBroadcast  TargetType = "broadcast"
)

// Message priorities. Lower numbers dequeue first.
const (
	PriorityHigh   = 1
	PriorityMedium = 2
	PriorityLow    = 3
)

// scoreStride separates priority bands in the queue score. It must exceed any unix
// epoch-seconds value so priority always dominates the creation-time tie-break.
const scoreStride = 1e10

// Message is one logical broadcast in flight.
type Message struct {
	ID         string     `json:"id"`
	Event      Event      `json:"event"`
	TargetType TargetType `json:"target_type"`
	TargetID   string     `json:"target_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Priority   int        `json:"priority"`
}

// newMessage builds a validated message. Priority 0 selects the class default:
// high for targeted sends, medium for process-wide broadcasts.
func newMessage(targetType TargetType, targetID string, event Event, priority int, now time.Time) (*Message, error) {
	if targetType == TargetBroadcast {
		if targetID != "" {
			return nil, ValidationError("broadcast messages must not carry a target ID")
		}
	} else if targetID == "" {
		return nil, ValidationError(fmt.Sprintf("%s broadcasts require a target ID", targetType))
	}

	if priority == 0 {
		priority = PriorityHigh
		if targetType == TargetBroadcast {
			priority = PriorityMedium
		}
	}
	if priority < PriorityHigh || priority > PriorityLow {
		return nil, ValidationError(fmt.Sprintf("priority %d outside 1..3", priority))
	}

	return &Message{
		ID:         deriveID(targetType, targetID, event),
		Event:      event,
		TargetType: targetType,
		TargetID:   targetID,
		CreatedAt:  now,
		Priority:   priority,
	}, nil
}

// deriveID builds a message ID that is deterministic for a given target and source
// event, so a retried emission of the same event collapses in the dedup cache.
// Events without an "id" field get a random identity and are never deduplicated.
func deriveID(targetType TargetType, targetID string, event Event) string {
	var envelope struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(event, &envelope)
	eventID := envelope.ID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	return fmt.Sprintf("%s:%s:%s", targetType, targetID, eventID)
}

// score computes the queue ordering key: priority band first, then FIFO within a band.
func (m *Message) score() float64 {
	return float64(m.Priority)*scoreStride + float64(m.CreatedAt.Unix())
}

// expired reports whether the message's delivery window has passed.
func (m *Message) expired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}
