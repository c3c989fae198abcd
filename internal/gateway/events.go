package gateway

import (
	"encoding/json"
	"time"

	"github.com/eraguessr/roundsync/internal/events"
)

// RoomEvent is the frame pushed to WebSocket clients. Data carries the typed
// payload from the feed envelope untouched; clients decode it by Type.
type RoomEvent struct {
	ID          string           `json:"id"`
	RoomID      string           `json:"room_id"`
	RoundNumber int              `json:"round_number"`
	Type        events.EventType `json:"type"`
	Timestamp   time.Time        `json:"timestamp"`
	Data        json.RawMessage  `json:"data,omitempty"`
}

// FromEnvelope translates a feed envelope into the client frame.
func FromEnvelope(env events.Envelope) *RoomEvent {
	return &RoomEvent{
		ID:          env.EventID,
		RoomID:      env.RoomID,
		RoundNumber: env.RoundNumber,
		Type:        env.EventType,
		Timestamp:   env.Timestamp,
		Data:        env.Payload,
	}
}
