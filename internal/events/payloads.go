// Package events holds the wire payloads shared by the round feed and the
// gateway, so neither package imports the other.
package events

import (
	"encoding/json"
	"time"
)

// EventType tags a feed envelope.
type EventType string

const (
	EventTypeRoundStarted     EventType = "RoundStarted"
	EventTypeSnapshotUpserted EventType = "SnapshotUpserted"
	EventTypeRoundExpired     EventType = "RoundExpired"
	EventTypeRoundResolved    EventType = "RoundResolved"
	EventTypeTimerTick        EventType = "TimerTick"
)

// Envelope is the JSON frame published on the round feed
// (round.events.<roomId>.<roundIndex>).
type Envelope struct {
	EventID     string          `json:"event_id"`
	EventType   EventType       `json:"event_type"`
	RoomID      string          `json:"room_id"`
	RoundNumber int             `json:"round_number"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// RoundStartedPayload announces that the authoritative timer exists.
type RoundStartedPayload struct {
	TimerID     string    `json:"timer_id"`
	StartedAt   time.Time `json:"started_at"`
	EndAt       time.Time `json:"end_at"`
	DurationSec int       `json:"duration_sec"`
	Mode        string    `json:"mode"`
}

// SnapshotUpsertedPayload carries one participant's result row. The row is
// written only by that participant's client; everyone else consumes it
// read-only.
type SnapshotUpsertedPayload struct {
	UserID           string          `json:"user_id"`
	DisplayName      string          `json:"display_name"`
	XPTotal          int             `json:"xp_total"`
	XPDebt           int             `json:"xp_debt"`
	AccDebt          float64         `json:"acc_debt"`
	TimeAccuracy     float64         `json:"time_accuracy"`
	LocationAccuracy float64         `json:"location_accuracy"`
	DistanceKm       float64         `json:"distance_km"`
	GuessYear        *int            `json:"guess_year,omitempty"`
	GuessPayload     json.RawMessage `json:"guess_payload,omitempty"`
	HintsUsed        int             `json:"hints_used"`
	SubmittedAt      time.Time       `json:"submitted_at"`
}

// RoundExpiredPayload records the durable expiry stamp. Submissions at or
// after ExpiredAt no longer count for scoring.
type RoundExpiredPayload struct {
	ExpiredAt time.Time `json:"expired_at"`
	Trigger   string    `json:"trigger"` // "countdown" or "sweep"
}

// RoundResolvedPayload announces final results are available.
type RoundResolvedPayload struct {
	ResolvedAt      time.Time `json:"resolved_at"`
	SnapshotCount   int       `json:"snapshot_count"`
	ExpectedCount   int       `json:"expected_count"`
	ForcedByTimeout bool      `json:"forced_by_timeout"`
}

// TimerTickPayload is the optional periodic remaining-time push for clients
// that cannot run their own countdown.
type TimerTickPayload struct {
	TimerID          string    `json:"timer_id"`
	TimeRemainingSec int       `json:"time_remaining_sec"`
	TickedAt         time.Time `json:"ticked_at"`
}
