package gateway

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/eraguessr/roundsync/internal/events"
)

// RoomState represents the current state of a room's round for reconnect
// resynchronization
type RoomState struct {
	RoomID        string      `json:"room_id"`
	RoundNumber   int         `json:"round_number"`
	Phase         string      `json:"phase"`
	Timer         *TimerState `json:"timer,omitempty"`
	SnapshotCount int         `json:"snapshot_count"`
	ExpiredAt     *time.Time  `json:"expired_at,omitempty"`
	ResolvedAt    *time.Time  `json:"resolved_at,omitempty"`
}

// TimerState mirrors the authoritative timer record so a reconnecting client
// can rebuild its countdown from end_at and the server clock.
type TimerState struct {
	TimerID          string    `json:"timer_id"`
	StartedAt        time.Time `json:"started_at"`
	EndAt            time.Time `json:"end_at"`
	DurationSec      int       `json:"duration_sec"`
	TimeRemainingSec int       `json:"time_remaining_sec"`
}

// CalculateTimeRemainingWithClockSync calculates remaining time against the
// server clock, never the client's.
func (t *TimerState) CalculateTimeRemainingWithClockSync(serverTime time.Time) int {
	if t.EndAt.IsZero() {
		return 0
	}
	remaining := int(t.EndAt.Sub(serverTime).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RoomStateManager maintains the last-known round state per room, fed by the
// event consumer and read by the state handler.
type RoomStateManager struct {
	mu     sync.RWMutex
	states map[string]*RoomState
}

// NewRoomStateManager creates a new state manager
func NewRoomStateManager() *RoomStateManager {
	return &RoomStateManager{
		states: make(map[string]*RoomState),
	}
}

// GetState returns a copy of the current state for a room, or nil if unknown.
func (rsm *RoomStateManager) GetState(roomID string) *RoomState {
	rsm.mu.RLock()
	defer rsm.mu.RUnlock()
	state, ok := rsm.states[roomID]
	if !ok {
		return nil
	}
	copied := *state
	if state.Timer != nil {
		timer := *state.Timer
		copied.Timer = &timer
	}
	return &copied
}

// RemoveState drops a room's state (e.g. when the game ends).
func (rsm *RoomStateManager) RemoveState(roomID string) {
	rsm.mu.Lock()
	defer rsm.mu.Unlock()
	delete(rsm.states, roomID)
}

// ProcessEvent updates the room state based on an incoming feed event
func (rsm *RoomStateManager) ProcessEvent(event *RoomEvent) error {
	rsm.mu.Lock()
	defer rsm.mu.Unlock()

	state, ok := rsm.states[event.RoomID]
	if !ok || state.RoundNumber != event.RoundNumber {
		state = &RoomState{
			RoomID:      event.RoomID,
			RoundNumber: event.RoundNumber,
			Phase:       "PENDING",
		}
		rsm.states[event.RoomID] = state
	}

	switch event.Type {
	case events.EventTypeRoundStarted:
		var p events.RoundStartedPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return fmt.Errorf("decode RoundStarted payload: %w", err)
		}
		state.Phase = "RUNNING"
		state.SnapshotCount = 0
		state.ExpiredAt = nil
		state.ResolvedAt = nil
		state.Timer = &TimerState{
			TimerID:     p.TimerID,
			StartedAt:   p.StartedAt,
			EndAt:       p.EndAt,
			DurationSec: p.DurationSec,
		}

	case events.EventTypeSnapshotUpserted:
		state.SnapshotCount++

	case events.EventTypeRoundExpired:
		var p events.RoundExpiredPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return fmt.Errorf("decode RoundExpired payload: %w", err)
		}
		state.Phase = "EXPIRED"
		state.ExpiredAt = &p.ExpiredAt

	case events.EventTypeRoundResolved:
		var p events.RoundResolvedPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return fmt.Errorf("decode RoundResolved payload: %w", err)
		}
		state.Phase = "RESOLVED"
		state.ResolvedAt = &p.ResolvedAt
		state.SnapshotCount = p.SnapshotCount

	case events.EventTypeTimerTick:
		var p events.TimerTickPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return fmt.Errorf("decode TimerTick payload: %w", err)
		}
		if state.Timer != nil {
			state.Timer.TimeRemainingSec = p.TimeRemainingSec
		}
	}

	return nil
}
