package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eraguessr/roundsync/internal/events"
)

var stateBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func feedEvent(t *testing.T, eventType events.EventType, roomID string, round int, payload any) *RoomEvent {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &RoomEvent{
		ID:          "evt-1",
		RoomID:      roomID,
		RoundNumber: round,
		Type:        eventType,
		Timestamp:   stateBase,
		Data:        data,
	}
}

func startedEvent(t *testing.T, roomID string, round int) *RoomEvent {
	return feedEvent(t, events.EventTypeRoundStarted, roomID, round, events.RoundStartedPayload{
		TimerID:     "round:room-1:0",
		StartedAt:   stateBase,
		EndAt:       stateBase.Add(90 * time.Second),
		DurationSec: 90,
		Mode:        "COMPETE_SYNC",
	})
}

func TestRoundStartedInitializesState(t *testing.T) {
	rsm := NewRoomStateManager()
	require.NoError(t, rsm.ProcessEvent(startedEvent(t, "room-1", 0)))

	state := rsm.GetState("room-1")
	require.NotNil(t, state)
	assert.Equal(t, "RUNNING", state.Phase)
	assert.Equal(t, 0, state.RoundNumber)
	require.NotNil(t, state.Timer)
	assert.Equal(t, "round:room-1:0", state.Timer.TimerID)
	assert.Equal(t, 90, state.Timer.DurationSec)
}

func TestSnapshotAndLifecycleProgression(t *testing.T) {
	rsm := NewRoomStateManager()
	require.NoError(t, rsm.ProcessEvent(startedEvent(t, "room-1", 0)))

	require.NoError(t, rsm.ProcessEvent(feedEvent(t, events.EventTypeSnapshotUpserted, "room-1", 0,
		events.SnapshotUpsertedPayload{UserID: "alice", SubmittedAt: stateBase})))
	assert.Equal(t, 1, rsm.GetState("room-1").SnapshotCount)

	expiredAt := stateBase.Add(90 * time.Second)
	require.NoError(t, rsm.ProcessEvent(feedEvent(t, events.EventTypeRoundExpired, "room-1", 0,
		events.RoundExpiredPayload{ExpiredAt: expiredAt, Trigger: "countdown"})))
	state := rsm.GetState("room-1")
	assert.Equal(t, "EXPIRED", state.Phase)
	require.NotNil(t, state.ExpiredAt)
	assert.True(t, state.ExpiredAt.Equal(expiredAt))

	require.NoError(t, rsm.ProcessEvent(feedEvent(t, events.EventTypeRoundResolved, "room-1", 0,
		events.RoundResolvedPayload{ResolvedAt: expiredAt.Add(time.Second), SnapshotCount: 2, ExpectedCount: 2})))
	state = rsm.GetState("room-1")
	assert.Equal(t, "RESOLVED", state.Phase)
	assert.Equal(t, 2, state.SnapshotCount)
}

func TestNewRoundReplacesOldState(t *testing.T) {
	rsm := NewRoomStateManager()
	require.NoError(t, rsm.ProcessEvent(startedEvent(t, "room-1", 0)))
	require.NoError(t, rsm.ProcessEvent(feedEvent(t, events.EventTypeSnapshotUpserted, "room-1", 0,
		events.SnapshotUpsertedPayload{UserID: "alice", SubmittedAt: stateBase})))

	require.NoError(t, rsm.ProcessEvent(startedEvent(t, "room-1", 1)))
	state := rsm.GetState("room-1")
	assert.Equal(t, 1, state.RoundNumber)
	assert.Equal(t, "RUNNING", state.Phase)
	assert.Equal(t, 0, state.SnapshotCount)
	assert.Nil(t, state.ExpiredAt)
}

func TestGetStateReturnsCopy(t *testing.T) {
	rsm := NewRoomStateManager()
	require.NoError(t, rsm.ProcessEvent(startedEvent(t, "room-1", 0)))

	state := rsm.GetState("room-1")
	state.Phase = "MUTATED"
	state.Timer.TimerID = "mutated"

	fresh := rsm.GetState("room-1")
	assert.Equal(t, "RUNNING", fresh.Phase)
	assert.Equal(t, "round:room-1:0", fresh.Timer.TimerID)
}

func TestUndecodablePayloadIsError(t *testing.T) {
	rsm := NewRoomStateManager()
	err := rsm.ProcessEvent(&RoomEvent{
		RoomID: "room-1",
		Type:   events.EventTypeRoundStarted,
		Data:   json.RawMessage(`{broken`),
	})
	assert.Error(t, err)
}

func TestTimerRemainingUsesServerClock(t *testing.T) {
	timer := TimerState{EndAt: stateBase.Add(90 * time.Second)}

	assert.Equal(t, 90, timer.CalculateTimeRemainingWithClockSync(stateBase))
	assert.Equal(t, 30, timer.CalculateTimeRemainingWithClockSync(stateBase.Add(60*time.Second)))
	assert.Equal(t, 0, timer.CalculateTimeRemainingWithClockSync(stateBase.Add(2*time.Minute)))

	var zero TimerState
	assert.Equal(t, 0, zero.CalculateTimeRemainingWithClockSync(stateBase))
}
