package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWaker struct {
	calls []string
	woken bool
	err   error
}

func (f *fakeWaker) ProcessDeadline(roomID string, roundNumber int) (bool, error) {
	f.calls = append(f.calls, roomID)
	return f.woken, f.err
}

func handlerFixture(t *testing.T) (*RoomStateManager, *fakeWaker, *http.ServeMux, clockwork.Clock) {
	t.Helper()
	rsm := NewRoomStateManager()
	waker := &fakeWaker{woken: true}
	clock := clockwork.NewFakeClockAt(stateBase.Add(30 * time.Second))
	mux := http.NewServeMux()
	NewStateHandler(rsm, waker, clock).RegisterStateRoutes(mux)
	return rsm, waker, mux, clock
}

func TestGetRoomStateIncludesServerNowAndRemaining(t *testing.T) {
	rsm, _, mux, _ := handlerFixture(t)
	require.NoError(t, rsm.ProcessEvent(startedEvent(t, "room-1", 0)))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/room-1/state", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp RoomStateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "RUNNING", resp.Phase)
	// Fake clock sits 30s into a 90s round.
	assert.Equal(t, 60, resp.TimeRemainingSec)
	assert.True(t, resp.ServerNow.Equal(stateBase.Add(30*time.Second)))
}

func TestGetUnknownRoomIs404(t *testing.T) {
	_, _, mux, _ := handlerFixture(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/nope/state", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeadlinePostForwardsToWaker(t *testing.T) {
	_, waker, mux, _ := handlerFixture(t)

	body, _ := json.Marshal(DeadlineRequest{Type: "PROCESS_DEADLINE", RoomID: "room-1", RoundNumber: 2})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/rooms/room-1/deadline", bytes.NewReader(body)))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"room-1"}, waker.calls)

	var resp map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp["woken"])
}

func TestDeadlineWithoutLiveRoundIs404(t *testing.T) {
	_, waker, mux, _ := handlerFixture(t)
	waker.woken = false

	body, _ := json.Marshal(DeadlineRequest{Type: "PROCESS_DEADLINE", RoomID: "room-1", RoundNumber: 2})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/rooms/room-1/deadline", bytes.NewReader(body)))

	// A non-2xx keeps the sweep from settling a deadline nobody processed.
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, []string{"room-1"}, waker.calls)
}

func TestDeadlineRejectsBadBodyAndMethod(t *testing.T) {
	_, waker, mux, _ := handlerFixture(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/rooms/room-1/deadline", bytes.NewReader([]byte("{"))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/room-1/deadline", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	assert.Empty(t, waker.calls)
}

func TestExtractRoomIDFromPath(t *testing.T) {
	assert.Equal(t, "room-1", extractRoomIDFromPath("/api/rooms/room-1/state", "/state"))
	assert.Equal(t, "", extractRoomIDFromPath("/api/rooms//extra/room-1/state", "/state"))
	assert.Equal(t, "", extractRoomIDFromPath("/api/other/room-1/state", "/state"))
}
