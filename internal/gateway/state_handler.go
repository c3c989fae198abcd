package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// RoomWaker re-evaluates a room's deadline against the server clock. The
// bool result reports whether a live round handled the wake; false means no
// runtime exists for the round, so the caller must not settle its deadline.
type RoomWaker interface {
	ProcessDeadline(roomID string, roundNumber int) (bool, error)
}

// RoomStateResponse is the reconnect-resync read: last-known state plus the
// server clock so the client can re-derive its offset.
type RoomStateResponse struct {
	*RoomState
	ServerNow        time.Time `json:"server_now"`
	TimeRemainingSec int       `json:"time_remaining_sec"`
}

// DeadlineRequest is the body of the sweep's wake POST.
type DeadlineRequest struct {
	Type        string `json:"type"`
	RoomID      string `json:"room_id"`
	RoundNumber int    `json:"round_number"`
}

// StateHandler handles HTTP requests for room state and deadline wakes
type StateHandler struct {
	states *RoomStateManager
	waker  RoomWaker
	clock  clockwork.Clock
}

// NewStateHandler creates a new state handler
func NewStateHandler(states *RoomStateManager, waker RoomWaker, clock clockwork.Clock) *StateHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &StateHandler{states: states, waker: waker, clock: clock}
}

// HandleGetRoomState handles GET /api/rooms/{id}/state
func (h *StateHandler) HandleGetRoomState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roomID := extractRoomIDFromPath(r.URL.Path, "/state")
	if roomID == "" {
		http.Error(w, "Room ID is required", http.StatusBadRequest)
		return
	}

	state := h.states.GetState(roomID)
	if state == nil {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	now := h.clock.Now()
	resp := RoomStateResponse{RoomState: state, ServerNow: now}
	if state.Timer != nil {
		resp.TimeRemainingSec = state.Timer.CalculateTimeRemainingWithClockSync(now)
		state.Timer.TimeRemainingSec = resp.TimeRemainingSec
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to encode room state response")
	}
}

// HandleProcessDeadline handles POST /api/rooms/{id}/deadline, the sweep's
// wake call.
func (h *StateHandler) HandleProcessDeadline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roomID := extractRoomIDFromPath(r.URL.Path, "/deadline")
	if roomID == "" {
		http.Error(w, "Room ID is required", http.StatusBadRequest)
		return
	}

	var req DeadlineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	woken, err := h.waker.ProcessDeadline(roomID, req.RoundNumber)
	if err != nil {
		log.Error().
			Err(err).
			Str("room_id", roomID).
			Int("round", req.RoundNumber).
			Msg("failed to process deadline wake")
		http.Error(w, "Failed to process deadline", http.StatusInternalServerError)
		return
	}

	if !woken {
		// No live round to process the deadline (e.g. after a restart); a
		// non-2xx keeps the sweep from settling the row.
		log.Warn().
			Str("room_id", roomID).
			Int("round", req.RoundNumber).
			Msg("deadline wake had no live round")
		http.Error(w, "No live round for deadline", http.StatusNotFound)
		return
	}

	log.Info().
		Str("room_id", roomID).
		Int("round", req.RoundNumber).
		Msg("deadline wake processed")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]bool{"woken": true})
}

// RegisterStateRoutes registers room state and deadline HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/rooms/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/state"):
			h.HandleGetRoomState(w, r)
		case strings.HasSuffix(r.URL.Path, "/deadline"):
			h.HandleProcessDeadline(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// extractRoomIDFromPath extracts the room ID from a path like
// /api/rooms/{id}/state
func extractRoomIDFromPath(path, suffix string) string {
	const prefix = "/api/rooms/"
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return ""
	}
	id := strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix)
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}
