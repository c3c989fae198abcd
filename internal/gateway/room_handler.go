package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/eraguessr/roundsync/internal/models"
	"github.com/eraguessr/roundsync/internal/registry"
)

// RoomHandler is the HTTP surface over the RoomHost: round starts, result
// submissions, and leaderboard reads.
type RoomHandler struct {
	host *RoomHost

	// The handler keeps one server-side reference per room so the runtime
	// outlives individual sockets; starting the next round releases the
	// previous one.
	mu      sync.Mutex
	handles map[string]*registry.Handle[*roomRuntime]
}

func NewRoomHandler(host *RoomHost) *RoomHandler {
	return &RoomHandler{
		host:    host,
		handles: make(map[string]*registry.Handle[*roomRuntime]),
	}
}

// StartRoundRequest is the body of POST /api/rooms/{id}/rounds.
type StartRoundRequest struct {
	RoundNumber int    `json:"round_number"`
	DurationSec int    `json:"duration_sec"`
	Mode        string `json:"mode"`
}

// HandleStartRound handles POST /api/rooms/{id}/rounds
func (h *RoomHandler) HandleStartRound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roomID := extractRoomIDFromPath(r.URL.Path, "/rounds")
	if roomID == "" {
		http.Error(w, "Room ID is required", http.StatusBadRequest)
		return
	}

	var req StartRoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.DurationSec <= 0 {
		http.Error(w, "duration_sec must be positive", http.StatusBadRequest)
		return
	}

	handle, err := h.host.StartRound(r.Context(), roomID, req.RoundNumber, req.DurationSec, models.GameMode(req.Mode))
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to start round")
		http.Error(w, "Failed to start round", http.StatusInternalServerError)
		return
	}

	h.mu.Lock()
	if prev, ok := h.handles[roomID]; ok {
		prev.Release()
	}
	h.handles[roomID] = handle
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"room_id":      roomID,
		"round_number": req.RoundNumber,
	})
}

// SubmitRequest is the body of POST /api/rooms/{id}/submit.
type SubmitRequest struct {
	RoundNumber      int             `json:"round_number"`
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

// HandleSubmit handles POST /api/rooms/{id}/submit
func (h *RoomHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roomID := extractRoomIDFromPath(r.URL.Path, "/submit")
	if roomID == "" {
		http.Error(w, "Room ID is required", http.StatusBadRequest)
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now().UTC()
	}

	err := h.host.SubmitSnapshot(r.Context(), SnapshotRequest{
		RoomID:           roomID,
		RoundNumber:      req.RoundNumber,
		UserID:           req.UserID,
		DisplayName:      req.DisplayName,
		XPTotal:          req.XPTotal,
		XPDebt:           req.XPDebt,
		AccDebt:          req.AccDebt,
		TimeAccuracy:     req.TimeAccuracy,
		LocationAccuracy: req.LocationAccuracy,
		DistanceKm:       req.DistanceKm,
		GuessYear:        req.GuessYear,
		GuessPayload:     req.GuessPayload,
		HintsUsed:        req.HintsUsed,
		SubmittedAt:      req.SubmittedAt,
	})
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Str("user_id", req.UserID).Msg("failed to submit snapshot")
		http.Error(w, "Failed to submit result", http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// HandleLeaderboard handles GET /api/rooms/{id}/leaderboard?round=N
func (h *RoomHandler) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roomID := extractRoomIDFromPath(r.URL.Path, "/leaderboard")
	if roomID == "" {
		http.Error(w, "Room ID is required", http.StatusBadRequest)
		return
	}

	roundNumber, err := strconv.Atoi(r.URL.Query().Get("round"))
	if err != nil {
		http.Error(w, "round query parameter is required", http.StatusBadRequest)
		return
	}

	boards, ok := h.host.Boards(roomID, roundNumber)
	if !ok {
		http.Error(w, "Round not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(boards); err != nil {
		log.Error().Err(err).Msg("failed to encode leaderboard response")
	}
}

// ReleaseAll drops every server-held runtime reference (shutdown path).
func (h *RoomHandler) ReleaseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for roomID, handle := range h.handles {
		handle.Release()
		delete(h.handles, roomID)
	}
}

// RouteRoomRequest dispatches /api/rooms/{id}/<suffix> requests across the
// room and state handlers.
func RouteRoomRequest(state *StateHandler, rooms *RoomHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/state"):
			state.HandleGetRoomState(w, r)
		case strings.HasSuffix(r.URL.Path, "/deadline"):
			state.HandleProcessDeadline(w, r)
		case strings.HasSuffix(r.URL.Path, "/rounds"):
			rooms.HandleStartRound(w, r)
		case strings.HasSuffix(r.URL.Path, "/submit"):
			rooms.HandleSubmit(w, r)
		case strings.HasSuffix(r.URL.Path, "/leaderboard"):
			rooms.HandleLeaderboard(w, r)
		default:
			http.NotFound(w, r)
		}
	}
}
