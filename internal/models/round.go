package models

import (
	"encoding/json"
	"time"
)

// GameMode defines how a room resolves its rounds.
type GameMode string

const (
	GameModeSolo         GameMode = "SOLO"
	GameModeCompeteAsync GameMode = "COMPETE_ASYNC"
	GameModeCompeteSync  GameMode = "COMPETE_SYNC"
)

// RoundPhase defines the lifecycle phase of one room round.
type RoundPhase string

const (
	RoundPhasePending   RoundPhase = "PENDING"
	RoundPhaseRunning   RoundPhase = "RUNNING"
	RoundPhaseExpired   RoundPhase = "EXPIRED"
	RoundPhaseResolved  RoundPhase = "RESOLVED"
	RoundPhaseAdvancing RoundPhase = "ADVANCING"
)

// MaxDistanceKm is the sentinel distance recorded for a participant who never
// placed a location guess before the round deadline.
const MaxDistanceKm = 20037.5

// TimerRecord is one authoritative countdown. StartedAt, EndAt and
// DurationSec are written once by the server and never mutated; ServerNow is
// stamped at response-construction time and only used for offset math.
type TimerRecord struct {
	TimerID     string    `json:"timer_id"`
	StartedAt   time.Time `json:"started_at"`
	EndAt       time.Time `json:"end_at"`
	DurationSec int       `json:"duration_sec"`
	ServerNow   time.Time `json:"server_now"`
}

// PeerRoundSnapshot is one participant's result row for one room round.
// A participant who times out still gets a row (zeroed accuracies, nil
// GuessYear, MaxDistanceKm distance) so aggregation never special-cases a
// missing participant.
type PeerRoundSnapshot struct {
	RoomID           string          `json:"room_id"`
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

// TimedOut reports whether this snapshot was synthesized for a participant
// who never submitted.
func (s PeerRoundSnapshot) TimedOut() bool {
	return s.GuessYear == nil && s.TimeAccuracy == 0 && s.LocationAccuracy == 0
}

// LeaderboardMetric selects which derived board a row belongs to.
type LeaderboardMetric string

const (
	MetricTotal LeaderboardMetric = "TOTAL"
	MetricWhen  LeaderboardMetric = "WHEN"
	MetricWhere LeaderboardMetric = "WHERE"
)

// LeaderboardRow is a derived ranking row; never persisted.
type LeaderboardRow struct {
	Rank        int     `json:"rank"`
	UserID      string  `json:"user_id"`
	DisplayName string  `json:"display_name"`
	Value       float64 `json:"value"`
	HintsUsed   int     `json:"hints_used"`
}

// RoomDeadline is a room's next recorded round deadline, scanned by the
// sweep worker.
type RoomDeadline struct {
	RoomID      string    `json:"room_id"`
	RoundNumber int       `json:"round_number"`
	Deadline    time.Time `json:"deadline"`
	Resolved    bool      `json:"resolved"`
}
