// Package leaderboard aggregates round-scoped peer snapshots into ranked
// leaderboards and signals round completion.
//
// The aggregator is read-only with respect to snapshots: each row is written
// by its owning participant's client; we only fold them in. A participant
// with no snapshot yet is simply absent from the boards until their row (or
// its synthesized timeout stand-in) materializes.
package leaderboard

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/eraguessr/roundsync/internal/models"
)

// Config configures an Aggregator.
type Config struct {
	RoomID      string
	RoundNumber int
	// GraceTimeout forces completion if stragglers never arrive after
	// ArmGrace.
	GraceTimeout time.Duration
	Clock        clockwork.Clock
	// OnComplete fires exactly once, when every expected participant has a
	// snapshot or the grace timeout forces the issue.
	OnComplete func(forced bool)
	// OnChange, if set, fires with fresh boards after every accepted
	// snapshot.
	OnChange func(Boards)
}

// Aggregator maintains the three boards for one (room, round).
type Aggregator struct {
	cfg Config

	mu        sync.Mutex
	expected  map[string]struct{}
	snapshots map[string]models.PeerRoundSnapshot
	boards    Boards
	cutoff    time.Time
	graceTmr  clockwork.Timer
	completed bool
}

// NewAggregator builds an empty aggregator; call SetParticipants with the
// room roster before relying on the completion signal.
func NewAggregator(cfg Config) *Aggregator {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.GraceTimeout <= 0 {
		cfg.GraceTimeout = 10 * time.Second
	}
	return &Aggregator{
		cfg:       cfg,
		expected:  make(map[string]struct{}),
		snapshots: make(map[string]models.PeerRoundSnapshot),
	}
}

// SetParticipants replaces the expected-participant set from the room
// roster. Shrinking mid-round (a participant leaves) re-checks completion so
// aggregation never hangs on the departed.
func (a *Aggregator) SetParticipants(userIDs []string) {
	a.mu.Lock()
	a.expected = make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		a.expected[id] = struct{}{}
	}
	a.mu.Unlock()
	a.checkComplete()
}

// SetScoringCutoff records the round's durable expiry stamp. Snapshots
// submitted at or after the cutoff are kept for display but demoted to
// timeout scoring.
func (a *Aggregator) SetScoringCutoff(cutoff time.Time) {
	a.mu.Lock()
	a.cutoff = cutoff
	a.mu.Unlock()
}

// Apply folds in one snapshot with upsert semantics keyed by userId. A
// malformed row is dropped with a warning; it never crashes aggregation or
// leaves a hole in a board.
func (a *Aggregator) Apply(s models.PeerRoundSnapshot) {
	if reason := validateSnapshot(s); reason != "" {
		log.Warn().
			Str("room_id", a.cfg.RoomID).
			Int("round", a.cfg.RoundNumber).
			Str("user_id", s.UserID).
			Str("reason", reason).
			Msg("dropping malformed peer snapshot")
		return
	}

	a.mu.Lock()
	if !a.cutoff.IsZero() && !s.SubmittedAt.Before(a.cutoff) && !s.TimedOut() {
		log.Warn().
			Str("room_id", a.cfg.RoomID).
			Int("round", a.cfg.RoundNumber).
			Str("user_id", s.UserID).
			Time("submitted_at", s.SubmittedAt).
			Time("cutoff", a.cutoff).
			Msg("late submission recorded as timeout")
		s = SynthesizeTimeout(a.cfg.RoomID, a.cfg.RoundNumber, s.UserID, s.DisplayName, a.cutoff)
	}
	a.snapshots[s.UserID] = s
	a.recomputeLocked()
	boards := a.boards
	a.mu.Unlock()

	if a.cfg.OnChange != nil {
		a.cfg.OnChange(boards)
	}
	a.checkComplete()
}

// ApplyRaw decodes a feed row and folds it in; undecodable rows are dropped
// at this boundary with a warning.
func (a *Aggregator) ApplyRaw(data []byte) {
	var s models.PeerRoundSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		log.Warn().
			Err(err).
			Str("room_id", a.cfg.RoomID).
			Int("round", a.cfg.RoundNumber).
			Msg("dropping undecodable peer snapshot")
		return
	}
	a.Apply(s)
}

// ArmGrace starts the completion backstop; idempotent.
func (a *Aggregator) ArmGrace() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.graceTmr != nil || a.completed {
		return
	}
	a.graceTmr = a.cfg.Clock.AfterFunc(a.cfg.GraceTimeout, func() {
		a.complete(true)
	})
}

// SynthesizeMissing materializes a timeout snapshot for every expected
// participant without one, stamped at the scoring cutoff. Called when the
// round expires so "did not answer" is a real row, not a missing one.
func (a *Aggregator) SynthesizeMissing(cutoff time.Time) {
	a.mu.Lock()
	changed := false
	for userID := range a.expected {
		if _, ok := a.snapshots[userID]; ok {
			continue
		}
		a.snapshots[userID] = SynthesizeTimeout(a.cfg.RoomID, a.cfg.RoundNumber, userID, userID, cutoff)
		changed = true
	}
	if changed {
		a.recomputeLocked()
	}
	boards := a.boards
	a.mu.Unlock()

	if changed && a.cfg.OnChange != nil {
		a.cfg.OnChange(boards)
	}
	a.checkComplete()
}

// Boards returns the current derived leaderboards.
func (a *Aggregator) Boards() Boards {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.boards
}

// SnapshotCount returns how many rows have been folded in.
func (a *Aggregator) SnapshotCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.snapshots)
}

// ExpectedCount returns the current roster size.
func (a *Aggregator) ExpectedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.expected)
}

// Completed reports whether the completion signal has fired.
func (a *Aggregator) Completed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completed
}

// Stop cancels the grace timer.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.graceTmr != nil {
		a.graceTmr.Stop()
		a.graceTmr = nil
	}
}

func (a *Aggregator) recomputeLocked() {
	all := make([]models.PeerRoundSnapshot, 0, len(a.snapshots))
	for _, s := range a.snapshots {
		all = append(all, s)
	}
	a.boards = compute(all)
}

func (a *Aggregator) checkComplete() {
	a.mu.Lock()
	if a.completed || len(a.expected) == 0 {
		a.mu.Unlock()
		return
	}
	for userID := range a.expected {
		if _, ok := a.snapshots[userID]; !ok {
			a.mu.Unlock()
			return
		}
	}
	a.mu.Unlock()
	a.complete(false)
}

func (a *Aggregator) complete(forced bool) {
	a.mu.Lock()
	if a.completed {
		a.mu.Unlock()
		return
	}
	a.completed = true
	if a.graceTmr != nil {
		a.graceTmr.Stop()
		a.graceTmr = nil
	}
	received, expectedCount := len(a.snapshots), len(a.expected)
	a.mu.Unlock()

	log.Info().
		Str("room_id", a.cfg.RoomID).
		Int("round", a.cfg.RoundNumber).
		Int("received", received).
		Int("expected", expectedCount).
		Bool("forced", forced).
		Msg("round aggregation complete")
	if a.cfg.OnComplete != nil {
		a.cfg.OnComplete(forced)
	}
}

// SynthesizeTimeout builds the zero-accuracy snapshot recorded for a
// participant who never submitted: nil guess year, sentinel distance.
func SynthesizeTimeout(roomID string, roundNumber int, userID, displayName string, cutoff time.Time) models.PeerRoundSnapshot {
	return models.PeerRoundSnapshot{
		RoomID:      roomID,
		RoundNumber: roundNumber,
		UserID:      userID,
		DisplayName: displayName,
		DistanceKm:  models.MaxDistanceKm,
		SubmittedAt: cutoff,
	}
}

func validateSnapshot(s models.PeerRoundSnapshot) string {
	switch {
	case s.UserID == "":
		return "empty user_id"
	case s.SubmittedAt.IsZero():
		return "missing submitted_at"
	case s.TimeAccuracy < 0 || s.TimeAccuracy > 100:
		return "time_accuracy out of range"
	case s.LocationAccuracy < 0 || s.LocationAccuracy > 100:
		return "location_accuracy out of range"
	case s.DistanceKm < 0:
		return "negative distance_km"
	}
	return ""
}
