package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/eraguessr/roundsync/internal/events"
	"github.com/eraguessr/roundsync/internal/leaderboard"
	"github.com/eraguessr/roundsync/internal/models"
	"github.com/eraguessr/roundsync/internal/registry"
	"github.com/eraguessr/roundsync/internal/round"
	"github.com/eraguessr/roundsync/internal/roster"
)

// RosterSource reads the room's expected-participant set.
type RosterSource interface {
	ListParticipants(ctx context.Context, roomID string) ([]roster.Participant, error)
}

// SnapshotStore persists participant result rows.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, req SnapshotRequest) (*models.PeerRoundSnapshot, error)
}

// SnapshotRequest mirrors the snapshots repository request so the host does
// not depend on its concrete type.
type SnapshotRequest struct {
	RoomID           string
	RoundNumber      int
	UserID           string
	DisplayName      string
	XPTotal          int
	XPDebt           int
	AccDebt          float64
	TimeAccuracy     float64
	LocationAccuracy float64
	DistanceKm       float64
	GuessYear        *int
	GuessPayload     []byte
	HintsUsed        int
	SubmittedAt      time.Time
}

// DeadlineIndex records live deadlines for the sweep.
type DeadlineIndex interface {
	UpsertDeadline(ctx context.Context, roomID string, roundNumber int, deadline time.Time) error
	MarkResolved(ctx context.Context, roomID string, roundNumber int) error
}

// RoomHostConfig wires the host's collaborators.
type RoomHostConfig struct {
	Timers    round.TimerClient
	Roster    RosterSource
	Snapshots SnapshotStore
	Deadlines DeadlineIndex
	Publisher events.Publisher
	Clock     clockwork.Clock
	// GracePeriod bounds how long a round may sit Expired waiting for
	// stragglers.
	GracePeriod time.Duration
}

// RoomHost owns the live round runtimes: one coordinator plus one aggregator
// per active (room, round), refcounted so concurrent sockets share them and
// the pair tears down once every holder releases.
type RoomHost struct {
	cfg      RoomHostConfig
	runtimes *registry.Registry[*roomRuntime]
}

// RoomRuntime is the per-round pair handed out by StartRound.
type roomRuntime struct {
	roomID string
	round  int
	mode   models.GameMode
	coord  *round.Coordinator
	agg    *leaderboard.Aggregator
}

func NewRoomHost(cfg RoomHostConfig) *RoomHost {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 10 * time.Second
	}
	h := &RoomHost{cfg: cfg}
	h.runtimes = registry.New[*roomRuntime](
		func(key string) (*roomRuntime, error) {
			return nil, fmt.Errorf("round %s is not live", key)
		},
		func(key string, rt *roomRuntime) {
			rt.coord.Stop()
			rt.agg.Stop()
			log.Info().Str("round_key", key).Msg("room runtime torn down")
		},
	)
	return h
}

func runtimeKey(roomID string, roundNumber int) string {
	return fmt.Sprintf("%s:%d", roomID, roundNumber)
}

// StartRound begins (or idempotently joins) a round for a room. The timer
// write is first-writer-wins on the store, so two clients racing here agree
// on one deadline. The returned handle must be released when the caller's
// interest ends (socket close, round advance).
func (h *RoomHost) StartRound(ctx context.Context, roomID string, roundNumber, durationSec int, mode models.GameMode) (*registry.Handle[*roomRuntime], error) {
	var started *roomRuntime
	handle, err := h.runtimes.AcquireOrCreate(runtimeKey(roomID, roundNumber), func(string) (*roomRuntime, error) {
		rt, err := h.buildRuntime(ctx, roomID, roundNumber, durationSec, mode)
		if err != nil {
			return nil, err
		}
		started = rt
		return rt, nil
	})
	if err != nil {
		return nil, err
	}
	// Start only a freshly built runtime; joiners share the live one.
	if started != nil {
		started.coord.Start(ctx)
	}
	return handle, nil
}

func (h *RoomHost) buildRuntime(ctx context.Context, roomID string, roundNumber, durationSec int, mode models.GameMode) (*roomRuntime, error) {
	participants, err := h.cfg.Roster.ListParticipants(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load roster for %s: %w", roomID, err)
	}

	rt := &roomRuntime{roomID: roomID, round: roundNumber, mode: mode}

	rt.agg = leaderboard.NewAggregator(leaderboard.Config{
		RoomID:       roomID,
		RoundNumber:  roundNumber,
		GraceTimeout: h.cfg.GracePeriod,
		Clock:        h.cfg.Clock,
		OnComplete: func(bool) {
			// Runs on the aggregator's caller (or its grace timer); hop off
			// before re-entering the coordinator loop.
			go rt.coord.AggregationComplete()
		},
	})
	rt.agg.SetParticipants(roster.UserIDs(participants))

	rt.coord, err = round.NewCoordinator(round.Config{
		RoomID:      roomID,
		RoundIndex:  roundNumber,
		Mode:        mode,
		DurationSec: durationSec,
		GracePeriod: h.cfg.GracePeriod,
		Tick:        time.Second,
		Clock:       h.cfg.Clock,
		Timers:      h.cfg.Timers,
		OnTransition: func(tr round.Transition) {
			h.handleTransition(rt, tr)
		},
		OnTick: func(remaining time.Duration) {
			h.publishTick(rt, remaining)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build coordinator for %s: %w", roomID, err)
	}
	return rt, nil
}

// handleTransition publishes lifecycle events and keeps the aggregator and
// the sweep's deadline index in step with the round FSM.
func (h *RoomHost) handleTransition(rt *roomRuntime, tr round.Transition) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch tr.To {
	case models.RoundPhaseRunning:
		rec := rt.coord.TimerRecord()
		if rec.TimerID == "" {
			// Degraded start: no authoritative record, nothing to index.
			return
		}
		if err := h.cfg.Deadlines.UpsertDeadline(ctx, rt.roomID, rt.round, rec.EndAt); err != nil {
			log.Error().Err(err).Str("room_id", rt.roomID).Msg("failed to index round deadline")
		}
		h.publish(ctx, events.EventTypeRoundStarted, rt, events.RoundStartedPayload{
			TimerID:     rec.TimerID,
			StartedAt:   rec.StartedAt,
			EndAt:       rec.EndAt,
			DurationSec: rec.DurationSec,
			Mode:        string(rt.mode),
		})

	case models.RoundPhaseExpired:
		expiredAt := rt.coord.ExpiredAt()
		rt.agg.SetScoringCutoff(expiredAt)
		rt.agg.SynthesizeMissing(expiredAt)
		rt.agg.ArmGrace()
		h.publish(ctx, events.EventTypeRoundExpired, rt, events.RoundExpiredPayload{
			ExpiredAt: expiredAt,
			Trigger:   string(tr.Trigger),
		})

	case models.RoundPhaseResolved:
		// Async rounds resolve without an Expired transition, so missing
		// participants get their timeout rows here. Idempotent for sync
		// rounds, which already synthesized at expiry.
		cutoff := rt.coord.ExpiredAt()
		if cutoff.IsZero() {
			cutoff = tr.At
		}
		rt.agg.SetScoringCutoff(cutoff)
		rt.agg.SynthesizeMissing(cutoff)
		if err := h.cfg.Deadlines.MarkResolved(ctx, rt.roomID, rt.round); err != nil {
			log.Error().Err(err).Str("room_id", rt.roomID).Msg("failed to settle round deadline")
		}
		h.publish(ctx, events.EventTypeRoundResolved, rt, events.RoundResolvedPayload{
			ResolvedAt:      tr.At,
			SnapshotCount:   rt.agg.SnapshotCount(),
			ExpectedCount:   rt.agg.ExpectedCount(),
			ForcedByTimeout: tr.Trigger == round.TriggerSweep,
		})
	}
}

// publishTick pushes the clamped remaining time for clients that cannot run
// their own countdown. Degraded rounds have no authoritative record and skip
// the push.
func (h *RoomHost) publishTick(rt *roomRuntime, remaining time.Duration) {
	rec := rt.coord.TimerRecord()
	if rec.TimerID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.publish(ctx, events.EventTypeTimerTick, rt, events.TimerTickPayload{
		TimerID:          rec.TimerID,
		TimeRemainingSec: int(remaining / time.Second),
		TickedAt:         h.cfg.Clock.Now().UTC(),
	})
}

func (h *RoomHost) publish(ctx context.Context, eventType events.EventType, rt *roomRuntime, payload any) {
	env, err := events.NewEnvelope(eventType, rt.roomID, rt.round, payload, h.cfg.Clock)
	if err != nil {
		log.Error().Err(err).Str("room_id", rt.roomID).Msg("failed to build feed envelope")
		return
	}
	if err := h.cfg.Publisher.Publish(ctx, env); err != nil {
		log.Error().
			Err(err).
			Str("room_id", rt.roomID).
			Str("event_type", string(eventType)).
			Msg("failed to publish feed event")
	}
}

// SubmitSnapshot persists one participant's result, feeds the aggregator,
// and publishes the row on the feed.
func (h *RoomHost) SubmitSnapshot(ctx context.Context, req SnapshotRequest) error {
	rt, ok := h.runtimes.Peek(runtimeKey(req.RoomID, req.RoundNumber))
	if !ok {
		return fmt.Errorf("room %s round %d is not live", req.RoomID, req.RoundNumber)
	}

	snap, err := h.cfg.Snapshots.UpsertSnapshot(ctx, req)
	if err != nil {
		return err
	}

	rt.agg.Apply(*snap)

	h.publish(ctx, events.EventTypeSnapshotUpserted, rt, events.SnapshotUpsertedPayload{
		UserID:           snap.UserID,
		DisplayName:      snap.DisplayName,
		XPTotal:          snap.XPTotal,
		XPDebt:           snap.XPDebt,
		AccDebt:          snap.AccDebt,
		TimeAccuracy:     snap.TimeAccuracy,
		LocationAccuracy: snap.LocationAccuracy,
		DistanceKm:       snap.DistanceKm,
		GuessYear:        snap.GuessYear,
		GuessPayload:     json.RawMessage(snap.GuessPayload),
		HintsUsed:        snap.HintsUsed,
		SubmittedAt:      snap.SubmittedAt,
	})
	return nil
}

// Boards returns the live leaderboards for one round of a room.
func (h *RoomHost) Boards(roomID string, roundNumber int) (leaderboard.Boards, bool) {
	rt, ok := h.runtimes.Peek(runtimeKey(roomID, roundNumber))
	if !ok {
		return leaderboard.Boards{}, false
	}
	return rt.agg.Boards(), true
}

// ProcessDeadline implements RoomWaker: forward the sweep's wake to the live
// coordinator. Any live runtime handles the wake (a resolved round absorbs it
// as a no-op, letting the sweep settle a lingering row); only an unknown
// round reports unhandled, so its deadline row stays pending for the next
// pass.
func (h *RoomHost) ProcessDeadline(roomID string, roundNumber int) (bool, error) {
	rt, ok := h.runtimes.Peek(runtimeKey(roomID, roundNumber))
	if !ok {
		return false, nil
	}
	rt.coord.ProcessDeadline()
	return true, nil
}
