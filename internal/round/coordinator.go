// Package round runs the per-(room, round) lifecycle state machine:
//
//	Pending → Running → Expired → Resolved → Advancing
//
// The machine is fed by a serialized event queue; countdown expiry, sweep
// wakes and aggregation completion all collapse into idempotent transitions,
// so any number of clients and the sweep worker can race without a shared
// clock. UI code binds to the coordinator's outputs and never drives
// transitions directly.
//
// Race policy: submissions count for scoring strictly before the recorded
// Expired stamp. The first expiry trigger wins; a submission landing at or
// after that stamp is recorded as a late arrival but scores as a timeout.
package round

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/eraguessr/roundsync/internal/clocksync"
	"github.com/eraguessr/roundsync/internal/countdown"
	"github.com/eraguessr/roundsync/internal/models"
	"github.com/eraguessr/roundsync/internal/timerid"
	"github.com/eraguessr/roundsync/internal/timerstore"
)

// TimerClient is the slice of the timer store client the coordinator needs.
type TimerClient interface {
	StartOrGet(ctx context.Context, id timerid.ID, durationSec int) (models.TimerRecord, error)
}

// ExpiryTrigger identifies which path expired a round first.
type ExpiryTrigger string

const (
	TriggerCountdown ExpiryTrigger = "countdown"
	TriggerSweep     ExpiryTrigger = "sweep"
	TriggerAllIn     ExpiryTrigger = "all_submitted"
)

// Transition is delivered to the OnTransition hook on every phase change.
type Transition struct {
	RoomID     string
	RoundIndex int
	From       models.RoundPhase
	To         models.RoundPhase
	At         time.Time
	Trigger    ExpiryTrigger
}

// Config configures a Coordinator.
type Config struct {
	RoomID      string
	RoundIndex  int
	Mode        models.GameMode
	DurationSec int
	// GracePeriod bounds how long resolution waits on stragglers after
	// expiry (sync) or after the nominal deadline (async).
	GracePeriod time.Duration
	Tick        time.Duration
	Clock       clockwork.Clock
	Timers      TimerClient

	OnTransition func(Transition)
	// OnTick, if set, receives the clamped remaining time every tick while
	// the round is running.
	OnTick func(remaining time.Duration)
}

type eventKind int

const (
	evHydrated eventKind = iota
	evSweepWake
	evAggregationComplete
	evAdvance
)

type event struct {
	kind eventKind
	rec  models.TimerRecord
	err  error
	ack  chan struct{}
}

// Coordinator is one round's state machine instance.
type Coordinator struct {
	cfg     Config
	timerID timerid.ID

	events   chan event
	finished chan struct{}
	stop     chan struct{}
	once     sync.Once

	// Loop-owned.
	phase     models.RoundPhase
	offset    clocksync.Offset
	engine    *countdown.Engine
	graceCh   <-chan time.Time
	expiredAt time.Time
	desynced  bool

	mu   sync.Mutex
	snap coordSnapshot
}

type coordSnapshot struct {
	phase     models.RoundPhase
	desynced  bool
	expiredAt time.Time
	record    models.TimerRecord
}

// NewCoordinator builds the machine in Pending; call Start to hydrate.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	id, err := timerid.New("", cfg.RoomID, cfg.RoundIndex)
	if err != nil {
		return nil, err
	}
	if cfg.DurationSec <= 0 {
		return nil, errors.New("round duration must be positive")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = countdown.SyncTick
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 5 * time.Second
	}
	if cfg.Mode == "" {
		cfg.Mode = models.GameModeCompeteSync
	}
	c := &Coordinator{
		cfg:      cfg,
		timerID:  id,
		events:   make(chan event),
		finished: make(chan struct{}, 1),
		stop:     make(chan struct{}),
		phase:    models.RoundPhasePending,
	}
	c.publish(models.TimerRecord{})
	go c.run()
	return c, nil
}

// Start hydrates the authoritative timer and moves Pending→Running. When the
// store is unreachable after the client's retry budget, the round degrades to
// a local-only countdown and Desynchronized reports true; the player always
// sees some countdown, it just stops claiming authority.
func (c *Coordinator) Start(ctx context.Context) {
	go func() {
		rec, err := c.cfg.Timers.StartOrGet(ctx, c.timerID, c.cfg.DurationSec)
		c.deliver(event{kind: evHydrated, rec: rec, err: err})
	}()
}

// Rehydrate re-attempts hydration on demand (e.g. a manual refetch after a
// degraded start). It is a no-op once the round has expired.
func (c *Coordinator) Rehydrate(ctx context.Context) { c.Start(ctx) }

// ProcessDeadline is the sweep worker's wake signal. Waking an already
// expired or resolved round is a safe no-op.
func (c *Coordinator) ProcessDeadline() {
	c.deliver(event{kind: evSweepWake})
}

// AggregationComplete reports that the submission aggregator crossed its
// completion threshold.
func (c *Coordinator) AggregationComplete() {
	c.deliver(event{kind: evAggregationComplete})
}

// Advance moves Resolved→Advancing; terminal for this round.
func (c *Coordinator) Advance() {
	c.deliver(event{kind: evAdvance})
}

// Stop tears down the machine and its countdown engine.
func (c *Coordinator) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// Phase returns the current lifecycle phase.
func (c *Coordinator) Phase() models.RoundPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.phase
}

// Desynchronized reports whether the countdown is local-only, with no
// server-backed timer behind it.
func (c *Coordinator) Desynchronized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.desynced
}

// ExpiredAt returns the durable expiry stamp, zero while the round runs.
// The aggregator uses it as the scoring cutoff.
func (c *Coordinator) ExpiredAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.expiredAt
}

// TimerRecord returns the hydrated record (zero value while pending or
// degraded).
func (c *Coordinator) TimerRecord() models.TimerRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.record
}

// Remaining returns the countdown's clamped remaining time.
func (c *Coordinator) Remaining() time.Duration {
	c.mu.Lock()
	engine := c.engine
	c.mu.Unlock()
	if engine == nil {
		return time.Duration(c.cfg.DurationSec) * time.Second
	}
	return engine.Remaining()
}

// AcceptsSubmissions reports whether a guess submitted now still counts for
// scoring.
func (c *Coordinator) AcceptsSubmissions() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.phase == models.RoundPhaseRunning
}

func (c *Coordinator) deliver(ev event) {
	ev.ack = make(chan struct{})
	select {
	case c.events <- ev:
		<-ev.ack
	case <-c.stop:
	}
}

func (c *Coordinator) run() {
	defer func() {
		if c.engine != nil {
			c.engine.Stop()
		}
	}()
	for {
		select {
		case <-c.stop:
			return
		case ev := <-c.events:
			c.handle(ev)
			close(ev.ack)
		case <-c.finished:
			c.expire(TriggerCountdown)
		case <-c.graceCh:
			c.graceCh = nil
			c.resolve(true)
		}
	}
}

func (c *Coordinator) handle(ev event) {
	switch ev.kind {
	case evHydrated:
		c.onHydrated(ev.rec, ev.err)
	case evSweepWake:
		c.expire(TriggerSweep)
	case evAggregationComplete:
		c.onAggregationComplete()
	case evAdvance:
		if c.phase == models.RoundPhaseResolved {
			c.setPhase(models.RoundPhaseAdvancing, "")
		}
	}
}

func (c *Coordinator) onHydrated(rec models.TimerRecord, err error) {
	if c.phase != models.RoundPhasePending && !c.desynced {
		return // already running against an authoritative timer
	}
	if c.phase == models.RoundPhaseExpired || c.phase == models.RoundPhaseResolved || c.phase == models.RoundPhaseAdvancing {
		return
	}

	if err != nil {
		log.Warn().
			Err(err).
			Str("room_id", c.cfg.RoomID).
			Int("round", c.cfg.RoundIndex).
			Msg("timer hydration failed, degrading to local countdown")
		c.desynced = true
		c.publish(models.TimerRecord{})
		c.startEngine(time.Duration(c.cfg.DurationSec)*time.Second, time.Time{})
		if c.phase == models.RoundPhasePending {
			c.setPhase(models.RoundPhaseRunning, "")
		}
		return
	}

	off, herr := clocksync.Hydrate(rec, c.cfg.Clock)
	if herr != nil {
		log.Warn().
			Err(herr).
			Str("timer_id", rec.TimerID).
			Msg("offset hydration failed, degrading to local countdown")
		c.desynced = true
		c.publish(models.TimerRecord{})
		c.startEngine(time.Duration(c.cfg.DurationSec)*time.Second, time.Time{})
		if c.phase == models.RoundPhasePending {
			c.setPhase(models.RoundPhaseRunning, "")
		}
		return
	}

	c.offset = off
	c.desynced = false
	// Snapshot the record before announcing Running; transition hooks and
	// tick callbacks read it.
	c.publish(rec)
	remaining := off.Remaining(c.cfg.Clock)
	c.startEngine(remaining, c.cfg.Clock.Now())
	if c.phase == models.RoundPhasePending {
		c.setPhase(models.RoundPhaseRunning, "")
	}

	if remaining == 0 {
		// Joined after the deadline; expire immediately.
		c.expire(TriggerCountdown)
	}
}

func (c *Coordinator) startEngine(remaining time.Duration, anchor time.Time) {
	if c.engine != nil {
		c.engine.Stop()
	}
	cfg := countdown.Config{
		Duration: remaining,
		Tick:     c.cfg.Tick,
		Clock:    c.cfg.Clock,
		OnTick:   c.cfg.OnTick,
		OnFinished: func() {
			// Never blocks: the loop may be mid-transition and calling back
			// into the engine.
			select {
			case c.finished <- struct{}{}:
			default:
			}
		},
	}
	if !anchor.IsZero() {
		cfg.StartAt = anchor
	}
	engine := countdown.New(cfg)
	c.mu.Lock()
	c.engine = engine
	c.mu.Unlock()
	engine.Start()
}

// expire is at-least-once triggered and idempotent: the first trigger stamps
// expiredAt, every later one is a no-op.
func (c *Coordinator) expire(trigger ExpiryTrigger) {
	if c.phase != models.RoundPhaseRunning {
		return
	}
	if c.cfg.Mode == models.GameModeCompeteAsync {
		// Async rooms have no shared expiry; each player's own timeout is
		// handled by snapshot synthesis. Keep running until aggregation or
		// the grace backstop resolves the round.
		log.Debug().
			Str("room_id", c.cfg.RoomID).
			Int("round", c.cfg.RoundIndex).
			Str("trigger", string(trigger)).
			Msg("expiry trigger ignored in async mode")
		c.armGrace()
		return
	}

	now := c.cfg.Clock.Now()
	if !c.desynced {
		now = c.offset.ServerNow(now)
	}
	c.expiredAt = now
	c.setPhase(models.RoundPhaseExpired, trigger)
	c.armGrace()
}

func (c *Coordinator) armGrace() {
	if c.graceCh == nil {
		c.graceCh = c.cfg.Clock.After(c.cfg.GracePeriod)
	}
}

func (c *Coordinator) onAggregationComplete() {
	switch c.phase {
	case models.RoundPhaseRunning:
		// Everyone submitted before expiry: the submission count is
		// authoritative and closes scoring now.
		if c.expiredAt.IsZero() {
			now := c.cfg.Clock.Now()
			if !c.desynced {
				now = c.offset.ServerNow(now)
			}
			c.expiredAt = now
		}
		c.setPhase(models.RoundPhaseResolved, TriggerAllIn)
		c.afterResolve()
	case models.RoundPhaseExpired:
		c.resolve(false)
	}
}

func (c *Coordinator) resolve(forcedByGrace bool) {
	if c.phase != models.RoundPhaseExpired && !(c.cfg.Mode == models.GameModeCompeteAsync && c.phase == models.RoundPhaseRunning) {
		return
	}
	trigger := ExpiryTrigger("")
	if forcedByGrace {
		trigger = TriggerSweep
	}
	c.setPhase(models.RoundPhaseResolved, trigger)
	c.afterResolve()
}

func (c *Coordinator) afterResolve() {
	c.graceCh = nil
	if c.engine != nil {
		c.engine.Disable()
	}
}

func (c *Coordinator) setPhase(to models.RoundPhase, trigger ExpiryTrigger) {
	from := c.phase
	c.phase = to
	c.publishState()
	log.Info().
		Str("room_id", c.cfg.RoomID).
		Int("round", c.cfg.RoundIndex).
		Str("from", string(from)).
		Str("to", string(to)).
		Bool("desynchronized", c.desynced).
		Msg("round phase transition")
	if c.cfg.OnTransition != nil {
		c.cfg.OnTransition(Transition{
			RoomID:     c.cfg.RoomID,
			RoundIndex: c.cfg.RoundIndex,
			From:       from,
			To:         to,
			At:         c.cfg.Clock.Now(),
			Trigger:    trigger,
		})
	}
}

func (c *Coordinator) publishState() {
	c.mu.Lock()
	c.snap.phase = c.phase
	c.snap.desynced = c.desynced
	c.snap.expiredAt = c.expiredAt
	c.mu.Unlock()
}

func (c *Coordinator) publish(rec models.TimerRecord) {
	c.mu.Lock()
	c.snap = coordSnapshot{
		phase:     c.phase,
		desynced:  c.desynced,
		expiredAt: c.expiredAt,
		record:    rec,
	}
	c.mu.Unlock()
}

// IsIntegrityFailure reports whether a hydration error was a corrupt-record
// error rather than a transient one; callers surface these differently.
func IsIntegrityFailure(err error) bool {
	var ierr *timerstore.IntegrityError
	return errors.As(err, &ierr)
}
