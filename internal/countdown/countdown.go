// Package countdown implements a restartable countdown engine with a
// fixed-rate tick and an at-most-once finish callback.
//
// One goroutine owns all engine state and runs every tick and callback, so
// ticks for a single engine are strictly ordered and never overlap. The UI
// (or any other consumer) observes the engine through Remaining/State reads
// and the configured callbacks; it never drives transitions directly.
package countdown

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Default tick intervals. DisplayTick suits human-facing second displays;
// SyncTick keeps expiry jitter low for server-synced countdowns.
const (
	DisplayTick = time.Second
	SyncTick    = 250 * time.Millisecond
)

// State is the engine's externally visible mode.
type State string

const (
	StateIdle     State = "IDLE"
	StateRunning  State = "RUNNING"
	StatePaused   State = "PAUSED"
	StateDisabled State = "DISABLED"
)

// Config configures an Engine.
type Config struct {
	// Duration is the full countdown length.
	Duration time.Duration
	// StartAt, when non-zero, anchors the countdown to an absolute start
	// point (in local-clock terms) instead of the moment Start is called.
	StartAt time.Time
	// Tick is the tick interval; defaults to DisplayTick.
	Tick time.Duration
	// Clock defaults to the real clock.
	Clock clockwork.Clock

	// OnTick, if set, runs on every tick with the clamped remaining time.
	OnTick func(remaining time.Duration)
	// OnFinished runs exactly once per activation cycle when the deadline
	// passes, even if throttling delivers a burst of catch-up ticks.
	OnFinished func()
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdPause
	cmdReset
	cmdDisable
)

type command struct {
	kind     cmdKind
	duration time.Duration // cmdReset only; 0 keeps the current duration
	ack      chan struct{}
}

// Engine is a single countdown instance. All methods are safe for concurrent
// use; mutations are serialized through the run loop.
type Engine struct {
	clock clockwork.Clock
	tick  time.Duration

	onTick     func(time.Duration)
	onFinished func()

	cmds chan command
	stop chan struct{}
	once sync.Once

	// Loop-owned state, mirrored into the snapshot under mu for readers.
	duration  time.Duration
	deadline  time.Time
	remaining time.Duration
	state     State
	fired     bool

	mu   sync.Mutex
	snap snapshot
}

type snapshot struct {
	remaining time.Duration
	state     State
}

// New builds an engine; it does not tick until Start is called.
func New(cfg Config) *Engine {
	if cfg.Tick <= 0 {
		cfg.Tick = DisplayTick
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	e := &Engine{
		clock:      cfg.Clock,
		tick:       cfg.Tick,
		onTick:     cfg.OnTick,
		onFinished: cfg.OnFinished,
		cmds:       make(chan command),
		stop:       make(chan struct{}),
		duration:   cfg.Duration,
		remaining:  cfg.Duration,
		state:      StateIdle,
	}
	if !cfg.StartAt.IsZero() {
		e.deadline = cfg.StartAt.Add(cfg.Duration)
	}
	e.publish()
	go e.run()
	return e
}

// Start activates ticking. After a pause it resumes from the frozen
// remaining time, not from the original absolute deadline.
func (e *Engine) Start() { e.send(command{kind: cmdStart}) }

// Pause freezes the remaining time and stops the finish callback from
// arming until Start is called again.
func (e *Engine) Pause() { e.send(command{kind: cmdPause}) }

// Reset clears the fired-once guard and reactivates the countdown. A
// non-zero duration replaces the configured one.
func (e *Engine) Reset(duration time.Duration) {
	e.send(command{kind: cmdReset, duration: duration})
}

// Disable stops ticking and zeroes the displayed remaining time. Unlike
// Pause, the elapsed position is discarded.
func (e *Engine) Disable() { e.send(command{kind: cmdDisable}) }

// Stop tears the engine down and releases its tick scheduler. The engine
// cannot be restarted afterwards.
func (e *Engine) Stop() {
	e.once.Do(func() { close(e.stop) })
}

// Remaining returns the clamped remaining time as of the last tick or
// command.
func (e *Engine) Remaining() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap.remaining
}

// State returns the engine's current mode.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap.state
}

// IsActive reports whether the engine is currently ticking.
func (e *Engine) IsActive() bool { return e.State() == StateRunning }

func (e *Engine) send(cmd command) {
	cmd.ack = make(chan struct{})
	select {
	case e.cmds <- cmd:
		<-cmd.ack
	case <-e.stop:
	}
}

func (e *Engine) run() {
	ticker := e.clock.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case cmd := <-e.cmds:
			e.handle(cmd)
			close(cmd.ack)
		case <-ticker.Chan():
			e.onTickElapsed()
		}
	}
}

func (e *Engine) handle(cmd command) {
	now := e.clock.Now()
	switch cmd.kind {
	case cmdStart:
		if e.state == StateRunning {
			return
		}
		if e.deadline.IsZero() || e.state == StatePaused || e.state == StateDisabled {
			// Resume from the frozen position (or the full duration when
			// there is none left to resume from).
			rem := e.remaining
			if e.state == StateDisabled || rem <= 0 {
				// Fresh cycle at the full duration; re-arm the finish guard.
				rem = e.duration
				e.fired = false
			}
			e.deadline = now.Add(rem)
		}
		e.state = StateRunning
		e.clamp(now)
	case cmdPause:
		if e.state != StateRunning {
			return
		}
		e.clamp(now)
		e.state = StatePaused
	case cmdReset:
		if cmd.duration > 0 {
			e.duration = cmd.duration
		}
		e.fired = false
		e.deadline = now.Add(e.duration)
		e.remaining = e.duration
		e.state = StateRunning
	case cmdDisable:
		e.state = StateDisabled
		e.remaining = 0
	}
	e.publish()
}

func (e *Engine) onTickElapsed() {
	if e.state != StateRunning {
		return
	}
	now := e.clock.Now()
	e.clamp(now)
	e.publish()

	if e.onTick != nil {
		e.onTick(e.remaining)
	}
	if e.remaining == 0 && !e.fired {
		e.fired = true
		log.Debug().Dur("tick", e.tick).Msg("countdown finished")
		if e.onFinished != nil {
			e.onFinished()
		}
	}
}

func (e *Engine) clamp(now time.Time) {
	rem := e.deadline.Sub(now)
	if rem < 0 {
		rem = 0
	}
	e.remaining = rem
}

func (e *Engine) publish() {
	e.mu.Lock()
	e.snap = snapshot{remaining: e.remaining, state: e.state}
	e.mu.Unlock()
}
