package countdown

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

type harness struct {
	clock    *clockwork.FakeClock
	engine   *Engine
	ticks    chan time.Duration
	finished chan struct{}
}

func newHarness(t *testing.T, duration, tick time.Duration) *harness {
	t.Helper()
	h := &harness{
		clock:    clockwork.NewFakeClock(),
		ticks:    make(chan time.Duration, 64),
		finished: make(chan struct{}, 8),
	}
	h.engine = New(Config{
		Duration:   duration,
		Tick:       tick,
		Clock:      h.clock,
		OnTick:     func(rem time.Duration) { h.ticks <- rem },
		OnFinished: func() { h.finished <- struct{}{} },
	})
	t.Cleanup(h.engine.Stop)
	h.clock.BlockUntil(1) // engine ticker registered
	return h
}

// step advances one tick interval and waits for the engine to process it.
func (h *harness) step(t *testing.T) time.Duration {
	t.Helper()
	h.clock.Advance(h.engine.tick)
	select {
	case rem := <-h.ticks:
		return rem
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for tick")
		return 0
	}
}

func (h *harness) expectFinished(t *testing.T) {
	t.Helper()
	select {
	case <-h.finished:
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for finish callback")
	}
}

func TestCountsDownAndFinishesOnce(t *testing.T) {
	h := newHarness(t, 3*time.Second, time.Second)
	h.engine.Start()

	assert.Equal(t, 2*time.Second, h.step(t))
	assert.Equal(t, time.Second, h.step(t))
	assert.Equal(t, time.Duration(0), h.step(t))
	h.expectFinished(t)
	assert.Equal(t, time.Duration(0), h.engine.Remaining())
}

func TestFinishFiresAtMostOncePerCycle(t *testing.T) {
	h := newHarness(t, 2*time.Second, time.Second)
	h.engine.Start()

	h.step(t)
	h.step(t)
	h.expectFinished(t)

	// A burst of catch-up ticks after the deadline (tab throttling) must not
	// refire the callback.
	for i := 0; i < 5; i++ {
		assert.Equal(t, time.Duration(0), h.step(t))
	}
	select {
	case <-h.finished:
		t.Fatal("finish callback fired twice in one activation cycle")
	default:
	}
}

func TestResetClearsFiredGuardAndReactivates(t *testing.T) {
	h := newHarness(t, time.Second, time.Second)
	h.engine.Start()

	h.step(t)
	h.expectFinished(t)

	h.engine.Reset(2 * time.Second)
	assert.Equal(t, 2*time.Second, h.engine.Remaining())
	assert.Equal(t, StateRunning, h.engine.State())

	h.step(t)
	assert.Equal(t, time.Duration(0), h.step(t))
	h.expectFinished(t)
}

func TestPauseFreezesRemainingAndResumeContinues(t *testing.T) {
	h := newHarness(t, 10*time.Second, time.Second)
	h.engine.Start()

	h.step(t)
	h.step(t)
	h.engine.Pause()
	assert.Equal(t, StatePaused, h.engine.State())
	frozen := h.engine.Remaining()
	assert.Equal(t, 8*time.Second, frozen)

	// Ticks while paused change nothing.
	h.clock.Advance(5 * time.Second)
	assert.Equal(t, frozen, h.engine.Remaining())

	// Resume counts down from the frozen position, not the old deadline.
	h.engine.Start()
	assert.Equal(t, 7*time.Second, h.step(t))
}

func TestDisableZeroesDisplayAndStopsTicking(t *testing.T) {
	h := newHarness(t, 10*time.Second, time.Second)
	h.engine.Start()
	h.step(t)

	h.engine.Disable()
	assert.Equal(t, StateDisabled, h.engine.State())
	assert.Equal(t, time.Duration(0), h.engine.Remaining())

	// No ticks and no finish while disabled.
	h.clock.Advance(20 * time.Second)
	select {
	case <-h.ticks:
		t.Fatal("disabled engine ticked")
	case <-h.finished:
		t.Fatal("disabled engine finished")
	case <-time.After(50 * time.Millisecond):
	}

	// Restart begins a fresh cycle at the full duration.
	h.engine.Start()
	assert.Equal(t, 9*time.Second, h.step(t))
}

func TestRestartAfterDisableCanFinishAgain(t *testing.T) {
	h := newHarness(t, 2*time.Second, time.Second)
	h.engine.Start()

	h.step(t)
	h.step(t)
	h.expectFinished(t)

	// Disable then restart is a fresh activation cycle: the finish callback
	// must be able to fire once more.
	h.engine.Disable()
	h.engine.Start()
	h.step(t)
	assert.Equal(t, time.Duration(0), h.step(t))
	h.expectFinished(t)
}

func TestAbsoluteStartAnchor(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ticks := make(chan time.Duration, 16)

	// The round started 30s ago in local-clock terms; joining late must not
	// restart the countdown.
	e := New(Config{
		Duration: 90 * time.Second,
		StartAt:  clock.Now().Add(-30 * time.Second),
		Tick:     time.Second,
		Clock:    clock,
		OnTick:   func(rem time.Duration) { ticks <- rem },
	})
	defer e.Stop()
	clock.BlockUntil(1)

	e.Start()
	clock.Advance(time.Second)
	select {
	case rem := <-ticks:
		assert.Equal(t, 59*time.Second, rem)
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for tick")
	}
}

func TestStopReleasesScheduler(t *testing.T) {
	h := newHarness(t, 10*time.Second, time.Second)
	h.engine.Start()
	h.engine.Stop()

	// Commands after Stop must not block.
	done := make(chan struct{})
	go func() {
		h.engine.Start()
		h.engine.Pause()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatal("engine methods blocked after Stop")
	}
	require.NotPanics(t, h.engine.Stop)
}
