// Package sweep runs the periodic deadline sweep: a backstop that wakes rooms
// whose round deadline passed while every participant was disconnected or
// asleep. Client countdowns handle the common case; the sweep guarantees no
// round hangs forever.
package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/eraguessr/roundsync/internal/models"
)

// DeadlineSource is the slice of DeadlineRepository the worker needs.
type DeadlineSource interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.RoomDeadline, error)
	MarkResolved(ctx context.Context, roomID string, roundNumber int) error
}

// Waker delivers the wake to a room.
type Waker interface {
	Wake(ctx context.Context, roomID string, roundNumber int) error
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Clock        clockwork.Clock
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 30 * time.Second,
		BatchSize:    100,
	}
}

type Worker struct {
	deadlines DeadlineSource
	waker     Waker
	config    Config
	clock     clockwork.Clock

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewWorker(deadlines DeadlineSource, waker Waker, cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Worker{
		deadlines: deadlines,
		waker:     waker,
		config:    cfg,
		clock:     clock,
		stopChan:  make(chan struct{}),
	}
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("sweep worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	log.Info().
		Dur("poll_interval", w.config.PollInterval).
		Int("batch_size", w.config.BatchSize).
		Msg("deadline sweep started")
	return nil
}

func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("sweep worker not running")
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()

	log.Info().Msg("deadline sweep stopped")
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := w.clock.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// Sweep immediately on start
	w.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.Chan():
			w.sweepOnce(ctx)
		}
	}
}

// sweepOnce wakes every due room, isolating failures per room: one dead
// gateway must not starve the rest of the batch, and a failed wake leaves the
// row unresolved for the next pass.
func (w *Worker) sweepOnce(ctx context.Context) {
	due, err := w.deadlines.ListDue(ctx, w.clock.Now(), w.config.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("failed to list due deadlines")
		return
	}
	if len(due) == 0 {
		return
	}

	log.Debug().Int("count", len(due)).Msg("processing due deadlines")

	woken := 0
	for _, d := range due {
		if err := w.waker.Wake(ctx, d.RoomID, d.RoundNumber); err != nil {
			log.Error().
				Err(err).
				Str("room_id", d.RoomID).
				Int("round", d.RoundNumber).
				Msg("failed to wake room")
			continue
		}
		if err := w.deadlines.MarkResolved(ctx, d.RoomID, d.RoundNumber); err != nil {
			log.Error().
				Err(err).
				Str("room_id", d.RoomID).
				Int("round", d.RoundNumber).
				Msg("failed to mark deadline resolved")
			continue
		}
		woken++
	}

	log.Info().
		Int("due", len(due)).
		Int("woken", woken).
		Msg("deadline sweep pass complete")
}
