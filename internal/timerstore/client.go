package timerstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/eraguessr/roundsync/internal/models"
	"github.com/eraguessr/roundsync/internal/timerid"
)

// RetryPolicy bounds how hard the client retries transient store failures.
// Retrying is explicit here, never a side effect of a caller re-render.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy retries three times with linear backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 250 * time.Millisecond}
}

// Client wraps a Store with shape validation and bounded retry. Only
// transient failures are retried; integrity errors and not-found surface
// immediately.
type Client struct {
	store  Store
	policy RetryPolicy
	clock  clockwork.Clock
}

func NewClient(store Store, policy RetryPolicy, clock clockwork.Clock) *Client {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Client{store: store, policy: policy, clock: clock}
}

// StartOrGet creates or fetches the timer for id. Concurrent callers racing
// to start the same round converge on one started_at; the store enforces
// first-writer-wins, so no optimistic-lock retry happens here.
func (c *Client) StartOrGet(ctx context.Context, id timerid.ID, durationSec int) (models.TimerRecord, error) {
	if durationSec <= 0 {
		return models.TimerRecord{}, fmt.Errorf("timer %s: duration %d must be positive", id, durationSec)
	}
	return c.withRetry(ctx, id, func() (models.TimerRecord, error) {
		return c.store.StartOrGet(ctx, id, durationSec)
	})
}

// Get fetches the timer for id, or ErrTimerNotFound.
func (c *Client) Get(ctx context.Context, id timerid.ID) (models.TimerRecord, error) {
	return c.withRetry(ctx, id, func() (models.TimerRecord, error) {
		return c.store.Get(ctx, id)
	})
}

func (c *Client) withRetry(ctx context.Context, id timerid.ID, op func() (models.TimerRecord, error)) (models.TimerRecord, error) {
	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return models.TimerRecord{}, ctx.Err()
			case <-c.clock.After(c.policy.BaseDelay * time.Duration(attempt-1)):
			}
		}

		rec, err := op()
		if err == nil {
			if verr := validateRecord(rec); verr != nil {
				return models.TimerRecord{}, verr
			}
			return rec, nil
		}
		if !IsTransient(err) {
			return models.TimerRecord{}, err
		}
		lastErr = err
		log.Warn().
			Err(err).
			Str("timer_id", id.String()).
			Int("attempt", attempt).
			Msg("transient timer store failure, retrying")
	}
	return models.TimerRecord{}, fmt.Errorf("timer %s: %d attempts exhausted: %w", id, c.policy.MaxAttempts, lastErr)
}

// validateRecord enforces the row shape from the store contract. A row that
// exists but fails these checks is an integrity error, never "not found".
func validateRecord(rec models.TimerRecord) error {
	switch {
	case rec.TimerID == "":
		return &IntegrityError{TimerID: rec.TimerID, Reason: "empty timer_id"}
	case rec.StartedAt.IsZero():
		return &IntegrityError{TimerID: rec.TimerID, Reason: "missing started_at"}
	case rec.EndAt.IsZero():
		return &IntegrityError{TimerID: rec.TimerID, Reason: "missing end_at"}
	case rec.ServerNow.IsZero():
		return &IntegrityError{TimerID: rec.TimerID, Reason: "missing server_now"}
	case rec.DurationSec <= 0:
		return &IntegrityError{TimerID: rec.TimerID, Reason: fmt.Sprintf("non-positive duration_sec %d", rec.DurationSec)}
	case rec.EndAt.Before(rec.StartedAt):
		return &IntegrityError{TimerID: rec.TimerID, Reason: "end_at precedes started_at"}
	}
	if _, err := timerid.Parse(rec.TimerID); err != nil {
		return &IntegrityError{TimerID: rec.TimerID, Reason: err.Error()}
	}
	return nil
}
