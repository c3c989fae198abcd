// Package clocksync derives a client↔server clock offset from a single
// authoritative timer read and applies it to remaining-time math.
//
// The offset is computed once per hydration and reused for every later tick;
// it is an immutable value, never a mutable shared ref, so tick calculations
// stay pure.
package clocksync

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/eraguessr/roundsync/internal/models"
)

// Offset is the result of one hydration: the signed client↔server skew and
// the absolute server-side deadline it was derived with.
type Offset struct {
	OffsetMs int64
	EndAt    time.Time
}

// Hydrate computes the offset from a TimerRecord using the local clock at
// receipt. It never guesses: a record without a server timestamp is an error,
// not an offset of zero.
func Hydrate(rec models.TimerRecord, clock clockwork.Clock) (Offset, error) {
	if rec.ServerNow.IsZero() {
		return Offset{}, fmt.Errorf("hydrate timer %s: record carries no server_now", rec.TimerID)
	}
	if rec.EndAt.IsZero() {
		return Offset{}, fmt.Errorf("hydrate timer %s: record carries no end_at", rec.TimerID)
	}
	localNow := clock.Now()
	return Offset{
		OffsetMs: rec.ServerNow.Sub(localNow).Milliseconds(),
		EndAt:    rec.EndAt,
	}, nil
}

// ServerNow maps a local timestamp into estimated server time.
func (o Offset) ServerNow(localNow time.Time) time.Time {
	return localNow.Add(time.Duration(o.OffsetMs) * time.Millisecond)
}

// RemainingAt returns the countdown remaining at the given local timestamp,
// clamped at zero.
func (o Offset) RemainingAt(localNow time.Time) time.Duration {
	remaining := o.EndAt.Sub(o.ServerNow(localNow))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Remaining reads the clock and returns the current remaining time.
func (o Offset) Remaining(clock clockwork.Clock) time.Duration {
	return o.RemainingAt(clock.Now())
}
