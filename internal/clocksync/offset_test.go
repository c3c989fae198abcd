package clocksync

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eraguessr/roundsync/internal/models"
)

func record(serverNow time.Time, duration time.Duration) models.TimerRecord {
	return models.TimerRecord{
		TimerID:     "round:room-1:0",
		StartedAt:   serverNow,
		EndAt:       serverNow.Add(duration),
		DurationSec: int(duration.Seconds()),
		ServerNow:   serverNow,
	}
}

func TestHydrateComputesSkew(t *testing.T) {
	serverNow := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		skew time.Duration
	}{
		{name: "client slow by 5s", skew: -5 * time.Second},
		{name: "client fast by 5s", skew: 5 * time.Second},
		{name: "clocks agree", skew: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := clockwork.NewFakeClockAt(serverNow.Add(tt.skew))

			off, err := Hydrate(record(serverNow, 90*time.Second), clock)
			require.NoError(t, err)
			assert.Equal(t, (-tt.skew).Milliseconds(), off.OffsetMs)

			// Remaining time is measured in server time, so skew cancels out.
			assert.Equal(t, 90*time.Second, off.Remaining(clock))
		})
	}
}

func TestRemainingConvergesToZeroAtServerDeadline(t *testing.T) {
	serverNow := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(serverNow.Add(5 * time.Second)) // client 5s fast

	off, err := Hydrate(record(serverNow, 30*time.Second), clock)
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	assert.Equal(t, time.Duration(0), off.Remaining(clock))

	// Clamped after the deadline, never negative.
	clock.Advance(10 * time.Second)
	assert.Equal(t, time.Duration(0), off.Remaining(clock))
}

func TestHydrateRejectsRecordsWithoutServerTime(t *testing.T) {
	clock := clockwork.NewFakeClock()

	rec := record(time.Now().UTC(), time.Minute)
	rec.ServerNow = time.Time{}
	_, err := Hydrate(rec, clock)
	require.Error(t, err)

	rec = record(time.Now().UTC(), time.Minute)
	rec.EndAt = time.Time{}
	_, err = Hydrate(rec, clock)
	require.Error(t, err)
}
