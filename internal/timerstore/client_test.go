package timerstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eraguessr/roundsync/internal/models"
	"github.com/eraguessr/roundsync/internal/timerid"
)

type fakeStore struct {
	records map[string]models.TimerRecord
	errs    []error // popped per call before consulting records
	calls   int
	now     time.Time
}

func (f *fakeStore) pop() error {
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeStore) StartOrGet(_ context.Context, id timerid.ID, durationSec int) (models.TimerRecord, error) {
	f.calls++
	if err := f.pop(); err != nil {
		return models.TimerRecord{}, err
	}
	if rec, ok := f.records[id.String()]; ok {
		rec.ServerNow = f.now
		return rec, nil
	}
	rec := models.TimerRecord{
		TimerID:     id.String(),
		StartedAt:   f.now,
		EndAt:       f.now.Add(time.Duration(durationSec) * time.Second),
		DurationSec: durationSec,
		ServerNow:   f.now,
	}
	if f.records == nil {
		f.records = make(map[string]models.TimerRecord)
	}
	f.records[id.String()] = rec
	return rec, nil
}

func (f *fakeStore) Get(_ context.Context, id timerid.ID) (models.TimerRecord, error) {
	f.calls++
	if err := f.pop(); err != nil {
		return models.TimerRecord{}, err
	}
	rec, ok := f.records[id.String()]
	if !ok {
		return models.TimerRecord{}, ErrTimerNotFound
	}
	rec.ServerNow = f.now
	return rec, nil
}

func testID(t *testing.T) timerid.ID {
	t.Helper()
	id, err := timerid.New("", "room-1", 0)
	require.NoError(t, err)
	return id
}

func TestStartOrGetIsIdempotent(t *testing.T) {
	store := &fakeStore{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	client := NewClient(store, DefaultRetryPolicy(), clockwork.NewFakeClock())
	id := testID(t)

	first, err := client.StartOrGet(context.Background(), id, 90)
	require.NoError(t, err)

	second, err := client.StartOrGet(context.Background(), id, 90)
	require.NoError(t, err)

	assert.Equal(t, first.StartedAt, second.StartedAt)
	assert.Equal(t, first.EndAt, second.EndAt)
	assert.Equal(t, first.DurationSec, second.DurationSec)
}

func TestRetriesTransientFailures(t *testing.T) {
	store := &fakeStore{
		now:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		errs: []error{&TransientError{Op: "start_timer", Err: errors.New("connection refused")}},
	}
	clock := clockwork.NewFakeClock()
	client := NewClient(store, RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond}, clock)

	id := testID(t)
	done := make(chan struct{})
	var rec models.TimerRecord
	var err error
	go func() {
		rec, err = client.StartOrGet(context.Background(), id, 60)
		close(done)
	}()

	clock.BlockUntil(1)
	clock.Advance(100 * time.Millisecond)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("retry never completed")
	}

	require.NoError(t, err)
	assert.Equal(t, 60, rec.DurationSec)
	assert.Equal(t, 2, store.calls)
}

func TestRetryBudgetExhausted(t *testing.T) {
	transient := &TransientError{Op: "get_timer", Err: errors.New("store down")}
	store := &fakeStore{errs: []error{transient, transient, transient}}
	clock := clockwork.NewFakeClock()
	client := NewClient(store, RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}, clock)

	id := testID(t)
	done := make(chan error, 1)
	go func() {
		_, err := client.Get(context.Background(), id)
		done <- err
	}()

	for i := 0; i < 2; i++ {
		clock.BlockUntil(1)
		clock.Advance(time.Second)
	}

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, IsTransient(err))
		assert.Equal(t, 3, store.calls)
	case <-time.After(2 * time.Second):
		t.Fatal("exhausted retry never returned")
	}
}

func TestNotFoundIsNotRetried(t *testing.T) {
	store := &fakeStore{}
	client := NewClient(store, DefaultRetryPolicy(), clockwork.NewFakeClock())

	_, err := client.Get(context.Background(), testID(t))
	require.ErrorIs(t, err, ErrTimerNotFound)
	assert.Equal(t, 1, store.calls)
}

func TestIntegrityErrorSurfacesDistinctly(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{
		now: now,
		records: map[string]models.TimerRecord{
			"round:room-1:0": {
				TimerID:   "round:room-1:0",
				StartedAt: now,
				// end_at missing: row exists but is corrupt
				DurationSec: 90,
			},
		},
	}
	client := NewClient(store, DefaultRetryPolicy(), clockwork.NewFakeClock())

	_, err := client.Get(context.Background(), testID(t))
	require.Error(t, err)

	var ierr *IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.NotErrorIs(t, err, ErrTimerNotFound)
	assert.False(t, IsTransient(err))
	assert.Equal(t, 1, store.calls, "integrity errors must not be retried")
}

func TestRejectsNonPositiveDuration(t *testing.T) {
	client := NewClient(&fakeStore{}, DefaultRetryPolicy(), clockwork.NewFakeClock())
	_, err := client.StartOrGet(context.Background(), testID(t), 0)
	require.Error(t, err)
}
