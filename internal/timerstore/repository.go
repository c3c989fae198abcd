// Package timerstore is the client for the durable, idempotent
// start-or-fetch timer primitive. The server is the single writer of
// started_at/end_at/duration_sec; server_now is stamped inside the query so
// offset math is correct regardless of client clock skew.
package timerstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eraguessr/roundsync/internal/models"
	"github.com/eraguessr/roundsync/internal/timerid"
)

// Store is the raw start-or-get / get surface. Implementations return
// *TransientError for store failures and ErrTimerNotFound from Get when no
// row exists; shape validation happens above in Client.
type Store interface {
	StartOrGet(ctx context.Context, id timerid.ID, durationSec int) (models.TimerRecord, error)
	Get(ctx context.Context, id timerid.ID) (models.TimerRecord, error)
}

// Repository implements Store against Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// The insert races first-writer-wins on the primary key; losers fall through
// to the existing row. now() is evaluated server-side for server_now.
const startOrGetQuery = `
WITH created AS (
	INSERT INTO round_timers (timer_id, duration_sec, started_at, end_at)
	VALUES ($1, $2, now(), now() + make_interval(secs => $2))
	ON CONFLICT (timer_id) DO NOTHING
	RETURNING timer_id, started_at, end_at, duration_sec
)
SELECT timer_id, started_at, end_at, duration_sec, now() AS server_now FROM created
UNION ALL
SELECT timer_id, started_at, end_at, duration_sec, now() AS server_now
FROM round_timers WHERE timer_id = $1
LIMIT 1
`

const getQuery = `
SELECT timer_id, started_at, end_at, duration_sec, now() AS server_now
FROM round_timers WHERE timer_id = $1
`

// StartOrGet atomically creates the timer on first call and returns the
// existing record unchanged on every later call.
func (r *Repository) StartOrGet(ctx context.Context, id timerid.ID, durationSec int) (models.TimerRecord, error) {
	row := r.pool.QueryRow(ctx, startOrGetQuery, id.String(), durationSec)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The insert either created or found a row; an empty result means
			// the store misbehaved, not that the timer is absent.
			return models.TimerRecord{}, &TransientError{Op: "start_timer", Err: err}
		}
		return models.TimerRecord{}, &TransientError{Op: "start_timer", Err: err}
	}
	return rec, nil
}

// Get is a pure read; it never creates.
func (r *Repository) Get(ctx context.Context, id timerid.ID) (models.TimerRecord, error) {
	row := r.pool.QueryRow(ctx, getQuery, id.String())
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.TimerRecord{}, ErrTimerNotFound
		}
		return models.TimerRecord{}, &TransientError{Op: "get_timer", Err: err}
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (models.TimerRecord, error) {
	var rec models.TimerRecord
	if err := row.Scan(&rec.TimerID, &rec.StartedAt, &rec.EndAt, &rec.DurationSec, &rec.ServerNow); err != nil {
		return models.TimerRecord{}, err
	}
	return rec, nil
}
