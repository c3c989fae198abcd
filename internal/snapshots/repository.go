// Package snapshots persists and reads PeerRoundSnapshot rows. Each row is
// written only by its owning participant's client (upsert-on-conflict keyed
// by room, round and user); the aggregator consumes them read-only.
package snapshots

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sqlc-dev/pqtype"

	"github.com/eraguessr/roundsync/internal/models"
	"github.com/eraguessr/roundsync/internal/sqlutil"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertSnapshotRequest carries one participant's own result row.
type UpsertSnapshotRequest struct {
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

const upsertSnapshotQuery = `
INSERT INTO round_results (
	room_id, round_number, user_id, display_name,
	xp_total, xp_debt, acc_debt, time_accuracy, location_accuracy,
	distance_km, guess_year, guess_payload, hints_used, submitted_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (room_id, round_number, user_id) DO UPDATE SET
	display_name = EXCLUDED.display_name,
	xp_total = EXCLUDED.xp_total,
	xp_debt = EXCLUDED.xp_debt,
	acc_debt = EXCLUDED.acc_debt,
	time_accuracy = EXCLUDED.time_accuracy,
	location_accuracy = EXCLUDED.location_accuracy,
	distance_km = EXCLUDED.distance_km,
	guess_year = EXCLUDED.guess_year,
	guess_payload = EXCLUDED.guess_payload,
	hints_used = EXCLUDED.hints_used,
	submitted_at = EXCLUDED.submitted_at
RETURNING room_id, round_number, user_id, display_name,
	xp_total, xp_debt, acc_debt, time_accuracy, location_accuracy,
	distance_km, guess_year, guess_payload, hints_used, submitted_at
`

// UpsertSnapshot writes or overwrites the caller's own row for a round.
func (r *Repository) UpsertSnapshot(ctx context.Context, req UpsertSnapshotRequest) (*models.PeerRoundSnapshot, error) {
	guessYear := sqlutil.ToSqlInt32(req.GuessYear)
	payload := pqtype.NullRawMessage{RawMessage: req.GuessPayload, Valid: len(req.GuessPayload) > 0}

	row := r.db.QueryRowContext(ctx, upsertSnapshotQuery,
		req.RoomID, req.RoundNumber, req.UserID, req.DisplayName,
		req.XPTotal, req.XPDebt, req.AccDebt, req.TimeAccuracy, req.LocationAccuracy,
		req.DistanceKm, guessYear, payload, req.HintsUsed, req.SubmittedAt,
	)
	snap, err := scanSnapshot(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert round snapshot: %w", err)
	}
	return snap, nil
}

const listSnapshotsQuery = `
SELECT room_id, round_number, user_id, display_name,
	xp_total, xp_debt, acc_debt, time_accuracy, location_accuracy,
	distance_km, guess_year, guess_payload, hints_used, submitted_at
FROM round_results
WHERE room_id = $1 AND round_number = $2
ORDER BY submitted_at
`

// ListRoundSnapshots returns every row for one (room, round).
func (r *Repository) ListRoundSnapshots(ctx context.Context, roomID string, roundNumber int) ([]models.PeerRoundSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, listSnapshotsQuery, roomID, roundNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to list round snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.PeerRoundSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan round snapshot: %w", err)
		}
		out = append(out, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate round snapshots: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(s scanner) (*models.PeerRoundSnapshot, error) {
	var (
		snap      models.PeerRoundSnapshot
		guessYear sql.NullInt32
		payload   pqtype.NullRawMessage
	)
	if err := s.Scan(
		&snap.RoomID, &snap.RoundNumber, &snap.UserID, &snap.DisplayName,
		&snap.XPTotal, &snap.XPDebt, &snap.AccDebt, &snap.TimeAccuracy, &snap.LocationAccuracy,
		&snap.DistanceKm, &guessYear, &payload, &snap.HintsUsed, &snap.SubmittedAt,
	); err != nil {
		return nil, err
	}
	snap.GuessYear = sqlutil.FromSqlInt32(guessYear)
	if payload.Valid {
		snap.GuessPayload = payload.RawMessage
	}
	return &snap, nil
}
