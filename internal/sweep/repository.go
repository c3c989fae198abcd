package sweep

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/eraguessr/roundsync/internal/models"
)

// DeadlineRepository reads and settles the per-room deadline index the sweep
// polls. A row exists for every running round; Resolved rows are skipped.
type DeadlineRepository struct {
	db *sql.DB
}

func NewDeadlineRepository(db *sql.DB) *DeadlineRepository {
	return &DeadlineRepository{db: db}
}

const upsertDeadlineQuery = `
INSERT INTO room_deadlines (room_id, round_number, deadline, resolved)
VALUES ($1, $2, $3, FALSE)
ON CONFLICT (room_id) DO UPDATE SET
	round_number = EXCLUDED.round_number,
	deadline = EXCLUDED.deadline,
	resolved = FALSE
`

// UpsertDeadline records (or replaces) a room's live deadline when a round
// starts.
func (r *DeadlineRepository) UpsertDeadline(ctx context.Context, roomID string, roundNumber int, deadline time.Time) error {
	if _, err := r.db.ExecContext(ctx, upsertDeadlineQuery, roomID, roundNumber, deadline); err != nil {
		return fmt.Errorf("failed to upsert room deadline: %w", err)
	}
	return nil
}

const listDueQuery = `
SELECT room_id, round_number, deadline, resolved
FROM room_deadlines
WHERE resolved = FALSE AND deadline <= $1
ORDER BY deadline
LIMIT $2
`

// ListDue returns unresolved rooms whose deadline has passed as of now.
func (r *DeadlineRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.RoomDeadline, error) {
	rows, err := r.db.QueryContext(ctx, listDueQuery, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due deadlines: %w", err)
	}
	defer rows.Close()

	var out []models.RoomDeadline
	for rows.Next() {
		var d models.RoomDeadline
		if err := rows.Scan(&d.RoomID, &d.RoundNumber, &d.Deadline, &d.Resolved); err != nil {
			return nil, fmt.Errorf("failed to scan room deadline: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due deadlines: %w", err)
	}
	return out, nil
}

const markResolvedQuery = `
UPDATE room_deadlines SET resolved = TRUE
WHERE room_id = $1 AND round_number = $2
`

// MarkResolved settles a deadline row once the room acknowledged the wake.
func (r *DeadlineRepository) MarkResolved(ctx context.Context, roomID string, roundNumber int) error {
	if _, err := r.db.ExecContext(ctx, markResolvedQuery, roomID, roundNumber); err != nil {
		return fmt.Errorf("failed to mark deadline resolved: %w", err)
	}
	return nil
}
