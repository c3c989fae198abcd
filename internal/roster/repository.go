// Package roster reads room membership. Membership is owned by the lobby
// service; this client only answers "who is expected to submit this round".
package roster

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Participant is one room member as the aggregator sees them.
type Participant struct {
	UserID      string
	DisplayName string
	JoinedAt    time.Time
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const listParticipantsQuery = `
SELECT user_id, display_name, joined_at
FROM room_participants
WHERE room_id = $1 AND left_at IS NULL
ORDER BY joined_at
`

// ListParticipants returns the active members of a room. Members who left
// mid-game carry a left_at stamp and are excluded, so aggregation never waits
// on the departed.
func (r *Repository) ListParticipants(ctx context.Context, roomID string) ([]Participant, error) {
	rows, err := r.db.QueryContext(ctx, listParticipantsQuery, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list room participants: %w", err)
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.UserID, &p.DisplayName, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan room participant: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate room participants: %w", err)
	}
	return out, nil
}

// UserIDs is a convenience for callers that only need the expected-set.
func UserIDs(participants []Participant) []string {
	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = p.UserID
	}
	return ids
}
