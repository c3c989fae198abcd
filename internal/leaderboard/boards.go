package leaderboard

import (
	"sort"

	"github.com/eraguessr/roundsync/internal/models"
)

// Boards holds the three derived leaderboards for one round.
type Boards struct {
	Total []models.LeaderboardRow `json:"total"`
	When  []models.LeaderboardRow `json:"when"`
	Where []models.LeaderboardRow `json:"where"`
}

func metricValue(metric models.LeaderboardMetric, s models.PeerRoundSnapshot) float64 {
	switch metric {
	case models.MetricWhen:
		return s.TimeAccuracy
	case models.MetricWhere:
		return s.LocationAccuracy
	default:
		v := s.TimeAccuracy + s.LocationAccuracy - s.AccDebt
		if v < 0 {
			v = 0
		}
		return v
	}
}

// rank sorts snapshots descending by the metric, ties broken by earliest
// submittedAt, and assigns dense 1-based ranks.
func rank(metric models.LeaderboardMetric, snapshots []models.PeerRoundSnapshot) []models.LeaderboardRow {
	sorted := make([]models.PeerRoundSnapshot, len(snapshots))
	copy(sorted, snapshots)
	sort.SliceStable(sorted, func(i, j int) bool {
		vi, vj := metricValue(metric, sorted[i]), metricValue(metric, sorted[j])
		if vi != vj {
			return vi > vj
		}
		return sorted[i].SubmittedAt.Before(sorted[j].SubmittedAt)
	})

	rows := make([]models.LeaderboardRow, len(sorted))
	for i, s := range sorted {
		rows[i] = models.LeaderboardRow{
			Rank:        i + 1,
			UserID:      s.UserID,
			DisplayName: s.DisplayName,
			Value:       metricValue(metric, s),
			HintsUsed:   s.HintsUsed,
		}
	}
	return rows
}

// compute derives all three boards with a full recompute; for room-sized
// inputs this is cheap and avoids incremental-update bookkeeping.
func compute(snapshots []models.PeerRoundSnapshot) Boards {
	return Boards{
		Total: rank(models.MetricTotal, snapshots),
		When:  rank(models.MetricWhen, snapshots),
		Where: rank(models.MetricWhere, snapshots),
	}
}
