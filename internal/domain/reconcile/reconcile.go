// Package reconcile merges submitted plays into a player's stored records.
package reconcile

import (
	"time"

	"github.com/okian/tempo/internal/domain/model"
)

// Merge returns the state of the (playerID, sub.ChartID) record after sub is applied.
//
// A nil existing record yields a new record with an empty ID and a play count of 1;
// the caller assigns the identifier when it persists the record. Merge never fails
// and does not validate its input.
func Merge(playerID string, existing *model.Record, sub model.Submission, at time.Time) model.Record {
	if existing == nil {
		return model.Record{
			PlayerID:  playerID,
			ChartID:   sub.ChartID,
			Score:     sub.Score,
			Grade:     sub.Grade,
			PlayCount: 1,
			UpdatedAt: at,
		}
	}

	next := *existing
	next.PlayCount++
	if sub.Score > next.Score {
		next.Score = sub.Score
	}
	if sub.Grade.Beats(next.Grade) {
		next.Grade = sub.Grade
	}
	next.UpdatedAt = at
	return next
}
