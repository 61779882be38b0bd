// Package types contains read shapes shared by the service and the HTTP layer.
package types

import "time"

// Standing is one row of a player ranking (rating or xp).
type Standing struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"userId"`
	Value    int64  `json:"value"`
}

// ChartScore is one row of a per-chart high score ranking.
type ChartScore struct {
	Rank        int       `json:"rank"`
	PlayerID    string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Score       uint32    `json:"score"`
	ClearType   string    `json:"clearType"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TotalScore is one row of the ranking by the sum of a player's best scores.
type TotalScore struct {
	Rank        int    `json:"rank"`
	PlayerID    string `json:"userId"`
	DisplayName string `json:"displayName"`
	TotalScore  int64  `json:"totalScore"`
}

// Statistics summarizes activity across all players.
type Statistics struct {
	TotalPlayers int64 `json:"totalPlayers"`
	TotalPlays   int64 `json:"totalPlays"`
	TotalScore   int64 `json:"totalScore"`
	TotalCredits int64 `json:"totalCredits"`
}

// Profile is the public view of a player.
type Profile struct {
	PlayerID    string    `json:"id"`
	DisplayName string    `json:"displayName"`
	XP          uint32    `json:"xp"`
	Rating      uint32    `json:"rating"`
	Credits     uint32    `json:"credits"`
	IsPublic    bool      `json:"isPublic"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Progress is a player's aggregate with their positions on both rankings.
// A zero rank means the player is not on that ranking yet.
type Progress struct {
	PlayerID   string `json:"id"`
	XP         uint32 `json:"xp"`
	Rating     uint32 `json:"rating"`
	RatingRank int    `json:"ratingRank"`
	XPRank     int    `json:"xpRank"`
}

// AssignRanks numbers rows in order, giving equal ranks to equal keys.
// Ranks are dense: 1, 1, 2.
func AssignRanks[T any](rows []T, key func(T) int64, set func(*T, int)) {
	rank := 0
	for i := range rows {
		if i == 0 || key(rows[i]) != key(rows[i-1]) {
			rank++
		}
		set(&rows[i], rank)
	}
}
