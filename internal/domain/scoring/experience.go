// Package scoring converts plays into experience points and records into ratings.
//
// Everything here is a pure function over integers; nothing can fail.
package scoring

import "math"

// Experience curve constants.
const (
	xpScoreFloor   = 900_000
	xpScoreDivisor = 1_000
	xpMinimumAward = 1
)

// XPForScore returns the experience awarded for one play.
// Scores at or below the floor still award the minimum.
func XPForScore(score uint32) uint32 {
	var over uint32
	if score > xpScoreFloor {
		over = score - xpScoreFloor
	}
	return max(xpMinimumAward, over/xpScoreDivisor)
}

// TotalXP sums XPForScore over scores, saturating at math.MaxUint32.
func TotalXP(scores []uint32) uint32 {
	var total uint32
	for _, s := range scores {
		total = AddXP(total, XPForScore(s))
	}
	return total
}

// AddXP adds b to a, saturating at math.MaxUint32.
func AddXP(a, b uint32) uint32 {
	if a > math.MaxUint32-b {
		return math.MaxUint32
	}
	return a + b
}
