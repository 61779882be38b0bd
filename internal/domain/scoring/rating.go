package scoring

import (
	"slices"

	"github.com/okian/tempo/internal/domain/model"
)

// ratedChartsCount is how many of the best charts contribute to the rating.
const ratedChartsCount = 3

// anchor maps a score threshold to a bonus.
type anchor struct {
	score int64
	bonus int64
}

// bonusAnchors must stay sorted by score.
var bonusAnchors = [...]anchor{
	{700_000, -200},
	{750_000, -150},
	{800_000, -100},
	{850_000, -50},
	{900_000, 0},
	{950_000, 50},
	{1_000_000, 100},
	{1_050_000, 150},
	{1_090_000, 200},
}

// ScoreBonus interpolates the rating bonus for a score, clamped to the end anchors.
func ScoreBonus(score uint32) int64 {
	s := int64(score)
	first, last := bonusAnchors[0], bonusAnchors[len(bonusAnchors)-1]
	if s <= first.score {
		return first.bonus
	}
	if s >= last.score {
		return last.bonus
	}
	for i := 1; i < len(bonusAnchors); i++ {
		lo, hi := bonusAnchors[i-1], bonusAnchors[i]
		if s > hi.score {
			continue
		}
		// bonuses rise with score, so the numerator is never negative and / floors
		return lo.bonus + (hi.bonus-lo.bonus)*(s-lo.score)/(hi.score-lo.score)
	}
	return last.bonus
}

// LevelBase is the rating contribution of the chart level alone.
func LevelBase(l model.Level) int64 {
	return int64(l.Integer)*100 + int64(l.Decimal)*10
}

// ChartRating is the rating of a single record, never below zero.
func ChartRating(l model.Level, score uint32) int64 {
	return max(0, LevelBase(l)+ScoreBonus(score))
}

// Rating averages the best ChartRating values over non-test charts.
// A player without eligible records rates 0.
func Rating(records []model.RatedRecord) uint32 {
	per := make([]int64, 0, len(records))
	for _, r := range records {
		if r.Chart.IsTest {
			continue
		}
		per = append(per, ChartRating(r.Chart.Level, r.Score))
	}
	if len(per) == 0 {
		return 0
	}

	slices.SortFunc(per, func(a, b int64) int {
		switch {
		case a > b:
			return -1
		case a < b:
			return 1
		}
		return 0
	})
	top := per[:min(ratedChartsCount, len(per))]

	var sum int64
	for _, v := range top {
		sum += v
	}
	return uint32(sum / int64(len(top)))
}
