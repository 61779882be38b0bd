package scoring_test

import (
	"math"
	"testing"

	"github.com/okian/tempo/internal/domain/model"
	"github.com/okian/tempo/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

func rated(level model.Level, score uint32, isTest bool) model.RatedRecord {
	return model.RatedRecord{
		Record: model.Record{Score: score},
		Chart:  model.ChartMeta{Level: level, IsTest: isTest},
	}
}

func TestXPForScore(t *testing.T) {
	Convey("Given the experience curve", t, func() {
		Convey("Then low scores still award the minimum", func() {
			So(scoring.XPForScore(0), ShouldEqual, 1)
			So(scoring.XPForScore(899_999), ShouldEqual, 1)
			So(scoring.XPForScore(900_000), ShouldEqual, 1)
			So(scoring.XPForScore(901_999), ShouldEqual, 1)
		})

		Convey("Then higher scores award a point per thousand over the floor", func() {
			So(scoring.XPForScore(905_000), ShouldEqual, 5)
			So(scoring.XPForScore(1_000_000), ShouldEqual, 100)
			So(scoring.XPForScore(1_090_000), ShouldEqual, 190)
		})
	})
}

func TestTotalXP(t *testing.T) {
	Convey("Given a batch of scores", t, func() {
		Convey("When the batch is empty", func() {
			So(scoring.TotalXP(nil), ShouldEqual, 0)
		})

		Convey("When the batch has several plays", func() {
			So(scoring.TotalXP([]uint32{1_000_000, 905_000, 10}), ShouldEqual, 106)
		})

		Convey("When the running total would overflow", func() {
			So(scoring.AddXP(math.MaxUint32-10, 100), ShouldEqual, uint32(math.MaxUint32))
			So(scoring.AddXP(math.MaxUint32, math.MaxUint32), ShouldEqual, uint32(math.MaxUint32))
			So(scoring.AddXP(1, 2), ShouldEqual, 3)
		})
	})
}

func TestScoreBonus(t *testing.T) {
	Convey("Given the bonus anchors", t, func() {
		Convey("Then anchor scores map exactly", func() {
			So(scoring.ScoreBonus(700_000), ShouldEqual, -200)
			So(scoring.ScoreBonus(900_000), ShouldEqual, 0)
			So(scoring.ScoreBonus(1_000_000), ShouldEqual, 100)
			So(scoring.ScoreBonus(1_090_000), ShouldEqual, 200)
		})

		Convey("Then scores outside the table are clamped", func() {
			So(scoring.ScoreBonus(0), ShouldEqual, -200)
			So(scoring.ScoreBonus(500_000), ShouldEqual, -200)
			So(scoring.ScoreBonus(1_200_000), ShouldEqual, 200)
		})

		Convey("Then scores between anchors interpolate with floor division", func() {
			So(scoring.ScoreBonus(980_000), ShouldEqual, 80)
			So(scoring.ScoreBonus(725_000), ShouldEqual, -175)
			So(scoring.ScoreBonus(900_999), ShouldEqual, 0)
			So(scoring.ScoreBonus(1_070_000), ShouldEqual, 175)
			// 150 + 50*1/40000 truncates to 150
			So(scoring.ScoreBonus(1_050_001), ShouldEqual, 150)
		})
	})
}

func TestChartRating(t *testing.T) {
	Convey("Given single charts", t, func() {
		So(scoring.ChartRating(model.Level{Integer: 13, Decimal: 7}, 1_000_000), ShouldEqual, 1470)
		So(scoring.ChartRating(model.Level{Integer: 12, Decimal: 5}, 980_000), ShouldEqual, 1330)

		Convey("Then a negative sum is clamped to zero", func() {
			So(scoring.ChartRating(model.Level{Integer: 1}, 0), ShouldEqual, 0)
		})
	})
}

func TestRating(t *testing.T) {
	l137 := model.Level{Integer: 13, Decimal: 7}
	l125 := model.Level{Integer: 12, Decimal: 5}

	Convey("Given a player's records", t, func() {
		Convey("When there are none", func() {
			So(scoring.Rating(nil), ShouldEqual, 0)
		})

		Convey("When only test charts were played", func() {
			So(scoring.Rating([]model.RatedRecord{rated(l137, 1_000_000, true)}), ShouldEqual, 0)
		})

		Convey("When exactly one chart is eligible", func() {
			So(scoring.Rating([]model.RatedRecord{rated(l125, 980_000, false)}), ShouldEqual, 1330)
		})

		Convey("When two charts are eligible", func() {
			recs := []model.RatedRecord{rated(l137, 1_000_000, false), rated(l125, 980_000, false)}
			So(scoring.Rating(recs), ShouldEqual, (1470+1330)/2)
		})

		Convey("When five charts are eligible", func() {
			recs := []model.RatedRecord{
				rated(model.Level{Integer: 10}, 900_000, false),               // 1000
				rated(l137, 1_000_000, false),                                 // 1470
				rated(model.Level{Integer: 11, Decimal: 2}, 950_000, false),   // 1170
				rated(l125, 980_000, false),                                   // 1330
				rated(model.Level{Integer: 14, Decimal: 1}, 1_000_001, false), // 1510
				rated(model.Level{Integer: 15, Decimal: 9}, 1_090_000, true),  // test, ignored
			}
			So(scoring.Rating(recs), ShouldEqual, (1510+1470+1330)/3)
		})

		Convey("When the average is fractional it is floored", func() {
			recs := []model.RatedRecord{
				rated(model.Level{Integer: 10}, 900_000, false), // 1000
				rated(model.Level{Integer: 10}, 901_000, false), // 1001
				rated(model.Level{Integer: 10}, 901_000, false), // 1001
			}
			So(scoring.Rating(recs), ShouldEqual, 1000)
		})
	})
}
