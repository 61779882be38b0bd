package model_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/okian/tempo/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestClearGrade(t *testing.T) {
	convey.Convey("Given the clear grades", t, func() {
		convey.Convey("Then they are ordered Fail < Clear < FullCombo < AllPerfect", func() {
			convey.So(model.GradeFail.Rank(), convey.ShouldBeLessThan, model.GradeClear.Rank())
			convey.So(model.GradeClear.Rank(), convey.ShouldBeLessThan, model.GradeFullCombo.Rank())
			convey.So(model.GradeFullCombo.Rank(), convey.ShouldBeLessThan, model.GradeAllPerfect.Rank())
		})

		convey.Convey("Then Beats is strict", func() {
			convey.So(model.GradeFullCombo.Beats(model.GradeClear), convey.ShouldBeTrue)
			convey.So(model.GradeClear.Beats(model.GradeClear), convey.ShouldBeFalse)
			convey.So(model.GradeFail.Beats(model.GradeAllPerfect), convey.ShouldBeFalse)
		})

		convey.Convey("Then an unknown grade ranks below every known one", func() {
			convey.So(model.ClearGrade("bogus").Valid(), convey.ShouldBeFalse)
			convey.So(model.GradeFail.Beats(model.ClearGrade("bogus")), convey.ShouldBeTrue)
		})
	})

	convey.Convey("Given wire names", t, func() {
		convey.Convey("When parsing known names", func() {
			g, err := model.ParseClearGrade(" FullCombo ")
			convey.So(err, convey.ShouldBeNil)
			convey.So(g, convey.ShouldEqual, model.GradeFullCombo)
		})

		convey.Convey("When parsing an unknown name", func() {
			_, err := model.ParseClearGrade("allclear")
			convey.So(errors.Is(err, model.ErrUnknownGrade), convey.ShouldBeTrue)
		})

		convey.Convey("When decoding JSON", func() {
			var v struct {
				Grade model.ClearGrade `json:"clearType"`
			}
			convey.So(json.Unmarshal([]byte(`{"clearType":"perfect"}`), &v), convey.ShouldBeNil)
			convey.So(v.Grade, convey.ShouldEqual, model.GradeAllPerfect)
			convey.So(json.Unmarshal([]byte(`{"clearType":"nope"}`), &v), convey.ShouldNotBeNil)
		})
	})
}

func TestLevel(t *testing.T) {
	convey.Convey("Given chart levels", t, func() {
		convey.Convey("When converting from tenths", func() {
			l, err := model.LevelFromTenths(137)
			convey.So(err, convey.ShouldBeNil)
			convey.So(l, convey.ShouldResemble, model.Level{Integer: 13, Decimal: 7})
			convey.So(l.Tenths(), convey.ShouldEqual, 137)
			convey.So(l.String(), convey.ShouldEqual, "13.7")
		})

		convey.Convey("When parsing text", func() {
			l, err := model.ParseLevel("12.5")
			convey.So(err, convey.ShouldBeNil)
			convey.So(l, convey.ShouldResemble, model.Level{Integer: 12, Decimal: 5})

			l, err = model.ParseLevel("9")
			convey.So(err, convey.ShouldBeNil)
			convey.So(l, convey.ShouldResemble, model.Level{Integer: 9})
		})

		convey.Convey("When the value is out of range", func() {
			_, err := model.NewLevel(0, 5)
			convey.So(errors.Is(err, model.ErrInvalidLevel), convey.ShouldBeTrue)
			_, err = model.ParseLevel("12.55")
			convey.So(errors.Is(err, model.ErrInvalidLevel), convey.ShouldBeTrue)
			_, err = model.LevelFromTenths(5)
			convey.So(errors.Is(err, model.ErrInvalidLevel), convey.ShouldBeTrue)
		})
	})
}

func TestPlayOptions(t *testing.T) {
	convey.Convey("Given a player who never saved options", t, func() {
		o := model.DefaultPlayOptions("p1")

		convey.Convey("Then the defaults are a 1.0 note speed and no offset", func() {
			convey.So(o.PlayerID, convey.ShouldEqual, "p1")
			convey.So(o.NoteSpeed, convey.ShouldEqual, 1.0)
			convey.So(o.JudgmentOffset, convey.ShouldEqual, 0)
			convey.So(o.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then the JSON leaves out the unset update time", func() {
			raw, err := json.Marshal(o)
			convey.So(err, convey.ShouldBeNil)
			convey.So(string(raw), convey.ShouldEqual, `{"userId":"p1","noteSpeed":1,"judgmentOffset":0}`)
		})
	})

	convey.Convey("Given unusable note speeds", t, func() {
		for _, speed := range []float64{0, -1.5, math.NaN(), math.Inf(1)} {
			o := model.PlayOptions{PlayerID: "p1", NoteSpeed: speed}
			convey.So(errors.Is(o.Validate(), model.ErrInvalidNoteSpeed), convey.ShouldBeTrue)
		}
	})
}
