package service_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/tempo/internal/adapters/repository"
	service "github.com/okian/tempo/internal/app"
	"github.com/okian/tempo/internal/domain/model"
	"github.com/okian/tempo/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

// countingStore counts every store call that reaches the memory store.
type countingStore struct {
	*repository.MemoryStore
	calls  atomic.Int64
	failOn string
}

func (c *countingStore) Atomic(ctx context.Context, playerID string, fn func(context.Context, repository.Tx) error) error {
	c.calls.Add(1)
	return c.MemoryStore.Atomic(ctx, playerID, func(ctx context.Context, _ repository.Tx) error {
		return fn(ctx, c)
	})
}

func (c *countingStore) FindByCharts(ctx context.Context, playerID string, chartIDs []string) (map[string]model.Record, error) {
	c.calls.Add(1)
	return c.MemoryStore.FindByCharts(ctx, playerID, chartIDs)
}

func (c *countingStore) Insert(ctx context.Context, rec model.Record) (model.Record, error) {
	c.calls.Add(1)
	return c.MemoryStore.Insert(ctx, rec)
}

func (c *countingStore) Update(ctx context.Context, rec model.Record) error {
	c.calls.Add(1)
	return c.MemoryStore.Update(ctx, rec)
}

func (c *countingStore) SavePlayer(ctx context.Context, p model.Player) error {
	c.calls.Add(1)
	if c.failOn == "save_player" {
		return errors.New("disk full")
	}
	return c.MemoryStore.SavePlayer(ctx, p)
}

func mustLevel(s string) model.Level {
	l, err := model.ParseLevel(s)
	if err != nil {
		panic(err)
	}
	return l
}

func newStore() *countingStore {
	mem := repository.NewMemoryStore()
	mem.PutPlayer(model.Player{ID: "alice", DisplayName: "Alice", IsPublic: true})
	mem.PutPlayer(model.Player{ID: "bob", DisplayName: "Bob", IsPublic: true})
	mem.PutPlayer(model.Player{ID: "carol", DisplayName: "Carol"})
	mem.PutChart(model.Chart{ID: "chart-x", Title: "Xenon", Level: mustLevel("13.7")})
	mem.PutChart(model.Chart{ID: "chart-y", Title: "Yarrow", Level: mustLevel("12.5")})
	mem.PutChart(model.Chart{ID: "chart-t", Title: "Tutorial", Level: mustLevel("15.0"), IsTest: true})
	return &countingStore{MemoryStore: mem}
}

func startService(store repository.Store) *service.Service {
	svc := service.New(store,
		service.WithWorkerCount(2),
		service.WithQueueSize(100),
		service.WithClock(func() time.Time { return fixedNow }),
	)
	So(svc.Start(context.Background()), ShouldBeNil)
	return svc
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New(newStore(), service.WithWorkerCount(3), service.WithQueueSize(10))

		Convey("Then queries needing the boards fail before Start", func() {
			_, err := svc.Rankings(context.Background(), service.BoardRating, 10)
			So(err, ShouldEqual, service.ErrNotStarted)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})

		Convey("When started twice and stopped twice", func() {
			ctx := context.Background()
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)

			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, true)
			So(stats["workerCount"], ShouldEqual, 3)
			So(stats["queueSize"], ShouldEqual, 10)

			So(svc.Stop(ctx), ShouldBeNil)
			So(svc.Stop(ctx), ShouldBeNil)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})
	})
}

func TestService_SubmitRecords(t *testing.T) {
	Convey("Given a started service", t, func() {
		store := newStore()
		svc := startService(store)
		defer func() { _ = svc.Stop(context.Background()) }()
		ctx := context.Background()

		Convey("When a new player submits one full combo at 13.7", func() {
			recs, err := svc.SubmitRecords(ctx, "alice", []model.Submission{
				{ChartID: "chart-x", Score: 1_000_000, Grade: model.GradeFullCombo},
			})
			So(err, ShouldBeNil)

			Convey("Then a record is created and the aggregate updated", func() {
				So(recs, ShouldHaveLength, 1)
				So(recs[0].ID, ShouldNotBeEmpty)
				So(recs[0].PlayCount, ShouldEqual, 1)
				So(recs[0].Score, ShouldEqual, 1_000_000)
				So(recs[0].Grade, ShouldEqual, model.GradeFullCombo)
				So(recs[0].UpdatedAt.Equal(fixedNow), ShouldBeTrue)

				p, err := store.GetPlayer(ctx, "alice")
				So(err, ShouldBeNil)
				So(p.XP, ShouldEqual, 100)
				So(p.Rating, ShouldEqual, 1470)
			})
		})

		Convey("When a player improves an existing record at 12.5", func() {
			_, err := store.MemoryStore.Insert(ctx, model.Record{
				PlayerID: "bob", ChartID: "chart-y", Score: 950_000,
				Grade: model.GradeClear, PlayCount: 3, UpdatedAt: fixedNow.Add(-time.Hour),
			})
			So(err, ShouldBeNil)

			recs, err := svc.SubmitRecords(ctx, "bob", []model.Submission{
				{ChartID: "chart-y", Score: 980_000, Grade: model.GradeFullCombo},
			})
			So(err, ShouldBeNil)

			Convey("Then the record is merged and the rating recomputed", func() {
				So(recs, ShouldHaveLength, 1)
				So(recs[0].PlayCount, ShouldEqual, 4)
				So(recs[0].Score, ShouldEqual, 980_000)
				So(recs[0].Grade, ShouldEqual, model.GradeFullCombo)

				p, _ := store.GetPlayer(ctx, "bob")
				So(p.Rating, ShouldEqual, 1330)
				So(p.XP, ShouldEqual, 80)
			})
		})

		Convey("When a batch names the same chart twice", func() {
			recs, err := svc.SubmitRecords(ctx, "alice", []model.Submission{
				{ChartID: "chart-y", Score: 960_000, Grade: model.GradeFullCombo},
				{ChartID: "chart-x", Score: 900_000, Grade: model.GradeClear},
				{ChartID: "chart-y", Score: 940_000, Grade: model.GradeAllPerfect},
			})
			So(err, ShouldBeNil)

			Convey("Then the second play is reconciled against the first", func() {
				So(recs, ShouldHaveLength, 3)
				So(recs[0].ChartID, ShouldEqual, "chart-y")
				So(recs[0].PlayCount, ShouldEqual, 1)
				So(recs[1].ChartID, ShouldEqual, "chart-x")
				So(recs[2].ChartID, ShouldEqual, "chart-y")
				So(recs[2].ID, ShouldEqual, recs[0].ID)
				So(recs[2].PlayCount, ShouldEqual, 2)
				So(recs[2].Score, ShouldEqual, 960_000)
				So(recs[2].Grade, ShouldEqual, model.GradeAllPerfect)

				stored, _ := svc.ListRecords(ctx, "alice")
				So(stored, ShouldHaveLength, 2)

				// 60 + 1 + 40
				p, _ := store.GetPlayer(ctx, "alice")
				So(p.XP, ShouldEqual, 101)
			})
		})

		Convey("When only test charts are played", func() {
			_, err := svc.SubmitRecords(ctx, "alice", []model.Submission{
				{ChartID: "chart-t", Score: 1_090_000, Grade: model.GradeAllPerfect},
			})
			So(err, ShouldBeNil)

			Convey("Then xp is awarded but the rating stays zero", func() {
				p, _ := store.GetPlayer(ctx, "alice")
				So(p.XP, ShouldEqual, 190)
				So(p.Rating, ShouldEqual, 0)
			})
		})

		Convey("When the batch is empty", func() {
			before := store.calls.Load()
			recs, err := svc.SubmitRecords(ctx, "alice", nil)

			Convey("Then nothing is read or written", func() {
				So(err, ShouldBeNil)
				So(recs, ShouldNotBeNil)
				So(recs, ShouldBeEmpty)
				So(store.calls.Load(), ShouldEqual, before)
			})
		})

		Convey("When the player is unknown", func() {
			_, err := svc.SubmitRecords(ctx, "ghost", []model.Submission{
				{ChartID: "chart-x", Score: 1, Grade: model.GradeFail},
			})

			Convey("Then ErrPlayerNotFound is returned", func() {
				So(errors.Is(err, service.ErrPlayerNotFound), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "ghost")
			})
		})

		Convey("When a chart in the batch is unknown", func() {
			_, err := svc.SubmitRecords(ctx, "alice", []model.Submission{
				{ChartID: "chart-x", Score: 1_000_000, Grade: model.GradeAllPerfect},
				{ChartID: "chart-missing", Score: 1, Grade: model.GradeFail},
			})

			Convey("Then ErrChartNotFound is returned and nothing is kept", func() {
				So(errors.Is(err, service.ErrChartNotFound), ShouldBeTrue)

				recs, err := svc.ListRecords(ctx, "alice")
				So(err, ShouldBeNil)
				So(recs, ShouldBeEmpty)
				p, _ := store.GetPlayer(ctx, "alice")
				So(p.XP, ShouldEqual, 0)
			})
		})

		Convey("When saving the player fails", func() {
			store.failOn = "save_player"
			_, err := svc.SubmitRecords(ctx, "alice", []model.Submission{
				{ChartID: "chart-x", Score: 1_000_000, Grade: model.GradeAllPerfect},
			})

			Convey("Then an internal error is returned and the records are rolled back", func() {
				So(errors.Is(err, service.ErrInternal), ShouldBeTrue)
				So(errors.Is(err, service.ErrPlayerNotFound), ShouldBeFalse)

				recs, _ := svc.ListRecords(ctx, "alice")
				So(recs, ShouldBeEmpty)
			})
		})
	})
}

func TestService_SubmitOnce(t *testing.T) {
	Convey("Given a started service", t, func() {
		store := newStore()
		svc := startService(store)
		defer func() { _ = svc.Stop(context.Background()) }()
		ctx := context.Background()
		batch := []model.Submission{{ChartID: "chart-x", Score: 990_000, Grade: model.GradeClear}}

		Convey("When the same key is used twice", func() {
			first, replayed, err := svc.SubmitOnce(ctx, "alice", "key-1", batch)
			So(err, ShouldBeNil)
			So(replayed, ShouldBeFalse)

			calls := store.calls.Load()
			second, replayed, err := svc.SubmitOnce(ctx, "alice", "key-1", batch)

			Convey("Then the stored result is replayed without touching the store", func() {
				So(err, ShouldBeNil)
				So(replayed, ShouldBeTrue)
				So(second, ShouldResemble, first)
				So(store.calls.Load(), ShouldEqual, calls)

				recs, _ := svc.ListRecords(ctx, "alice")
				So(recs[0].PlayCount, ShouldEqual, 1)
			})
		})

		Convey("When keys differ or players differ", func() {
			_, _, err := svc.SubmitOnce(ctx, "alice", "key-1", batch)
			So(err, ShouldBeNil)
			_, replayed, err := svc.SubmitOnce(ctx, "alice", "key-2", batch)
			So(err, ShouldBeNil)
			So(replayed, ShouldBeFalse)
			_, replayed, err = svc.SubmitOnce(ctx, "bob", "key-1", batch)
			So(err, ShouldBeNil)
			So(replayed, ShouldBeFalse)

			Convey("Then each call is applied", func() {
				recs, _ := svc.ListRecords(ctx, "alice")
				So(recs[0].PlayCount, ShouldEqual, 2)
			})
		})

		Convey("When the first attempt fails", func() {
			bad := []model.Submission{{ChartID: "chart-missing", Score: 1, Grade: model.GradeClear}}
			_, _, err := svc.SubmitOnce(ctx, "alice", "key-1", bad)
			So(errors.Is(err, service.ErrChartNotFound), ShouldBeTrue)

			Convey("Then the key can be retried", func() {
				_, replayed, err := svc.SubmitOnce(ctx, "alice", "key-1", batch)
				So(err, ShouldBeNil)
				So(replayed, ShouldBeFalse)
			})
		})
	})
}

func TestService_Profile(t *testing.T) {
	Convey("Given a started service", t, func() {
		store := newStore()
		svc := startService(store)
		defer func() { _ = svc.Stop(context.Background()) }()
		ctx := context.Background()

		Convey("When a player renames themselves and goes private", func() {
			p, err := svc.UpdateProfile(ctx, "alice", service.ProfileUpdate{DisplayName: "Alicia", IsPublic: false})

			Convey("Then the stored player changes", func() {
				So(err, ShouldBeNil)
				So(p.DisplayName, ShouldEqual, "Alicia")
				So(p.IsPublic, ShouldBeFalse)

				stored, _ := store.GetPlayer(ctx, "alice")
				So(stored.DisplayName, ShouldEqual, "Alicia")
				So(stored.IsPublic, ShouldBeFalse)
			})
		})

		Convey("When a ranked player goes private and back", func() {
			_, err := svc.SubmitRecords(ctx, "alice", []model.Submission{
				{ChartID: "chart-x", Score: 1_000_000, Grade: model.GradeFullCombo},
			})
			So(err, ShouldBeNil)
			So(eventually(func() bool { return ranked(svc, "alice") }), ShouldBeTrue)

			_, err = svc.UpdateProfile(ctx, "alice", service.ProfileUpdate{DisplayName: "Alice", IsPublic: false})
			So(err, ShouldBeNil)

			Convey("Then the player leaves the boards and returns", func() {
				So(eventually(func() bool { return !ranked(svc, "alice") }), ShouldBeTrue)

				_, err = svc.UpdateProfile(ctx, "alice", service.ProfileUpdate{DisplayName: "Alice", IsPublic: true})
				So(err, ShouldBeNil)
				So(eventually(func() bool { return ranked(svc, "alice") }), ShouldBeTrue)
			})
		})

		Convey("When a player who never played goes public", func() {
			_, err := svc.UpdateProfile(ctx, "carol", service.ProfileUpdate{DisplayName: "Carol", IsPublic: true})
			So(err, ShouldBeNil)

			Convey("Then they stay off the boards", func() {
				time.Sleep(50 * time.Millisecond)
				So(ranked(svc, "carol"), ShouldBeFalse)
			})
		})

		Convey("When the player is unknown", func() {
			_, err := svc.UpdateProfile(ctx, "ghost", service.ProfileUpdate{DisplayName: "Ghost"})
			So(errors.Is(err, service.ErrPlayerNotFound), ShouldBeTrue)
		})
	})
}

// ranked reports whether playerID is on the rating board.
func ranked(svc *service.Service, playerID string) bool {
	rows, err := svc.Rankings(context.Background(), service.BoardRating, 100)
	if err != nil {
		return false
	}
	for _, r := range rows {
		if r.PlayerID == playerID {
			return true
		}
	}
	return false
}

func TestService_Credits(t *testing.T) {
	Convey("Given a started service", t, func() {
		store := newStore()
		svc := startService(store)
		defer func() { _ = svc.Stop(context.Background()) }()
		ctx := context.Background()

		Convey("When credits are incremented twice", func() {
			first, err := svc.IncrementCredits(ctx, "bob")
			So(err, ShouldBeNil)
			second, err := svc.IncrementCredits(ctx, "bob")
			So(err, ShouldBeNil)

			Convey("Then each call returns the new count and statistics include it", func() {
				So(first, ShouldEqual, 1)
				So(second, ShouldEqual, 2)

				st, err := svc.Statistics(ctx)
				So(err, ShouldBeNil)
				So(st.TotalCredits, ShouldEqual, 2)
			})
		})

		Convey("When the player is unknown", func() {
			_, err := svc.IncrementCredits(ctx, "ghost")
			So(errors.Is(err, service.ErrPlayerNotFound), ShouldBeTrue)
		})
	})
}

func TestService_TotalScoreRanking(t *testing.T) {
	Convey("Given players with records", t, func() {
		store := newStore()
		svc := startService(store)
		defer func() { _ = svc.Stop(context.Background()) }()
		ctx := context.Background()

		_, err := svc.SubmitRecords(ctx, "alice", []model.Submission{
			{ChartID: "chart-x", Score: 900_000, Grade: model.GradeClear},
			{ChartID: "chart-y", Score: 800_000, Grade: model.GradeClear},
		})
		So(err, ShouldBeNil)
		_, err = svc.SubmitRecords(ctx, "bob", []model.Submission{
			{ChartID: "chart-x", Score: 1_000_000, Grade: model.GradeFullCombo},
		})
		So(err, ShouldBeNil)
		_, err = svc.SubmitRecords(ctx, "carol", []model.Submission{
			{ChartID: "chart-x", Score: 1_090_000, Grade: model.GradeAllPerfect},
			{ChartID: "chart-y", Score: 1_090_000, Grade: model.GradeAllPerfect},
		})
		So(err, ShouldBeNil)

		Convey("Then public players are ranked by their summed best scores", func() {
			rows, err := svc.TotalScoreRanking(ctx, 10)
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 2)
			So(rows[0].PlayerID, ShouldEqual, "alice")
			So(rows[0].TotalScore, ShouldEqual, 1_700_000)
			So(rows[1].PlayerID, ShouldEqual, "bob")
			So(rows[1].Rank, ShouldEqual, 2)
		})

		Convey("Then a non-positive limit is rejected", func() {
			_, err := svc.TotalScoreRanking(ctx, 0)
			So(err, ShouldEqual, service.ErrInvalidLimit)
		})
	})
}

func TestService_PlayOptions(t *testing.T) {
	Convey("Given a started service", t, func() {
		store := newStore()
		svc := startService(store)
		defer func() { _ = svc.Stop(context.Background()) }()
		ctx := context.Background()

		Convey("When a player never saved options", func() {
			o, err := svc.PlayOptions(ctx, "alice")

			Convey("Then the defaults are returned", func() {
				So(err, ShouldBeNil)
				So(o.NoteSpeed, ShouldEqual, model.DefaultNoteSpeed)
				So(o.JudgmentOffset, ShouldEqual, model.DefaultJudgmentOffset)
			})
		})

		Convey("When options are saved", func() {
			saved, err := svc.SavePlayOptions(ctx, "alice", 7.5, -20)
			So(err, ShouldBeNil)

			Convey("Then they are stamped and read back", func() {
				So(saved.UpdatedAt.Equal(fixedNow), ShouldBeTrue)
				o, err := svc.PlayOptions(ctx, "alice")
				So(err, ShouldBeNil)
				So(o, ShouldResemble, saved)
			})
		})

		Convey("When the note speed is not positive", func() {
			_, err := svc.SavePlayOptions(ctx, "alice", 0, 0)

			Convey("Then nothing is stored", func() {
				So(errors.Is(err, service.ErrInvalidPlayOptions), ShouldBeTrue)
				So(errors.Is(err, model.ErrInvalidNoteSpeed), ShouldBeTrue)
				o, _ := svc.PlayOptions(ctx, "alice")
				So(o.UpdatedAt.IsZero(), ShouldBeTrue)
			})
		})

		Convey("When the player is unknown", func() {
			_, errGet := svc.PlayOptions(ctx, "ghost")
			_, errSave := svc.SavePlayOptions(ctx, "ghost", 2, 0)
			So(errors.Is(errGet, service.ErrPlayerNotFound), ShouldBeTrue)
			So(errors.Is(errSave, service.ErrPlayerNotFound), ShouldBeTrue)
		})
	})
}
