package playsim

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/tempo/internal/adapters/http/api"
	"github.com/okian/tempo/internal/adapters/repository"
	service "github.com/okian/tempo/internal/app"
	"github.com/okian/tempo/internal/domain/model"
	"github.com/okian/tempo/internal/domain/types"
	"github.com/okian/tempo/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func mustLevel(s string) model.Level {
	l, err := model.ParseLevel(s)
	if err != nil {
		panic(err)
	}
	return l
}

// newTempoServer serves the real API over a seeded memory store.
func newTempoServer(ctx context.Context) (*httptest.Server, func()) {
	store := repository.NewMemoryStore()
	store.PutPlayer(model.Player{ID: "alice", DisplayName: "Alice", IsPublic: true})
	store.PutPlayer(model.Player{ID: "bob", DisplayName: "Bob", IsPublic: true})
	store.PutChart(model.Chart{ID: "chart-x", Level: mustLevel("13.7")})
	store.PutChart(model.Chart{ID: "chart-y", Level: mustLevel("12.5")})

	svc := service.New(store, service.WithWorkerCount(2), service.WithQueueSize(1000))
	So(svc.Start(ctx), ShouldBeNil)

	srv := api.NewServer(svc, api.WithMaxBatchSize(16))
	r := mux.NewRouter()
	srv.Register(ctx, r)
	ts := httptest.NewServer(srv.Handler(r))
	return ts, func() {
		ts.Close()
		_ = svc.Stop(context.Background())
	}
}

func TestGenerate(t *testing.T) {
	Convey("Given a config with a fixed seed", t, func() {
		cfg := &Config{
			Players:    []string{"alice", "bob"},
			Charts:     []string{"chart-x", "chart-y", "chart-z"},
			Batches:    50,
			BatchSize:  6,
			ReplayRate: 0.3,
			Seed:       42,
		}

		Convey("Then two runs produce the same plays with distinct keys", func() {
			a, b := generate(cfg), generate(cfg)
			So(a, ShouldHaveLength, 50)
			for i := range a {
				So(a[i].PlayerID, ShouldEqual, b[i].PlayerID)
				So(a[i].Plays, ShouldResemble, b[i].Plays)
				So(a[i].Replay, ShouldEqual, b[i].Replay)
				So(a[i].Key, ShouldNotEqual, b[i].Key)
			}
		})

		Convey("Then every play is well formed", func() {
			for _, batch := range generate(cfg) {
				So(len(batch.Plays), ShouldBeBetweenOrEqual, 1, 6)
				for _, p := range batch.Plays {
					So(p.ClearType.Valid(), ShouldBeTrue)
					So(p.Score, ShouldBeLessThanOrEqualTo, scoreMax)
					if p.ClearType == model.GradeFail {
						So(p.Score, ShouldBeLessThan, passingFloor)
					} else {
						So(p.Score, ShouldBeGreaterThanOrEqualTo, passingFloor)
					}
				}
			}
		})
	})
}

func TestExpectation(t *testing.T) {
	Convey("Given a baseline with one record", t, func() {
		e := newExpectation(
			map[string][]Record{"alice": {{SheetID: "chart-x", Score: 950_000, ClearType: model.GradeClear, PlayCount: 2}}},
			map[string]types.Progress{"alice": {PlayerID: "alice", XP: 10}},
		)
		e.apply(Batch{PlayerID: "alice", Plays: []Play{
			{SheetID: "chart-x", Score: 900_000, ClearType: model.GradeFullCombo},
			{SheetID: "chart-y", Score: 1_000_000, ClearType: model.GradeClear},
		}})

		Convey("When the stored state matches", func() {
			got := e.verify(
				map[string][]Record{"alice": {
					{SheetID: "chart-x", Score: 950_000, ClearType: model.GradeFullCombo, PlayCount: 3},
					{SheetID: "chart-y", Score: 1_000_000, ClearType: model.GradeClear, PlayCount: 1},
				}},
				// 10 + max(1, 0) + 100
				map[string]types.Progress{"alice": {XP: 111}},
			)
			So(got, ShouldBeEmpty)
		})

		Convey("When a play was lost", func() {
			got := e.verify(
				map[string][]Record{"alice": {
					{SheetID: "chart-x", Score: 950_000, ClearType: model.GradeClear, PlayCount: 2},
				}},
				map[string]types.Progress{"alice": {XP: 111}},
			)
			So(got, ShouldHaveLength, 3)
			So(got[0].Field, ShouldEqual, "clearType")
			So(got[1].Field, ShouldEqual, "playCount")
			So(got[2].SheetID, ShouldEqual, "chart-y")
			So(got[2].Got, ShouldEqual, "missing")
		})

		Convey("When the player is marked unknown", func() {
			e.markUnknown("alice")
			So(e.verify(nil, nil), ShouldBeEmpty)
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given a running tempo server", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		ts, stop := newTempoServer(ctx)
		defer stop()

		cfg := &Config{
			BaseURL:    ts.URL,
			Players:    []string{"alice", "bob"},
			Charts:     []string{"chart-x", "chart-y"},
			Batches:    40,
			BatchSize:  4,
			Workers:    4,
			ReplayRate: 0.5,
			Timeout:    5 * time.Second,
			Seed:       7,
		}
		wantReplays := 0
		for _, b := range generate(cfg) {
			if b.Replay {
				wantReplays++
			}
		}

		Convey("When the simulation runs twice", func() {
			stats, err := Run(ctx, cfg)
			So(err, ShouldBeNil)
			So(stats.BatchesSubmitted, ShouldEqual, 40)
			So(stats.BatchesFailed, ShouldEqual, 0)
			So(stats.BatchesReplayed, ShouldEqual, wantReplays)
			So(stats.Mismatches, ShouldEqual, 0)

			Convey("Then the second run verifies on top of the first", func() {
				again, err := Run(ctx, cfg)
				So(err, ShouldBeNil)
				So(again.Mismatches, ShouldEqual, 0)
			})
		})

		Convey("When a player does not exist", func() {
			cfg.Players = []string{"ghost"}
			_, err := Run(ctx, cfg)

			Convey("Then the baseline fails", func() {
				var se *StatusError
				So(errors.As(err, &se), ShouldBeTrue)
				So(se.Status, ShouldEqual, http.StatusNotFound)
			})
		})
	})

	Convey("Given a config without charts", t, func() {
		_, err := Run(context.Background(), &Config{Players: []string{"alice"}})
		So(err, ShouldEqual, ErrNoTargets)
	})

	Convey("Given a server that forgets every play", t, func() {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case strings.HasSuffix(r.URL.Path, "/progress"):
				_ = json.NewEncoder(w).Encode(types.Progress{PlayerID: "alice"})
			case strings.HasSuffix(r.URL.Path, "/records"):
				_, _ = w.Write([]byte("[]"))
			default:
				w.WriteHeader(http.StatusOK)
			}
		}))
		defer ts.Close()

		stats, err := Run(context.Background(), &Config{
			BaseURL: ts.URL,
			Players: []string{"alice"},
			Charts:  []string{"chart-x"},
			Batches: 3,
			Seed:    1,
		})

		Convey("Then the run reports mismatches", func() {
			So(errors.Is(err, ErrMismatch), ShouldBeTrue)
			So(stats.Mismatches, ShouldBeGreaterThan, 0)
		})
	})
}

func TestSubmitWithRetry(t *testing.T) {
	Convey("Given a server that fails the first attempt", t, func() {
		var calls atomic.Int32
		keys := make(chan string, 2)
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keys <- r.Header.Get("Idempotency-Key")
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("[]"))
		}))
		defer ts.Close()

		client := NewClient(ts.URL, time.Second)
		err := submitWithRetry(context.Background(), client, Batch{
			PlayerID: "alice",
			Key:      "k-1",
			Plays:    []Play{{SheetID: "chart-x", Score: 1, ClearType: model.GradeFail}},
		})

		Convey("Then the batch is resent under the same key", func() {
			So(err, ShouldBeNil)
			So(calls.Load(), ShouldEqual, 2)
			So(<-keys, ShouldEqual, "k-1")
			So(<-keys, ShouldEqual, "k-1")
		})
	})

	Convey("Given a server rejecting the batch", t, func() {
		var calls atomic.Int32
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer ts.Close()

		err := submitWithRetry(context.Background(), NewClient(ts.URL, time.Second), Batch{PlayerID: "alice"})

		Convey("Then it is not retried", func() {
			var se *StatusError
			So(errors.As(err, &se), ShouldBeTrue)
			So(se.Status, ShouldEqual, http.StatusBadRequest)
			So(calls.Load(), ShouldEqual, 1)
		})
	})
}
