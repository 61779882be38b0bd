package playsim

import (
	"fmt"
	"sort"

	"github.com/okian/tempo/internal/domain/model"
	"github.com/okian/tempo/internal/domain/scoring"
	"github.com/okian/tempo/internal/domain/types"
)

// Mismatch is one difference between the expected and the stored state.
type Mismatch struct {
	PlayerID string
	SheetID  string
	Field    string
	Want     string
	Got      string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s/%s %s: want %s, got %s", m.PlayerID, m.SheetID, m.Field, m.Want, m.Got)
}

type expectedRecord struct {
	playCount uint32
	score     uint32
	grade     model.ClearGrade
}

// expectation folds submitted batches over the state observed before the run.
// Players whose batches ended in an unknown outcome are skipped.
type expectation struct {
	records map[string]map[string]*expectedRecord
	xp      map[string]uint32
	unknown map[string]bool
}

func newExpectation(baseline map[string][]Record, progress map[string]types.Progress) *expectation {
	e := &expectation{
		records: make(map[string]map[string]*expectedRecord, len(baseline)),
		xp:      make(map[string]uint32, len(progress)),
		unknown: make(map[string]bool),
	}
	for player, recs := range baseline {
		byChart := make(map[string]*expectedRecord, len(recs))
		for _, r := range recs {
			byChart[r.SheetID] = &expectedRecord{playCount: r.PlayCount, score: r.Score, grade: r.ClearType}
		}
		e.records[player] = byChart
	}
	for player, p := range progress {
		e.xp[player] = p.XP
	}
	return e
}

// apply records an accepted batch.
func (e *expectation) apply(b Batch) {
	byChart := e.records[b.PlayerID]
	if byChart == nil {
		byChart = make(map[string]*expectedRecord)
		e.records[b.PlayerID] = byChart
	}
	scores := make([]uint32, len(b.Plays))
	for i, p := range b.Plays {
		scores[i] = p.Score
		r := byChart[p.SheetID]
		if r == nil {
			byChart[p.SheetID] = &expectedRecord{playCount: 1, score: p.Score, grade: p.ClearType}
			continue
		}
		r.playCount++
		r.score = max(r.score, p.Score)
		if p.ClearType.Beats(r.grade) {
			r.grade = p.ClearType
		}
	}
	e.xp[b.PlayerID] = scoring.AddXP(e.xp[b.PlayerID], scoring.TotalXP(scores))
}

// markUnknown excludes playerID from verification.
func (e *expectation) markUnknown(playerID string) {
	e.unknown[playerID] = true
}

// verify compares the expectation with the observed records and progress.
// The result is sorted by player and sheet.
func (e *expectation) verify(records map[string][]Record, progress map[string]types.Progress) []Mismatch {
	var out []Mismatch
	for player, want := range e.records {
		if e.unknown[player] {
			continue
		}
		got := make(map[string]Record, len(records[player]))
		for _, r := range records[player] {
			got[r.SheetID] = r
		}
		for sheet, w := range want {
			g, ok := got[sheet]
			if !ok {
				out = append(out, Mismatch{PlayerID: player, SheetID: sheet, Field: "record", Want: "present", Got: "missing"})
				continue
			}
			if g.PlayCount != w.playCount {
				out = append(out, mismatch(player, sheet, "playCount", w.playCount, g.PlayCount))
			}
			if g.Score != w.score {
				out = append(out, mismatch(player, sheet, "score", w.score, g.Score))
			}
			if g.ClearType != w.grade {
				out = append(out, mismatch(player, sheet, "clearType", w.grade, g.ClearType))
			}
		}
		for sheet := range got {
			if _, ok := want[sheet]; !ok {
				out = append(out, Mismatch{PlayerID: player, SheetID: sheet, Field: "record", Want: "absent", Got: "present"})
			}
		}
		if p, ok := progress[player]; ok && p.XP != e.xp[player] {
			out = append(out, mismatch(player, "", "xp", e.xp[player], p.XP))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].PlayerID != out[j].PlayerID {
			return out[i].PlayerID < out[j].PlayerID
		}
		if out[i].SheetID != out[j].SheetID {
			return out[i].SheetID < out[j].SheetID
		}
		return out[i].Field < out[j].Field
	})
	return out
}

func mismatch(player, sheet, field string, want, got any) Mismatch {
	return Mismatch{PlayerID: player, SheetID: sheet, Field: field, Want: fmt.Sprint(want), Got: fmt.Sprint(got)}
}
