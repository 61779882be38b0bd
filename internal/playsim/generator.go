package playsim

import (
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/okian/tempo/internal/domain/model"
)

// Score distribution bounds.
const (
	scoreMax      = 1_010_000
	passingFloor  = 700_000
	strongFloor   = 950_000
	failWeight    = 2
	clearWeight   = 5
	comboWeight   = 2
	perfectWeight = 1
)

// Play is one submission on the wire.
type Play struct {
	SheetID   string           `json:"sheetId"`
	Score     uint32           `json:"score"`
	ClearType model.ClearGrade `json:"clearType"`
}

// Batch is one POST /users/{userId}/records request.
type Batch struct {
	PlayerID string `json:"playerId"`
	Key      string `json:"idempotencyKey"`
	Plays    []Play `json:"plays"`
	Replay   bool   `json:"replay"`
}

// generate builds cfg.Batches batches deterministically from cfg.Seed.
// Idempotency keys are random and do not depend on the seed.
func generate(cfg *Config) []Batch {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	batches := make([]Batch, cfg.Batches)
	for i := range batches {
		n := 1 + rng.IntN(cfg.BatchSize)
		plays := make([]Play, n)
		for j := range plays {
			plays[j] = randomPlay(rng, cfg.Charts)
		}
		batches[i] = Batch{
			PlayerID: cfg.Players[rng.IntN(len(cfg.Players))],
			Key:      uuid.NewString(),
			Plays:    plays,
			Replay:   rng.Float64() < cfg.ReplayRate,
		}
	}
	return batches
}

// randomPlay mostly produces clears; the grade bounds the score range.
func randomPlay(rng *rand.Rand, charts []string) Play {
	p := Play{SheetID: charts[rng.IntN(len(charts))]}

	switch w := rng.IntN(failWeight + clearWeight + comboWeight + perfectWeight); {
	case w < failWeight:
		p.ClearType = model.GradeFail
		p.Score = uint32(rng.IntN(passingFloor))
	case w < failWeight+clearWeight:
		p.ClearType = model.GradeClear
		p.Score = uint32(passingFloor + rng.IntN(scoreMax-passingFloor))
	case w < failWeight+clearWeight+comboWeight:
		p.ClearType = model.GradeFullCombo
		p.Score = uint32(strongFloor + rng.IntN(scoreMax-strongFloor))
	default:
		p.ClearType = model.GradeAllPerfect
		p.Score = scoreMax
	}
	return p
}
