package model

import (
	"fmt"
	"math"
	"time"
)

// Player holds the per-player progression aggregate.
type Player struct {
	ID          string
	DisplayName string
	XP          uint32
	Rating      uint32
	IsPublic    bool
	Credits     uint32
	CreatedAt   time.Time
}

// ProgressEvent is emitted after a player's aggregate has been recomputed.
// Seq increases with every committed change, so for one player a lower Seq
// is always an older state. Private players are taken off the boards.
type ProgressEvent struct {
	PlayerID string    `json:"playerId"`
	XP       uint32    `json:"xp"`
	XPDelta  uint32    `json:"xpDelta"`
	Rating   uint32    `json:"rating"`
	Plays    int       `json:"plays"`
	Public   bool      `json:"public"`
	Seq      uint64    `json:"seq"`
	At       time.Time `json:"at"`
}

// Play option defaults for players who never saved theirs.
const (
	DefaultNoteSpeed      = 1.0
	DefaultJudgmentOffset = 0
)

// PlayOptions are a player's gameplay preferences.
type PlayOptions struct {
	PlayerID       string    `json:"userId"`
	NoteSpeed      float64   `json:"noteSpeed"`
	JudgmentOffset int32     `json:"judgmentOffset"`
	UpdatedAt      time.Time `json:"updatedAt,omitzero"`
}

// DefaultPlayOptions returns the options of a player who never saved any.
func DefaultPlayOptions(playerID string) PlayOptions {
	return PlayOptions{PlayerID: playerID, NoteSpeed: DefaultNoteSpeed, JudgmentOffset: DefaultJudgmentOffset}
}

// Validate reports whether the options can be stored.
func (o PlayOptions) Validate() error {
	if math.IsNaN(o.NoteSpeed) || math.IsInf(o.NoteSpeed, 0) || o.NoteSpeed <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidNoteSpeed, o.NoteSpeed)
	}
	return nil
}
