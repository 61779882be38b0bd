// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
)

// ClearGrade classifies the outcome of a single play.
//
// Grades are compared through Rank only; the string value is the wire name.
type ClearGrade string

// Known clear grades, lowest first.
const (
	GradeFail       ClearGrade = "failed"
	GradeClear      ClearGrade = "clear"
	GradeFullCombo  ClearGrade = "fullcombo"
	GradeAllPerfect ClearGrade = "perfect"
)

// Rank returns the ordinal of the grade. Unknown grades rank below GradeFail.
func (g ClearGrade) Rank() int {
	switch g {
	case GradeFail:
		return 0
	case GradeClear:
		return 1
	case GradeFullCombo:
		return 2
	case GradeAllPerfect:
		return 3
	default:
		return -1
	}
}

// Valid reports whether g is one of the known grades.
func (g ClearGrade) Valid() bool { return g.Rank() >= 0 }

// Beats reports whether g ranks strictly above other.
func (g ClearGrade) Beats(other ClearGrade) bool { return g.Rank() > other.Rank() }

func (g ClearGrade) String() string { return string(g) }

// ParseClearGrade converts a wire name into a ClearGrade.
func ParseClearGrade(s string) (ClearGrade, error) {
	g := ClearGrade(strings.ToLower(strings.TrimSpace(s)))
	if !g.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownGrade, s)
	}
	return g, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *ClearGrade) UnmarshalText(b []byte) error {
	parsed, err := ParseClearGrade(string(b))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
