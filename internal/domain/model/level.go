package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Level is a chart difficulty such as 13.7: an integer part and one decimal digit.
type Level struct {
	Integer int
	Decimal int
}

// NewLevel validates and builds a Level.
func NewLevel(integer, decimal int) (Level, error) {
	if integer < 1 || decimal < 0 || decimal > 9 {
		return Level{}, fmt.Errorf("%w: %d.%d", ErrInvalidLevel, integer, decimal)
	}
	return Level{Integer: integer, Decimal: decimal}, nil
}

// LevelFromTenths converts a level stored in tenths (137) into 13.7.
func LevelFromTenths(tenths int) (Level, error) {
	return NewLevel(tenths/10, tenths%10)
}

// Tenths returns the level scaled by ten, the storage representation.
func (l Level) Tenths() int { return l.Integer*10 + l.Decimal }

func (l Level) String() string { return fmt.Sprintf("%d.%d", l.Integer, l.Decimal) }

// ParseLevel accepts "13" or "13.7".
func ParseLevel(s string) (Level, error) {
	whole, frac, hasFrac := strings.Cut(strings.TrimSpace(s), ".")
	integer, err := strconv.Atoi(whole)
	if err != nil {
		return Level{}, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
	decimal := 0
	if hasFrac {
		if len(frac) != 1 {
			return Level{}, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
		}
		if decimal, err = strconv.Atoi(frac); err != nil {
			return Level{}, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
		}
	}
	return NewLevel(integer, decimal)
}

// UnmarshalText implements encoding.TextUnmarshaler so levels can be read from YAML seeds.
func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }
