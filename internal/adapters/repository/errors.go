package repository

import (
	"errors"
	"fmt"
)

// Kind names the entity a NotFoundError refers to.
type Kind string

const (
	KindPlayer Kind = "player"
	KindChart  Kind = "chart"
	KindRecord Kind = "record"
)

// Sentinel kinds for repository errors.
var (
	ErrNotFound        = errors.New("not found")
	ErrPlayerNotFound  = errors.New("player not found")
	ErrChartNotFound   = errors.New("chart not found")
	ErrInvalidLimit    = errors.New("invalid ranking limit")
	ErrDuplicateRecord = errors.New("record already exists")
)

// NotFoundError reports a missing entity. It matches ErrNotFound and the
// sentinel of its kind with errors.Is.
type NotFoundError struct {
	Kind Kind
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return true
	case ErrPlayerNotFound:
		return e.Kind == KindPlayer
	case ErrChartNotFound:
		return e.Kind == KindChart
	}
	return false
}

// PlayerNotFound builds a NotFoundError for a player.
func PlayerNotFound(id string) error { return &NotFoundError{Kind: KindPlayer, ID: id} }

// ChartNotFound builds a NotFoundError for a chart.
func ChartNotFound(id string) error { return &NotFoundError{Kind: KindChart, ID: id} }

// RecordNotFound builds a NotFoundError for a record.
func RecordNotFound(id string) error { return &NotFoundError{Kind: KindRecord, ID: id} }
