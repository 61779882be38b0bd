package model

import "time"

// Record is the best-known result of one player on one chart.
type Record struct {
	ID        string
	PlayerID  string
	ChartID   string
	Score     uint32
	Grade     ClearGrade
	PlayCount uint32
	UpdatedAt time.Time
}

// Submission is one reported play awaiting reconciliation.
type Submission struct {
	ChartID string
	Score   uint32
	Grade   ClearGrade
}

// ChartMeta is the part of a chart the rating needs.
type ChartMeta struct {
	ChartID string
	Level   Level
	IsTest  bool
}

// RatedRecord is a record joined with its chart metadata.
type RatedRecord struct {
	Record
	Chart ChartMeta
}

// Chart is a playable difficulty of a song.
type Chart struct {
	ID         string
	MusicID    string
	Title      string
	Difficulty string
	Level      Level
	IsTest     bool
}

// Meta projects the chart onto the view used for rating.
func (c Chart) Meta() ChartMeta {
	return ChartMeta{ChartID: c.ID, Level: c.Level, IsTest: c.IsTest}
}
