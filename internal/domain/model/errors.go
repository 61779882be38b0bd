package model

import "errors"

// Sentinel kinds for model validation errors.
var (
	ErrUnknownGrade = errors.New("unknown clear grade")
	ErrInvalidLevel = errors.New("invalid chart level")

	ErrInvalidNoteSpeed = errors.New("note speed must be a positive number")
)
