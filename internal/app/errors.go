package service

import (
	"errors"
	"fmt"

	"github.com/okian/tempo/internal/adapters/repository"
)

// Sentinel kinds for service errors.
var (
	ErrPlayerNotFound     = errors.New("player not found")
	ErrChartNotFound      = errors.New("chart not found")
	ErrInternal           = errors.New("internal error")
	ErrInvalidLimit       = errors.New("limit must be positive")
	ErrUnknownBoard       = errors.New("unknown ranking board")
	ErrSubmissionInFlight = errors.New("a submission with this idempotency key is in progress")
	ErrNotStarted         = errors.New("service not started")
	ErrInvalidPlayOptions = errors.New("invalid play options")
)

// internalError hides a storage failure behind ErrInternal while keeping the
// cause available for logging.
type internalError struct {
	cause error
}

func (e *internalError) Error() string { return "internal error: " + e.cause.Error() }

func (e *internalError) Unwrap() error { return e.cause }

func (e *internalError) Is(target error) bool { return target == ErrInternal }

// classify maps store errors onto the service's error kinds.
func classify(err error) error {
	var nf *repository.NotFoundError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &nf) && nf.Kind == repository.KindPlayer:
		return fmt.Errorf("%w: %s", ErrPlayerNotFound, nf.ID)
	case errors.As(err, &nf) && nf.Kind == repository.KindChart:
		return fmt.Errorf("%w: %s", ErrChartNotFound, nf.ID)
	case errors.Is(err, repository.ErrInvalidLimit):
		return ErrInvalidLimit
	}
	return &internalError{cause: err}
}

// failureReason labels a classified error for metrics.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrPlayerNotFound):
		return "player_not_found"
	case errors.Is(err, ErrChartNotFound):
		return "chart_not_found"
	}
	return "internal"
}
