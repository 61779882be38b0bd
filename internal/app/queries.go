package service

import (
	"context"
	"errors"

	"github.com/okian/tempo/internal/adapters/repository"
	"github.com/okian/tempo/internal/domain/model"
	"github.com/okian/tempo/internal/domain/types"
)

// ListRecords returns the player's records, oldest update first.
func (s *Service) ListRecords(ctx context.Context, playerID string) ([]model.Record, error) {
	records, err := s.store.ListRecords(ctx, playerID)
	if err != nil {
		return nil, classify(err)
	}
	return records, nil
}

// Progress returns the player's stored aggregate with their current positions
// on both boards. A player missing from a board has rank 0.
func (s *Service) Progress(ctx context.Context, playerID string) (types.Progress, error) {
	_, rating, xp, err := s.components()
	if err != nil {
		return types.Progress{}, err
	}

	player, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return types.Progress{}, classify(err)
	}

	return types.Progress{
		PlayerID:   player.ID,
		XP:         player.XP,
		Rating:     player.Rating,
		RatingRank: rankOf(ctx, rating, playerID),
		XPRank:     rankOf(ctx, xp, playerID),
	}, nil
}

func rankOf(ctx context.Context, board *repository.Standings, playerID string) int {
	row, err := board.Rank(ctx, playerID)
	if err != nil {
		return 0
	}
	return row.Rank
}

// Rankings returns the first limit rows of the named board.
func (s *Service) Rankings(ctx context.Context, board string, limit int) ([]types.Standing, error) {
	_, rating, xp, err := s.components()
	if err != nil {
		return nil, err
	}

	var standings *repository.Standings
	switch board {
	case BoardRating:
		standings = rating
	case BoardXP:
		standings = xp
	default:
		return nil, ErrUnknownBoard
	}

	rows, err := standings.TopN(ctx, limit)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidLimit) {
			return nil, ErrInvalidLimit
		}
		return nil, classify(err)
	}
	return rows, nil
}

// ChartRanking returns the best scores of public players on chartID.
func (s *Service) ChartRanking(ctx context.Context, chartID string, limit int) ([]types.ChartScore, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	rows, err := s.store.ChartRanking(ctx, chartID, limit)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

// TotalScoreRanking ranks public players by the sum of their best scores.
func (s *Service) TotalScoreRanking(ctx context.Context, limit int) ([]types.TotalScore, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	rows, err := s.store.TotalScoreRanking(ctx, limit)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

// Statistics summarizes activity across all players.
func (s *Service) Statistics(ctx context.Context) (types.Statistics, error) {
	st, err := s.store.Statistics(ctx)
	if err != nil {
		return types.Statistics{}, classify(err)
	}
	return st, nil
}
