package service

import (
	"context"
	"fmt"
	"math"

	"github.com/okian/tempo/internal/adapters/repository"
	"github.com/okian/tempo/internal/domain/model"
	"github.com/okian/tempo/pkg/logger"
)

// ProfileUpdate is the editable part of a player.
type ProfileUpdate struct {
	DisplayName string
	IsPublic    bool
}

// UpdateProfile replaces the player's display name and visibility. A change of
// visibility reaches the rankings through the progress workers: a player made
// private leaves both boards, one made public joins them once they have xp.
func (s *Service) UpdateProfile(ctx context.Context, playerID string, update ProfileUpdate) (model.Player, error) {
	q, _, _, err := s.components()
	if err != nil {
		return model.Player{}, err
	}

	var (
		player model.Player
		seq    uint64
	)
	err = s.store.Atomic(ctx, playerID, func(ctx context.Context, tx repository.Tx) error {
		var err error
		if player, err = tx.GetPlayer(ctx, playerID); err != nil {
			return err
		}
		player.DisplayName = update.DisplayName
		player.IsPublic = update.IsPublic
		if err = tx.SavePlayer(ctx, player); err != nil {
			return err
		}
		seq = s.seq.Add(1)
		return nil
	})
	if err != nil {
		return model.Player{}, classify(err)
	}

	s.logger.Info(ctx, "profile updated",
		logger.String("player_id", playerID),
		logger.Bool("is_public", player.IsPublic),
	)
	event := model.ProgressEvent{
		PlayerID: playerID,
		XP:       player.XP,
		Rating:   player.Rating,
		Public:   player.IsPublic,
		Seq:      seq,
		At:       s.now().UTC(),
	}
	if !q.Enqueue(ctx, event) {
		s.logger.Warn(ctx, "progress event dropped", logger.String("player_id", playerID))
	}
	return player, nil
}

// IncrementCredits adds one credit to the player and returns the new count.
// The count saturates at the largest uint32.
func (s *Service) IncrementCredits(ctx context.Context, playerID string) (uint32, error) {
	var credits uint32
	err := s.store.Atomic(ctx, playerID, func(ctx context.Context, tx repository.Tx) error {
		player, err := tx.GetPlayer(ctx, playerID)
		if err != nil {
			return err
		}
		if player.Credits < math.MaxUint32 {
			player.Credits++
		}
		credits = player.Credits
		return tx.SavePlayer(ctx, player)
	})
	if err != nil {
		return 0, classify(err)
	}
	return credits, nil
}

// PlayOptions returns the player's saved options, or the defaults.
func (s *Service) PlayOptions(ctx context.Context, playerID string) (model.PlayOptions, error) {
	o, err := s.store.PlayOptions(ctx, playerID)
	if err != nil {
		return model.PlayOptions{}, classify(err)
	}
	return o, nil
}

// SavePlayOptions stores the player's options and returns them as saved.
func (s *Service) SavePlayOptions(ctx context.Context, playerID string, noteSpeed float64, judgmentOffset int32) (model.PlayOptions, error) {
	o := model.PlayOptions{
		PlayerID:       playerID,
		NoteSpeed:      noteSpeed,
		JudgmentOffset: judgmentOffset,
		UpdatedAt:      s.now().UTC(),
	}
	if err := o.Validate(); err != nil {
		return model.PlayOptions{}, fmt.Errorf("%w: %w", ErrInvalidPlayOptions, err)
	}
	if err := s.store.SavePlayOptions(ctx, o); err != nil {
		return model.PlayOptions{}, classify(err)
	}
	return o, nil
}
