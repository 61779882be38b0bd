package service

import (
	"context"
	"time"

	"github.com/okian/tempo/internal/adapters/repository"
	"github.com/okian/tempo/internal/domain/dedupe"
	"github.com/okian/tempo/internal/domain/model"
	"github.com/okian/tempo/internal/domain/reconcile"
	"github.com/okian/tempo/internal/domain/scoring"
	"github.com/okian/tempo/pkg/logger"
	"github.com/okian/tempo/pkg/metrics"
)

// outcome is what one submission batch changed.
type outcome struct {
	records  []model.Record
	player   model.Player
	xpDelta  uint32
	inserted int
	updated  int
	seq      uint64
}

// SubmitRecords merges subs into playerID's records and recomputes the
// player's xp and rating. Records are returned in the order of subs; a chart
// named twice is reconciled twice, the second time against the first result.
//
// The whole batch runs in one store unit of work: on error nothing is kept.
func (s *Service) SubmitRecords(ctx context.Context, playerID string, subs []model.Submission) ([]model.Record, error) {
	if len(subs) == 0 {
		return []model.Record{}, nil
	}
	q, _, _, err := s.components()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var out outcome
	err = s.store.Atomic(ctx, playerID, func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, err = s.apply(ctx, tx, playerID, subs)
		return err
	})
	if err != nil {
		err = classify(err)
		metrics.RecordSubmissionFailure(failureReason(err))
		s.logger.Warn(ctx, "submission failed",
			logger.String("player_id", playerID),
			logger.Int("plays", len(subs)),
			logger.Error(err),
		)
		return nil, err
	}

	metrics.RecordSubmission(len(subs), out.inserted, out.updated, out.xpDelta, out.player.Rating,
		float64(time.Since(start).Microseconds())/1000)
	s.logger.Debug(ctx, "submission applied",
		logger.String("player_id", playerID),
		logger.Int("inserted", out.inserted),
		logger.Int("updated", out.updated),
		logger.Uint32("xp_delta", out.xpDelta),
		logger.Uint32("rating", out.player.Rating),
	)

	event := model.ProgressEvent{
		PlayerID: playerID,
		XP:       out.player.XP,
		XPDelta:  out.xpDelta,
		Rating:   out.player.Rating,
		Plays:    len(subs),
		Public:   out.player.IsPublic,
		Seq:      out.seq,
		At:       out.records[len(out.records)-1].UpdatedAt,
	}
	if !q.Enqueue(ctx, event) {
		s.logger.Warn(ctx, "progress event dropped", logger.String("player_id", playerID))
	}
	return out.records, nil
}

// apply runs the reconciliation steps against tx.
func (s *Service) apply(ctx context.Context, tx repository.Tx, playerID string, subs []model.Submission) (outcome, error) {
	var out outcome

	current, err := tx.FindByCharts(ctx, playerID, chartIDs(subs))
	if err != nil {
		return out, err
	}
	if current == nil {
		current = make(map[string]model.Record, len(subs))
	}

	at := s.now().UTC()
	out.records = make([]model.Record, 0, len(subs))
	scores := make([]uint32, 0, len(subs))
	for _, sub := range subs {
		var existing *model.Record
		if rec, ok := current[sub.ChartID]; ok {
			existing = &rec
		}
		next := reconcile.Merge(playerID, existing, sub, at)
		if existing == nil {
			if next, err = tx.Insert(ctx, next); err != nil {
				return out, err
			}
			out.inserted++
		} else {
			if err = tx.Update(ctx, next); err != nil {
				return out, err
			}
			out.updated++
		}
		current[sub.ChartID] = next
		out.records = append(out.records, next)
		scores = append(scores, sub.Score)
	}
	out.xpDelta = scoring.TotalXP(scores)

	rated, err := tx.ListWithCharts(ctx, playerID)
	if err != nil {
		return out, err
	}
	rating := scoring.Rating(rated)

	if out.player, err = tx.GetPlayer(ctx, playerID); err != nil {
		return out, err
	}
	out.player.XP = scoring.AddXP(out.player.XP, out.xpDelta)
	out.player.Rating = rating
	if err = tx.SavePlayer(ctx, out.player); err != nil {
		return out, err
	}
	// taken while the player is locked, so seq follows commit order
	out.seq = s.seq.Add(1)
	return out, nil
}

// chartIDs returns the distinct chart ids of subs in first-seen order.
func chartIDs(subs []model.Submission) []string {
	seen := make(map[string]struct{}, len(subs))
	ids := make([]string, 0, len(subs))
	for _, sub := range subs {
		if _, ok := seen[sub.ChartID]; ok {
			continue
		}
		seen[sub.ChartID] = struct{}{}
		ids = append(ids, sub.ChartID)
	}
	return ids
}

// SubmitOnce is SubmitRecords guarded by an idempotency key. A repeated key
// returns the first successful result with replayed set and does not touch the
// store; a key whose first call is still running yields ErrSubmissionInFlight.
// An empty key disables the guard.
func (s *Service) SubmitOnce(ctx context.Context, playerID, key string, subs []model.Submission) (records []model.Record, replayed bool, err error) {
	if key == "" {
		records, err = s.SubmitRecords(ctx, playerID, subs)
		return records, false, err
	}

	k := dedupe.Key(playerID, key)
	state, stored := s.ledger.Reserve(ctx, k)
	switch state {
	case dedupe.Done:
		metrics.RecordIdempotentReplay()
		s.logger.Debug(ctx, "idempotent replay",
			logger.String("player_id", playerID),
			logger.String("idempotency_key", key),
		)
		return stored, true, nil
	case dedupe.Pending:
		return nil, false, ErrSubmissionInFlight
	}

	records, err = s.SubmitRecords(ctx, playerID, subs)
	if err != nil {
		s.ledger.Release(ctx, k)
		return nil, false, err
	}
	s.ledger.Complete(ctx, k, records)
	return records, false, nil
}
