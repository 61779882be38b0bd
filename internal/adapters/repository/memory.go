package repository

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/tempo/internal/domain/model"
	"github.com/okian/tempo/internal/domain/types"
	"github.com/okian/tempo/pkg/metrics"
)

// MemoryStore is a Store kept entirely in process memory.
//
// Records are indexed player -> chart -> record. Atomic serializes callers per
// player and restores the player's records and aggregate when fn fails.
type MemoryStore struct {
	mu      sync.RWMutex
	players map[string]model.Player
	charts  map[string]model.Chart
	records map[string]map[string]model.Record
	options map[string]model.PlayOptions

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		players: make(map[string]model.Player),
		charts:  make(map[string]model.Chart),
		records: make(map[string]map[string]model.Record),
		options: make(map[string]model.PlayOptions),
		locks:   make(map[string]*sync.Mutex),
	}
}

// PutPlayer creates or replaces a player.
func (s *MemoryStore) PutPlayer(p model.Player) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.players[p.ID] = p
	s.mu.Unlock()
}

// PutChart creates or replaces a chart.
func (s *MemoryStore) PutChart(c model.Chart) {
	s.mu.Lock()
	s.charts[c.ID] = c
	s.mu.Unlock()
}

func (s *MemoryStore) playerLock(playerID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[playerID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[playerID] = l
	}
	return l
}

// Atomic implements Store.Atomic.
func (s *MemoryStore) Atomic(ctx context.Context, playerID string, fn func(ctx context.Context, tx Tx) error) (err error) {
	defer func(start time.Time) { metrics.ObserveStore("memory.atomic", start, err) }(time.Now())

	if err := ctx.Err(); err != nil {
		return err
	}

	l := s.playerLock(playerID)
	l.Lock()
	defer l.Unlock()

	s.mu.RLock()
	player, hadPlayer := s.players[playerID]
	saved := maps.Clone(s.records[playerID])
	s.mu.RUnlock()

	if err = fn(ctx, s); err == nil {
		return nil
	}

	s.mu.Lock()
	if hadPlayer {
		s.players[playerID] = player
	}
	if saved == nil {
		delete(s.records, playerID)
	} else {
		s.records[playerID] = saved
	}
	s.mu.Unlock()
	return err
}

// FindByCharts implements RecordStore.FindByCharts.
func (s *MemoryStore) FindByCharts(_ context.Context, playerID string, chartIDs []string) (map[string]model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.players[playerID]; !ok {
		return nil, PlayerNotFound(playerID)
	}
	out := make(map[string]model.Record, len(chartIDs))
	byChart := s.records[playerID]
	for _, id := range chartIDs {
		if rec, ok := byChart[id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

// ListWithCharts implements RecordStore.ListWithCharts.
func (s *MemoryStore) ListWithCharts(_ context.Context, playerID string) ([]model.RatedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.players[playerID]; !ok {
		return nil, PlayerNotFound(playerID)
	}
	out := make([]model.RatedRecord, 0, len(s.records[playerID]))
	for _, rec := range s.sortedRecords(playerID) {
		chart, ok := s.charts[rec.ChartID]
		if !ok {
			return nil, ChartNotFound(rec.ChartID)
		}
		out = append(out, model.RatedRecord{Record: rec, Chart: chart.Meta()})
	}
	return out, nil
}

// ListRecords implements Store.ListRecords.
func (s *MemoryStore) ListRecords(_ context.Context, playerID string) ([]model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.players[playerID]; !ok {
		return nil, PlayerNotFound(playerID)
	}
	return s.sortedRecords(playerID), nil
}

// sortedRecords orders by update time, then chart id. Caller holds mu.
func (s *MemoryStore) sortedRecords(playerID string) []model.Record {
	out := slices.Collect(maps.Values(s.records[playerID]))
	slices.SortFunc(out, func(a, b model.Record) int {
		if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ChartID, b.ChartID)
	})
	return out
}

// Insert implements RecordStore.Insert.
func (s *MemoryStore) Insert(_ context.Context, rec model.Record) (model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[rec.PlayerID]; !ok {
		return model.Record{}, PlayerNotFound(rec.PlayerID)
	}
	if _, ok := s.charts[rec.ChartID]; !ok {
		return model.Record{}, ChartNotFound(rec.ChartID)
	}
	byChart, ok := s.records[rec.PlayerID]
	if !ok {
		byChart = make(map[string]model.Record)
		s.records[rec.PlayerID] = byChart
	}
	if _, exists := byChart[rec.ChartID]; exists {
		return model.Record{}, ErrDuplicateRecord
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	byChart[rec.ChartID] = rec
	return rec, nil
}

// Update implements RecordStore.Update.
func (s *MemoryStore) Update(_ context.Context, rec model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[rec.PlayerID][rec.ChartID]
	if !ok || current.ID != rec.ID {
		return RecordNotFound(rec.ID)
	}
	s.records[rec.PlayerID][rec.ChartID] = rec
	return nil
}

// GetPlayer implements PlayerStore.GetPlayer.
func (s *MemoryStore) GetPlayer(_ context.Context, playerID string) (model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.players[playerID]
	if !ok {
		return model.Player{}, PlayerNotFound(playerID)
	}
	return p, nil
}

// SavePlayer implements PlayerStore.SavePlayer.
func (s *MemoryStore) SavePlayer(_ context.Context, p model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[p.ID]; !ok {
		return PlayerNotFound(p.ID)
	}
	s.players[p.ID] = p
	return nil
}

// ChartRanking implements Store.ChartRanking.
func (s *MemoryStore) ChartRanking(_ context.Context, chartID string, limit int) ([]types.ChartScore, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.charts[chartID]; !ok {
		return nil, ChartNotFound(chartID)
	}
	var rows []types.ChartScore
	for playerID, byChart := range s.records {
		p := s.players[playerID]
		rec, ok := byChart[chartID]
		if !ok || !p.IsPublic {
			continue
		}
		rows = append(rows, types.ChartScore{
			PlayerID:    playerID,
			DisplayName: p.DisplayName,
			Score:       rec.Score,
			ClearType:   rec.Grade.String(),
			UpdatedAt:   rec.UpdatedAt,
		})
	}
	slices.SortFunc(rows, func(a, b types.ChartScore) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.PlayerID, b.PlayerID)
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	types.AssignRanks(rows,
		func(r types.ChartScore) int64 { return int64(r.Score) },
		func(r *types.ChartScore, rank int) { r.Rank = rank })
	return rows, nil
}

// TotalScoreRanking implements Store.TotalScoreRanking.
func (s *MemoryStore) TotalScoreRanking(_ context.Context, limit int) ([]types.TotalScore, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []types.TotalScore
	for playerID, byChart := range s.records {
		p := s.players[playerID]
		if !p.IsPublic || len(byChart) == 0 {
			continue
		}
		row := types.TotalScore{PlayerID: playerID, DisplayName: p.DisplayName}
		for _, rec := range byChart {
			row.TotalScore += int64(rec.Score)
		}
		rows = append(rows, row)
	}
	slices.SortFunc(rows, func(a, b types.TotalScore) int {
		if c := cmp.Compare(b.TotalScore, a.TotalScore); c != 0 {
			return c
		}
		return cmp.Compare(a.PlayerID, b.PlayerID)
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	types.AssignRanks(rows,
		func(r types.TotalScore) int64 { return r.TotalScore },
		func(r *types.TotalScore, rank int) { r.Rank = rank })
	return rows, nil
}

// Statistics implements Store.Statistics.
func (s *MemoryStore) Statistics(_ context.Context) (types.Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := types.Statistics{TotalPlayers: int64(len(s.players))}
	for _, p := range s.players {
		st.TotalCredits += int64(p.Credits)
	}
	for _, byChart := range s.records {
		for _, rec := range byChart {
			st.TotalPlays += int64(rec.PlayCount)
			st.TotalScore += int64(rec.Score)
		}
	}
	return st, nil
}

// ListPlayers implements Store.ListPlayers.
func (s *MemoryStore) ListPlayers(_ context.Context) ([]model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Collect(maps.Values(s.players))
	slices.SortFunc(out, func(a, b model.Player) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// PlayOptions implements Store.PlayOptions.
func (s *MemoryStore) PlayOptions(_ context.Context, playerID string) (model.PlayOptions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.players[playerID]; !ok {
		return model.PlayOptions{}, PlayerNotFound(playerID)
	}
	if o, ok := s.options[playerID]; ok {
		return o, nil
	}
	return model.DefaultPlayOptions(playerID), nil
}

// SavePlayOptions implements Store.SavePlayOptions.
func (s *MemoryStore) SavePlayOptions(_ context.Context, o model.PlayOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[o.PlayerID]; !ok {
		return PlayerNotFound(o.PlayerID)
	}
	s.options[o.PlayerID] = o
	return nil
}

// Ping implements Store.Ping.
func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// Close implements Store.Close.
func (s *MemoryStore) Close() error { return nil }
