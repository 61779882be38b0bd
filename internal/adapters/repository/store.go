// Package repository persists players, charts and performance records, and keeps
// the in-memory standings boards.
package repository

import (
	"context"

	"github.com/okian/tempo/internal/domain/model"
	"github.com/okian/tempo/internal/domain/types"
)

// RecordStore reads and writes performance records.
type RecordStore interface {
	// FindByCharts returns the player's existing records for chartIDs, keyed by chart id.
	// Charts without a record are absent from the map. Unknown players yield a
	// player NotFoundError.
	FindByCharts(ctx context.Context, playerID string, chartIDs []string) (map[string]model.Record, error)

	// ListWithCharts returns every record of the player joined with chart metadata.
	ListWithCharts(ctx context.Context, playerID string) ([]model.RatedRecord, error)

	// Insert stores a new record and returns it with its assigned id.
	// Unknown players or charts yield the matching NotFoundError.
	Insert(ctx context.Context, rec model.Record) (model.Record, error)

	// Update replaces the record identified by rec.ID.
	Update(ctx context.Context, rec model.Record) error
}

// PlayerStore reads and writes the per-player progression aggregate.
type PlayerStore interface {
	GetPlayer(ctx context.Context, playerID string) (model.Player, error)
	// SavePlayer replaces the stored aggregate of p.ID.
	SavePlayer(ctx context.Context, p model.Player) error
}

// Tx is the view of the store available inside Atomic.
type Tx interface {
	RecordStore
	PlayerStore
}

// Store is the full persistence surface used by the service.
type Store interface {
	Tx

	// Atomic runs fn with exclusive access to playerID's records and aggregate.
	// Writes made through tx are kept only when fn returns nil.
	Atomic(ctx context.Context, playerID string, fn func(ctx context.Context, tx Tx) error) error

	// ListRecords returns the player's records, oldest update first.
	ListRecords(ctx context.Context, playerID string) ([]model.Record, error)

	// ChartRanking returns the best scores of public players on a chart.
	ChartRanking(ctx context.Context, chartID string, limit int) ([]types.ChartScore, error)

	// TotalScoreRanking ranks public players by the sum of their best scores.
	// Players without records are left out.
	TotalScoreRanking(ctx context.Context, limit int) ([]types.TotalScore, error)

	Statistics(ctx context.Context) (types.Statistics, error)

	// PlayOptions returns the player's saved options, or the defaults when
	// none were saved. Unknown players yield a player NotFoundError.
	PlayOptions(ctx context.Context, playerID string) (model.PlayOptions, error)
	// SavePlayOptions creates or replaces the options of o.PlayerID.
	SavePlayOptions(ctx context.Context, o model.PlayOptions) error

	// ListPlayers returns every player; used to rebuild the standings at startup.
	ListPlayers(ctx context.Context) ([]model.Player, error)

	Ping(ctx context.Context) error
	Close() error
}
