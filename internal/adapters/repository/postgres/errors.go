package postgres

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/okian/tempo/internal/adapters/repository"
	"github.com/okian/tempo/internal/domain/model"
)

// parseID validates a uuid identifier. Text that is not a uuid cannot name a
// stored row, so it is reported as not found.
func parseID(kind repository.Kind, id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, &repository.NotFoundError{Kind: kind, ID: id}
	}
	return parsed, nil
}

// classifyWriteError maps foreign key violations on records to the missing
// player or chart.
func classifyWriteError(err error, rec model.Record) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation {
		switch pgErr.ConstraintName {
		case fkRecordsUser:
			return repository.PlayerNotFound(rec.PlayerID)
		case fkRecordsSheet:
			return repository.ChartNotFound(rec.ChartID)
		}
	}
	return fmt.Errorf("write record: %w", err)
}

// classifyOptionsError maps a play options write that names no user to the
// missing player.
func classifyOptionsError(err error, playerID string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation && pgErr.ConstraintName == fkPlayOptionsUser {
		return repository.PlayerNotFound(playerID)
	}
	return fmt.Errorf("save play options: %w", err)
}

func clampUint32(v int64) uint32 {
	switch {
	case v < 0:
		return 0
	case v > math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(v)
}
