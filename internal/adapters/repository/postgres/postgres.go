// Package postgres is the PostgreSQL implementation of repository.Store.
//
// Identifiers are uuids; chart levels are stored in tenths (137 is 13.7) and
// the test flag lives on the music a chart belongs to.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/tempo/internal/adapters/repository"
	"github.com/okian/tempo/internal/domain/model"
	"github.com/okian/tempo/internal/domain/types"
	"github.com/okian/tempo/pkg/logger"
	"github.com/okian/tempo/pkg/metrics"
)

//go:embed schema.sql
var schema string

// SQLSTATE codes the store reacts to.
const (
	codeForeignKeyViolation = "23503"
)

// Constraint names from schema.sql.
const (
	fkRecordsUser     = "fk_records_user"
	fkRecordsSheet    = "fk_records_sheet"
	fkPlayOptionsUser = "fk_play_options_user"
)

const playerColumns = `id::text, display_name, xp, rating, is_public, credits, created_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a repository.Store backed by a pgx connection pool.
type Store struct {
	queries
	pool *pgxpool.Pool
	log  logger.Logger
}

var _ repository.Store = (*Store)(nil)

// New connects to dsn and verifies the connection.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &Store{
		queries: queries{q: pool},
		pool:    pool,
		log:     logger.Get().Named("postgres"),
	}, nil
}

// Migrate applies the bundled schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.log.Info(ctx, "schema applied")
	return nil
}

// Ping implements repository.Store.Ping.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close implements repository.Store.Close.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Atomic implements repository.Store.Atomic: fn runs in one transaction that
// holds a row lock on the player.
func (s *Store) Atomic(ctx context.Context, playerID string, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	defer func(start time.Time) { metrics.ObserveStore("postgres.atomic", start, err) }(time.Now())

	id, err := parseID(repository.KindPlayer, playerID)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked int
	err = tx.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.PlayerNotFound(playerID)
	}
	if err != nil {
		return fmt.Errorf("lock player: %w", err)
	}

	if err = fn(ctx, queries{q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ApplySeed inserts the players and charts of seed that do not exist yet.
func (s *Store) ApplySeed(ctx context.Context, seed repository.Seed) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, c := range seed.Charts {
		level, err := model.ParseLevel(c.Level)
		if err != nil {
			return fmt.Errorf("chart %s: %w", c.ID, err)
		}
		sheetID, err := parseID(repository.KindChart, c.ID)
		if err != nil {
			return err
		}
		musicID := sheetID
		if c.MusicID != "" {
			if musicID, err = uuid.Parse(c.MusicID); err != nil {
				return fmt.Errorf("chart %s music id: %w", c.ID, err)
			}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO musics (id, title, is_test) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
			musicID, c.Title, c.Test); err != nil {
			return fmt.Errorf("seed music %s: %w", musicID, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO sheets (id, music_id, difficulty, level) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
			sheetID, musicID, c.Difficulty, level.Tenths()); err != nil {
			return fmt.Errorf("seed sheet %s: %w", c.ID, err)
		}
	}
	for _, p := range seed.Players {
		userID, err := parseID(repository.KindPlayer, p.ID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO users (id, display_name, xp, rating, is_public) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
			userID, p.DisplayName, int64(p.XP), int64(p.Rating), p.Public); err != nil {
			return fmt.Errorf("seed user %s: %w", p.ID, err)
		}
	}
	return tx.Commit(ctx)
}

// queries implements the read/write operations over either the pool or a transaction.
type queries struct {
	q querier
}

const recordColumns = `r.id::text, r.user_id::text, r.sheet_id::text, r.score, r.clear_type, r.play_count, r.updated_at`

func (qs queries) ensurePlayer(ctx context.Context, playerID string) (uuid.UUID, error) {
	id, err := parseID(repository.KindPlayer, playerID)
	if err != nil {
		return uuid.Nil, err
	}
	var exists bool
	if err := qs.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return uuid.Nil, fmt.Errorf("check player: %w", err)
	}
	if !exists {
		return uuid.Nil, repository.PlayerNotFound(playerID)
	}
	return id, nil
}

// FindByCharts implements repository.RecordStore.FindByCharts.
func (qs queries) FindByCharts(ctx context.Context, playerID string, chartIDs []string) (out map[string]model.Record, err error) {
	defer func(start time.Time) { metrics.ObserveStore("postgres.find_by_charts", start, err) }(time.Now())

	userID, err := qs.ensurePlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	out = make(map[string]model.Record, len(chartIDs))
	if len(chartIDs) == 0 {
		return out, nil
	}
	sheetIDs := make([]uuid.UUID, 0, len(chartIDs))
	for _, c := range chartIDs {
		id, err := parseID(repository.KindChart, c)
		if err != nil {
			return nil, err
		}
		sheetIDs = append(sheetIDs, id)
	}

	rows, err := qs.q.Query(ctx,
		`SELECT `+recordColumns+` FROM records r WHERE r.user_id = $1 AND r.sheet_id = ANY($2)`,
		userID, sheetIDs)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out[rec.ChartID] = rec
	}
	return out, rows.Err()
}

// ListWithCharts implements repository.RecordStore.ListWithCharts.
func (qs queries) ListWithCharts(ctx context.Context, playerID string) (out []model.RatedRecord, err error) {
	defer func(start time.Time) { metrics.ObserveStore("postgres.list_with_charts", start, err) }(time.Now())

	userID, err := qs.ensurePlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	rows, err := qs.q.Query(ctx,
		`SELECT `+recordColumns+`, s.level, m.is_test
		 FROM records r
		 JOIN sheets s ON s.id = r.sheet_id
		 JOIN musics m ON m.id = s.music_id
		 WHERE r.user_id = $1
		 ORDER BY r.updated_at, r.sheet_id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("query records with charts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec    model.Record
			grade  string
			score  int64
			plays  int64
			tenths int
			isTest bool
		)
		if err := rows.Scan(&rec.ID, &rec.PlayerID, &rec.ChartID, &score, &grade, &plays, &rec.UpdatedAt, &tenths, &isTest); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := fillRecord(&rec, score, grade, plays); err != nil {
			return nil, err
		}
		level, err := model.LevelFromTenths(tenths)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", rec.ChartID, err)
		}
		out = append(out, model.RatedRecord{
			Record: rec,
			Chart:  model.ChartMeta{ChartID: rec.ChartID, Level: level, IsTest: isTest},
		})
	}
	return out, rows.Err()
}

// ListRecords implements repository.Store.ListRecords.
func (qs queries) ListRecords(ctx context.Context, playerID string) (out []model.Record, err error) {
	defer func(start time.Time) { metrics.ObserveStore("postgres.list_records", start, err) }(time.Now())

	userID, err := qs.ensurePlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	rows, err := qs.q.Query(ctx,
		`SELECT `+recordColumns+` FROM records r WHERE r.user_id = $1 ORDER BY r.updated_at, r.sheet_id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out = []model.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Insert implements repository.RecordStore.Insert.
func (qs queries) Insert(ctx context.Context, rec model.Record) (_ model.Record, err error) {
	defer func(start time.Time) { metrics.ObserveStore("postgres.insert", start, err) }(time.Now())

	userID, err := parseID(repository.KindPlayer, rec.PlayerID)
	if err != nil {
		return model.Record{}, err
	}
	sheetID, err := parseID(repository.KindChart, rec.ChartID)
	if err != nil {
		return model.Record{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	tag, err := qs.q.Exec(ctx,
		`INSERT INTO records (id, user_id, sheet_id, score, clear_type, play_count, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, sheet_id) DO NOTHING`,
		rec.ID, userID, sheetID, int64(rec.Score), rec.Grade.String(), int64(rec.PlayCount), rec.UpdatedAt)
	if err != nil {
		return model.Record{}, classifyWriteError(err, rec)
	}
	if tag.RowsAffected() == 0 {
		return model.Record{}, repository.ErrDuplicateRecord
	}
	return rec, nil
}

// Update implements repository.RecordStore.Update.
func (qs queries) Update(ctx context.Context, rec model.Record) (err error) {
	defer func(start time.Time) { metrics.ObserveStore("postgres.update", start, err) }(time.Now())

	id, err := parseID(repository.KindRecord, rec.ID)
	if err != nil {
		return err
	}
	tag, err := qs.q.Exec(ctx,
		`UPDATE records SET score = $2, clear_type = $3, play_count = $4, updated_at = $5 WHERE id = $1`,
		id, int64(rec.Score), rec.Grade.String(), int64(rec.PlayCount), rec.UpdatedAt)
	if err != nil {
		return classifyWriteError(err, rec)
	}
	if tag.RowsAffected() == 0 {
		return repository.RecordNotFound(rec.ID)
	}
	return nil
}

// GetPlayer implements repository.PlayerStore.GetPlayer.
func (qs queries) GetPlayer(ctx context.Context, playerID string) (p model.Player, err error) {
	defer func(start time.Time) { metrics.ObserveStore("postgres.get_player", start, err) }(time.Now())

	id, err := parseID(repository.KindPlayer, playerID)
	if err != nil {
		return model.Player{}, err
	}
	p, err = scanPlayer(qs.q.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Player{}, repository.PlayerNotFound(playerID)
	}
	return p, err
}

// SavePlayer implements repository.PlayerStore.SavePlayer.
func (qs queries) SavePlayer(ctx context.Context, p model.Player) (err error) {
	defer func(start time.Time) { metrics.ObserveStore("postgres.save_player", start, err) }(time.Now())

	id, err := parseID(repository.KindPlayer, p.ID)
	if err != nil {
		return err
	}
	tag, err := qs.q.Exec(ctx,
		`UPDATE users SET display_name = $2, xp = $3, rating = $4, is_public = $5, credits = $6 WHERE id = $1`,
		id, p.DisplayName, int64(p.XP), int64(p.Rating), p.IsPublic, int64(p.Credits))
	if err != nil {
		return fmt.Errorf("update player: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.PlayerNotFound(p.ID)
	}
	return nil
}

// ChartRanking implements repository.Store.ChartRanking.
func (qs queries) ChartRanking(ctx context.Context, chartID string, limit int) (out []types.ChartScore, err error) {
	defer func(start time.Time) { metrics.ObserveStore("postgres.chart_ranking", start, err) }(time.Now())

	if limit < 1 {
		return nil, repository.ErrInvalidLimit
	}
	sheetID, err := parseID(repository.KindChart, chartID)
	if err != nil {
		return nil, err
	}
	var exists bool
	if err := qs.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM sheets WHERE id = $1)`, sheetID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check sheet: %w", err)
	}
	if !exists {
		return nil, repository.ChartNotFound(chartID)
	}

	rows, err := qs.q.Query(ctx,
		`SELECT u.id::text, u.display_name, r.score, r.clear_type, r.updated_at
		 FROM records r
		 JOIN users u ON u.id = r.user_id
		 WHERE r.sheet_id = $1 AND u.is_public
		 ORDER BY r.score DESC, r.updated_at, u.id
		 LIMIT $2`,
		sheetID, limit)
	if err != nil {
		return nil, fmt.Errorf("query chart ranking: %w", err)
	}
	defer rows.Close()

	out = []types.ChartScore{}
	for rows.Next() {
		var (
			row   types.ChartScore
			score int64
		)
		if err := rows.Scan(&row.PlayerID, &row.DisplayName, &score, &row.ClearType, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chart ranking: %w", err)
		}
		row.Score = uint32(score)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	types.AssignRanks(out,
		func(r types.ChartScore) int64 { return int64(r.Score) },
		func(r *types.ChartScore, rank int) { r.Rank = rank })
	return out, nil
}

// TotalScoreRanking implements repository.Store.TotalScoreRanking.
func (qs queries) TotalScoreRanking(ctx context.Context, limit int) (out []types.TotalScore, err error) {
	defer func(start time.Time) { metrics.ObserveStore("postgres.total_score_ranking", start, err) }(time.Now())

	if limit < 1 {
		return nil, repository.ErrInvalidLimit
	}
	rows, err := qs.q.Query(ctx,
		`SELECT u.id::text, u.display_name, SUM(r.score)::bigint AS total
		 FROM records r
		 JOIN users u ON u.id = r.user_id
		 WHERE u.is_public
		 GROUP BY u.id, u.display_name
		 ORDER BY total DESC, u.id
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("query total score ranking: %w", err)
	}
	defer rows.Close()

	out = []types.TotalScore{}
	for rows.Next() {
		var row types.TotalScore
		if err := rows.Scan(&row.PlayerID, &row.DisplayName, &row.TotalScore); err != nil {
			return nil, fmt.Errorf("scan total score ranking: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	types.AssignRanks(out,
		func(r types.TotalScore) int64 { return r.TotalScore },
		func(r *types.TotalScore, rank int) { r.Rank = rank })
	return out, nil
}

// Statistics implements repository.Store.Statistics.
func (qs queries) Statistics(ctx context.Context) (st types.Statistics, err error) {
	defer func(start time.Time) { metrics.ObserveStore("postgres.statistics", start, err) }(time.Now())

	err = qs.q.QueryRow(ctx,
		`SELECT (SELECT count(*) FROM users),
		        COALESCE(SUM(play_count), 0)::bigint,
		        COALESCE(SUM(score), 0)::bigint,
		        (SELECT COALESCE(SUM(credits), 0)::bigint FROM users)
		 FROM records`,
	).Scan(&st.TotalPlayers, &st.TotalPlays, &st.TotalScore, &st.TotalCredits)
	if err != nil {
		return types.Statistics{}, fmt.Errorf("query statistics: %w", err)
	}
	return st, nil
}

// PlayOptions implements repository.Store.PlayOptions.
func (qs queries) PlayOptions(ctx context.Context, playerID string) (o model.PlayOptions, err error) {
	defer func(start time.Time) { metrics.ObserveStore("postgres.play_options", start, err) }(time.Now())

	userID, err := qs.ensurePlayer(ctx, playerID)
	if err != nil {
		return model.PlayOptions{}, err
	}
	o.PlayerID = playerID
	err = qs.q.QueryRow(ctx,
		`SELECT note_speed, judgment_offset, updated_at FROM user_play_options WHERE user_id = $1`, userID,
	).Scan(&o.NoteSpeed, &o.JudgmentOffset, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DefaultPlayOptions(playerID), nil
	}
	if err != nil {
		return model.PlayOptions{}, fmt.Errorf("query play options: %w", err)
	}
	return o, nil
}

// SavePlayOptions implements repository.Store.SavePlayOptions.
func (qs queries) SavePlayOptions(ctx context.Context, o model.PlayOptions) (err error) {
	defer func(start time.Time) { metrics.ObserveStore("postgres.save_play_options", start, err) }(time.Now())

	userID, err := parseID(repository.KindPlayer, o.PlayerID)
	if err != nil {
		return err
	}
	_, err = qs.q.Exec(ctx,
		`INSERT INTO user_play_options (user_id, note_speed, judgment_offset, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE
		 SET note_speed = EXCLUDED.note_speed, judgment_offset = EXCLUDED.judgment_offset, updated_at = EXCLUDED.updated_at`,
		userID, o.NoteSpeed, o.JudgmentOffset, o.UpdatedAt)
	if err != nil {
		return classifyOptionsError(err, o.PlayerID)
	}
	return nil
}

// ListPlayers implements repository.Store.ListPlayers.
func (qs queries) ListPlayers(ctx context.Context) (out []model.Player, err error) {
	defer func(start time.Time) { metrics.ObserveStore("postgres.list_players", start, err) }(time.Now())

	rows, err := qs.q.Query(ctx,
		`SELECT `+playerColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query players: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (model.Record, error) {
	var (
		rec   model.Record
		score int64
		grade string
		plays int64
	)
	if err := row.Scan(&rec.ID, &rec.PlayerID, &rec.ChartID, &score, &grade, &plays, &rec.UpdatedAt); err != nil {
		return model.Record{}, fmt.Errorf("scan record: %w", err)
	}
	if err := fillRecord(&rec, score, grade, plays); err != nil {
		return model.Record{}, err
	}
	return rec, nil
}

func fillRecord(rec *model.Record, score int64, grade string, plays int64) error {
	g, err := model.ParseClearGrade(grade)
	if err != nil {
		return fmt.Errorf("record %s: %w", rec.ID, err)
	}
	rec.Score = clampUint32(score)
	rec.Grade = g
	rec.PlayCount = clampUint32(plays)
	return nil
}

func scanPlayer(row pgx.Row) (model.Player, error) {
	var (
		p       model.Player
		xp      int64
		rating  int64
		credits int64
	)
	if err := row.Scan(&p.ID, &p.DisplayName, &xp, &rating, &p.IsPublic, &credits, &p.CreatedAt); err != nil {
		return model.Player{}, err
	}
	p.XP = clampUint32(xp)
	p.Rating = clampUint32(rating)
	p.Credits = clampUint32(credits)
	return p, nil
}
