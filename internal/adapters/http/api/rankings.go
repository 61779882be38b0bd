package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/okian/tempo/internal/domain/types"
)

// RankingsDependencies defines the interface for ranking queries.
type RankingsDependencies interface {
	Rankings(ctx context.Context, board string, limit int) ([]types.Standing, error)
	ChartRanking(ctx context.Context, chartID string, limit int) ([]types.ChartScore, error)
	TotalScoreRanking(ctx context.Context, limit int) ([]types.TotalScore, error)
}

// RankingsHandler handles ranking requests.
type RankingsHandler struct {
	deps         RankingsDependencies
	defaultLimit int
	maxLimit     int
}

// NewRankingsHandler creates a new rankings handler.
func NewRankingsHandler(deps RankingsDependencies, defaultLimit, maxLimit int) *RankingsHandler {
	return &RankingsHandler{
		deps:         deps,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

// limit reads ?limit, falling back to the default and capping at the maximum.
func (h *RankingsHandler) limit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return h.defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit must be a positive integer, got %q", raw)
	}
	return min(n, h.maxLimit), nil
}

// HandleBoard handles GET /rankings/{board}?limit=N for the rating and xp boards.
func (h *RankingsHandler) HandleBoard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_ranking"
	n, err := h.limit(r)
	if err != nil {
		writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	rows, err := h.deps.Rankings(r.Context(), mux.Vars(r)["board"], n)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(rows))
}

// HandleChart handles GET /rankings/sheets/{sheetId}?limit=N.
func (h *RankingsHandler) HandleChart(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_sheet_ranking"
	n, err := h.limit(r)
	if err != nil {
		writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	rows, err := h.deps.ChartRanking(r.Context(), mux.Vars(r)["sheetId"], n)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(rows))
}

// HandleTotalScore handles GET /rankings/total-score?limit=N.
func (h *RankingsHandler) HandleTotalScore(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_total_score_ranking"
	n, err := h.limit(r)
	if err != nil {
		writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	rows, err := h.deps.TotalScoreRanking(r.Context(), n)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(rows))
}
