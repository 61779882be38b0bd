package api

import (
	"context"
	"net/http"

	"github.com/okian/tempo/internal/domain/types"
)

// StatsProvider defines the interface for getting service statistics.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// StatsHandler handles stats requests.
type StatsHandler struct {
	statsProvider StatsProvider
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(statsProvider StatsProvider) *StatsHandler {
	return &StatsHandler{statsProvider: statsProvider}
}

// HandleStats handles GET /stats requests.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.statsProvider.GetStats())
}

// StatisticsDependencies defines the interface for play statistics.
type StatisticsDependencies interface {
	Statistics(ctx context.Context) (types.Statistics, error)
}

// StatisticsHandler handles GET /statistics.
type StatisticsHandler struct {
	deps StatisticsDependencies
}

// NewStatisticsHandler creates a new statistics handler.
func NewStatisticsHandler(deps StatisticsDependencies) *StatisticsHandler {
	return &StatisticsHandler{deps: deps}
}

// HandleStatistics handles GET /statistics requests.
func (h *StatisticsHandler) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.Statistics(r.Context())
	if err != nil {
		writeError(w, r, Wrap("api.get_statistics", err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}
