// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/tempo/internal/domain/model"
	"github.com/okian/tempo/pkg/logger"
	"github.com/okian/tempo/pkg/metrics"
)

// Default request limits.
const (
	defaultRankingLimit    = 20
	defaultMaxRankingLimit = 100
	defaultMaxBatchSize    = 64
	maxBodyBytes           = 1 << 20
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	RecordsDependencies
	UsersDependencies
	ProgressDependencies
	RankingsDependencies
	StatisticsDependencies
	HealthDependencies
	StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	recordsHandler    *RecordsHandler
	usersHandler      *UsersHandler
	progressHandler   *ProgressHandler
	rankingsHandler   *RankingsHandler
	statisticsHandler *StatisticsHandler
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler

	allowedOrigin string
	accessLog     io.Writer
}

// Option applies a configuration option to the Server.
type Option func(*serverConfig)

type serverConfig struct {
	rankingLimit    int
	maxRankingLimit int
	maxBatchSize    int
	allowedOrigin   string
	accessLog       io.Writer
}

// WithRankingLimits sets the default and maximum ?limit of ranking endpoints.
func WithRankingLimits(def, maxLimit int) Option {
	return func(c *serverConfig) {
		if def > 0 && maxLimit >= def {
			c.rankingLimit = def
			c.maxRankingLimit = maxLimit
		}
	}
}

// WithMaxBatchSize caps the number of plays in one submission.
func WithMaxBatchSize(n int) Option {
	return func(c *serverConfig) {
		if n > 0 {
			c.maxBatchSize = n
		}
	}
}

// WithAllowedOrigin enables CORS for origin.
func WithAllowedOrigin(origin string) Option {
	return func(c *serverConfig) { c.allowedOrigin = origin }
}

// WithAccessLog writes an Apache combined log line per request to w.
func WithAccessLog(w io.Writer) Option {
	return func(c *serverConfig) { c.accessLog = w }
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	cfg := serverConfig{
		rankingLimit:    defaultRankingLimit,
		maxRankingLimit: defaultMaxRankingLimit,
		maxBatchSize:    defaultMaxBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Server{
		recordsHandler:    NewRecordsHandler(deps, cfg.maxBatchSize),
		usersHandler:      NewUsersHandler(deps),
		progressHandler:   NewProgressHandler(deps),
		rankingsHandler:   NewRankingsHandler(deps, cfg.rankingLimit, cfg.maxRankingLimit),
		statisticsHandler: NewStatisticsHandler(deps),
		healthHandler:     NewHealthHandler(deps),
		statsHandler:      NewStatsHandler(deps),
		allowedOrigin:     cfg.allowedOrigin,
		accessLog:         cfg.accessLog,
	}
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(_ context.Context, r *mux.Router) {
	r.HandleFunc("/users/{userId}/records", MetricsMiddleware(s.recordsHandler.HandleSubmit, "records.submit")).Methods(http.MethodPost)
	r.HandleFunc("/users/{userId}/records", MetricsMiddleware(s.recordsHandler.HandleList, "records.list")).Methods(http.MethodGet)
	r.HandleFunc("/users/{userId}", MetricsMiddleware(s.usersHandler.HandleUpdateProfile, "users.update")).Methods(http.MethodPost)
	r.HandleFunc("/users/{userId}/credits/increment", MetricsMiddleware(s.usersHandler.HandleIncrementCredits, "users.credits")).Methods(http.MethodPost)
	r.HandleFunc("/users/{userId}/options", MetricsMiddleware(s.usersHandler.HandleGetOptions, "users.options.get")).Methods(http.MethodGet)
	r.HandleFunc("/users/{userId}/options", MetricsMiddleware(s.usersHandler.HandleSaveOptions, "users.options.save")).Methods(http.MethodPost)
	r.HandleFunc("/users/{userId}/progress", MetricsMiddleware(s.progressHandler.HandleGetProgress, "progress")).Methods(http.MethodGet)
	r.HandleFunc("/rankings/sheets/{sheetId}", MetricsMiddleware(s.rankingsHandler.HandleChart, "rankings.sheet")).Methods(http.MethodGet)
	r.HandleFunc("/rankings/total-score", MetricsMiddleware(s.rankingsHandler.HandleTotalScore, "rankings.total_score")).Methods(http.MethodGet)
	r.HandleFunc("/rankings/{board}", MetricsMiddleware(s.rankingsHandler.HandleBoard, "rankings.board")).Methods(http.MethodGet)
	r.HandleFunc("/statistics", MetricsMiddleware(s.statisticsHandler.HandleStatistics, "statistics")).Methods(http.MethodGet)
	r.HandleFunc("/health", MetricsMiddleware(s.healthHandler.HandleHealth, "health")).Methods(http.MethodGet)
	r.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats")).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

// Handler wraps r with panic recovery, CORS and the access log.
func (s *Server) Handler(r *mux.Router) http.Handler {
	var h http.Handler = r
	if s.allowedOrigin != "" {
		h = handlers.CORS(
			handlers.AllowedOrigins([]string{s.allowedOrigin}),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type", "Idempotency-Key"}),
			handlers.ExposedHeaders([]string{idempotentReplayedHeader}),
		)(h)
	}
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}))(h)
	if s.accessLog != nil {
		h = handlers.CombinedLoggingHandler(s.accessLog, h)
	}
	return h
}

// recoveryLogger reports recovered panics through the structured logger.
type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	logger.Get().Named("http").Error(context.Background(), "panic recovered", logger.Any("panic", v))
}

// recordJSON is the wire shape of a performance record.
type recordJSON struct {
	ID        string           `json:"id"`
	SheetID   string           `json:"sheetId"`
	Score     uint32           `json:"score"`
	ClearType model.ClearGrade `json:"clearType"`
	PlayCount uint32           `json:"playCount"`
	UpdatedAt string           `json:"updatedAt"`
}

func toRecordJSON(records []model.Record) []recordJSON {
	out := make([]recordJSON, len(records))
	for i, r := range records {
		out[i] = recordJSON{
			ID:        r.ID,
			SheetID:   r.ChartID,
			Score:     r.Score,
			ClearType: r.Grade,
			PlayCount: r.PlayCount,
			UpdatedAt: r.UpdatedAt.UTC().Format(timeFormat),
		}
	}
	return out
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status. Internal causes are logged, not returned.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Get().Named("http").Error(r.Context(), "request failed",
			logger.String("path", r.URL.Path),
			logger.Error(err),
		)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Code: code, Error: msg})
}

// emptyIfNil keeps JSON arrays from rendering as null.
func emptyIfNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}
