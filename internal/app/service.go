// Package service reconciles submitted plays into player records and keeps the
// derived rankings current. It implements the dependencies required by the
// HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	eventqueue "github.com/okian/tempo/internal/adapters/mq/queue"
	workerpool "github.com/okian/tempo/internal/adapters/mq/worker"
	"github.com/okian/tempo/internal/adapters/repository"
	"github.com/okian/tempo/internal/domain/dedupe"
	"github.com/okian/tempo/internal/domain/model"
	"github.com/okian/tempo/internal/domain/types"
	"github.com/okian/tempo/pkg/logger"
)

// Ranking boards.
const (
	BoardRating = "rating"
	BoardXP     = "xp"
)

// Publisher receives progress events after they reach the standings.
type Publisher interface {
	Publish(ctx context.Context, e model.ProgressEvent) error
	Close() error
}

// Service implements the API dependencies for the submission engine.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     repository.Store
	ledger    dedupe.Ledger
	queue     eventqueue.Queue
	rating    *repository.Standings
	xp        *repository.Standings
	pool      *workerpool.Pool
	publisher Publisher

	// Configuration
	workerCount      int
	queueSize        int
	idempotencySize  int
	standingsOptions []repository.Option
	now              func() time.Time

	// State
	started bool
	// seq orders committed player changes for the progress workers
	seq atomic.Uint64

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of progress workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the progress queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithIdempotencySize bounds the number of remembered idempotency keys.
func WithIdempotencySize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.idempotencySize = size
		}
	}
}

// WithPublisher forwards applied progress events to p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithStandingsOptions configures both ranking boards.
func WithStandingsOptions(opts ...repository.Option) Option {
	return func(s *Service) {
		s.standingsOptions = append(s.standingsOptions, opts...)
	}
}

// WithClock replaces time.Now as the source of record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service over store.
func New(store repository.Store, opts ...Option) *Service {
	s := &Service{
		store:           store,
		workerCount:     runtime.NumCPU(),
		queueSize:       10_000,
		idempotencySize: 50_000,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.ledger = dedupe.NewInMemoryLedger(dedupe.WithMaxSize(s.idempotencySize))
	return s
}

// Start rebuilds the rankings from the store and starts the progress workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting service...")

	players, err := s.store.ListPlayers(ctx)
	if err != nil {
		return fmt.Errorf("load players: %w", err)
	}

	s.rating = repository.NewStandings(ctx, BoardRating, s.standingsOptions...)
	s.xp = repository.NewStandings(ctx, BoardXP, s.standingsOptions...)
	ratingRows, xpRows := standingsFrom(players)
	s.rating.Load(ctx, ratingRows)
	s.xp.Load(ctx, xpRows)

	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	var sink workerpool.Sink
	if s.publisher != nil {
		sink = s.publisher
	}
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s.rating, s.xp, sink)
	s.pool.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "service started",
		logger.Int("players", len(players)),
		logger.Int("ranked", len(xpRows)),
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
	)
	return nil
}

// standingsFrom ranks every public player that has played at least once.
func standingsFrom(players []model.Player) (rating, xp []types.Standing) {
	for _, p := range players {
		if !p.IsPublic || p.XP == 0 {
			continue
		}
		rating = append(rating, types.Standing{PlayerID: p.ID, Value: int64(p.Rating)})
		xp = append(xp, types.Standing{PlayerID: p.ID, Value: int64(p.XP)})
	}
	return rating, xp
}

// Stop drains the progress queue and releases the boards and publisher.
// The store is owned by the caller and stays open.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping service...")

	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("worker pool: %w", err))
	}
	_ = s.rating.Close()
	_ = s.xp.Close()
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}

	s.started = false
	s.logger.Info(ctx, "service stopped")
	return errors.Join(errs...)
}

// components returns the running pipeline, or ErrNotStarted.
func (s *Service) components() (eventqueue.Queue, *repository.Standings, *repository.Standings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, nil, nil, ErrNotStarted
	}
	return s.queue, s.rating, s.xp, nil
}

// Ping reports whether the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":         s.started,
		"workerCount":     s.workerCount,
		"queueSize":       s.queueSize,
		"idempotencyKeys": s.ledger.Size(),
	}
	if s.started {
		stats["queueLength"] = s.queue.Len(ctx)
		stats["processedEvents"] = s.pool.Processed()
		stats["rankedByRating"] = s.rating.Count(ctx)
		stats["rankedByXP"] = s.xp.Count(ctx)
	}
	return stats
}
