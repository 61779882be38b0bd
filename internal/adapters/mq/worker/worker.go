// Package worker applies progress events to the standings boards and forwards
// them to the configured publisher.
package worker

import (
	"context"
	"fmt"
	"hash/fnv"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/tempo/internal/adapters/mq/queue"
	"github.com/okian/tempo/pkg/logger"
	"github.com/okian/tempo/pkg/metrics"
)

// Default worker configuration constants.
const (
	metricsUpdateInterval = 5 * time.Second
	poolShutdownTimeout   = 30 * time.Second
	inboxSize             = 64
)

// Event is what workers read off the queue.
type Event = queue.Event

// Board is a standings board keyed by player.
type Board interface {
	Set(ctx context.Context, playerID string, value int64) bool
	Remove(ctx context.Context, playerID string) bool
}

// Sink receives every applied event.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Worker processes events until its queue closes.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue closes.
	Run(ctx context.Context)

	// Shutdown stops the worker without draining its queue.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue  Queue
	rating Board
	xp     Board
	sink   Sink
	name   string

	processed *atomic.Int64

	// last applied Seq per player; only touched by the Run goroutine
	applied map[string]uint64

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

var _ Worker = (*InMemoryWorker)(nil)

// NewInMemoryWorker creates a new worker with configuration options. sink may be nil.
func NewInMemoryWorker(q Queue, rating, xp Board, sink Sink, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		rating:   rating,
		xp:       xp,
		sink:     sink,
		applied:  make(map[string]uint64),
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	events := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := w.processEvent(ctx, event); err != nil {
				w.logger.Error(ctx, "error processing event", logger.Error(err))
			}
		}
	}
}

// Shutdown stops the worker loop and waits for it to exit.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processEvent places a public player on both boards, or takes a private one
// off them, then publishes the event. An event whose Seq is not newer than the
// last one applied for the player leaves the boards alone; a zero Seq is
// always applied.
func (w *InMemoryWorker) processEvent(ctx context.Context, event Event) error {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
		if w.processed != nil {
			w.processed.Add(1)
		}
	}()

	if w.fresh(event) {
		w.applyToBoards(ctx, event)
	} else {
		metrics.RecordErrorByComponent("worker", "stale_event")
		w.logger.Debug(ctx, "stale progress event skipped",
			logger.String("player_id", event.PlayerID),
			logger.Uint64("seq", event.Seq),
			logger.Uint64("applied_seq", w.applied[event.PlayerID]),
		)
	}

	if w.sink == nil {
		return nil
	}
	if err := w.sink.Publish(ctx, event); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "publish_error")
		return fmt.Errorf("publish progress of %s: %w", event.PlayerID, err)
	}
	return nil
}

// fresh reports whether event is newer than what the boards hold for its
// player, and records it as applied when it is.
func (w *InMemoryWorker) fresh(event Event) bool {
	if event.Seq == 0 {
		return true
	}
	if event.Seq <= w.applied[event.PlayerID] {
		return false
	}
	w.applied[event.PlayerID] = event.Seq
	return true
}

// applyToBoards ranks public players who have played; everyone else is
// taken off the boards.
func (w *InMemoryWorker) applyToBoards(ctx context.Context, event Event) {
	if !event.Public || event.XP == 0 {
		w.rating.Remove(ctx, event.PlayerID)
		w.xp.Remove(ctx, event.PlayerID)
		return
	}
	w.rating.Set(ctx, event.PlayerID, int64(event.Rating))
	w.xp.Set(ctx, event.PlayerID, int64(event.XP))
}

// inbox is the per-worker queue the pool dispatches into.
type inbox chan Event

func (in inbox) Dequeue(context.Context) <-chan Event { return in }

// Pool runs a fixed set of workers fed from one queue. Events are routed by
// player id, so every event of a player is applied by the same worker in
// queue order.
type Pool struct {
	workers []*InMemoryWorker
	inboxes []inbox
	queue   Queue

	shutdown     chan struct{}
	shutdownOnce sync.Once
	dispatched   chan struct{}

	processed         atomic.Int64
	lastProcessedTime time.Time

	logger logger.Logger
}

// NewPool creates a worker pool. A workerCount below one uses runtime.NumCPU().
func NewPool(workerCount int, q Queue, rating, xp Board, sink Sink) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	pool := &Pool{
		workers:           make([]*InMemoryWorker, workerCount),
		inboxes:           make([]inbox, workerCount),
		queue:             q,
		shutdown:          make(chan struct{}),
		dispatched:        make(chan struct{}),
		lastProcessedTime: time.Now(),
		logger:            logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		pool.inboxes[i] = make(inbox, inboxSize)
		pool.workers[i] = NewInMemoryWorker(
			pool.inboxes[i],
			rating,
			xp,
			sink,
			WithName("worker-"+strconv.Itoa(i)),
			withProcessedCounter(&pool.processed),
		)
	}

	metrics.UpdateWorkerCount(workerCount)
	metrics.UpdateWorkerMessagesPerSecond(0)
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Processed returns the number of events applied since the pool started.
func (p *Pool) Processed() int64 { return p.processed.Load() }

// Start starts the dispatcher and all workers.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.dispatch(ctx)
	go p.startMetricsUpdater(ctx)
}

func (p *Pool) dispatch(ctx context.Context) {
	defer close(p.dispatched)
	defer func() {
		for _, in := range p.inboxes {
			close(in)
		}
	}()

	events := p.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			select {
			case p.inboxes[p.shard(event.PlayerID)] <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Pool) shard(playerID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(playerID))
	return int(h.Sum32() % uint32(len(p.inboxes)))
}

func (p *Pool) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	var last int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case now := <-ticker.C:
			current := p.processed.Load()
			if elapsed := now.Sub(p.lastProcessedTime).Seconds(); elapsed > 0 {
				metrics.UpdateWorkerMessagesPerSecond(float64(current-last) / elapsed)
			}
			last = current
			p.lastProcessedTime = now
		}
	}
}

// Shutdown closes the queue, lets the workers apply what is already queued,
// and waits for them up to ctx's deadline or poolShutdownTimeout.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}
	p.shutdownOnce.Do(func() { close(p.shutdown) })

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	select {
	case <-p.dispatched:
	case <-shutdownCtx.Done():
		p.logger.Warn(ctx, "dispatcher shutdown timed out")
		return fmt.Errorf("dispatcher shutdown: %w", shutdownCtx.Err())
	}
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return fmt.Errorf("worker shutdown: %w", shutdownCtx.Err())
		}
	}
	metrics.UpdateWorkerCount(0)
	return nil
}
