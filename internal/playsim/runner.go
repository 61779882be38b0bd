package playsim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/tempo/internal/domain/types"
	"github.com/okian/tempo/pkg/logger"
)

// Runner defaults.
const (
	defaultTimeout   = 10 * time.Second
	submitAttempts   = 2
	retryBackoff     = 200 * time.Millisecond
	outputPermission = 0o600
	percent          = 100
)

// ErrMismatch is returned by Run when the stored state differs from the
// submitted plays.
var ErrMismatch = errors.New("playsim: stored records do not match submitted plays")

// Run submits generated batches to cfg.BaseURL and verifies the result.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := logger.Get().Named("playsim")
	stats := &Stats{StartTime: time.Now()}
	client := NewClient(cfg.BaseURL, cfg.Timeout)

	log.Info(ctx, "starting play simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("players", len(cfg.Players)),
		logger.Int("charts", len(cfg.Charts)),
		logger.Int("batches", cfg.Batches),
		logger.Int("workers", cfg.Workers),
	)

	if err := client.Health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	baseRecords, baseProgress, err := snapshot(ctx, client, cfg)
	if err != nil {
		return nil, fmt.Errorf("baseline: %w", err)
	}
	expect := newExpectation(baseRecords, baseProgress)

	batches := generate(cfg)
	stats.BatchesGenerated = len(batches)
	for _, b := range batches {
		stats.PlaysGenerated += len(b.Plays)
	}
	if cfg.OutputFile != "" {
		if err := saveBatches(cfg.OutputFile, batches); err != nil {
			log.Warn(ctx, "failed to save batches", logger.Error(err))
		}
	}

	submitAll(ctx, client, cfg, batches, expect, stats)

	records, progress, err := snapshot(ctx, client, cfg)
	if err != nil {
		return stats, fmt.Errorf("final state: %w", err)
	}
	mismatches := expect.verify(records, progress)
	stats.Mismatches = len(mismatches)
	for _, m := range mismatches {
		log.Error(ctx, "mismatch", logger.String("detail", m.String()))
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, log, stats)

	if len(mismatches) > 0 {
		return stats, fmt.Errorf("%w: %d differences", ErrMismatch, len(mismatches))
	}
	return stats, nil
}

// submitAll posts every batch with at most cfg.Workers requests in flight.
// Batches flagged Replay are posted a second time with the same key.
func submitAll(ctx context.Context, client *Client, cfg *Config, batches []Batch, expect *expectation, stats *Stats) {
	log := logger.Get().Named("playsim")
	var (
		mu        sync.Mutex
		submitted atomic.Int64
		replayed  atomic.Int64
		failed    atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, b := range batches {
		g.Go(func() error {
			err := submitWithRetry(gctx, client, b)
			submitted.Add(1)

			mu.Lock()
			if err == nil {
				expect.apply(b)
			} else {
				// The server may or may not have applied the batch.
				expect.markUnknown(b.PlayerID)
			}
			mu.Unlock()

			if err == nil && b.Replay {
				var again bool
				_, again, err = client.Submit(gctx, b)
				if err == nil && again {
					replayed.Add(1)
				}
			}
			if err != nil {
				failed.Add(1)
				if cfg.Verbose {
					log.Warn(gctx, "batch failed", logger.String("player", b.PlayerID), logger.Error(err))
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.BatchesSubmitted = int(submitted.Load())
	stats.BatchesReplayed = int(replayed.Load())
	stats.BatchesFailed = int(failed.Load())
}

// submitWithRetry resends b under the same key on transport and 5xx errors.
func submitWithRetry(ctx context.Context, client *Client, b Batch) error {
	var err error
	for attempt := 0; attempt < submitAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff):
			}
		}
		if _, _, err = client.Submit(ctx, b); err == nil || !retryable(err) {
			return err
		}
	}
	return err
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status >= 500
	}
	return !errors.Is(err, context.Canceled)
}

// snapshot fetches records and progress of every configured player.
func snapshot(ctx context.Context, client *Client, cfg *Config) (map[string][]Record, map[string]types.Progress, error) {
	var mu sync.Mutex
	records := make(map[string][]Record, len(cfg.Players))
	progress := make(map[string]types.Progress, len(cfg.Players))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, id := range cfg.Players {
		g.Go(func() error {
			recs, err := client.Records(gctx, id)
			if err != nil {
				return fmt.Errorf("records of %s: %w", id, err)
			}
			p, err := client.Progress(gctx, id)
			if err != nil {
				return fmt.Errorf("progress of %s: %w", id, err)
			}
			mu.Lock()
			records[id] = recs
			progress[id] = p
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return records, progress, nil
}

func saveBatches(path string, batches []Batch) error {
	data, err := json.MarshalIndent(batches, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal batches: %w", err)
	}
	return os.WriteFile(path, data, outputPermission)
}

func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats) {
	var successRate, batchesPerSecond float64
	if stats.BatchesSubmitted > 0 {
		successRate = float64(stats.BatchesSubmitted-stats.BatchesFailed) / float64(stats.BatchesSubmitted) * percent
	}
	if stats.Duration > 0 {
		batchesPerSecond = float64(stats.BatchesSubmitted) / stats.Duration.Seconds()
	}

	log.Info(ctx, "final statistics",
		logger.Int("batchesGenerated", stats.BatchesGenerated),
		logger.Int("playsGenerated", stats.PlaysGenerated),
		logger.Int("batchesSubmitted", stats.BatchesSubmitted),
		logger.Int("batchesReplayed", stats.BatchesReplayed),
		logger.Int("batchesFailed", stats.BatchesFailed),
		logger.Int("mismatches", stats.Mismatches),
		logger.Duration("duration", stats.Duration),
		logger.Float64("successRate", successRate),
		logger.Float64("batchesPerSecond", batchesPerSecond),
	)
}
