// Command tempo runs the play submission server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/okian/tempo/internal/adapters/http/api"
	"github.com/okian/tempo/internal/adapters/http/swagger"
	"github.com/okian/tempo/internal/adapters/mq/publisher"
	"github.com/okian/tempo/internal/adapters/repository"
	"github.com/okian/tempo/internal/adapters/repository/archive"
	"github.com/okian/tempo/internal/adapters/repository/postgres"
	service "github.com/okian/tempo/internal/app"
	"github.com/okian/tempo/internal/config"
	"github.com/okian/tempo/pkg/logger"
	"github.com/okian/tempo/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Configure(metricsOptions(cfg)...)

	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "tempo exited with error", logger.Error(err))
		os.Exit(1)
	}
}

// run wires every component from cfg and serves until ctx ends.
func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error(ctx, "store close failed", logger.Error(err))
		}
	}()

	opts, err := serviceOptions(ctx, cfg, log)
	if err != nil {
		return err
	}
	svc := service.New(store, opts...)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			log.Error(ctx, "service stop failed", logger.Error(err))
		}
	}()

	srv := newHTTPServer(ctx, cfg, svc)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(gctx, "starting HTTP server", logger.String("addr", cfg.Addr), logger.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(gctx, "shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		startSystemMetricsUpdater(gctx)
		return nil
	})

	err = g.Wait()
	log.Info(ctx, "server stopped")
	return err
}

// openStore opens the configured backend and loads the seed file into it.
func openStore(ctx context.Context, cfg *config.Config, log logger.Logger) (repository.Store, error) {
	var seed *repository.Seed
	if cfg.SeedFile != "" {
		s, err := repository.LoadSeed(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		seed = &s
	}

	switch cfg.Store {
	case config.StorePostgres:
		pg, err := postgres.New(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, err
		}
		if cfg.PostgresMigrate {
			if err := pg.Migrate(ctx); err != nil {
				_ = pg.Close()
				return nil, err
			}
		}
		if seed != nil {
			if err := pg.ApplySeed(ctx, *seed); err != nil {
				_ = pg.Close()
				return nil, err
			}
		}
		log.Info(ctx, "using postgres store", logger.String("host", cfg.PostgresHost), logger.String("db", cfg.PostgresDB))
		return pg, nil
	default:
		mem := repository.NewMemoryStore()
		if seed != nil {
			if err := mem.ApplySeed(*seed); err != nil {
				return nil, err
			}
			log.Info(ctx, "memory store seeded",
				logger.Int("players", len(seed.Players)),
				logger.Int("charts", len(seed.Charts)),
			)
		} else {
			log.Warn(ctx, "memory store has no seed_file; every submission will 404")
		}
		return mem, nil
	}
}

// serviceOptions maps cfg onto service options, enabling Kafka and the S3
// archive when they are configured.
func serviceOptions(ctx context.Context, cfg *config.Config, log logger.Logger) ([]service.Option, error) {
	opts := []service.Option{
		service.WithLogger(log.Named("service")),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.QueueSize),
		service.WithIdempotencySize(cfg.IdempotencySize),
		service.WithStandingsOptions(
			repository.WithSnapshotInterval(time.Duration(cfg.SnapshotIntervalMS)*time.Millisecond),
			repository.WithTopCacheSize(cfg.MaxRankingLimit),
		),
	}

	if brokers := cfg.Brokers(); len(brokers) > 0 {
		k, err := publisher.NewKafka(brokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		opts = append(opts, service.WithPublisher(k))
		log.Info(ctx, "publishing progress to kafka", logger.String("topic", cfg.KafkaTopic))
	} else {
		opts = append(opts, service.WithPublisher(publisher.Nop{}))
	}

	if cfg.S3Bucket != "" {
		a, err := archive.New(ctx, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			return nil, err
		}
		opts = append(opts, service.WithStandingsOptions(repository.WithSnapshotHook(a.Hook())))
		log.Info(ctx, "archiving standings snapshots", logger.String("bucket", cfg.S3Bucket))
	}
	return opts, nil
}

func newHTTPServer(ctx context.Context, cfg *config.Config, svc *service.Service) *http.Server {
	opts := []api.Option{
		api.WithRankingLimits(cfg.RankingLimit, cfg.MaxRankingLimit),
		api.WithMaxBatchSize(cfg.MaxBatchSize),
		api.WithAllowedOrigin(cfg.AllowedOrigin),
	}
	if cfg.LogLevel == "debug" {
		opts = append(opts, api.WithAccessLog(os.Stdout))
	}

	r := mux.NewRouter()
	swagger.Register(ctx, r)
	apiServer := api.NewServer(svc, opts...)
	apiServer.Register(ctx, r)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           apiServer.Handler(r),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// metricsOptions maps the metrics_* keys onto the metrics package.
func metricsOptions(cfg *config.Config) []metrics.Option {
	return []metrics.Option{
		metrics.WithNamespace(cfg.MetricsNamespace),
		metrics.WithMetricsEnabled(cfg.MetricsEnabled),
	}
}

// startSystemMetricsUpdater updates system metrics until ctx ends.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
