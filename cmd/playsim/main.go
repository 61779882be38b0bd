// Command playsim submits randomized plays to a tempo server and verifies
// that the stored records account for every one of them.
package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/okian/tempo/internal/adapters/repository"
	"github.com/okian/tempo/internal/playsim"
	"github.com/okian/tempo/pkg/logger"
)

// Default configuration constants.
const (
	defaultBatches    = 1000
	defaultBatchSize  = 8
	defaultWorkers    = 2 // multiplier for runtime.NumCPU()
	defaultReplayRate = 0.05
	defaultTimeout    = 10 * time.Second
	defaultRunTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		seedFile   = flag.String("seed-file", "", "YAML seed file naming the players and charts to use")
		players    = flag.String("players", "", "Comma separated player IDs (overrides -seed-file)")
		charts     = flag.String("charts", "", "Comma separated chart IDs (overrides -seed-file)")
		batches    = flag.Int("batches", defaultBatches, "Number of batches to submit")
		batchSize  = flag.Int("batch-size", defaultBatchSize, "Maximum plays per batch")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent submitters")
		replayRate = flag.Float64("replay-rate", defaultReplayRate, "Fraction of batches re-sent with the same Idempotency-Key")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		randSeed   = flag.Uint64("rand-seed", uint64(time.Now().UnixNano()), "Random seed for the generated plays")
		outputFile = flag.String("output", "", "Write the generated batches to this JSON file")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}
	log := logger.Get()

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	cfg := &playsim.Config{
		BaseURL:    strings.TrimRight(*baseURL, "/"),
		Players:    splitList(*players),
		Charts:     splitList(*charts),
		Batches:    *batches,
		BatchSize:  *batchSize,
		Workers:    *workers,
		ReplayRate: *replayRate,
		Timeout:    *timeout,
		Seed:       *randSeed,
		OutputFile: *outputFile,
		Verbose:    *verbose,
	}

	if *seedFile != "" {
		seed, err := repository.LoadSeed(*seedFile)
		if err != nil {
			log.Error(ctx, "failed to load seed file", logger.Error(err))
			os.Exit(1)
		}
		if len(cfg.Players) == 0 {
			for _, p := range seed.Players {
				cfg.Players = append(cfg.Players, p.ID)
			}
		}
		if len(cfg.Charts) == 0 {
			for _, c := range seed.Charts {
				cfg.Charts = append(cfg.Charts, c.ID)
			}
		}
	}

	if _, err := playsim.Run(ctx, cfg); err != nil {
		log.Error(ctx, "simulation failed", logger.Error(err))
		os.Exit(1)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
