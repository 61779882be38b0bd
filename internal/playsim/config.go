// Package playsim drives a running tempo server with randomized play batches
// and checks that every play is reflected in the stored records.
package playsim

import (
	"errors"
	"time"
)

// ErrNoTargets is returned when a Config names no players or no charts.
var ErrNoTargets = errors.New("playsim: at least one player and one chart are required")

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL    string        // Base URL of the service
	Players    []string      // Player IDs that exist on the server
	Charts     []string      // Chart IDs that exist on the server
	Batches    int           // Number of batches to submit
	BatchSize  int           // Maximum plays per batch
	Workers    int           // Concurrent submitters
	ReplayRate float64       // Fraction of batches re-sent with the same Idempotency-Key
	Timeout    time.Duration // HTTP request timeout
	Seed       uint64        // Random seed; runs with equal seeds submit equal plays
	OutputFile string        // Optional JSON dump of the generated batches
	Verbose    bool
}

func (c *Config) validate() error {
	if len(c.Players) == 0 || len(c.Charts) == 0 {
		return ErrNoTargets
	}
	if c.Batches < 1 {
		c.Batches = 1
	}
	if c.BatchSize < 1 {
		c.BatchSize = 1
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return nil
}

// Stats holds run statistics.
type Stats struct {
	BatchesGenerated int
	PlaysGenerated   int
	BatchesSubmitted int
	BatchesReplayed  int
	BatchesFailed    int
	Mismatches       int
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
}
