package repository

import (
	"context"
	"time"
)

// Option applies a configuration option to Standings.
type Option func(*Standings)

// WithSnapshotInterval sets how often a changed board is snapshotted.
func WithSnapshotInterval(interval time.Duration) Option {
	return func(s *Standings) {
		if interval > 0 {
			s.snapshotInterval = interval
		}
	}
}

// WithTopCacheSize sets how many leading rows a snapshot keeps.
func WithTopCacheSize(n int) Option {
	return func(s *Standings) {
		if n > 0 {
			s.topCacheSize = n
		}
	}
}

// WithSnapshotHook registers fn to receive every periodic snapshot.
func WithSnapshotHook(fn func(ctx context.Context, snap *Snapshot)) Option {
	return func(s *Standings) {
		if fn != nil {
			s.hooks = append(s.hooks, fn)
		}
	}
}
