package repository

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/tempo/internal/domain/types"
	"github.com/okian/tempo/pkg/logger"
	"github.com/okian/tempo/pkg/metrics"
)

// Ordering: value DESC, then player id ASC. The tree is a treap whose BST
// comparator puts higher values first, so in-order traversal yields the board
// from best to worst. Ranks are dense: equal values share a rank and the next
// distinct value takes the following rank.

// Snapshot is an immutable copy of the head of a board.
type Snapshot struct {
	Board   string           `json:"board"`
	Version uint64           `json:"version"`
	TakenAt time.Time        `json:"takenAt"`
	Count   int              `json:"count"`
	Top     []types.Standing `json:"top"`
}

type node struct {
	id    string
	value int64
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less reports whether (aValue, aID) sorts before (bValue, bID).
func less(aValue int64, aID string, bValue int64, bID string) bool {
	if aValue != bValue {
		return aValue > bValue
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, value int64) *node {
	if n == nil {
		return &node{id: id, value: value, prio: rand.Uint64(), size: 1}
	}
	if less(value, id, n.value, n.id) {
		n.left = insert(n.left, id, value)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, value)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, value int64) *node {
	if n == nil {
		return nil
	}
	switch {
	case value == n.value && id == n.id:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		// rotate the higher priority child up until n is a leaf
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, value)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, value)
		}
	case less(value, id, n.value, n.id):
		n.left = deleteNode(n.left, id, value)
	default:
		n.right = deleteNode(n.right, id, value)
	}
	fix(n)
	return n
}

// collectTopN appends up to limit rows in board order. Ranks are left unset.
func collectTopN(n *node, limit int, out *[]types.Standing) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, types.Standing{PlayerID: n.id, Value: n.value})
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, out)
	}
}

// denseRank returns one more than the number of distinct values above value.
func denseRank(root *node, value int64) int {
	var (
		stack    []*node
		distinct int
		prev     int64
	)
	for n := root; n != nil || len(stack) > 0; {
		for n != nil {
			stack = append(stack, n)
			n = n.left
		}
		n = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.value <= value {
			break
		}
		if distinct == 0 || n.value != prev {
			distinct++
		}
		prev = n.value
		n = n.right
	}
	return distinct + 1
}

// Standings is an in-memory ranking of players by one value (rating or xp).
// It is safe for concurrent use.
type Standings struct {
	board            string
	mu               sync.RWMutex
	root             *node
	byID             map[string]int64
	version          uint64
	snapshotInterval time.Duration
	topCacheSize     int
	hooks            []func(context.Context, *Snapshot)
	log              logger.Logger

	snapshot atomic.Pointer[Snapshot]

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewStandings builds an empty board and starts its periodic snapshots.
func NewStandings(ctx context.Context, board string, opts ...Option) *Standings {
	s := &Standings{
		board:            board,
		byID:             make(map[string]int64),
		snapshotInterval: time.Second,
		topCacheSize:     500,
		log:              logger.Get().Named("standings").Named(board),
		stopChan:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.publishSnapshot(ctx, true)
	s.startPeriodicSnapshots(ctx)
	return s
}

// Board names the value this board ranks by.
func (s *Standings) Board() string { return s.board }

func (s *Standings) startPeriodicSnapshots(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.snapshotInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.publishSnapshot(ctx, false)
			}
		}
	}()
}

// publishSnapshot rebuilds the snapshot when the board changed since the last one.
func (s *Standings) publishSnapshot(ctx context.Context, force bool) {
	start := time.Now()

	s.mu.RLock()
	if prev := s.snapshot.Load(); !force && prev != nil && prev.Version == s.version {
		s.mu.RUnlock()
		return
	}
	snap := &Snapshot{
		Board:   s.board,
		Version: s.version,
		TakenAt: start.UTC(),
		Count:   len(s.byID),
		Top:     make([]types.Standing, 0, min(s.topCacheSize, len(s.byID))),
	}
	collectTopN(s.root, s.topCacheSize, &snap.Top)
	s.mu.RUnlock()

	assignStandingRanks(snap.Top)
	s.snapshot.Store(snap)
	metrics.RecordStandingsSnapshot(s.board, float64(time.Since(start).Microseconds())/1000)

	if force {
		return
	}
	for _, hook := range s.hooks {
		hook(ctx, snap)
	}
}

// Snapshot returns the latest published snapshot.
func (s *Standings) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// Close stops the snapshot goroutine.
func (s *Standings) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

// Set places playerID at value, replacing any previous value. It reports
// whether the board changed.
func (s *Standings) Set(_ context.Context, playerID string, value int64) bool {
	s.mu.Lock()
	old, ok := s.byID[playerID]
	if ok && old == value {
		s.mu.Unlock()
		return false
	}
	if ok {
		s.root = deleteNode(s.root, playerID, old)
	}
	s.byID[playerID] = value
	s.root = insert(s.root, playerID, value)
	s.version++
	count := len(s.byID)
	s.mu.Unlock()

	if !ok {
		metrics.UpdateStandingsSize(s.board, count)
	}
	return true
}

// Remove takes playerID off the board. It reports whether the player was on it.
func (s *Standings) Remove(_ context.Context, playerID string) bool {
	s.mu.Lock()
	old, ok := s.byID[playerID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.root = deleteNode(s.root, playerID, old)
	delete(s.byID, playerID)
	s.version++
	count := len(s.byID)
	s.mu.Unlock()

	metrics.UpdateStandingsSize(s.board, count)
	return true
}

// Load places every row on the board and publishes a fresh snapshot.
func (s *Standings) Load(ctx context.Context, rows []types.Standing) {
	for _, r := range rows {
		s.Set(ctx, r.PlayerID, r.Value)
	}
	s.publishSnapshot(ctx, true)
	s.log.Info(ctx, "standings loaded", logger.Int("players", len(rows)))
}

// Rank returns the live rank and value of playerID.
func (s *Standings) Rank(_ context.Context, playerID string) (types.Standing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.byID[playerID]
	if !ok {
		return types.Standing{}, PlayerNotFound(playerID)
	}
	return types.Standing{Rank: denseRank(s.root, value), PlayerID: playerID, Value: value}, nil
}

// TopN returns the first n rows of the board.
func (s *Standings) TopN(_ context.Context, n int) ([]types.Standing, error) {
	if n < 1 {
		metrics.RecordErrorByComponent("standings", "invalid_limit")
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	out := make([]types.Standing, 0, min(n, len(s.byID)))
	collectTopN(s.root, n, &out)
	s.mu.RUnlock()

	assignStandingRanks(out)
	return out, nil
}

// Count returns the number of players on the board.
func (s *Standings) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// assignStandingRanks ranks a prefix of the board; a prefix's dense ranks are its global ranks.
func assignStandingRanks(rows []types.Standing) {
	types.AssignRanks(rows,
		func(r types.Standing) int64 { return r.Value },
		func(r *types.Standing, rank int) { r.Rank = rank })
}
