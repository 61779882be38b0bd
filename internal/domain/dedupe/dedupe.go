// Package dedupe tracks idempotency keys for record submissions.
//
// A key moves Fresh -> Pending on Reserve and Pending -> Done on Complete.
// Release drops a pending key so the caller can retry after a failure.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"github.com/okian/tempo/internal/domain/model"
)

// State describes what Reserve found for a key.
type State int

const (
	// Fresh means the key was unknown and is now reserved by the caller.
	Fresh State = iota
	// Pending means another call holds the key and has not finished.
	Pending
	// Done means the key already completed; the stored result is returned.
	Done
)

const defaultMaxSize = 50_000

// Ledger remembers the outcome of submissions keyed by idempotency key.
type Ledger interface {
	// Reserve claims key. When the state is Done the stored records are returned.
	Reserve(ctx context.Context, key string) (State, []model.Record)

	// Complete stores the result for a reserved key.
	Complete(ctx context.Context, key string, records []model.Record)

	// Release forgets a reserved key.
	Release(ctx context.Context, key string)

	Size() int64
}

type entry struct {
	key     string
	records []model.Record
	// el is the entry's place in the eviction order; nil while pending.
	el *list.Element
}

func (e *entry) done() bool { return e.el != nil }

// inMemoryLedger evicts completed keys oldest first when it holds more than
// maxSize keys. Pending keys are never evicted, so the ledger may briefly
// exceed maxSize while many submissions are in flight.
// maxSize <= 0 disables eviction.
type inMemoryLedger struct {
	mu      sync.Mutex
	byKey   map[string]*entry
	order   *list.List
	maxSize int
	size    atomic.Int64
}

// NewInMemoryLedger creates a ledger with configuration options.
func NewInMemoryLedger(opts ...Option) Ledger {
	l := &inMemoryLedger{
		maxSize: defaultMaxSize,
		byKey:   make(map[string]*entry),
		order:   list.New(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key scopes an idempotency key to a player.
func Key(playerID, idempotencyKey string) string {
	return playerID + "/" + idempotencyKey
}

func (l *inMemoryLedger) Reserve(_ context.Context, key string) (State, []model.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.byKey[key]; ok {
		if e.done() {
			return Done, cloneRecords(e.records)
		}
		return Pending, nil
	}

	l.byKey[key] = &entry{key: key}
	l.size.Add(1)
	l.trim()
	return Fresh, nil
}

func (l *inMemoryLedger) Complete(_ context.Context, key string, records []model.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[key]
	if !ok || e.done() {
		return
	}
	e.records = cloneRecords(records)
	e.el = l.order.PushBack(e)
	l.trim()
}

// Release forgets a pending key. Completed keys are kept.
func (l *inMemoryLedger) Release(_ context.Context, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.byKey[key]; ok && !e.done() {
		delete(l.byKey, key)
		l.size.Add(-1)
	}
}

func (l *inMemoryLedger) Size() int64 {
	return l.size.Load()
}

// trim evicts the oldest completed keys while over maxSize.
// It must be called with l.mu held.
func (l *inMemoryLedger) trim() {
	if l.maxSize <= 0 {
		return
	}
	for len(l.byKey) > l.maxSize {
		front := l.order.Front()
		if front == nil {
			return
		}
		l.order.Remove(front)
		delete(l.byKey, front.Value.(*entry).key)
		l.size.Add(-1)
	}
}

func cloneRecords(in []model.Record) []model.Record {
	if in == nil {
		return nil
	}
	out := make([]model.Record, len(in))
	copy(out, in)
	return out
}
