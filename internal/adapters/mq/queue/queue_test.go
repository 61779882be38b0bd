package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/tempo/internal/domain/model"
)

func progress(player string, xp uint32) model.ProgressEvent {
	return model.ProgressEvent{PlayerID: player, XP: xp, Rating: 1200, Plays: 1, At: time.Now()}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if c := q.Capacity(); c != 2 {
		t.Errorf("expected capacity 2, got %d", c)
	}

	if !q.Enqueue(ctx, progress("p1", 10)) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	event := <-q.Dequeue(ctx)
	if event.PlayerID != "p1" || event.XP != 10 {
		t.Errorf("unexpected event %+v", event)
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, progress("p1", 1)) || !q.Enqueue(ctx, progress("p2", 2)) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, progress("p3", 3)) {
		t.Error("expected enqueue to fail when full")
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_CancelledContext(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if q.Enqueue(ctx, progress("p1", 1)) {
		t.Error("expected enqueue to fail with a cancelled context")
	}

	select {
	case _, ok := <-q.Dequeue(ctx):
		if ok {
			t.Error("expected no event from a cancelled dequeue")
		}
	case <-time.After(time.Second):
		t.Error("expected dequeue channel to close when the context ends")
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	const (
		producers = 10
		perWorker = 100
	)

	var consumed sync.Map
	var consumers sync.WaitGroup
	for i := 0; i < producers; i++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for event := range q.Dequeue(ctx) {
				consumed.Store(fmt.Sprintf("%s/%d", event.PlayerID, event.XP), true)
			}
		}()
	}

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				for !q.Enqueue(ctx, progress(fmt.Sprintf("p%d", id), uint32(j))) {
					time.Sleep(time.Millisecond)
				}
			}
		}(i)
	}
	wg.Wait()
	_ = q.Close()
	consumers.Wait()

	count := 0
	consumed.Range(func(_, _ any) bool {
		count++
		return true
	})
	if count != producers*perWorker {
		t.Errorf("expected %d events consumed, got %d", producers*perWorker, count)
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected final length 0, got %d", l)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	if !q.Enqueue(ctx, progress("p1", 1)) || !q.Enqueue(ctx, progress("p2", 2)) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}

	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if q.Enqueue(ctx, progress("p3", 3)) {
		t.Error("expected enqueue to fail after closing")
	}

	// queued events are still delivered before the channel closes
	var got []string
	timeout := time.After(time.Second)
	events := q.Dequeue(ctx)
	for done := false; !done; {
		select {
		case event, ok := <-events:
			if !ok {
				done = true
				break
			}
			got = append(got, event.PlayerID)
		case <-timeout:
			t.Fatal("expected dequeue channel to be closed within timeout")
		}
	}
	if len(got) != 2 || got[0] != "p1" || got[1] != "p2" {
		t.Errorf("expected [p1 p2], got %v", got)
	}

	if err := q.Close(); err != nil {
		t.Errorf("expected second close to succeed, got error: %v", err)
	}
}
