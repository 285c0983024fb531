package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperengineering/shiftq/internal/kvstore"
	"github.com/hyperengineering/shiftq/internal/queue"
)

type chanSource struct {
	ch   chan kvstore.Change
	err  error
	keys []string
}

func (s *chanSource) Watch(ctx context.Context, interval time.Duration, keys ...string) (<-chan kvstore.Change, error) {
	s.keys = keys
	if s.err != nil {
		return nil, s.err
	}
	return s.ch, nil
}

func TestQueueWatcher_RefreshesOnQueueChangesOnly(t *testing.T) {
	src := &chanSource{ch: make(chan kvstore.Change, 3)}
	pending := &mockPending{}
	w := NewQueueWatcher(src, pending, time.Second)

	src.ch <- kvstore.Change{Key: queue.QueueKey}
	src.ch <- kvstore.Change{Key: queue.ResolutionKey}
	src.ch <- kvstore.Change{Key: queue.QueueKey, Deleted: true}
	close(src.ch)

	w.Run(context.Background())

	if got := pending.Calls(); got != 2 {
		t.Errorf("Length calls = %d, want 2", got)
	}
	if len(src.keys) != 1 || src.keys[0] != queue.QueueKey {
		t.Errorf("watched keys = %v, want [%s]", src.keys, queue.QueueKey)
	}
}

func TestQueueWatcher_UnsupportedSourceReturns(t *testing.T) {
	src := &chanSource{err: kvstore.ErrWatchUnsupported}
	pending := &mockPending{}

	done := make(chan struct{})
	go func() {
		NewQueueWatcher(src, pending, time.Second).Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return for an unwatchable source")
	}
	if pending.Calls() != 0 {
		t.Error("Length should not be called")
	}
}

func TestQueueWatcher_SeesAppendsFromAnotherHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	mine, err := kvstore.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer mine.Close()
	theirs, err := kvstore.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer theirs.Close()

	store := queue.NewStore(mine)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan int, 8)
	store.Subscribe(func(n int) { updates <- n })

	go NewQueueWatcher(mine, store, 10*time.Millisecond).Run(ctx)
	time.Sleep(30 * time.Millisecond)

	op, err := queue.New(queue.Incident{IncidentType: "x"})
	if err != nil {
		t.Fatalf("queue.New() error = %v", err)
	}
	queue.NewStore(theirs).Append(context.Background(), op)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case n := <-updates:
			if n == 1 {
				return
			}
		case <-deadline:
			t.Fatalf("length never refreshed; cached = %d", store.Cached())
		}
	}
}
