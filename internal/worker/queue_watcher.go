package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hyperengineering/shiftq/internal/kvstore"
	"github.com/hyperengineering/shiftq/internal/queue"
)

// ChangeSource emits a Change whenever a watched key is written by anyone.
type ChangeSource interface {
	Watch(ctx context.Context, interval time.Duration, keys ...string) (<-chan kvstore.Change, error)
}

// QueueWatcher refreshes the observable queue length when another process
// (or another handle in this one) changes the stored queue.
type QueueWatcher struct {
	source   ChangeSource
	pending  Pending
	interval time.Duration
}

// NewQueueWatcher creates a watcher polling source every interval.
func NewQueueWatcher(source ChangeSource, pending Pending, interval time.Duration) *QueueWatcher {
	return &QueueWatcher{source: source, pending: pending, interval: interval}
}

// Run blocks until ctx is cancelled. A source that cannot be watched is
// logged and Run returns immediately.
func (w *QueueWatcher) Run(ctx context.Context) {
	changes, err := w.source.Watch(ctx, w.interval, queue.QueueKey)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, kvstore.ErrWatchUnsupported) {
			level = slog.LevelDebug
		}
		slog.Log(ctx, level, "queue watcher not started",
			"component", "worker",
			"worker", "queue-watcher",
			"error", err,
		)
		return
	}

	slog.Info("worker started",
		"component", "worker",
		"worker", "queue-watcher",
		"interval", w.interval.String(),
	)

	for change := range changes {
		if change.Key != queue.QueueKey {
			continue
		}
		n := w.pending.Length(ctx)
		slog.Debug("queue changed externally",
			"component", "worker",
			"action", "length_refresh",
			"length", n,
			"deleted", change.Deleted,
		)
	}

	slog.Info("worker stopped",
		"component", "worker",
		"worker", "queue-watcher",
		"reason", "context_cancelled",
	)
}
