package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperengineering/shiftq/internal/replay"
)

// Flusher runs a replay pass.
type Flusher interface {
	Flush(ctx context.Context) replay.Result
}

// HealthChecker reports whether the backend is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Pending reports how many operations are queued.
type Pending interface {
	Length(ctx context.Context) int
}

// ReconnectWorker polls backend health and flushes the queue when the
// backend comes back, and periodically while it stays reachable and
// operations are pending.
type ReconnectWorker struct {
	health         HealthChecker
	flusher        Flusher
	pending        Pending
	healthInterval time.Duration
	syncInterval   time.Duration
	checkTimeout   time.Duration
	onFlush        func(context.Context, replay.Result)

	online atomic.Bool

	mu        sync.Mutex
	lastFlush time.Time
}

// ReconnectOption configures a ReconnectWorker.
type ReconnectOption func(*ReconnectWorker)

// WithFlushCallback is called after every flush the worker starts.
func WithFlushCallback(fn func(context.Context, replay.Result)) ReconnectOption {
	return func(w *ReconnectWorker) {
		w.onFlush = fn
	}
}

// WithCheckTimeout bounds each health check.
func WithCheckTimeout(d time.Duration) ReconnectOption {
	return func(w *ReconnectWorker) {
		if d > 0 {
			w.checkTimeout = d
		}
	}
}

// NewReconnectWorker creates a worker checking health every healthInterval
// and flushing pending operations at most every syncInterval while online.
func NewReconnectWorker(health HealthChecker, flusher Flusher, pending Pending, healthInterval, syncInterval time.Duration, opts ...ReconnectOption) *ReconnectWorker {
	w := &ReconnectWorker{
		health:         health,
		flusher:        flusher,
		pending:        pending,
		healthInterval: healthInterval,
		syncInterval:   syncInterval,
		checkTimeout:   10 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Online reports the result of the most recent health check.
func (w *ReconnectWorker) Online() bool {
	return w.online.Load()
}

// Run starts the worker loop. Checks immediately on start, then on each
// interval. The backend is assumed unreachable until the first check passes,
// so a healthy start flushes whatever was queued while the process was down.
func (w *ReconnectWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "reconnect-flush",
		"health_interval", w.healthInterval.String(),
		"sync_interval", w.syncInterval.String(),
	)

	ticker := time.NewTicker(w.healthInterval)
	defer ticker.Stop()

	w.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "reconnect-flush",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *ReconnectWorker) tick(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, w.checkTimeout)
	err := w.health.Health(checkCtx)
	cancel()
	if ctx.Err() != nil {
		return
	}

	online := err == nil
	was := w.online.Swap(online)
	if !online {
		if was {
			slog.Warn("backend unreachable, queueing offline",
				"component", "worker",
				"action", "went_offline",
				"error", err,
			)
		}
		return
	}

	reconnected := !was
	if reconnected {
		slog.Info("backend reachable",
			"component", "worker",
			"action", "came_online",
		)
	}
	if !reconnected && !w.syncDue() {
		return
	}
	if w.pending.Length(ctx) == 0 {
		return
	}
	w.flush(ctx)
}

func (w *ReconnectWorker) syncDue() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return time.Since(w.lastFlush) >= w.syncInterval
}

func (w *ReconnectWorker) flush(ctx context.Context) {
	res := w.flusher.Flush(ctx)

	w.mu.Lock()
	w.lastFlush = time.Now()
	w.mu.Unlock()

	if w.onFlush != nil {
		w.onFlush(ctx, res)
	}
}
