// Package replay is the sync engine: it drains the offline queue against the
// backend in order, resolving local shift identifiers as their creators
// succeed, and owns the audited clear.
package replay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hyperengineering/shiftq/internal/backend"
	"github.com/hyperengineering/shiftq/internal/queue"
)

// DefaultCallTimeout bounds every remote call made by the engine.
const DefaultCallTimeout = 15 * time.Second

const flushKey = "flush"

// Archiver keeps a copy of operations discarded by Clear.
type Archiver interface {
	Archive(ctx context.Context, ops []queue.Operation) error
}

// Result summarises one flush pass.
//
// Failed is the number of operations left in the queue by the pass and is
// always Deferred + Rejected + Unknown.
type Result struct {
	Sent      int  `json:"sent"`
	Failed    int  `json:"failed"`
	Deferred  int  `json:"deferred"`
	Rejected  int  `json:"rejected"`
	Unknown   int  `json:"unknown"`
	Attempted int  `json:"attempted"`
	Shared    bool `json:"shared"`
}

// Total is the number of operations the pass started with.
func (r Result) Total() int {
	return r.Sent + r.Failed
}

// Engine replays queued operations. It is safe for concurrent use.
type Engine struct {
	store       *queue.Store
	client      backend.Client
	archiver    Archiver
	callTimeout time.Duration

	group singleflight.Group
	// mu serialises flush passes against Clear.
	mu sync.Mutex

	passMu  sync.Mutex
	current *pass
}

// Option configures an Engine.
type Option func(*Engine)

// WithCallTimeout sets the per-call timeout. Non-positive values keep the default.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// WithArchiver makes Clear upload discarded operations to a.
func WithArchiver(a Archiver) Option {
	return func(e *Engine) {
		e.archiver = a
	}
}

// NewEngine creates an Engine over store sending to client.
func NewEngine(store *queue.Store, client backend.Client, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		client:      client,
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Flush replays every queued operation once, in order, and writes back the
// ones that did not succeed. A call made while another pass is running in
// this process waits for that pass and returns its Result with Shared set.
// The pass stops early only when every caller waiting on it has had its
// context cancelled; one caller giving up does not cut short the others.
func (e *Engine) Flush(ctx context.Context) Result {
	joined := e.joinPass(ctx)
	leave := joined.join(ctx)
	defer leave()

	leader := false
	v, _, _ := e.group.Do(flushKey, func() (any, error) {
		leader = true
		run, leaveRun := e.startPass(ctx, joined)
		defer leaveRun()
		defer e.endPass(run)
		return e.flush(run.ctx), nil
	})

	res := v.(Result)
	res.Shared = !leader
	return res
}

// joinPass returns the pass a caller should wait on: the running one, or a
// new one the next leader will run.
func (e *Engine) joinPass(ctx context.Context) *pass {
	e.passMu.Lock()
	defer e.passMu.Unlock()
	if e.current == nil {
		e.current = newPass(ctx)
	}
	return e.current
}

// startPass picks the pass a new leader runs. The pass the leader joined may
// already have finished, in which case the leader joins a fresh one.
func (e *Engine) startPass(ctx context.Context, joined *pass) (*pass, func()) {
	e.passMu.Lock()
	run := e.current
	if run == nil {
		run = newPass(ctx)
		e.current = run
	}
	e.passMu.Unlock()

	if run == joined {
		return run, func() {}
	}
	return run, run.join(ctx)
}

func (e *Engine) endPass(run *pass) {
	e.passMu.Lock()
	if e.current == run {
		e.current = nil
	}
	e.passMu.Unlock()
	run.cancel()
}

func (e *Engine) flush(ctx context.Context) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	snapshot := e.store.Snapshot(ctx)
	if len(snapshot) == 0 {
		e.store.Length(ctx)
		return Result{}
	}
	resolutions := e.store.Resolutions(ctx)

	var res Result
	remaining := make([]queue.Operation, 0, len(snapshot))
	for i, op := range snapshot {
		if ctx.Err() != nil {
			// Not attempted; they stay for the next pass.
			rest := snapshot[i:]
			remaining = append(remaining, rest...)
			res.Deferred += len(rest)
			break
		}

		out := e.replay(ctx, op, resolutions)
		if out.attempted {
			res.Attempted++
		}
		switch out.status {
		case statusSent:
			res.Sent++
			continue
		case statusDeferred:
			res.Deferred++
		case statusUnknown:
			res.Unknown++
		default:
			res.Rejected++
		}
		remaining = append(remaining, op)
	}
	res.Failed = len(remaining)

	// Sent operations must leave the queue even if the caller gave up.
	if err := e.store.Commit(context.WithoutCancel(ctx), snapshot, remaining); err != nil {
		slog.Error("flush remainder not persisted, sent operations will be replayed again",
			"component", "replay",
			"action", "commit_failed",
			"sent", res.Sent,
			"error", err,
		)
	}

	slog.Info("flush complete",
		"component", "replay",
		"action", "flush",
		"sent", res.Sent,
		"failed", res.Failed,
		"deferred", res.Deferred,
		"rejected", res.Rejected,
		"unknown", res.Unknown,
		"attempted", res.Attempted,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res
}

// call runs fn under the per-call timeout.
func (e *Engine) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return fn(ctx)
}
