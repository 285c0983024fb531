// Package offline wires the offline queue, replay engine, shift tracker and
// background workers into one embeddable client.
package offline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperengineering/shiftq/internal/archive"
	"github.com/hyperengineering/shiftq/internal/backend"
	"github.com/hyperengineering/shiftq/internal/config"
	"github.com/hyperengineering/shiftq/internal/kvstore"
	"github.com/hyperengineering/shiftq/internal/notice"
	"github.com/hyperengineering/shiftq/internal/queue"
	"github.com/hyperengineering/shiftq/internal/replay"
	"github.com/hyperengineering/shiftq/internal/shift"
	"github.com/hyperengineering/shiftq/internal/validation"
	"github.com/hyperengineering/shiftq/internal/worker"
)

// ErrClosed is returned by producers after Shutdown.
var ErrClosed = errors.New("offline client is closed")

// Client is the offline queue client.
type Client struct {
	cfg      *config.Config
	kv       *kvstore.SQLiteKV
	store    *queue.Store
	backend  backend.Client
	engine   *replay.Engine
	tracker  *shift.Tracker
	notifier notice.Notifier
	archiver replay.Archiver

	reconnect *worker.ReconnectWorker

	mu      sync.RWMutex
	closed  bool
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithBackend replaces the HTTP backend client built from config.
func WithBackend(c backend.Client) Option {
	return func(cl *Client) {
		cl.backend = c
	}
}

// WithNotifier sets where flush and clear summaries are shown.
// Defaults to notice.LogNotifier.
func WithNotifier(n notice.Notifier) Option {
	return func(cl *Client) {
		cl.notifier = n
	}
}

// WithArchiver replaces the archiver built from the archive config.
func WithArchiver(a replay.Archiver) Option {
	return func(cl *Client) {
		cl.archiver = a
	}
}

// New opens the local store at cfg.Database.Path and builds the client.
// Nothing runs in the background until Initialize.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Database.Path == "" {
		return nil, errors.New("database path is required")
	}

	c := &Client{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.notifier == nil {
		c.notifier = notice.LogNotifier{}
	}
	if c.backend == nil {
		c.backend = backend.NewHTTPClient(cfg.Backend.URL, cfg.Backend.APIKey)
	}
	if c.archiver == nil {
		a, err := archive.New(cfg.Archive)
		if err != nil {
			return nil, err
		}
		c.archiver = a
	}

	kv, err := kvstore.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	c.kv = kv
	// The active shift names a local id whose start a clear discards.
	c.store = queue.NewStore(kv, queue.WithClearKeys(shift.ActiveKey))
	c.engine = replay.NewEngine(c.store, c.backend,
		replay.WithCallTimeout(time.Duration(cfg.Backend.CallTimeout)),
		replay.WithArchiver(c.archiver),
	)
	c.tracker = shift.NewTracker(c.store, kv)
	c.reconnect = worker.NewReconnectWorker(c.backend, c.engine, c.store,
		orDefault(cfg.Sync.HealthInterval, 30*time.Second),
		orDefault(cfg.Sync.Interval, 5*time.Minute),
		worker.WithFlushCallback(c.afterBackgroundFlush),
	)

	// Prime the cached length for subscribers.
	c.store.Length(context.Background())
	return c, nil
}

// Initialize starts the background workers: the external-change watcher
// always, and the reconnect/periodic flusher when auto flush is on and a
// backend is configured.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	watcher := worker.NewQueueWatcher(c.kv, c.store, orDefault(c.cfg.Sync.WatchInterval, time.Second))
	c.goWorker(func() { watcher.Run(ctx) })

	if c.cfg.Sync.AutoFlush && c.online() {
		c.goWorker(func() { c.reconnect.Run(ctx) })
	} else {
		slog.Info("auto flush disabled",
			"component", "offline",
			"auto_flush", c.cfg.Sync.AutoFlush,
			"backend_configured", c.online(),
		)
	}
	return nil
}

func orDefault(d config.Duration, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return time.Duration(d)
}

func (c *Client) goWorker(run func()) {
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		run()
	}()
}

// online reports whether a backend is configured at all.
func (c *Client) online() bool {
	if _, ok := c.backend.(*backend.HTTPClient); ok {
		return c.cfg.Backend.URL != "" && !config.Offline()
	}
	return true
}

// Shutdown stops the workers and closes the local store. A client that was
// initialized with a backend configured makes one final flush attempt first.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	initialized := c.cancel != nil
	if initialized {
		c.cancel()
	}
	c.workers.Wait()

	if initialized && c.online() && c.store.Length(ctx) > 0 {
		res := c.engine.Flush(ctx)
		slog.Info("final flush",
			"component", "offline",
			"action", "shutdown_flush",
			"sent", res.Sent,
			"pending", res.Failed,
		)
	}

	return c.kv.Close()
}

func (c *Client) checkOpen() error {
	if c.closed {
		return ErrClosed
	}
	return nil
}

// Length re-reads the stored queue and returns its length.
func (c *Client) Length(ctx context.Context) int {
	return c.store.Length(ctx)
}

// Snapshot returns the queued operations in order.
func (c *Client) Snapshot(ctx context.Context) []queue.Operation {
	return c.store.Snapshot(ctx)
}

// Resolutions returns the persisted local-to-server identifier map.
func (c *Client) Resolutions(ctx context.Context) map[string]string {
	return c.store.Resolutions(ctx)
}

// Subscribe registers fn for every change to the queue length.
func (c *Client) Subscribe(fn func(length int)) (unsubscribe func()) {
	return c.store.Subscribe(fn)
}

// Online reports whether the last health check reached the backend.
func (c *Client) Online() bool {
	return c.reconnect.Online()
}

// Enqueue validates and queues an action. Incidents reported without a shift
// name the active shift, if there is one; the incident is sent whether or not
// that shift ever syncs.
func (c *Client) Enqueue(ctx context.Context, a queue.Action) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkOpen(); err != nil {
		return err
	}

	if inc, ok := a.(queue.Incident); ok && inc.ShiftLocalID == "" {
		if s, active, err := c.tracker.Active(ctx); err != nil {
			slog.Warn("active shift unknown; incident queued without shift",
				"component", "offline",
				"error", err,
			)
		} else if active {
			inc.ShiftLocalID = s.LocalID
			a = inc
		}
	}

	if err := validation.ValidateAction(a); err != nil {
		return err
	}
	op, err := queue.New(a)
	if err != nil {
		return err
	}
	c.store.Append(ctx, op)
	return nil
}

// ReportIncident queues an incident, stamping ReportedAt if unset.
func (c *Client) ReportIncident(ctx context.Context, inc queue.Incident) error {
	if inc.ReportedAt == 0 {
		inc.ReportedAt = time.Now().UnixMilli()
	}
	return c.Enqueue(ctx, inc)
}

// ScheduleEvent queues a scheduled event.
func (c *Client) ScheduleEvent(ctx context.Context, ev queue.ScheduledEvent) error {
	return c.Enqueue(ctx, ev)
}

// StartShift begins a shift and queues its creation.
func (c *Client) StartShift(ctx context.Context) (shift.Shift, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkOpen(); err != nil {
		return shift.Shift{}, err
	}
	return c.tracker.Start(ctx)
}

// EndShift closes the active shift and queues the update.
func (c *Client) EndShift(ctx context.Context) (shift.Shift, time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkOpen(); err != nil {
		return shift.Shift{}, time.Time{}, err
	}
	return c.tracker.End(ctx)
}

// ActiveShift returns the shift in progress, if any.
func (c *Client) ActiveShift(ctx context.Context) (shift.Shift, bool, error) {
	return c.tracker.Active(ctx)
}

// Flush replays the queue now and shows the summary.
func (c *Client) Flush(ctx context.Context) replay.Result {
	res := c.engine.Flush(ctx)
	c.notifier.Show(ctx, notice.FlushSummary(res))
	return res
}

// Clear discards the queue, records the audit event and shows the summary.
func (c *Client) Clear(ctx context.Context) replay.ClearResult {
	res := c.engine.Clear(ctx)
	c.notifier.Show(ctx, notice.ClearSummary(res))
	return res
}

// Background flushes only speak up when something was sent.
func (c *Client) afterBackgroundFlush(ctx context.Context, res replay.Result) {
	if res.Sent == 0 || res.Shared {
		return
	}
	c.notifier.Show(ctx, notice.FlushSummary(res))
}
