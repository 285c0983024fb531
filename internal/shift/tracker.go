// Package shift produces shift lifecycle operations. A shift started offline
// gets a local identifier that later operations reference until the sync
// engine resolves it to the server's.
package shift

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/shiftq/internal/queue"
)

// ActiveKey holds the shift currently in progress on this device.
const ActiveKey = "activeShift"

// LocalIDPrefix starts every locally generated shift identifier.
const LocalIDPrefix = "sh_"

var (
	ErrShiftActive   = errors.New("a shift is already in progress")
	ErrNoActiveShift = errors.New("no shift in progress")
)

// Appender is the part of the queue the tracker writes to. A shift is only
// recorded as active once its start is queued, so failures must be reported.
type Appender interface {
	Add(ctx context.Context, op queue.Operation) error
}

// Store persists the active shift.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Shift is a shift in progress.
type Shift struct {
	LocalID   string    `json:"localId"`
	StartedAt time.Time `json:"startedAt"`
}

// Tracker starts and ends shifts, queueing the matching operations.
type Tracker struct {
	queue Appender
	store Store
	now   func() time.Time

	mu sync.Mutex
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker returns a Tracker appending to q and keeping the active shift in s.
func NewTracker(q Appender, s Store, opts ...Option) *Tracker {
	t := &Tracker{queue: q, store: s, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewLocalID returns a shift identifier whose ULID carries the creation time.
func NewLocalID(at time.Time) string {
	return LocalIDPrefix + ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()
}

// LocalIDTime extracts the creation time from an identifier made by NewLocalID.
func LocalIDTime(localID string) (time.Time, error) {
	rest, ok := strings.CutPrefix(localID, LocalIDPrefix)
	if !ok {
		return time.Time{}, fmt.Errorf("local id %q: missing %q prefix", localID, LocalIDPrefix)
	}
	id, err := ulid.ParseStrict(rest)
	if err != nil {
		return time.Time{}, fmt.Errorf("local id %q: %w", localID, err)
	}
	return ulid.Time(id.Time()), nil
}

// Start begins a shift and queues its creation.
func (t *Tracker) Start(ctx context.Context) (Shift, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok, err := t.load(ctx); err != nil {
		return Shift{}, err
	} else if ok {
		return Shift{}, ErrShiftActive
	}

	now := t.now()
	s := Shift{LocalID: NewLocalID(now), StartedAt: now.UTC().Truncate(time.Millisecond)}
	op, err := queue.New(queue.ShiftStart{StartedAt: now.UnixMilli(), LocalID: s.LocalID})
	if err != nil {
		return Shift{}, err
	}

	b, err := json.Marshal(s)
	if err != nil {
		return Shift{}, fmt.Errorf("encode active shift: %w", err)
	}
	if err := t.store.Set(ctx, ActiveKey, string(b)); err != nil {
		return Shift{}, fmt.Errorf("save active shift: %w", err)
	}
	if err := t.queue.Add(ctx, op); err != nil {
		if derr := t.store.Delete(ctx, ActiveKey); derr != nil {
			slog.Error("active shift left without a queued start",
				"component", "shift",
				"action", "start_rollback_failed",
				"local_id", s.LocalID,
				"error", derr,
			)
		}
		return Shift{}, fmt.Errorf("queue shift start: %w", err)
	}
	return s, nil
}

// End closes the active shift and queues the update. It returns the closed
// shift and its end time.
func (t *Tracker) End(ctx context.Context) (Shift, time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok, err := t.load(ctx)
	if err != nil {
		return Shift{}, time.Time{}, err
	}
	if !ok {
		return Shift{}, time.Time{}, ErrNoActiveShift
	}

	ended := t.now()
	op, err := queue.New(queue.ShiftEnd{
		StartedAt: s.StartedAt.UnixMilli(),
		EndedAt:   ended.UnixMilli(),
		LocalID:   s.LocalID,
	})
	if err != nil {
		return Shift{}, time.Time{}, err
	}

	// Queued first: a failure leaves the shift active so End can be retried.
	if err := t.queue.Add(ctx, op); err != nil {
		return Shift{}, time.Time{}, fmt.Errorf("queue shift end: %w", err)
	}
	if err := t.store.Delete(ctx, ActiveKey); err != nil {
		return Shift{}, time.Time{}, fmt.Errorf("clear active shift: %w", err)
	}
	return s, ended.UTC().Truncate(time.Millisecond), nil
}

// Active returns the shift in progress, if any.
func (t *Tracker) Active(ctx context.Context) (Shift, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load(ctx)
}

func (t *Tracker) load(ctx context.Context) (Shift, bool, error) {
	v, found, err := t.store.Get(ctx, ActiveKey)
	if err != nil {
		return Shift{}, false, fmt.Errorf("load active shift: %w", err)
	}
	if !found || v == "" {
		return Shift{}, false, nil
	}
	var s Shift
	if err := json.Unmarshal([]byte(v), &s); err != nil {
		return Shift{}, false, fmt.Errorf("decode active shift: %w", err)
	}
	return s, true, nil
}
