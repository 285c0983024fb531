// Package queue is the durable offline mutation queue: an ordered list of
// pending operations plus the map from locally generated identifiers to
// server-assigned ones.
//
// Storage failures never reach callers of the public methods. Internally
// every read returns ErrUnavailable or ErrCorrupt so the distinction between
// "empty" and "broken" stays testable; the public boundary collapses both to
// an empty queue and logs.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Storage keys. Clear also removes any keys given to WithClearKeys; no others
// are touched.
const (
	QueueKey      = "offlineQueue"
	ResolutionKey = "shiftIdMap"
)

// KV is the key-value store the queue persists into.
type KV interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Update(ctx context.Context, key string, fn func(current string, found bool) (string, error)) error
	Delete(ctx context.Context, keys ...string) error
}

// Store is the Mutation Queue Store. Create one per KV and share it between
// producers and the sync engine.
type Store struct {
	kv        KV
	clearKeys []string
	length    atomic.Int64

	mu           sync.Mutex
	observers    map[int]func(int)
	nextObserver int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClearKeys makes Clear remove keys together with the queue and the
// identifier map. Use it for state that names local identifiers, which
// become meaningless once their creating operations are gone.
func WithClearKeys(keys ...string) StoreOption {
	return func(s *Store) {
		s.clearKeys = append(s.clearKeys, keys...)
	}
}

// NewStore returns a Store over kv.
func NewStore(kv KV, opts ...StoreOption) *Store {
	s := &Store{
		kv:        kv,
		observers: make(map[int]func(int)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append adds op to the end of the queue and persists it before returning.
// If storage is unavailable or corrupt the operation is dropped and logged.
func (s *Store) Append(ctx context.Context, op Operation) {
	if err := s.appendOp(ctx, op); err != nil {
		slog.Warn("offline operation dropped",
			"component", "queue",
			"action", "append_dropped",
			"kind", op.Kind,
			"error", err,
		)
	}
}

// Add is Append for producers that must know whether the operation was kept.
// It returns ErrUnavailable or ErrCorrupt instead of dropping silently.
func (s *Store) Add(ctx context.Context, op Operation) error {
	return s.appendOp(ctx, op)
}

func (s *Store) appendOp(ctx context.Context, op Operation) error {
	var n int
	err := s.kv.Update(ctx, QueueKey, func(current string, found bool) (string, error) {
		ops, err := decodeQueue(current, found)
		if err != nil {
			return "", err
		}
		ops = append(ops, op)
		n = len(ops)
		return encodeQueue(ops)
	})
	if err != nil {
		return storageErr(err)
	}

	s.publish(n)
	return nil
}

// Length re-reads the queue from storage and returns the number of pending
// operations. Unreadable storage counts as empty.
func (s *Store) Length(ctx context.Context) int {
	ops, err := s.load(ctx)
	if err != nil {
		logReadFailure("length", err)
	}
	s.publish(len(ops))
	return len(ops)
}

// Cached returns the last observed queue length without touching storage.
func (s *Store) Cached() int {
	return int(s.length.Load())
}

// Subscribe registers fn to be called with the new length whenever this
// Store observes one. The returned function removes the subscription.
func (s *Store) Subscribe(fn func(length int)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextObserver
	s.nextObserver++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// Snapshot returns the queued operations in order. Unreadable storage
// yields an empty slice.
func (s *Store) Snapshot(ctx context.Context) []Operation {
	ops, err := s.load(ctx)
	if err != nil {
		logReadFailure("snapshot", err)
		return nil
	}
	return ops
}

// Resolutions returns a copy of the local→server identifier map.
// Unreadable storage yields an empty map.
func (s *Store) Resolutions(ctx context.Context) map[string]string {
	m, err := s.loadResolutions(ctx)
	if err != nil {
		logReadFailure("resolutions", err)
		return map[string]string{}
	}
	return m
}

// Resolve durably records that localID is known to the server as serverID.
func (s *Store) Resolve(ctx context.Context, localID, serverID string) error {
	err := s.kv.Update(ctx, ResolutionKey, func(current string, found bool) (string, error) {
		m, err := decodeResolutions(current, found)
		if err != nil {
			// An unreadable map resolves nothing; start over rather than
			// block every future creator.
			logReadFailure("resolve", err)
			m = map[string]string{}
		}
		m[localID] = serverID
		b, err := json.Marshal(m)
		if err != nil {
			return "", fmt.Errorf("encode resolutions: %w", err)
		}
		return string(b), nil
	})
	if err != nil {
		return storageErr(err)
	}
	return nil
}

// Commit replaces the flushed snapshot with remaining. Operations appended
// since snapshot was taken (present in storage now but not in snapshot) are
// kept after remaining, in their stored order.
func (s *Store) Commit(ctx context.Context, snapshot, remaining []Operation) error {
	var n int
	err := s.kv.Update(ctx, QueueKey, func(current string, found bool) (string, error) {
		ops, err := decodeQueue(current, found)
		if err != nil {
			logReadFailure("commit", err)
			ops = nil
		}
		merged := mergeRemainder(ops, snapshot, remaining)
		n = len(merged)
		return encodeQueue(merged)
	})
	if err != nil {
		return storageErr(err)
	}

	s.publish(n)
	return nil
}

// Clear removes every queued operation, the identifier map and any
// WithClearKeys keys together.
// It returns the removed operations. If storage could not be read the
// removed list is empty; if it could not be written the error is returned
// and nothing was removed.
func (s *Store) Clear(ctx context.Context) ([]Operation, error) {
	ops, err := s.load(ctx)
	if err != nil {
		logReadFailure("clear", err)
		ops = nil
	}

	keys := append([]string{QueueKey, ResolutionKey}, s.clearKeys...)
	if err := s.kv.Delete(ctx, keys...); err != nil {
		return nil, storageErr(err)
	}

	s.publish(0)
	return ops, nil
}

func (s *Store) load(ctx context.Context) ([]Operation, error) {
	v, found, err := s.kv.Get(ctx, QueueKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return decodeQueue(v, found)
}

func (s *Store) loadResolutions(ctx context.Context) (map[string]string, error) {
	v, found, err := s.kv.Get(ctx, ResolutionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return decodeResolutions(v, found)
}

func (s *Store) publish(n int) {
	s.length.Store(int64(n))

	s.mu.Lock()
	fns := make([]func(int), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(n)
	}
}

func decodeQueue(v string, found bool) ([]Operation, error) {
	if !found || v == "" {
		return nil, nil
	}
	var ops []Operation
	if err := json.Unmarshal([]byte(v), &ops); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, QueueKey, err)
	}
	return ops, nil
}

func encodeQueue(ops []Operation) (string, error) {
	if ops == nil {
		ops = []Operation{}
	}
	b, err := json.Marshal(ops)
	if err != nil {
		return "", fmt.Errorf("encode queue: %w", err)
	}
	return string(b), nil
}

func decodeResolutions(v string, found bool) (map[string]string, error) {
	m := map[string]string{}
	if !found || v == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(v), &m); err != nil {
		return map[string]string{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, ResolutionKey, err)
	}
	if m == nil {
		m = map[string]string{}
	}
	return m, nil
}

// storageErr tags errors from the KV as ErrUnavailable unless they already
// carry a queue sentinel.
func storageErr(err error) error {
	if errors.Is(err, ErrCorrupt) || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func logReadFailure(op string, err error) {
	slog.Warn("offline queue unreadable, treating as empty",
		"component", "queue",
		"action", op,
		"error", err,
	)
}
