// Package testutil holds test doubles shared across package tests.
package testutil

import (
	"context"
	"errors"
	"sync"
)

// ErrInjected is the default error returned by failing MemoryKV methods.
var ErrInjected = errors.New("injected storage failure")

// MemoryKV is an in-memory queue.KV with failure injection.
//
// Thread-safety: all methods are safe for concurrent use; Update holds the
// lock across the callback, like a write transaction.
type MemoryKV struct {
	mu     sync.Mutex
	values map[string]string

	// Set any of these to make the matching method fail.
	GetErr    error
	SetErr    error
	UpdateErr error
	DeleteErr error

	// UpdateKeyErr fails Update for specific keys only.
	UpdateKeyErr map[string]error

	// BeforeUpdate, if set, runs before each Update reads the current value,
	// outside the lock. Tests use it to interleave writers.
	BeforeUpdate func(key string)

	Updates int
}

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string]string)}
}

// Get implements queue.KV.
func (m *MemoryKV) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return "", false, m.GetErr
	}
	v, ok := m.values[key]
	return v, ok, nil
}

// Set implements queue.KV.
func (m *MemoryKV) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	m.values[key] = value
	return nil
}

// Update implements queue.KV.
func (m *MemoryKV) Update(ctx context.Context, key string, fn func(string, bool) (string, error)) error {
	m.mu.Lock()
	hook := m.BeforeUpdate
	m.mu.Unlock()
	if hook != nil {
		hook(key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	if err := m.UpdateKeyErr[key]; err != nil {
		return err
	}
	cur, ok := m.values[key]
	next, err := fn(cur, ok)
	if err != nil {
		return err
	}
	m.values[key] = next
	m.Updates++
	return nil
}

// Delete implements queue.KV.
func (m *MemoryKV) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

// Raw returns the stored value for key, bypassing failure injection.
func (m *MemoryKV) Raw(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

// Put stores a value directly, bypassing failure injection.
func (m *MemoryKV) Put(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

// Fail makes every method return err until Fail(nil) is called.
func (m *MemoryKV) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetErr, m.SetErr, m.UpdateErr, m.DeleteErr = err, err, err, err
}
