// Package sharedstate implements the reference-counted custodians of
// machine-wide attributes: CPU governor/EPB, GPU power mode, compositor,
// and mouse visibility. Each Manager tracks the set of session ids
// requiring the altered state and restores the captured original the
// instant that set drains to empty.
package sharedstate

import "sync"

// Manager is the common reference-counting core shared by every
// concrete shared-state custodian. T is whatever a given attribute
// needs to remember in order to restore it: a per-CPU governor map, a
// per-adapter GPU mode map, a list of stopped PIDs, or nothing at all.
//
// Capture, Apply, and Restore are supplied by the concrete manager; this
// type only owns the reference set and the mutex serializing the
// empty<->non-empty transitions.
type Manager[T any] struct {
	mu       sync.Mutex
	sessions map[string]struct{}
	captured T

	// Capture reads and returns the current state, called exactly once
	// per empty->non-empty transition.
	Capture func() (T, error)
	// Apply writes the desired (optimized) state, called immediately
	// after Capture on the same transition.
	Apply func() error
	// Restore writes back a previously captured state, called exactly
	// once per non-empty->empty transition.
	Restore func(T) error
}

// NewManager builds a Manager with the given hooks.
func NewManager[T any](capture func() (T, error), apply func() error, restore func(T) error) *Manager[T] {
	return &Manager[T]{
		sessions: make(map[string]struct{}),
		Capture:  capture,
		Apply:    apply,
		Restore:  restore,
	}
}

// Acquire registers sessionID as requiring the altered state. On the
// first acquire across an empty reference set it captures the current
// state and applies the desired one. Idempotent: acquiring the same
// sessionID again is a no-op beyond the idempotent set insertion.
func (m *Manager[T]) Acquire(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, already := m.sessions[sessionID]; already {
		return nil
	}

	if len(m.sessions) == 0 {
		captured, err := m.Capture()
		if err != nil {
			return err
		}

		m.captured = captured

		if err := m.Apply(); err != nil {
			return err
		}
	}

	m.sessions[sessionID] = struct{}{}

	return nil
}

// Release drops sessionID's reference. On the last release across a
// non-empty reference set it restores the captured original.
func (m *Manager[T]) Release(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.sessions[sessionID]; !held {
		return nil
	}

	delete(m.sessions, sessionID)

	if len(m.sessions) == 0 {
		return m.Restore(m.captured)
	}

	return nil
}

// Active reports whether any session currently holds this manager's
// token, for diagnostics and tests.
func (m *Manager[T]) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions) > 0
}
