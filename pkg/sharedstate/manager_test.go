package sharedstate

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireCapturesOnceAcrossConcurrentSessions(t *testing.T) {
	var captures, applies, restores int

	m := NewManager(
		func() (string, error) { captures++; return "original", nil },
		func() error { applies++; return nil },
		func(string) error { restores++; return nil },
	)

	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()

			require.NoError(t, m.Acquire(sessionID(id)))
		}(i)
	}

	wg.Wait()

	assert.Equal(t, 1, captures, "capture must happen exactly once per empty->non-empty transition")
	assert.Equal(t, 1, applies)
	assert.True(t, m.Active())

	for i := 0; i < 4; i++ {
		require.NoError(t, m.Release(sessionID(i)))
		assert.Equal(t, 0, restores, "restore must not fire before the reference set is empty")
	}

	require.NoError(t, m.Release(sessionID(4)))
	assert.Equal(t, 1, restores, "restore fires exactly once on the last release")
	assert.False(t, m.Active())
}

func TestAcquireIsIdempotentPerSession(t *testing.T) {
	var applies int

	m := NewManager(
		func() (struct{}, error) { return struct{}{}, nil },
		func() error { applies++; return nil },
		func(struct{}) error { return nil },
	)

	require.NoError(t, m.Acquire("s1"))
	require.NoError(t, m.Acquire("s1"))
	require.NoError(t, m.Acquire("s1"))

	assert.Equal(t, 1, applies)
}

func TestReacquireAfterFullDrainCapturesAgain(t *testing.T) {
	var captures int

	m := NewManager(
		func() (struct{}, error) { captures++; return struct{}{}, nil },
		func() error { return nil },
		func(struct{}) error { return nil },
	)

	require.NoError(t, m.Acquire("s1"))
	require.NoError(t, m.Release("s1"))
	require.NoError(t, m.Acquire("s2"))

	assert.Equal(t, 2, captures, "a later acquirer after a full drain re-captures originals")
}

func TestReleaseUnknownSessionIsNoop(t *testing.T) {
	var restores int

	m := NewManager(
		func() (struct{}, error) { return struct{}{}, nil },
		func() error { return nil },
		func(struct{}) error { restores++; return nil },
	)

	require.NoError(t, m.Release("never-acquired"))
	assert.Equal(t, 0, restores)
}

func TestApplyErrorPropagatesFromAcquire(t *testing.T) {
	m := NewManager(
		func() (struct{}, error) { return struct{}{}, nil },
		func() error { return errors.New("boom") },
		func(struct{}) error { return nil },
	)

	err := m.Acquire("s1")
	require.Error(t, err)
	assert.False(t, m.Active(), "a failed apply does not leave the session registered")
}

func sessionID(i int) string {
	return string(rune('a' + i))
}
