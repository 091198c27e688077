package scripts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/guapow/opt/pkg/profile"
	"github.com/stretchr/testify/assert"
)

func TestRunSerializedWaitsInOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)

	r := NewRunner(false, nil, nil)
	r.run = func(_ context.Context, cmd string) ([]byte, error) {
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		order = append(order, cmd)
		mu.Unlock()

		return nil, nil
	}

	r.Run(context.Background(), profile.PhaseAfter, profile.ScriptPhase{
		Commands: []string{"/bin/a", "/bin/b"},
		Wait:     true,
	})

	assert.Equal(t, []string{"/bin/a", "/bin/b"}, order)
}

func TestRunSerializedTimeoutUnblocksWithoutKilling(t *testing.T) {
	var (
		mu      sync.Mutex
		started []string
	)

	r := NewRunner(false, nil, nil)
	r.run = func(_ context.Context, cmd string) ([]byte, error) {
		mu.Lock()
		started = append(started, cmd)
		mu.Unlock()

		if cmd == "/bin/a" {
			time.Sleep(200 * time.Millisecond) // longer than the timeout below
		}

		return nil, nil
	}

	timeout := 20 * time.Millisecond

	start := time.Now()
	r.Run(context.Background(), profile.PhaseAfter, profile.ScriptPhase{
		Commands: []string{"/bin/a", "/bin/b"},
		Wait:     true,
		Timeout:  &timeout,
	})
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 150*time.Millisecond, "/bin/b should start no later than the timeout, not wait for /bin/a")
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, started, "/bin/b")
}

func TestRunDetachedIgnoresWaitFalseEvenWithTimeout(t *testing.T) {
	done := make(chan struct{}, 2)

	r := NewRunner(false, nil, nil)
	r.run = func(context.Context, string) ([]byte, error) {
		done <- struct{}{}
		return nil, nil
	}

	timeout := time.Hour

	start := time.Now()
	r.Run(context.Background(), profile.PhaseAfter, profile.ScriptPhase{
		Commands: []string{"/bin/a", "/bin/b"},
		Wait:     false,
		Timeout:  &timeout, // must be ignored when wait=false
	})
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 50*time.Millisecond)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("detached command never ran")
		}
	}
}

func TestRunSerializedZeroTimeoutSkipsWaiting(t *testing.T) {
	done := make(chan struct{}, 2)

	r := NewRunner(false, nil, nil)
	r.run = func(context.Context, string) ([]byte, error) {
		time.Sleep(100 * time.Millisecond)
		done <- struct{}{}

		return nil, nil
	}

	var zero time.Duration

	start := time.Now()
	r.Run(context.Background(), profile.PhaseAfter, profile.ScriptPhase{
		Commands: []string{"/bin/a", "/bin/b"},
		Wait:     true,
		Timeout:  &zero,
	})
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 50*time.Millisecond, "an explicit zero timeout must not wait on any script")

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("script never ran")
		}
	}
}

func TestRunRootDowngradesWhenNotAllowed(t *testing.T) {
	var usedRoot bool

	r := NewRunner(false, func(context.Context, string) ([]byte, error) {
		usedRoot = true
		return nil, nil
	}, nil)

	r.Run(context.Background(), profile.PhaseAfter, profile.ScriptPhase{
		Commands: []string{"/bin/a"},
		Wait:     true,
		Root:     true,
	})

	assert.False(t, usedRoot, "scripts.allow_root=false must downgrade a root-flagged script to unprivileged execution")
}

func TestRunRootNeverHonoredForBeforePhase(t *testing.T) {
	var usedRoot bool

	r := NewRunner(true, func(context.Context, string) ([]byte, error) {
		usedRoot = true
		return nil, nil
	}, nil)

	r.Run(context.Background(), profile.PhaseBefore, profile.ScriptPhase{
		Commands: []string{"/bin/a"},
		Wait:     true,
		Root:     true,
	})

	assert.False(t, usedRoot, "scripts.before.root is a Runner-side-only concern, never honored by the optimizer")
}
