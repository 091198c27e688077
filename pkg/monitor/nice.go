// Package monitor implements the continuous monitors that re-assert a
// per-process attribute the target may overwrite: currently nice watch.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/guapow/opt/pkg/sysutil/proc"
)

// NiceWatch periodically re-asserts a nice value on a growing set of
// tracked PIDs for as long as ctx stays alive. Every tick, for each
// tracked PID with a configured nice, it reads the current nice and
// reapplies only if it differs, so external drift is corrected within
// one interval.
type NiceWatch struct {
	interval time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	nice map[int]int // pid -> desired nice

	// getNice/setNice are vars so tests can fake priority reads/writes
	// without real PIDs; production code always uses pkg/sysutil/proc.
	getNice func(pid int) (int, error)
	setNice func(pid, nice int) error
}

// NewNiceWatch builds a NiceWatch ticking every interval. A non-positive
// interval falls back to one second rather than arming a zero ticker.
func NewNiceWatch(interval time.Duration, logger *slog.Logger) *NiceWatch {
	if interval <= 0 {
		interval = time.Second
	}

	return &NiceWatch{
		interval: interval,
		logger:   logger,
		nice:     make(map[int]int),
		getNice:  proc.Nice,
		setNice:  proc.SetNice,
	}
}

// Track adds pid to the watched set with its desired nice value. Safe to
// call concurrently with Run, so newly discovered children can be added
// as the Process Watcher finds them.
func (n *NiceWatch) Track(pid, nice int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nice[pid] = nice
}

// Untrack removes pid from the watched set, e.g. once it has exited.
func (n *NiceWatch) Untrack(pid int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.nice, pid)
}

// Run blocks, re-asserting nice on every tracked PID every interval,
// until ctx is cancelled (the Session ending). It never returns an error:
// per-PID read/reapply failures are logged and the loop continues.
func (n *NiceWatch) Run(ctx context.Context) {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.tick()
		}
	}
}

func (n *NiceWatch) tick() {
	n.mu.Lock()
	snapshot := make(map[int]int, len(n.nice))

	for pid, nice := range n.nice {
		snapshot[pid] = nice
	}
	n.mu.Unlock()

	for pid, want := range snapshot {
		got, err := n.getNice(pid)
		if err != nil {
			// Process likely exited between discovery and this tick; drop
			// it so future ticks don't keep failing on it.
			n.Untrack(pid)

			continue
		}

		if got == want {
			continue
		}

		if err := n.setNice(pid, want); err != nil && n.logger != nil {
			n.logger.Warn("nice watch failed to reapply nice", "pid", pid, "want", want, "err", err)
		}
	}
}
