// Package applier implements the per-process attribute appliers: nice,
// I/O class/nice, scheduling policy/priority, and CPU affinity. Every
// applier is idempotent per (PID, attribute): reapplying the same value
// to the same PID, including to a newly discovered child, produces the
// same observable state as a single apply.
package applier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/guapow/opt/internal/osexec"
	"github.com/guapow/opt/pkg/profile"
	"github.com/guapow/opt/pkg/sysutil/proc"
)

// ErrInvalidPriority is returned when proc.policy.priority is outside
// 1..99 for a realtime policy (fifo/rr).
var ErrInvalidPriority = errors.New("scheduling priority must be 1..99 for fifo/rr policies")

// Nice waits delay (if positive, interruptibly via ctx) then sets pid's
// nice value via setpriority(2).
func Nice(ctx context.Context, pid, nice int, delay time.Duration) error {
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return proc.SetNice(pid, nice)
}

// ioClassNum is the ionice -c numeric class for each IOClass.
var ioClassNum = map[profile.IOClass]string{ //nolint:gochecknoglobals
	profile.IOClassRealtime:   "1",
	profile.IOClassBestEffort: "2",
	profile.IOClassIdle:       "3",
}

// IONice applies `ionice -c <class> -n <level> -p <pid>`. Realtime is
// rejected for non-root callers, logged as a warning rather than an
// error: the Session continues with the rest of its plan.
func IONice(pid int, class profile.IOClass, level int, isRoot bool, logger *slog.Logger) error {
	if class == profile.IOClassRealtime && !isRoot {
		if logger != nil {
			logger.Warn("rejecting realtime io class for non-root caller", "pid", pid)
		}

		return nil
	}

	classNum, ok := ioClassNum[class]
	if !ok {
		return fmt.Errorf("unrecognized io class %q", class)
	}

	args := []string{"-c", classNum, "-p", strconv.Itoa(pid)}
	if class != profile.IOClassIdle {
		args = append(args, "-n", strconv.Itoa(level))
	}

	if _, err := osexec.Execute("ionice", args, nil); err != nil {
		return fmt.Errorf("ionice pid %d: %w", pid, err)
	}

	return nil
}

// chrtFlag is the chrt policy flag for each Policy.
var chrtFlag = map[profile.Policy]string{ //nolint:gochecknoglobals
	profile.PolicyOther: "--other",
	profile.PolicyIdle:  "--idle",
	profile.PolicyBatch: "--batch",
	profile.PolicyFifo:  "--fifo",
	profile.PolicyRR:    "--rr",
}

// SchedPolicy applies `chrt --<policy> -p [priority] <pid>`. fifo/rr
// require priority in 1..99; every other policy requires 0 and ignores
// the requested priority, per the documented boundary behavior.
func SchedPolicy(pid int, policy profile.Policy, priority int) error {
	flag, ok := chrtFlag[policy]
	if !ok {
		return fmt.Errorf("unrecognized scheduling policy %q", policy)
	}

	if policy.RealtimePolicy() {
		if priority < 1 || priority > 99 {
			return ErrInvalidPriority
		}
	} else {
		priority = 0
	}

	args := []string{flag, "-p", strconv.Itoa(priority), strconv.Itoa(pid)}

	if _, err := osexec.Execute("chrt", args, nil); err != nil {
		return fmt.Errorf("chrt pid %d: %w", pid, err)
	}

	return nil
}

// Affinity applies `taskset -pc <list> <pid>` after filtering the
// requested CPU indices against the online set. An empty filtered
// result is a no-op, logged as a warning rather than an error.
func Affinity(pid int, requested []int, logger *slog.Logger) error {
	online, err := proc.OnlineCPUs()
	if err != nil {
		return fmt.Errorf("failed to read online cpus: %w", err)
	}

	filtered := proc.FilterOnline(requested, online)
	if len(filtered) == 0 {
		if logger != nil {
			logger.Warn("proc.affinity resolved to no online CPUs, skipping", "pid", pid, "requested", requested)
		}

		return nil
	}

	list := make([]string, len(filtered))
	for i, c := range filtered {
		list[i] = strconv.Itoa(c)
	}

	args := []string{"-pc", strings.Join(list, ","), strconv.Itoa(pid)}

	if _, err := osexec.Execute("taskset", args, nil); err != nil {
		return fmt.Errorf("taskset pid %d: %w", pid, err)
	}

	return nil
}
