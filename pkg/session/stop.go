package session

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/guapow/opt/internal/osexec"
	"github.com/guapow/opt/pkg/sharedstate"
	"golang.org/x/sys/unix"
)

// stopRegistry lazily builds one ref-counted manager per stop.after
// target name. Reusing sharedstate.Manager's reference counting gets
// "relaunch only once no other live Session still demands the target
// stopped" for free: the name stays stopped for as long as any
// Session's id is in that manager's set.
//
// stop.before is a client-side concern handled by the runner CLI before
// the target starts, and is never acted on here.
type stopRegistry struct {
	mu       sync.Mutex
	managers map[string]*sharedstate.Manager[[]int]
}

func newStopRegistry() *stopRegistry {
	return &stopRegistry{managers: make(map[string]*sharedstate.Manager[[]int])}
}

func (r *stopRegistry) manager(name string, relaunch bool) *sharedstate.Manager[[]int] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.managers[name]; ok {
		return m
	}

	m := newStopManager(name, relaunch)
	r.managers[name] = m

	return m
}

// newStopManager builds the manager backing one stop.after target name:
// on first acquire it SIGSTOPs every matching process; on last release it
// SIGCONTs them again only if relaunch was requested, otherwise leaves
// them stopped. This mirrors the compton/picom compositor controller's
// SIGSTOP/respawn pattern rather than inventing a new mechanism.
func newStopManager(name string, relaunch bool) *sharedstate.Manager[[]int] {
	var pids []int

	capture := func() ([]int, error) {
		found, err := pgrep(name)
		if err != nil {
			return nil, err
		}

		pids = found

		return found, nil
	}

	apply := func() error {
		for _, pid := range pids {
			if err := unix.Kill(pid, unix.SIGSTOP); err != nil {
				return fmt.Errorf("sigstop %s pid %d: %w", name, pid, err)
			}
		}

		return nil
	}

	restore := func(original []int) error {
		if !relaunch {
			return nil
		}

		for _, pid := range original {
			if err := unix.Kill(pid, unix.SIGCONT); err != nil {
				return fmt.Errorf("sigcont %s pid %d: %w", name, pid, err)
			}
		}

		return nil
	}

	return sharedstate.NewManager(capture, apply, restore)
}

// pgrep finds every live PID whose comm exactly matches name. pgrep exits
// 1 with no output when nothing matches, which is not an error here.
func pgrep(name string) ([]int, error) {
	out, err := osexec.Execute("pgrep", []string{"-x", name}, nil)
	if err != nil {
		return nil, nil //nolint:nilerr
	}

	var pids []int

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		n, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
		if err == nil {
			pids = append(pids, n)
		}
	}

	return pids, nil
}
