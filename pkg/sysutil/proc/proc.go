// Package proc wraps procfs scanning, the priority syscalls, and the
// online-CPU list for a single target process, the thin system adapter
// every per-process applier and the process watcher builds on.
package proc

import (
	"fmt"

	"github.com/guapow/opt/internal/common"
	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// FS wraps a procfs.FS handle so callers don't each mount /proc.
type FS struct {
	fs procfs.FS
}

// Open mounts procfs at the default /proc location.
func Open() (*FS, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs: %w", err)
	}

	return &FS{fs: fs}, nil
}

// Exists reports whether pid is a live process.
func (f *FS) Exists(pid int) bool {
	_, err := f.fs.Proc(pid)
	return err == nil
}

// Comm returns the process's short command name (as in /proc/pid/comm).
func (f *FS) Comm(pid int) (string, error) {
	p, err := f.fs.Proc(pid)
	if err != nil {
		return "", fmt.Errorf("proc %d: %w", pid, err)
	}

	return p.Comm()
}

// CommandLine returns the process's full argv, joined with spaces, used
// against `c%`/leading-`/` launcher patterns.
func (f *FS) CommandLine(pid int) (string, error) {
	p, err := f.fs.Proc(pid)
	if err != nil {
		return "", fmt.Errorf("proc %d: %w", pid, err)
	}

	argv, err := p.CmdLine()
	if err != nil {
		return "", fmt.Errorf("proc %d cmdline: %w", pid, err)
	}

	out := ""

	for i, a := range argv {
		if i > 0 {
			out += " "
		}

		out += a
	}

	return out, nil
}

// Children returns the direct child PIDs of pid, found by scanning every
// process's PPid field, an O(n) procfs scan per call. The process watcher
// does not use it; it walks one Snapshot per poll tick instead.
func (f *FS) Children(pid int) ([]int, error) {
	procs, err := f.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("failed to list procs: %w", err)
	}

	var children []int

	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil {
			continue // process exited mid-scan
		}

		if stat.PPID == pid {
			children = append(children, p.PID)
		}
	}

	return children, nil
}

// Snapshot is a single point-in-time procfs scan: every live process's
// parent and comm, captured with one AllProcs() call. The process watcher
// takes one Snapshot per poll tick instead of re-scanning /proc once per
// tree level.
type Snapshot struct {
	parent map[int]int
	comm   map[int]string
}

// NewSnapshot builds a Snapshot directly from parent/comm maps, for tests
// that exercise descendant-tree logic without a real or fixture procfs
// tree.
func NewSnapshot(parent map[int]int, comm map[int]string) *Snapshot {
	return &Snapshot{parent: parent, comm: comm}
}

// Snapshot scans every process once, recording its PPid and comm for
// Descendants/Parent/Comm to walk without further procfs reads.
func (f *FS) Snapshot() (*Snapshot, error) {
	procs, err := f.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("failed to list procs: %w", err)
	}

	snap := &Snapshot{
		parent: make(map[int]int, len(procs)),
		comm:   make(map[int]string, len(procs)),
	}

	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil {
			continue // process exited mid-scan
		}

		snap.parent[p.PID] = stat.PPID
		snap.comm[p.PID] = stat.Comm
	}

	return snap, nil
}

// Descendants returns every transitive descendant of root found in the
// snapshot, in breadth-first discovery order.
func (s *Snapshot) Descendants(root int) []int {
	childrenOf := make(map[int][]int, len(s.parent))
	for pid, ppid := range s.parent {
		childrenOf[ppid] = append(childrenOf[ppid], pid)
	}

	var (
		out      []int
		frontier = []int{root}
	)

	seen := map[int]bool{root: true}

	for len(frontier) > 0 {
		var next []int

		for _, p := range frontier {
			for _, c := range childrenOf[p] {
				if !seen[c] {
					seen[c] = true

					out = append(out, c)
					next = append(next, c)
				}
			}
		}

		frontier = next
	}

	return out
}

// Comm returns pid's comm as recorded in the snapshot, or "" if pid was
// not present in it.
func (s *Snapshot) Comm(pid int) string {
	return s.comm[pid]
}

// Parent returns pid's PPid as recorded in the snapshot, or 0 if pid was
// not present in it.
func (s *Snapshot) Parent(pid int) int {
	return s.parent[pid]
}

// Nice returns a process's current nice value.
func Nice(pid int) (int, error) {
	n, err := unix.Getpriority(unix.PRIO_PROCESS, pid)
	if err != nil {
		return 0, fmt.Errorf("getpriority(%d): %w", pid, err)
	}

	// Linux getpriority returns 20-nice so callers get the nice scale back.
	return 20 - n, nil
}

// SetNice sets a process's nice value via setpriority(2), equivalent to
// `renice` but without forking a subprocess for the common case.
func SetNice(pid, nice int) error {
	if err := unix.Setpriority(unix.PRIO_PROCESS, pid, nice); err != nil {
		return fmt.Errorf("setpriority(%d, %d): %w", pid, nice, err)
	}

	return nil
}

// OnlineCPUs reads /sys/devices/system/cpu/online and expands its range
// syntax, used to validate `proc.affinity` requests.
func OnlineCPUs() ([]int, error) {
	data, err := readOnlineFile()
	if err != nil {
		return nil, err
	}

	cpus, err := common.ExpandIntRanges(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse online CPU list: %w", err)
	}

	return cpus, nil
}

// FilterOnline keeps only the requested CPU indices that are online,
// implementing the "filtered against online CPUs, empty result is a
// no-op" boundary rule for proc.affinity.
func FilterOnline(requested, online []int) []int {
	onlineSet := make(map[int]struct{}, len(online))
	for _, c := range online {
		onlineSet[c] = struct{}{}
	}

	var out []int

	for _, c := range requested {
		if _, ok := onlineSet[c]; ok {
			out = append(out, c)
		}
	}

	return out
}
