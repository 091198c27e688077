// Package watcher implements the process watcher subcomponent: given a
// root PID, it produces a lazy stream of descendant PIDs discovered
// within bounded time windows, resolving launcher mapping rules and
// Steam child discovery.
package watcher

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/guapow/opt/pkg/profile"
	"github.com/guapow/opt/pkg/sysutil/launchers"
	"github.com/guapow/opt/pkg/sysutil/proc"
	"github.com/zeebo/xxh3"
)

// minPoll/maxPoll bound the derived poll cadence so a very short or very
// long timeout pair never produces an unreasonable tick rate.
const (
	minPoll = 200 * time.Millisecond
	maxPoll = 2 * time.Second
)

// steamExcludedSubstrings identify Ubisoft-launcher helper processes that
// ride along under Steam's reaper but are never the game process itself.
var steamExcludedSubstrings = []string{ //nolint:gochecknoglobals
	"ubisoftgamelauncher",
	"upc.exe",
	"uplaywebcore",
	"ubisoft connect",
}

// Config is one Session's worth of discovery policy: which launcher rules
// apply, whether Steam child discovery is enabled, and the dual-deadline
// timeout pairs (absolute and since-last-found) for each search.
type Config struct {
	Launchers []profile.LauncherRule

	Steam bool

	ChildrenTimeout      time.Duration
	ChildrenFoundTimeout time.Duration

	LauncherTimeout      time.Duration
	LauncherFoundTimeout time.Duration
}

// active reports whether this config calls for any discovery task at
// all: discovery runs when optimize_children.timeout>0, or steam is set,
// or launcher rules exist.
func (c Config) active() bool {
	return c.ChildrenTimeout > 0 || c.Steam || len(c.Launchers) > 0
}

// ProcSource is the process-introspection surface the watcher needs.
// *proc.FS satisfies it against the real procfs; tests satisfy it with a
// fixed Snapshot built via proc.NewSnapshot.
type ProcSource interface {
	Snapshot() (*proc.Snapshot, error)
	CommandLine(pid int) (string, error)
}

// Watcher discovers descendant PIDs for a Session's target process. One
// Watcher is constructed per daemon and shared across Sessions so its
// compiled-launcher-pattern cache is reused across requests.
type Watcher struct {
	fs     ProcSource
	logger *slog.Logger

	mu       sync.Mutex
	patterns map[uint64]*regexp.Regexp
}

// New builds a Watcher reading process state through fs.
func New(fs ProcSource, logger *slog.Logger) *Watcher {
	return &Watcher{
		fs:       fs,
		logger:   logger,
		patterns: make(map[uint64]*regexp.Regexp),
	}
}

// Watch starts every discovery task this Config calls for against rootPID
// and returns a channel of newly discovered PIDs, each emitted exactly
// once. The channel closes once every task's deadline has expired or ctx
// is cancelled.
func (w *Watcher) Watch(ctx context.Context, rootPID int, cfg Config) <-chan int {
	out := make(chan int)

	if !cfg.active() {
		close(out)

		return out
	}

	go w.run(ctx, rootPID, cfg, out)

	return out
}

func (w *Watcher) run(ctx context.Context, rootPID int, cfg Config, out chan<- int) {
	defer close(out)

	em := &emitter{ctx: ctx, out: out, seen: make(map[int]struct{})}

	rootComm := ""
	if snap, err := w.fs.Snapshot(); err == nil {
		rootComm = snap.Comm(rootPID)
	}

	var ownRules []profile.LauncherRule

	for _, r := range cfg.Launchers {
		if r.Exe == rootComm {
			ownRules = append(ownRules, r)
		}
	}

	var wg sync.WaitGroup

	if len(ownRules) > 0 {
		wg.Add(1)

		go func() {
			defer wg.Done()
			w.searchLauncher(ctx, rootPID, ownRules, cfg, em)
		}()
	}

	if cfg.Steam {
		wg.Add(1)

		go func() {
			defer wg.Done()
			w.searchSteam(ctx, rootPID, cfg, em)
		}()
	}

	// Plain descendant tracking only runs when neither launcher resolution
	// nor Steam discovery claims this root: those two emit the *resolved*
	// target rather than every raw descendant.
	if cfg.ChildrenTimeout > 0 && len(ownRules) == 0 && !cfg.Steam {
		wg.Add(1)

		go func() {
			defer wg.Done()
			w.searchChildren(ctx, rootPID, cfg, em)
		}()
	}

	wg.Wait()
}

// emitter deduplicates and delivers discovered PIDs; a PID already sent is
// never sent again, even if multiple search tasks independently find it.
type emitter struct {
	ctx  context.Context //nolint:containedctx
	out  chan<- int
	mu   sync.Mutex
	seen map[int]struct{}
}

func (e *emitter) emit(pid int) {
	e.mu.Lock()

	if _, ok := e.seen[pid]; ok {
		e.mu.Unlock()

		return
	}

	e.seen[pid] = struct{}{}

	e.mu.Unlock()

	select {
	case e.out <- pid:
	case <-e.ctx.Done():
	}
}

func (w *Watcher) searchChildren(ctx context.Context, rootPID int, cfg Config, em *emitter) {
	reported := make(map[int]struct{})

	check := func() []int {
		snap, err := w.fs.Snapshot()
		if err != nil {
			w.warn("failed to snapshot procfs", err)

			return nil
		}

		var fresh []int

		for _, pid := range snap.Descendants(rootPID) {
			if _, ok := reported[pid]; !ok {
				reported[pid] = struct{}{}

				fresh = append(fresh, pid)
			}
		}

		return fresh
	}

	pollUntil(ctx, cfg.ChildrenTimeout, cfg.ChildrenFoundTimeout, check, em.emit)
}

func (w *Watcher) searchLauncher(ctx context.Context, rootPID int, rules []profile.LauncherRule, cfg Config, em *emitter) {
	reported := make(map[int]struct{})

	check := func() []int {
		snap, err := w.fs.Snapshot()
		if err != nil {
			w.warn("failed to snapshot procfs", err)

			return nil
		}

		var fresh []int

		for _, pid := range snap.Descendants(rootPID) {
			if _, ok := reported[pid]; ok {
				continue
			}

			if w.matchesAny(pid, snap, rules) {
				reported[pid] = struct{}{}

				fresh = append(fresh, pid)
			}
		}

		return fresh
	}

	pollUntil(ctx, cfg.LauncherTimeout, cfg.LauncherFoundTimeout, check, em.emit)
}

func (w *Watcher) matchesAny(pid int, snap *proc.Snapshot, rules []profile.LauncherRule) bool {
	for _, rule := range rules {
		re, err := w.compile(rule.Target.Pattern)
		if err != nil {
			w.warn("invalid launcher pattern", err)

			continue
		}

		subject := snap.Comm(pid)
		if rule.Target.Kind == profile.PatternCommand {
			subject, _ = w.fs.CommandLine(pid)
		}

		if re.MatchString(subject) {
			return true
		}
	}

	return false
}

func (w *Watcher) searchSteam(ctx context.Context, rootPID int, cfg Config, em *emitter) {
	reported := make(map[int]struct{})

	check := func() []int {
		snap, err := w.fs.Snapshot()
		if err != nil {
			w.warn("failed to snapshot procfs", err)

			return nil
		}

		var fresh []int

		for _, pid := range snap.Descendants(rootPID) {
			if _, ok := reported[pid]; ok {
				continue
			}

			if snap.Comm(snap.Parent(pid)) != "reaper" {
				continue
			}

			cmdline, _ := w.fs.CommandLine(pid)
			if isUbisoftHelper(cmdline, snap.Comm(pid)) {
				continue
			}

			reported[pid] = struct{}{}

			fresh = append(fresh, pid)
		}

		return fresh
	}

	pollUntil(ctx, cfg.ChildrenTimeout, cfg.ChildrenFoundTimeout, check, em.emit)
}

func isUbisoftHelper(cmdline, comm string) bool {
	text := strings.ToLower(cmdline + " " + comm)

	for _, s := range steamExcludedSubstrings {
		if strings.Contains(text, s) {
			return true
		}
	}

	return false
}

// compile returns a cached compiled pattern, compiling and caching it on
// first use, keyed by the pattern text's xxh3 hash.
func (w *Watcher) compile(pattern string) (*regexp.Regexp, error) {
	key := xxh3.HashString(pattern)

	w.mu.Lock()
	defer w.mu.Unlock()

	if re, ok := w.patterns[key]; ok {
		return re, nil
	}

	re, err := launchers.Compile(profile.ExePattern{Kind: profile.PatternName, Pattern: pattern})
	if err != nil {
		return nil, err
	}

	w.patterns[key] = re

	return re, nil
}

func (w *Watcher) warn(msg string, err error) {
	if w.logger != nil {
		w.logger.Warn(msg, "err", err)
	}
}

// pollUntil repeats check at a cadence derived from timeout/foundTimeout
// until whichever of the two deadlines is earliest expires: the absolute
// deadline from start, or the found deadline since the last match. A
// foundTimeout of zero stops the search immediately after its first
// match.
func pollUntil(ctx context.Context, timeout, foundTimeout time.Duration, check func() []int, emit func(int)) {
	if timeout <= 0 {
		return
	}

	tick := pollInterval(timeout, foundTimeout)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	start := time.Now()
	deadline := start.Add(timeout)

	// With foundTimeout=0 the search ends right after its first match, so
	// until then only the absolute deadline applies.
	foundDeadline := deadline
	if foundTimeout > 0 {
		foundDeadline = start.Add(foundTimeout)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.After(deadline) || now.After(foundDeadline) {
				return
			}

			matched := check()
			if len(matched) == 0 {
				continue
			}

			for _, pid := range matched {
				emit(pid)
			}

			if foundTimeout <= 0 {
				return
			}

			foundDeadline = now.Add(foundTimeout)
		}
	}
}

// pollInterval derives a fixed poll cadence from the timeout pair,
// clamped to [minPoll, maxPoll].
func pollInterval(timeout, foundTimeout time.Duration) time.Duration {
	base := foundTimeout
	if base <= 0 || (timeout > 0 && timeout < base) {
		base = timeout
	}

	interval := base / 10

	switch {
	case interval < minPoll:
		return minPoll
	case interval > maxPoll:
		return maxPoll
	default:
		return interval
	}
}
