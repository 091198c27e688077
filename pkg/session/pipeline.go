package session

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guapow/opt/internal/common"
	"github.com/guapow/opt/internal/security"
	"github.com/guapow/opt/pkg/applier"
	"github.com/guapow/opt/pkg/profile"
	"github.com/guapow/opt/pkg/request"
	"github.com/guapow/opt/pkg/scripts"
	"github.com/guapow/opt/pkg/settings"
	"github.com/guapow/opt/pkg/sharedstate"
	"github.com/guapow/opt/pkg/sysutil/compositor"
	"github.com/guapow/opt/pkg/sysutil/launchers"
	"github.com/guapow/opt/pkg/sysutil/proc"
	"github.com/guapow/opt/pkg/watcher"
	"kernel.org/pub/linux/libs/security/libcap/cap"
)

// Pipeline is the daemon's single long-lived request handler: one
// instance owns every shared-state manager, the process watcher, the
// scripts runner, and the profile/launcher stores, and supervises every
// Session it creates until termination and rollback complete.
type Pipeline struct {
	settings *settings.Settings
	logger   *slog.Logger
	isRoot   bool

	fs      pidExister
	watcher *watcher.Watcher
	scripts *scripts.Runner

	cpu         stateToken
	gpu         stateToken
	gpuMap      *gpuMap
	compositor  stateToken
	mouse       stateToken
	stopTargets *stopRegistry

	profiles  *profileStore
	launchers []profile.LauncherRule

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

// pidExister is the minimal procfs surface awaitTermination needs, split
// out from *proc.FS so tests can fake PID liveness without a real
// process tree.
type pidExister interface {
	Exists(pid int) bool
}

// Dirs groups the user/system config directories profile and launcher
// files are loaded from, user directory taking precedence.
type Dirs struct {
	UserConfigDir   string
	SystemConfigDir string
}

// New builds a Pipeline from daemon settings, opening procfs and probing
// the compositor family (unless cfg.Compositor pre-sets one) as its only
// startup side effects.
func New(cfg *settings.Settings, dirs Dirs, logger *slog.Logger) (*Pipeline, error) {
	fs, err := proc.Open()
	if err != nil {
		return nil, err
	}

	family, err := resolveCompositorFamily(cfg)
	if err != nil {
		return nil, err
	}

	globalLaunchers, err := loadLaunchers(dirs, logger)
	if err != nil {
		return nil, err
	}

	rootExec, err := newRootScriptExecutor(logger)
	if err != nil {
		return nil, err
	}

	gpus := newGPUMap(cfg, logger)

	p := &Pipeline{
		settings:    cfg,
		logger:      logger,
		isRoot:      os.Geteuid() == 0,
		fs:          fs,
		watcher:     watcher.New(fs, logger),
		scripts:     scripts.NewRunner(cfg.ScriptsAllowRoot, rootExec, logger),
		cpu:         sharedstate.NewCPUPerformanceManager(onlineCPUsOrEmpty(logger)),
		gpu:         newGPUManager(gpus),
		gpuMap:      gpus,
		compositor:  sharedstate.NewCompositorManager(family),
		mouse:       sharedstate.NewMouseManager(),
		stopTargets: newStopRegistry(),
		profiles:    newProfileStore(dirs.UserConfigDir, dirs.SystemConfigDir, cfg.ProfileCache, logger),
		launchers:   globalLaunchers,
		sessions:    make(map[string]*Session),
	}

	if cfg.ProfilePreCaching {
		p.profiles.preCache()
	}

	return p, nil
}

// WarmGPUMap eagerly probes and caches the GPU adapter set, for daemons
// that want probing paid at startup instead of on the first request. A
// no-op when gpu.cache is disabled.
func (p *Pipeline) WarmGPUMap() {
	if p.gpuMap != nil {
		p.gpuMap.warm()
	}
}

// newRootScriptExecutor builds the privileged executor behind
// scripts.<phase>.root=true: each command runs through a security
// context that raises CAP_SETUID/CAP_SETGID only around the uid/gid 0
// subprocess call, so the rest of the daemon never executes with those
// capabilities effective.
func newRootScriptExecutor(logger *slog.Logger) (func(ctx context.Context, command string) ([]byte, error), error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	secCtx, err := security.NewSecurityContext(&security.SCConfig{
		Name:   "run_script_as_root",
		Caps:   []cap.Value{cap.SETUID, cap.SETGID},
		Func:   security.ExecAsUser,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, command string) ([]byte, error) {
		data := &security.ExecSecurityCtxData{
			Context: ctx,
			Cmd:     []string{"sh", "-c", command},
			UID:     0,
			GID:     0,
			Logger:  logger,
		}
		if err := secCtx.Exec(data); err != nil {
			return nil, err
		}

		return data.StdOut, nil
	}, nil
}

func resolveCompositorFamily(cfg *settings.Settings) (compositor.Family, error) {
	if cfg.Compositor != "" {
		return compositor.Family(cfg.Compositor), nil
	}

	return compositor.Detect()
}

func onlineCPUsOrEmpty(logger *slog.Logger) []int {
	cpus, err := proc.OnlineCPUs()
	if err != nil {
		if logger != nil {
			logger.Warn("failed to read online cpus, cpu.performance will be a no-op", "err", err)
		}

		return nil
	}

	return cpus
}

func loadLaunchers(dirs Dirs, logger *slog.Logger) ([]profile.LauncherRule, error) {
	for _, dir := range []string{dirs.UserConfigDir, dirs.SystemConfigDir} {
		if dir == "" {
			continue
		}

		path := dir + "/launchers.conf"

		data, err := os.ReadFile(path) //nolint:gosec
		if err != nil {
			continue
		}

		rules, err := launchers.Load(data)
		if err != nil {
			return nil, err
		}

		return rules, nil
	}

	if logger != nil {
		logger.Debug("no launchers.conf found, starting with no global launcher rules")
	}

	return nil, nil
}

// Handle is the transport.Handler entry point: it resolves req into a
// plan and supervises its Session in the background, returning once the
// Session is registered rather than waiting for termination.
func (p *Pipeline) Handle(ctx context.Context, req *request.Request) {
	opts, err := p.resolveOptions(req)
	if err != nil {
		p.warn("failed to resolve request options", err)

		return
	}

	sess := newSession(uuid.NewString(), req.User, req.PID, p.settings.NiceCheckInterval, p.logger)

	sessCtx, cancel := context.WithCancel(ctx)
	sess.cancel = cancel

	wcfg := p.watcherConfig(opts)

	p.register(sess)
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		defer p.forget(sess.ID)

		p.run(sessCtx, sess, opts, wcfg)
	}()
}

// resolveOptions resolves the request's option set: inline options win
// over a named profile, and profile-add always overlays on top.
func (p *Pipeline) resolveOptions(req *request.Request) (*profile.Options, error) {
	var (
		opts *profile.Options
		err  error
	)

	if req.Inline != nil {
		opts = req.Inline
	} else {
		opts, err = p.profiles.resolve(req.ProfileName)
		if err != nil {
			return nil, err
		}
	}

	if req.ProfileAdd != "" {
		add, err := p.profiles.resolve(req.ProfileAdd)
		if err != nil {
			return nil, err
		}

		opts = profile.Overlay(opts, add)
	}

	// opt.conf's own cpu.performance is a daemon-wide floor: once set it
	// forces the governor on for every Session regardless of what that
	// Session's own profile asked for, on top of (never instead of) the
	// profile's request.
	opts.CPUPerformance = opts.CPUPerformance || p.settings.CPUPerformance

	return opts, nil
}

func (p *Pipeline) watcherConfig(opts *profile.Options) watcher.Config {
	rules := opts.Launcher
	if !opts.LauncherSkipMapping {
		rules = launchers.Merge(p.launchers, opts.Launcher)
	}

	return watcher.Config{
		Launchers:            rules,
		Steam:                opts.Steam,
		ChildrenTimeout:      p.settings.OptimizeChildrenTimeout,
		ChildrenFoundTimeout: p.settings.OptimizeChildrenFoundTimeout,
		LauncherTimeout:      p.settings.LauncherMappingTimeout,
		LauncherFoundTimeout: p.settings.LauncherMappingFoundTimeout,
	}
}

// run carries one Session through apply, track, monitor, await
// termination and rollback, on a context derived
// from the daemon's own so that daemon shutdown tears every live Session
// down the same way a naturally-finished one tears down.
func (p *Pipeline) run(ctx context.Context, sess *Session, opts *profile.Options, wcfg watcher.Config) {
	p.apply(ctx, sess, opts)

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		p.track(ctx, sess, opts, wcfg)
	}()

	wg.Add(1)

	go func() {
		defer wg.Done()

		if opts.ProcNiceWatch {
			sess.nice.Run(ctx)
		}
	}()

	p.awaitTermination(ctx, sess)
	sess.cancel()
	wg.Wait()

	p.rollback(sess, opts)

	if p.logger != nil {
		p.logger.Info("optimization finished",
			"id", sess.ID,
			"pid", sess.TargetPID,
			"elapsed", common.Timespan(time.Since(sess.CreatedAt)).Format("15:04:05"),
		)
	}
}

// apply runs the per-process appliers on the target, the shared-state
// acquires, and scripts.after concurrently, collecting
// every sub-operation's error onto one buffered channel rather than
// failing the Session on any single applier's mistake.
func (p *Pipeline) apply(ctx context.Context, sess *Session, opts *profile.Options) {
	if p.logger != nil {
		defer common.TimeTrack(time.Now(), "apply phase completed", p.logger)
	}

	var wg sync.WaitGroup

	// Sized so acquireSharedState can never block on a full channel before
	// the post-Wait drain below starts reading.
	errs := make(chan error, 4+len(opts.StopAfter))

	wg.Add(1)

	go func() {
		defer wg.Done()
		p.applyToPID(ctx, sess.TargetPID, opts, sess)
	}()

	wg.Add(1)

	go func() {
		defer wg.Done()
		p.acquireSharedState(sess, opts, errs)
	}()

	if after := opts.Scripts[profile.PhaseAfter]; len(after.Commands) > 0 {
		wg.Add(1)

		go func() {
			defer wg.Done()
			p.scripts.Run(ctx, profile.PhaseAfter, after)
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		p.warn("shared-state acquire failed", err)
	}
}

// applyToPID runs every configured per-process applier against pid. It
// is shared between the initial target apply and every newly discovered
// descendant; descendants get per-process optimizations only, never
// shared-state acquires.
func (p *Pipeline) applyToPID(ctx context.Context, pid int, opts *profile.Options, sess *Session) {
	if opts.ProcNice != nil {
		nice := *opts.ProcNice

		if err := applier.Nice(ctx, pid, nice, opts.ProcNiceDelay); err != nil {
			p.warn("failed to apply proc.nice", err)
		} else if opts.ProcNiceWatch {
			sess.nice.Track(pid, nice)
		}
	}

	if opts.ProcIONice != nil {
		if err := applier.IONice(pid, opts.ProcIOClass, *opts.ProcIONice, p.isRoot, p.logger); err != nil {
			p.warn("failed to apply proc.io.nice", err)
		}
	}

	if opts.ProcPolicy != "" {
		priority := 0
		if opts.ProcPolicyPriority != nil {
			priority = *opts.ProcPolicyPriority
		}

		if err := applier.SchedPolicy(pid, opts.ProcPolicy, priority); err != nil {
			p.warn("failed to apply proc.policy", err)
		}
	}

	if len(opts.ProcAffinity) > 0 {
		if err := applier.Affinity(pid, opts.ProcAffinity, p.logger); err != nil {
			p.warn("failed to apply proc.affinity", err)
		}
	}
}

func (p *Pipeline) acquireSharedState(sess *Session, opts *profile.Options, errs chan<- error) {
	acquire := func(tok stateToken) {
		if err := tok.Acquire(sess.ID); err != nil {
			errs <- err

			return
		}

		sess.addToken(tok)
	}

	if opts.CPUPerformance {
		acquire(p.cpu)
	}

	if opts.GPUPerformance {
		acquire(p.gpu)
	}

	if opts.CompositorOff {
		acquire(p.compositor)
	}

	if opts.MouseHidden {
		acquire(p.mouse)
	}

	for _, name := range opts.StopAfter {
		acquire(p.stopTargets.manager(name, opts.StopAfterRelaunch))
	}
}

// track consumes the process watcher's discovery stream for the
// Session's lifetime, applying per-process optimizations to each newly
// discovered PID exactly once.
func (p *Pipeline) track(ctx context.Context, sess *Session, opts *profile.Options, wcfg watcher.Config) {
	for pid := range p.watcher.Watch(ctx, sess.TargetPID, wcfg) {
		sess.track(pid)
		p.applyToPID(ctx, pid, opts, sess)
	}
}

// awaitTermination blocks until every tracked PID has exited or ctx is
// cancelled, polling at check.finished.interval.
func (p *Pipeline) awaitTermination(ctx context.Context, sess *Session) {
	ticker := time.NewTicker(p.settings.CheckFinishedInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.allExited(sess) {
				return
			}
		}
	}
}

func (p *Pipeline) allExited(sess *Session) bool {
	live := false

	for _, pid := range sess.trackedPIDs() {
		if p.fs.Exists(pid) {
			live = true

			continue
		}

		sess.untrack(pid)
		sess.nice.Untrack(pid)
	}

	return !live
}

// rollback releases every held shared-state token (each manager
// restores its captured original on its own last release), then runs
// scripts.finish.
func (p *Pipeline) rollback(sess *Session, opts *profile.Options) {
	for _, tok := range sess.releaseTokens() {
		if err := tok.Release(sess.ID); err != nil {
			p.warn("failed to release shared-state token", err)
		}
	}

	if finish := opts.Scripts[profile.PhaseFinish]; len(finish.Commands) > 0 {
		p.scripts.Run(context.Background(), profile.PhaseFinish, finish)
	}
}

func (p *Pipeline) register(sess *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sessions[sess.ID] = sess
}

func (p *Pipeline) forget(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.sessions, id)
}

// Shutdown cancels every in-flight Session (tearing each down through its
// normal rollback path) and blocks until they finish or ctx is done,
// whichever comes first, implementing the daemon's bounded shutdown
// budget.
func (p *Pipeline) Shutdown(ctx context.Context) {
	p.mu.Lock()
	for _, sess := range p.sessions {
		if sess.cancel != nil {
			sess.cancel()
		}
	}
	p.mu.Unlock()

	done := make(chan struct{})

	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.warn("shutdown budget exhausted with sessions still rolling back", ctx.Err())
	}
}

func (p *Pipeline) warn(msg string, err error) {
	if p.logger == nil {
		return
	}

	if err != nil {
		p.logger.Warn(msg, "err", err)
	} else {
		p.logger.Warn(msg)
	}
}
