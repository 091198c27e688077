// Package scripts implements the scripts runner: phase-scoped hook
// commands executed with `wait`/`timeout`/`root` policy. A script's exit
// status is logged but never fails the owning Session.
package scripts

import (
	"context"
	"log/slog"
	"time"

	"github.com/guapow/opt/internal/osexec"
	"github.com/guapow/opt/pkg/profile"
)

// exec runs one shell command line to completion and returns its combined
// output, the shape both the default executor and a privileged RunRoot
// hook share.
type exec func(ctx context.Context, command string) ([]byte, error)

// Runner executes one phase's commands against the policy in its
// profile.ScriptPhase.
type Runner struct {
	// AllowRoot is the daemon's scripts.allow_root setting: a prerequisite
	// for honoring any profile's scripts.<phase>.root, alongside the
	// phase's own Root flag.
	AllowRoot bool
	// RunRoot executes a command with root privileges, normally wired to
	// internal/security's capability-scoped ExecAsUser. nil means root
	// execution is unavailable; a Root-flagged script downgrades to the
	// unprivileged executor with a warning.
	RunRoot exec

	logger *slog.Logger
	run    exec
}

// NewRunner builds a Runner. runRoot may be nil.
func NewRunner(allowRoot bool, runRoot exec, logger *slog.Logger) *Runner {
	return &Runner{
		AllowRoot: allowRoot,
		RunRoot:   runRoot,
		logger:    logger,
		run:       defaultExec,
	}
}

func defaultExec(ctx context.Context, command string) ([]byte, error) {
	return osexec.ExecuteContext(ctx, "sh", []string{"-c", command}, nil)
}

// Run executes every command in spec for the named phase according to its
// wait/timeout/root policy. It never returns an error for a failing or
// timed-out script: those are logged and the Session's plan continues.
func (r *Runner) Run(ctx context.Context, phase profile.ScriptPhaseName, spec profile.ScriptPhase) {
	if len(spec.Commands) == 0 {
		return
	}

	executor := r.resolveExecutor(phase, spec)

	if !spec.Wait {
		// wait=false disables serialization even if a timeout was also
		// set: spawn all detached, untracked.
		for _, cmd := range spec.Commands {
			go r.runDetached(executor, cmd)
		}

		return
	}

	for _, cmd := range spec.Commands {
		r.runSerialized(ctx, executor, cmd, spec.Timeout)
	}
}

// waitPolicy interprets a phase's timeout: nil waits unboundedly, an
// explicit zero skips waiting, anything else bounds the wait.
func waitPolicy(timeout *time.Duration) (bound time.Duration, skip, unbounded bool) {
	if timeout == nil {
		return 0, false, true
	}

	if *timeout <= 0 {
		return 0, true, false
	}

	return *timeout, false, false
}

func (r *Runner) resolveExecutor(phase profile.ScriptPhaseName, spec profile.ScriptPhase) exec {
	// scripts.before.root is never honored by the optimizer: the Runner
	// CLI (an external collaborator) owns the before phase client-side.
	wantsRoot := spec.Root && phase != profile.PhaseBefore

	if !wantsRoot {
		return r.run
	}

	if !r.AllowRoot {
		r.warn("scripts."+string(phase)+".root requested but daemon scripts.allow_root is false, running unprivileged", nil)

		return r.run
	}

	if r.RunRoot == nil {
		r.warn("scripts."+string(phase)+".root requested but no privileged executor is configured, running unprivileged", nil)

		return r.run
	}

	return r.RunRoot
}

func (r *Runner) runDetached(executor exec, cmd string) {
	_, err := executor(context.Background(), cmd)
	r.logExit(cmd, err)
}

func (r *Runner) runSerialized(ctx context.Context, executor exec, cmd string, timeout *time.Duration) {
	bound, skip, unbounded := waitPolicy(timeout)
	if skip {
		// timeout=0 skips waiting entirely: the script still runs, but the
		// next one starts right away.
		go r.runDetached(executor, cmd)

		return
	}

	// A bounded wait may give up on the script, which is then left running:
	// cancelling the Session must not kill it either.
	execCtx := ctx
	if !unbounded {
		execCtx = context.WithoutCancel(ctx)
	}

	done := make(chan error, 1)

	go func() {
		_, err := executor(execCtx, cmd)
		done <- err
	}()

	if unbounded {
		r.logExit(cmd, <-done)

		return
	}

	select {
	case err := <-done:
		r.logExit(cmd, err)
	case <-time.After(bound):
		// Timeout policy is unblock, don't kill: the Session moves on to
		// the next script; the still-running one is left alone and only
		// logged, never signaled.
		r.warn("script timed out, moving on without stopping it: "+cmd, nil)
	}
}

func (r *Runner) logExit(cmd string, err error) {
	if r.logger == nil {
		return
	}

	if err != nil {
		r.logger.Warn("script exited non-zero", "cmd", cmd, "err", err)

		return
	}

	r.logger.Debug("script completed", "cmd", cmd)
}

func (r *Runner) warn(msg string, err error) {
	if r.logger == nil {
		return
	}

	if err != nil {
		r.logger.Warn(msg, "err", err)
	} else {
		r.logger.Warn(msg)
	}
}
