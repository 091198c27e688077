package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/guapow/opt/internal/osexec"
	"kernel.org/pub/linux/libs/security/libcap/cap"
)

// Custom errors.
var (
	ErrNoSecurityCtx            = errors.New("security context not found")
	ErrSecurityCtxDataAssertion = errors.New("data type cannot be asserted")
)

// SCConfig declares one security context: the function to run and the
// capabilities it needs effective while running.
type SCConfig struct {
	Logger *slog.Logger
	Func   func(any) error
	Caps   []cap.Value
	Name   string

	// ExecNatively runs the function directly, without a launcher or any
	// capability juggling. An escape hatch for capability-unaware
	// deployments that still want the same call shape.
	ExecNatively bool
}

// SecurityContext runs one function on an OS-locked thread with its
// configured capabilities effective only for the duration of the call.
type SecurityContext struct {
	logger       *slog.Logger
	launcher     *cap.Launcher
	f            func(any) error
	caps         []cap.Value
	capSet       *cap.Set
	execNatively bool
	Name         string
}

// NewSecurityContext builds a SecurityContext from c.
func NewSecurityContext(c *SCConfig) (*SecurityContext, error) {
	s := &SecurityContext{
		logger:       c.Logger,
		caps:         c.Caps,
		Name:         c.Name,
		capSet:       cap.NewSet(),
		execNatively: c.ExecNatively,
		f:            c.Func,
	}

	s.launcher = cap.FuncLauncher(s.targetFunc)

	return s, nil
}

// Exec runs the context's function with data as its argument.
func (s *SecurityContext) Exec(data any) error {
	if s.execNatively {
		return s.f(data)
	}

	if _, err := s.launcher.Launch(data); err != nil {
		return err
	}

	return nil
}

// setEffective raises or drops the effective flag on the context's
// capability set. A no-op when no capabilities were configured.
func (s *SecurityContext) setEffective(on bool) error {
	if len(s.caps) == 0 {
		return nil
	}

	if on {
		if err := s.capSet.SetFlag(cap.Permitted, true, s.caps...); err != nil {
			return fmt.Errorf("error setting permitted flag: %w", err)
		}
	}

	if err := s.capSet.SetFlag(cap.Effective, on, s.caps...); err != nil {
		return fmt.Errorf("error setting effective flag: %w", err)
	}

	if err := s.capSet.SetProc(); err != nil {
		return fmt.Errorf("error applying capabilities: %w", err)
	}

	return nil
}

// targetFunc wraps the configured function between raising and dropping
// the effective capability set, so privileges exist only for the
// duration of the call on the launcher's thread.
func (s *SecurityContext) targetFunc(data any) error {
	if err := s.setEffective(true); err != nil {
		// Not fatal on its own: a function that really needed the
		// capability will fail with a clearer error of its own.
		s.logger.Error("failed to raise capabilities", "name", s.Name, "caps", cap.GetProc().String(), "err", err)
	}

	s.logger.Debug("executing in security context", "name", s.Name, "caps", cap.GetProc().String())

	ferr := s.f(data)

	if err := s.setEffective(false); err != nil {
		s.logger.Warn("failed to drop capabilities", "name", s.Name, "err", err)
	}

	return ferr
}

// ExecSecurityCtxData carries the input/output of one privileged
// subprocess execution through a SecurityContext.
type ExecSecurityCtxData struct {
	Context context.Context //nolint:containedctx
	Cmd     []string
	Environ []string
	UID     int
	GID     int
	StdOut  []byte
	Logger  *slog.Logger
}

// ExecAsUser executes a subprocess under the uid/gid in data (an
// *ExecSecurityCtxData) and stores its combined output back on the
// struct. Meant to run inside a SecurityContext holding
// CAP_SETUID/CAP_SETGID.
func ExecAsUser(data any) error {
	d, ok := data.(*ExecSecurityCtxData)
	if !ok {
		return ErrSecurityCtxDataAssertion
	}

	ctx := d.Context
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)

		defer cancel()
	}

	out, err := osexec.ExecuteAsContext(ctx, d.Cmd[0], d.Cmd[1:], d.UID, d.GID, d.Environ)
	if err != nil {
		return err
	}

	d.StdOut = out

	return nil
}
