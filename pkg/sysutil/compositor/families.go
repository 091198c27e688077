package compositor

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

type kwinController struct{}

func (kwinController) Family() Family { return KWin }

func (kwinController) Disable() error {
	return runOrWrap("disable kwin compositing", "qdbus",
		[]string{"org.kde.KWin", "/Compositor", "org.kde.kwin.Compositing.suspend"})
}

func (kwinController) Enable() error {
	return runOrWrap("enable kwin compositing", "qdbus",
		[]string{"org.kde.KWin", "/Compositor", "org.kde.kwin.Compositing.resume"})
}

type xfwm4Controller struct{}

func (xfwm4Controller) Family() Family { return Xfwm4 }

func (xfwm4Controller) Disable() error {
	return runOrWrap("disable xfwm4 compositing", "xfconf-query",
		[]string{"-c", "xfwm4", "-p", "/general/use_compositing", "-s", "false"})
}

func (xfwm4Controller) Enable() error {
	return runOrWrap("enable xfwm4 compositing", "xfconf-query",
		[]string{"-c", "xfwm4", "-p", "/general/use_compositing", "-s", "true"})
}

type marcoController struct{}

func (marcoController) Family() Family { return Marco }

func (marcoController) Disable() error {
	return runOrWrap("disable marco compositing", "gsettings",
		[]string{"set", "org.mate.Marco.general", "compositing-manager", "false"})
}

func (marcoController) Enable() error {
	return runOrWrap("enable marco compositing", "gsettings",
		[]string{"set", "org.mate.Marco.general", "compositing-manager", "true"})
}

type compizController struct{}

func (compizController) Family() Family { return Compiz }

func (compizController) Disable() error {
	return runOrWrap("disable compiz", "qdbus",
		[]string{"org.compiz", "/org/compiz", "org.compiz.suspend"})
}

func (compizController) Enable() error {
	return runOrWrap("enable compiz", "qdbus",
		[]string{"org.compiz", "/org/compiz", "org.compiz.resume"})
}

// nvidiaController toggles the NVIDIA driver's own full composition
// pipeline bypass via `nvidia-settings`'s per-GPU `ForceFullCompositionPipeline`
// attribute, instead of a window manager's IPC call. It requires an active
// X11 `$DISPLAY`; under Wayland or a headless session there is nothing to
// toggle, so Disable/Enable are no-ops rather than errors.
type nvidiaController struct{}

func (nvidiaController) Family() Family { return Nvidia }

func (nvidiaController) Disable() error {
	if os.Getenv("DISPLAY") == "" {
		return nil
	}

	return runOrWrap("disable nvidia composition pipeline", "nvidia-settings",
		[]string{"--assign", "[gpu:0]/ForceFullCompositionPipeline=0"})
}

func (nvidiaController) Enable() error {
	if os.Getenv("DISPLAY") == "" {
		return nil
	}

	return runOrWrap("enable nvidia composition pipeline", "nvidia-settings",
		[]string{"--assign", "[gpu:0]/ForceFullCompositionPipeline=1"})
}

// signalController handles compton/picom: neither exposes an IPC
// toggle, so disabling stops the running process with SIGSTOP and
// re-enabling resumes the same process with SIGCONT, respawning a fresh
// instance only when the stopped one is gone.
type signalController struct {
	processName string
	pids        []int
}

func (s *signalController) Family() Family {
	if s.processName == "picom" {
		return Picom
	}

	return Compton
}

func (s *signalController) Disable() error {
	pids, err := pgrep(s.processName)
	if err != nil {
		return fmt.Errorf("find %s: %w", s.processName, err)
	}

	for _, pid := range pids {
		if err := kill(pid, unix.SIGSTOP); err != nil {
			return fmt.Errorf("stop %s pid %d: %w", s.processName, pid, err)
		}
	}

	s.pids = pids

	return nil
}

func (s *signalController) Enable() error {
	pids := s.pids
	s.pids = nil

	// Nothing was stopped, so there is nothing to resume or replace.
	if len(pids) == 0 {
		return nil
	}

	resumed := false

	for _, pid := range pids {
		if err := kill(pid, unix.SIGCONT); err == nil {
			resumed = true
		}
	}

	if resumed {
		return nil
	}

	// The stopped process died in the meantime; start a fresh instance.
	return spawn(s.processName)
}

// kill and spawn are vars so signal delivery and respawning are
// testable without real compositor processes.
var kill = unix.Kill //nolint:gochecknoglobals

// spawn starts a compositor process without blocking on its exit, since
// compton/picom run until killed.
var spawn = func(name string) error { //nolint:gochecknoglobals
	cmd := exec.Command(name) //nolint:gosec
	if err := cmd.Start(); err != nil {
		return err
	}

	go func() { _ = cmd.Wait() }()

	return nil
}

// pgrep finds every live PID whose comm exactly matches name. pgrep
// exits 1 with no output when nothing matches, which is not an error
// here.
func pgrep(name string) ([]int, error) {
	out, err := defaultRunner("pgrep", []string{"-x", name}, nil)
	if err != nil {
		return nil, nil //nolint:nilerr
	}

	var pids []int

	for _, field := range strings.Fields(string(out)) {
		if pid, err := strconv.Atoi(field); err == nil {
			pids = append(pids, pid)
		}
	}

	return pids, nil
}
