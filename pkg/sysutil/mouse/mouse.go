// Package mouse adapts the unclutter tool the mouse-hiding shared-state
// manager spawns and kills.
package mouse

import (
	"fmt"
	"os/exec"
	"syscall"
)

// Hider tracks one spawned unclutter process so it can be killed later.
type Hider struct {
	cmd *exec.Cmd
}

// Hide spawns `unclutter` to hide the mouse pointer after inactivity.
func Hide() (*Hider, error) {
	cmd := exec.Command("unclutter") //nolint:gosec
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start unclutter: %w", err)
	}

	go func() { _ = cmd.Wait() }()

	return &Hider{cmd: cmd}, nil
}

// Show kills the tracked unclutter process, restoring pointer visibility.
func (h *Hider) Show() error {
	if h == nil || h.cmd.Process == nil {
		return nil
	}

	if err := h.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to stop unclutter: %w", err)
	}

	return nil
}
