package gpu

import (
	"fmt"
	"os"
	"strings"
)

// PerformanceLevel is the power_dpm_force_performance_level value for
// maximum performance.
const PerformanceLevel = "high"

type amdAdapter struct {
	id       string
	cardName string
}

func (a *amdAdapter) Vendor() Vendor { return AMD }
func (a *amdAdapter) ID() string     { return a.id }

// Connected reports whether any output on this card has a display
// attached. Multiple connected outputs on one card are still treated as
// a single unit.
func (a *amdAdapter) Connected() bool {
	base := sysfsRoot + "/class/drm"

	entries, err := os.ReadDir(base)
	if err != nil {
		return false
	}

	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, a.cardName+"-") {
			continue
		}

		status, err := os.ReadFile(base + "/" + name + "/status") //nolint:gosec
		if err == nil && strings.TrimSpace(string(status)) == "connected" {
			return true
		}
	}

	return false
}

func (a *amdAdapter) perfPath() string {
	return sysfsRoot + "/class/drm/" + a.cardName + "/device/power_dpm_force_performance_level"
}

// CurrentMode reads the card's current performance level.
func (a *amdAdapter) CurrentMode() (string, error) {
	data, err := os.ReadFile(a.perfPath()) //nolint:gosec
	if err != nil {
		return "", fmt.Errorf("failed to read performance level for %s: %w", a.cardName, err)
	}

	return strings.TrimSpace(string(data)), nil
}

// SetPerformance writes "high" to power_dpm_force_performance_level.
func (a *amdAdapter) SetPerformance() error {
	if err := os.WriteFile(a.perfPath(), []byte(PerformanceLevel), 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to set performance level for %s: %w", a.cardName, err)
	}

	return nil
}

// Restore writes back the captured original performance level.
func (a *amdAdapter) Restore(original string) error {
	if err := os.WriteFile(a.perfPath(), []byte(original), 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to restore performance level for %s: %w", a.cardName, err)
	}

	return nil
}
