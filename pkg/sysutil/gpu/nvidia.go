package gpu

import (
	"fmt"
	"strings"
)

// nvidiaPerformanceMode is the PowerMizerMode nvidia-settings value for
// maximum performance (0 is adaptive, 1 is prefer maximum performance).
const nvidiaPerformanceMode = "1"

type nvidiaAdapter struct {
	id string
}

func (a *nvidiaAdapter) Vendor() Vendor  { return NVIDIA }
func (a *nvidiaAdapter) ID() string      { return a.id }
func (a *nvidiaAdapter) Connected() bool { return true }

// CurrentMode captures both attributes SetPerformance mutates (the
// PowerMizer mode via nvidia-settings and the driver persistence mode
// via nvidia-smi), encoded as "<powermizer>/<persistence>" so Restore
// can put each one back.
func (a *nvidiaAdapter) CurrentMode() (string, error) {
	out, err := defaultRunner("nvidia-settings", []string{
		"-q", fmt.Sprintf("[gpu:%s]/GPUPowerMizerMode", a.id), "-t",
	}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to query PowerMizerMode on gpu %s: %w", a.id, err)
	}

	mizer := strings.TrimSpace(string(out))

	out, err = defaultRunner("nvidia-smi", []string{
		"-i", a.id,
		"--query-gpu=persistence_mode",
		"--format=csv,noheader",
	}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to query persistence mode on gpu %s: %w", a.id, err)
	}

	return mizer + "/" + strings.TrimSpace(string(out)), nil
}

// SetPerformance drives the GPU to maximum performance: PowerMizerMode=1
// via nvidia-settings plus persistence mode on via `nvidia-smi -pm 1`.
func (a *nvidiaAdapter) SetPerformance() error {
	if _, err := defaultRunner("nvidia-settings", []string{
		"-a", fmt.Sprintf("[gpu:%s]/GPUPowerMizerMode=%s", a.id, nvidiaPerformanceMode),
	}, nil); err != nil {
		return fmt.Errorf("failed to set PowerMizerMode on gpu %s: %w", a.id, err)
	}

	if _, err := defaultRunner("nvidia-smi", []string{"-i", a.id, "-pm", "1"}, nil); err != nil {
		return fmt.Errorf("failed to enable persistence on gpu %s: %w", a.id, err)
	}

	return nil
}

// Restore writes back a CurrentMode-captured "<powermizer>/<persistence>"
// pair.
func (a *nvidiaAdapter) Restore(original string) error {
	mizer, persistence, _ := strings.Cut(original, "/")

	if mizer != "" {
		if _, err := defaultRunner("nvidia-settings", []string{
			"-a", fmt.Sprintf("[gpu:%s]/GPUPowerMizerMode=%s", a.id, mizer),
		}, nil); err != nil {
			return fmt.Errorf("failed to restore PowerMizerMode on gpu %s: %w", a.id, err)
		}
	}

	pm := "0"
	if strings.EqualFold(persistence, "enabled") {
		pm = "1"
	}

	if _, err := defaultRunner("nvidia-smi", []string{"-i", a.id, "-pm", pm}, nil); err != nil {
		return fmt.Errorf("failed to restore persistence on gpu %s: %w", a.id, err)
	}

	return nil
}
