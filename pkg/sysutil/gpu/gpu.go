// Package gpu adapts vendor-specific GPU power-mode tooling (NVIDIA via
// nvidia-smi/nvidia-settings, AMD via the power_dpm_force_performance_level
// sysfs node) behind one Adapter interface, with probing and fallback
// between vendors.
package gpu

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/guapow/opt/internal/osexec"
)

// Vendor identifies which tooling an Adapter drives.
type Vendor string

// Recognized Vendor values.
const (
	NVIDIA Vendor = "nvidia"
	AMD    Vendor = "amd"
)

// Adapter drives one GPU's power mode.
type Adapter interface {
	Vendor() Vendor
	ID() string
	Connected() bool
	CurrentMode() (string, error)
	SetPerformance() error
	Restore(original string) error
}

// runner abstracts subprocess execution so NVIDIA probing/driving is
// testable without nvidia-smi/nvidia-settings present.
type runner func(cmd string, args []string, env []string) ([]byte, error)

var defaultRunner runner = osexec.Execute //nolint:gochecknoglobals

// sysfsRoot is a var so AMD sysfs access is testable against a fixture
// tree instead of the real /sys.
var sysfsRoot = "/sys" //nolint:gochecknoglobals

// Probe lists the available GPUs, preferring NVIDIA (detected via
// `nvidia-smi -L`) and falling back to AMD sysfs cards under
// /sys/class/drm. When ids is non-empty only those logical ids are kept,
// implementing the `gpu.id` allow-list. When onlyConnected is true, AMD
// adapters with no connected output are dropped (`gpu.only_connected`);
// NVIDIA GPUs have no equivalent in this model and are always kept. When
// vendor is non-empty it forces probing (and skips the other vendor
// entirely) per `gpu.vendor`, instead of the default NVIDIA-first
// auto-detection.
func Probe(ids []int, onlyConnected bool, vendor Vendor) ([]Adapter, error) {
	var (
		adapters []Adapter
		err      error
	)

	switch vendor {
	case AMD:
		adapters, err = probeAMD()
	case NVIDIA:
		adapters, err = probeNVIDIA()
	default:
		adapters, err = probeNVIDIA()
		if err == nil && len(adapters) == 0 {
			adapters, err = probeAMD()
		}
	}

	if err != nil {
		return nil, err
	}

	adapters = filterByID(adapters, ids)

	if onlyConnected {
		var connected []Adapter

		for _, a := range adapters {
			if a.Vendor() != AMD || a.Connected() {
				connected = append(connected, a)
			}
		}

		adapters = connected
	}

	return adapters, nil
}

func filterByID(adapters []Adapter, ids []int) []Adapter {
	if len(ids) == 0 {
		return adapters
	}

	allowed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		allowed[strconv.Itoa(id)] = struct{}{}
	}

	var out []Adapter

	for _, a := range adapters {
		if _, ok := allowed[a.ID()]; ok {
			out = append(out, a)
		}
	}

	return out
}

func probeNVIDIA() ([]Adapter, error) {
	out, err := defaultRunner("nvidia-smi", []string{"-L"}, nil)
	if err != nil {
		return nil, nil //nolint:nilerr // nvidia-smi absent or no NVIDIA GPU, fall through to AMD
	}

	var adapters []Adapter

	for i, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		adapters = append(adapters, &nvidiaAdapter{id: strconv.Itoa(i)})
	}

	return adapters, nil
}

func probeAMD() ([]Adapter, error) {
	entries, err := os.ReadDir(sysfsRoot + "/class/drm")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list drm devices: %w", err)
	}

	var adapters []Adapter

	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "card") || strings.Contains(name, "-") {
			continue
		}

		perfPath := sysfsRoot + "/class/drm/" + name + "/device/power_dpm_force_performance_level"
		if _, err := os.Stat(perfPath); err != nil {
			continue
		}

		adapters = append(adapters, &amdAdapter{
			id:       strings.TrimPrefix(name, "card"),
			cardName: name,
		})
	}

	return adapters, nil
}
