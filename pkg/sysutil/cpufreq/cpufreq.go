// Package cpufreq adapts the CPU frequency governor and Intel energy
// performance bias sysfs nodes the performance shared-state manager
// mutates.
package cpufreq

import (
	"fmt"
	"os"
	"strings"
)

// sysfsRoot is a var so tests can point it at a fixture tree instead of
// the real /sys.
var sysfsRoot = "/sys" //nolint:gochecknoglobals

const (
	governorPathFmt = "/devices/system/cpu/cpu%d/cpufreq/scaling_governor"
	epbPathFmt      = "/devices/system/cpu/cpu%d/power/energy_perf_bias"

	// PerformanceGovernor is the governor value cpu.performance writes.
	PerformanceGovernor = "performance"
	// PerformanceEPB is the energy_perf_bias value cpu.performance writes.
	PerformanceEPB = "0"
)

// Governor reads a CPU's current scaling governor.
func Governor(cpu int) (string, error) {
	data, err := os.ReadFile(sysfsRoot + fmt.Sprintf(governorPathFmt, cpu)) //nolint:gosec
	if err != nil {
		return "", fmt.Errorf("failed to read governor for cpu%d: %w", cpu, err)
	}

	return strings.TrimSpace(string(data)), nil
}

// SetGovernor writes a CPU's scaling governor.
func SetGovernor(cpu int, governor string) error {
	path := sysfsRoot + fmt.Sprintf(governorPathFmt, cpu)
	if err := os.WriteFile(path, []byte(governor), 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write governor for cpu%d: %w", cpu, err)
	}

	return nil
}

// HasEPB reports whether the Intel energy_perf_bias node exists for cpu.
// Not every CPU exposes it (AMD systems and some Intel ones without
// intel_pstate active), so callers must probe before capturing/writing.
func HasEPB(cpu int) bool {
	_, err := os.Stat(sysfsRoot + fmt.Sprintf(epbPathFmt, cpu))
	return err == nil
}

// EPB reads a CPU's current energy_perf_bias value.
func EPB(cpu int) (string, error) {
	data, err := os.ReadFile(sysfsRoot + fmt.Sprintf(epbPathFmt, cpu)) //nolint:gosec
	if err != nil {
		return "", fmt.Errorf("failed to read epb for cpu%d: %w", cpu, err)
	}

	return strings.TrimSpace(string(data)), nil
}

// SetEPB writes a CPU's energy_perf_bias value.
func SetEPB(cpu int, value string) error {
	path := sysfsRoot + fmt.Sprintf(epbPathFmt, cpu)
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write epb for cpu%d: %w", cpu, err)
	}

	return nil
}
