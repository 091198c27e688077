package cpufreq

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withFixtureRoot(t *testing.T) {
	t.Helper()

	orig := sysfsRoot
	root := t.TempDir()
	sysfsRoot = root

	t.Cleanup(func() { sysfsRoot = orig })

	require.NoError(t, os.MkdirAll(filepath.Join(root, "devices/system/cpu/cpu0/cpufreq"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "devices/system/cpu/cpu0/power"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(root, "devices/system/cpu/cpu0/cpufreq/scaling_governor"),
		[]byte("powersave\n"), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(root, "devices/system/cpu/cpu0/power/energy_perf_bias"),
		[]byte("6\n"), 0o644))
}

func TestGovernorRoundTrip(t *testing.T) {
	withFixtureRoot(t)

	g, err := Governor(0)
	require.NoError(t, err)
	assert.Equal(t, "powersave", g)

	require.NoError(t, SetGovernor(0, PerformanceGovernor))

	g, err = Governor(0)
	require.NoError(t, err)
	assert.Equal(t, PerformanceGovernor, g)
}

func TestEPBRoundTrip(t *testing.T) {
	withFixtureRoot(t)

	assert.True(t, HasEPB(0))

	v, err := EPB(0)
	require.NoError(t, err)
	assert.Equal(t, "6", v)

	require.NoError(t, SetEPB(0, PerformanceEPB))

	v, err = EPB(0)
	require.NoError(t, err)
	assert.Equal(t, PerformanceEPB, v)
}

func TestHasEPBFalseWhenMissing(t *testing.T) {
	withFixtureRoot(t)
	assert.False(t, HasEPB(1))
}
