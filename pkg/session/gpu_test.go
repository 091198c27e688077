package session

import (
	"errors"
	"testing"

	"github.com/guapow/opt/pkg/settings"
	"github.com/guapow/opt/pkg/sysutil/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct{ id string }

func (f fakeAdapter) Vendor() gpu.Vendor           { return gpu.AMD }
func (f fakeAdapter) ID() string                   { return f.id }
func (f fakeAdapter) Connected() bool              { return true }
func (f fakeAdapter) CurrentMode() (string, error) { return "auto", nil }
func (f fakeAdapter) SetPerformance() error        { return nil }
func (f fakeAdapter) Restore(string) error         { return nil }

func countingProbe(probes *int) func() ([]gpu.Adapter, error) {
	return func() ([]gpu.Adapter, error) {
		*probes++

		return []gpu.Adapter{fakeAdapter{id: "0"}}, nil
	}
}

func TestGPUMapUncachedProbesEveryCall(t *testing.T) {
	m := newGPUMap(settings.Default(), nil) // gpu.cache=false by default

	probes := 0
	m.probe = countingProbe(&probes)

	_, err := m.adapters()
	require.NoError(t, err)

	_, err = m.adapters()
	require.NoError(t, err)

	assert.Equal(t, 2, probes)
}

func TestGPUMapCachedProbesLazilyOnce(t *testing.T) {
	cfg := settings.Default()
	cfg.GPUCache = true

	m := newGPUMap(cfg, nil)

	probes := 0
	m.probe = countingProbe(&probes)

	_, err := m.adapters()
	require.NoError(t, err)

	_, err = m.adapters()
	require.NoError(t, err)

	assert.Equal(t, 1, probes)
}

func TestGPUMapWarmPreloadsCache(t *testing.T) {
	cfg := settings.Default()
	cfg.GPUCache = true

	m := newGPUMap(cfg, nil)

	probes := 0
	m.probe = countingProbe(&probes)

	m.warm()
	assert.Equal(t, 1, probes)

	_, err := m.adapters()
	require.NoError(t, err)
	assert.Equal(t, 1, probes, "a warmed map leaves nothing for the first request to probe")
}

func TestGPUMapWarmNoopWithoutCache(t *testing.T) {
	m := newGPUMap(settings.Default(), nil)

	probes := 0
	m.probe = func() ([]gpu.Adapter, error) {
		probes++

		return nil, errors.New("boom")
	}

	m.warm()
	assert.Equal(t, 0, probes)
}
