package session

import (
	"log/slog"

	"github.com/guapow/opt/pkg/settings"
	"github.com/guapow/opt/pkg/sharedstate"
	"github.com/guapow/opt/pkg/sysutil/gpu"
	"github.com/jellydator/ttlcache/v3"
)

// gpuMapKey is the single entry the GPU Map memoizes under: the adapter
// set selected by gpu.id/gpu.only_connected never changes at runtime, so
// one key covers the whole daemon lifetime.
const gpuMapKey = "adapters"

// gpuMap is the daemon's view of the machine's GPU adapters, with three
// refresh policies: probed on every request (gpu.cache=false), probed
// lazily on the first request (gpu.cache=true under a system service,
// where vendor tooling may not be ready at boot), or pre-warmed at
// startup (gpu.cache=true otherwise, via warm).
type gpuMap struct {
	probe  func() ([]gpu.Adapter, error)
	logger *slog.Logger

	cache *ttlcache.Cache[string, []gpu.Adapter] // nil when gpu.cache=false
}

func newGPUMap(cfg *settings.Settings, logger *slog.Logger) *gpuMap {
	m := &gpuMap{
		probe: func() ([]gpu.Adapter, error) {
			return gpu.Probe(cfg.GPUID, cfg.GPUOnlyConnected, gpu.Vendor(cfg.GPUVendor))
		},
		logger: logger,
	}

	if cfg.GPUCache {
		m.cache = ttlcache.New[string, []gpu.Adapter]()
	}

	return m
}

// adapters returns the selected adapter set, memoized for the daemon's
// lifetime when caching is enabled.
func (m *gpuMap) adapters() ([]gpu.Adapter, error) {
	if m.cache == nil {
		return m.probe()
	}

	if item := m.cache.Get(gpuMapKey); item != nil {
		return item.Value(), nil
	}

	adapters, err := m.probe()
	if err != nil {
		return nil, err
	}

	m.cache.Set(gpuMapKey, adapters, ttlcache.NoTTL)

	if m.logger != nil {
		m.logger.Debug("gpu map cached", "adapters", len(adapters))
	}

	return adapters, nil
}

// warm eagerly populates the cached adapter set so the first request
// doesn't pay for vendor probing. A no-op when caching is disabled; a
// failed probe is logged and left for the first request to retry.
func (m *gpuMap) warm() {
	if m.cache == nil {
		return
	}

	if _, err := m.adapters(); err != nil && m.logger != nil {
		m.logger.Warn("failed to pre-warm gpu map", "err", err)
	}
}

// newGPUManager builds the shared-state manager backing `gpu.performance`
// on top of the GPU Map. Each adapter's current mode is always read fresh
// at capture time regardless of map caching, since a cached adapter
// handle's live mode can have drifted.
func newGPUManager(m *gpuMap) *sharedstate.Manager[map[string]string] {
	return sharedstate.NewGPUManager(m.adapters)
}
