package sharedstate

import "github.com/guapow/opt/pkg/sysutil/gpu"

// NewGPUManager builds the shared-state manager backing `gpu.performance`
// on top of an adapter probe, called on every empty->non-empty
// transition. Callers honoring `gpu.cache` pass a memoizing probe (the
// GPU Map) instead of one that hits vendor tooling every time. Current
// mode is always read fresh regardless of caching, since a cached
// adapter handle's live mode can still have drifted.
func NewGPUManager(probe func() ([]gpu.Adapter, error)) *Manager[map[string]string] {
	var adapters []gpu.Adapter

	capture := func() (map[string]string, error) {
		probed, err := probe()
		if err != nil {
			return nil, err
		}

		adapters = probed

		original := make(map[string]string, len(probed))

		for _, a := range probed {
			mode, err := a.CurrentMode()
			if err != nil {
				return nil, err
			}

			original[a.ID()] = mode
		}

		return original, nil
	}

	apply := func() error {
		for _, a := range adapters {
			if err := a.SetPerformance(); err != nil {
				return err
			}
		}

		return nil
	}

	restore := func(original map[string]string) error {
		for _, a := range adapters {
			mode, ok := original[a.ID()]
			if !ok {
				continue
			}

			if err := a.Restore(mode); err != nil {
				return err
			}
		}

		return nil
	}

	return NewManager(capture, apply, restore)
}
