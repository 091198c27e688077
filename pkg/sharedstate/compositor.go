package sharedstate

import "github.com/guapow/opt/pkg/sysutil/compositor"

// NewCompositorManager builds the shared-state manager backing
// `compositor.off`. If family resolves to no known Controller (no
// compositor detected, or a headless/Wayland session), the returned
// manager's Apply/Restore are no-ops so callers don't need to special
// case the absence themselves.
func NewCompositorManager(family compositor.Family) *Manager[struct{}] {
	ctrl := compositor.New(family)

	capture := func() (struct{}, error) { return struct{}{}, nil }

	apply := func() error {
		if ctrl == nil {
			return nil
		}

		return ctrl.Disable()
	}

	restore := func(struct{}) error {
		if ctrl == nil {
			return nil
		}

		return ctrl.Enable()
	}

	return NewManager(capture, apply, restore)
}
