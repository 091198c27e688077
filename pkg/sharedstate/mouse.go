package sharedstate

import "github.com/guapow/opt/pkg/sysutil/mouse"

// NewMouseManager builds the shared-state manager backing `mouse.hidden`:
// spawn unclutter on first acquire, kill it on last release. There is no
// "original value" to capture: the prior state is simply pointer
// visibility, which resumes the instant unclutter is killed.
func NewMouseManager() *Manager[struct{}] {
	var hider *mouse.Hider

	capture := func() (struct{}, error) { return struct{}{}, nil }

	apply := func() error {
		h, err := mouse.Hide()
		if err != nil {
			return err
		}

		hider = h

		return nil
	}

	restore := func(struct{}) error {
		if hider == nil {
			return nil
		}

		return hider.Show()
	}

	return NewManager(capture, apply, restore)
}
