// Package compositor adapts the family-specific window compositor
// enable/disable tooling (kwin, xfwm4, marco, compton/picom, compiz,
// nvidia) behind one Controller interface.
package compositor

import (
	"fmt"
	"strings"

	"github.com/guapow/opt/internal/osexec"
)

// Family identifies a desktop compositor implementation.
type Family string

// Recognized Family values. None means no compositor was detected (or
// the desktop runs without one, e.g. a bare window manager).
const (
	None    Family = ""
	KWin    Family = "kwin"
	Xfwm4   Family = "xfwm4"
	Marco   Family = "marco"
	Compton Family = "compton"
	Picom   Family = "picom"
	Compiz  Family = "compiz"
	Nvidia  Family = "nvidia"
)

type runner func(cmd string, args []string, env []string) ([]byte, error)

var defaultRunner runner = osexec.Execute //nolint:gochecknoglobals

// Controller disables and re-enables one detected compositor family.
type Controller interface {
	Family() Family
	Disable() error
	Enable() error
}

// Detect probes running processes via `inxi -Sx` for a known compositor
// family. It is meant to run once per daemon lifetime; callers that
// already have `compositor=` configured should skip calling it.
func Detect() (Family, error) {
	out, err := defaultRunner("inxi", []string{"-Sx"}, nil)
	if err != nil {
		return None, nil //nolint:nilerr // inxi absent or probe failed: treat as no compositor
	}

	text := strings.ToLower(string(out))

	switch {
	case strings.Contains(text, "kwin"):
		return KWin, nil
	case strings.Contains(text, "xfwm4"):
		return Xfwm4, nil
	case strings.Contains(text, "marco"):
		return Marco, nil
	case strings.Contains(text, "compton"):
		return Compton, nil
	case strings.Contains(text, "picom"):
		return Picom, nil
	case strings.Contains(text, "compiz"):
		return Compiz, nil
	case strings.Contains(text, "nvidia"):
		return Nvidia, nil
	default:
		return None, nil
	}
}

// New returns the Controller for family, or nil for None/unrecognized
// families (headless/Wayland sessions with no compositor to toggle fall
// here; the compositor manager treats a nil Controller as a silent no-op).
func New(family Family) Controller {
	switch family {
	case KWin:
		return kwinController{}
	case Xfwm4:
		return xfwm4Controller{}
	case Marco:
		return marcoController{}
	case Compton:
		return &signalController{processName: "compton"}
	case Picom:
		return &signalController{processName: "picom"}
	case Compiz:
		return compizController{}
	case Nvidia:
		return nvidiaController{}
	default:
		return nil
	}
}

func runOrWrap(action string, cmd string, args []string) error {
	if _, err := defaultRunner(cmd, args, nil); err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}

	return nil
}
