package input

import (
	"fmt"

	evdev "github.com/holoplot/go-evdev"
)

// FindPointerPath returns the first input device reporting relative X motion.
func FindPointerPath() (string, error) {
	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return "", fmt.Errorf("list input devices: %w", err)
	}
	for _, p := range paths {
		dev, err := evdev.Open(p.Path)
		if err != nil {
			continue
		}
		ok := hasCode(dev.CapableEvents(evdev.EV_REL), evdev.REL_X)
		dev.Close() //nolint:errcheck
		if ok {
			return p.Path, nil
		}
	}
	return "", fmt.Errorf("no relative pointing device found")
}

// FindKeyboardPaths returns every device that looks like a physical keyboard:
// it reports both KEY_A and KEY_ENTER.
func FindKeyboardPaths() ([]string, error) {
	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return nil, fmt.Errorf("list input devices: %w", err)
	}
	var out []string
	for _, p := range paths {
		dev, err := evdev.Open(p.Path)
		if err != nil {
			continue
		}
		codes := dev.CapableEvents(evdev.EV_KEY)
		ok := hasCode(codes, evdev.KEY_A) && hasCode(codes, evdev.KEY_ENTER)
		dev.Close() //nolint:errcheck
		if ok {
			out = append(out, p.Path)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no keyboard device found")
	}
	return out, nil
}

func hasCode(codes []evdev.EvCode, want evdev.EvCode) bool {
	for _, c := range codes {
		if c == want {
			return true
		}
	}
	return false
}
